// Command presgen runs the assembly pipeline and its helpers locally:
// assemble a video, render a slide deck, check the media tools, list jobs
// and write a sample configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
