package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DrPeryCox/pres-gen-new/internal/deck"
)

func newDeckCommand(ctx *commandContext) *cobra.Command {
	var inPath, outPath string

	cmd := &cobra.Command{
		Use:   "deck",
		Short: "Render a slide description (JSON) into a PDF deck",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if inPath != "" && inPath != "-" {
				f, err := os.Open(inPath)
				if err != nil {
					return fmt.Errorf("open slides: %w", err)
				}
				defer f.Close()
				in = f
			}

			doc, err := deck.Parse(in)
			if err != nil {
				return err
			}

			if dir := filepath.Dir(outPath); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
			}
			tmp := outPath + ".part"
			f, err := os.Create(tmp)
			if err != nil {
				return fmt.Errorf("create deck: %w", err)
			}
			builder := deck.NewBuilder(ctx.newLogger(cmd.ErrOrStderr()))
			if err := builder.Build(f, doc); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
			if err := f.Close(); err != nil {
				os.Remove(tmp)
				return fmt.Errorf("write deck: %w", err)
			}
			if err := os.Rename(tmp, outPath); err != nil {
				os.Remove(tmp)
				return fmt.Errorf("write deck: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d slides to %s\n", len(doc.Slides), outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inPath, "in", "i", "-", "Slide description JSON (- for stdin)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "presentation.pdf", "Destination PDF")
	return cmd
}
