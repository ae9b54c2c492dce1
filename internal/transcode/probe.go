package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the container duration of path in seconds, or 0 when
// ffprobe reports none (some streamed containers carry no duration).
func (t *Transcoder) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-hide_banner",
		"-show_entries", "format=duration",
		"-of", "json",
		"--", path,
	}
	out, err := t.run(ctx, OpProbe, t.opts.FFprobe, args)
	if err != nil {
		return 0, err
	}

	var res probeResult
	if err := json.Unmarshal(out.Stdout, &res); err != nil {
		return 0, &Error{Op: OpProbe, Stderr: out.Stderr, Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}
	raw := strings.TrimSpace(res.Format.Duration)
	if raw == "" || raw == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &Error{Op: OpProbe, Err: fmt.Errorf("parse duration %q: %w", raw, err)}
	}
	return d, nil
}
