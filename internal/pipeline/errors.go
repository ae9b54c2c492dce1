package pipeline

import "fmt"

// StageError identifies the step of a run that failed. Segment is the
// 0-based segment index, or -1 for steps that cover the whole deck
// (rasterize, probe, concat).
type StageError struct {
	Segment int
	Stage   string
	Err     error
}

func (e *StageError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("segment %d %s: %v", e.Segment, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
