package pipeline

import "fmt"

const (
	StageCapture     = "capture"
	StagePreprocess  = "preprocess"
	StageInference   = "inference"
	StagePostprocess = "postprocess"
	StageRender      = "render"
)

// ProcessingError reports which step of a cycle failed.
type ProcessingError struct {
	Stage string
	Cycle int64
	Cause error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cycle %d %s: %v", e.Cycle, e.Stage, e.Cause)
	}
	return fmt.Sprintf("cycle %d %s failed", e.Cycle, e.Stage)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}
