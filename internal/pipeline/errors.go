package pipeline

import "fmt"

// Stage identifies a pipeline state in the processing state machine.
type Stage string

const (
	StageSynthesizing Stage = "synthesizing"
	StagePlanning     Stage = "planning"
	StageRendering    Stage = "rendering"
	StageRecombining  Stage = "recombining"
	StageDone         Stage = "done"
)

// StageError is the only error shape that reaches the caller: which stage
// failed and whether the single-pass fallback was already attempted. It wraps
// the underlying cause so callers can still test for the specific kind.
type StageError struct {
	Stage     Stage
	Escalated bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Escalated {
		return fmt.Sprintf("stage %s failed after single-pass fallback: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
