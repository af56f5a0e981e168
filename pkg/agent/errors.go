package agent

import (
	"errors"
	"fmt"
)

// ErrTurnInProgress is returned when a turn starts while another turn of the
// same agent is still streaming.
var ErrTurnInProgress = errors.New("a turn is already in progress")

// UpstreamGenerationError wraps a failure of the model stream after the turn
// started. Sentences delivered before it stand; memory is not updated.
type UpstreamGenerationError struct {
	Err error
}

func (e *UpstreamGenerationError) Error() string {
	return fmt.Sprintf("upstream generation failed: %v", e.Err)
}

func (e *UpstreamGenerationError) Unwrap() error {
	return e.Err
}
