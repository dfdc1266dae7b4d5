package dispatcher

import (
	"errors"
	"fmt"
)

// ErrSubmission marks a batch the sink rejected as a whole. It is recoverable:
// the batch is counted as failed and the run continues.
// ErrPipeline marks a failure of the pipeline itself, such as the source
// failing mid-read. It halts the run.
var (
	ErrSubmission = errors.New("submission error")
	ErrPipeline   = errors.New("pipeline error")
)

// WrapSubmission annotates err as a wholesale submission failure.
func WrapSubmission(err error) error {
	if err == nil {
		return ErrSubmission
	}
	return fmt.Errorf("%w: %w", ErrSubmission, err)
}

// WrapPipeline annotates err as a fatal pipeline failure.
func WrapPipeline(err error) error {
	if err == nil {
		return ErrPipeline
	}
	return fmt.Errorf("%w: %w", ErrPipeline, err)
}
