package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrStepControlsNotFound = errors.New("step controls not found")
	ErrInvalidTrigger       = errors.New("invalid trigger")
	ErrInvalidPayload       = errors.New("payload does not match the workflow schema")
	ErrTooManyEvents        = errors.New("too many events in bulk trigger")
	ErrInvalidStepMetadata  = errors.New("invalid step metadata")
	ErrNotDue               = errors.New("job is not due yet")
)

// StepError ties an expansion failure to the step that caused it.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsPermanent reports whether retrying the operation that returned err cannot succeed. A joined
// error is permanent only when every error in it is.
func IsPermanent(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		if len(errs) == 0 {
			return false
		}

		for _, e := range errs {
			if !IsPermanent(e) {
				return false
			}
		}

		return true
	}

	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrStepControlsNotFound) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrInvalidStepMetadata)
}
