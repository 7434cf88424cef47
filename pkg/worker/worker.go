// Package worker consumes the work queues: the workflow worker expands triggers into jobs, the
// standard worker runs jobs and the execution log worker stores the activity trail.
package worker

import "errors"

var (
	ErrBridgeNotConfigured = errors.New("custom step has no bridge url")
	ErrUnsupportedStep     = errors.New("unsupported step type")
)

// runError is a job failure together with whether a retry may succeed.
type runError struct {
	err       error
	transient bool
}

func (e *runError) Error() string {
	return e.err.Error()
}

func (e *runError) Unwrap() error {
	return e.err
}

func permanent(err error) error {
	return &runError{err: err}
}

func transient(err error) error {
	return &runError{err: err, transient: true}
}

// isTransient reports whether a failed run should be retried. Errors not classified by the run,
// such as storage errors, are retried.
func isTransient(err error) bool {
	var re *runError
	if errors.As(err, &re) {
		return re.transient
	}

	return true
}
