package workflow

import (
	"fmt"
	"strings"

	"swift/job-engine/pkg/types"
)

// TaskFailure is the recorded cause of one failed task.
type TaskFailure struct {
	TaskID string
	Task   string
	Err    error
}

func (f TaskFailure) Error() string {
	return fmt.Sprintf("task %s: %v", f.Task, f.Err)
}

func (f TaskFailure) Unwrap() error {
	return f.Err
}

// TaskFailures is returned by Run when more than one task failed.
type TaskFailures struct {
	Failures []TaskFailure
}

func (e *TaskFailures) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d tasks failed:\n  - %s", len(e.Failures), strings.Join(msgs, "\n  - "))
}

// Unwrap exposes every cause to errors.Is and errors.As.
func (e *TaskFailures) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// aggregate turns the failures of a finished engine into Run's error. A
// single WorkError is returned as is; any other single cause is wrapped in
// an ENGINE_ERROR.
func aggregate(failures []TaskFailure) error {
	switch len(failures) {
	case 0:
		return nil
	case 1:
		f := failures[0]
		if types.KindOf(f.Err) != "" {
			return f.Err
		}
		we := types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("task %s failed", f.Task), f.Err)
		we.TaskID = f.TaskID
		return we
	default:
		return &TaskFailures{Failures: failures}
	}
}
