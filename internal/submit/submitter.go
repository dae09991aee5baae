// Package submit registers built task descriptors with a remote scheduler.
package submit

import (
	"context"
	"errors"
	"fmt"

	"decision/internal/queue"
	"decision/internal/taskgraph"
)

// Submitter hands a descriptor to the service that will run it. Submission
// is the last step of a descriptor's life; implementations never modify it
// and never retry.
type Submitter interface {
	Submit(ctx context.Context, d *taskgraph.TaskDescriptor) (Handle, error)
}

// Handle identifies a submitted task for logging.
type Handle struct {
	TaskID string
	Name   string
}

func (h Handle) String() string { return fmt.Sprintf("%s: %s", h.Name, h.TaskID) }

// ErrSubmission marks failures reported by, or on the way to, the remote service.
var ErrSubmission = errors.New("submission error")

// SubmissionError carries the service's diagnostic for one task.
type SubmissionError struct {
	Task    string
	Code    string // machine-readable reason, when the service gave one
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: task %q: %s: %s", ErrSubmission, e.Task, e.Code, msg)
	}
	return fmt.Sprintf("%s: task %q: %s", ErrSubmission, e.Task, msg)
}

func (e *SubmissionError) Unwrap() []error { return []error{ErrSubmission, e.Err} }

func submissionError(task string, err error) error {
	if err == nil {
		return nil
	}
	var existing *SubmissionError
	if errors.As(err, &existing) {
		return err
	}
	serr := &SubmissionError{Task: task, Err: err}
	var apiErr *queue.APIError
	if errors.As(err, &apiErr) {
		serr.Code = apiErr.Code
		serr.Message = apiErr.Message
	}
	return serr
}
