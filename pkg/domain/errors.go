package domain

import (
	"errors"
	"fmt"
)

// ErrObservationCancelled is reported when a newer submission or a shutdown
// stops observation of a task before it reached a terminal status.
var ErrObservationCancelled = errors.New("observation cancelled")

// ValidationError rejects user input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// CreationError is a failed task-creation request. Detail carries the
// server-provided message verbatim when there was one.
type CreationError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *CreationError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Detail != "":
		return fmt.Sprintf("create task failed (%d): %s", e.StatusCode, e.Detail)
	case e.StatusCode > 0:
		return fmt.Sprintf("create task failed (%d)", e.StatusCode)
	case e.Err != nil:
		return "create task failed: " + e.Err.Error()
	default:
		return "create task failed"
	}
}

func (e *CreationError) Unwrap() error { return e.Err }

// PollingTransportError means the task could no longer be observed. The
// remote task itself may still be running.
type PollingTransportError struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e *PollingTransportError) Error() string {
	return fmt.Sprintf("lost observation of task %s after %d attempts: %v", e.TaskID, e.Attempts, e.Err)
}

func (e *PollingTransportError) Unwrap() error { return e.Err }

// MalformedResponseError is a response that carried no usable data at all.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

// TaskFailedError is a task the remote service reported as failed.
type TaskFailedError struct {
	TaskID  string
	Message string
}

func (e *TaskFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}
