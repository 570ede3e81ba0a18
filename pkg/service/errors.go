package service

import (
	"fmt"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
)

// The engine surfaces five error kinds. Validation outcomes (NotFound,
// AlreadyExists, InvalidArgument, InvalidState) are deterministic and never
// retried; ExternalFailure wraps a scheduler or spec-store fault.

type NotFoundError struct {
	Entity string // "workflow" or "run"
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

type AlreadyExistsError struct {
	DatasetName string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("workflow %q already registered", e.DatasetName)
}

type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError names the actual status so callers can tell why the
// transition was refused.
type InvalidStateError struct {
	Op     string
	Key    string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %q: current status is %s", e.Op, e.Key, e.Status)
}

type ExternalFailureError struct {
	System string // "scheduler" or "spec store"
	Op     string
	Err    error
}

func (e *ExternalFailureError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.System, e.Op, e.Err)
}

func (e *ExternalFailureError) Unwrap() error { return e.Err }

func invalidWorkflowState(op, key string, status models.WorkflowStatus) *InvalidStateError {
	return &InvalidStateError{Op: op, Key: key, Status: string(status)}
}

func invalidRunState(op, key string, status models.RunStatus) *InvalidStateError {
	return &InvalidStateError{Op: op, Key: key, Status: string(status)}
}
