package storage

import (
	"time"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a workflow or run key does not exist or the
// workflow is soft-deleted.
var ErrNotFound = errors.New("not found")

// WorkflowFilter narrows ListWorkflows. Nil/zero fields are not applied.
type WorkflowFilter struct {
	Status     *models.WorkflowStatus
	SourceType *models.SourceType
	Owner      string
	Limit      int
	Offset     int
}

// RunFilter narrows ListRuns. StartDate is inclusive; EndDate is end-of-day
// inclusive (the query excludes EndDate + 1 day).
type RunFilter struct {
	DatasetName string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
}

// Store defines the persistence operations for workflows and runs.
// Soft-deleted workflows are excluded from every read.
type Store interface {
	// Transaction boundary. Begin returns a transactional Store; the
	// ForUpdate reads take a row lock so the read-validate-persist sequence
	// for a given key is serialized across concurrent callers.
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow operations
	SaveWorkflow(w models.Workflow) (int64, error)
	GetWorkflow(datasetName string) (models.Workflow, error)
	GetWorkflowForUpdate(datasetName string) (models.Workflow, error)
	UpdateWorkflow(w models.Workflow) error
	ListWorkflows(f WorkflowFilter) ([]models.Workflow, error)

	// Run operations
	SaveRun(r models.WorkflowRun) error
	GetRun(runID string) (models.WorkflowRun, error)
	GetRunForUpdate(runID string) (models.WorkflowRun, error)
	UpdateRun(r models.WorkflowRun) error
	ListRuns(f RunFilter) ([]models.WorkflowRun, error)
	CountRunningRuns(datasetName string) (int, error)
}
