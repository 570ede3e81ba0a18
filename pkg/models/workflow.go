package models

import "time"

type WorkflowStatus string

const (
	ActiveWorkflowStatus   WorkflowStatus = "ACTIVE"
	PausedWorkflowStatus   WorkflowStatus = "PAUSED"
	DisabledWorkflowStatus WorkflowStatus = "DISABLED"
)

type SourceType string

const (
	ManualSourceType SourceType = "MANUAL"
	CodeSourceType   SourceType = "CODE"
)

// CanTransitionTo reports whether the workflow state machine allows moving
// from s to target. DISABLED is terminal.
func (s WorkflowStatus) CanTransitionTo(target WorkflowStatus) bool {
	switch s {
	case ActiveWorkflowStatus:
		return target == PausedWorkflowStatus || target == DisabledWorkflowStatus
	case PausedWorkflowStatus:
		return target == ActiveWorkflowStatus || target == DisabledWorkflowStatus
	default:
		return false
	}
}

// Workflow is a registered, schedulable unit of pipeline work. It is keyed by
// DatasetName ("catalog.schema.name"), unique among live rows.
type Workflow struct {
	ID             int64          `json:"id" db:"id"` // PostgreSQL auto-increment
	DatasetName    string         `json:"dataset_name" db:"dataset_name"`
	SourceType     SourceType     `json:"source_type" db:"source_type"`
	Status         WorkflowStatus `json:"status" db:"status"`
	Owner          string         `json:"owner" db:"owner"`
	Team           string         `json:"team,omitempty" db:"team"`
	Description    string         `json:"description,omitempty" db:"description"`
	SpecLocation   string         `json:"spec_location" db:"spec_location"`       // handle returned by the spec store
	SchedulerDagID string         `json:"scheduler_dag_id" db:"scheduler_dag_id"` // external engine's graph identifier
	CronExpr       string         `json:"cron_expr" db:"cron_expr"`
	Timezone       string         `json:"timezone" db:"timezone"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"` // soft-delete marker
}

// Deleted reports whether the workflow has been unregistered. Deleted rows are
// invisible to every read and do not block re-registration of the dataset name.
func (w Workflow) Deleted() bool {
	return w.DeletedAt != nil
}

// Runnable reports whether runs may be triggered for this workflow.
func (w Workflow) Runnable() bool {
	return w.Status == ActiveWorkflowStatus && !w.Deleted()
}

func (w Workflow) Schedule() Schedule {
	return Schedule{Cron: w.CronExpr, Timezone: w.Timezone}
}
