package models

import (
	"fmt"
	"time"
)

type RunStatus string

const (
	PendingRunStatus   RunStatus = "PENDING"
	RunningRunStatus   RunStatus = "RUNNING"
	SuccessRunStatus   RunStatus = "SUCCESS"
	FailedRunStatus    RunStatus = "FAILED"
	CancelledRunStatus RunStatus = "CANCELLED"
	StoppingRunStatus  RunStatus = "STOPPING"
)

// Terminal reports whether the status is final. Terminal runs are never
// mutated again except for cosmetic log-URL backfill.
func (s RunStatus) Terminal() bool {
	switch s {
	case SuccessRunStatus, FailedRunStatus, CancelledRunStatus:
		return true
	}
	return false
}

type RunType string

const (
	ManualRunType    RunType = "MANUAL"
	ScheduledRunType RunType = "SCHEDULED"
	BackfillRunType  RunType = "BACKFILL"
)

// WorkflowRun is one execution attempt of a workflow. It references the
// workflow by dataset name; runs are looked up by key, never loaded as a
// collection owned by the workflow.
type WorkflowRun struct {
	RunID       string     `json:"run_id" db:"run_id"`
	DatasetName string     `json:"dataset_name" db:"dataset_name"`
	Status      RunStatus  `json:"status" db:"status"`
	RunType     RunType    `json:"run_type" db:"run_type"`
	TriggeredBy string     `json:"triggered_by" db:"triggered_by"`
	Params      string     `json:"params,omitempty" db:"params"` // JSON-encoded key/value payload
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	StopReason  string     `json:"stop_reason,omitempty" db:"stop_reason"`
	StoppedBy   string     `json:"stopped_by,omitempty" db:"stopped_by"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty" db:"stopped_at"`
	LogsURL     string     `json:"logs_url,omitempty" db:"logs_url"` // filled on reconciliation
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ManualRunID derives the identifier for a manually triggered run.
func ManualRunID(datasetName string, at time.Time) string {
	return fmt.Sprintf("%s__manual__%s", datasetName, at.UTC().Format("20060102T150405Z"))
}

// BackfillRunID derives the identifier for one backfill day slot. The date is
// part of the key, so re-running a backfill for the same day is idempotent at
// the scheduler.
func BackfillRunID(datasetName string, date time.Time) string {
	return fmt.Sprintf("%s__backfill__%s", datasetName, date.Format("2006-01-02"))
}
