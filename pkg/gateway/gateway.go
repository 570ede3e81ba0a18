// Package gateway defines the boundary to the external scheduling engine that
// actually executes workflow graphs. The engine only records metadata; the
// scheduler behind this interface is the authority on run execution state.
package gateway

import (
	"context"
	"time"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
)

// ExternalRunState is the scheduler's five-state run vocabulary.
type ExternalRunState string

const (
	ExternalQueued    ExternalRunState = "queued"
	ExternalRunning   ExternalRunState = "running"
	ExternalSuccess   ExternalRunState = "success"
	ExternalFailed    ExternalRunState = "failed"
	ExternalCancelled ExternalRunState = "cancelled"
)

// RunStatus is the scheduler's view of one run.
type RunStatus struct {
	State     ExternalRunState
	StartedAt *time.Time
	EndedAt   *time.Time
	LogsURL   string
}

// SchedulerGateway abstracts the external scheduling engine for one
// workflow's execution graph. Calls are network-bound and must honor the
// context deadline; implementations own any retry policy.
type SchedulerGateway interface {
	// CreateGraph registers the execution graph and returns its external id.
	CreateGraph(ctx context.Context, datasetName string, schedule models.Schedule, specLocation string) (string, error)
	// TriggerRun starts a run and returns the scheduler's reference for it.
	TriggerRun(ctx context.Context, dagID, runID string, params map[string]string) (string, error)
	StopRun(ctx context.Context, dagID, runID string) error
	PauseGraph(ctx context.Context, dagID string, paused bool) error
	DeleteGraph(ctx context.Context, dagID string) error
	GetRunStatus(ctx context.Context, dagID, runID string) (RunStatus, error)
}
