package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
)

// MockGateway implements SchedulerGateway in memory and records every call so
// tests can assert exact invocation counts. Err* fields, when set, are
// returned by the corresponding operation.
type MockGateway struct {
	mu sync.Mutex

	CreateCalls  []string // dataset names
	TriggerCalls []string // run ids, in call order
	StopCalls    []string
	PauseCalls   []string
	DeleteCalls  []string
	StatusCalls  []string

	ErrCreate  error
	ErrTrigger error
	ErrStop    error
	ErrPause   error
	ErrDelete  error
	ErrStatus  error

	// TriggerErrFor fails TriggerRun only for the listed run ids.
	TriggerErrFor map[string]error
	// Statuses maps run id to the status GetRunStatus returns.
	Statuses map[string]RunStatus
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		TriggerErrFor: make(map[string]error),
		Statuses:      make(map[string]RunStatus),
	}
}

func (g *MockGateway) CreateGraph(ctx context.Context, datasetName string, schedule models.Schedule, specLocation string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CreateCalls = append(g.CreateCalls, datasetName)
	if g.ErrCreate != nil {
		return "", g.ErrCreate
	}
	return "dag__" + datasetName, nil
}

func (g *MockGateway) TriggerRun(ctx context.Context, dagID, runID string, params map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.TriggerCalls = append(g.TriggerCalls, runID)
	if g.ErrTrigger != nil {
		return "", g.ErrTrigger
	}
	if err, ok := g.TriggerErrFor[runID]; ok {
		return "", err
	}
	return fmt.Sprintf("%s/%s", dagID, runID), nil
}

func (g *MockGateway) StopRun(ctx context.Context, dagID, runID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.StopCalls = append(g.StopCalls, runID)
	return g.ErrStop
}

func (g *MockGateway) PauseGraph(ctx context.Context, dagID string, paused bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.PauseCalls = append(g.PauseCalls, fmt.Sprintf("%s:%t", dagID, paused))
	return g.ErrPause
}

func (g *MockGateway) DeleteGraph(ctx context.Context, dagID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.DeleteCalls = append(g.DeleteCalls, dagID)
	return g.ErrDelete
}

func (g *MockGateway) GetRunStatus(ctx context.Context, dagID, runID string) (RunStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.StatusCalls = append(g.StatusCalls, runID)
	if g.ErrStatus != nil {
		return RunStatus{}, g.ErrStatus
	}
	if st, ok := g.Statuses[runID]; ok {
		return st, nil
	}
	return RunStatus{State: ExternalQueued}, nil
}
