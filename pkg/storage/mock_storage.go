package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/pkg/errors"
)

// mockStore implements Store with in-memory storage. A single mutex stands in
// for the per-key row locks of the postgres implementation.
type mockStore struct {
	mu        sync.Mutex
	workflows []models.Workflow
	runs      []models.WorkflowRun
	nextID    int64
}

func NewMockStore() Store {
	return &mockStore{}
}

// Begin returns the store itself: the mock applies writes immediately and
// treats Commit/Rollback as no-ops, which is sufficient for service tests.
func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveWorkflow(w models.Workflow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	w.ID = m.nextID
	m.workflows = append(m.workflows, w)
	return w.ID, nil
}

func (m *mockStore) getWorkflow(datasetName string) (models.Workflow, error) {
	for _, w := range m.workflows {
		if w.DatasetName == datasetName && !w.Deleted() {
			return w, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *mockStore) GetWorkflow(datasetName string) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getWorkflow(datasetName)
}

func (m *mockStore) GetWorkflowForUpdate(datasetName string) (models.Workflow, error) {
	return m.GetWorkflow(datasetName)
}

func (m *mockStore) UpdateWorkflow(w models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.workflows {
		if existing.ID == w.ID {
			w.UpdatedAt = time.Now()
			m.workflows[i] = w
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListWorkflows(f WorkflowFilter) ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Workflow
	for _, w := range m.workflows {
		if w.Deleted() {
			continue
		}
		if f.Status != nil && w.Status != *f.Status {
			continue
		}
		if f.SourceType != nil && w.SourceType != *f.SourceType {
			continue
		}
		if f.Owner != "" && !strings.EqualFold(w.Owner, f.Owner) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockStore) SaveRun(r models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs {
		if existing.RunID == r.RunID {
			return errors.New("run already exists")
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *mockStore) GetRun(runID string) (models.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.RunID == runID {
			return r, nil
		}
	}
	return models.WorkflowRun{}, ErrNotFound
}

func (m *mockStore) GetRunForUpdate(runID string) (models.WorkflowRun, error) {
	return m.GetRun(runID)
}

func (m *mockStore) UpdateRun(r models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.runs {
		if existing.RunID == r.RunID {
			r.UpdatedAt = time.Now()
			m.runs[i] = r
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListRuns(f RunFilter) ([]models.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowRun
	for _, r := range m.runs {
		if f.DatasetName != "" && r.DatasetName != f.DatasetName {
			continue
		}
		if f.StartDate != nil && r.CreatedAt.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && !r.CreatedAt.Before(f.EndDate.AddDate(0, 0, 1)) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockStore) CountRunningRuns(datasetName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.runs {
		if r.DatasetName == datasetName && r.Status == models.RunningRunStatus {
			count++
		}
	}
	return count, nil
}
