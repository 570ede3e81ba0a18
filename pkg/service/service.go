package service

import (
	"context"
	"strings"
	"time"

	"github.com/1ambda/dataops-platform-sub014/pkg/gateway"
	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/1ambda/dataops-platform-sub014/pkg/specstore"
	"github.com/1ambda/dataops-platform-sub014/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for the engine services.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const (
	// DefaultGatewayTimeout bounds every scheduler/spec-store call.
	DefaultGatewayTimeout = 30 * time.Second
)

// WorkflowService owns the workflow state machine: registration, pause /
// unpause toggling and unregistration. It is stateless between calls; the
// store is the sole source of truth.
type WorkflowService struct {
	store       storage.Store
	scheduler   gateway.SchedulerGateway
	specs       specstore.SpecStore
	logger      Logger
	now         func() time.Time
	callTimeout time.Duration
}

func NewWorkflowService(store storage.Store, scheduler gateway.SchedulerGateway, specs specstore.SpecStore, logger Logger) *WorkflowService {
	return &WorkflowService{
		store:       store,
		scheduler:   scheduler,
		specs:       specs,
		logger:      logger,
		now:         time.Now,
		callTimeout: DefaultGatewayTimeout,
	}
}

// WithClock replaces the time source. Used by tests for deterministic
// timestamps and run ids.
func (s *WorkflowService) WithClock(now func() time.Time) *WorkflowService {
	s.now = now
	return s
}

// RegisterRequest carries everything needed to register a workflow.
type RegisterRequest struct {
	DatasetName string
	SourceType  models.SourceType
	Schedule    models.Schedule
	Owner       string
	Team        string
	Description string
	SpecText    string
}

func (r RegisterRequest) validate() error {
	parts := strings.Split(r.DatasetName, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return &InvalidArgumentError{Field: "dataset name", Reason: "must be catalog.schema.name"}
	}
	if r.SourceType != models.ManualSourceType && r.SourceType != models.CodeSourceType {
		return &InvalidArgumentError{Field: "source type", Reason: "must be MANUAL or CODE"}
	}
	if r.Owner == "" {
		return &InvalidArgumentError{Field: "owner", Reason: "is required"}
	}
	if r.SpecText == "" {
		return &InvalidArgumentError{Field: "spec", Reason: "is required"}
	}
	if err := r.Schedule.Validate(); err != nil {
		return &InvalidArgumentError{Field: "schedule", Reason: err.Error()}
	}
	return nil
}

// Register persists the spec, creates the execution graph at the scheduler
// and stores the workflow as ACTIVE. On any external failure no workflow row
// becomes visible; a spec persisted before a graph-creation failure is
// deleted again rather than left orphaned.
func (s *WorkflowService) Register(ctx context.Context, req RegisterRequest) (wf models.Workflow, err error) {
	if err := req.validate(); err != nil {
		return models.Workflow{}, err
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return models.Workflow{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	// Uniqueness among live rows only: a soft-deleted dataset may be
	// re-registered.
	_, err = txStore.GetWorkflowForUpdate(req.DatasetName)
	if err == nil {
		return models.Workflow{}, &AlreadyExistsError{DatasetName: req.DatasetName}
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Workflow{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	specLocation, err := s.specs.Save(callCtx, req.DatasetName, req.SourceType, req.SpecText)
	if err != nil {
		return models.Workflow{}, &ExternalFailureError{System: "spec store", Op: "save", Err: err}
	}

	dagID, err := s.scheduler.CreateGraph(callCtx, req.DatasetName, req.Schedule, specLocation)
	if err != nil {
		if delErr := s.specs.Delete(callCtx, specLocation); delErr != nil {
			s.logger.Errorf("Failed to clean up spec %s after graph creation failure: %v", specLocation, delErr)
		}
		return models.Workflow{}, &ExternalFailureError{System: "scheduler", Op: "create graph", Err: err}
	}

	now := s.now()
	wf = models.Workflow{
		DatasetName:    req.DatasetName,
		SourceType:     req.SourceType,
		Status:         models.ActiveWorkflowStatus,
		Owner:          req.Owner,
		Team:           req.Team,
		Description:    req.Description,
		SpecLocation:   specLocation,
		SchedulerDagID: dagID,
		CronExpr:       req.Schedule.Cron,
		Timezone:       req.Schedule.Timezone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	wf.ID, err = txStore.SaveWorkflow(wf)
	if err != nil {
		return models.Workflow{}, err
	}
	s.logger.Infof("Registered workflow '%s' with dag '%s'", wf.DatasetName, dagID)
	return wf, nil
}

// Pause moves an ACTIVE workflow to PAUSED after pausing its graph at the
// scheduler.
func (s *WorkflowService) Pause(ctx context.Context, datasetName, reason, by string) (models.Workflow, error) {
	wf, err := s.togglePause(ctx, datasetName, true)
	if err != nil {
		return models.Workflow{}, err
	}
	s.logger.Infof("Paused workflow '%s' by '%s': %s", datasetName, by, reason)
	return wf, nil
}

// Unpause moves a PAUSED workflow back to ACTIVE.
func (s *WorkflowService) Unpause(ctx context.Context, datasetName, by string) (models.Workflow, error) {
	wf, err := s.togglePause(ctx, datasetName, false)
	if err != nil {
		return models.Workflow{}, err
	}
	s.logger.Infof("Unpaused workflow '%s' by '%s'", datasetName, by)
	return wf, nil
}

func (s *WorkflowService) togglePause(ctx context.Context, datasetName string, pause bool) (wf models.Workflow, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.Workflow{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	wf, err = txStore.GetWorkflowForUpdate(datasetName)
	if err != nil {
		return models.Workflow{}, mapWorkflowErr(datasetName, err)
	}

	op, required, target := "pause", models.ActiveWorkflowStatus, models.PausedWorkflowStatus
	if !pause {
		op, required, target = "unpause", models.PausedWorkflowStatus, models.ActiveWorkflowStatus
	}
	if wf.Status != required {
		return models.Workflow{}, invalidWorkflowState(op, datasetName, wf.Status)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err := s.scheduler.PauseGraph(callCtx, wf.SchedulerDagID, pause); err != nil {
		return models.Workflow{}, &ExternalFailureError{System: "scheduler", Op: op + " graph", Err: err}
	}

	wf.Status = target
	wf.UpdatedAt = s.now()
	if err = txStore.UpdateWorkflow(wf); err != nil {
		return models.Workflow{}, err
	}
	return wf, nil
}

// Unregister disables the workflow and soft-deletes it. Without force it
// aborts before any external deletion when runs are still RUNNING; with force
// the active-run check is skipped entirely. Graph and spec deletion are
// best-effort: their failure is logged and the workflow is still DISABLED.
func (s *WorkflowService) Unregister(ctx context.Context, datasetName string, force bool, by string) (wf models.Workflow, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.Workflow{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	wf, err = txStore.GetWorkflowForUpdate(datasetName)
	if err != nil {
		return models.Workflow{}, mapWorkflowErr(datasetName, err)
	}

	if !force {
		running, err := txStore.CountRunningRuns(datasetName)
		if err != nil {
			return models.Workflow{}, err
		}
		if running > 0 {
			return models.Workflow{}, &InvalidStateError{
				Op:     "unregister",
				Key:    datasetName,
				Status: string(wf.Status) + " with RUNNING runs",
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if delErr := s.scheduler.DeleteGraph(callCtx, wf.SchedulerDagID); delErr != nil {
		s.logger.Errorf("Best-effort graph deletion for '%s' failed: %v", datasetName, delErr)
	}
	if delErr := s.specs.Delete(callCtx, wf.SpecLocation); delErr != nil {
		s.logger.Errorf("Best-effort spec deletion for '%s' failed: %v", datasetName, delErr)
	}

	now := s.now()
	wf.Status = models.DisabledWorkflowStatus
	wf.DeletedAt = &now
	wf.UpdatedAt = now
	if err = txStore.UpdateWorkflow(wf); err != nil {
		return models.Workflow{}, err
	}
	s.logger.Infof("Unregistered workflow '%s' (force=%t) by '%s'", datasetName, force, by)
	return wf, nil
}

// UpdateSpec replaces the stored spec text for a live workflow.
func (s *WorkflowService) UpdateSpec(ctx context.Context, datasetName, specText string) (wf models.Workflow, err error) {
	if specText == "" {
		return models.Workflow{}, &InvalidArgumentError{Field: "spec", Reason: "is required"}
	}
	txStore, err := s.store.Begin()
	if err != nil {
		return models.Workflow{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	wf, err = txStore.GetWorkflowForUpdate(datasetName)
	if err != nil {
		return models.Workflow{}, mapWorkflowErr(datasetName, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	location, err := s.specs.Update(callCtx, wf.SpecLocation, specText)
	if err != nil {
		return models.Workflow{}, &ExternalFailureError{System: "spec store", Op: "update", Err: err}
	}

	wf.SpecLocation = location
	wf.UpdatedAt = s.now()
	if err = txStore.UpdateWorkflow(wf); err != nil {
		return models.Workflow{}, err
	}
	return wf, nil
}

// GetWorkflow fetches a live workflow by dataset name.
func (s *WorkflowService) GetWorkflow(datasetName string) (models.Workflow, error) {
	wf, err := s.store.GetWorkflow(datasetName)
	if err != nil {
		return models.Workflow{}, mapWorkflowErr(datasetName, err)
	}
	return wf, nil
}

// GetSpec reads the spec text behind a workflow.
func (s *WorkflowService) GetSpec(ctx context.Context, datasetName string) (string, error) {
	wf, err := s.store.GetWorkflow(datasetName)
	if err != nil {
		return "", mapWorkflowErr(datasetName, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	text, err := s.specs.Read(callCtx, wf.SpecLocation)
	if err != nil {
		if errors.Is(err, specstore.ErrNotFound) {
			return "", &NotFoundError{Entity: "spec", Key: wf.SpecLocation}
		}
		return "", &ExternalFailureError{System: "spec store", Op: "read", Err: err}
	}
	return text, nil
}

// ListWorkflows returns filtered, paginated live workflows.
func (s *WorkflowService) ListWorkflows(f storage.WorkflowFilter) ([]models.Workflow, error) {
	return s.store.ListWorkflows(f)
}

// finishTx commits on success and rolls back when *err is set, following the
// store's transaction idiom. A commit failure overrides a nil *err.
func finishTx(logger Logger, txStore storage.Store, err *error) {
	if *err != nil {
		if rollbackErr := txStore.Rollback(); rollbackErr != nil {
			logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, *err)
		}
		return
	}
	if commitErr := txStore.Commit(); commitErr != nil {
		logger.Errorf("Failed to commit: %v", commitErr)
		*err = commitErr
	}
}

func mapWorkflowErr(datasetName string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{Entity: "workflow", Key: datasetName}
	}
	return err
}
