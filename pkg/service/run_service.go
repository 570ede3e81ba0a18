package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/1ambda/dataops-platform-sub014/pkg/gateway"
	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/1ambda/dataops-platform-sub014/pkg/storage"
	"github.com/pkg/errors"
)

const (
	// DateParamKey is the params key carrying the backfill date slot.
	DateParamKey = "date"
	// DateLayout is the calendar-day format used by backfill ranges.
	DateLayout = "2006-01-02"

	defaultBackfillWorkers = 4
	defaultHistoryLimit    = 100
)

// BackfillStrategy selects what happens when one day of a backfill fails at
// the scheduler.
type BackfillStrategy string

const (
	// FailFastBackfill stops on the first failure; runs already triggered
	// stay persisted as PENDING for inspection.
	FailFastBackfill BackfillStrategy = "FAIL_FAST"
	// BestEffortBackfill triggers every day and reports the failed dates in
	// one aggregate error.
	BestEffortBackfill BackfillStrategy = "BEST_EFFORT"
)

// RunService owns the run state machine: trigger, backfill fan-out, stop and
// read-time reconciliation against the scheduler.
type RunService struct {
	store       storage.Store
	scheduler   gateway.SchedulerGateway
	logger      Logger
	now         func() time.Time
	callTimeout time.Duration
}

func NewRunService(store storage.Store, scheduler gateway.SchedulerGateway, logger Logger) *RunService {
	return &RunService{
		store:       store,
		scheduler:   scheduler,
		logger:      logger,
		now:         time.Now,
		callTimeout: DefaultGatewayTimeout,
	}
}

// WithClock replaces the time source; used by tests.
func (s *RunService) WithClock(now func() time.Time) *RunService {
	s.now = now
	return s
}

// Trigger starts a manual run. The workflow must exist and be ACTIVE; no
// scheduler call is made otherwise. The run is persisted only after the
// scheduler accepted it.
func (s *RunService) Trigger(ctx context.Context, datasetName string, params map[string]string, triggeredBy string) (run models.WorkflowRun, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.WorkflowRun{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	wf, err := txStore.GetWorkflowForUpdate(datasetName)
	if err != nil {
		return models.WorkflowRun{}, mapWorkflowErr(datasetName, err)
	}
	if !wf.Runnable() {
		return models.WorkflowRun{}, invalidWorkflowState("trigger", datasetName, wf.Status)
	}

	now := s.now()
	run = models.WorkflowRun{
		RunID:       models.ManualRunID(datasetName, now),
		DatasetName: datasetName,
		Status:      models.PendingRunStatus,
		RunType:     models.ManualRunType,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if run.Params, err = encodeParams(params); err != nil {
		return models.WorkflowRun{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if _, err = s.scheduler.TriggerRun(callCtx, wf.SchedulerDagID, run.RunID, params); err != nil {
		return models.WorkflowRun{}, &ExternalFailureError{System: "scheduler", Op: "trigger run", Err: err}
	}

	if err = txStore.SaveRun(run); err != nil {
		return models.WorkflowRun{}, err
	}
	s.logger.Infof("Triggered run '%s' for workflow '%s'", run.RunID, datasetName)
	return run, nil
}

// BackfillRequest describes a historical date-range re-run.
type BackfillRequest struct {
	DatasetName string
	StartDate   string // inclusive, YYYY-MM-DD
	EndDate     string // inclusive, YYYY-MM-DD
	Params      map[string]string
	Parallel    bool
	Strategy    BackfillStrategy
	TriggeredBy string
}

func (r BackfillRequest) dates() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, &InvalidArgumentError{Field: "start date", Reason: "must be YYYY-MM-DD"}
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, &InvalidArgumentError{Field: "end date", Reason: "must be YYYY-MM-DD"}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, &InvalidArgumentError{Field: "date range", Reason: "end date precedes start date"}
	}
	return start, end, nil
}

// Backfill expands the inclusive date range into one run per calendar day and
// triggers each at the scheduler. Parallel fan-out is bounded by the worker
// pool; outcomes are collected ordered by date either way. Runs are returned
// for the days the scheduler accepted, even when the whole call errors.
func (s *RunService) Backfill(ctx context.Context, req BackfillRequest) ([]models.WorkflowRun, error) {
	start, end, err := req.dates()
	if err != nil {
		return nil, err
	}
	if req.Strategy == "" {
		req.Strategy = FailFastBackfill
	}

	// The workflow row is read without a lock: holding it across N network
	// calls would serialize unrelated writers for the whole fan-out.
	wf, err := s.store.GetWorkflow(req.DatasetName)
	if err != nil {
		return nil, mapWorkflowErr(req.DatasetName, err)
	}
	if !wf.Runnable() {
		return nil, invalidWorkflowState("backfill", req.DatasetName, wf.Status)
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}

	runs := make([]models.WorkflowRun, len(days))
	triggered := make([]bool, len(days))
	trigger := func(jobCtx context.Context, i int) error {
		date := days[i]
		params := mergeParams(req.Params, DateParamKey, date.Format(DateLayout))
		now := s.now()
		run := models.WorkflowRun{
			RunID:       models.BackfillRunID(req.DatasetName, date),
			DatasetName: req.DatasetName,
			Status:      models.PendingRunStatus,
			RunType:     models.BackfillRunType,
			TriggeredBy: req.TriggeredBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		var encErr error
		if run.Params, encErr = encodeParams(params); encErr != nil {
			return encErr
		}

		callCtx, cancel := context.WithTimeout(jobCtx, s.callTimeout)
		defer cancel()
		if _, err := s.scheduler.TriggerRun(callCtx, wf.SchedulerDagID, run.RunID, params); err != nil {
			return &ExternalFailureError{System: "scheduler", Op: "trigger backfill " + date.Format(DateLayout), Err: err}
		}
		if err := s.store.SaveRun(run); err != nil {
			return err
		}
		runs[i] = run
		triggered[i] = true
		return nil
	}

	workers := 1
	if req.Parallel {
		workers = defaultBackfillWorkers
	}
	pool := NewWorkerPool(workers, s.logger)
	errs := pool.Dispatch(ctx, len(days), req.Strategy == FailFastBackfill, trigger)

	var out []models.WorkflowRun
	for i := range days {
		if triggered[i] {
			out = append(out, runs[i])
		}
	}

	// A cancelled caller context must surface even though fail-fast skips the
	// pool's own cancellation markers below.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, errors.Wrap(ctxErr, "backfill interrupted")
	}

	switch req.Strategy {
	case BestEffortBackfill:
		var failed []string
		var firstErr error
		for i, jobErr := range errs {
			if jobErr != nil {
				failed = append(failed, days[i].Format(DateLayout))
				if firstErr == nil {
					firstErr = jobErr
				}
			}
		}
		if firstErr != nil {
			return out, errors.Wrapf(firstErr, "backfill failed for days %v", failed)
		}
	default:
		for _, jobErr := range errs {
			if jobErr != nil && !errors.Is(jobErr, context.Canceled) {
				return out, jobErr
			}
		}
	}
	s.logger.Infof("Backfilled %d day(s) for workflow '%s' [%s..%s]", len(out), req.DatasetName, req.StartDate, req.EndDate)
	return out, nil
}

// Stop requests a stop at the scheduler and marks the run STOPPING. The
// terminal status is set later by reconciliation, not here.
func (s *RunService) Stop(ctx context.Context, runID, reason, stoppedBy string) (run models.WorkflowRun, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.WorkflowRun{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	run, err = txStore.GetRunForUpdate(runID)
	if err != nil {
		return models.WorkflowRun{}, mapRunErr(runID, err)
	}
	if run.Status.Terminal() {
		return models.WorkflowRun{}, invalidRunState("stop", runID, run.Status)
	}

	wf, err := txStore.GetWorkflow(run.DatasetName)
	if err != nil {
		return models.WorkflowRun{}, mapWorkflowErr(run.DatasetName, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err = s.scheduler.StopRun(callCtx, wf.SchedulerDagID, runID); err != nil {
		return models.WorkflowRun{}, &ExternalFailureError{System: "scheduler", Op: "stop run", Err: err}
	}

	now := s.now()
	run.Status = models.StoppingRunStatus
	run.StopReason = reason
	run.StoppedBy = stoppedBy
	run.StoppedAt = &now
	run.UpdatedAt = now
	if err = txStore.UpdateRun(run); err != nil {
		return models.WorkflowRun{}, err
	}
	s.logger.Infof("Stopping run '%s' by '%s': %s", runID, stoppedBy, reason)
	return run, nil
}

// GetRunWithSync loads a run and, unless it is already terminal, refreshes
// its status from the scheduler. Reconciliation fails open: if the scheduler
// is unreachable the last known local state is returned unchanged.
func (s *RunService) GetRunWithSync(ctx context.Context, runID string) (models.WorkflowRun, error) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		return models.WorkflowRun{}, mapRunErr(runID, err)
	}
	if run.Status.Terminal() {
		return run, nil
	}

	wf, err := s.store.GetWorkflow(run.DatasetName)
	if err != nil {
		s.logger.Errorf("Reconciliation skipped for run '%s': workflow lookup failed: %v", runID, err)
		return run, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	ext, err := s.scheduler.GetRunStatus(callCtx, wf.SchedulerDagID, runID)
	if err != nil {
		s.logger.Errorf("Reconciliation failed for run '%s', returning last known status %s: %v", runID, run.Status, err)
		return run, nil
	}

	mapped, err := MapExternalState(ext.State)
	if err != nil {
		s.logger.Errorf("Reconciliation failed for run '%s': %v", runID, err)
		return run, nil
	}

	// A STOPPING run stays STOPPING until the scheduler reports a terminal
	// state.
	if run.Status == models.StoppingRunStatus && !mapped.Terminal() {
		mapped = models.StoppingRunStatus
	}

	run.Status = mapped
	if ext.StartedAt != nil {
		run.StartedAt = ext.StartedAt
	}
	if ext.EndedAt != nil {
		run.EndedAt = ext.EndedAt
	}
	if ext.LogsURL != "" {
		run.LogsURL = ext.LogsURL
	}
	run.UpdatedAt = s.now()
	if err := s.store.UpdateRun(run); err != nil {
		return models.WorkflowRun{}, err
	}
	return run, nil
}

// ListRunHistory returns run history, newest first. The end date filter is
// end-of-day inclusive.
func (s *RunService) ListRunHistory(f storage.RunFilter) ([]models.WorkflowRun, error) {
	if f.Limit <= 0 {
		f.Limit = defaultHistoryLimit
	}
	return s.store.ListRuns(f)
}

// MapExternalState maps the scheduler's five-state vocabulary onto the local
// run statuses. The mapping is exhaustive: an unknown external state is an
// error, never a silent no-op.
func MapExternalState(state gateway.ExternalRunState) (models.RunStatus, error) {
	switch state {
	case gateway.ExternalQueued:
		return models.PendingRunStatus, nil
	case gateway.ExternalRunning:
		return models.RunningRunStatus, nil
	case gateway.ExternalSuccess:
		return models.SuccessRunStatus, nil
	case gateway.ExternalFailed:
		return models.FailedRunStatus, nil
	case gateway.ExternalCancelled:
		return models.CancelledRunStatus, nil
	default:
		return "", errors.Errorf("unmapped external run state %q", state)
	}
}

func mapRunErr(runID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{Entity: "run", Key: runID}
	}
	return err
}

func encodeParams(params map[string]string) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", &InvalidArgumentError{Field: "params", Reason: err.Error()}
	}
	return string(raw), nil
}

func mergeParams(params map[string]string, key, value string) map[string]string {
	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged[key] = value
	return merged
}
