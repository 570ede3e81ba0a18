package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/1ambda/dataops-platform-sub014/pkg/gateway"
	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/1ambda/dataops-platform-sub014/pkg/service"
	"github.com/1ambda/dataops-platform-sub014/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func newRegisteredFixture(t *testing.T, dataset string) *fixture {
	t.Helper()
	f := newFixture()
	_, err := f.wf.Register(context.Background(), registerRequest(dataset))
	assert.NoError(t, err)
	return f
}

func TestRunService_Trigger(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		run, err := f.runs.Trigger(ctx, "lake.core.users", map[string]string{"mode": "full"}, "alice")
		assert.NoError(t, err)
		assert.Equal(t, models.PendingRunStatus, run.Status)
		assert.Equal(t, models.ManualRunType, run.RunType)
		assert.Equal(t, "lake.core.users__manual__20250601T120000Z", run.RunID)
		assert.Equal(t, "alice", run.TriggeredBy)
		assert.Contains(t, run.Params, `"mode":"full"`)

		stored, err := f.store.GetRun(run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, models.PendingRunStatus, stored.Status)
	})

	t.Run("PausedWorkflowRejectedBeforeSchedulerCall", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		_, err := f.wf.Pause(ctx, "lake.core.users", "", "alice")
		assert.NoError(t, err)

		_, err = f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		var invalidState *service.InvalidStateError
		assert.ErrorAs(t, err, &invalidState)
		assert.Contains(t, err.Error(), "PAUSED")
		assert.Empty(t, f.gw.TriggerCalls)
	})

	t.Run("UnknownWorkflow", func(t *testing.T) {
		f := newFixture()
		_, err := f.runs.Trigger(ctx, "lake.core.ghost", nil, "alice")
		var notFound *service.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("SchedulerFailureLeavesNoRun", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		f.gw.ErrTrigger = errors.New("scheduler down")

		_, err := f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		var external *service.ExternalFailureError
		assert.ErrorAs(t, err, &external)

		runs, err := f.runs.ListRunHistory(storage.RunFilter{DatasetName: "lake.core.users"})
		assert.NoError(t, err)
		assert.Len(t, runs, 0)
	})
}

func TestRunService_Backfill(t *testing.T) {
	ctx := context.Background()

	t.Run("OneRunPerDayInclusive", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		runs, err := f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.users",
			StartDate:   "2025-01-01",
			EndDate:     "2025-01-03",
			TriggeredBy: "alice",
		})
		assert.NoError(t, err)
		assert.Len(t, runs, 3)
		assert.Len(t, f.gw.TriggerCalls, 3)
		for i, date := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
			assert.Equal(t, "lake.core.users__backfill__"+date, runs[i].RunID)
			assert.Equal(t, models.BackfillRunType, runs[i].RunType)
			assert.Equal(t, models.PendingRunStatus, runs[i].Status)
			assert.Contains(t, runs[i].Params, `"date":"`+date+`"`)
		}
	})

	t.Run("SingleDayRange", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		runs, err := f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.users",
			StartDate:   "2025-01-01",
			EndDate:     "2025-01-01",
		})
		assert.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		_, err := f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.users",
			StartDate:   "2025-01-03",
			EndDate:     "2025-01-01",
		})
		var invalid *service.InvalidArgumentError
		assert.ErrorAs(t, err, &invalid)
		assert.Empty(t, f.gw.TriggerCalls)
	})

	t.Run("MalformedDate", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		_, err := f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.users",
			StartDate:   "01/01/2025",
			EndDate:     "2025-01-03",
		})
		var invalid *service.InvalidArgumentError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("PausedWorkflowRejected", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		_, err := f.wf.Pause(ctx, "lake.core.users", "", "alice")
		assert.NoError(t, err)

		_, err = f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.users",
			StartDate:   "2025-01-01",
			EndDate:     "2025-01-03",
		})
		var invalidState *service.InvalidStateError
		assert.ErrorAs(t, err, &invalidState)
		assert.Empty(t, f.gw.TriggerCalls)
	})

	t.Run("FailFastStopsAtFirstFailure", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		f.gw.TriggerErrFor["lake.core.users__backfill__2025-01-02"] = errors.New("pool exhausted")

		runs, err := f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.users",
			StartDate:   "2025-01-01",
			EndDate:     "2025-01-03",
			Strategy:    service.FailFastBackfill,
		})
		var external *service.ExternalFailureError
		assert.ErrorAs(t, err, &external)
		assert.Contains(t, err.Error(), "2025-01-02")

		// Sequential fail-fast: day one went through, day three was never
		// attempted.
		assert.Len(t, runs, 1)
		assert.Equal(t, "lake.core.users__backfill__2025-01-01", runs[0].RunID)
		assert.Len(t, f.gw.TriggerCalls, 2)

		stored, err := f.store.GetRun("lake.core.users__backfill__2025-01-01")
		assert.NoError(t, err)
		assert.Equal(t, models.PendingRunStatus, stored.Status)
	})

	t.Run("BestEffortTriggersEveryDay", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		f.gw.TriggerErrFor["lake.core.users__backfill__2025-01-02"] = errors.New("pool exhausted")

		runs, err := f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.users",
			StartDate:   "2025-01-01",
			EndDate:     "2025-01-03",
			Strategy:    service.BestEffortBackfill,
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "2025-01-02")
		assert.Len(t, runs, 2)
		assert.Equal(t, "lake.core.users__backfill__2025-01-01", runs[0].RunID)
		assert.Equal(t, "lake.core.users__backfill__2025-01-03", runs[1].RunID)
		assert.Len(t, f.gw.TriggerCalls, 3)
	})

	t.Run("CancelledContextSurfaces", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		for _, strategy := range []service.BackfillStrategy{service.FailFastBackfill, service.BestEffortBackfill} {
			runs, err := f.runs.Backfill(cancelled, service.BackfillRequest{
				DatasetName: "lake.core.users",
				StartDate:   "2025-01-01",
				EndDate:     "2025-01-03",
				Strategy:    strategy,
			})
			assert.ErrorIsf(t, err, context.Canceled, "%s", strategy)
			assert.Emptyf(t, runs, "%s", strategy)
		}
		assert.Empty(t, f.gw.TriggerCalls)
	})

	t.Run("ParallelKeepsDateOrder", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		runs, err := f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.users",
			StartDate:   "2025-01-01",
			EndDate:     "2025-01-07",
			Parallel:    true,
		})
		assert.NoError(t, err)
		assert.Len(t, runs, 7)
		for i := 1; i < len(runs); i++ {
			assert.Less(t, runs[i-1].RunID, runs[i].RunID)
		}
		assert.Len(t, f.gw.TriggerCalls, 7)
	})
}

func TestRunService_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("RunningRunMovesToStopping", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		run, err := f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		assert.NoError(t, err)
		run.Status = models.RunningRunStatus
		assert.NoError(t, f.store.UpdateRun(run))

		stopped, err := f.runs.Stop(ctx, run.RunID, "bad data", "bob")
		assert.NoError(t, err)
		assert.Equal(t, models.StoppingRunStatus, stopped.Status)
		assert.Equal(t, "bad data", stopped.StopReason)
		assert.Equal(t, "bob", stopped.StoppedBy)
		assert.NotNil(t, stopped.StoppedAt)
		assert.Len(t, f.gw.StopCalls, 1)
	})

	t.Run("TerminalRunRejected", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		run, err := f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		assert.NoError(t, err)
		run.Status = models.SuccessRunStatus
		assert.NoError(t, f.store.UpdateRun(run))

		_, err = f.runs.Stop(ctx, run.RunID, "", "bob")
		var invalidState *service.InvalidStateError
		assert.ErrorAs(t, err, &invalidState)
		assert.Contains(t, err.Error(), "SUCCESS")
		assert.Empty(t, f.gw.StopCalls)
	})

	t.Run("UnknownRun", func(t *testing.T) {
		f := newFixture()
		_, err := f.runs.Stop(ctx, "no-such-run", "", "bob")
		var notFound *service.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("SchedulerFailureLeavesStatusUnchanged", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		run, err := f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		assert.NoError(t, err)

		f.gw.ErrStop = errors.New("scheduler down")
		_, err = f.runs.Stop(ctx, run.RunID, "", "bob")
		var external *service.ExternalFailureError
		assert.ErrorAs(t, err, &external)

		stored, err := f.store.GetRun(run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, models.PendingRunStatus, stored.Status)
	})
}

func TestRunService_GetRunWithSync(t *testing.T) {
	ctx := context.Background()

	t.Run("TerminalRunSkipsScheduler", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		run, err := f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		assert.NoError(t, err)
		run.Status = models.SuccessRunStatus
		assert.NoError(t, f.store.UpdateRun(run))

		synced, err := f.runs.GetRunWithSync(ctx, run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, models.SuccessRunStatus, synced.Status)
		assert.Empty(t, f.gw.StatusCalls)
	})

	t.Run("FailsOpenWhenSchedulerUnreachable", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		run, err := f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		assert.NoError(t, err)
		run.Status = models.RunningRunStatus
		assert.NoError(t, f.store.UpdateRun(run))

		f.gw.ErrStatus = errors.New("scheduler down")
		synced, err := f.runs.GetRunWithSync(ctx, run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, models.RunningRunStatus, synced.Status)
	})

	t.Run("SyncsStateAndRunDetails", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		run, err := f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		assert.NoError(t, err)

		started := time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC)
		ended := time.Date(2025, 6, 1, 12, 9, 0, 0, time.UTC)
		f.gw.Statuses[run.RunID] = gateway.RunStatus{
			State:     gateway.ExternalSuccess,
			StartedAt: &started,
			EndedAt:   &ended,
			LogsURL:   "http://scheduler/logs/1",
		}

		synced, err := f.runs.GetRunWithSync(ctx, run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, models.SuccessRunStatus, synced.Status)
		assert.Equal(t, &started, synced.StartedAt)
		assert.Equal(t, &ended, synced.EndedAt)
		assert.Equal(t, "http://scheduler/logs/1", synced.LogsURL)

		// Second read returns the persisted terminal state without another
		// scheduler call.
		statusCalls := len(f.gw.StatusCalls)
		again, err := f.runs.GetRunWithSync(ctx, run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, models.SuccessRunStatus, again.Status)
		assert.Len(t, f.gw.StatusCalls, statusCalls)
	})

	t.Run("StoppingHoldsUntilTerminal", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		run, err := f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		assert.NoError(t, err)
		_, err = f.runs.Stop(ctx, run.RunID, "bad data", "bob")
		assert.NoError(t, err)

		f.gw.Statuses[run.RunID] = gateway.RunStatus{State: gateway.ExternalRunning}
		synced, err := f.runs.GetRunWithSync(ctx, run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, models.StoppingRunStatus, synced.Status)

		f.gw.Statuses[run.RunID] = gateway.RunStatus{State: gateway.ExternalCancelled}
		synced, err = f.runs.GetRunWithSync(ctx, run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, models.CancelledRunStatus, synced.Status)
	})

	t.Run("UnknownRun", func(t *testing.T) {
		f := newFixture()
		_, err := f.runs.GetRunWithSync(ctx, "no-such-run")
		var notFound *service.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestRunService_ListRunHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("FiltersByDataset", func(t *testing.T) {
		f := newRegisteredFixture(t, "lake.core.users")
		_, err := f.wf.Register(ctx, registerRequest("lake.core.orders"))
		assert.NoError(t, err)

		_, err = f.runs.Trigger(ctx, "lake.core.users", nil, "alice")
		assert.NoError(t, err)
		_, err = f.runs.Backfill(ctx, service.BackfillRequest{
			DatasetName: "lake.core.orders",
			StartDate:   "2025-01-01",
			EndDate:     "2025-01-02",
		})
		assert.NoError(t, err)

		runs, err := f.runs.ListRunHistory(storage.RunFilter{DatasetName: "lake.core.orders"})
		assert.NoError(t, err)
		assert.Len(t, runs, 2)
		for _, r := range runs {
			assert.Equal(t, "lake.core.orders", r.DatasetName)
		}
	})
}

func TestMapExternalState(t *testing.T) {
	cases := map[gateway.ExternalRunState]models.RunStatus{
		gateway.ExternalQueued:    models.PendingRunStatus,
		gateway.ExternalRunning:   models.RunningRunStatus,
		gateway.ExternalSuccess:   models.SuccessRunStatus,
		gateway.ExternalFailed:    models.FailedRunStatus,
		gateway.ExternalCancelled: models.CancelledRunStatus,
	}
	for external, expected := range cases {
		mapped, err := service.MapExternalState(external)
		assert.NoError(t, err)
		assert.Equal(t, expected, mapped)
	}

	_, err := service.MapExternalState(gateway.ExternalRunState("unknown"))
	assert.Error(t, err)
}
