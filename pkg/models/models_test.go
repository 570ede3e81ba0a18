package models_test

import (
	"testing"
	"time"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestWorkflowStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to models.WorkflowStatus
		allowed  bool
	}{
		{models.ActiveWorkflowStatus, models.PausedWorkflowStatus, true},
		{models.ActiveWorkflowStatus, models.DisabledWorkflowStatus, true},
		{models.ActiveWorkflowStatus, models.ActiveWorkflowStatus, false},
		{models.PausedWorkflowStatus, models.ActiveWorkflowStatus, true},
		{models.PausedWorkflowStatus, models.DisabledWorkflowStatus, true},
		{models.PausedWorkflowStatus, models.PausedWorkflowStatus, false},
		{models.DisabledWorkflowStatus, models.ActiveWorkflowStatus, false},
		{models.DisabledWorkflowStatus, models.PausedWorkflowStatus, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.allowed, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestWorkflow_Runnable(t *testing.T) {
	wf := models.Workflow{Status: models.ActiveWorkflowStatus}
	assert.True(t, wf.Runnable())

	wf.Status = models.PausedWorkflowStatus
	assert.False(t, wf.Runnable())

	now := time.Now()
	wf.Status = models.ActiveWorkflowStatus
	wf.DeletedAt = &now
	assert.False(t, wf.Runnable())
}

func TestRunStatus_Terminal(t *testing.T) {
	terminal := []models.RunStatus{
		models.SuccessRunStatus,
		models.FailedRunStatus,
		models.CancelledRunStatus,
	}
	for _, s := range terminal {
		assert.Truef(t, s.Terminal(), "%s", s)
	}

	nonTerminal := []models.RunStatus{
		models.PendingRunStatus,
		models.RunningRunStatus,
		models.StoppingRunStatus,
	}
	for _, s := range nonTerminal {
		assert.Falsef(t, s.Terminal(), "%s", s)
	}
}

func TestRunIDs(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 30, 15, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, "lake.core.users__manual__20250601T003015Z", models.ManualRunID("lake.core.users", at))

	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "lake.core.users__backfill__2025-01-02", models.BackfillRunID("lake.core.users", date))
}

func TestSchedule_Validate(t *testing.T) {
	t.Run("ValidExpressions", func(t *testing.T) {
		for _, cron := range []string{"0 2 * * *", "*/15 * * * *", "@daily", "@every 1h"} {
			s := models.Schedule{Cron: cron, Timezone: "UTC"}
			assert.NoErrorf(t, s.Validate(), "%s", cron)
		}
	})

	t.Run("EmptyCron", func(t *testing.T) {
		s := models.Schedule{Timezone: "UTC"}
		assert.Error(t, s.Validate())
	})

	t.Run("MalformedCron", func(t *testing.T) {
		s := models.Schedule{Cron: "not a cron"}
		assert.Error(t, s.Validate())
	})

	t.Run("SecondsFieldRejected", func(t *testing.T) {
		s := models.Schedule{Cron: "0 0 2 * * *"}
		assert.Error(t, s.Validate())
	})

	t.Run("InvalidTimezone", func(t *testing.T) {
		s := models.Schedule{Cron: "0 2 * * *", Timezone: "Mars/Olympus"}
		assert.Error(t, s.Validate())
	})

	t.Run("EmptyTimezoneDefaultsToUTC", func(t *testing.T) {
		s := models.Schedule{Cron: "0 2 * * *"}
		assert.NoError(t, s.Validate())
		assert.Equal(t, time.UTC, s.Location())
	})

	t.Run("NamedTimezone", func(t *testing.T) {
		s := models.Schedule{Cron: "0 2 * * *", Timezone: "Asia/Seoul"}
		assert.NoError(t, s.Validate())
		assert.Equal(t, "Asia/Seoul", s.Location().String())
	})
}
