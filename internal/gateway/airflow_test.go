package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	internal "github.com/1ambda/dataops-platform-sub014/internal/gateway"
	"github.com/1ambda/dataops-platform-sub014/pkg/gateway"
	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/stretchr/testify/assert"
)

func newGateway(handler http.HandlerFunc) (*internal.AirflowGateway, *httptest.Server) {
	srv := httptest.NewServer(handler)
	gw := internal.NewAirflowGateway(internal.Config{
		BaseURL:  srv.URL,
		Username: "airflow",
		Password: "airflow",
	})
	return gw, srv
}

func TestAirflowGateway_CreateGraph(t *testing.T) {
	ctx := context.Background()

	gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/dags", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "airflow", user)
		assert.Equal(t, "airflow", pass)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// Dots are not legal in dag ids.
		assert.Equal(t, "lake_core_users", body["dag_id"])
		assert.Equal(t, "0 2 * * *", body["schedule"])
		assert.Equal(t, "manual/lake/core/users.sql", body["spec_location"])

		json.NewEncoder(w).Encode(map[string]string{"dag_id": "lake_core_users"})
	})
	defer srv.Close()

	dagID, err := gw.CreateGraph(ctx, "lake.core.users",
		models.Schedule{Cron: "0 2 * * *", Timezone: "UTC"}, "manual/lake/core/users.sql")
	assert.NoError(t, err)
	assert.Equal(t, "lake_core_users", dagID)
}

func TestAirflowGateway_TriggerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/dags/lake_core_users/dagRuns", r.URL.Path)

			var body struct {
				DagRunID string            `json:"dag_run_id"`
				Conf     map[string]string `json:"conf"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "run-1", body.DagRunID)
			assert.Equal(t, "2025-01-01", body.Conf["date"])

			json.NewEncoder(w).Encode(map[string]string{"dag_run_id": body.DagRunID})
		})
		defer srv.Close()

		id, err := gw.TriggerRun(ctx, "lake_core_users", "run-1", map[string]string{"date": "2025-01-01"})
		assert.NoError(t, err)
		assert.Equal(t, "run-1", id)
	})

	t.Run("ServerError", func(t *testing.T) {
		gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "executor slots exhausted", http.StatusServiceUnavailable)
		})
		defer srv.Close()

		_, err := gw.TriggerRun(ctx, "lake_core_users", "run-1", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})
}

func TestAirflowGateway_StopRun(t *testing.T) {
	gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/dags/lake_core_users/dagRuns/run-1", r.URL.Path)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cancelled", body["state"])
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	assert.NoError(t, gw.StopRun(context.Background(), "lake_core_users", "run-1"))
}

func TestAirflowGateway_PauseGraph(t *testing.T) {
	var gotPaused bool
	gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/dags/lake_core_users", r.URL.Path)

		var body map[string]bool
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPaused = body["is_paused"]
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	assert.NoError(t, gw.PauseGraph(context.Background(), "lake_core_users", true))
	assert.True(t, gotPaused)
	assert.NoError(t, gw.PauseGraph(context.Background(), "lake_core_users", false))
	assert.False(t, gotPaused)
}

func TestAirflowGateway_DeleteGraph(t *testing.T) {
	gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/dags/lake_core_users", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	defer srv.Close()

	assert.NoError(t, gw.DeleteGraph(context.Background(), "lake_core_users"))
}

func TestAirflowGateway_GetRunStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		ended := time.Date(2025, 6, 1, 12, 9, 0, 0, time.UTC)
		gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/v1/dags/lake_core_users/dagRuns/run-1", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"state":      "success",
				"start_date": started,
				"end_date":   ended,
				"logs_url":   "http://airflow/logs/run-1",
			})
		})
		defer srv.Close()

		status, err := gw.GetRunStatus(ctx, "lake_core_users", "run-1")
		assert.NoError(t, err)
		assert.Equal(t, gateway.ExternalSuccess, status.State)
		assert.True(t, status.StartedAt.Equal(started))
		assert.True(t, status.EndedAt.Equal(ended))
		assert.Equal(t, "http://airflow/logs/run-1", status.LogsURL)
	})

	t.Run("RunningWithoutEndDate", func(t *testing.T) {
		gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"state": "running"})
		})
		defer srv.Close()

		status, err := gw.GetRunStatus(ctx, "lake_core_users", "run-1")
		assert.NoError(t, err)
		assert.Equal(t, gateway.ExternalRunning, status.State)
		assert.Nil(t, status.EndedAt)
	})

	t.Run("NotFound", func(t *testing.T) {
		gw, srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		defer srv.Close()

		_, err := gw.GetRunStatus(ctx, "lake_core_users", "run-1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}
