// Package gateway implements the scheduler boundary against an
// Airflow-compatible REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/1ambda/dataops-platform-sub014/pkg/gateway"
	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/pkg/errors"
)

const defaultRequestTimeout = 30 * time.Second

// Config holds the connection settings for the scheduler's REST API.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// AirflowGateway talks to an Airflow-compatible scheduler over its stable
// REST API. It owns no retry policy: a failed call is surfaced to the engine.
type AirflowGateway struct {
	cfg    Config
	client *http.Client
}

func NewAirflowGateway(cfg Config) *AirflowGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &AirflowGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (g *AirflowGateway) CreateGraph(ctx context.Context, datasetName string, schedule models.Schedule, specLocation string) (string, error) {
	body := map[string]interface{}{
		"dag_id":        dagID(datasetName),
		"schedule":      schedule.Cron,
		"timezone":      schedule.Timezone,
		"spec_location": specLocation,
	}
	var resp struct {
		DagID string `json:"dag_id"`
	}
	if err := g.do(ctx, http.MethodPost, "/api/v1/dags", body, &resp); err != nil {
		return "", errors.Wrapf(err, "create graph for %s", datasetName)
	}
	return resp.DagID, nil
}

func (g *AirflowGateway) TriggerRun(ctx context.Context, dagID, runID string, params map[string]string) (string, error) {
	body := map[string]interface{}{
		"dag_run_id": runID,
		"conf":       params,
	}
	var resp struct {
		DagRunID string `json:"dag_run_id"`
	}
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns", url.PathEscape(dagID))
	if err := g.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", errors.Wrapf(err, "trigger run %s", runID)
	}
	return resp.DagRunID, nil
}

func (g *AirflowGateway) StopRun(ctx context.Context, dagID, runID string) error {
	body := map[string]interface{}{"state": "cancelled"}
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s", url.PathEscape(dagID), url.PathEscape(runID))
	if err := g.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return errors.Wrapf(err, "stop run %s", runID)
	}
	return nil
}

func (g *AirflowGateway) PauseGraph(ctx context.Context, dagID string, paused bool) error {
	body := map[string]interface{}{"is_paused": paused}
	path := fmt.Sprintf("/api/v1/dags/%s", url.PathEscape(dagID))
	if err := g.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return errors.Wrapf(err, "pause graph %s", dagID)
	}
	return nil
}

func (g *AirflowGateway) DeleteGraph(ctx context.Context, dagID string) error {
	path := fmt.Sprintf("/api/v1/dags/%s", url.PathEscape(dagID))
	if err := g.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return errors.Wrapf(err, "delete graph %s", dagID)
	}
	return nil
}

func (g *AirflowGateway) GetRunStatus(ctx context.Context, dagID, runID string) (gateway.RunStatus, error) {
	var resp struct {
		State     string     `json:"state"`
		StartDate *time.Time `json:"start_date"`
		EndDate   *time.Time `json:"end_date"`
		LogsURL   string     `json:"logs_url"`
	}
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s", url.PathEscape(dagID), url.PathEscape(runID))
	if err := g.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return gateway.RunStatus{}, errors.Wrapf(err, "get status of run %s", runID)
	}
	return gateway.RunStatus{
		State:     gateway.ExternalRunState(resp.State),
		StartedAt: resp.StartDate,
		EndedAt:   resp.EndDate,
		LogsURL:   resp.LogsURL,
	}, nil
}

func (g *AirflowGateway) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.Username != "" {
		req.SetBasicAuth(g.cfg.Username, g.cfg.Password)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Errorf("scheduler returned 404 for %s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("scheduler returned %d for %s %s: %s", resp.StatusCode, method, path, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decode scheduler response")
		}
	}
	return nil
}

// dagID derives the scheduler's graph identifier from the dataset name.
// Airflow dag ids may not contain dots.
func dagID(datasetName string) string {
	out := make([]byte, len(datasetName))
	for i := 0; i < len(datasetName); i++ {
		c := datasetName[i]
		if c == '.' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}
