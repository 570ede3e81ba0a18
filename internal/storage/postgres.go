package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/1ambda/dataops-platform-sub014/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveWorkflow inserts a workflow row and returns its ID.
func (s *PostgresStore) SaveWorkflow(w models.Workflow) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO workflows
			(dataset_name, source_type, status, owner, team, description,
			 spec_location, scheduler_dag_id, cron_expr, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		w.DatasetName, w.SourceType, w.Status, w.Owner, w.Team, w.Description,
		w.SpecLocation, w.SchedulerDagID, w.CronExpr, w.Timezone, w.CreatedAt, w.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save workflow: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) getWorkflow(datasetName string, forUpdate bool) (models.Workflow, error) {
	query := "SELECT * FROM workflows WHERE dataset_name = $1 AND deleted_at IS NULL"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var wf models.Workflow
	err := s.db.Get(&wf, query, datasetName)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, fmt.Errorf("get workflow %s: %w", datasetName, err)
	}
	return wf, nil
}

// GetWorkflow retrieves a live workflow by dataset name.
func (s *PostgresStore) GetWorkflow(datasetName string) (models.Workflow, error) {
	return s.getWorkflow(datasetName, false)
}

// GetWorkflowForUpdate retrieves a live workflow and takes a row lock, so the
// read-validate-persist sequence for one dataset is serialized across
// concurrent transactions.
func (s *PostgresStore) GetWorkflowForUpdate(datasetName string) (models.Workflow, error) {
	return s.getWorkflow(datasetName, true)
}

func (s *PostgresStore) UpdateWorkflow(w models.Workflow) error {
	_, err := s.db.Exec(`
		UPDATE workflows
		SET source_type = $1, status = $2, owner = $3, team = $4, description = $5,
		    spec_location = $6, scheduler_dag_id = $7, cron_expr = $8, timezone = $9,
		    updated_at = $10, deleted_at = $11
		WHERE id = $12`,
		w.SourceType, w.Status, w.Owner, w.Team, w.Description,
		w.SpecLocation, w.SchedulerDagID, w.CronExpr, w.Timezone,
		w.UpdatedAt, w.DeletedAt, w.ID)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", w.DatasetName, err)
	}
	return nil
}

func (s *PostgresStore) ListWorkflows(f storage.WorkflowFilter) ([]models.Workflow, error) {
	query := "SELECT * FROM workflows WHERE deleted_at IS NULL"
	var args []interface{}
	var conds []string
	if f.Status != nil {
		args = append(args, *f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.SourceType != nil {
		args = append(args, *f.SourceType)
		conds = append(conds, fmt.Sprintf("source_type = $%d", len(args)))
	}
	if f.Owner != "" {
		args = append(args, f.Owner)
		conds = append(conds, fmt.Sprintf("LOWER(owner) = LOWER($%d)", len(args)))
	}
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	workflows := []models.Workflow{}
	if err := s.db.Select(&workflows, query, args...); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

func (s *PostgresStore) SaveRun(r models.WorkflowRun) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_runs
			(run_id, dataset_name, status, run_type, triggered_by, params,
			 started_at, ended_at, stop_reason, stopped_by, stopped_at, logs_url,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.RunID, r.DatasetName, r.Status, r.RunType, r.TriggeredBy, r.Params,
		r.StartedAt, r.EndedAt, r.StopReason, r.StoppedBy, r.StoppedAt, r.LogsURL,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.RunID, err)
	}
	return nil
}

func (s *PostgresStore) getRun(runID string, forUpdate bool) (models.WorkflowRun, error) {
	query := "SELECT * FROM workflow_runs WHERE run_id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var run models.WorkflowRun
	err := s.db.Get(&run, query, runID)
	if err == sql.ErrNoRows {
		return models.WorkflowRun{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowRun{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

func (s *PostgresStore) GetRun(runID string) (models.WorkflowRun, error) {
	return s.getRun(runID, false)
}

func (s *PostgresStore) GetRunForUpdate(runID string) (models.WorkflowRun, error) {
	return s.getRun(runID, true)
}

func (s *PostgresStore) UpdateRun(r models.WorkflowRun) error {
	_, err := s.db.Exec(`
		UPDATE workflow_runs
		SET status = $1, started_at = $2, ended_at = $3, stop_reason = $4,
		    stopped_by = $5, stopped_at = $6, logs_url = $7, updated_at = $8
		WHERE run_id = $9`,
		r.Status, r.StartedAt, r.EndedAt, r.StopReason,
		r.StoppedBy, r.StoppedAt, r.LogsURL, r.UpdatedAt, r.RunID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.RunID, err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(f storage.RunFilter) ([]models.WorkflowRun, error) {
	query := "SELECT * FROM workflow_runs WHERE 1=1"
	var args []interface{}
	if f.DatasetName != "" {
		args = append(args, f.DatasetName)
		query += fmt.Sprintf(" AND dataset_name = $%d", len(args))
	}
	if f.StartDate != nil {
		args = append(args, *f.StartDate)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.EndDate != nil {
		// End-of-day inclusive: exclude end date + 1 day.
		args = append(args, f.EndDate.AddDate(0, 0, 1))
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	runs := []models.WorkflowRun{}
	if err := s.db.Select(&runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *PostgresStore) CountRunningRuns(datasetName string) (int, error) {
	var count int
	err := s.db.Get(&count,
		"SELECT COUNT(*) FROM workflow_runs WHERE dataset_name = $1 AND status = $2",
		datasetName, models.RunningRunStatus)
	if err != nil {
		return 0, fmt.Errorf("count running runs for %s: %w", datasetName, err)
	}
	return count, nil
}
