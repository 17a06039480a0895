package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/model"
)

// SQLiteStore implements the persistence collaborator interfaces on SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		logger: logger.Named("store"),
		db:     db,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			code INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS workflows (
			code INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			project_code INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS task_definitions (
			code INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			workflow_code INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS process_instances (
			id TEXT PRIMARY KEY,
			workflow_code INTEGER NOT NULL,
			workflow_version INTEGER NOT NULL DEFAULT 1,
			project_code INTEGER NOT NULL,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			state_desc TEXT,
			blocked INTEGER NOT NULL DEFAULT 0,
			schedule_time DATETIME,
			start_time DATETIME NOT NULL,
			end_time DATETIME
		);
		CREATE TABLE IF NOT EXISTS task_instances (
			id TEXT PRIMARY KEY,
			code INTEGER NOT NULL,
			name TEXT NOT NULL,
			task_type TEXT NOT NULL,
			process_instance_id TEXT NOT NULL,
			state TEXT NOT NULL,
			host TEXT,
			submit_time DATETIME NOT NULL,
			start_time DATETIME,
			end_time DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_process_instances_workflow ON process_instances(workflow_code);
		CREATE INDEX IF NOT EXISTS idx_task_instances_process ON task_instances(process_instance_id);
		CREATE INDEX IF NOT EXISTS idx_task_instances_code ON task_instances(code);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// SaveTaskInstance implements TaskInstanceStore.SaveTaskInstance
func (s *SQLiteStore) SaveTaskInstance(ctx context.Context, task *model.TaskInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_instances (
			id, code, name, task_type, process_instance_id, state, host,
			submit_time, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Code,
		task.Name,
		task.TaskType,
		task.ProcessInstanceID,
		task.State,
		sql.NullString{String: task.Host, Valid: task.Host != ""},
		task.SubmitTime,
		nullTime(task.StartTime),
		nullTime(task.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to save task instance: %w", err)
	}
	return nil
}

// UpdateTaskInstance implements TaskInstanceStore.UpdateTaskInstance
func (s *SQLiteStore) UpdateTaskInstance(ctx context.Context, task *model.TaskInstance) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_instances SET
			state = ?,
			host = ?,
			start_time = ?,
			end_time = ?
		WHERE id = ?`,
		task.State,
		sql.NullString{String: task.Host, Valid: task.Host != ""},
		nullTime(task.StartTime),
		nullTime(task.EndTime),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task instance %s: %w", task.ID, ErrNotFound)
	}
	return nil
}

// SaveProcessInstance implements ProcessInstanceStore.SaveProcessInstance
func (s *SQLiteStore) SaveProcessInstance(ctx context.Context, process *model.ProcessInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_instances (
			id, workflow_code, workflow_version, project_code, name, state,
			state_desc, blocked, schedule_time, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		process.ID,
		process.WorkflowCode,
		process.WorkflowVersion,
		process.ProjectCode,
		process.Name,
		process.State,
		sql.NullString{String: process.StateDesc, Valid: process.StateDesc != ""},
		process.Blocked,
		nullTime(process.ScheduleTime),
		process.StartTime,
		nullTime(process.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to save process instance: %w", err)
	}
	return nil
}

// UpdateProcessInstance implements ProcessInstanceStore.UpdateProcessInstance
func (s *SQLiteStore) UpdateProcessInstance(ctx context.Context, process *model.ProcessInstance) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE process_instances SET
			state = ?,
			state_desc = ?,
			blocked = ?,
			end_time = ?
		WHERE id = ?`,
		process.State,
		sql.NullString{String: process.StateDesc, Valid: process.StateDesc != ""},
		process.Blocked,
		nullTime(process.EndTime),
		process.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update process instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("process instance %s: %w", process.ID, ErrNotFound)
	}
	return nil
}

// ListTaskStatuses implements ProcessInstanceStore.ListTaskStatuses
func (s *SQLiteStore) ListTaskStatuses(ctx context.Context, processInstanceID string) ([]TaskStatusEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, state FROM task_instances
		WHERE process_instance_id = ?
		ORDER BY submit_time`, processInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task statuses: %w", err)
	}
	defer rows.Close()

	var entries []TaskStatusEntry
	for rows.Next() {
		var e TaskStatusEntry
		if err := rows.Scan(&e.TaskCode, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan task status: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}

// FindDependentTaskStatus implements DependencyLookup.FindDependentTaskStatus.
// The latest run of the workflow whose cycle time falls inside [start, end)
// anchors the lookup; manual runs fall back to their start time.
func (s *SQLiteStore) FindDependentTaskStatus(ctx context.Context, workflowCode, taskCode int64, start, end time.Time) (model.ExecutionStatus, bool, error) {
	var processID string
	var processState model.ExecutionStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT id, state FROM process_instances
		WHERE workflow_code = ?
		  AND COALESCE(schedule_time, start_time) >= ?
		  AND COALESCE(schedule_time, start_time) < ?
		ORDER BY COALESCE(schedule_time, start_time) DESC
		LIMIT 1`,
		workflowCode, start, end).Scan(&processID, &processState)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find dependent process: %w", err)
	}

	if taskCode == model.AllTaskCode {
		return processState, true, nil
	}

	var taskState model.ExecutionStatus
	err = s.db.QueryRowContext(ctx, `
		SELECT state FROM task_instances
		WHERE process_instance_id = ? AND code = ?
		ORDER BY submit_time DESC
		LIMIT 1`,
		processID, taskCode).Scan(&taskState)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find dependent task: %w", err)
	}
	return taskState, true, nil
}

// GetProject implements MetadataStore.GetProject
func (s *SQLiteStore) GetProject(ctx context.Context, code int64) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name FROM projects WHERE code = ?`, code).Scan(&p.Code, &p.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %d: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// GetWorkflow implements MetadataStore.GetWorkflow
func (s *SQLiteStore) GetWorkflow(ctx context.Context, code int64) (*model.WorkflowDefinition, error) {
	var w model.WorkflowDefinition
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, version, project_code FROM workflows WHERE code = ?`, code).
		Scan(&w.Code, &w.Name, &w.Version, &w.ProjectCode)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %d: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &w, nil
}

// GetTaskDefinition implements MetadataStore.GetTaskDefinition
func (s *SQLiteStore) GetTaskDefinition(ctx context.Context, code int64) (*model.TaskDefinition, error) {
	var td model.TaskDefinition
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, workflow_code FROM task_definitions WHERE code = ?`, code).
		Scan(&td.Code, &td.Name, &td.WorkflowCode)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task definition %d: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task definition: %w", err)
	}
	return &td, nil
}

// SaveProject inserts or replaces a project record
func (s *SQLiteStore) SaveProject(ctx context.Context, p *model.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO projects (code, name) VALUES (?, ?)`, p.Code, p.Name)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// SaveWorkflow inserts or replaces a workflow definition record
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w *model.WorkflowDefinition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO workflows (code, name, version, project_code) VALUES (?, ?, ?, ?)`,
		w.Code, w.Name, w.Version, w.ProjectCode)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// SaveTaskDefinition inserts or replaces a task definition record
func (s *SQLiteStore) SaveTaskDefinition(ctx context.Context, td *model.TaskDefinition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_definitions (code, name, workflow_code) VALUES (?, ?, ?)`,
		td.Code, td.Name, td.WorkflowCode)
	if err != nil {
		return fmt.Errorf("failed to save task definition: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
