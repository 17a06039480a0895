package store

import (
	"context"
	"errors"
	"time"

	"github.com/t77yq/flowmaster/internal/model"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("entity not found")
)

// TaskStatusEntry pairs a task code with its last persisted status
type TaskStatusEntry struct {
	TaskCode int64
	Status   model.ExecutionStatus
}

// TaskInstanceStore persists task instances
type TaskInstanceStore interface {
	// SaveTaskInstance inserts a new task instance record
	SaveTaskInstance(ctx context.Context, task *model.TaskInstance) error

	// UpdateTaskInstance updates an existing task instance record
	UpdateTaskInstance(ctx context.Context, task *model.TaskInstance) error
}

// ProcessInstanceStore persists process instances and exposes the task
// statuses recorded within one run
type ProcessInstanceStore interface {
	// SaveProcessInstance inserts a new process instance record
	SaveProcessInstance(ctx context.Context, process *model.ProcessInstance) error

	// UpdateProcessInstance updates an existing process instance record
	UpdateProcessInstance(ctx context.Context, process *model.ProcessInstance) error

	// ListTaskStatuses returns (taskCode, status) for every task instance
	// of the given process run, in submission order
	ListTaskStatuses(ctx context.Context, processInstanceID string) ([]TaskStatusEntry, error)
}

// DependencyLookup resolves the status of a dependency target. The outcome is
// three-way: not observed at all (found == false), observed but not finished
// (found && !status.Finished()), or finished. Callers decide per variant
// whether absence means WAITING or FAILED.
type DependencyLookup interface {
	// FindDependentTaskStatus looks up the status of taskCode within the
	// latest run of workflowCode whose cycle falls in [start, end). The
	// model.AllTaskCode sentinel resolves to the run's own state.
	FindDependentTaskStatus(ctx context.Context, workflowCode, taskCode int64, start, end time.Time) (model.ExecutionStatus, bool, error)
}

// MetadataStore resolves project, workflow, and task definition references.
// A dangling reference surfaces as ErrNotFound.
type MetadataStore interface {
	GetProject(ctx context.Context, code int64) (*model.Project, error)
	GetWorkflow(ctx context.Context, code int64) (*model.WorkflowDefinition, error)
	GetTaskDefinition(ctx context.Context, code int64) (*model.TaskDefinition, error)
}
