package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/flowmaster/internal/model"
	"github.com/t77yq/flowmaster/internal/store"
)

// fakeStore is an in-memory persistence collaborator for processor tests
type fakeStore struct {
	tasks     map[string]model.TaskInstance
	processes map[string]model.ProcessInstance
	statuses  map[string][]store.TaskStatusEntry
	deps      map[string]depEntry

	projects  map[int64]model.Project
	workflows map[int64]model.WorkflowDefinition
	taskDefs  map[int64]model.TaskDefinition

	saveTaskErr   error
	updateTaskErr error
	lookupErr     error

	taskSaves      int
	taskUpdates    int
	processUpdates int
	lookups        int
}

type depEntry struct {
	status model.ExecutionStatus
	found  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     make(map[string]model.TaskInstance),
		processes: make(map[string]model.ProcessInstance),
		statuses:  make(map[string][]store.TaskStatusEntry),
		deps:      make(map[string]depEntry),
		projects:  make(map[int64]model.Project),
		workflows: make(map[int64]model.WorkflowDefinition),
		taskDefs:  make(map[int64]model.TaskDefinition),
	}
}

func depKey(workflowCode, taskCode int64) string {
	return fmt.Sprintf("%d/%d", workflowCode, taskCode)
}

// setDependentStatus records what the lookup reports for a dependency target
func (f *fakeStore) setDependentStatus(workflowCode, taskCode int64, status model.ExecutionStatus) {
	f.deps[depKey(workflowCode, taskCode)] = depEntry{status: status, found: true}
}

func (f *fakeStore) SaveTaskInstance(ctx context.Context, task *model.TaskInstance) error {
	f.taskSaves++
	if f.saveTaskErr != nil {
		return f.saveTaskErr
	}
	f.tasks[task.ID] = *task
	return nil
}

func (f *fakeStore) UpdateTaskInstance(ctx context.Context, task *model.TaskInstance) error {
	f.taskUpdates++
	if f.updateTaskErr != nil {
		return f.updateTaskErr
	}
	f.tasks[task.ID] = *task
	return nil
}

func (f *fakeStore) SaveProcessInstance(ctx context.Context, process *model.ProcessInstance) error {
	f.processes[process.ID] = *process
	return nil
}

func (f *fakeStore) UpdateProcessInstance(ctx context.Context, process *model.ProcessInstance) error {
	f.processUpdates++
	f.processes[process.ID] = *process
	return nil
}

func (f *fakeStore) ListTaskStatuses(ctx context.Context, processInstanceID string) ([]store.TaskStatusEntry, error) {
	return f.statuses[processInstanceID], nil
}

func (f *fakeStore) FindDependentTaskStatus(ctx context.Context, workflowCode, taskCode int64, start, end time.Time) (model.ExecutionStatus, bool, error) {
	f.lookups++
	if f.lookupErr != nil {
		return "", false, f.lookupErr
	}
	entry, ok := f.deps[depKey(workflowCode, taskCode)]
	if !ok {
		return "", false, nil
	}
	return entry.status, entry.found, nil
}

func (f *fakeStore) GetProject(ctx context.Context, code int64) (*model.Project, error) {
	p, ok := f.projects[code]
	if !ok {
		return nil, fmt.Errorf("project %d: %w", code, store.ErrNotFound)
	}
	return &p, nil
}

func (f *fakeStore) GetWorkflow(ctx context.Context, code int64) (*model.WorkflowDefinition, error) {
	w, ok := f.workflows[code]
	if !ok {
		return nil, fmt.Errorf("workflow %d: %w", code, store.ErrNotFound)
	}
	return &w, nil
}

func (f *fakeStore) GetTaskDefinition(ctx context.Context, code int64) (*model.TaskDefinition, error) {
	td, ok := f.taskDefs[code]
	if !ok {
		return nil, fmt.Errorf("task definition %d: %w", code, store.ErrNotFound)
	}
	return &td, nil
}

// seedMetadata registers a project/workflow/task triple so submissions pass
// reference checks
func (f *fakeStore) seedMetadata(projectCode, workflowCode, taskCode int64) {
	f.projects[projectCode] = model.Project{Code: projectCode, Name: fmt.Sprintf("project-%d", projectCode)}
	f.workflows[workflowCode] = model.WorkflowDefinition{Code: workflowCode, Name: fmt.Sprintf("workflow-%d", workflowCode), Version: 1, ProjectCode: projectCode}
	if taskCode != model.AllTaskCode {
		f.taskDefs[taskCode] = model.TaskDefinition{Code: taskCode, Name: fmt.Sprintf("task-%d", taskCode), WorkflowCode: workflowCode}
	}
}

// countingNotifier records how many notifications were delivered
type countingNotifier struct {
	taskEvents    int
	processEvents int
}

func (n *countingNotifier) TaskStateChanged(ctx context.Context, task *model.TaskInstance) error {
	n.taskEvents++
	return nil
}

func (n *countingNotifier) ProcessStateChanged(ctx context.Context, process *model.ProcessInstance) error {
	n.processEvents++
	return nil
}

func testDeps(f *fakeStore) Deps {
	return Deps{
		Tasks:        f,
		Processes:    f,
		Dependencies: f,
		Metadata:     f,
	}
}

func newTestProcess(scheduleTime *time.Time) *model.ProcessInstance {
	return &model.ProcessInstance{
		ID:           uuid.New().String(),
		WorkflowCode: 1000,
		ProjectCode:  1,
		Name:         "parent-process",
		State:        model.StatusRunning,
		ScheduleTime: scheduleTime,
		StartTime:    time.Now(),
	}
}

func newTestTask(taskType model.TaskType, params *model.DependentParameters) *model.TaskInstance {
	return &model.TaskInstance{
		ID:         uuid.New().String(),
		Code:       1,
		Name:       "gate",
		TaskType:   taskType,
		State:      model.StatusCreated,
		SubmitTime: time.Now(),
		Dependency: params,
	}
}

var errBoom = errors.New("boom")
