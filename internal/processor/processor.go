package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/model"
	"github.com/t77yq/flowmaster/internal/store"
)

// TaskProcessor drives the lifecycle of one task instance. The orchestrator
// guarantees that a single logical worker owns a processor at a time; no
// internal locking happens here.
type TaskProcessor interface {
	// Submit persists the task instance as RUNNING and parses its
	// parameters. Any persistence or parse failure transitions the task
	// straight to FAILURE and is returned to the caller.
	Submit(ctx context.Context) error

	// Dispatch reports whether the task needs a future scheduling slot
	Dispatch() bool

	// Run performs one evaluation cycle. Processors that resolve
	// asynchronously expect re-invocation until the task is terminal.
	Run(ctx context.Context) error

	// Pause sets the task to PAUSE with an end time
	Pause(ctx context.Context) error

	// Kill sets the task to KILL with an end time
	Kill(ctx context.Context) error

	// OnTimeout handles an expired task deadline according to the
	// configured timeout strategy
	OnTimeout(ctx context.Context) error

	// Type returns the task type this processor handles
	Type() model.TaskType
}

// Notifier receives state-change notifications after terminal commits.
// Implementations must not block.
type Notifier interface {
	TaskStateChanged(ctx context.Context, task *model.TaskInstance) error
	ProcessStateChanged(ctx context.Context, process *model.ProcessInstance) error
}

// NopNotifier discards all notifications
type NopNotifier struct{}

func (NopNotifier) TaskStateChanged(ctx context.Context, task *model.TaskInstance) error {
	return nil
}

func (NopNotifier) ProcessStateChanged(ctx context.Context, process *model.ProcessInstance) error {
	return nil
}

// Deps carries the collaborators injected into a processor at construction
type Deps struct {
	Tasks        store.TaskInstanceStore
	Processes    store.ProcessInstanceStore
	Dependencies store.DependencyLookup
	Metadata     store.MetadataStore
	Notifier     Notifier
	Logger       *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// New selects the processor variant for the task's type. The set of variants
// is closed; unknown types are rejected.
func New(task *model.TaskInstance, process *model.ProcessInstance, deps Deps) (TaskProcessor, error) {
	deps = deps.withDefaults()
	switch task.TaskType {
	case model.TaskTypeDependent:
		return newDependentProcessor(task, process, deps), nil
	case model.TaskTypeBlocking:
		return newBlockingProcessor(task, process, deps), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, task.TaskType)
}

// baseProcessor holds the state and helpers shared by all variants
type baseProcessor struct {
	task    *model.TaskInstance
	process *model.ProcessInstance
	deps    Deps
	logger  *zap.Logger
}

// submitRunning persists the task instance as RUNNING with a start time
func (b *baseProcessor) submitRunning(ctx context.Context) error {
	now := time.Now()
	if b.task.SubmitTime.IsZero() {
		b.task.SubmitTime = now
	}
	b.task.State = model.StatusRunning
	b.task.StartTime = &now
	if err := b.deps.Tasks.SaveTaskInstance(ctx, b.task); err != nil {
		return fmt.Errorf("failed to submit task instance: %w", err)
	}
	b.logger.Info("Task submitted and running")
	return nil
}

// failSubmission transitions a failed submission straight to FAILURE with an
// end time. Submission is not retried here; the original cause is returned.
func (b *baseProcessor) failSubmission(ctx context.Context, cause error) error {
	now := time.Now()
	b.task.State = model.StatusFailure
	b.task.EndTime = &now
	if err := b.deps.Tasks.UpdateTaskInstance(ctx, b.task); err != nil {
		b.logger.Warn("Failed to persist FAILURE after submission error", zap.Error(err))
	}
	b.logger.Error("Task submission failed", zap.Error(cause))
	return cause
}

// terminate stamps a terminal state with an end time and persists it.
// In-memory state advances even if the durable write fails; the write error
// is surfaced and not retried here.
func (b *baseProcessor) terminate(ctx context.Context, status model.ExecutionStatus) error {
	now := time.Now()
	b.task.State = status
	b.task.EndTime = &now
	if err := b.deps.Tasks.UpdateTaskInstance(ctx, b.task); err != nil {
		return fmt.Errorf("failed to persist terminal state %s: %w", status, err)
	}
	if err := b.deps.Notifier.TaskStateChanged(ctx, b.task); err != nil {
		b.logger.Warn("Failed to notify task state change", zap.Error(err))
	}
	b.logger.Info("Task reached terminal state", zap.String("state", string(status)))
	return nil
}

// Pause unconditionally sets PAUSE with an end time. Callable at any time
// before finalization.
func (b *baseProcessor) Pause(ctx context.Context) error {
	return b.terminate(ctx, model.StatusPause)
}

// Kill unconditionally sets KILL with an end time. Callable at any time
// before finalization.
func (b *baseProcessor) Kill(ctx context.Context) error {
	return b.terminate(ctx, model.StatusKill)
}
