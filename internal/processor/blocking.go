package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/model"
)

// BlockingTaskProcessor is the blocking gate: it evaluates a dependency tree
// scoped to the tasks already finished within its own process run and, when
// the verdict matches the configured opportunity, marks the parent process
// instance blocked. The decision is made exactly once, synchronously,
// during Run.
type BlockingTaskProcessor struct {
	baseProcessor

	params   *model.DependentParameters
	blocking *model.BlockingParameters

	conditionResult model.DependResult

	// observed maps task code to the first status seen for it in this run.
	// Insert-if-absent; a key is written exactly once.
	observed map[int64]model.ExecutionStatus
}

func newBlockingProcessor(task *model.TaskInstance, process *model.ProcessInstance, deps Deps) *BlockingTaskProcessor {
	return &BlockingTaskProcessor{
		baseProcessor: baseProcessor{
			task:    task,
			process: process,
			deps:    deps,
			logger: deps.Logger.Named("blocking-processor").
				With(zap.String("task_id", task.ID), zap.String("task_name", task.Name)),
		},
		conditionResult: model.DependWaiting,
		observed:        make(map[int64]model.ExecutionStatus),
	}
}

// Type implements TaskProcessor.Type
func (p *BlockingTaskProcessor) Type() model.TaskType {
	return model.TaskTypeBlocking
}

// Dispatch implements TaskProcessor.Dispatch. Blocking gates resolve
// synchronously inside Run and need no future scheduling slot.
func (p *BlockingTaskProcessor) Dispatch() bool {
	return false
}

// Submit implements TaskProcessor.Submit
func (p *BlockingTaskProcessor) Submit(ctx context.Context) error {
	if err := p.submitRunning(ctx); err != nil {
		return p.failSubmission(ctx, err)
	}
	if err := p.initTaskParameters(); err != nil {
		return p.failSubmission(ctx, fmt.Errorf("failed to initialize blocking parameters: %w", err))
	}
	p.logger.Info("Blocking task initialized",
		zap.String("opportunity", string(p.blocking.Opportunity)))
	return nil
}

func (p *BlockingTaskProcessor) initTaskParameters() error {
	if err := p.task.Dependency.Validate(); err != nil {
		return err
	}
	if p.task.Blocking == nil {
		return ErrMissingBlockingParams
	}
	switch p.task.Blocking.Opportunity {
	case model.BlockingOnSuccess, model.BlockingOnFailed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOpportunity, p.task.Blocking.Opportunity)
	}
	p.params = p.task.Dependency
	p.blocking = p.task.Blocking
	return nil
}

// Run implements TaskProcessor.Run. The gate evaluates once if unresolved,
// then finalizes.
func (p *BlockingTaskProcessor) Run(ctx context.Context) error {
	if p.task.State.Finished() {
		return nil
	}
	if p.conditionResult == model.DependWaiting {
		if err := p.evaluate(ctx); err != nil {
			return err
		}
	}
	return p.endTask(ctx)
}

// evaluate folds the dependency tree over the statuses of tasks recorded for
// this process run
func (p *BlockingTaskProcessor) evaluate(ctx context.Context) error {
	entries, err := p.deps.Processes.ListTaskStatuses(ctx, p.task.ProcessInstanceID)
	if err != nil {
		return fmt.Errorf("failed to list sibling task statuses: %w", err)
	}
	for _, entry := range entries {
		if _, ok := p.observed[entry.TaskCode]; !ok {
			p.observed[entry.TaskCode] = entry.Status
		}
	}

	rowResults := make([]model.DependResult, 0, len(p.params.Models))
	for _, taskModel := range p.params.Models {
		itemResults := make([]model.DependResult, 0, len(taskModel.Items))
		for _, item := range taskModel.Items {
			itemResults = append(itemResults, p.resultForItem(item))
		}
		rowResults = append(rowResults, ResultForRelation(taskModel.Relation, itemResults))
	}
	p.conditionResult = ResultForRelation(p.params.Relation, rowResults)
	p.logger.Info("Blocking gate depend result", zap.String("result", string(p.conditionResult)))
	return nil
}

// resultForItem resolves one item against the tasks observed in this run. A
// task with no entry yet resolves to FAILED, not WAITING: the gate runs
// exactly once and is never polled.
func (p *BlockingTaskProcessor) resultForItem(item model.DependentItem) model.DependResult {
	status, ok := p.observed[item.TaskCode]
	if !ok {
		p.logger.Info("Depend item has not completed yet",
			zap.Int64("task_code", item.TaskCode))
		return model.DependFailed
	}
	if status != item.ExpectedStatus {
		p.logger.Info("Depend item status mismatch",
			zap.Int64("task_code", item.TaskCode),
			zap.String("expected", string(item.ExpectedStatus)),
			zap.String("actual", string(status)))
		return model.DependFailed
	}
	return model.DependSuccess
}

// endTask decides the blocking outcome and finalizes. The gate's own task
// always ends SUCCESS: its success means the gate ran, independent of
// whether it blocked.
func (p *BlockingTaskProcessor) endTask(ctx context.Context) error {
	expected := p.blocking.Opportunity.ExpectedResult()
	blocked := expected == p.conditionResult
	p.logger.Info("Blocking opportunity evaluated",
		zap.String("expected", string(expected)),
		zap.String("actual", string(p.conditionResult)),
		zap.Bool("blocked", blocked))

	// An unblocked gate leaves the process row untouched; only the blocked
	// outcome is worth a write
	if blocked {
		p.process.Blocked = true
		p.process.SetStateWithDesc(model.StatusReadyBlock, "ready block")
		if p.blocking.AlertWhenBlocking {
			p.logger.Warn("Process run blocked by gate",
				zap.String("process_instance_id", p.process.ID),
				zap.String("opportunity", string(p.blocking.Opportunity)))
		}
		if err := p.deps.Processes.UpdateProcessInstance(ctx, p.process); err != nil {
			return fmt.Errorf("failed to persist process blocking state: %w", err)
		}
		if err := p.deps.Notifier.ProcessStateChanged(ctx, p.process); err != nil {
			p.logger.Warn("Failed to notify process state change", zap.Error(err))
		}
	}

	return p.terminate(ctx, model.StatusSuccess)
}

// OnTimeout implements TaskProcessor.OnTimeout. Timeouts are advisory for
// blocking gates; Run resolves synchronously.
func (p *BlockingTaskProcessor) OnTimeout(ctx context.Context) error {
	return nil
}
