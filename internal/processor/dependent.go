package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/cycle"
	"github.com/t77yq/flowmaster/internal/model"
)

// DependentTaskProcessor gates its task instance on the completion status of
// tasks in other workflows, possibly cross-project and cycle-scoped. Run is
// re-invoked on a schedule until every dependency row reports finished.
type DependentTaskProcessor struct {
	baseProcessor

	params   *model.DependentParameters
	executes []*DependentExecute

	// results deduplicates per-item completion logging across polls
	results map[string]model.DependResult

	dependentDate time.Time
	result        model.DependResult
	finished      bool
}

func newDependentProcessor(task *model.TaskInstance, process *model.ProcessInstance, deps Deps) *DependentTaskProcessor {
	return &DependentTaskProcessor{
		baseProcessor: baseProcessor{
			task:    task,
			process: process,
			deps:    deps,
			logger: deps.Logger.Named("dependent-processor").
				With(zap.String("task_id", task.ID), zap.String("task_name", task.Name)),
		},
		results: make(map[string]model.DependResult),
		result:  model.DependWaiting,
	}
}

// Type implements TaskProcessor.Type
func (p *DependentTaskProcessor) Type() model.TaskType {
	return model.TaskTypeDependent
}

// Dispatch implements TaskProcessor.Dispatch. Dependent tasks resolve over
// repeated invocations and need a future scheduling slot.
func (p *DependentTaskProcessor) Dispatch() bool {
	return true
}

// Submit implements TaskProcessor.Submit
func (p *DependentTaskProcessor) Submit(ctx context.Context) error {
	if err := p.submitRunning(ctx); err != nil {
		return p.failSubmission(ctx, err)
	}
	if err := p.initDependParameters(ctx); err != nil {
		return p.failSubmission(ctx, fmt.Errorf("failed to initialize dependent parameters: %w", err))
	}
	p.logger.Info("Dependent task initialized",
		zap.Time("dependent_date", p.dependentDate),
		zap.Int("rows", len(p.executes)))
	return nil
}

// initDependParameters validates the dependency expression, resolves every
// referenced entity for logging, and builds one tracker per row. A dangling
// reference or empty relation list is fatal for the task instance.
func (p *DependentTaskProcessor) initDependParameters(ctx context.Context) error {
	params := p.task.Dependency
	if err := params.Validate(); err != nil {
		return err
	}

	if p.process != nil && p.process.ScheduleTime != nil {
		p.dependentDate = *p.process.ScheduleTime
	} else {
		p.dependentDate = time.Now()
	}

	for _, taskModel := range params.Models {
		p.logger.Info("Add dependency row", zap.String("relation", string(taskModel.Relation)))
		for _, item := range taskModel.Items {
			if _, _, err := cycle.Window(item.Cycle, p.dependentDate); err != nil {
				return err
			}
			project, err := p.deps.Metadata.GetProject(ctx, item.ProjectCode)
			if err != nil {
				return fmt.Errorf("dependent project %d: %w", item.ProjectCode, err)
			}
			workflow, err := p.deps.Metadata.GetWorkflow(ctx, item.WorkflowCode)
			if err != nil {
				return fmt.Errorf("dependent workflow %d: %w", item.WorkflowCode, err)
			}
			taskName := "ALL"
			if item.TaskCode != model.AllTaskCode {
				taskDef, err := p.deps.Metadata.GetTaskDefinition(ctx, item.TaskCode)
				if err != nil {
					return fmt.Errorf("dependent task %d: %w", item.TaskCode, err)
				}
				taskName = taskDef.Name
			}
			p.logger.Info("Add dependent item",
				zap.String("project", project.Name),
				zap.String("workflow", workflow.Name),
				zap.String("task", taskName),
				zap.String("dependent_key", item.Key()))
		}
		p.executes = append(p.executes, NewDependentExecute(taskModel, p.deps.Dependencies, p.logger))
	}

	p.params = params
	return nil
}

// Run implements TaskProcessor.Run. Each invocation is idempotent for
// already-memoized items: a poll with no new observations changes nothing
// and logs nothing.
func (p *DependentTaskProcessor) Run(ctx context.Context) error {
	if p.task.State.Finished() {
		return nil
	}
	if !p.finished {
		p.finished = p.allRowsFinished(ctx)
	}
	if !p.finished {
		return nil
	}
	p.result = p.foldResult()
	p.logger.Info("Dependent task completed", zap.String("depend_result", string(p.result)))
	return p.endTask(ctx)
}

// allRowsFinished polls every tracker and records newly resolved items,
// logging each exactly once
func (p *DependentTaskProcessor) allRowsFinished(ctx context.Context) bool {
	finished := true
	for _, execute := range p.executes {
		rowFinished := execute.Finished(ctx, p.dependentDate)
		for _, item := range execute.taskModel.Items {
			key := item.Key()
			if _, seen := p.results[key]; seen {
				continue
			}
			result, ok := execute.Result(key)
			if !ok {
				continue
			}
			p.results[key] = result
			p.logger.Info("Dependent item complete",
				zap.String("dependent_key", key),
				zap.String("result", string(result)),
				zap.Time("dependent_date", p.dependentDate))
		}
		if !rowFinished {
			finished = false
		}
	}
	return finished
}

// foldResult folds the row results with the top-level relation
func (p *DependentTaskProcessor) foldResult() model.DependResult {
	results := make([]model.DependResult, 0, len(p.executes))
	for _, execute := range p.executes {
		results = append(results, execute.ModelResult())
	}
	return ResultForRelation(p.params.Relation, results)
}

// endTask maps the dependency verdict to a terminal status and persists it
func (p *DependentTaskProcessor) endTask(ctx context.Context) error {
	status := model.StatusFailure
	if p.result == model.DependSuccess {
		status = model.StatusSuccess
	}
	return p.terminate(ctx, status)
}

// OnTimeout implements TaskProcessor.OnTimeout. When the configured strategy
// does not force failure the timeout is advisory only and the state is left
// unchanged; otherwise the verdict is forced to FAILED and the task finalizes
// immediately, overriding any in-progress evaluation.
func (p *DependentTaskProcessor) OnTimeout(ctx context.Context) error {
	if p.task.State.Finished() {
		return nil
	}
	if !p.task.TimeoutStrategy.ShouldFail() {
		p.logger.Info("Task timed out, strategy is advisory only",
			zap.String("strategy", string(p.task.TimeoutStrategy)))
		return nil
	}
	p.logger.Info("Task timed out, forcing FAILED verdict",
		zap.String("strategy", string(p.task.TimeoutStrategy)))
	p.result = model.DependFailed
	return p.endTask(ctx)
}
