package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/cycle"
	"github.com/t77yq/flowmaster/internal/model"
	"github.com/t77yq/flowmaster/internal/store"
)

// DependentExecute tracks completion of one dependency row across repeated
// polls. Resolved items are memoized under their key and never looked up
// again; the results map is insert-only, which makes repeated reads of
// already-resolved keys safe.
type DependentExecute struct {
	taskModel model.DependentTaskModel
	lookup    store.DependencyLookup
	logger    *zap.Logger
	results   map[string]model.DependResult
}

// NewDependentExecute creates a tracker for one dependency row
func NewDependentExecute(taskModel model.DependentTaskModel, lookup store.DependencyLookup, logger *zap.Logger) *DependentExecute {
	return &DependentExecute{
		taskModel: taskModel,
		lookup:    lookup,
		logger:    logger.Named("dependent-execute"),
		results:   make(map[string]model.DependResult),
	}
}

// Finished resolves still-pending items against the cycle anchored at date
// and reports whether none remain WAITING. Items are resolved in declared
// order.
func (e *DependentExecute) Finished(ctx context.Context, date time.Time) bool {
	finished := true
	for _, item := range e.taskModel.Items {
		if _, ok := e.results[item.Key()]; ok {
			continue
		}
		result := e.resolveItem(ctx, item, date)
		if result == model.DependWaiting {
			finished = false
			continue
		}
		e.results[item.Key()] = result
	}
	return finished
}

// resolveItem translates the observed status of one dependency target into a
// verdict. Absence of a run, an unfinished run, or a transient lookup error
// all resolve to WAITING and are retried on the next poll.
func (e *DependentExecute) resolveItem(ctx context.Context, item model.DependentItem, date time.Time) model.DependResult {
	start, end, err := cycle.Window(item.Cycle, date)
	if err != nil {
		// Cycle descriptors are validated at submission; reaching this
		// means the expression can never resolve.
		e.logger.Error("Invalid cycle descriptor", zap.String("dependent_key", item.Key()), zap.Error(err))
		return model.DependFailed
	}

	status, found, err := e.lookup.FindDependentTaskStatus(ctx, item.WorkflowCode, item.TaskCode, start, end)
	if err != nil {
		e.logger.Warn("Dependency lookup failed, will retry",
			zap.String("dependent_key", item.Key()),
			zap.Error(err))
		return model.DependWaiting
	}
	if !found || !status.Finished() {
		return model.DependWaiting
	}
	if status == item.ExpectedStatus {
		return model.DependSuccess
	}
	return model.DependFailed
}

// ModelResult folds the memoized item results with the row relation.
// Unresolved items count as WAITING.
func (e *DependentExecute) ModelResult() model.DependResult {
	results := make([]model.DependResult, 0, len(e.taskModel.Items))
	for _, item := range e.taskModel.Items {
		r, ok := e.results[item.Key()]
		if !ok {
			r = model.DependWaiting
		}
		results = append(results, r)
	}
	return ResultForRelation(e.taskModel.Relation, results)
}

// Result returns the memoized verdict for an item key, if resolved
func (e *DependentExecute) Result(key string) (model.DependResult, bool) {
	r, ok := e.results[key]
	return r, ok
}
