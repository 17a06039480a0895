package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/flowmaster/internal/model"
	"github.com/t77yq/flowmaster/internal/store"
)

func blockingTask(opportunity model.BlockingOpportunity, params *model.DependentParameters) *model.TaskInstance {
	task := newTestTask(model.TaskTypeBlocking, params)
	task.Blocking = &model.BlockingParameters{Opportunity: opportunity}
	return task
}

func siblingStatuses(f *fakeStore, processID string, entries ...store.TaskStatusEntry) {
	f.statuses[processID] = entries
}

// Scenario: opportunity BLOCKING_ON_FAILED with a FAILED evaluation blocks
// the parent process; BLOCKING_ON_SUCCESS with the same inputs does not.
func TestBlockingProcessorGate(t *testing.T) {
	item := testItem(10, 7) // expects SUCCESS

	t.Run("blocks on failed", func(t *testing.T) {
		f := newFakeStore()
		notifier := &countingNotifier{}
		deps := testDeps(f)
		deps.Notifier = notifier

		process := newTestProcess(nil)
		siblingStatuses(f, process.ID, store.TaskStatusEntry{TaskCode: 7, Status: model.StatusFailure})

		task := blockingTask(model.BlockingOnFailed, dependentParams(model.RelationAnd, andRow(item)))
		proc, err := New(task, process, deps)
		require.NoError(t, err)

		ctx := context.Background()
		require.NoError(t, proc.Submit(ctx))
		assert.False(t, proc.Dispatch())
		require.NoError(t, proc.Run(ctx))

		assert.True(t, process.Blocked)
		assert.Equal(t, model.StatusReadyBlock, process.State)
		assert.Equal(t, "ready block", process.StateDesc)
		// The gate's own task succeeds regardless of the blocking decision
		assert.Equal(t, model.StatusSuccess, task.State)
		assert.Equal(t, 1, notifier.processEvents)
		assert.Equal(t, 1, f.processUpdates)
		assert.Equal(t, model.StatusReadyBlock, f.processes[process.ID].State)
	})

	t.Run("same inputs, blocks on success", func(t *testing.T) {
		f := newFakeStore()
		notifier := &countingNotifier{}
		deps := testDeps(f)
		deps.Notifier = notifier

		process := newTestProcess(nil)
		siblingStatuses(f, process.ID, store.TaskStatusEntry{TaskCode: 7, Status: model.StatusFailure})

		task := blockingTask(model.BlockingOnSuccess, dependentParams(model.RelationAnd, andRow(item)))
		proc, err := New(task, process, deps)
		require.NoError(t, err)

		ctx := context.Background()
		require.NoError(t, proc.Submit(ctx))
		require.NoError(t, proc.Run(ctx))

		assert.False(t, process.Blocked)
		assert.Equal(t, model.StatusRunning, process.State)
		assert.Equal(t, model.StatusSuccess, task.State)
		assert.Equal(t, 0, notifier.processEvents)
		// The unblocked outcome never touches the process row
		assert.Equal(t, 0, f.processUpdates)
	})
}

// An item whose task has no recorded entry resolves FAILED, never WAITING:
// the gate runs exactly once.
func TestBlockingProcessorAbsentTaskIsFailed(t *testing.T) {
	f := newFakeStore()
	process := newTestProcess(nil)

	task := blockingTask(model.BlockingOnFailed, dependentParams(model.RelationAnd, andRow(testItem(10, 7))))
	proc, err := New(task, process, testDeps(f))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, proc.Submit(ctx))
	require.NoError(t, proc.Run(ctx))

	assert.Equal(t, model.DependFailed, proc.(*BlockingTaskProcessor).conditionResult)
	assert.True(t, process.Blocked)
	assert.Equal(t, model.StatusSuccess, task.State)
}

// Fixed sibling snapshot and fixed opportunity yield the same decision on
// repeated evaluation.
func TestBlockingProcessorDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		f := newFakeStore()
		process := newTestProcess(nil)
		siblingStatuses(f, process.ID,
			store.TaskStatusEntry{TaskCode: 7, Status: model.StatusSuccess},
			store.TaskStatusEntry{TaskCode: 8, Status: model.StatusFailure})

		params := dependentParams(model.RelationAnd, andRow(testItem(10, 7), testItem(20, 8)))
		task := blockingTask(model.BlockingOnFailed, params)
		proc, err := New(task, process, testDeps(f))
		require.NoError(t, err)

		ctx := context.Background()
		require.NoError(t, proc.Submit(ctx))
		require.NoError(t, proc.Run(ctx))
		assert.True(t, process.Blocked)
	}
}

func TestBlockingProcessorMatchedExpectedStatuses(t *testing.T) {
	f := newFakeStore()
	process := newTestProcess(nil)
	siblingStatuses(f, process.ID,
		store.TaskStatusEntry{TaskCode: 7, Status: model.StatusSuccess},
		store.TaskStatusEntry{TaskCode: 8, Status: model.StatusSuccess})

	params := dependentParams(model.RelationAnd, andRow(testItem(10, 7), testItem(20, 8)))
	task := blockingTask(model.BlockingOnSuccess, params)
	proc, err := New(task, process, testDeps(f))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, proc.Submit(ctx))
	require.NoError(t, proc.Run(ctx))

	assert.Equal(t, model.DependSuccess, proc.(*BlockingTaskProcessor).conditionResult)
	assert.True(t, process.Blocked)
}

func TestBlockingProcessorRunIsIdempotentAfterTerminal(t *testing.T) {
	f := newFakeStore()
	process := newTestProcess(nil)

	task := blockingTask(model.BlockingOnFailed, dependentParams(model.RelationAnd, andRow(testItem(10, 7))))
	proc, err := New(task, process, testDeps(f))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, proc.Submit(ctx))
	require.NoError(t, proc.Run(ctx))
	updates := f.taskUpdates

	require.NoError(t, proc.Run(ctx))
	assert.Equal(t, updates, f.taskUpdates)
}

func TestBlockingProcessorSubmitValidation(t *testing.T) {
	t.Run("missing blocking parameters", func(t *testing.T) {
		task := newTestTask(model.TaskTypeBlocking, dependentParams(model.RelationAnd, andRow(testItem(10, 7))))
		proc, err := New(task, newTestProcess(nil), testDeps(newFakeStore()))
		require.NoError(t, err)

		err = proc.Submit(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingBlockingParams))
		assert.Equal(t, model.StatusFailure, task.State)
	})

	t.Run("invalid opportunity", func(t *testing.T) {
		task := blockingTask(model.BlockingOpportunity("BlockingOnWaiting"),
			dependentParams(model.RelationAnd, andRow(testItem(10, 7))))
		proc, err := New(task, newTestProcess(nil), testDeps(newFakeStore()))
		require.NoError(t, err)

		err = proc.Submit(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidOpportunity))
	})

	t.Run("empty dependency row", func(t *testing.T) {
		task := blockingTask(model.BlockingOnFailed, &model.DependentParameters{
			Relation: model.RelationAnd,
			Models:   []model.DependentTaskModel{{Relation: model.RelationAnd}},
		})
		proc, err := New(task, newTestProcess(nil), testDeps(newFakeStore()))
		require.NoError(t, err)

		err = proc.Submit(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrEmptyDependencyItems))
	})
}

func TestBlockingProcessorTimeoutIsAdvisory(t *testing.T) {
	f := newFakeStore()
	task := blockingTask(model.BlockingOnFailed, dependentParams(model.RelationAnd, andRow(testItem(10, 7))))
	proc, err := New(task, newTestProcess(nil), testDeps(f))
	require.NoError(t, err)

	require.NoError(t, proc.Submit(context.Background()))
	require.NoError(t, proc.OnTimeout(context.Background()))
	assert.Equal(t, model.StatusRunning, task.State)
}
