package master

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/model"
)

// fakeProcessor finishes its task after a configured number of runs
type fakeProcessor struct {
	task         *model.TaskInstance
	runsToFinish int
	runs         int
	timeouts     int
	failOnTime   bool
}

func (f *fakeProcessor) Submit(ctx context.Context) error { return nil }
func (f *fakeProcessor) Dispatch() bool                   { return true }
func (f *fakeProcessor) Pause(ctx context.Context) error  { return nil }
func (f *fakeProcessor) Kill(ctx context.Context) error   { return nil }
func (f *fakeProcessor) Type() model.TaskType             { return model.TaskTypeDependent }

func (f *fakeProcessor) Run(ctx context.Context) error {
	f.runs++
	if f.runs >= f.runsToFinish {
		f.task.State = model.StatusSuccess
	}
	return nil
}

func (f *fakeProcessor) OnTimeout(ctx context.Context) error {
	f.timeouts++
	if f.failOnTime {
		f.task.State = model.StatusFailure
	}
	return nil
}

func newTrackedTask(timeout time.Duration) *model.TaskInstance {
	now := time.Now()
	return &model.TaskInstance{
		ID:         uuid.New().String(),
		Name:       "depend-check",
		TaskType:   model.TaskTypeDependent,
		State:      model.StatusRunning,
		SubmitTime: now,
		StartTime:  &now,
		Timeout:    timeout,
	}
}

func TestPollerSweepUntilFinished(t *testing.T) {
	p := NewPoller(time.Second, zap.NewNop())
	ctx := context.Background()

	task := newTrackedTask(0)
	proc := &fakeProcessor{task: task, runsToFinish: 3}
	p.Track(task, proc)
	require.Equal(t, 1, p.ActiveCount())

	p.Sweep(ctx)
	p.Sweep(ctx)
	assert.Equal(t, model.StatusRunning, task.State)
	assert.Equal(t, 1, p.ActiveCount())

	p.Sweep(ctx)
	assert.Equal(t, model.StatusSuccess, task.State)
	assert.Equal(t, 0, p.ActiveCount())

	// Terminal tasks are not evaluated again
	p.Sweep(ctx)
	assert.Equal(t, 3, proc.runs)
}

func TestPollerTimeoutFiresOnce(t *testing.T) {
	p := NewPoller(time.Second, zap.NewNop())
	ctx := context.Background()

	task := newTrackedTask(time.Nanosecond)
	proc := &fakeProcessor{task: task, runsToFinish: 100}
	p.Track(task, proc)

	time.Sleep(time.Millisecond)
	p.Sweep(ctx)
	p.Sweep(ctx)

	// Advisory timeout: delivered once, polling continues
	assert.Equal(t, 1, proc.timeouts)
	assert.Equal(t, 2, proc.runs)
	assert.Equal(t, 1, p.ActiveCount())
}

func TestPollerTimeoutTerminates(t *testing.T) {
	p := NewPoller(time.Second, zap.NewNop())
	ctx := context.Background()

	task := newTrackedTask(time.Nanosecond)
	proc := &fakeProcessor{task: task, runsToFinish: 100, failOnTime: true}
	p.Track(task, proc)

	time.Sleep(time.Millisecond)
	p.Sweep(ctx)

	assert.Equal(t, model.StatusFailure, task.State)
	assert.Equal(t, 0, proc.runs)
	assert.Equal(t, 0, p.ActiveCount())
}

// slowProcessor records how many Run invocations overlap in time
type slowProcessor struct {
	fakeProcessor
	delay time.Duration

	inFlight      atomic.Int32
	maxConcurrent atomic.Int32
}

func (s *slowProcessor) Run(ctx context.Context) error {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxConcurrent.Load()
		if cur <= max || s.maxConcurrent.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(s.delay)
	return s.fakeProcessor.Run(ctx)
}

// A sweep that outlasts the poll interval must not overlap the next one: a
// tracked processor is evaluated by at most one sweep at a time
func TestPollerSlowSweepDoesNotOverlap(t *testing.T) {
	p := NewPoller(time.Second, zap.NewNop())

	task := newTrackedTask(0)
	proc := &slowProcessor{
		fakeProcessor: fakeProcessor{task: task, runsToFinish: 100},
		delay:         2500 * time.Millisecond,
	}
	p.Track(task, proc)

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(4 * time.Second)
	p.Stop()

	assert.GreaterOrEqual(t, proc.runs, 1)
	assert.Equal(t, int32(1), proc.maxConcurrent.Load())
}

func TestPollerStartStop(t *testing.T) {
	p := NewPoller(time.Second, zap.NewNop())
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestPollerUntrack(t *testing.T) {
	p := NewPoller(time.Second, zap.NewNop())

	task := newTrackedTask(0)
	p.Track(task, &fakeProcessor{task: task, runsToFinish: 1})
	p.Untrack(task.ID)
	assert.Equal(t, 0, p.ActiveCount())
}
