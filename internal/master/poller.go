// Package master owns the recurring evaluation loop of the execution core.
// Dependent tasks resolve asynchronously: the poller re-invokes their
// processors until they report a terminal state, and enforces task timeouts.
package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/model"
	"github.com/t77yq/flowmaster/internal/processor"
)

const defaultPollInterval = 10 * time.Second

// Poller drives tracked task processors on a fixed schedule. Each task
// instance is evaluated by exactly one sweep goroutine at a time.
type Poller struct {
	logger   *zap.Logger
	cron     *cron.Cron
	interval time.Duration

	mu      sync.Mutex
	entries map[string]*pollEntry
}

type pollEntry struct {
	task *model.TaskInstance
	proc processor.TaskProcessor

	// deadline is zero when the task has no timeout configured
	deadline time.Time
	// timeoutFired guarantees OnTimeout is delivered at most once
	timeoutFired bool
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewPoller creates a poller sweeping at the given interval
func NewPoller(interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	log := logger.Named("poller")
	// A sweep that outlasts the interval must not overlap the next firing:
	// each tracked processor is owned by exactly one sweep at a time
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(
			cron.SkipIfStillRunning(&cronLogger{logger: log}),
			cron.Recover(&cronLogger{logger: log}),
		),
	)
	return &Poller{
		logger:   log,
		cron:     c,
		interval: interval,
		entries:  make(map[string]*pollEntry),
	}
}

// Start registers the sweep schedule and starts the cron runner
func (p *Poller) Start(ctx context.Context) error {
	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		p.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	p.cron.Start()
	p.logger.Info("Poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop stops the cron runner and waits for an in-flight sweep to finish
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	p.logger.Info("Poller stopped")
}

// Track adds a processor for recurring evaluation until it reaches a
// terminal state. The timeout deadline is anchored at the task's start time.
func (p *Poller) Track(task *model.TaskInstance, proc processor.TaskProcessor) {
	entry := &pollEntry{task: task, proc: proc}
	if task.Timeout > 0 {
		base := task.SubmitTime
		if task.StartTime != nil {
			base = *task.StartTime
		}
		entry.deadline = base.Add(task.Timeout)
	}

	p.mu.Lock()
	p.entries[task.ID] = entry
	p.mu.Unlock()

	p.logger.Info("Tracking task",
		zap.String("task_id", task.ID),
		zap.String("task_type", string(task.TaskType)),
		zap.Duration("timeout", task.Timeout))
}

// Untrack removes a task from the sweep set
func (p *Poller) Untrack(taskID string) {
	p.mu.Lock()
	delete(p.entries, taskID)
	p.mu.Unlock()
}

// ActiveCount returns the number of tracked tasks
func (p *Poller) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Sweep runs one evaluation pass over every tracked processor. Terminal
// tasks are dropped from the set.
func (p *Poller) Sweep(ctx context.Context) {
	for _, entry := range p.snapshot() {
		if entry.task.State.Finished() {
			p.Untrack(entry.task.ID)
			continue
		}

		if !entry.timeoutFired && !entry.deadline.IsZero() && time.Now().After(entry.deadline) {
			entry.timeoutFired = true
			p.logger.Info("Task deadline passed",
				zap.String("task_id", entry.task.ID))
			if err := entry.proc.OnTimeout(ctx); err != nil {
				p.logger.Error("Task timeout handling failed",
					zap.String("task_id", entry.task.ID),
					zap.Error(err))
			}
			if entry.task.State.Finished() {
				p.Untrack(entry.task.ID)
				continue
			}
		}

		if err := entry.proc.Run(ctx); err != nil {
			p.logger.Error("Task evaluation failed",
				zap.String("task_id", entry.task.ID),
				zap.Error(err))
			continue
		}
		if entry.task.State.Finished() {
			p.Untrack(entry.task.ID)
		}
	}
}

func (p *Poller) snapshot() []*pollEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]*pollEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	return entries
}
