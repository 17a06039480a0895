// Package monitor reports master liveness. A collector samples host CPU and
// memory on an interval and publishes the snapshot as a heartbeat event.
package monitor

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/events"
)

const defaultHeartbeatInterval = 30 * time.Second

// HeartbeatReporter delivers heartbeats to the event transport
type HeartbeatReporter interface {
	PublishHeartbeat(ctx context.Context, hb events.Heartbeat) error
}

// Collector samples host metrics and reports heartbeats until stopped
type Collector struct {
	logger   *zap.Logger
	reporter HeartbeatReporter
	interval time.Duration
	host     string

	// activeTasks is queried at collection time, typically the poller's
	// tracked-task count
	activeTasks func() int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a heartbeat collector. activeTasks may be nil.
func NewCollector(reporter HeartbeatReporter, interval time.Duration, activeTasks func() int, logger *zap.Logger) *Collector {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if activeTasks == nil {
		activeTasks = func() int { return 0 }
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Collector{
		logger:      logger.Named("monitor"),
		reporter:    reporter,
		interval:    interval,
		host:        host,
		activeTasks: activeTasks,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the collection loop
func (c *Collector) Start(ctx context.Context) {
	go c.collectLoop(ctx)
	c.logger.Info("Heartbeat collector started",
		zap.String("host", c.host),
		zap.Duration("interval", c.interval))
}

// Stop terminates the collection loop and waits for it to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
	c.logger.Info("Heartbeat collector stopped")
}

func (c *Collector) collectLoop(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First heartbeat goes out immediately
	c.collectAndReport(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectAndReport(ctx)
		}
	}
}

func (c *Collector) collectAndReport(ctx context.Context) {
	hb := events.Heartbeat{
		Host:        c.host,
		ActiveTasks: c.activeTasks(),
		CollectedAt: time.Now(),
	}

	if percents, err := cpu.Percent(time.Second, false); err != nil {
		c.logger.Warn("Failed to collect CPU usage", zap.Error(err))
	} else if len(percents) > 0 {
		hb.CPUUsage = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		c.logger.Warn("Failed to collect memory usage", zap.Error(err))
	} else {
		hb.MemoryUsage = vm.UsedPercent
	}

	if err := c.reporter.PublishHeartbeat(ctx, hb); err != nil {
		c.logger.Error("Failed to report heartbeat", zap.Error(err))
		return
	}

	c.logger.Debug("Heartbeat reported",
		zap.Float64("cpu_usage", hb.CPUUsage),
		zap.Float64("memory_usage", hb.MemoryUsage),
		zap.Int("active_tasks", hb.ActiveTasks))
}
