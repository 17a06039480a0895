package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/model"
)

const (
	taskStreamName    = "TASK_EVENTS"
	processStreamName = "PROCESS_EVENTS"
	masterStreamName  = "MASTER_EVENTS"

	taskStateSubjectPrefix    = "task.state"
	processStateSubjectPrefix = "process.state"
	heartbeatSubject          = "master.heartbeat"

	streamMaxAge = 24 * time.Hour
)

// TaskStateEvent announces a task instance state change
type TaskStateEvent struct {
	TaskInstanceID    string                `json:"task_instance_id"`
	TaskCode          int64                 `json:"task_code"`
	TaskType          model.TaskType        `json:"task_type"`
	ProcessInstanceID string                `json:"process_instance_id"`
	State             model.ExecutionStatus `json:"state"`
	OccurredAt        time.Time             `json:"occurred_at"`
}

// ProcessStateEvent announces a process instance state change
type ProcessStateEvent struct {
	ProcessInstanceID string                `json:"process_instance_id"`
	WorkflowCode      int64                 `json:"workflow_code"`
	State             model.ExecutionStatus `json:"state"`
	StateDesc         string                `json:"state_desc,omitempty"`
	Blocked           bool                  `json:"blocked"`
	OccurredAt        time.Time             `json:"occurred_at"`
}

// Heartbeat is the periodic liveness report of a master node
type Heartbeat struct {
	Host        string    `json:"host"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	ActiveTasks int       `json:"active_tasks"`
	CollectedAt time.Time `json:"collected_at"`
}

// Publisher publishes lifecycle events to NATS JetStream. It satisfies the
// processor Notifier contract.
type Publisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewPublisher creates the publisher and ensures its streams exist
func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{
		js:     js,
		logger: logger.Named("events"),
	}
	if err := p.setupStreams(); err != nil {
		return nil, fmt.Errorf("failed to setup streams: %w", err)
	}
	return p, nil
}

func (p *Publisher) setupStreams() error {
	streams := []*nats.StreamConfig{
		{Name: taskStreamName, Subjects: []string{taskStateSubjectPrefix + ".*"}},
		{Name: processStreamName, Subjects: []string{processStateSubjectPrefix + ".*"}},
		{Name: masterStreamName, Subjects: []string{"master.*"}},
	}
	for _, cfg := range streams {
		cfg.Storage = nats.FileStorage
		cfg.MaxAge = streamMaxAge
		if _, err := p.js.AddStream(cfg); err != nil {
			if err == nats.ErrStreamNameAlreadyInUse {
				p.logger.Info("Stream already exists", zap.String("stream", cfg.Name))
				continue
			}
			return err
		}
		p.logger.Info("Stream created", zap.String("stream", cfg.Name))
	}
	return nil
}

// TaskStateChanged publishes a task state-change event
func (p *Publisher) TaskStateChanged(ctx context.Context, task *model.TaskInstance) error {
	event := TaskStateEvent{
		TaskInstanceID:    task.ID,
		TaskCode:          task.Code,
		TaskType:          task.TaskType,
		ProcessInstanceID: task.ProcessInstanceID,
		State:             task.State,
		OccurredAt:        time.Now(),
	}
	subject := fmt.Sprintf("%s.%s", taskStateSubjectPrefix, task.ID)
	return p.publish(ctx, subject, event)
}

// ProcessStateChanged publishes a process state-change event
func (p *Publisher) ProcessStateChanged(ctx context.Context, process *model.ProcessInstance) error {
	event := ProcessStateEvent{
		ProcessInstanceID: process.ID,
		WorkflowCode:      process.WorkflowCode,
		State:             process.State,
		StateDesc:         process.StateDesc,
		Blocked:           process.Blocked,
		OccurredAt:        time.Now(),
	}
	subject := fmt.Sprintf("%s.%s", processStateSubjectPrefix, process.ID)
	return p.publish(ctx, subject, event)
}

// PublishHeartbeat publishes a master heartbeat
func (p *Publisher) PublishHeartbeat(ctx context.Context, hb Heartbeat) error {
	return p.publish(ctx, heartbeatSubject, hb)
}

func (p *Publisher) publish(ctx context.Context, subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug("Event published", zap.String("subject", subject))
	return nil
}
