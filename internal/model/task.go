package model

import (
	"time"
)

// ExecutionStatus represents the lifecycle state of a task or process instance
type ExecutionStatus string

const (
	StatusCreated   ExecutionStatus = "created"
	StatusSubmitted ExecutionStatus = "submitted"
	StatusRunning   ExecutionStatus = "running"
	StatusSuccess   ExecutionStatus = "success"
	StatusFailure   ExecutionStatus = "failure"
	StatusPause     ExecutionStatus = "pause"
	StatusKill      ExecutionStatus = "kill"

	// StatusReadyBlock applies to process instances only. It is set by the
	// blocking gate when the configured opportunity matches.
	StatusReadyBlock ExecutionStatus = "ready_block"
)

// Finished reports whether the status is terminal. A terminal task instance
// is never re-evaluated.
func (s ExecutionStatus) Finished() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusPause, StatusKill:
		return true
	}
	return false
}

// TaskType identifies which processor handles a task instance
type TaskType string

const (
	TaskTypeDependent TaskType = "DEPENDENT"
	TaskTypeBlocking  TaskType = "BLOCKING"
)

// TimeoutStrategy controls what happens when a task instance exceeds its timeout
type TimeoutStrategy string

const (
	TimeoutWarn        TimeoutStrategy = "WARN"
	TimeoutFail        TimeoutStrategy = "FAILED"
	TimeoutWarnAndFail TimeoutStrategy = "WARNFAILED"
)

// ShouldFail reports whether the strategy forces the task to FAILURE on timeout
func (s TimeoutStrategy) ShouldFail() bool {
	return s == TimeoutFail || s == TimeoutWarnAndFail
}

// TaskInstance represents one execution attempt of a task within a process run
type TaskInstance struct {
	ID                string          `json:"id"`
	Code              int64           `json:"code"`
	Name              string          `json:"name"`
	TaskType          TaskType        `json:"task_type"`
	ProcessInstanceID string          `json:"process_instance_id"`
	State             ExecutionStatus `json:"state"`
	Host              string          `json:"host,omitempty"`

	// Timing fields
	SubmitTime time.Time  `json:"submit_time"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`

	// Timeout configuration. A zero Timeout means no deadline.
	Timeout         time.Duration   `json:"timeout,omitempty"`
	TimeoutStrategy TimeoutStrategy `json:"timeout_strategy,omitempty"`

	// Already-deserialized task parameters supplied by the configuration
	// source. Dependency is set for both DEPENDENT and BLOCKING tasks;
	// Blocking only for BLOCKING ones.
	Dependency *DependentParameters `json:"dependency,omitempty"`
	Blocking   *BlockingParameters  `json:"blocking,omitempty"`
}
