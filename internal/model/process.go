package model

import "time"

// ProcessInstance represents one execution run of a whole workflow DAG
type ProcessInstance struct {
	ID              string          `json:"id"`
	WorkflowCode    int64           `json:"workflow_code"`
	WorkflowVersion int             `json:"workflow_version"`
	ProjectCode     int64           `json:"project_code"`
	Name            string          `json:"name"`
	State           ExecutionStatus `json:"state"`
	StateDesc       string          `json:"state_desc,omitempty"`

	// Blocked is set by a blocking gate task when its opportunity matches
	Blocked bool `json:"blocked"`

	// ScheduleTime is the cycle the run belongs to. Nil for manual runs.
	ScheduleTime *time.Time `json:"schedule_time,omitempty"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// SetStateWithDesc updates the state together with a human-readable reason
func (p *ProcessInstance) SetStateWithDesc(state ExecutionStatus, desc string) {
	p.State = state
	p.StateDesc = desc
}

// Project groups workflow definitions
type Project struct {
	Code int64  `json:"code"`
	Name string `json:"name"`
}

// WorkflowDefinition describes a workflow DAG
type WorkflowDefinition struct {
	Code        int64  `json:"code"`
	Name        string `json:"name"`
	Version     int    `json:"version"`
	ProjectCode int64  `json:"project_code"`
}

// TaskDefinition describes a task authored inside a workflow
type TaskDefinition struct {
	Code         int64  `json:"code"`
	Name         string `json:"name"`
	WorkflowCode int64  `json:"workflow_code"`
}
