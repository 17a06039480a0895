package model

import (
	"errors"
	"fmt"
)

// DependResult is the verdict of a dependency evaluation. WAITING is
// non-terminal: not enough information yet, evaluate again later.
type DependResult string

const (
	DependSuccess DependResult = "SUCCESS"
	DependFailed  DependResult = "FAILED"
	DependWaiting DependResult = "WAITING"
)

// DependentRelation combines multiple dependency results into one
type DependentRelation string

const (
	RelationAnd DependentRelation = "AND"
	RelationOr  DependentRelation = "OR"
)

// AllTaskCode is the sentinel task code meaning "every task in the
// referenced workflow for the cycle".
const AllTaskCode int64 = 0

// DependentItem is one leaf condition of a dependency expression: a task
// (or all tasks) of a workflow must have finished with the expected status
// within the cycle window. Immutable after parsing.
type DependentItem struct {
	ProjectCode    int64           `json:"project_code"`
	WorkflowCode   int64           `json:"workflow_code"`
	TaskCode       int64           `json:"task_code"`
	Cycle          string          `json:"cycle"`
	ExpectedStatus ExecutionStatus `json:"expected_status"`
}

// Key returns a stable identifier used for memoization and deduplicated logging
func (i DependentItem) Key() string {
	return fmt.Sprintf("%d-%d-%d-%s", i.ProjectCode, i.WorkflowCode, i.TaskCode, i.Cycle)
}

// DependentTaskModel is one authored row of a dependency expression
type DependentTaskModel struct {
	Relation DependentRelation `json:"relation"`
	Items    []DependentItem   `json:"items"`
}

// DependentParameters is the whole dependency expression of a task instance.
// Parsed once at submission, immutable afterwards.
type DependentParameters struct {
	Relation DependentRelation    `json:"relation"`
	Models   []DependentTaskModel `json:"models"`
}

var (
	// ErrEmptyDependency is returned when a dependency expression has no rows
	ErrEmptyDependency = errors.New("dependency expression has no rows")

	// ErrEmptyDependencyItems is returned when a dependency row has no items
	ErrEmptyDependencyItems = errors.New("dependency row has no items")
)

// Validate rejects dependency expressions that could never evaluate to a
// definite outcome. An empty relation list is a configuration error, never
// vacuously true.
func (p *DependentParameters) Validate() error {
	if p == nil || len(p.Models) == 0 {
		return ErrEmptyDependency
	}
	for i, m := range p.Models {
		if len(m.Items) == 0 {
			return fmt.Errorf("row %d: %w", i, ErrEmptyDependencyItems)
		}
	}
	return nil
}

// BlockingOpportunity selects which dependency verdict blocks the parent process
type BlockingOpportunity string

const (
	BlockingOnSuccess BlockingOpportunity = "BlockingOnSuccess"
	BlockingOnFailed  BlockingOpportunity = "BlockingOnFailed"
)

// ExpectedResult maps the opportunity to the verdict that triggers blocking
func (o BlockingOpportunity) ExpectedResult() DependResult {
	if o == BlockingOnSuccess {
		return DependSuccess
	}
	return DependFailed
}

// BlockingParameters configures a blocking gate task
type BlockingParameters struct {
	Opportunity       BlockingOpportunity `json:"opportunity"`
	AlertWhenBlocking bool                `json:"alert_when_blocking"`
}
