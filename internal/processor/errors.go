package processor

import "errors"

var (
	// ErrUnknownTaskType is returned when no processor variant handles the task type
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrMissingBlockingParams is returned when a blocking task has no blocking parameters
	ErrMissingBlockingParams = errors.New("blocking task has no blocking parameters")

	// ErrInvalidOpportunity is returned when a blocking opportunity is not recognized
	ErrInvalidOpportunity = errors.New("invalid blocking opportunity")
)
