package processor

import (
	"github.com/t77yq/flowmaster/internal/model"
)

// ResultForRelation folds an ordered sequence of dependency results into one
// verdict.
//
// AND is SUCCESS iff every result is SUCCESS, FAILED if any result is FAILED,
// WAITING otherwise. OR is SUCCESS if any result is SUCCESS, FAILED iff every
// result is FAILED, WAITING otherwise. Empty sequences are rejected at parse
// time and never reach this function; they fold to WAITING defensively so a
// misconfiguration can never count as satisfied.
func ResultForRelation(relation model.DependentRelation, results []model.DependResult) model.DependResult {
	if len(results) == 0 {
		return model.DependWaiting
	}

	switch relation {
	case model.RelationAnd:
		waiting := false
		for _, r := range results {
			switch r {
			case model.DependFailed:
				return model.DependFailed
			case model.DependWaiting:
				waiting = true
			}
		}
		if waiting {
			return model.DependWaiting
		}
		return model.DependSuccess

	case model.RelationOr:
		allFailed := true
		for _, r := range results {
			if r == model.DependSuccess {
				return model.DependSuccess
			}
			if r != model.DependFailed {
				allFailed = false
			}
		}
		if allFailed {
			return model.DependFailed
		}
		return model.DependWaiting
	}

	return model.DependWaiting
}
