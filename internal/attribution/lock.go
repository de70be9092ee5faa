// Package attribution persists cascade outcomes and guards them with the
// lock ladder: a human lock is never overwritten by the pipeline, an ai
// lock yields only to a fresh assign or a human.
package attribution

import (
	"github.com/heartwood-builders/attribution/internal/model"
)

// Gatekeeper reason codes.
const (
	ReasonHumanLockPresent = "human_lock_present"
	ReasonAILockPreserved  = "ai_lock_preserved"
	ReasonAutoAssigned     = "auto_assigned"
	ReasonNeedsReview      = "needs_review"
	ReasonNoMatch          = "no_match"
)

// Gatekeep decides whether a pipeline decision may move the applied project
// pointer given the span's current lock.
func Gatekeep(existing model.Lock, decision model.Decision) (apply bool, reason string) {
	if existing == model.LockHuman {
		return false, ReasonHumanLockPresent
	}
	switch decision {
	case model.DecisionAssign:
		return true, ReasonAutoAssigned
	case model.DecisionReview:
		if existing == model.LockAI {
			return false, ReasonAILockPreserved
		}
		return false, ReasonNeedsReview
	default:
		if existing == model.LockAI {
			return false, ReasonAILockPreserved
		}
		return false, ReasonNoMatch
	}
}
