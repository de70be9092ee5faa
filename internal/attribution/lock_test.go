package attribution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heartwood-builders/attribution/internal/model"
)

func TestGatekeep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		existing   model.Lock
		decision   model.Decision
		wantApply  bool
		wantReason string
	}{
		{"assign_no_lock", model.LockNone, model.DecisionAssign, true, ReasonAutoAssigned},
		{"assign_over_ai_lock", model.LockAI, model.DecisionAssign, true, ReasonAutoAssigned},
		{"assign_blocked_by_human", model.LockHuman, model.DecisionAssign, false, ReasonHumanLockPresent},
		{"review_no_lock", model.LockNone, model.DecisionReview, false, ReasonNeedsReview},
		{"review_preserves_ai_lock", model.LockAI, model.DecisionReview, false, ReasonAILockPreserved},
		{"review_blocked_by_human", model.LockHuman, model.DecisionReview, false, ReasonHumanLockPresent},
		{"none_no_lock", model.LockNone, model.DecisionNone, false, ReasonNoMatch},
		{"none_preserves_ai_lock", model.LockAI, model.DecisionNone, false, ReasonAILockPreserved},
		{"none_blocked_by_human", model.LockHuman, model.DecisionNone, false, ReasonHumanLockPresent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apply, reason := Gatekeep(tt.existing, tt.decision)
			assert.Equal(t, tt.wantApply, apply)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}
