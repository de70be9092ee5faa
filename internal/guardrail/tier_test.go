package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heartwood-builders/attribution/internal/model"
)

func tierInput(projectID, tier string) *Input {
	return &Input{Candidates: []model.Candidate{
		{ProjectID: projectID, Evidence: model.Evidence{TierLabel: tier}},
	}}
}

func TestTierRule_WeakTierDowngradesAssign(t *testing.T) {
	t.Parallel()

	rule := NewTierRule()
	v := &Verdict{Decision: model.DecisionAssign, ProjectID: strPtr("proj-a"), Confidence: 0.9}

	rule.Evaluate(v, tierInput("proj-a", model.TierWeak))
	assert.Equal(t, model.DecisionReview, v.Decision)
	assert.Contains(t, v.ReasonCodes, "rrf_tier_weak_downgrade")
}

func TestTierRule_AntiTierDowngradesAssign(t *testing.T) {
	t.Parallel()

	rule := NewTierRule()
	v := &Verdict{Decision: model.DecisionAssign, ProjectID: strPtr("proj-a"), Confidence: 0.9}

	rule.Evaluate(v, tierInput("proj-a", model.TierAnti))
	assert.Equal(t, model.DecisionReview, v.Decision)
	assert.Contains(t, v.ReasonCodes, "rrf_tier_anti_downgrade")
}

func TestTierRule_SmokingGunRaisesConfidenceFloor(t *testing.T) {
	t.Parallel()

	rule := NewTierRule()
	v := &Verdict{Decision: model.DecisionAssign, ProjectID: strPtr("proj-a"), Confidence: 0.78}

	rule.Evaluate(v, tierInput("proj-a", model.TierSmokingGun))
	assert.Equal(t, model.DecisionAssign, v.Decision)
	assert.InDelta(t, 0.85, v.Confidence, 0.001)
	assert.Contains(t, v.ReasonCodes, "rrf_tier_smoking_gun_boost")
}

func TestTierRule_SmokingGunAboveFloorUntouched(t *testing.T) {
	t.Parallel()

	rule := NewTierRule()
	v := &Verdict{Decision: model.DecisionAssign, ProjectID: strPtr("proj-a"), Confidence: 0.93}

	rule.Evaluate(v, tierInput("proj-a", model.TierSmokingGun))
	assert.InDelta(t, 0.93, v.Confidence, 0.001)
	assert.Empty(t, v.ReasonCodes)
}

func TestTierRule_ModerateTierNoChange(t *testing.T) {
	t.Parallel()

	rule := NewTierRule()
	v := &Verdict{Decision: model.DecisionAssign, ProjectID: strPtr("proj-a"), Confidence: 0.8}

	rule.Evaluate(v, tierInput("proj-a", model.TierModerate))
	assert.Equal(t, model.DecisionAssign, v.Decision)
	assert.Empty(t, v.ReasonCodes)
}

func TestTierRule_UnknownCandidateNoChange(t *testing.T) {
	t.Parallel()

	rule := NewTierRule()
	v := &Verdict{Decision: model.DecisionAssign, ProjectID: strPtr("proj-missing"), Confidence: 0.8}

	rule.Evaluate(v, tierInput("proj-a", model.TierWeak))
	assert.Equal(t, model.DecisionAssign, v.Decision)
}
