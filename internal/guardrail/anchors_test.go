package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartwood-builders/attribution/internal/model"
)

var testStaffNames = []string{"zack sittler", "zachary sittler", "zach sittler", "chad barlow"}

func strPtr(s string) *string { return &s }

func TestAnchorRule_RejectsStaffNameAnchors(t *testing.T) {
	t.Parallel()

	rule := NewAnchorRule(testStaffNames)
	v := &Verdict{
		Decision:   model.DecisionAssign,
		ProjectID:  strPtr("proj-a"),
		Confidence: 0.9,
		Anchors: []model.Anchor{
			{Quote: "Zack Sittler: yeah we can do that", Text: "sittler", MatchType: model.MatchClientName, CandidateProjectID: "proj-a"},
		},
	}
	in := &Input{Transcript: "Zack Sittler: yeah we can do that"}

	rule.Evaluate(v, in)
	assert.Empty(t, v.Anchors)
	assert.Equal(t, model.DecisionReview, v.Decision)
	assert.Contains(t, v.ReasonCodes, "staff_name_anchor_rejected")
	assert.Contains(t, v.ReasonCodes, "no_valid_anchors")
	assert.Equal(t, 1, v.RejectedStaffAnchors)
}

func TestAnchorRule_SurnameWithProjectContextSurvives(t *testing.T) {
	t.Parallel()

	// "sittler residence" names a project, not the estimator.
	rule := NewAnchorRule(testStaffNames)
	v := &Verdict{
		Decision:  model.DecisionAssign,
		ProjectID: strPtr("proj-a"),
		Anchors: []model.Anchor{
			{Quote: "over at the sittler residence", Text: "sittler residence", MatchType: model.MatchAlias, CandidateProjectID: "proj-a"},
		},
	}
	in := &Input{Transcript: "we're over at the Sittler residence today"}

	rule.Evaluate(v, in)
	require.Len(t, v.Anchors, 1)
	assert.Equal(t, model.DecisionAssign, v.Decision)
	assert.Zero(t, v.RejectedStaffAnchors)
}

func TestAnchorRule_QuoteMustBeVerbatim(t *testing.T) {
	t.Parallel()

	rule := NewAnchorRule(nil)
	v := &Verdict{
		Decision:  model.DecisionAssign,
		ProjectID: strPtr("proj-a"),
		Anchors: []model.Anchor{
			{Quote: "the henley countertop order", MatchType: model.MatchAlias},
		},
	}
	in := &Input{Transcript: "calling about the maple street job"}

	rule.Evaluate(v, in)
	assert.Empty(t, v.Anchors)
	assert.Equal(t, model.DecisionReview, v.Decision)
	assert.Contains(t, v.ReasonCodes, "no_valid_anchors")
}

func TestAnchorRule_NormalizesWhitespaceAndCase(t *testing.T) {
	t.Parallel()

	rule := NewAnchorRule(nil)
	v := &Verdict{
		Decision:  model.DecisionAssign,
		ProjectID: strPtr("proj-a"),
		Anchors: []model.Anchor{
			{Quote: "The  Henley   slab", Text: "henley", MatchType: model.MatchAlias},
		},
	}
	in := &Input{Transcript: "so the henley slab came in yesterday"}

	rule.Evaluate(v, in)
	require.Len(t, v.Anchors, 1)
	assert.Equal(t, model.DecisionAssign, v.Decision)
}

func TestAnchorRule_TextMustBeInsideQuote(t *testing.T) {
	t.Parallel()

	rule := NewAnchorRule(nil)
	v := &Verdict{
		Decision:  model.DecisionAssign,
		ProjectID: strPtr("proj-a"),
		Anchors: []model.Anchor{
			{Quote: "the slab came in", Text: "henley", MatchType: model.MatchAlias},
		},
	}
	in := &Input{Transcript: "the slab came in"}

	rule.Evaluate(v, in)
	assert.Empty(t, v.Anchors)
	assert.Equal(t, model.DecisionReview, v.Decision)
}

func TestAnchorRule_WeakAnchorsOnlyDowngrades(t *testing.T) {
	t.Parallel()

	rule := NewAnchorRule(nil)
	v := &Verdict{
		Decision:  model.DecisionAssign,
		ProjectID: strPtr("proj-a"),
		Anchors: []model.Anchor{
			{Quote: "out in portsmouth", Text: "portsmouth", MatchType: model.MatchCityOrLocation},
		},
	}
	in := &Input{Transcript: "yeah we're out in portsmouth this week"}

	rule.Evaluate(v, in)
	require.Len(t, v.Anchors, 1)
	assert.Equal(t, model.DecisionReview, v.Decision)
	assert.Contains(t, v.ReasonCodes, "no_strong_anchor")
}

func TestAnchorRule_ReviewDecisionKeepsFilteringOnly(t *testing.T) {
	t.Parallel()

	rule := NewAnchorRule(nil)
	v := &Verdict{
		Decision: model.DecisionReview,
		Anchors: []model.Anchor{
			{Quote: "nowhere in transcript", MatchType: model.MatchAlias},
		},
	}
	in := &Input{Transcript: "different words entirely"}

	rule.Evaluate(v, in)
	assert.Empty(t, v.Anchors)
	assert.Equal(t, model.DecisionReview, v.Decision)
	assert.Empty(t, v.ReasonCodes)
}
