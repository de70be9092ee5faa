package cascade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartwood-builders/attribution/internal/config"
	"github.com/heartwood-builders/attribution/internal/guardrail"
	"github.com/heartwood-builders/attribution/internal/model"
)

// scriptedProvider returns canned results keyed by model ID.
type scriptedProvider struct {
	name    string
	models  []string
	results map[string]*Result
	errs    map[string]error
}

func (p *scriptedProvider) Name() string     { return p.name }
func (p *scriptedProvider) Models() []string { return p.models }

func (p *scriptedProvider) Attribute(_ context.Context, modelID, _, _ string, _ int) (*Result, error) {
	if err := p.errs[modelID]; err != nil {
		return nil, err
	}
	res, ok := p.results[modelID]
	if !ok {
		return nil, assert.AnError
	}
	return res, nil
}

func assignResult(projectID string, confidence float64) *Result {
	return &Result{
		Output: &Output{
			Decision:   model.DecisionAssign,
			ProjectID:  &projectID,
			Confidence: confidence,
		},
		Tokens:  100,
		CostUSD: 0.01,
	}
}

func reviewResult(projectID string, confidence float64) *Result {
	out := &Output{Decision: model.DecisionReview, Confidence: confidence}
	if projectID != "" {
		out.ProjectID = &projectID
	}
	return &Result{Output: out, Tokens: 100, CostUSD: 0.01}
}

func testCascadeConfig() config.CascadeConfig {
	return config.CascadeConfig{
		MaxStages:           3,
		StageTimeoutSecs:    12,
		MaxTokens:           1024,
		AutoAssignThreshold: 0.75,
		ReviewThreshold:     0.50,
	}
}

func TestEngine_ConsensusTerminatesFirstStage(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "openai", models: []string{"small-a", "large-a"},
		results: map[string]*Result{"small-a": assignResult("proj-x", 0.81)}}
	b := &scriptedProvider{name: "anthropic", models: []string{"small-b", "large-b"},
		results: map[string]*Result{"small-b": assignResult("proj-x", 0.88)}}

	out, err := NewEngine([]Provider{a, b}, guardrail.NewChain(), testCascadeConfig()).Run(context.Background(), "span-1", "sys", "user", &guardrail.Input{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAssign, out.Decision)
	require.NotNil(t, out.ProjectID)
	assert.Equal(t, "proj-x", *out.ProjectID)
	assert.Equal(t, 1, out.Stage)
	assert.Equal(t, "anthropic", out.Provider, "higher confidence provider is canonical")
	assert.InDelta(t, 0.88, out.Confidence, 0.001)
	assert.Contains(t, out.ReasonCodes, "cascade_consensus")
	assert.Len(t, out.Trail, 2)
	assert.EqualValues(t, 200, out.TokensUsed)
}

// Two cheap models agreeing on a fabricated quote must not terminate the
// cascade: their guarded decisions are reviews, so the engine escalates and
// the stronger models produce the real consensus.
func TestEngine_GuardsEachResponseBeforeConsensus(t *testing.T) {
	t.Parallel()

	in := &guardrail.Input{
		Transcript: "calling about the henley residence countertop install",
		Candidates: []model.Candidate{{ProjectID: "proj-a", Name: "Henley Residence",
			Evidence: model.Evidence{TierLabel: model.TierStrong}}},
	}
	fabricatedAnchor := []model.Anchor{{Text: "maple", CandidateProjectID: "proj-a",
		MatchType: model.MatchAlias, Quote: "the maple street job"}}
	verbatimAnchor := []model.Anchor{{Text: "henley residence", CandidateProjectID: "proj-a",
		MatchType: model.MatchAlias, Quote: "the henley residence countertop"}}

	aSmall := assignResult("proj-a", 0.9)
	aSmall.Output.Anchors = fabricatedAnchor
	aLarge := assignResult("proj-a", 0.9)
	aLarge.Output.Anchors = verbatimAnchor
	bSmall := assignResult("proj-a", 0.92)
	bSmall.Output.Anchors = fabricatedAnchor
	bLarge := assignResult("proj-a", 0.88)
	bLarge.Output.Anchors = verbatimAnchor

	a := &scriptedProvider{name: "openai", models: []string{"small-a", "large-a"},
		results: map[string]*Result{"small-a": aSmall, "large-a": aLarge}}
	b := &scriptedProvider{name: "anthropic", models: []string{"small-b", "large-b"},
		results: map[string]*Result{"small-b": bSmall, "large-b": bLarge}}

	ccfg := testCascadeConfig()
	chain := guardrail.NewDefaultChain(config.GuardrailConfig{}, ccfg, nil)

	out, err := NewEngine([]Provider{a, b}, chain, ccfg).Run(context.Background(), "span-1", "sys", "user", in)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAssign, out.Decision)
	require.NotNil(t, out.ProjectID)
	assert.Equal(t, "proj-a", *out.ProjectID)
	assert.Equal(t, 2, out.Stage, "fabricated stage-1 agreement must not terminate the cascade")
	assert.Contains(t, out.ReasonCodes, "cascade_consensus")
	require.Len(t, out.Trail, 4)
	assert.Equal(t, model.DecisionReview, out.Trail[0].Decision, "guarded stage-1 decision recorded")
	assert.Equal(t, model.DecisionReview, out.Trail[1].Decision)
}

func TestEngine_DisagreementEscalatesThenAgrees(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "openai", models: []string{"small-a", "large-a"},
		results: map[string]*Result{
			"small-a": assignResult("proj-x", 0.81),
			"large-a": assignResult("proj-y", 0.9),
		}}
	b := &scriptedProvider{name: "anthropic", models: []string{"small-b", "large-b"},
		results: map[string]*Result{
			"small-b": assignResult("proj-y", 0.77),
			"large-b": assignResult("proj-y", 0.86),
		}}

	out, err := NewEngine([]Provider{a, b}, guardrail.NewChain(), testCascadeConfig()).Run(context.Background(), "span-1", "sys", "user", &guardrail.Input{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAssign, out.Decision)
	require.NotNil(t, out.ProjectID)
	assert.Equal(t, "proj-y", *out.ProjectID)
	assert.Equal(t, 2, out.Stage)
	assert.Len(t, out.Trail, 4)
}

func TestEngine_PersistentDisagreementForcesReviewWithBestFallback(t *testing.T) {
	t.Parallel()

	// Assign at 0.81 beats the competing 0.95 review because an assign
	// carries the bonus. Exhaustion still forces review.
	a := &scriptedProvider{name: "openai", models: []string{"small-a"},
		results: map[string]*Result{"small-a": assignResult("proj-x", 0.81)}}
	b := &scriptedProvider{name: "anthropic", models: []string{"small-b"},
		results: map[string]*Result{"small-b": reviewResult("proj-y", 0.95)}}

	out, err := NewEngine([]Provider{a, b}, guardrail.NewChain(), testCascadeConfig()).Run(context.Background(), "span-1", "sys", "user", &guardrail.Input{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionReview, out.Decision)
	require.NotNil(t, out.ProjectID)
	assert.Equal(t, "proj-x", *out.ProjectID)
	assert.True(t, out.ForcedReview)
	assert.Contains(t, out.ReasonCodes, "cascade_disagreement")
}

func TestEngine_SingleValidResultAccepted(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "openai", models: []string{"small-a"},
		errs: map[string]error{"small-a": assert.AnError}}
	b := &scriptedProvider{name: "anthropic", models: []string{"small-b"},
		results: map[string]*Result{"small-b": assignResult("proj-x", 0.8)}}

	out, err := NewEngine([]Provider{a, b}, guardrail.NewChain(), testCascadeConfig()).Run(context.Background(), "span-1", "sys", "user", &guardrail.Input{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAssign, out.Decision)
	assert.Equal(t, "anthropic", out.Provider)
	assert.False(t, out.ForcedReview)
	assert.Len(t, out.Trail, 1)
}

func TestEngine_TotalExhaustion(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "openai", models: []string{"small-a", "large-a"},
		errs: map[string]error{"small-a": assert.AnError, "large-a": assert.AnError}}
	b := &scriptedProvider{name: "anthropic", models: []string{"small-b", "large-b"},
		errs: map[string]error{"small-b": assert.AnError, "large-b": assert.AnError}}

	out, err := NewEngine([]Provider{a, b}, guardrail.NewChain(), testCascadeConfig()).Run(context.Background(), "span-1", "sys", "user", &guardrail.Input{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionReview, out.Decision)
	assert.Nil(t, out.ProjectID)
	assert.Zero(t, out.Confidence)
	assert.True(t, out.ForcedReview)
	assert.Equal(t, []string{"cascade_exhausted"}, out.ReasonCodes)
	assert.Empty(t, out.Trail)
}

func TestEngine_MaxStagesCapsModelLists(t *testing.T) {
	t.Parallel()

	cfg := testCascadeConfig()
	cfg.MaxStages = 1
	a := &scriptedProvider{name: "openai", models: []string{"small-a", "large-a"},
		results: map[string]*Result{
			"small-a": assignResult("proj-x", 0.8),
			"large-a": assignResult("proj-y", 0.9),
		}}
	b := &scriptedProvider{name: "anthropic", models: []string{"small-b", "large-b"},
		results: map[string]*Result{
			"small-b": assignResult("proj-y", 0.7),
			"large-b": assignResult("proj-y", 0.9),
		}}

	out, err := NewEngine([]Provider{a, b}, guardrail.NewChain(), cfg).Run(context.Background(), "span-1", "sys", "user", &guardrail.Input{})
	require.NoError(t, err)
	// Only stage 1 ran; the disagreement became the forced-review fallback.
	assert.Equal(t, model.DecisionReview, out.Decision)
	assert.Len(t, out.Trail, 2)
	assert.Equal(t, 1, out.Trail[len(out.Trail)-1].Stage)
}

func TestEngine_UnevenProviderModelLists(t *testing.T) {
	t.Parallel()

	// Provider b runs out of models after stage 1; stage 2 is a solo call.
	a := &scriptedProvider{name: "openai", models: []string{"small-a", "large-a"},
		results: map[string]*Result{
			"small-a": assignResult("proj-x", 0.8),
			"large-a": assignResult("proj-y", 0.85),
		}}
	b := &scriptedProvider{name: "anthropic", models: []string{"small-b"},
		results: map[string]*Result{"small-b": assignResult("proj-y", 0.7)}}

	out, err := NewEngine([]Provider{a, b}, guardrail.NewChain(), testCascadeConfig()).Run(context.Background(), "span-1", "sys", "user", &guardrail.Input{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAssign, out.Decision)
	require.NotNil(t, out.ProjectID)
	assert.Equal(t, "proj-y", *out.ProjectID)
	assert.Equal(t, 2, out.Stage)
	assert.Equal(t, "openai", out.Provider)
}
