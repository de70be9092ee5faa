package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartwood-builders/attribution/internal/cascade"
	"github.com/heartwood-builders/attribution/internal/config"
	"github.com/heartwood-builders/attribution/internal/guardrail"
	"github.com/heartwood-builders/attribution/internal/model"
	"github.com/heartwood-builders/attribution/internal/retrieval"
)

type stubFacts struct {
	span        *model.Span
	interaction *model.Interaction
	contact     *model.Contact
	facts       map[string][]model.Fact
}

func (s *stubFacts) Span(context.Context, string) (*model.Span, error) { return s.span, nil }
func (s *stubFacts) Interaction(context.Context, string) (*model.Interaction, error) {
	return s.interaction, nil
}
func (s *stubFacts) Contact(context.Context, string) (*model.Contact, error) {
	return s.contact, nil
}
func (s *stubFacts) ProjectFacts(_ context.Context, projectID string, _ time.Time, _ string, _ int) ([]model.Fact, error) {
	return s.facts[projectID], nil
}

type stubRetriever struct{ asm *retrieval.Assembly }

func (s *stubRetriever) Assemble(context.Context, model.Span, model.Interaction, model.Contact, time.Time) (*retrieval.Assembly, error) {
	return s.asm, nil
}

type stubCascader struct {
	outcome *cascade.Outcome
	input   *guardrail.Input
}

func (s *stubCascader) Run(_ context.Context, _, _, _ string, in *guardrail.Input) (*cascade.Outcome, error) {
	s.input = in
	return s.outcome, nil
}

type stubPersister struct {
	lock     model.Lock
	upserted *model.Attribution
	applied  *string
	appliedK bool
	review   *model.ReviewQueueItem
	resolved string
}

func (s *stubPersister) Upsert(_ context.Context, a *model.Attribution) error {
	s.upserted = a
	return nil
}
func (s *stubPersister) ApplyProject(_ context.Context, _, _, _ string, projectID *string) error {
	s.applied = projectID
	s.appliedK = true
	return nil
}
func (s *stubPersister) SpanLock(context.Context, string) (model.Lock, error) {
	return s.lock, nil
}
func (s *stubPersister) EnqueueReview(_ context.Context, item *model.ReviewQueueItem) error {
	s.review = item
	return nil
}
func (s *stubPersister) ResolveReview(_ context.Context, _, status, _ string) error {
	s.resolved = status
	return nil
}

type stubNotifier struct {
	spanID    string
	projectID string
	fired     int
}

func (s *stubNotifier) SpanAttributed(spanID, _, projectID string) {
	s.spanID = spanID
	s.projectID = projectID
	s.fired++
}

func testPipeline(outcome *cascade.Outcome, lock model.Lock) (*Pipeline, *stubPersister, *stubNotifier) {
	facts := &stubFacts{
		span:        &model.Span{ID: "span-1", InteractionID: "int-1", Transcript: "calling about the henley residence countertop"},
		interaction: &model.Interaction{ID: "int-1", ContactID: "contact-1", OccurredAt: time.Now()},
		contact:     &model.Contact{ID: "contact-1"},
	}
	retriever := &stubRetriever{asm: &retrieval.Assembly{
		Transcript: "calling about the henley residence countertop",
		Candidates: []model.Candidate{{ProjectID: "proj-a", Name: "Henley Residence",
			Evidence: model.Evidence{TierLabel: model.TierStrong}}},
	}}
	persister := &stubPersister{lock: lock}
	notifier := &stubNotifier{}

	cfg := config.Config{
		Cascade: config.CascadeConfig{PromptVersion: "v2.0.0", AutoAssignThreshold: 0.75, ReviewThreshold: 0.50},
		Guardrails: config.GuardrailConfig{
			StaffNames:         []string{"zack sittler", "chad barlow"},
			MaxFactsPerProject: 20,
		},
	}
	prompts := cascade.NewPromptBuilder(cfg.Guardrails.StaffNames, cfg.Guardrails.MaxFactsPerProject)

	p := NewPipeline(facts, retriever, &stubCascader{outcome: outcome}, prompts, persister, notifier, cfg)
	return p, persister, notifier
}

func assignOutcome(projectID string, confidence float64) *cascade.Outcome {
	return &cascade.Outcome{
		Decision:   model.DecisionAssign,
		ProjectID:  &projectID,
		Confidence: confidence,
		ModelID:    "claude-haiku-4-5-20251001",
		Provider:   "anthropic",
		Anchors: []model.Anchor{
			{Text: "henley residence", CandidateProjectID: projectID,
				MatchType: model.MatchAlias, Quote: "the henley residence countertop"},
		},
		TokensUsed: 1000,
		CostUSD:    0.02,
	}
}

func TestPipeline_AssignPersistsAppliesAndNotifies(t *testing.T) {
	t.Parallel()

	p, persister, notifier := testPipeline(assignOutcome("proj-a", 0.88), model.LockNone)

	res, err := p.Run(context.Background(), "span-1", false)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, ReasonAutoAssigned, res.GateReason)
	require.NotNil(t, persister.upserted)
	assert.Equal(t, model.DecisionAssign, persister.upserted.Decision)
	assert.True(t, persister.appliedK)
	assert.Equal(t, model.ReviewResolved, persister.resolved)
	require.NotNil(t, persister.applied)
	assert.Equal(t, "proj-a", *persister.applied)
	assert.Nil(t, persister.review)
	assert.Equal(t, 1, notifier.fired)
	assert.Equal(t, "proj-a", notifier.projectID)
}

func TestPipeline_ReviewOutcomeEnqueuesReview(t *testing.T) {
	t.Parallel()

	// The cascade guarded the response down to review, so the span lands in
	// the review queue unapplied.
	outcome := assignOutcome("proj-a", 0.88)
	outcome.Decision = model.DecisionReview
	outcome.ReasonCodes = []string{"no_valid_anchors"}
	p, persister, notifier := testPipeline(outcome, model.LockNone)

	res, err := p.Run(context.Background(), "span-1", false)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonNeedsReview, res.GateReason)
	assert.False(t, persister.appliedK)
	require.NotNil(t, persister.review)
	assert.Contains(t, persister.review.ReasonCodes, "no_valid_anchors")
	assert.Zero(t, notifier.fired)
}

func TestPipeline_PassesTranscriptContextToCascade(t *testing.T) {
	t.Parallel()

	cascader := &stubCascader{outcome: assignOutcome("proj-a", 0.88)}
	p, _, _ := testPipeline(cascader.outcome, model.LockNone)
	p.cascader = cascader

	_, err := p.Run(context.Background(), "span-1", false)
	require.NoError(t, err)
	require.NotNil(t, cascader.input)
	assert.Equal(t, "calling about the henley residence countertop", cascader.input.Transcript)
	require.Len(t, cascader.input.Candidates, 1)
	assert.Equal(t, "proj-a", cascader.input.Candidates[0].ProjectID)
}

func TestPipeline_HumanLockBlocksApplyAndReview(t *testing.T) {
	t.Parallel()

	p, persister, notifier := testPipeline(assignOutcome("proj-a", 0.88), model.LockHuman)

	res, err := p.Run(context.Background(), "span-1", false)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonHumanLockPresent, res.GateReason)
	require.NotNil(t, persister.upserted, "audit row still written, lock guard lives in SQL")
	assert.False(t, persister.appliedK)
	assert.Nil(t, persister.review)
	assert.Zero(t, notifier.fired)
}

func TestPipeline_DryRunPersistsNothing(t *testing.T) {
	t.Parallel()

	p, persister, notifier := testPipeline(assignOutcome("proj-a", 0.88), model.LockNone)

	res, err := p.Run(context.Background(), "span-1", true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.True(t, res.Applied, "gate result still reported")
	assert.Nil(t, persister.upserted)
	assert.False(t, persister.appliedK)
	assert.Nil(t, persister.review)
	assert.Zero(t, notifier.fired)
}

func TestPipeline_SupersededSpanRejected(t *testing.T) {
	t.Parallel()

	p, _, _ := testPipeline(assignOutcome("proj-a", 0.88), model.LockNone)
	p.facts = &stubFacts{
		span: &model.Span{ID: "span-1", InteractionID: "int-1", Superseded: true},
	}

	_, err := p.Run(context.Background(), "span-1", false)
	assert.Error(t, err)
}
