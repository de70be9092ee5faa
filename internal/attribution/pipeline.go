package attribution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/heartwood-builders/attribution/internal/cascade"
	"github.com/heartwood-builders/attribution/internal/config"
	"github.com/heartwood-builders/attribution/internal/guardrail"
	"github.com/heartwood-builders/attribution/internal/model"
	"github.com/heartwood-builders/attribution/internal/retrieval"
)

// FactReader is the fact-store surface the pipeline needs.
type FactReader interface {
	Span(ctx context.Context, id string) (*model.Span, error)
	Interaction(ctx context.Context, id string) (*model.Interaction, error)
	Contact(ctx context.Context, id string) (*model.Contact, error)
	ProjectFacts(ctx context.Context, projectID string, callTime time.Time, excludeInteractionID string, limit int) ([]model.Fact, error)
}

// Retriever assembles the candidate context for a span.
type Retriever interface {
	Assemble(ctx context.Context, span model.Span, interaction model.Interaction, contact model.Contact, callTime time.Time) (*retrieval.Assembly, error)
}

// Cascader runs the model cascade over a rendered prompt. Each raw model
// response is guarded against the input before stage transitions compare
// them.
type Cascader interface {
	Run(ctx context.Context, spanID, system, user string, in *guardrail.Input) (*cascade.Outcome, error)
}

// Persister is the write surface the pipeline needs.
type Persister interface {
	Upsert(ctx context.Context, a *model.Attribution) error
	ApplyProject(ctx context.Context, spanID, modelID, promptVersion string, projectID *string) error
	SpanLock(ctx context.Context, spanID string) (model.Lock, error)
	EnqueueReview(ctx context.Context, item *model.ReviewQueueItem) error
	ResolveReview(ctx context.Context, spanID, status, resolvedBy string) error
}

// Notifier receives applied assigns for downstream processing.
type Notifier interface {
	SpanAttributed(spanID, interactionID string, projectID string)
}

// PipelineResult is what one span run produced, including what was not
// persisted and why.
type PipelineResult struct {
	Attribution *model.Attribution       `json:"attribution"`
	Applied     bool                     `json:"applied"`
	GateReason  string                   `json:"gate_reason"`
	ReasonCodes []string                 `json:"reason_codes"`
	Trail       []model.CascadeCandidate `json:"cascade_trail"`
	CostUSD     float64                  `json:"cost_usd"`
	DryRun      bool                     `json:"dry_run"`
}

// Pipeline attributes one span end to end: fact loading, retrieval fusion,
// model cascade, guardrails, lock-gated persistence, hooks.
type Pipeline struct {
	facts     FactReader
	retriever Retriever
	cascader  Cascader
	prompts   *cascade.PromptBuilder
	store     Persister
	notifier  Notifier
	cfg       config.Config
}

func NewPipeline(facts FactReader, retriever Retriever, cascader Cascader,
	prompts *cascade.PromptBuilder,
	store Persister, notifier Notifier, cfg config.Config) *Pipeline {
	return &Pipeline{
		facts:     facts,
		retriever: retriever,
		cascader:  cascader,
		prompts:   prompts,
		store:     store,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Run attributes one span. With dryRun nothing is persisted and no hooks
// fire; the would-be attribution is still returned.
func (p *Pipeline) Run(ctx context.Context, spanID string, dryRun bool) (*PipelineResult, error) {
	span, err := p.facts.Span(ctx, spanID)
	if err != nil {
		return nil, err
	}
	if span == nil {
		return nil, eris.Errorf("attribution: span %s not found", spanID)
	}
	if span.Superseded {
		return nil, eris.Errorf("attribution: span %s is superseded", spanID)
	}

	interaction, err := p.facts.Interaction(ctx, span.InteractionID)
	if err != nil {
		return nil, err
	}
	if interaction == nil {
		return nil, eris.Errorf("attribution: interaction %s not found", span.InteractionID)
	}
	contact := &model.Contact{}
	if interaction.ContactID != "" {
		if contact, err = p.facts.Contact(ctx, interaction.ContactID); err != nil {
			return nil, err
		}
		if contact == nil {
			contact = &model.Contact{ID: interaction.ContactID}
		}
	}

	callTime := interaction.OccurredAt
	if callTime.IsZero() {
		callTime = time.Now().UTC()
	}

	asm, err := p.retriever.Assemble(ctx, *span, *interaction, *contact, callTime)
	if err != nil {
		return nil, err
	}

	facts := make(map[string][]model.Fact, len(asm.Candidates))
	for _, c := range asm.Candidates {
		projectFacts, err := p.facts.ProjectFacts(ctx, c.ProjectID, callTime,
			interaction.ID, p.cfg.Guardrails.MaxFactsPerProject)
		if err != nil {
			zap.L().Warn("project facts unavailable",
				zap.String("project_id", c.ProjectID), zap.Error(err))
			continue
		}
		facts[c.ProjectID] = projectFacts
	}

	in := &guardrail.Input{
		Transcript:   asm.Transcript,
		Candidates:   asm.Candidates,
		ProjectFacts: facts,
	}

	started := time.Now()
	outcome, err := p.cascader.Run(ctx, spanID,
		p.prompts.System(), p.prompts.User(asm, *interaction, *contact, facts), in)
	if err != nil {
		return nil, err
	}
	inferenceMS := time.Since(started).Milliseconds()

	attr := &model.Attribution{
		SpanID:           spanID,
		ModelID:          outcome.ModelID,
		PromptVersion:    p.cfg.Cascade.PromptVersion,
		ProjectID:        outcome.ProjectID,
		Decision:         outcome.Decision,
		Confidence:       outcome.Confidence,
		Reasoning:        outcome.Reasoning,
		Anchors:          outcome.Anchors,
		SuggestedAliases: outcome.SuggestedAliases,
		NeedsReview:      outcome.Decision != model.DecisionAssign,
		TokensUsed:       outcome.TokensUsed,
		InferenceMS:      inferenceMS,
		RawResponse:      outcome.Raw,
		AttributedBy:     outcome.Provider,
		AttributedAt:     time.Now().UTC(),
	}
	if attr.ModelID == "" {
		attr.ModelID = "cascade"
	}

	result := &PipelineResult{
		Attribution: attr,
		ReasonCodes: outcome.ReasonCodes,
		Trail:       outcome.Trail,
		CostUSD:     outcome.CostUSD,
		DryRun:      dryRun,
	}

	lock, err := p.store.SpanLock(ctx, spanID)
	if err != nil {
		return nil, err
	}
	apply, gateReason := Gatekeep(lock, outcome.Decision)
	result.Applied = apply
	result.GateReason = gateReason

	zap.L().Info("span attributed",
		zap.String("span_id", spanID),
		zap.String("decision", string(outcome.Decision)),
		zap.Float64("confidence", outcome.Confidence),
		zap.String("gate_reason", gateReason),
		zap.Strings("reason_codes", outcome.ReasonCodes),
		zap.Int64("tokens", outcome.TokensUsed),
		zap.Float64("cost_usd", outcome.CostUSD),
		zap.Bool("dry_run", dryRun),
	)

	if dryRun {
		return result, nil
	}

	if err := p.store.Upsert(ctx, attr); err != nil {
		return nil, err
	}
	if apply {
		if err := p.store.ApplyProject(ctx, spanID, attr.ModelID, attr.PromptVersion, outcome.ProjectID); err != nil {
			return nil, err
		}
		attr.Lock = model.LockAI
		attr.AppliedProjectID = outcome.ProjectID
		// An applied assign closes any open triage item for the span.
		if err := p.store.ResolveReview(ctx, spanID, model.ReviewResolved, attr.ModelID); err != nil {
			return nil, err
		}
	}

	if attr.NeedsReview && gateReason != ReasonHumanLockPresent {
		payload, _ := json.Marshal(map[string]any{
			"decision":     outcome.Decision,
			"confidence":   outcome.Confidence,
			"project_id":   outcome.ProjectID,
			"candidates":   asm.Candidates,
			"truncations":  asm.Truncations,
			"reason_codes": outcome.ReasonCodes,
		})
		item := &model.ReviewQueueItem{
			SpanID:         spanID,
			InteractionID:  interaction.ID,
			Status:         model.ReviewPending,
			ReasonCodes:    outcome.ReasonCodes,
			ContextPayload: payload,
		}
		if err := p.store.EnqueueReview(ctx, item); err != nil {
			return nil, err
		}
	}

	if apply && outcome.ProjectID != nil && p.notifier != nil {
		p.notifier.SpanAttributed(spanID, interaction.ID, *outcome.ProjectID)
	}
	return result, nil
}
