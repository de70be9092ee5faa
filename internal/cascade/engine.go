package cascade

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heartwood-builders/attribution/internal/config"
	"github.com/heartwood-builders/attribution/internal/guardrail"
	"github.com/heartwood-builders/attribution/internal/model"
)

// Outcome is the cascade's selected attribution. Decision, project,
// confidence, and anchors are the guarded values; reasoning and raw output
// come from the winning model response.
type Outcome struct {
	Decision         model.Decision
	ProjectID        *string
	Confidence       float64
	Reasoning        string
	Anchors          []model.Anchor
	SuggestedAliases []model.SuggestedAlias
	WorldRefs        []model.WorldModelReference
	Provider         string
	ModelID          string
	Stage            int
	Raw              json.RawMessage
	TokensUsed       int64
	CostUSD          float64
	Trail            []model.CascadeCandidate
	ReasonCodes      []string
	ForcedReview     bool
}

type call struct {
	provider Provider
	modelID  string
	stage    int
	res      *Result
	err      error
	verdict  *guardrail.Verdict
}

// Engine escalates a span through model stages. Each stage fans out to both
// providers in parallel and runs the guardrail chain over each raw response;
// two independently guarded assigns to the same project terminate the
// cascade, anything weaker escalates to the next stage.
type Engine struct {
	providers    []Provider
	chain        *guardrail.Chain
	maxStages    int
	stageTimeout time.Duration
	maxTokens    int
}

func NewEngine(providers []Provider, chain *guardrail.Chain, cfg config.CascadeConfig) *Engine {
	return &Engine{
		providers:    providers,
		chain:        chain,
		maxStages:    cfg.MaxStages,
		stageTimeout: time.Duration(cfg.StageTimeoutSecs) * time.Second,
		maxTokens:    cfg.MaxTokens,
	}
}

func (e *Engine) stages() int {
	n := 0
	for _, p := range e.providers {
		if len(p.Models()) > n {
			n = len(p.Models())
		}
	}
	if e.maxStages > 0 && e.maxStages < n {
		n = e.maxStages
	}
	return n
}

// Run executes the cascade for one rendered prompt. Stage transitions
// compare guarded decisions, not raw model output, so a pair of cheap
// models agreeing on a fabricated anchor cannot short-circuit escalation.
func (e *Engine) Run(ctx context.Context, spanID, system, user string, in *guardrail.Input) (*Outcome, error) {
	var (
		tokens   int64
		cost     float64
		trail    []model.CascadeCandidate
		fallback *call
	)

	for stage := 1; stage <= e.stages(); stage++ {
		calls := e.runStage(ctx, stage, system, user)

		var valid []*call
		for _, c := range calls {
			if c.err != nil {
				zap.L().Warn("cascade call failed",
					zap.String("span_id", spanID),
					zap.String("provider", c.provider.Name()),
					zap.String("model", c.modelID),
					zap.Int("stage", stage),
					zap.Error(c.err),
				)
				continue
			}
			c.verdict = e.judge(c.res.Output, in)
			tokens += c.res.Tokens
			cost += c.res.CostUSD
			trail = append(trail, candidateFromCall(c))
			valid = append(valid, c)
		}

		switch {
		case len(valid) == 2 && consensusAssign(valid[0], valid[1]):
			winner := valid[0]
			if valid[1].verdict.Confidence > winner.verdict.Confidence {
				winner = valid[1]
			}
			out := outcomeFromCall(winner, tokens, cost, trail)
			out.AddReason("cascade_consensus")
			return out, nil

		case len(valid) == 2:
			best := betterFallback(valid[0], valid[1])
			if fallback == nil || callScore(best) > callScore(fallback) {
				fallback = best
			}
			zap.L().Info("cascade stage disagreement, escalating",
				zap.String("span_id", spanID),
				zap.Int("stage", stage),
			)

		case len(valid) == 1:
			return outcomeFromCall(valid[0], tokens, cost, trail), nil
		}
	}

	if fallback != nil {
		out := outcomeFromCall(fallback, tokens, cost, trail)
		if out.Decision == model.DecisionAssign {
			out.Decision = model.DecisionReview
		}
		out.ForcedReview = true
		out.AddReason("cascade_disagreement")
		return out, nil
	}

	return &Outcome{
		Decision:     model.DecisionReview,
		Confidence:   0,
		TokensUsed:   tokens,
		CostUSD:      cost,
		Trail:        trail,
		ReasonCodes:  []string{"cascade_exhausted"},
		ForcedReview: true,
	}, nil
}

// judge runs the guardrail chain over one raw response. The shared input is
// copied so each response is validated against its own world-model
// references.
func (e *Engine) judge(out *Output, in *guardrail.Input) *guardrail.Verdict {
	v := &guardrail.Verdict{
		Decision:   out.Decision,
		ProjectID:  out.ProjectID,
		Confidence: out.Confidence,
		Anchors:    out.Anchors,
	}
	if e.chain == nil {
		return v
	}
	scoped := guardrail.Input{}
	if in != nil {
		scoped = *in
	}
	scoped.WorldRefs = out.WorldRefs
	e.chain.Apply(v, &scoped)
	return v
}

// runStage fires one call per provider that has a model for this stage.
func (e *Engine) runStage(ctx context.Context, stage int, system, user string) []*call {
	var calls []*call
	for _, p := range e.providers {
		models := p.Models()
		if stage > len(models) {
			continue
		}
		calls = append(calls, &call{provider: p, modelID: models[stage-1], stage: stage})
	}

	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(c *call) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
			defer cancel()
			c.res, c.err = c.provider.Attribute(callCtx, c.modelID, system, user, e.maxTokens)
		}(c)
	}
	wg.Wait()
	return calls
}

func consensusAssign(a, b *call) bool {
	av, bv := a.verdict, b.verdict
	return av.Decision == model.DecisionAssign &&
		bv.Decision == model.DecisionAssign &&
		av.ProjectID != nil && bv.ProjectID != nil &&
		*av.ProjectID == *bv.ProjectID
}

// callScore ranks fallback candidates: a guarded assign outranks any review,
// then confidence breaks ties.
func callScore(c *call) float64 {
	score := c.verdict.Confidence
	if c.verdict.Decision == model.DecisionAssign {
		score += 1.0
	}
	return score
}

func betterFallback(a, b *call) *call {
	if callScore(b) > callScore(a) {
		return b
	}
	return a
}

func candidateFromCall(c *call) model.CascadeCandidate {
	return model.CascadeCandidate{
		Provider:   c.provider.Name(),
		Model:      c.modelID,
		Stage:      c.stage,
		ProjectID:  c.verdict.ProjectID,
		Confidence: c.verdict.Confidence,
		Decision:   c.verdict.Decision,
		Anchors:    c.verdict.Anchors,
		Tokens:     c.res.Tokens,
		CostUSD:    c.res.CostUSD,
	}
}

func outcomeFromCall(c *call, tokens int64, cost float64, trail []model.CascadeCandidate) *Outcome {
	out := c.res.Output
	return &Outcome{
		Decision:         c.verdict.Decision,
		ProjectID:        c.verdict.ProjectID,
		Confidence:       c.verdict.Confidence,
		Reasoning:        out.Reasoning,
		Anchors:          c.verdict.Anchors,
		SuggestedAliases: out.SuggestedAliases,
		WorldRefs:        out.WorldRefs,
		Provider:         c.provider.Name(),
		ModelID:          c.modelID,
		Stage:            c.stage,
		Raw:              c.res.Raw,
		TokensUsed:       tokens,
		CostUSD:          cost,
		Trail:            trail,
		ReasonCodes:      c.verdict.ReasonCodes,
	}
}

// AddReason appends a reason code, skipping duplicates.
func (o *Outcome) AddReason(code string) {
	for _, c := range o.ReasonCodes {
		if c == code {
			return
		}
	}
	o.ReasonCodes = append(o.ReasonCodes, code)
}
