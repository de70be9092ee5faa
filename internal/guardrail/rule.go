// Package guardrail holds the deterministic post-model rule chain. Rules
// run in a fixed order and may only downgrade a decision; the single
// exception is a configured override gate, which may force an assign when
// its address evidence is unambiguous.
package guardrail

import (
	"go.uber.org/zap"

	"github.com/heartwood-builders/attribution/internal/config"
	"github.com/heartwood-builders/attribution/internal/model"
)

// Input is the read-only context a rule evaluates against.
type Input struct {
	Transcript   string
	Candidates   []model.Candidate
	ProjectFacts map[string][]model.Fact
	WorldRefs    []model.WorldModelReference
}

// Verdict is the mutable decision state threaded through the chain.
type Verdict struct {
	Decision    model.Decision
	ProjectID   *string
	Confidence  float64
	Anchors     []model.Anchor
	ReasonCodes []string

	RejectedStaffAnchors int
}

// AddReason appends a reason code, skipping duplicates.
func (v *Verdict) AddReason(code string) {
	for _, c := range v.ReasonCodes {
		if c == code {
			return
		}
	}
	v.ReasonCodes = append(v.ReasonCodes, code)
}

// Rule is one deterministic check over a verdict.
type Rule interface {
	Name() string
	Evaluate(v *Verdict, in *Input)
}

// Forcing marks a rule that is allowed to upgrade a decision. Only override
// gates implement it.
type Forcing interface {
	Forcing() bool
}

// Chain runs rules in order and enforces that non-forcing rules never raise
// the decision rank.
type Chain struct {
	rules []Rule
}

func NewChain(rules ...Rule) *Chain {
	return &Chain{rules: rules}
}

// NewDefaultChain builds the production rule order. Override gates run last
// so a forced assign is not re-downgraded by the rules it overrides.
func NewDefaultChain(gcfg config.GuardrailConfig, ccfg config.CascadeConfig, gates []Gate) *Chain {
	return NewChain(
		NewAnchorRule(gcfg.StaffNames),
		NewCommonAliasRule(),
		NewBizdevRule(),
		NewWorldModelRule(),
		NewTierRule(),
		NewThresholdRule(ccfg.AutoAssignThreshold, ccfg.ReviewThreshold),
		NewOverrideRule(gates, gcfg.OverrideGateUpgrade),
	)
}

// Apply runs the chain over the verdict in place.
func (c *Chain) Apply(v *Verdict, in *Input) {
	for _, rule := range c.rules {
		before := v.Decision
		rule.Evaluate(v, in)

		forcing := false
		if f, ok := rule.(Forcing); ok {
			forcing = f.Forcing()
		}
		if !forcing && v.Decision.Rank() > before.Rank() {
			zap.L().Warn("guardrail attempted upgrade, reverted",
				zap.String("rule", rule.Name()),
				zap.String("before", string(before)),
				zap.String("after", string(v.Decision)),
			)
			v.Decision = before
		}
	}
}
