package model

import (
	"encoding/json"
	"time"
)

// Decision is the outcome of attribution for a span.
type Decision string

const (
	DecisionAssign Decision = "assign"
	DecisionReview Decision = "review"
	DecisionNone   Decision = "none"
)

// Rank orders decisions none < review < assign. Guardrails may only move a
// decision toward a lower rank.
func (d Decision) Rank() int {
	switch d {
	case DecisionAssign:
		return 2
	case DecisionReview:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is one of the three known decisions.
func (d Decision) Valid() bool {
	return d == DecisionAssign || d == DecisionReview || d == DecisionNone
}

// Lock is the trust level protecting an attribution: human > ai > none.
type Lock string

const (
	LockNone  Lock = ""
	LockAI    Lock = "ai"
	LockHuman Lock = "human"
)

// Rank orders locks none < ai < human.
func (l Lock) Rank() int {
	switch l {
	case LockHuman:
		return 3
	case LockAI:
		return 2
	default:
		return 0
	}
}

// Attribution is the durable decision record for a span, keyed by
// (span_id, model_id, prompt_version) so identical reruns upsert in place.
// The applied pointer (AppliedProjectID + Lock) is the single source of
// truth for downstream readers; the rest is audit.
type Attribution struct {
	SpanID           string           `json:"span_id"`
	ModelID          string           `json:"model_id"`
	PromptVersion    string           `json:"prompt_version"`
	ProjectID        *string          `json:"project_id"`
	AppliedProjectID *string          `json:"applied_project_id"`
	Decision         Decision         `json:"decision"`
	Confidence       float64          `json:"confidence"`
	Reasoning        string           `json:"reasoning"`
	Anchors          []Anchor         `json:"anchors"`
	SuggestedAliases []SuggestedAlias `json:"suggested_aliases,omitempty"`
	Lock             Lock             `json:"attribution_lock"`
	NeedsReview      bool             `json:"needs_review"`
	TokensUsed       int64            `json:"tokens_used"`
	InferenceMS      int64            `json:"inference_ms"`
	RawResponse      json.RawMessage  `json:"raw_response,omitempty"`
	AttributedBy     string           `json:"attributed_by"`
	AttributedAt     time.Time        `json:"attributed_at"`
	AppliedAt        *time.Time       `json:"applied_at_utc,omitempty"`
}

// CascadeCandidate is the ephemeral per-stage winner record used to select
// the final attribution. Never persisted as an independent entity.
type CascadeCandidate struct {
	Provider   string   `json:"provider"`
	Model      string   `json:"model"`
	Stage      int      `json:"stage"`
	ProjectID  *string  `json:"project_id"`
	Confidence float64  `json:"confidence"`
	Decision   Decision `json:"decision"`
	Anchors    []Anchor `json:"anchors"`
	Tokens     int64    `json:"tokens"`
	CostUSD    float64  `json:"cost_usd"`
}

// ReviewQueueItem is the single active triage item for a span. Items are
// upserted idempotently while review conditions persist and resolved or
// dismissed downstream.
type ReviewQueueItem struct {
	SpanID         string          `json:"span_id"`
	InteractionID  string          `json:"interaction_id"`
	Status         string          `json:"status"`
	ReasonCodes    []string        `json:"reason_codes"`
	ContextPayload json.RawMessage `json:"context_payload"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy     string          `json:"resolved_by,omitempty"`
}

// Review queue item statuses.
const (
	ReviewPending   = "pending"
	ReviewResolved  = "resolved"
	ReviewDismissed = "dismissed"
)
