package attribution

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/heartwood-builders/attribution/internal/model"
)

// Pool is the subset of *pgxpool.Pool the attribution store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store reads and writes attribution decisions, the review queue, and the
// correction audit log.
type Store struct {
	pool Pool
}

func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS span_attributions (
		span_id            text NOT NULL,
		model_id           text NOT NULL,
		prompt_version     text NOT NULL,
		project_id         text,
		applied_project_id text,
		decision           text NOT NULL,
		confidence         double precision NOT NULL,
		reasoning          text NOT NULL DEFAULT '',
		anchors            jsonb NOT NULL DEFAULT '[]',
		suggested_aliases  jsonb,
		attribution_lock   text NOT NULL DEFAULT '',
		needs_review       boolean NOT NULL DEFAULT false,
		tokens_used        bigint NOT NULL DEFAULT 0,
		inference_ms       bigint NOT NULL DEFAULT 0,
		raw_response       jsonb,
		attributed_by      text NOT NULL,
		attributed_at      timestamptz NOT NULL DEFAULT now(),
		applied_at_utc     timestamptz,
		PRIMARY KEY (span_id, model_id, prompt_version)
	)`,
	`CREATE INDEX IF NOT EXISTS span_attributions_applied_idx
		ON span_attributions (applied_project_id)
		WHERE applied_project_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS review_queue (
		span_id         text NOT NULL,
		interaction_id  text NOT NULL DEFAULT '',
		status          text NOT NULL DEFAULT 'pending',
		reason_codes    text[] NOT NULL DEFAULT '{}',
		context_payload jsonb,
		created_at      timestamptz NOT NULL DEFAULT now(),
		resolved_at     timestamptz,
		resolved_by     text NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS review_queue_pending_idx
		ON review_queue (span_id)
		WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS override_log (
		idempotency_key text PRIMARY KEY,
		span_id         text NOT NULL,
		project_id      text,
		corrected_by    text NOT NULL,
		created_at      timestamptz NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the attribution tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "attribution: run migration")
		}
	}
	return nil
}

const upsertAttributionSQL = `
INSERT INTO span_attributions (
	span_id, model_id, prompt_version, project_id, decision, confidence,
	reasoning, anchors, suggested_aliases, needs_review, tokens_used,
	inference_ms, raw_response, attributed_by, attributed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (span_id, model_id, prompt_version) DO UPDATE SET
	project_id = EXCLUDED.project_id,
	decision = EXCLUDED.decision,
	confidence = EXCLUDED.confidence,
	reasoning = EXCLUDED.reasoning,
	anchors = EXCLUDED.anchors,
	suggested_aliases = EXCLUDED.suggested_aliases,
	needs_review = EXCLUDED.needs_review,
	tokens_used = EXCLUDED.tokens_used,
	inference_ms = EXCLUDED.inference_ms,
	raw_response = EXCLUDED.raw_response,
	attributed_by = EXCLUDED.attributed_by,
	attributed_at = EXCLUDED.attributed_at
WHERE span_attributions.attribution_lock IS DISTINCT FROM 'human'`

// Upsert writes the decision record. A human-locked row is left untouched.
func (s *Store) Upsert(ctx context.Context, a *model.Attribution) error {
	anchors, err := json.Marshal(a.Anchors)
	if err != nil {
		return eris.Wrap(err, "attribution: marshal anchors")
	}
	var aliases []byte
	if len(a.SuggestedAliases) > 0 {
		if aliases, err = json.Marshal(a.SuggestedAliases); err != nil {
			return eris.Wrap(err, "attribution: marshal suggested aliases")
		}
	}

	_, err = s.pool.Exec(ctx, upsertAttributionSQL,
		a.SpanID, a.ModelID, a.PromptVersion, a.ProjectID, string(a.Decision),
		a.Confidence, a.Reasoning, anchors, aliases, a.NeedsReview,
		a.TokensUsed, a.InferenceMS, a.RawResponse, a.AttributedBy, a.AttributedAt,
	)
	if err != nil {
		return eris.Wrap(err, "attribution: upsert")
	}
	return nil
}

const applyProjectSQL = `
UPDATE span_attributions
SET applied_project_id = $4, attribution_lock = 'ai', applied_at_utc = now()
WHERE span_id = $1 AND model_id = $2 AND prompt_version = $3
	AND attribution_lock IS DISTINCT FROM 'human'`

// ApplyProject moves the applied pointer under an ai lock.
func (s *Store) ApplyProject(ctx context.Context, spanID, modelID, promptVersion string, projectID *string) error {
	tag, err := s.pool.Exec(ctx, applyProjectSQL, spanID, modelID, promptVersion, projectID)
	if err != nil {
		return eris.Wrap(err, "attribution: apply project")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("attribution: apply skipped for span %s, row locked or missing", spanID)
	}
	return nil
}

const spanLockSQL = `
SELECT attribution_lock FROM span_attributions
WHERE span_id = $1
ORDER BY CASE attribution_lock WHEN 'human' THEN 3 WHEN 'ai' THEN 2 ELSE 0 END DESC
LIMIT 1`

// SpanLock returns the strongest lock held by any attribution row for the
// span, or LockNone when the span has never been attributed.
func (s *Store) SpanLock(ctx context.Context, spanID string) (model.Lock, error) {
	var lock string
	err := s.pool.QueryRow(ctx, spanLockSQL, spanID).Scan(&lock)
	if err == pgx.ErrNoRows {
		return model.LockNone, nil
	}
	if err != nil {
		return model.LockNone, eris.Wrap(err, "attribution: span lock")
	}
	return model.Lock(lock), nil
}

const enqueueReviewSQL = `
INSERT INTO review_queue (span_id, interaction_id, status, reason_codes, context_payload)
VALUES ($1, $2, 'pending', $3, $4)
ON CONFLICT (span_id) WHERE status = 'pending' DO UPDATE SET
	reason_codes = EXCLUDED.reason_codes,
	context_payload = EXCLUDED.context_payload`

// EnqueueReview upserts the span's single pending review item.
func (s *Store) EnqueueReview(ctx context.Context, item *model.ReviewQueueItem) error {
	_, err := s.pool.Exec(ctx, enqueueReviewSQL,
		item.SpanID, item.InteractionID, item.ReasonCodes, item.ContextPayload)
	if err != nil {
		return eris.Wrap(err, "attribution: enqueue review")
	}
	return nil
}

const resolveReviewSQL = `
UPDATE review_queue
SET status = $2, resolved_at = now(), resolved_by = $3
WHERE span_id = $1 AND status = 'pending'`

// ResolveReview closes the span's pending review item, if any.
func (s *Store) ResolveReview(ctx context.Context, spanID, status, resolvedBy string) error {
	if status != model.ReviewResolved && status != model.ReviewDismissed {
		return eris.Errorf("attribution: invalid review status %q", status)
	}
	if _, err := s.pool.Exec(ctx, resolveReviewSQL, spanID, status, resolvedBy); err != nil {
		return eris.Wrap(err, "attribution: resolve review")
	}
	return nil
}

const pendingReviewsSQL = `
SELECT span_id, interaction_id, status, reason_codes, context_payload, created_at
FROM review_queue
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1`

// PendingReviews lists open triage items, oldest first.
func (s *Store) PendingReviews(ctx context.Context, limit int) ([]model.ReviewQueueItem, error) {
	rows, err := s.pool.Query(ctx, pendingReviewsSQL, limit)
	if err != nil {
		return nil, eris.Wrap(err, "attribution: pending reviews")
	}
	defer rows.Close()

	var items []model.ReviewQueueItem
	for rows.Next() {
		var item model.ReviewQueueItem
		if err := rows.Scan(&item.SpanID, &item.InteractionID, &item.Status,
			&item.ReasonCodes, &item.ContextPayload, &item.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "attribution: scan review item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
