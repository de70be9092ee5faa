package attribution

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/heartwood-builders/attribution/internal/model"
)

// maxCorrectionBatch bounds a single correction request.
const maxCorrectionBatch = 100

// Correction is one human reassignment of a span. A nil ProjectID detaches
// the span. IdempotencyKey makes client retries safe.
type Correction struct {
	SpanID         string  `json:"span_id"`
	ProjectID      *string `json:"project_id"`
	IdempotencyKey string  `json:"idempotency_key"`
}

const insertOverrideSQL = `
INSERT INTO override_log (idempotency_key, span_id, project_id, corrected_by)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING`

const humanApplySQL = `
UPDATE span_attributions
SET applied_project_id = $2, attribution_lock = 'human',
	applied_at_utc = now(), needs_review = false
WHERE span_id = $1`

// humanInsertSQL records a correction for a span that was never attributed.
// Without this row there would be nothing carrying the human lock and a
// later automated run could overwrite the correction.
const humanInsertSQL = `
INSERT INTO span_attributions (
	span_id, model_id, prompt_version, project_id, applied_project_id,
	decision, confidence, attribution_lock, needs_review, attributed_by,
	applied_at_utc
) VALUES ($1, 'human', 'human', $2, $2, $3, 1.0, 'human', false, $4, now())`

// ApplyCorrections applies a batch of human corrections in one transaction.
// The whole batch fails closed: one bad correction rolls back everything.
// Corrections whose idempotency key was already seen are skipped.
func (s *Store) ApplyCorrections(ctx context.Context, corrections []Correction, correctedBy string) (applied int, err error) {
	if len(corrections) == 0 {
		return 0, nil
	}
	if len(corrections) > maxCorrectionBatch {
		return 0, eris.Errorf("attribution: batch of %d exceeds limit of %d", len(corrections), maxCorrectionBatch)
	}
	if correctedBy == "" {
		return 0, eris.New("attribution: corrected_by is required")
	}
	for i, c := range corrections {
		if c.SpanID == "" {
			return 0, eris.Errorf("attribution: correction %d missing span_id", i)
		}
		if c.IdempotencyKey == "" {
			return 0, eris.Errorf("attribution: correction %d missing idempotency_key", i)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "attribution: begin corrections")
	}
	defer tx.Rollback(ctx)

	for _, c := range corrections {
		tag, err := tx.Exec(ctx, insertOverrideSQL, c.IdempotencyKey, c.SpanID, c.ProjectID, correctedBy)
		if err != nil {
			return 0, eris.Wrap(err, "attribution: log correction")
		}
		if tag.RowsAffected() == 0 {
			zap.L().Info("correction already applied, skipping",
				zap.String("span_id", c.SpanID),
				zap.String("idempotency_key", c.IdempotencyKey),
			)
			continue
		}

		applyTag, err := tx.Exec(ctx, humanApplySQL, c.SpanID, c.ProjectID)
		if err != nil {
			return 0, eris.Wrap(err, "attribution: apply correction")
		}
		if applyTag.RowsAffected() == 0 {
			decision := model.DecisionAssign
			if c.ProjectID == nil {
				decision = model.DecisionNone
			}
			if _, err := tx.Exec(ctx, humanInsertSQL, c.SpanID, c.ProjectID, string(decision), correctedBy); err != nil {
				return 0, eris.Wrap(err, "attribution: record correction")
			}
		}
		if _, err := tx.Exec(ctx, resolveReviewSQL, c.SpanID, model.ReviewResolved, correctedBy); err != nil {
			return 0, eris.Wrap(err, "attribution: resolve review for correction")
		}
		applied++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "attribution: commit corrections")
	}
	return applied, nil
}
