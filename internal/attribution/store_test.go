package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartwood-builders/attribution/internal/model"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewStore(mock), mock
}

func testAttribution() *model.Attribution {
	projectID := "proj-a"
	return &model.Attribution{
		SpanID:        "span-1",
		ModelID:       "claude-haiku-4-5-20251001",
		PromptVersion: "v2.0.0",
		ProjectID:     &projectID,
		Decision:      model.DecisionAssign,
		Confidence:    0.88,
		Reasoning:     "transcript names the project",
		Anchors: []model.Anchor{
			{Text: "henley", CandidateProjectID: "proj-a", MatchType: model.MatchAlias, Quote: "the henley slab"},
		},
		TokensUsed:   1200,
		InferenceMS:  900,
		AttributedBy: "anthropic",
		AttributedAt: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
	}
}

func TestStore_Upsert(t *testing.T) {
	s, mock := newMockStore(t)
	a := testAttribution()

	mock.ExpectExec(`INSERT INTO span_attributions`).
		WithArgs(a.SpanID, a.ModelID, a.PromptVersion, a.ProjectID, "assign",
			a.Confidence, a.Reasoning, pgxmock.AnyArg(), pgxmock.AnyArg(), false,
			a.TokensUsed, a.InferenceMS, pgxmock.AnyArg(), a.AttributedBy, a.AttributedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Upsert(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApplyProject(t *testing.T) {
	s, mock := newMockStore(t)
	projectID := "proj-a"

	mock.ExpectExec(`UPDATE span_attributions`).
		WithArgs("span-1", "model-x", "v2.0.0", &projectID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.ApplyProject(context.Background(), "span-1", "model-x", "v2.0.0", &projectID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApplyProject_HumanLockBlocks(t *testing.T) {
	s, mock := newMockStore(t)
	projectID := "proj-a"

	// The lock guard in the WHERE clause matches zero rows.
	mock.ExpectExec(`UPDATE span_attributions`).
		WithArgs("span-1", "model-x", "v2.0.0", &projectID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ApplyProject(context.Background(), "span-1", "model-x", "v2.0.0", &projectID)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SpanLock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT attribution_lock FROM span_attributions`).
		WithArgs("span-1").
		WillReturnRows(pgxmock.NewRows([]string{"attribution_lock"}).AddRow("human"))

	lock, err := s.SpanLock(context.Background(), "span-1")
	require.NoError(t, err)
	assert.Equal(t, model.LockHuman, lock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SpanLock_NoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT attribution_lock FROM span_attributions`).
		WithArgs("span-9").
		WillReturnError(pgx.ErrNoRows)

	lock, err := s.SpanLock(context.Background(), "span-9")
	require.NoError(t, err)
	assert.Equal(t, model.LockNone, lock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnqueueReview(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO review_queue`).
		WithArgs("span-1", "int-1", []string{"no_strong_anchor"}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.EnqueueReview(context.Background(), &model.ReviewQueueItem{
		SpanID:        "span-1",
		InteractionID: "int-1",
		Status:        model.ReviewPending,
		ReasonCodes:   []string{"no_strong_anchor"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ResolveReview_RejectsUnknownStatus(t *testing.T) {
	s, _ := newMockStore(t)
	assert.Error(t, s.ResolveReview(context.Background(), "span-1", "archived", "me"))
}

func TestStore_ApplyCorrections(t *testing.T) {
	s, mock := newMockStore(t)
	projectID := "proj-b"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO override_log`).
		WithArgs("key-1", "span-1", &projectID, "reviewer@hw").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE span_attributions`).
		WithArgs("span-1", &projectID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE review_queue`).
		WithArgs("span-1", model.ReviewResolved, "reviewer@hw").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	applied, err := s.ApplyCorrections(context.Background(), []Correction{
		{SpanID: "span-1", ProjectID: &projectID, IdempotencyKey: "key-1"},
	}, "reviewer@hw")
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApplyCorrections_InsertsLockRowForUnattributedSpan(t *testing.T) {
	s, mock := newMockStore(t)
	projectID := "proj-b"

	// No attribution row exists yet; the correction must still leave a
	// human-locked row behind or a later automated run would overwrite it.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO override_log`).
		WithArgs("key-1", "span-9", &projectID, "reviewer@hw").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE span_attributions`).
		WithArgs("span-9", &projectID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`INSERT INTO span_attributions`).
		WithArgs("span-9", &projectID, "assign", "reviewer@hw").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE review_queue`).
		WithArgs("span-9", model.ReviewResolved, "reviewer@hw").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	applied, err := s.ApplyCorrections(context.Background(), []Correction{
		{SpanID: "span-9", ProjectID: &projectID, IdempotencyKey: "key-1"},
	}, "reviewer@hw")
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApplyCorrections_IdempotentSkip(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO override_log`).
		WithArgs("key-1", "span-1", (*string)(nil), "reviewer@hw").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	applied, err := s.ApplyCorrections(context.Background(), []Correction{
		{SpanID: "span-1", IdempotencyKey: "key-1"},
	}, "reviewer@hw")
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApplyCorrections_FailClosed(t *testing.T) {
	s, mock := newMockStore(t)
	projectID := "proj-b"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO override_log`).
		WithArgs("key-1", "span-1", &projectID, "reviewer@hw").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE span_attributions`).
		WithArgs("span-1", &projectID).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := s.ApplyCorrections(context.Background(), []Correction{
		{SpanID: "span-1", ProjectID: &projectID, IdempotencyKey: "key-1"},
	}, "reviewer@hw")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApplyCorrections_Validation(t *testing.T) {
	s, _ := newMockStore(t)
	ctx := context.Background()

	_, err := s.ApplyCorrections(ctx, make([]Correction, 101), "reviewer@hw")
	assert.Error(t, err, "batch limit")

	_, err = s.ApplyCorrections(ctx, []Correction{{IdempotencyKey: "k"}}, "reviewer@hw")
	assert.Error(t, err, "missing span_id")

	_, err = s.ApplyCorrections(ctx, []Correction{{SpanID: "span-1"}}, "reviewer@hw")
	assert.Error(t, err, "missing idempotency_key")

	_, err = s.ApplyCorrections(ctx, []Correction{{SpanID: "span-1", IdempotencyKey: "k"}}, "")
	assert.Error(t, err, "missing corrected_by")

	applied, err := s.ApplyCorrections(ctx, nil, "reviewer@hw")
	require.NoError(t, err)
	assert.Zero(t, applied)
}
