package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartwood-builders/attribution/internal/attribution"
)

func newTestRouter(t *testing.T) (http.Handler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newRouter(&env{attrStore: attribution.NewStore(mock)}), mock
}

func TestServe_Healthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_AttributionsValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/attributions", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/attributions", strings.NewReader(`{"span_id":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_CorrectionsValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	// Missing corrected_by fails closed before touching the database.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/corrections",
		strings.NewReader(`{"corrections":[{"span_id":"span-1","idempotency_key":"k"}]}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServe_PendingReviews(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(`FROM review_queue`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{
			"span_id", "interaction_id", "status", "reason_codes", "context_payload", "created_at",
		}).AddRow("span-1", "int-1", "pending", []string{"no_strong_anchor"}, []byte(`{}`), time.Now()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reviews", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "span-1")
	assert.Contains(t, rec.Body.String(), "no_strong_anchor")
	assert.NoError(t, mock.ExpectationsWereMet())
}
