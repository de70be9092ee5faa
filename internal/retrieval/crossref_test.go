package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartwood-builders/attribution/internal/model"
)

func TestComputeClaimCrossref_RareTermBeatsGenericOverlap(t *testing.T) {
	t.Parallel()

	transcript := "the calacatta viola slab for the wine cellar got damaged, about $14,000 worth"
	claims := []model.JournalClaim{
		{ProjectID: "proj-a", Text: "ordered calacatta viola slab for wine cellar, $14,000 invoice pending"},
		{ProjectID: "proj-b", Text: "white marble countertop install scheduled"},
		{ProjectID: "proj-c", Text: "white marble backsplash, generic punch list items"},
	}

	scores := ComputeClaimCrossref(transcript, []string{"proj-a", "proj-b", "proj-c"}, claims)
	require.Len(t, scores, 3)
	assert.Equal(t, "proj-a", scores[0].ProjectID)
	assert.Greater(t, scores[0].Score, scores[1].Score)
	assert.Contains(t, scores[0].Topics, "calacatta")
}

func TestComputeClaimCrossref_GenericTermsInAllProjectsScoreLow(t *testing.T) {
	t.Parallel()

	// "marble" appears in every candidate's claims so IDF is near zero.
	transcript := "checking on the marble"
	claims := []model.JournalClaim{
		{ProjectID: "proj-a", Text: "marble delivery"},
		{ProjectID: "proj-b", Text: "marble template"},
	}

	scores := ComputeClaimCrossref(transcript, []string{"proj-a", "proj-b"}, claims)
	require.Len(t, scores, 2)
	for _, s := range scores {
		assert.Less(t, s.Score, 0.5)
	}
}

func TestComputeClaimCrossref_NoClaimsScoresZero(t *testing.T) {
	t.Parallel()

	scores := ComputeClaimCrossref("granite countertop", []string{"proj-a"}, nil)
	require.Len(t, scores, 1)
	assert.Zero(t, scores[0].Score)
	assert.Empty(t, scores[0].Topics)
}

func TestComputeClaimCrossref_EmptyTranscript(t *testing.T) {
	t.Parallel()

	scores := ComputeClaimCrossref("  ", []string{"proj-a", "proj-b"}, []model.JournalClaim{
		{ProjectID: "proj-a", Text: "anything"},
	})
	require.Len(t, scores, 2)
	assert.Zero(t, scores[0].Score)
	assert.Zero(t, scores[1].Score)
}

func TestExtractDollarAmounts(t *testing.T) {
	t.Parallel()

	out := extractDollarAmounts("it ran $14,250.50 plus 300 dollars each")
	assert.Contains(t, out, "$14250.50")
	assert.Contains(t, out, "$300")
}

func TestExtractCompoundTerms(t *testing.T) {
	t.Parallel()

	out := extractCompoundTerms("the mystery white marble and a cracked slab")
	assert.Contains(t, out, "white marble")
	assert.Contains(t, out, "cracked slab")
}

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	t.Parallel()

	out := tokenize("Yeah the granite is going in today ok")
	assert.Contains(t, out, "granite")
	assert.NotContains(t, out, "yeah")
	assert.NotContains(t, out, "the")
	assert.NotContains(t, out, "ok")
}
