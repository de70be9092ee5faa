package retrieval

import "github.com/heartwood-builders/attribution/internal/model"

// Reciprocal rank fusion over the ranked retrieval channels, with the
// standard smoothing constant k=60 (Cormack et al.). A project's fused
// score is the sum of 1/(k+rank) over every channel that ranked it.

// rrfChannels are the sources whose ordered output participates in fusion.
var rrfChannels = map[string]bool{
	SourceAffinity: true,
	SourceFTS:      true,
	SourceTrigram:  true,
	SourceVector:   true,
}

// RRFScores computes fused scores per project from the per-source proposal
// lists. Ranks are 1-based; proposals without a rank are ignored.
func RRFScores(proposals map[string][]Proposal, k int) map[string]float64 {
	scores := make(map[string]float64)
	for source, list := range proposals {
		if !rrfChannels[source] {
			continue
		}
		for _, p := range list {
			if p.ChannelRank <= 0 {
				continue
			}
			scores[p.ProjectID] += 1.0 / float64(k+p.ChannelRank)
		}
	}
	return scores
}

// ClassifyTier maps a candidate's merged evidence into the five-tier
// retrieval signal scale used by the tier guardrail.
func ClassifyTier(e *model.Evidence) string {
	strength := e.AffinityWeight
	if e.TranscriptScore > 0 && e.TranscriptScore > strength {
		strength = 1.0
	}

	hasStrongMatch := false
	for _, m := range e.AliasMatches {
		switch m.MatchType {
		case model.MatchExactProjectName, model.MatchAlias, model.MatchAddressFragment, model.MatchClientName, model.MatchContinuity:
			hasStrongMatch = true
		}
	}

	switch {
	case e.Assigned && hasStrongMatch && strength >= 1.0:
		return model.TierSmokingGun
	case hasStrongMatch || (e.Assigned && strength >= 0.5):
		return model.TierStrong
	case len(e.AliasMatches) > 0 || strength >= 0.2:
		return model.TierModerate
	case strength > 0 || len(e.Sources) > 0:
		return model.TierWeak
	default:
		return model.TierAnti
	}
}
