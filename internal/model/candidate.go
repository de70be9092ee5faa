package model

// AliasMatch records a term from a project's name/alias/address set that was
// found in the transcript, with a snippet of surrounding context.
type AliasMatch struct {
	Term      string `json:"term"`
	MatchType string `json:"match_type"`
	Snippet   string `json:"snippet,omitempty"`
}

// Evidence tier labels derived from fused retrieval scores.
const (
	TierSmokingGun = "smoking_gun"
	TierStrong     = "strong"
	TierModerate   = "moderate"
	TierWeak       = "weak"
	TierAnti       = "anti"
)

// Evidence bundles everything the retrieval sources contributed for one
// candidate project. Evidence from multiple sources is merged, never
// duplicated.
type Evidence struct {
	Sources         []string     `json:"sources"`
	AffinityWeight  float64      `json:"affinity_weight"`
	Assigned        bool         `json:"assigned"`
	AliasMatches    []AliasMatch `json:"alias_matches"`
	TranscriptScore float64      `json:"transcript_score,omitempty"`
	ClaimScore      float64      `json:"claim_crossref_score,omitempty"`
	ClaimTopics     []string     `json:"matching_topics,omitempty"`
	GeoDistanceKM   *float64     `json:"geo_distance_km,omitempty"`
	RRFScore        float64      `json:"rrf_score,omitempty"`
	TierLabel       string       `json:"evidence_tier_label,omitempty"`
}

// HasSource reports whether the named source already contributed.
func (e *Evidence) HasSource(name string) bool {
	for _, s := range e.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// AddSource appends the source name if it is not already recorded.
func (e *Evidence) AddSource(name string) {
	if !e.HasSource(name) {
		e.Sources = append(e.Sources, name)
	}
}

// GeoOnly reports whether geo proximity is the candidate's only evidence.
func (e *Evidence) GeoOnly() bool {
	return len(e.Sources) == 1 && e.Sources[0] == "geo_proximity"
}

// Candidate is an ephemeral, per-request project proposal with merged
// evidence. Candidate lists are deduplicated by project ID per span request.
type Candidate struct {
	ProjectID  string   `json:"project_id"`
	Name       string   `json:"project_name"`
	Address    string   `json:"address,omitempty"`
	ClientName string   `json:"client_name,omitempty"`
	Aliases    []string `json:"aliases"`
	Status     string   `json:"status,omitempty"`
	Phase      string   `json:"phase,omitempty"`
	Evidence   Evidence `json:"evidence"`
}
