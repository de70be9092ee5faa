package model

// Anchor match types returned by the attribution models. STRONG types can
// support an auto-assign; WEAK types never suffice alone because multiple
// projects may share a city, a caller, or a pronunciation.
const (
	MatchExactProjectName = "exact_project_name"
	MatchAlias            = "alias"
	MatchAddressFragment  = "address_fragment"
	MatchClientName       = "client_name"
	MatchCityOrLocation   = "city_or_location"
	MatchMentionedContact = "mentioned_contact"
	MatchPhonetic         = "phonetic_or_pronunciation"
	MatchContinuity       = "continuity_callback"
	MatchDBScan           = "db_scan"
	MatchOther            = "other"
)

var strongMatchTypes = map[string]bool{
	MatchExactProjectName: true,
	MatchAlias:            true,
	MatchAddressFragment:  true,
	MatchClientName:       true,
}

// Anchor is a quoted piece of transcript evidence tying a span to a project.
// An anchor is only valid when its quote is a verbatim substring of the
// transcript (after whitespace normalization) and, when text is present,
// the text is contained in the quote.
type Anchor struct {
	Text               string `json:"text"`
	CandidateProjectID string `json:"candidate_project_id"`
	MatchType          string `json:"match_type"`
	Quote              string `json:"quote"`
}

// Strong reports whether the anchor's match type can support an auto-assign.
func (a Anchor) Strong() bool {
	return strongMatchTypes[a.MatchType]
}

// HasStrongAnchor reports whether any anchor in the slice is a strong type.
func HasStrongAnchor(anchors []Anchor) bool {
	for _, a := range anchors {
		if a.Strong() {
			return true
		}
	}
	return false
}

// SuggestedAlias is a model-proposed alias for the alias-review workflow.
type SuggestedAlias struct {
	ProjectID string `json:"project_id"`
	AliasTerm string `json:"alias_term"`
	Rationale string `json:"rationale"`
}

// WorldModelReference is a model citation of a stored project fact used as
// supporting evidence. Citations are verified against the fact store before
// they can count toward an assign.
type WorldModelReference struct {
	ProjectID   string `json:"project_id"`
	FactKind    string `json:"fact_kind"`
	FactAsOf    string `json:"fact_as_of_at,omitempty"`
	FactExcerpt string `json:"fact_excerpt"`
	Relevance   string `json:"relevance"`
}
