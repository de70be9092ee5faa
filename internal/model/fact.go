package model

import (
	"encoding/json"
	"time"
)

// Fact is one time-stamped world-model observation about a project.
// AsOf is when the fact was true; ObservedAt is when it was recorded.
// EvidenceEventID and InteractionID identify where the fact came from so
// facts sourced from the current call can be excluded (a span must not
// corroborate itself).
type Fact struct {
	ID              string          `json:"fact_id"`
	ProjectID       string          `json:"project_id"`
	Kind            string          `json:"fact_kind"`
	Payload         json.RawMessage `json:"fact_payload"`
	AsOf            time.Time       `json:"as_of_at"`
	ObservedAt      time.Time       `json:"observed_at"`
	EvidenceEventID string          `json:"evidence_event_id,omitempty"`
	InteractionID   string          `json:"interaction_id,omitempty"`
}

// JournalClaim is one consolidated claim extracted from prior calls about a
// project, used for cross-contact topic overlap scoring.
type JournalClaim struct {
	ProjectID string `json:"project_id"`
	Text      string `json:"claim_text"`
	Type      string `json:"claim_type"`
}

// Project is the fact-store view of a project used for candidate enrichment.
type Project struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Address    string   `json:"address,omitempty"`
	City       string   `json:"city,omitempty"`
	ClientName string   `json:"client_name,omitempty"`
	Aliases    []string `json:"aliases"`
	Status     string   `json:"status,omitempty"`
	Phase      string   `json:"phase,omitempty"`
}

// Place is one gazetteer entry for geo proximity matching.
type Place struct {
	Name  string  `json:"name"`
	State string  `json:"state,omitempty"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// ProjectGeo is a project's geocoded location.
type ProjectGeo struct {
	ProjectID string  `json:"project_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// AffinityRow is one contact-to-project call-history weight.
type AffinityRow struct {
	ProjectID string     `json:"project_id"`
	Weight    float64    `json:"weight"`
	LastSeen  *time.Time `json:"last_interaction_at,omitempty"`
}
