package model

import "time"

// Span is the smallest attributable unit of a call transcript. Spans are
// produced by the segmentation service and never mutated here; re-chunking
// supersedes a span instead of deleting it.
type Span struct {
	ID            string    `json:"id"`
	InteractionID string    `json:"interaction_id"`
	Index         int       `json:"span_index"`
	Transcript    string    `json:"transcript_segment"`
	CharStart     int       `json:"char_start"`
	CharEnd       int       `json:"char_end"`
	Superseded    bool      `json:"superseded"`
	CreatedAt     time.Time `json:"created_at"`
}

// Interaction carries the call-level metadata a span belongs to.
type Interaction struct {
	ID           string    `json:"interaction_id"`
	ContactID    string    `json:"contact_id"`
	ContactName  string    `json:"contact_name"`
	ContactPhone string    `json:"contact_phone"`
	ProjectID    string    `json:"project_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Contact identifies a caller. Floaters work across many projects, so their
// call-history priors are unreliable and transcript evidence must dominate.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Floater  bool   `json:"floats_between_projects"`
	Internal bool   `json:"internal_staff"`
}

// RecentProject is one entry of a contact's recent project history.
type RecentProject struct {
	ProjectID   string     `json:"project_id"`
	ProjectName string     `json:"project_name"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}
