package retrieval

import (
	"context"

	"github.com/heartwood-builders/attribution/internal/model"
)

// AffinityReader provides contact call-history weights.
type AffinityReader interface {
	ContactAffinity(ctx context.Context, contactID string) ([]model.AffinityRow, error)
}

// AssignmentSource proposes the interaction's existing project assignment.
// Replayed calls that were already routed carry this as the strongest
// structured signal.
type AssignmentSource struct{}

func NewAssignmentSource() *AssignmentSource {
	return &AssignmentSource{}
}

func (s *AssignmentSource) Name() string { return SourceExisting }
func (s *AssignmentSource) Weak() bool   { return false }

func (s *AssignmentSource) Collect(_ context.Context, req *Request) ([]Proposal, error) {
	if req.Interaction.ProjectID == "" {
		return nil, nil
	}
	return []Proposal{{
		ProjectID: req.Interaction.ProjectID,
		Assigned:  true,
		Score:     1.0,
	}}, nil
}

// AffinitySource proposes projects from the contact's call-history weights.
type AffinitySource struct {
	reader AffinityReader
}

func NewAffinitySource(reader AffinityReader) *AffinitySource {
	return &AffinitySource{reader: reader}
}

func (s *AffinitySource) Name() string { return SourceAffinity }
func (s *AffinitySource) Weak() bool   { return false }

func (s *AffinitySource) Collect(ctx context.Context, req *Request) ([]Proposal, error) {
	if req.Interaction.ContactID == "" {
		return nil, nil
	}
	rows, err := s.reader.ContactAffinity(ctx, req.Interaction.ContactID)
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(rows))
	for i, r := range rows {
		out = append(out, Proposal{
			ProjectID:      r.ProjectID,
			AffinityWeight: r.Weight,
			Score:          r.Weight,
			ChannelRank:    i + 1,
		})
	}
	return out, nil
}
