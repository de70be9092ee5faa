package retrieval

import (
	"context"
	"time"

	"github.com/heartwood-builders/attribution/internal/facts"
)

// FactSearcher runs lexical and semantic searches over the fact store.
type FactSearcher interface {
	FTSFacts(ctx context.Context, query string, callTime time.Time, excludeInteractionID string, limit int) ([]facts.ScoredFact, error)
	VectorFacts(ctx context.Context, embedding []float32, callTime time.Time, excludeInteractionID string, limit int) ([]facts.ScoredFact, error)
}

// ProjectMatcher fuzzy-matches text against project names and aliases.
type ProjectMatcher interface {
	TrigramProjects(ctx context.Context, text string, threshold float64, limit int) ([]facts.ScoredProject, error)
}

// Embedder produces an embedding vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// FTSSource ranks projects by full-text search over their stored facts.
// The store enforces the time window and same-call exclusion.
type FTSSource struct {
	searcher FactSearcher
	limit    int
}

func NewFTSSource(searcher FactSearcher, limit int) *FTSSource {
	return &FTSSource{searcher: searcher, limit: limit}
}

func (s *FTSSource) Name() string { return SourceFTS }
func (s *FTSSource) Weak() bool   { return false }

func (s *FTSSource) Collect(ctx context.Context, req *Request) ([]Proposal, error) {
	if req.Clean == "" {
		return nil, nil
	}
	scored, err := s.searcher.FTSFacts(ctx, req.Clean, req.CallTime, req.Interaction.ID, s.limit)
	if err != nil {
		return nil, err
	}
	return factProposals(scored), nil
}

// VectorSource ranks projects by embedding similarity over stored facts.
type VectorSource struct {
	searcher FactSearcher
	embedder Embedder
	limit    int
}

func NewVectorSource(searcher FactSearcher, embedder Embedder, limit int) *VectorSource {
	return &VectorSource{searcher: searcher, embedder: embedder, limit: limit}
}

func (s *VectorSource) Name() string { return SourceVector }
func (s *VectorSource) Weak() bool   { return false }

func (s *VectorSource) Collect(ctx context.Context, req *Request) ([]Proposal, error) {
	if req.Clean == "" || s.embedder == nil {
		return nil, nil
	}
	embedding, err := s.embedder.Embed(ctx, req.Clean)
	if err != nil {
		return nil, err
	}
	scored, err := s.searcher.VectorFacts(ctx, embedding, req.CallTime, req.Interaction.ID, s.limit)
	if err != nil {
		return nil, err
	}
	return factProposals(scored), nil
}

// factProposals collapses ranked facts to per-project proposals, keeping the
// best rank per project for fusion.
func factProposals(scored []facts.ScoredFact) []Proposal {
	seen := make(map[string]bool)
	var out []Proposal
	for i, sf := range scored {
		if seen[sf.Fact.ProjectID] {
			continue
		}
		seen[sf.Fact.ProjectID] = true
		out = append(out, Proposal{
			ProjectID:   sf.Fact.ProjectID,
			Score:       sf.Score,
			ChannelRank: i + 1,
		})
	}
	return out
}

// TrigramSource fuzzy-matches the transcript against project names and
// aliases, catching misheard or partially transcribed names.
type TrigramSource struct {
	matcher   ProjectMatcher
	threshold float64
	limit     int
}

func NewTrigramSource(matcher ProjectMatcher, threshold float64, limit int) *TrigramSource {
	return &TrigramSource{matcher: matcher, threshold: threshold, limit: limit}
}

func (s *TrigramSource) Name() string { return SourceTrigram }
func (s *TrigramSource) Weak() bool   { return false }

func (s *TrigramSource) Collect(ctx context.Context, req *Request) ([]Proposal, error) {
	if req.Clean == "" {
		return nil, nil
	}
	matches, err := s.matcher.TrigramProjects(ctx, req.Clean, s.threshold, s.limit)
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(matches))
	for i, m := range matches {
		out = append(out, Proposal{
			ProjectID:   m.ProjectID,
			Score:       m.Score,
			ChannelRank: i + 1,
		})
	}
	return out, nil
}
