package retrieval

import (
	"context"
	"strings"

	"github.com/heartwood-builders/attribution/internal/model"
)

// ProjectReader lists active projects with their aliases.
type ProjectReader interface {
	ActiveProjects(ctx context.Context) ([]model.Project, error)
}

// ScanSource searches the transcript for project names, aliases, cities,
// and address fragments with word-boundary matching. The per-project term
// list is bounded so alias-heavy projects cannot dominate the scan.
type ScanSource struct {
	reader   ProjectReader
	maxTerms int
}

func NewScanSource(reader ProjectReader, maxTermsPerProject int) *ScanSource {
	return &ScanSource{reader: reader, maxTerms: maxTermsPerProject}
}

func (s *ScanSource) Name() string { return SourceScan }
func (s *ScanSource) Weak() bool   { return false }

func (s *ScanSource) Collect(ctx context.Context, req *Request) ([]Proposal, error) {
	if req.CleanLower == "" {
		return nil, nil
	}
	projects, err := s.reader.ActiveProjects(ctx)
	if err != nil {
		return nil, err
	}

	var out []Proposal
	for _, p := range projects {
		if p.ID == "" || p.Name == "" {
			continue
		}

		terms := make([]string, 0, len(p.Aliases)+4)
		terms = append(terms, p.Name)
		terms = append(terms, p.Aliases...)
		if p.City != "" {
			terms = append(terms, p.City)
		}
		if p.Address != "" {
			terms = append(terms, p.Address)
		}
		normalized := NormalizeTerms(terms)
		if len(normalized) > s.maxTerms {
			normalized = normalized[:s.maxTerms]
		}

		aliasSet := make(map[string]bool, len(p.Aliases))
		for _, a := range p.Aliases {
			aliasSet[strings.ToLower(a)] = true
		}

		var prop *Proposal
		for _, term := range normalized {
			termLower := strings.ToLower(term)
			idx := FindTerm(req.CleanLower, termLower)
			if idx < 0 {
				continue
			}

			matchType := model.MatchCityOrLocation
			switch {
			case aliasSet[termLower]:
				matchType = model.MatchAlias
			case strings.ToLower(p.Name) == termLower:
				matchType = model.MatchExactProjectName
			case p.Address != "" && strings.ToLower(p.Address) == termLower:
				matchType = model.MatchAddressFragment
			}

			if prop == nil {
				prop = &Proposal{ProjectID: p.ID}
			}
			prop.MatchPositions = append(prop.MatchPositions, idx)
			prop.AliasMatches = append(prop.AliasMatches, model.AliasMatch{
				Term:      term,
				MatchType: matchType,
				Snippet:   SnippetAround(req.Clean, idx, len(term)),
			})
		}
		if prop != nil {
			prop.Score = float64(len(prop.AliasMatches))
			out = append(out, *prop)
		}
	}
	return out, nil
}
