package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heartwood-builders/attribution/internal/config"
	"github.com/heartwood-builders/attribution/internal/model"
)

// ClaimReader fetches journal claims for candidate projects.
type ClaimReader interface {
	JournalClaims(ctx context.Context, projectIDs []string, excludeContactID string) ([]model.JournalClaim, error)
}

// ProjectDetailReader fetches display metadata for candidate projects.
type ProjectDetailReader interface {
	ProjectsByID(ctx context.Context, ids []string) ([]model.Project, error)
}

// Assembly is the fused retrieval output for one span.
type Assembly struct {
	Candidates    []model.Candidate
	Transcript    string
	Truncations   []string
	SourcesUsed   []string
	SourcesFailed []string
}

// Engine merges proposals from all retrieval sources into one ranked,
// evidence-annotated candidate list.
type Engine struct {
	sources  []Source
	claims   ClaimReader
	projects ProjectDetailReader
	cfg      config.RetrievalConfig
}

func NewEngine(sources []Source, claims ClaimReader, projects ProjectDetailReader, cfg config.RetrievalConfig) *Engine {
	return &Engine{sources: sources, claims: claims, projects: projects, cfg: cfg}
}

// Assemble runs all sources and fuses their proposals. Transcript evidence
// outranks call-history priors in the final ordering so frequent callers do
// not drag every span toward their most common project.
func (e *Engine) Assemble(ctx context.Context, span model.Span, interaction model.Interaction, contact model.Contact, callTime time.Time) (*Assembly, error) {
	req := &Request{
		Span:        span,
		Interaction: interaction,
		Contact:     contact,
		CallTime:    callTime,
		Clean:       StripSpeakerLabels(span.Transcript),
	}
	req.CleanLower = strings.ToLower(req.Clean)

	result := RunSources(ctx, e.sources, req, time.Duration(e.cfg.SourceTimeoutSecs)*time.Second)

	merged := mergeProposals(result)
	candidateIDs := make([]string, 0, len(merged))
	for pid := range merged {
		candidateIDs = append(candidateIDs, pid)
	}
	sort.Strings(candidateIDs)

	assembly := &Assembly{
		SourcesUsed:   result.SourcesUsed,
		SourcesFailed: result.SourcesFailed,
	}

	// Claim cross-reference enrichment. Failure degrades like any source.
	if e.claims != nil && len(candidateIDs) > 0 {
		claims, err := e.claims.JournalClaims(ctx, candidateIDs, interaction.ContactID)
		if err != nil {
			zap.L().Warn("claim crossref degraded", zap.String("span_id", span.ID), zap.Error(err))
			assembly.SourcesFailed = append(assembly.SourcesFailed, SourceCrossref)
		} else if len(claims) > 0 {
			for _, cs := range ComputeClaimCrossref(req.Clean, candidateIDs, claims) {
				ev := merged[cs.ProjectID]
				ev.ClaimScore = cs.Score
				ev.ClaimTopics = cs.Topics
				if cs.Score > 0 {
					ev.AddSource(SourceCrossref)
				}
			}
			assembly.SourcesUsed = append(assembly.SourcesUsed, SourceCrossref)
		}
	}

	// Reciprocal rank fusion and tier labels over the merged evidence.
	rrf := RRFScores(result.Proposals, e.cfg.RRFSmoothingK)
	for pid, ev := range merged {
		ev.RRFScore = rrf[pid]
		ev.TierLabel = ClassifyTier(ev)
	}

	// Floater and internal contacts call about many projects, so their
	// call-history prior is unreliable. Halve it and cast a wider net.
	limit := e.cfg.MaxCandidates
	if contact.Floater || contact.Internal {
		limit = e.cfg.FloaterMaxCandidates
		for _, ev := range merged {
			ev.AffinityWeight /= 2
		}
	}

	candidates, err := e.enrich(ctx, merged, candidateIDs)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)

	if len(candidates) > limit {
		assembly.Truncations = append(assembly.Truncations, fmt.Sprintf("candidates_capped_at_%d", limit))
		candidates = candidates[:limit]
	}
	assembly.Candidates = candidates

	windowed, truncated := SmartWindow(span.Transcript, result.MatchPositions, e.cfg.MaxTranscriptChars)
	assembly.Transcript = windowed
	if truncated {
		assembly.Truncations = append(assembly.Truncations,
			fmt.Sprintf("transcript_windowed_around_%d_matches", len(result.MatchPositions)))
	}
	return assembly, nil
}

// mergeProposals unions proposals by project ID. Evidence merges: sources
// append, affinity takes the max, assigned flags OR together, geo distance
// takes the min, alias matches concatenate.
func mergeProposals(result *Result) map[string]*model.Evidence {
	merged := make(map[string]*model.Evidence)
	for source, proposals := range result.Proposals {
		for _, p := range proposals {
			if p.ProjectID == "" {
				continue
			}
			ev, ok := merged[p.ProjectID]
			if !ok {
				ev = &model.Evidence{}
				merged[p.ProjectID] = ev
			}
			ev.AddSource(source)
			if p.Assigned {
				ev.Assigned = true
			}
			if p.AffinityWeight > ev.AffinityWeight {
				ev.AffinityWeight = p.AffinityWeight
			}
			if source == SourceScan && p.Score > ev.TranscriptScore {
				ev.TranscriptScore = p.Score
			}
			ev.AliasMatches = append(ev.AliasMatches, p.AliasMatches...)
			if p.GeoDistanceKM != nil {
				if ev.GeoDistanceKM == nil || *p.GeoDistanceKM < *ev.GeoDistanceKM {
					d := *p.GeoDistanceKM
					ev.GeoDistanceKM = &d
				}
			}
		}
	}
	return merged
}

func (e *Engine) enrich(ctx context.Context, merged map[string]*model.Evidence, ids []string) ([]model.Candidate, error) {
	projects, err := e.projects.ProjectsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(projects))
	for _, p := range projects {
		ev, ok := merged[p.ID]
		if !ok {
			continue
		}
		candidates = append(candidates, model.Candidate{
			ProjectID:  p.ID,
			Name:       p.Name,
			Address:    p.Address,
			ClientName: p.ClientName,
			Aliases:    p.Aliases,
			Status:     p.Status,
			Phase:      p.Phase,
			Evidence:   *ev,
		})
	}
	return candidates, nil
}

func hasStrongAliasMatch(e *model.Evidence) bool {
	for _, m := range e.AliasMatches {
		switch m.MatchType {
		case model.MatchExactProjectName, model.MatchAlias, model.MatchAddressFragment, model.MatchClientName:
			return true
		}
	}
	return false
}

// sortCandidates orders by: assignment, presence of a strong transcript
// match, transcript score, affinity weight, then geo. Geo-only candidates
// sink to the bottom regardless of distance.
func sortCandidates(candidates []model.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := &candidates[i].Evidence, &candidates[j].Evidence

		if a.Assigned != b.Assigned {
			return a.Assigned
		}
		as, bs := hasStrongAliasMatch(a), hasStrongAliasMatch(b)
		if as != bs {
			return as
		}
		if a.TranscriptScore != b.TranscriptScore {
			return a.TranscriptScore > b.TranscriptScore
		}
		if a.AffinityWeight != b.AffinityWeight {
			return a.AffinityWeight > b.AffinityWeight
		}
		ag, bg := a.GeoOnly(), b.GeoOnly()
		if ag != bg {
			return bg
		}
		if a.GeoDistanceKM != nil && b.GeoDistanceKM != nil {
			return *a.GeoDistanceKM < *b.GeoDistanceKM
		}
		return false
	})
}
