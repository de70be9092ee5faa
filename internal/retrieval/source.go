// Package retrieval turns a transcript span into a ranked, evidence-annotated
// list of candidate projects by fanning out over independent sources and
// fusing their proposals.
package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/heartwood-builders/attribution/internal/model"
)

// Source names, recorded in candidate evidence.
const (
	SourceAssignment = "project_contacts"
	SourceAffinity   = "contact_project_affinity"
	SourceExisting   = "interactions_existing_project"
	SourceScan       = "transcript_scan"
	SourceFTS        = "fts_facts"
	SourceTrigram    = "trigram_projects"
	SourceVector     = "vector_facts"
	SourceGeo        = "geo_proximity"
	SourceCrossref   = "claim_crossref"
)

// Request carries everything a source needs to propose candidates.
type Request struct {
	Span        model.Span
	Interaction model.Interaction
	Contact     model.Contact
	CallTime    time.Time

	// Transcript with speaker labels stripped, and its lowercase form,
	// computed once for all sources.
	Clean      string
	CleanLower string
}

// Proposal is one source's vote for a project, with the evidence fragments
// the fusion step merges into the candidate's evidence bundle.
type Proposal struct {
	ProjectID      string
	Score          float64
	Assigned       bool
	AffinityWeight float64
	AliasMatches   []model.AliasMatch
	GeoDistanceKM  *float64
	ClaimScore     float64
	ClaimTopics    []string
	MatchPositions []int

	// Channel rank positions feed reciprocal rank fusion. A source that
	// returns proposals in ranked order sets these 1-based.
	ChannelRank int
}

// Source proposes candidate projects from one evidence channel.
type Source interface {
	Name() string
	// Weak sources can never justify an auto-assign on their own.
	Weak() bool
	Collect(ctx context.Context, req *Request) ([]Proposal, error)
}

// Result is the output of running all sources against one request.
type Result struct {
	Proposals      map[string][]Proposal // source name -> ordered proposals
	SourcesUsed    []string
	SourcesFailed  []string
	MatchPositions []int
}

// RunSources fans out over the sources concurrently, each under its own
// timeout. A failing or slow source contributes nothing; it never fails the
// whole assembly.
func RunSources(ctx context.Context, sources []Source, req *Request, perSourceTimeout time.Duration) *Result {
	res := &Result{Proposals: make(map[string][]Proposal, len(sources))}

	type outcome struct {
		name      string
		proposals []Proposal
		err       error
	}
	outcomes := make([]outcome, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, perSourceTimeout)
			defer cancel()
			proposals, err := src.Collect(sctx, req)
			outcomes[i] = outcome{name: src.Name(), proposals: proposals, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			zap.L().Warn("retrieval source failed",
				zap.String("source", o.name),
				zap.String("span_id", req.Span.ID),
				zap.Error(o.err),
			)
			res.SourcesFailed = append(res.SourcesFailed, o.name)
			continue
		}
		if len(o.proposals) == 0 {
			continue
		}
		res.SourcesUsed = append(res.SourcesUsed, o.name)
		res.Proposals[o.name] = o.proposals
		for _, p := range o.proposals {
			res.MatchPositions = append(res.MatchPositions, p.MatchPositions...)
		}
	}
	return res
}
