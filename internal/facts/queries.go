package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/heartwood-builders/attribution/internal/model"
)

// ScoredFact is a fact with its retrieval score attached.
type ScoredFact struct {
	Fact  model.Fact
	Score float64
}

// ScoredProject is a project ID with its retrieval score attached.
type ScoredProject struct {
	ProjectID string
	Name      string
	Score     float64
}

// Span fetches one transcript span by ID. Returns nil when absent.
func (s *Store) Span(ctx context.Context, id string) (*model.Span, error) {
	var sp model.Span
	err := s.pool.QueryRow(ctx,
		`SELECT id, interaction_id, span_index, transcript_segment, char_start, char_end, superseded, created_at
		 FROM transcript_spans WHERE id = $1`, id).
		Scan(&sp.ID, &sp.InteractionID, &sp.Index, &sp.Transcript, &sp.CharStart, &sp.CharEnd, &sp.Superseded, &sp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "facts: get span")
	}
	return &sp, nil
}

// Interaction fetches call-level metadata. Returns nil when absent.
func (s *Store) Interaction(ctx context.Context, id string) (*model.Interaction, error) {
	var in model.Interaction
	err := s.pool.QueryRow(ctx,
		`SELECT id, contact_id, COALESCE(contact_name, ''), COALESCE(contact_phone, ''), COALESCE(project_id::text, ''), occurred_at
		 FROM interactions WHERE id = $1`, id).
		Scan(&in.ID, &in.ContactID, &in.ContactName, &in.ContactPhone, &in.ProjectID, &in.OccurredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "facts: get interaction")
	}
	return &in, nil
}

// Contact fetches one contact. Returns nil when absent.
func (s *Store) Contact(ctx context.Context, id string) (*model.Contact, error) {
	var c model.Contact
	err := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(name, ''), COALESCE(floats_between_projects, false), COALESCE(internal_staff, false)
		 FROM contacts WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Floater, &c.Internal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "facts: get contact")
	}
	return &c, nil
}

// ContactAffinity returns a contact's call-history weights, strongest first.
func (s *Store) ContactAffinity(ctx context.Context, contactID string) ([]model.AffinityRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, weight, last_interaction_at
		 FROM contact_project_affinity WHERE contact_id = $1 ORDER BY weight DESC`, contactID)
	if err != nil {
		return nil, eris.Wrap(err, "facts: get affinity")
	}
	defer rows.Close()

	var out []model.AffinityRow
	for rows.Next() {
		var r model.AffinityRow
		if err := rows.Scan(&r.ProjectID, &r.Weight, &r.LastSeen); err != nil {
			return nil, eris.Wrap(err, "facts: scan affinity")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate affinity")
}

// RecentProjects returns the contact's most recently discussed projects.
func (s *Store) RecentProjects(ctx context.Context, contactID string, limit int) ([]model.RecentProject, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, MAX(i.occurred_at)
		 FROM interactions i JOIN projects p ON p.id = i.project_id
		 WHERE i.contact_id = $1 AND i.project_id IS NOT NULL
		 GROUP BY p.id, p.name ORDER BY MAX(i.occurred_at) DESC LIMIT $2`, contactID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "facts: get recent projects")
	}
	defer rows.Close()

	var out []model.RecentProject
	for rows.Next() {
		var r model.RecentProject
		if err := rows.Scan(&r.ProjectID, &r.ProjectName, &r.LastSeen); err != nil {
			return nil, eris.Wrap(err, "facts: scan recent project")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate recent projects")
}

// ActiveProjects returns all projects not in a terminal status, with their
// aliases, for transcript term scanning.
func (s *Store) ActiveProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, COALESCE(p.address, ''), COALESCE(p.city, ''), COALESCE(p.client_name, ''),
		        COALESCE(p.status, ''), COALESCE(p.phase, ''),
		        COALESCE(array_agg(a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}')
		 FROM projects p LEFT JOIN project_aliases a ON a.project_id = p.id
		 WHERE COALESCE(p.status, '') NOT IN ('closed', 'cancelled')
		 GROUP BY p.id`)
	if err != nil {
		return nil, eris.Wrap(err, "facts: get active projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.City, &p.ClientName, &p.Status, &p.Phase, &p.Aliases); err != nil {
			return nil, eris.Wrap(err, "facts: scan project")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate projects")
}

// ProjectsByID fetches the given projects with aliases, in no fixed order.
func (s *Store) ProjectsByID(ctx context.Context, ids []string) ([]model.Project, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, COALESCE(p.address, ''), COALESCE(p.city, ''), COALESCE(p.client_name, ''),
		        COALESCE(p.status, ''), COALESCE(p.phase, ''),
		        COALESCE(array_agg(a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}')
		 FROM projects p LEFT JOIN project_aliases a ON a.project_id = p.id
		 WHERE p.id = ANY($1)
		 GROUP BY p.id`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "facts: get projects by id")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.City, &p.ClientName, &p.Status, &p.Phase, &p.Aliases); err != nil {
			return nil, eris.Wrap(err, "facts: scan project")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate projects")
}

// FTSFacts runs lexical full-text search over fact payloads. Only facts
// knowable at callTime are visible, and facts sourced from the call being
// attributed are excluded so a span cannot corroborate itself.
func (s *Store) FTSFacts(ctx context.Context, query string, callTime time.Time, excludeInteractionID string, limit int) ([]ScoredFact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.id, f.project_id, f.fact_kind, f.fact_payload, f.as_of_at, f.observed_at,
		        COALESCE(f.evidence_event_id, ''), COALESCE(f.interaction_id, ''),
		        ts_rank(f.search_tsv, plainto_tsquery('english', $1)) AS rank
		 FROM project_facts f
		 WHERE f.search_tsv @@ plainto_tsquery('english', $1)
		   AND f.as_of_at <= $2 AND f.observed_at <= $2
		   AND f.interaction_id IS DISTINCT FROM $3 AND f.evidence_event_id IS DISTINCT FROM $3
		 ORDER BY rank DESC LIMIT $4`,
		query, callTime, excludeInteractionID, limit*2)
	if err != nil {
		return nil, eris.Wrap(err, "facts: fts search")
	}
	defer rows.Close()
	return scanScoredFacts(rows, limit)
}

// VectorFacts runs semantic search over fact embeddings using cosine
// distance. The same time-window and same-call exclusions apply.
func (s *Store) VectorFacts(ctx context.Context, embedding []float32, callTime time.Time, excludeInteractionID string, limit int) ([]ScoredFact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.id, f.project_id, f.fact_kind, f.fact_payload, f.as_of_at, f.observed_at,
		        COALESCE(f.evidence_event_id, ''), COALESCE(f.interaction_id, ''),
		        1 - (f.embedding <=> $1::vector) AS similarity
		 FROM project_facts f
		 WHERE f.embedding IS NOT NULL
		   AND f.as_of_at <= $2 AND f.observed_at <= $2
		   AND f.interaction_id IS DISTINCT FROM $3 AND f.evidence_event_id IS DISTINCT FROM $3
		 ORDER BY f.embedding <=> $1::vector LIMIT $4`,
		vectorLiteral(embedding), callTime, excludeInteractionID, limit*2)
	if err != nil {
		return nil, eris.Wrap(err, "facts: vector search")
	}
	defer rows.Close()
	return scanScoredFacts(rows, limit)
}

// ProjectFacts returns a project's facts knowable at callTime, newest as-of
// first, excluding facts sourced from the call being attributed.
func (s *Store) ProjectFacts(ctx context.Context, projectID string, callTime time.Time, excludeInteractionID string, limit int) ([]model.Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.id, f.project_id, f.fact_kind, f.fact_payload, f.as_of_at, f.observed_at,
		        COALESCE(f.evidence_event_id, ''), COALESCE(f.interaction_id, '')
		 FROM project_facts f
		 WHERE f.project_id = $1
		   AND f.as_of_at <= $2 AND f.observed_at <= $2
		   AND f.interaction_id IS DISTINCT FROM $3 AND f.evidence_event_id IS DISTINCT FROM $3
		 ORDER BY f.as_of_at DESC LIMIT $4`,
		projectID, callTime, excludeInteractionID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "facts: get project facts")
	}
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		var f model.Fact
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Kind, &f.Payload, &f.AsOf, &f.ObservedAt, &f.EvidenceEventID, &f.InteractionID); err != nil {
			return nil, eris.Wrap(err, "facts: scan fact")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate facts")
}

// TrigramProjects fuzzy-matches text against project names and aliases.
func (s *Store) TrigramProjects(ctx context.Context, text string, threshold float64, limit int) ([]ScoredProject, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, MAX(similarity(t.term, $1)) AS sim
		 FROM projects p,
		      LATERAL (SELECT p.name AS term UNION SELECT a.alias FROM project_aliases a WHERE a.project_id = p.id) t
		 WHERE similarity(t.term, $1) >= $2
		 GROUP BY p.id, p.name ORDER BY sim DESC LIMIT $3`,
		text, threshold, limit)
	if err != nil {
		return nil, eris.Wrap(err, "facts: trigram search")
	}
	defer rows.Close()

	var out []ScoredProject
	for rows.Next() {
		var sp ScoredProject
		if err := rows.Scan(&sp.ProjectID, &sp.Name, &sp.Score); err != nil {
			return nil, eris.Wrap(err, "facts: scan trigram match")
		}
		out = append(out, sp)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate trigram matches")
}

// JournalClaims returns consolidated claims for the given projects made by
// contacts other than the one on the current call.
func (s *Store) JournalClaims(ctx context.Context, projectIDs []string, excludeContactID string) ([]model.JournalClaim, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.project_id, c.claim_text, COALESCE(c.claim_type, '')
		 FROM journal_claims c
		 WHERE c.project_id = ANY($1) AND c.contact_id IS DISTINCT FROM $2`,
		projectIDs, excludeContactID)
	if err != nil {
		return nil, eris.Wrap(err, "facts: get journal claims")
	}
	defer rows.Close()

	var out []model.JournalClaim
	for rows.Next() {
		var c model.JournalClaim
		if err := rows.Scan(&c.ProjectID, &c.Text, &c.Type); err != nil {
			return nil, eris.Wrap(err, "facts: scan journal claim")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate journal claims")
}

// Places returns the geo gazetteer used for place-name detection.
func (s *Store) Places(ctx context.Context) ([]model.Place, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, COALESCE(state, ''), lat, lon FROM geo_places`)
	if err != nil {
		return nil, eris.Wrap(err, "facts: get places")
	}
	defer rows.Close()

	var out []model.Place
	for rows.Next() {
		var p model.Place
		if err := rows.Scan(&p.Name, &p.State, &p.Lat, &p.Lon); err != nil {
			return nil, eris.Wrap(err, "facts: scan place")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate places")
}

// ProjectGeos returns geocoded locations for active projects.
func (s *Store) ProjectGeos(ctx context.Context) ([]model.ProjectGeo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, lat, lon FROM project_locations WHERE lat IS NOT NULL AND lon IS NOT NULL`)
	if err != nil {
		return nil, eris.Wrap(err, "facts: get project geos")
	}
	defer rows.Close()

	var out []model.ProjectGeo
	for rows.Next() {
		var g model.ProjectGeo
		if err := rows.Scan(&g.ProjectID, &g.Lat, &g.Lon); err != nil {
			return nil, eris.Wrap(err, "facts: scan project geo")
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate project geos")
}

func scanScoredFacts(rows pgx.Rows, limit int) ([]ScoredFact, error) {
	// Over-fetched rows are deduplicated by fact ID before the limit applies.
	seen := make(map[string]bool)
	var out []ScoredFact
	for rows.Next() {
		var sf ScoredFact
		f := &sf.Fact
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Kind, &f.Payload, &f.AsOf, &f.ObservedAt, &f.EvidenceEventID, &f.InteractionID, &sf.Score); err != nil {
			return nil, eris.Wrap(err, "facts: scan scored fact")
		}
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, sf)
		if len(out) >= limit {
			break
		}
	}
	return out, eris.Wrap(rows.Err(), "facts: iterate scored facts")
}

// vectorLiteral formats an embedding as a pgvector input literal.
func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
