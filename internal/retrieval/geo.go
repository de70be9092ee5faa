package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/heartwood-builders/attribution/internal/model"
)

// GeoReader provides the place gazetteer and project locations.
type GeoReader interface {
	Places(ctx context.Context) ([]model.Place, error)
	ProjectGeos(ctx context.Context) ([]model.ProjectGeo, error)
}

// GeoSource finds place names mentioned in the transcript and proposes
// projects within a capped radius. Geo proximity is always a weak signal:
// many projects share a town, so it can never justify an auto-assign alone.
type GeoSource struct {
	reader        GeoReader
	maxDistanceKM float64
	maxCandidates int
}

func NewGeoSource(reader GeoReader, maxDistanceKM float64, maxCandidates int) *GeoSource {
	return &GeoSource{reader: reader, maxDistanceKM: maxDistanceKM, maxCandidates: maxCandidates}
}

func (s *GeoSource) Name() string { return SourceGeo }
func (s *GeoSource) Weak() bool   { return true }

func (s *GeoSource) Collect(ctx context.Context, req *Request) ([]Proposal, error) {
	if req.CleanLower == "" {
		return nil, nil
	}
	places, err := s.reader.Places(ctx)
	if err != nil {
		return nil, err
	}

	var mentioned []model.Place
	for _, p := range places {
		name := strings.ToLower(p.Name)
		if len(name) < 4 {
			continue
		}
		if FindTerm(req.CleanLower, name) >= 0 {
			mentioned = append(mentioned, p)
		}
	}
	if len(mentioned) == 0 {
		return nil, nil
	}

	geos, err := s.reader.ProjectGeos(ctx)
	if err != nil {
		return nil, err
	}

	nearest := make(map[string]float64)
	for _, place := range mentioned {
		placeCoord := geom.Coord{place.Lon, place.Lat}
		for _, pg := range geos {
			d := HaversineKM(placeCoord, geom.Coord{pg.Lon, pg.Lat})
			if d > s.maxDistanceKM {
				continue
			}
			if cur, ok := nearest[pg.ProjectID]; !ok || d < cur {
				nearest[pg.ProjectID] = d
			}
		}
	}

	out := make([]Proposal, 0, len(nearest))
	for pid, d := range nearest {
		d = math.Round(d*10) / 10
		dist := d
		out = append(out, Proposal{
			ProjectID:     pid,
			GeoDistanceKM: &dist,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return *out[i].GeoDistanceKM < *out[j].GeoDistanceKM
	})
	if len(out) > s.maxCandidates {
		out = out[:s.maxCandidates]
	}
	return out, nil
}
