package vector

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"noteweave/internal/models"
)

// DefaultKappa is the classical RRF smoothing constant.
const DefaultKappa = 60

// DefaultCandidateMultiplier sizes each per-vector candidate ranking relative
// to the requested k, so items missing from one ranking can still surface.
const DefaultCandidateMultiplier = 3

// FusionOptions tunes the client-side RRF fallback.
type FusionOptions struct {
	// Kappa is the rank smoothing constant. Zero means DefaultKappa.
	Kappa float64
	// CandidateMultiplier scales per-vector candidate depth (k' = k * multiplier).
	// Zero means DefaultCandidateMultiplier.
	CandidateMultiplier int
}

// SearchFused runs a multi-vector query against the backend. If the backend
// natively supports fused queries it delegates; otherwise it runs one
// SearchSingle per named vector in parallel and fuses the rankings with
// weighted RRF. Per-vector failures degrade the result instead of failing the
// whole request; degraded reports whether any leg failed. Only when every leg
// fails is an error returned.
func SearchFused(ctx context.Context, b Backend, queries map[models.VectorName]FusedQuery, k int, opts FusionOptions) (results []*models.SearchResult, degraded bool, err error) {
	if len(queries) == 0 {
		return nil, false, fmt.Errorf("fused search needs at least one named vector query")
	}
	var weightSum float64
	for name, q := range queries {
		if q.Weight < 0 {
			return nil, false, fmt.Errorf("weight for %q must not be negative", name)
		}
		weightSum += q.Weight
	}
	if weightSum <= 0 {
		return nil, false, fmt.Errorf("vector weights must sum to a positive value")
	}

	if fs, ok := b.(FusedSearcher); ok {
		results, err := fs.SearchFused(ctx, queries, k)
		return results, false, err
	}

	kappa := opts.Kappa
	if kappa == 0 {
		kappa = DefaultKappa
	}
	mult := opts.CandidateMultiplier
	if mult < 1 {
		mult = DefaultCandidateMultiplier
	}
	candidateK := k * mult
	if candidateK < k {
		candidateK = k
	}

	type leg struct {
		name    models.VectorName
		ranking []*models.SearchResult
		err     error
	}
	legs := make([]leg, 0, len(queries))
	for name := range queries {
		legs = append(legs, leg{name: name})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range legs {
		g.Go(func() error {
			// Each goroutine writes its own leg slot. Leg errors degrade the
			// fused result rather than aborting sibling searches.
			legs[i].ranking, legs[i].err = b.SearchSingle(gctx, legs[i].name, queries[legs[i].name].Vector, candidateK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	rankings := make(map[models.VectorName][]*models.SearchResult, len(legs))
	var firstErr error
	for _, l := range legs {
		if l.err != nil {
			degraded = true
			if firstErr == nil {
				firstErr = l.err
			}
			continue
		}
		rankings[l.name] = l.ranking
	}
	if len(rankings) == 0 {
		return nil, true, fmt.Errorf("all per-vector searches failed: %w", firstErr)
	}

	weights := make(map[models.VectorName]float64, len(queries))
	for name, q := range queries {
		weights[name] = q.Weight
	}
	fused := FuseRankings(rankings, weights, kappa)
	if k < len(fused) {
		fused = fused[:k]
	}
	return fused, degraded, nil
}

// FuseRankings combines per-vector rankings into one list ordered by weighted
// Reciprocal Rank Fusion:
//
//	fused(item) = Σ over vectors v where item appears at rank r_v : weight(v) / (kappa + r_v)
//
// with ranks 1-indexed. Items absent from a ranking contribute nothing for
// that vector. Ties are broken by lexical id order for determinism.
func FuseRankings(rankings map[models.VectorName][]*models.SearchResult, weights map[models.VectorName]float64, kappa float64) []*models.SearchResult {
	fused := make(map[string]*models.SearchResult)
	for name, ranking := range rankings {
		weight := weights[name]
		for rank, res := range ranking {
			entry, ok := fused[res.ID]
			if !ok {
				entry = &models.SearchResult{ID: res.ID, Payload: res.Payload}
				fused[res.ID] = entry
			}
			entry.Score += weight / (kappa + float64(rank+1))
			if entry.Payload == nil {
				entry.Payload = res.Payload
			}
		}
	}
	results := make([]*models.SearchResult, 0, len(fused))
	for _, res := range fused {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
