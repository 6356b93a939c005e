package search

import (
	"context"
	"sort"

	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/aman-cerp/retrieval-skill/internal/store"
)

// DenseLane implements the dense vector search lane (§4.8).
type DenseLane struct{}

// NewDenseLane builds a DenseLane.
func NewDenseLane() *DenseLane {
	return &DenseLane{}
}

// Search embeds query, runs an approximate k-NN against catalog's vector
// sidecar, converts distance to cosine similarity, and filters by front
// matter metadata predicates. Results are sorted by similarity descending.
func (l *DenseLane) Search(ctx context.Context, catalog *store.Catalog, embedder embed.Adapter, query string, kFinal int, filter MetadataFilter) ([]DenseHit, error) {
	queryVecs, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(queryVecs) == 0 {
		return nil, nil
	}

	k := kWithFloor(kFinal)
	neighbors, err := catalog.VecKNN(ctx, []float32(queryVecs[0]), k)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	hits := make([]DenseHit, 0, len(neighbors))
	if len(filter) > 0 {
		ids := make([]int64, len(neighbors))
		for i, n := range neighbors {
			ids[i] = n.ChunkID
		}
		details, err := catalog.ChunkDetails(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			d, ok := details[n.ChunkID]
			if !ok || !filter.Matches(d.MetadataJSON) {
				continue
			}
			hits = append(hits, DenseHit{ChunkID: n.ChunkID, Similarity: distanceToSimilarity(n.Distance)})
		}
	} else {
		for _, n := range neighbors {
			hits = append(hits, DenseHit{ChunkID: n.ChunkID, Similarity: distanceToSimilarity(n.Distance)})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits, nil
}

// distanceToSimilarity converts the vector sidecar's cosine distance
// (1 - cos) back to cosine similarity: sim = 1 - dist (§4.8).
func distanceToSimilarity(dist float32) float64 {
	return 1 - float64(dist)
}
