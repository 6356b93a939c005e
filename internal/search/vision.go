package search

import (
	"context"
	"math"
	"sort"

	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/aman-cerp/retrieval-skill/internal/store"
)

// DefaultVisionPageThreshold is the page count below which every page is
// scored directly; above it, a two-stage prefilter narrows candidates
// first (§4.10 Computation policy).
const DefaultVisionPageThreshold = 5000

// visionPrefilterMultiplier sizes the prefilter's surviving candidate set
// as a multiple of K.
const visionPrefilterMultiplier = 4

// VisionLane implements the vision (MaxSim) search lane (§4.10).
type VisionLane struct{}

// NewVisionLane builds a VisionLane.
func NewVisionLane() *VisionLane {
	return &VisionLane{}
}

// Search embeds query into its multi-vector token representation, scores
// every candidate page by MaxSim, and returns the top candidates
// (kWithFloor(kFinal), matching the other lanes' candidate-pool sizing)
// sorted by score descending.
func (l *VisionLane) Search(ctx context.Context, catalog *store.Catalog, embedder embed.Adapter, query string, kFinal int) ([]VisionHit, error) {
	queryVecs, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(queryVecs) == 0 {
		return nil, nil
	}
	q := toMatrix(queryVecs)

	pages, err := catalog.AllPageVectors(ctx, embedder.EmbeddingDim())
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}

	k := kWithFloor(kFinal)
	if len(pages) >= DefaultVisionPageThreshold {
		pages = prefilterPages(q, pages, visionPrefilterMultiplier*kFinal)
	}

	hits := make([]VisionHit, 0, len(pages))
	for img, p := range pages {
		hits = append(hits, VisionHit{DocumentID: img.DocumentID, PageIndex: img.PageIndex, Score: maxSim(q, p)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].PageIndex < hits[j].PageIndex
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// maxSim computes S(q,p) = sum_i max_j cos(q_i, p_j) over L2-normalized
// token vectors, where cos reduces to the dot product (§4.10).
func maxSim(q, p [][]float32) float64 {
	var sum float64
	for _, qi := range q {
		best := math.Inf(-1)
		for _, pj := range p {
			d := dot(qi, pj)
			if d > best {
				best = d
			}
		}
		if math.IsInf(best, -1) {
			best = 0
		}
		sum += best
	}
	return sum
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// prefilterPages pre-ranks pages by the dot product of the query's mean
// token against each page's mean token, keeping the top n (§4.10).
func prefilterPages(q, pages map[store.PageImage][][]float32, n int) map[store.PageImage][][]float32 {
	qMean := meanVector(q)

	type scored struct {
		img   store.PageImage
		score float64
	}
	scoredPages := make([]scored, 0, len(pages))
	for img, p := range pages {
		scoredPages = append(scoredPages, scored{img: img, score: dot(qMean, meanVector(p))})
	}

	sort.Slice(scoredPages, func(i, j int) bool { return scoredPages[i].score > scoredPages[j].score })

	if n > len(scoredPages) {
		n = len(scoredPages)
	}
	out := make(map[store.PageImage][][]float32, n)
	for _, s := range scoredPages[:n] {
		out[s.img] = pages[s.img]
	}
	return out
}

func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	mean := make([]float32, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			mean[i] += v[i]
		}
	}
	inv := float32(1) / float32(len(vectors))
	for i := range mean {
		mean[i] *= inv
	}
	return mean
}

func toMatrix(vectors []embed.Vector) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = []float32(v)
	}
	return out
}
