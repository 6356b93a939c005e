package search

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
	"github.com/aman-cerp/retrieval-skill/internal/config"
	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/aman-cerp/retrieval-skill/internal/store"
)

// DefaultRRFConstant is the fixed RRF smoothing constant k_rrf (§4.11).
const DefaultRRFConstant = 60

// DefaultRecencyWeight is w_r, the default weight given to the recency
// boost in the final score (§4.11).
const DefaultRecencyWeight = 0.15

// DefaultHalfLifeDays is h, the default recency half-life in days (§4.11).
const DefaultHalfLifeDays = 90.0

// textWeightedDense and textWeightedLexical are the historical weighted
// blend's fixed coefficients (§4.11 Text mode simple path).
const (
	textWeightedDense   = 0.6
	textWeightedLexical = 0.4
)

// CatalogSource is one catalog plus the embedders needed to query it.
// VisionEmbedder may be nil when the caller has no vision adapter
// configured; a catalog with pages but no vision embedder simply
// contributes no vision lane.
type CatalogSource struct {
	Catalog        *store.Catalog
	TextEmbedder   embed.Adapter
	VisionEmbedder embed.Adapter
}

// RankerConfig carries the hybrid ranker's per-query parameters (§4.11).
type RankerConfig struct {
	KFinal        int
	RecencyWeight float64
	HalfLifeDays  float64
	Filter        MetadataFilter
	Mode          config.Mode
	FusionMode    config.FusionMode
	RRFConstant   int
	Threshold     float64
}

// withDefaults fills in zero-valued fields with the spec's defaults.
func (c RankerConfig) withDefaults() RankerConfig {
	if c.KFinal <= 0 {
		c.KFinal = 10
	}
	if c.RecencyWeight == 0 {
		c.RecencyWeight = DefaultRecencyWeight
	}
	if c.HalfLifeDays == 0 {
		c.HalfLifeDays = DefaultHalfLifeDays
	}
	if c.Mode == "" {
		c.Mode = config.ModeHybrid
	}
	if c.FusionMode == "" {
		c.FusionMode = config.FusionRRF
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = DefaultRRFConstant
	}
	return c
}

// Ranker runs the dense, lexical, and vision lanes against one or more
// catalogs and fuses their results into a single ranked list (§4.11).
type Ranker struct {
	dense   *DenseLane
	lexical *LexicalLane
	vision  *VisionLane
}

// NewRanker builds a Ranker.
func NewRanker() *Ranker {
	return &Ranker{dense: NewDenseLane(), lexical: NewLexicalLane(), vision: NewVisionLane()}
}

// Search executes query against every source, fuses each catalog's lanes,
// merges across catalogs, deduplicates, and truncates to KFinal (§4.11
// Cross-catalog merge). Sources run concurrently (§5 "lanes for different
// catalogs MAY run in parallel"). A catalog whose search fails is logged and
// left out of the merge; Search returns an error only when ctx is cancelled
// or every catalog fails.
func (r *Ranker) Search(ctx context.Context, sources []CatalogSource, query string, cfg RankerConfig, nowMS int64) ([]Result, error) {
	cfg = cfg.withDefaults()

	perSource := make([][]Result, len(sources))
	errs := make([]error, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			fused, err := r.searchCatalog(gctx, src, query, cfg, nowMS)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				errs[i] = err
				return nil
			}
			perSource[i] = fused
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			slog.Warn("search_catalog_failed", slog.String("catalog", sources[i].Catalog.Meta().IndexName), slog.String("error", err.Error()))
		}
	}
	if failed > 0 && failed == len(sources) {
		return nil, errs[0]
	}

	var all []Result
	for _, fused := range perSource {
		all = append(all, fused...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	deduped := dedupe(all)

	if cfg.Threshold > 0 {
		kept := deduped[:0]
		for _, r := range deduped {
			if r.Score >= cfg.Threshold {
				kept = append(kept, r)
			}
		}
		deduped = kept
	}

	if len(deduped) > cfg.KFinal {
		deduped = deduped[:cfg.KFinal]
	}
	return deduped, nil
}

// dedupe removes duplicate results by the "stronger identity": same file
// path and chunk ordinal, or same document_id and page_index (§4.11
// Cross-catalog merge). Input must already be sorted by Score descending;
// the first (highest-scoring) occurrence of each key is kept.
func dedupe(results []Result) []Result {
	type key struct {
		path    string
		ordinal int
		docID   int64
		page    int
		isChunk bool
	}
	seen := make(map[key]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, res := range results {
		var k key
		if res.Identity.Kind == IdentityChunk {
			k = key{path: res.Path, ordinal: res.Ordinal, isChunk: true}
		} else {
			k = key{docID: res.DocumentID, page: res.PageIndex, isChunk: false}
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, res)
	}
	return out
}

// searchCatalog implements §4.11's mode resolution, lane fan-out, and
// fusion for a single catalog.
func (r *Ranker) searchCatalog(ctx context.Context, src CatalogSource, query string, cfg RankerConfig, nowMS int64) ([]Result, error) {
	mode := cfg.Mode
	if mode == config.ModeHybrid {
		pageCount, err := src.Catalog.PageCount(ctx)
		if err != nil {
			return nil, err
		}
		if pageCount == 0 || src.VisionEmbedder == nil {
			mode = config.ModeText
		}
	}

	switch mode {
	case config.ModeVision:
		if src.VisionEmbedder == nil {
			return nil, apperr.Configuration(apperr.CodeAdapterKindMismatch, "vision mode requires a vision embedder", nil)
		}
		visionHits, err := r.vision.Search(ctx, src.Catalog, src.VisionEmbedder, query, cfg.KFinal)
		if err != nil {
			return nil, err
		}
		return r.fuseVisionOnly(visionHits, cfg), nil

	case config.ModeHybrid:
		if src.TextEmbedder == nil {
			return nil, apperr.Configuration(apperr.CodeAdapterKindMismatch, "hybrid mode requires a text embedder", nil)
		}
		denseHits, lexHits, err := r.runTextLanes(ctx, src, query, cfg)
		if err != nil {
			return nil, err
		}
		visionHits, err := r.vision.Search(ctx, src.Catalog, src.VisionEmbedder, query, cfg.KFinal)
		if err != nil {
			return nil, err
		}
		return r.fuseHybrid(ctx, src.Catalog, denseHits, lexHits, visionHits, cfg, nowMS)

	default: // config.ModeText
		if src.TextEmbedder == nil {
			return nil, apperr.Configuration(apperr.CodeAdapterKindMismatch, "text mode requires a text embedder", nil)
		}
		denseHits, lexHits, err := r.runTextLanes(ctx, src, query, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.FusionMode == config.FusionWeighted {
			return r.fuseTextWeighted(ctx, src.Catalog, denseHits, lexHits, cfg, nowMS)
		}
		return r.fuseTextRRF(ctx, src.Catalog, denseHits, lexHits, cfg, nowMS)
	}
}

func (r *Ranker) runTextLanes(ctx context.Context, src CatalogSource, query string, cfg RankerConfig) ([]DenseHit, []LexicalHit, error) {
	denseHits, err := r.dense.Search(ctx, src.Catalog, src.TextEmbedder, query, cfg.KFinal, cfg.Filter)
	if err != nil {
		return nil, nil, err
	}
	lexHits, err := r.lexical.Search(ctx, src.Catalog, query, cfg.KFinal, cfg.Filter)
	if err != nil {
		return nil, nil, err
	}
	return denseHits, lexHits, nil
}

// fuseTextRRF fuses dense and lexical lanes by RRF (§4.11 RRF fusion).
func (r *Ranker) fuseTextRRF(ctx context.Context, catalog *store.Catalog, dense []DenseHit, lex []LexicalHit, cfg RankerConfig, nowMS int64) ([]Result, error) {
	rrf := make(map[int64]float64)
	denseByID := make(map[int64]float64, len(dense))
	for rank, h := range dense {
		rrf[h.ChunkID] += 1.0 / float64(cfg.RRFConstant+rank+1)
		denseByID[h.ChunkID] = h.Similarity
	}
	lexByID := make(map[int64]float64, len(lex))
	for rank, h := range lex {
		rrf[h.ChunkID] += 1.0 / float64(cfg.RRFConstant+rank+1)
		lexByID[h.ChunkID] = h.ScoreNorm
	}

	return r.hydrateChunkResults(ctx, catalog, rrf, denseByID, lexByID, cfg, nowMS)
}

// fuseTextWeighted implements the permitted weighted-blend alternative for
// text mode (§4.11 Text mode simple path): hybrid = 0.6*dense + 0.4*lex.
func (r *Ranker) fuseTextWeighted(ctx context.Context, catalog *store.Catalog, dense []DenseHit, lex []LexicalHit, cfg RankerConfig, nowMS int64) ([]Result, error) {
	blended := make(map[int64]float64)
	denseByID := make(map[int64]float64, len(dense))
	for _, h := range dense {
		denseByID[h.ChunkID] = h.Similarity
		blended[h.ChunkID] += textWeightedDense * h.Similarity
	}
	lexByID := make(map[int64]float64, len(lex))
	for _, h := range lex {
		lexByID[h.ChunkID] = h.ScoreNorm
		blended[h.ChunkID] += textWeightedLexical * h.ScoreNorm
	}

	return r.hydrateChunkResults(ctx, catalog, blended, denseByID, lexByID, cfg, nowMS)
}

// fuseHybrid fuses dense, lexical, and vision lanes by RRF, unifying chunk
// and page identities into one scored set (§4.11 Unification).
func (r *Ranker) fuseHybrid(ctx context.Context, catalog *store.Catalog, dense []DenseHit, lex []LexicalHit, vision []VisionHit, cfg RankerConfig, nowMS int64) ([]Result, error) {
	rrf := make(map[Identity]float64)
	denseByID := make(map[int64]float64, len(dense))
	for rank, h := range dense {
		id := ChunkIdentity(h.ChunkID)
		rrf[id] += 1.0 / float64(cfg.RRFConstant+rank+1)
		denseByID[h.ChunkID] = h.Similarity
	}
	lexByID := make(map[int64]float64, len(lex))
	for rank, h := range lex {
		id := ChunkIdentity(h.ChunkID)
		rrf[id] += 1.0 / float64(cfg.RRFConstant+rank+1)
		lexByID[h.ChunkID] = h.ScoreNorm
	}
	visionByKey := make(map[Identity]float64, len(vision))
	for rank, h := range vision {
		id := PageIdentity(h.DocumentID, h.PageIndex)
		rrf[id] += 1.0 / float64(cfg.RRFConstant+rank+1)
		visionByKey[id] = h.Score
	}

	chunkIDs := make([]int64, 0, len(rrf))
	for id := range rrf {
		if id.Kind == IdentityChunk {
			chunkIDs = append(chunkIDs, id.ChunkID)
		}
	}
	details, err := catalog.ChunkDetails(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(rrf))
	for id, score := range rrf {
		switch id.Kind {
		case IdentityChunk:
			d, ok := details[id.ChunkID]
			if !ok {
				continue
			}
			boost := recencyBoost(d.ContentTSMS, nowMS, cfg.HalfLifeDays)
			res := Result{
				Identity:       id,
				Score:          score * (1 - cfg.RecencyWeight + cfg.RecencyWeight*boost),
				DenseSim:       denseByID[id.ChunkID],
				LexSim:         lexByID[id.ChunkID],
				Path:           d.Path,
				Ordinal:        d.Ordinal,
				Text:           d.Text,
				SectionContext: d.SectionContext,
				ContentTSMS:    d.ContentTSMS,
			}
			results = append(results, res)
		case IdentityPage:
			results = append(results, Result{
				Identity:    id,
				Score:       score,
				VisionScore: visionByKey[id],
				DocumentID:  id.DocumentID,
				PageIndex:   id.PageIndex,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return identityLess(results[i].Identity, results[j].Identity)
	})
	return results, nil
}

// fuseVisionOnly wraps single-lane vision results in the same RRF +
// recency shape used elsewhere, for consistency (vision mode has no
// content-timestamp, so recency boost is always 1).
func (r *Ranker) fuseVisionOnly(hits []VisionHit, cfg RankerConfig) []Result {
	results := make([]Result, 0, len(hits))
	for rank, h := range hits {
		score := 1.0 / float64(cfg.RRFConstant+rank+1)
		results = append(results, Result{
			Identity:    PageIdentity(h.DocumentID, h.PageIndex),
			Score:       score,
			VisionScore: h.Score,
			DocumentID:  h.DocumentID,
			PageIndex:   h.PageIndex,
		})
	}
	return results
}

// hydrateChunkResults joins per-chunk fused scores against chunk details
// and applies recency modulation, for the text-mode (chunk-only) fusers.
func (r *Ranker) hydrateChunkResults(ctx context.Context, catalog *store.Catalog, scores map[int64]float64, denseByID, lexByID map[int64]float64, cfg RankerConfig, nowMS int64) ([]Result, error) {
	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	details, err := catalog.ChunkDetails(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		d, ok := details[id]
		if !ok {
			continue
		}
		boost := recencyBoost(d.ContentTSMS, nowMS, cfg.HalfLifeDays)
		results = append(results, Result{
			Identity:       ChunkIdentity(id),
			Score:          score * (1 - cfg.RecencyWeight + cfg.RecencyWeight*boost),
			DenseSim:       denseByID[id],
			LexSim:         lexByID[id],
			Path:           d.Path,
			Ordinal:        d.Ordinal,
			Text:           d.Text,
			SectionContext: d.SectionContext,
			ContentTSMS:    d.ContentTSMS,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return identityLess(results[i].Identity, results[j].Identity)
	})
	return results, nil
}

// recencyBoost implements §4.11's recency modulation: boost = 1 when no
// timestamp is present, otherwise 1/(1+(now-t)/(h*86400000)).
func recencyBoost(contentTSMS *int64, nowMS int64, halfLifeDays float64) float64 {
	if contentTSMS == nil {
		return 1
	}
	age := float64(nowMS - *contentTSMS)
	halfLifeMS := halfLifeDays * 86400000
	return 1 / (1 + age/halfLifeMS)
}

// identityLess breaks rank ties by ascending chunk_id, or ascending
// (document_id, page_index) for vision items (§4.11 RRF fusion).
func identityLess(a, b Identity) bool {
	if a.Kind != b.Kind {
		return a.Kind == IdentityChunk
	}
	if a.Kind == IdentityChunk {
		return a.ChunkID < b.ChunkID
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	return a.PageIndex < b.PageIndex
}
