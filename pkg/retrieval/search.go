package retrieval

import (
	"context"
	"time"

	"github.com/aman-cerp/retrieval-skill/internal/config"
	"github.com/aman-cerp/retrieval-skill/internal/search"
)

// Searcher runs queries against one or more Engines' catalogs, fusing and
// deduplicating across them (§4.11 Cross-catalog merge).
type Searcher struct {
	ranker  *search.Ranker
	sources []search.CatalogSource
}

// NewSearcher builds a Searcher over engines. More engines may be added
// later via Add; there is no method to remove one.
func NewSearcher(engines ...*Engine) *Searcher {
	s := &Searcher{ranker: search.NewRanker()}
	for _, e := range engines {
		s.sources = append(s.sources, e.Source())
	}
	return s
}

// Add includes e's catalog in subsequent Search calls.
func (s *Searcher) Add(e *Engine) {
	s.sources = append(s.sources, e.Source())
}

// Search runs query against every configured catalog and returns the fused,
// cross-catalog top-K (§4.11). Recency is scored against time.Now.
func (s *Searcher) Search(ctx context.Context, query string, cfg search.RankerConfig) ([]search.Result, error) {
	return s.ranker.Search(ctx, s.sources, query, cfg, time.Now().UnixMilli())
}

// RankerConfigFromQuery maps the library's recognized query-time options
// (§6) onto the ranker's internal configuration record.
func RankerConfigFromQuery(q config.QueryConfig) search.RankerConfig {
	return search.RankerConfig{
		KFinal:        q.TopK,
		RecencyWeight: q.RecencyWeight,
		HalfLifeDays:  q.HalfLifeDays,
		Filter:        search.MetadataFilter(q.Filters),
		Mode:          q.Mode,
		FusionMode:    q.FusionMode,
		RRFConstant:   q.RRFConstant,
		Threshold:     q.Threshold,
	}
}
