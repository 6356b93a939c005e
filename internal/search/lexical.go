package search

import (
	"context"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"

	"github.com/aman-cerp/retrieval-skill/internal/store"
)

// queryAnalyzer tokenizes a free-text query using the same word-boundary
// grammar the lexical backend's own analyzer uses, so the composed FTS
// expression's terms line up with what was indexed (§4.9 step 1).
type queryAnalyzer struct {
	tokenizer analysis.Tokenizer
	filters   []analysis.TokenFilter
}

func newQueryAnalyzer() *queryAnalyzer {
	return &queryAnalyzer{
		tokenizer: unicode.NewUnicodeTokenizer(),
		filters:   []analysis.TokenFilter{lowercase.NewLowercaseFilter()},
	}
}

func (a *queryAnalyzer) tokenize(text string) []string {
	stream := a.tokenizer.Tokenize([]byte(text))
	for _, f := range a.filters {
		stream = f.Filter(stream)
	}

	tokens := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		tokens = append(tokens, string(tok.Term))
	}
	return tokens
}

// LexicalLane implements the lexical (full-text) search lane (§4.9).
type LexicalLane struct {
	analyzer *queryAnalyzer
}

// NewLexicalLane builds a LexicalLane.
func NewLexicalLane() *LexicalLane {
	return &LexicalLane{analyzer: newQueryAnalyzer()}
}

// Search tokenizes query, composes a phrase-safe AND expression, runs it
// against catalog's lexical shadow, and min-max normalizes the raw scores
// to [0,1] within the returned set. A double-quoted span in query is kept
// as one phrase; every other token is matched on its own.
func (l *LexicalLane) Search(ctx context.Context, catalog *store.Catalog, query string, kFinal int, filter MetadataFilter) ([]LexicalHit, error) {
	var quoted []string
	for i, seg := range strings.Split(query, `"`) {
		tokens := l.analyzer.tokenize(seg)
		if len(tokens) == 0 {
			continue
		}
		if i%2 == 1 {
			quoted = append(quoted, `"`+escapeFTSPhrase(strings.Join(tokens, " "))+`"`)
			continue
		}
		for _, t := range tokens {
			quoted = append(quoted, `"`+escapeFTSPhrase(t)+`"`)
		}
	}
	if len(quoted) == 0 {
		return nil, nil
	}
	expr := strings.Join(quoted, " ")

	k := kWithFloor(kFinal)
	raw, err := catalog.LexicalMatch(ctx, expr, k)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	minScore, maxScore := raw[0].Score, raw[0].Score
	for _, r := range raw {
		if r.Score < minScore {
			minScore = r.Score
		}
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}

	hits := make([]LexicalHit, 0, len(raw))
	if len(filter) > 0 {
		ids := make([]int64, len(raw))
		for i, r := range raw {
			ids[i] = r.ChunkID
		}
		details, err := catalog.ChunkDetails(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, r := range raw {
			d, ok := details[r.ChunkID]
			if !ok || !filter.Matches(d.MetadataJSON) {
				continue
			}
			hits = append(hits, LexicalHit{ChunkID: r.ChunkID, ScoreNorm: normalizeMinMax(r.Score, minScore, maxScore)})
		}
	} else {
		for _, r := range raw {
			hits = append(hits, LexicalHit{ChunkID: r.ChunkID, ScoreNorm: normalizeMinMax(r.Score, minScore, maxScore)})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].ScoreNorm > hits[j].ScoreNorm })
	return hits, nil
}

func normalizeMinMax(score, min, max float64) float64 {
	if max == min {
		if max == 0 {
			return 0
		}
		return 1
	}
	return (score - min) / (max - min)
}

// escapeFTSPhrase doubles embedded double-quotes so a token can be safely
// wrapped in an FTS5 phrase (SQLite's own escaping convention for `"`
// inside a quoted string).
func escapeFTSPhrase(token string) string {
	return strings.ReplaceAll(token, `"`, `""`)
}
