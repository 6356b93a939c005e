package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
)

// TextConfig configures the text embedding adapter.
type TextConfig struct {
	// ServerURL is the OpenAI-compatible embedding endpoint's base URL
	// (§6), e.g. http://localhost:8100.
	ServerURL string

	// ModelID is sent as the "model" field of every request.
	ModelID string

	// BatchSize caps how many documents are sent per request.
	BatchSize int

	// BatchConcurrency caps how many batch requests EmbedDocuments has in
	// flight at once (§5 "a small configured fan-out").
	BatchConcurrency int

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// Breaker, if non-nil, guards requests against a persistently down
	// endpoint. A fresh breaker is created if nil.
	Breaker *apperr.CircuitBreaker
}

func (c TextConfig) withDefaults() TextConfig {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8100"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// TextAdapter embeds text through an OpenAI-compatible HTTP endpoint (§6).
type TextAdapter struct {
	cfg       TextConfig
	client    *http.Client
	transport *http.Transport
	breaker   *apperr.CircuitBreaker

	mu  sync.RWMutex
	dim int
}

var _ Adapter = (*TextAdapter)(nil)

// NewTextAdapter constructs a text adapter. It does not contact the endpoint
// until Init is called.
func NewTextAdapter(cfg TextConfig) *TextAdapter {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     10 * time.Second,
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = apperr.NewCircuitBreaker(5, 30*time.Second)
	}

	return &TextAdapter{
		cfg:       cfg,
		client:    &http.Client{Transport: transport},
		transport: transport,
		breaker:   breaker,
	}
}

func (a *TextAdapter) Kind() Kind { return KindText }

// Init probes the endpoint with a short embedding request to learn the
// model's dimension. It probes on every call.
func (a *TextAdapter) Init(ctx context.Context) error {
	if a.cfg.ModelID == "" {
		return apperr.Configuration(apperr.CodeInvalidOption, "text adapter requires a model_id", nil)
	}

	vecs, err := a.embedRaw(ctx, []string{"dimension probe"})
	if err != nil {
		return err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return apperr.Embedding(apperr.CodeEmbeddingDimension, "endpoint returned no embedding for probe request", nil)
	}

	a.mu.Lock()
	a.dim = len(vecs[0])
	a.mu.Unlock()
	return nil
}

func (a *TextAdapter) ModelID() string { return a.cfg.ModelID }

func (a *TextAdapter) EmbeddingDim() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dim
}

func (a *TextAdapter) Dispose() error {
	a.transport.CloseIdleConnections()
	return nil
}

// EmbedQuery embeds a single query string, returning it wrapped in a
// one-element slice to match the Adapter interface's multi-vector shape.
func (a *TextAdapter) EmbedQuery(ctx context.Context, text string) ([]Vector, error) {
	vecs, err := a.embedNonEmpty(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// EmbedDocuments embeds texts in batches of cfg.BatchSize, with up to
// cfg.BatchConcurrency batch requests in flight at once (§5 "a small
// configured fan-out"), preserving order and substituting a zero vector for
// blank/whitespace-only inputs.
func (a *TextAdapter) EmbedDocuments(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]Vector, len(texts))
	dim := a.EmbeddingDim()

	type indexed struct {
		idx  int
		text string
	}
	var nonEmpty []indexed
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make(Vector, dim)
			continue
		}
		nonEmpty = append(nonEmpty, indexed{i, t})
	}

	type batch struct {
		items []indexed
	}
	var batches []batch
	for start := 0; start < len(nonEmpty); start += a.cfg.BatchSize {
		end := start + a.cfg.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batches = append(batches, batch{items: nonEmpty[start:end]})
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, a.cfg.BatchConcurrency)

	for _, b := range batches {
		b := b
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return apperr.Cancelled(gctx.Err())
			}

			batchTexts := make([]string, len(b.items))
			for i, it := range b.items {
				batchTexts[i] = it.text
			}

			vecs, err := a.embedRaw(gctx, batchTexts)
			if err != nil {
				return err
			}
			for i, v := range vecs {
				results[b.items[i].idx] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *TextAdapter) EmbedImages(ctx context.Context, imagePaths []string) ([][]Vector, error) {
	return nil, wrongKind("EmbedImages", KindText)
}

func (a *TextAdapter) ExtractPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	return nil, wrongKind("ExtractPages", KindText)
}

func (a *TextAdapter) embedNonEmpty(ctx context.Context, texts []string) ([]Vector, error) {
	var toSend []string
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			toSend = append(toSend, t)
		}
	}
	if len(toSend) == 0 {
		return []Vector{make(Vector, a.EmbeddingDim())}, nil
	}
	return a.embedRaw(ctx, toSend)
}

// embedRaw performs one embedding request, retried per §6's backoff policy
// on non-2xx status, dimension mismatch against the adapter's known
// dimension, or NaN components.
func (a *TextAdapter) embedRaw(ctx context.Context, texts []string) ([]Vector, error) {
	var out []Vector

	err := apperr.Retry(ctx, apperr.EmbeddingBackoff(), func(attempt int) error {
		breakerErr := a.breaker.Execute(func() error {
			vecs, err := a.doRequest(ctx, texts)
			if err != nil {
				return err
			}
			out = vecs
			return nil
		})
		if breakerErr != nil {
			slog.Debug("text_embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts", len(texts)),
				slog.String("error", breakerErr.Error()))
		}
		return breakerErr
	})

	if err != nil {
		if apperr.IsCancelled(err) {
			return nil, err
		}
		return nil, apperr.Embedding(apperr.CodeEmbeddingExhausted,
			fmt.Sprintf("embedding request failed after retries: %v", err), err)
	}

	return out, nil
}

type textEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type textEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (a *TextAdapter) doRequest(ctx context.Context, texts []string) ([]Vector, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(textEmbedRequest{Model: a.cfg.ModelID, Input: input})
	if err != nil {
		return nil, apperr.Format(apperr.CodeFrontMatterParse, "failed to marshal embedding request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.cfg.ServerURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.IO(apperr.CodeSubprocessIO, "failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperr.Embedding(apperr.CodeEmbeddingHTTPStatus, "failed to reach embedding endpoint", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apperr.Embedding(apperr.CodeEmbeddingHTTPStatus,
			fmt.Sprintf("embedding endpoint returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var parsed textEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Format(apperr.CodeFrontMatterParse, "failed to decode embedding response", err)
	}

	vecs := make([]Vector, len(parsed.Data))
	for i, d := range parsed.Data {
		for _, v := range d.Embedding {
			if v != v { // NaN
				return nil, apperr.Embedding(apperr.CodeEmbeddingNaN, "embedding response contained a NaN component", nil)
			}
		}
		expected := a.EmbeddingDim()
		if expected != 0 && len(d.Embedding) != expected {
			return nil, apperr.Embedding(apperr.CodeEmbeddingDimension,
				fmt.Sprintf("embedding dimension %d does not match adapter dimension %d", len(d.Embedding), expected), nil)
		}
		vecs[i] = normalizeVector(d.Embedding)
	}

	return vecs, nil
}
