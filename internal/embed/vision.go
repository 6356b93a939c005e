package embed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
)

// VisionConfig configures the vision worker subprocess adapter.
type VisionConfig struct {
	// Backend selects the worker variant (§6, VISION_BACKEND).
	Backend string

	// Command launches the worker; defaults to
	// []string{"vision-worker", "--backend", Backend} when nil, overridable
	// for tests.
	Command []string

	execCommand func(name string, args ...string) *exec.Cmd
}

func (c VisionConfig) withDefaults() VisionConfig {
	if len(c.Command) == 0 {
		c.Command = []string{"vision-worker", "--backend", c.Backend}
	}
	if c.execCommand == nil {
		c.execCommand = exec.Command
	}
	return c
}

// visionReady is the worker's first line of output on startup.
type visionReady struct {
	Ready  bool   `json:"ready"`
	Model  string `json:"model"`
	Device string `json:"device"`
}

type visionRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type visionResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// VisionAdapter drives a vision token-embedding worker subprocess over
// newline-delimited JSON on stdin/stdout (§6).
type VisionAdapter struct {
	cfg   VisionConfig
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	scanner *bufio.Scanner
	pending map[int64]chan visionResponse
	nextID  int64

	modelID string
	device  string
	dim     int
}

var _ Adapter = (*VisionAdapter)(nil)

// NewVisionAdapter constructs a vision adapter. The worker process is not
// started until Init is called.
func NewVisionAdapter(cfg VisionConfig) *VisionAdapter {
	return &VisionAdapter{cfg: cfg.withDefaults(), pending: make(map[int64]chan visionResponse)}
}

func (a *VisionAdapter) Kind() Kind { return KindVision }

// Init launches the worker subprocess and reads its ready line.
func (a *VisionAdapter) Init(ctx context.Context) error {
	cmd := a.cfg.execCommand(a.cfg.Command[0], a.cfg.Command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apperr.IO(apperr.CodeSubprocessIO, "failed to open vision worker stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperr.IO(apperr.CodeSubprocessIO, "failed to open vision worker stdout", err)
	}

	if err := cmd.Start(); err != nil {
		return apperr.IO(apperr.CodeSubprocessIO, "failed to start vision worker", err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.scanner = bufio.NewScanner(stdout)
	a.scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !a.scanner.Scan() {
		return apperr.IO(apperr.CodeSubprocessIO, "vision worker closed before sending ready line", a.scanner.Err())
	}

	var ready visionReady
	if err := json.Unmarshal(a.scanner.Bytes(), &ready); err != nil {
		return apperr.Format(apperr.CodePageVectorLayout, "vision worker sent an unparseable ready line", err)
	}
	if !ready.Ready {
		return apperr.IO(apperr.CodeSubprocessIO, "vision worker reported not ready", nil)
	}

	a.modelID = ready.Model
	a.device = ready.Device

	go a.readLoop()

	_, err = a.call(ctx, "health", nil)
	return err
}

func (a *VisionAdapter) readLoop() {
	for a.scanner.Scan() {
		var resp visionResponse
		if err := json.Unmarshal(a.scanner.Bytes(), &resp); err != nil {
			slog.Warn("vision_worker_unparseable_line", slog.String("error", err.Error()))
			continue
		}
		a.mu.Lock()
		ch, ok := a.pending[resp.ID]
		if ok {
			delete(a.pending, resp.ID)
		}
		a.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (a *VisionAdapter) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := atomic.AddInt64(&a.nextID, 1)
	ch := make(chan visionResponse, 1)

	a.mu.Lock()
	a.pending[id] = ch
	a.mu.Unlock()

	req := visionRequest{ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Format(apperr.CodePageVectorLayout, "failed to marshal vision worker request", err)
	}
	line = append(line, '\n')

	if _, err := a.stdin.Write(line); err != nil {
		return nil, apperr.IO(apperr.CodeSubprocessIO, "failed to write to vision worker", err)
	}

	select {
	case <-ctx.Done():
		return nil, apperr.Cancelled(ctx.Err())
	case resp := <-ch:
		if resp.Error != "" {
			return nil, apperr.Embedding(apperr.CodeEmbeddingHTTPStatus, "vision worker returned an error: "+resp.Error, nil)
		}
		return resp.Result, nil
	}
}

func (a *VisionAdapter) ModelID() string { return a.modelID }

func (a *VisionAdapter) EmbeddingDim() int { return a.dim }

func (a *VisionAdapter) Dispose() error {
	if a.stdin != nil {
		_, _ = a.call(context.Background(), "shutdown", nil)
		_ = a.stdin.Close()
	}
	if a.cmd != nil && a.cmd.Process != nil {
		return a.cmd.Wait()
	}
	return nil
}

// EmbedQuery returns the multi-vector token embedding of a query string.
func (a *VisionAdapter) EmbedQuery(ctx context.Context, text string) ([]Vector, error) {
	var out []Vector
	err := apperr.Retry(ctx, apperr.EmbeddingBackoff(), func(attempt int) error {
		raw, callErr := a.call(ctx, "embed_query", map[string]any{"text": text})
		if callErr != nil {
			return callErr
		}
		var parsed struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return apperr.Format(apperr.CodePageVectorLayout, "failed to decode embed_query response", err)
		}
		vecs, err := vectorsFromFloats(parsed.Embeddings)
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	return out, err
}

func (a *VisionAdapter) EmbedDocuments(ctx context.Context, texts []string) ([]Vector, error) {
	return nil, wrongKind("EmbedDocuments", KindVision)
}

// EmbedImages returns one multi-vector token representation per page image.
func (a *VisionAdapter) EmbedImages(ctx context.Context, imagePaths []string) ([][]Vector, error) {
	var out [][]Vector
	err := apperr.Retry(ctx, apperr.EmbeddingBackoff(), func(attempt int) error {
		raw, callErr := a.call(ctx, "embed_images", map[string]any{"paths": imagePaths})
		if callErr != nil {
			return callErr
		}
		var parsed struct {
			Embeddings [][][]float32 `json:"embeddings"`
			NumVectors []int         `json:"num_vectors"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return apperr.Format(apperr.CodePageVectorLayout, "failed to decode embed_images response", err)
		}
		result := make([][]Vector, len(parsed.Embeddings))
		for i, page := range parsed.Embeddings {
			vecs, err := vectorsFromFloats(page)
			if err != nil {
				return err
			}
			result[i] = vecs
		}
		out = result
		return nil
	})
	return out, err
}

// ExtractPages rasterizes a PDF into per-page images via the worker.
func (a *VisionAdapter) ExtractPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	raw, err := a.call(ctx, "extract_pages", map[string]any{"pdf_path": pdfPath, "output_dir": outDir})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Format(apperr.CodePageVectorLayout, "failed to decode extract_pages response", err)
	}
	return parsed.Paths, nil
}

func vectorsFromFloats(rows [][]float32) ([]Vector, error) {
	out := make([]Vector, len(rows))
	for i, row := range rows {
		for _, v := range row {
			if v != v {
				return nil, apperr.Embedding(apperr.CodeEmbeddingNaN, fmt.Sprintf("vision embedding row %d contained a NaN component", i), nil)
			}
		}
		out[i] = normalizeVector(row)
	}
	return out, nil
}
