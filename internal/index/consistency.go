package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/aman-cerp/retrieval-skill/internal/store"
)

// InconsistencyType categorizes a detected cross-store issue.
type InconsistencyType int

const (
	// InconsistencyOrphanLexical indicates a lexical shadow row without a
	// matching chunks row.
	InconsistencyOrphanLexical InconsistencyType = iota
	// InconsistencyOrphanVector indicates a vector sidecar entry without a
	// matching chunks row.
	InconsistencyOrphanVector
	// InconsistencyMissingLexical indicates a chunk missing its lexical
	// shadow row.
	InconsistencyMissingLexical
	// InconsistencyMissingVector indicates a chunk missing its vector
	// sidecar entry.
	InconsistencyMissingVector
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanLexical:
		return "orphan_lexical"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingLexical:
		return "missing_lexical"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID int64
	Details string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker validates that a catalog's chunks table, lexical
// shadow, and vector sidecar agree on which chunk IDs exist. The chunks
// table is the source of truth; the other two are derived sidecars that
// should contain exactly its rowids (§3, §4.5).
type ConsistencyChecker struct {
	catalog *store.Catalog
}

// NewConsistencyChecker creates a checker for catalog.
func NewConsistencyChecker(catalog *store.Catalog) *ConsistencyChecker {
	return &ConsistencyChecker{catalog: catalog}
}

// Check scans the catalog's chunk IDs against its lexical and vector
// sidecars for orphans and gaps.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	chunkIDs, err := c.catalog.AllChunkIDs(ctx)
	if err != nil {
		return nil, err
	}
	chunkSet := make(map[int64]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		chunkSet[id] = true
	}

	lexicalIDs, err := c.catalog.AllLexicalRowIDs(ctx)
	if err != nil {
		slog.Warn("failed to list lexical shadow rowids for consistency check", slog.String("error", err.Error()))
	}
	lexicalSet := make(map[int64]bool, len(lexicalIDs))
	for _, id := range lexicalIDs {
		lexicalSet[id] = true
	}

	vectorIDs := c.catalog.AllVectorChunkIDs()
	vectorSet := make(map[int64]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
	}

	for _, id := range lexicalIDs {
		if !chunkSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanLexical, ChunkID: id, Details: "lexical shadow row without matching chunk"})
		}
	}
	for _, id := range vectorIDs {
		if !chunkSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, ChunkID: id, Details: "vector sidecar entry without matching chunk"})
		}
	}
	for _, id := range chunkIDs {
		if !lexicalSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingLexical, ChunkID: id, Details: "chunk missing lexical shadow row"})
		}
		if !vectorSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, ChunkID: id, Details: "chunk missing vector sidecar entry"})
		}
	}

	return &CheckResult{
		Checked:         len(chunkIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair removes orphaned lexical/vector entries. Missing entries require a
// reindex of the owning file, since the sidecar content (text, vector) isn't
// recoverable from the chunks table alone; Repair only logs how many were
// found.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphanLexical, orphanVector []int64
	var missingCount int

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanLexical:
			orphanLexical = append(orphanLexical, issue.ChunkID)
		case InconsistencyOrphanVector:
			orphanVector = append(orphanVector, issue.ChunkID)
		case InconsistencyMissingLexical, InconsistencyMissingVector:
			missingCount++
		}
	}

	if len(orphanLexical) > 0 {
		if err := c.catalog.DeleteLexicalRows(ctx, orphanLexical); err != nil {
			slog.Warn("failed to delete orphan lexical rows", slog.Int("count", len(orphanLexical)), slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan lexical rows", slog.Int("count", len(orphanLexical)))
		}
	}

	if len(orphanVector) > 0 {
		if err := c.catalog.DeleteVectorEntries(ctx, orphanVector); err != nil {
			slog.Warn("failed to delete orphan vector entries", slog.Int("count", len(orphanVector)), slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan vector entries", slog.Int("count", len(orphanVector)))
		}
	}

	if missingCount > 0 {
		slog.Warn("catalog has chunks missing a lexical or vector entry, run a full reindex to repair", slog.Int("missing_count", missingCount))
	}

	return nil
}

// QuickCheck reports whether the three stores' row counts agree, without
// resolving individual IDs.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	chunkCount, err := c.catalog.ChunkCount(ctx)
	if err != nil {
		return false, err
	}
	lexicalCount, err := c.catalog.LexicalCount(ctx)
	if err != nil {
		return false, err
	}
	vectorCount := c.catalog.VectorCount()

	consistent := chunkCount == lexicalCount && chunkCount == vectorCount
	if !consistent {
		slog.Debug("catalog counts mismatch",
			slog.Int("chunks", chunkCount),
			slog.Int("lexical", lexicalCount),
			slog.Int("vector", vectorCount))
	}
	return consistent, nil
}
