package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistencyChecker_ReportsCleanCatalogAsConsistent(t *testing.T) {
	ctx := context.Background()
	cat := openTestRunnerCatalog(t, 8)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	vec := make([]float32, 8)
	vec[0] = 1
	_, err = cat.InsertChunk(ctx, fileID, 0, "hello world", vec, "ck-1", "", nil)
	require.NoError(t, err)

	checker := NewConsistencyChecker(cat)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Empty(t, result.Inconsistencies)
}

func TestConsistencyChecker_DetectsOrphanVectorEntry(t *testing.T) {
	ctx := context.Background()
	cat := openTestRunnerCatalog(t, 8)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	vec := make([]float32, 8)
	vec[0] = 1
	chunkID, err := cat.InsertChunk(ctx, fileID, 0, "hello world", vec, "ck-1", "", nil)
	require.NoError(t, err)

	orphanVec := make([]float32, 8)
	orphanVec[1] = 1
	require.NoError(t, cat.VectorsForTest().Add(ctx, []string{"chunk:99999"}, [][]float32{orphanVec}))

	checker := NewConsistencyChecker(cat)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)

	var foundOrphan bool
	for _, issue := range result.Inconsistencies {
		if issue.Type == InconsistencyOrphanVector && issue.ChunkID == 99999 {
			foundOrphan = true
		}
		assert.NotEqual(t, chunkID, issue.ChunkID, "the real chunk should not be reported as inconsistent")
	}
	assert.True(t, foundOrphan)
}

func TestConsistencyChecker_RepairRemovesOrphans(t *testing.T) {
	ctx := context.Background()
	cat := openTestRunnerCatalog(t, 8)

	orphanVec := make([]float32, 8)
	orphanVec[2] = 1
	require.NoError(t, cat.VectorsForTest().Add(ctx, []string{"chunk:42"}, [][]float32{orphanVec}))

	checker := NewConsistencyChecker(cat)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, result.Inconsistencies)

	require.NoError(t, checker.Repair(ctx, result.Inconsistencies))

	result2, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, result2.Inconsistencies)
}

func TestConsistencyChecker_QuickCheckAgreesWhenInSync(t *testing.T) {
	ctx := context.Background()
	cat := openTestRunnerCatalog(t, 8)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	vec := make([]float32, 8)
	vec[0] = 1
	_, err = cat.InsertChunk(ctx, fileID, 0, "content", vec, "ck-1", "", nil)
	require.NoError(t, err)

	checker := NewConsistencyChecker(cat)
	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsistencyChecker_QuickCheckDetectsMismatch(t *testing.T) {
	ctx := context.Background()
	cat := openTestRunnerCatalog(t, 8)

	vec := make([]float32, 8)
	vec[0] = 1
	require.NoError(t, cat.VectorsForTest().Add(ctx, []string{"chunk:7"}, [][]float32{vec}))

	checker := NewConsistencyChecker(cat)
	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
