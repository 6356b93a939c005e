package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockTryLockExclusion(t *testing.T) {
	dir := t.TempDir()

	a := NewFileLock(dir)
	ok, err := a.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer a.Unlock()

	b := NewFileLock(dir)
	ok, err = b.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileLockUnlockAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	a := NewFileLock(dir)
	ok, err := a.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.Unlock())

	b := NewFileLock(dir)
	ok, err = b.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	defer b.Unlock()
}

func TestFileLockUnlockIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	a := NewFileLock(dir)
	assert.NoError(t, a.Unlock())
	assert.False(t, a.IsLocked())
}
