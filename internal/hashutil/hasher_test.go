package hashutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256Hasher_HashFile_MatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	content := []byte("hello world")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	h, err := NewSHA256Hasher(16)
	require.NoError(t, err)

	digest, err := h.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(content), digest)
}

func TestSHA256Hasher_CacheHit_SkipsReReadAfterTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	info, err := os.Stat(path)
	require.NoError(t, err)

	h, err := NewSHA256Hasher(16)
	require.NoError(t, err)

	first, err := h.HashFile(path)
	require.NoError(t, err)

	// Rewrite with identical size and attempt to force the same mtime;
	// a cache hit keyed on (path, size, mtime) returns the stale digest.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	second, err := h.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSHA256Hasher_ZeroCapacity_DisablesCaching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	info, err := os.Stat(path)
	require.NoError(t, err)

	h, err := NewSHA256Hasher(0)
	require.NoError(t, err)

	first, err := h.HashFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	second, err := h.HashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestHashBytes_EmptyInput(t *testing.T) {
	// sha256("") is a well-known constant digest.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
}
