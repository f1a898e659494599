// Package hashutil computes and caches file content fingerprints.
//
// Fingerprinting is fixed to SHA-256: downgrading to a cheaper digest
// is not an option, since the remote may report fingerprints the local
// side must verify byte-for-byte. An LRU cache keyed on path/size/mtime
// avoids rehashing a file that hasn't changed since the last pass.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Hasher computes the SHA-256 fingerprint of a file's bytes.
type Hasher interface {
	HashFile(path string) (string, error)
}

// cacheKey identifies a file by path plus the (size, mtime-unixnano) pair
// that the change detector already uses as its cheap fast-path signal. A
// rewrite that keeps both the size and the mtime hits the cache and gets
// the earlier digest back.
type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

// SHA256Hasher is the default Hasher, backed by a bounded LRU so repeated
// hashing of the same unchanged file (e.g. the change detector's
// touch-only tiebreak on a later pass) skips the read. The key includes
// the path, so identical content under different paths is hashed again.
type SHA256Hasher struct {
	cache *lru.Cache[cacheKey, string]
}

// NewSHA256Hasher builds a Hasher with an LRU of the given capacity.
// A capacity of 0 disables caching.
func NewSHA256Hasher(capacity int) (*SHA256Hasher, error) {
	if capacity <= 0 {
		return &SHA256Hasher{}, nil
	}
	cache, err := lru.New[cacheKey, string](capacity)
	if err != nil {
		return nil, fmt.Errorf("hashutil: new lru: %w", err)
	}
	return &SHA256Hasher{cache: cache}, nil
}

// HashFile returns the lowercase hex SHA-256 digest of the file at path.
func (h *SHA256Hasher) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("hashutil: stat %s: %w", path, err)
	}

	key := cacheKey{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()}
	if h.cache != nil {
		if digest, ok := h.cache.Get(key); ok {
			return digest, nil
		}
	}

	digest, err := hashFileContents(path)
	if err != nil {
		return "", err
	}

	if h.cache != nil {
		h.cache.Add(key, digest)
	}
	return digest, nil
}

func hashFileContents(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashutil: open %s: %w", path, err)
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", fmt.Errorf("hashutil: read %s: %w", path, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// HashBytes returns the hex SHA-256 digest of raw bytes, used for empty
// files and in tests where no filesystem round-trip is wanted.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
