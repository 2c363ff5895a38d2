// Package cache stores serialized artifacts across processes.
package cache

import (
	"crypto/sha256"
	"io"
)

// Cache is a store of serialized artifacts. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the content stored under key. ok is false, and err nil, if there is no such entry. The
	// caller closes content.
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	// Add stores content under key, replacing any existing entry.
	Add(key Key, content io.Reader) error
	// Delete removes the entry stored under key. Deleting a missing entry is not an error.
	Delete(key Key) error
}

// Key identifies a cache entry.
type Key = [sha256.Size]byte

// NewKey derives a key from the given parts. Each part is length-prefixed, so distinct sequences of
// parts produce distinct keys.
func NewKey(parts ...[]byte) Key {
	h := sha256.New()
	var prefix [8]byte
	for _, p := range parts {
		n := uint64(len(p))
		for i := range prefix {
			prefix[i] = byte(n >> (8 * i))
		}
		h.Write(prefix[:])
		h.Write(p)
	}
	var k Key
	h.Sum(k[:0])
	return k
}
