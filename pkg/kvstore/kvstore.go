// Package kvstore provides the persistent local key-value storage the
// offline layer writes to. It plays the role the browser's localStorage
// plays for the web client: a single shared namespace, string keys, atomic
// single-key writes.
package kvstore

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("kvstore: corrupt value")
)

// Store is a persistent key-value store. Implementations must be safe for
// concurrent use and make each Set atomic for its key.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys() ([]string, error)
	Close() error
}

// KeysWithPrefix returns the sorted keys of s that start with prefix.
func KeysWithPrefix(s Store, prefix string) ([]string, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
