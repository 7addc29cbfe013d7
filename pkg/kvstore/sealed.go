package kvstore

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed encrypts values at rest with XChaCha20-Poly1305. Keys stay in the
// clear so prefix scans keep working; each ciphertext is bound to its key
// through the additional data, so swapping two files is detected.
type Sealed struct {
	Store
	aead cipher.AEAD
}

// NewSealed wraps inner with a 32-byte key.
func NewSealed(inner Store, key []byte) (*Sealed, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Sealed{Store: inner, aead: aead}, nil
}

func (s *Sealed) Get(key string) ([]byte, error) {
	raw, err := s.Store.Get(key)
	if err != nil {
		return nil, err
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return nil, fmt.Errorf("%w: %s too short", ErrCorrupt, key)
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return plain, nil
}

func (s *Sealed) Set(key string, value []byte) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return s.Store.Set(key, s.aead.Seal(nonce, nonce, value, []byte(key)))
}
