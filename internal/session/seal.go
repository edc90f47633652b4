package session

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Sealer encrypts stored credentials. A nil Sealer stores them in clear.
type Sealer struct {
	key [32]byte
}

// NewSealer derives the box key from secret. An empty secret disables
// sealing and returns nil.
func NewSealer(secret string) *Sealer {
	if secret == "" {
		return nil
	}
	return &Sealer{key: sha256.Sum256([]byte(secret))}
}

func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	if s == nil {
		return plain, nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Sealer) Open(box []byte) ([]byte, error) {
	if s == nil {
		return box, nil
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, errors.New("open: sealed value too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("open: authentication failed")
	}
	return plain, nil
}
