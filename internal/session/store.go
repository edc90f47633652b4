package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"smart-queue/internal/status"
)

// Store is the single place credentials live. The REST client and the push
// subscriber both read from it.
type Store interface {
	// Load returns status.ErrNoCredential when nothing is stored.
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendRedis  Backend = "redis"
)

type MemoryStore struct {
	mu    sync.RWMutex
	creds Credentials
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.creds.Empty() {
		return Credentials{}, status.ErrNoCredential
	}
	return s.creds, nil
}

func (s *MemoryStore) Save(_ context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	return nil
}

func encode(creds Credentials, sealer *Sealer) ([]byte, error) {
	data, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	return sealer.Seal(data)
}

func decode(data []byte, sealer *Sealer) (Credentials, error) {
	plain, err := sealer.Open(data)
	if err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.Empty() {
		return Credentials{}, status.ErrNoCredential
	}
	return creds, nil
}
