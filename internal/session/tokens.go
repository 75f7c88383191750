package session

import (
	"context"
	"sync"
)

// TokenStore persists the bearer token between runs. It is the only piece
// of client state that survives a restart.
type TokenStore interface {
	// Load returns "" with a nil error when no token is stored.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// MemoryTokens keeps the token for the lifetime of the process.
type MemoryTokens struct {
	mu    sync.Mutex
	token string
}

var _ TokenStore = (*MemoryTokens)(nil)

func (m *MemoryTokens) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokens) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryTokens) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}
