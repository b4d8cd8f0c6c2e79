// Package storage persists the small amount of client state that must
// survive a restart: the credential, the unread ledger and the time the
// matches view was last opened.
package storage

import (
	"context"
	"errors"
	"sync"
)

// Keys of the persisted client state. Values are stored verbatim.
const (
	KeyToken           = "token"
	KeyUnreadUsers     = "unread_users"
	KeyLastMatchesView = "lastMatchesView"
)

var ErrNotFound = errors.New("storage: key not found")

// Store is a string key/value store. Get returns ErrNotFound for a missing key.
// Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
