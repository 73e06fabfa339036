package store

import (
	"context"
	"sync"

	"labtrack/internal/lab"
)

// Memory keeps the snapshot as encoded bytes so callers never share state
// with it.
type Memory struct {
	mu   sync.Mutex
	body []byte
}

// NewMemory returns an empty in-memory snapshot store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load decodes the last saved snapshot.
func (m *Memory) Load(ctx context.Context) (*lab.Dataset, error) {
	m.mu.Lock()
	body := m.body
	m.mu.Unlock()
	ds, err := Decode(body)
	return ds, ioErr("memory", "load", err)
}

// Save replaces the stored snapshot.
func (m *Memory) Save(ctx context.Context, ds *lab.Dataset) error {
	body, err := Encode(ds)
	if err != nil {
		return ioErr("memory", "save", err)
	}
	m.mu.Lock()
	m.body = body
	m.mu.Unlock()
	return nil
}
