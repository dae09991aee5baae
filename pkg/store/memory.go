package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. Entries expire like etcd leases.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	tasks map[string][]byte
	index map[string]entry
}

type entry struct {
	value   string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:   time.Now,
		tasks: make(map[string][]byte),
		index: make(map[string]entry),
	}
}

func (m *MemoryStore) CreateTask(_ context.Context, id string, definition json.RawMessage) error {
	if !json.Valid(definition) {
		return fmt.Errorf("task %s: definition is not valid JSON", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; ok {
		return fmt.Errorf("task %s: %w", id, ErrExists)
	}
	m.tasks[id] = slices.Clone(definition)
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return slices.Clone(data), nil
}

func (m *MemoryStore) IndexTask(_ context.Context, route, taskID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index[route] = entry{value: taskID, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) FindTask(_ context.Context, route string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.index[route]
	if !ok || !m.now().Before(e.expires) {
		return "", fmt.Errorf("index route %s: %w", route, ErrNotFound)
	}
	return e.value, nil
}

// Tasks returns the IDs of every stored task.
func (m *MemoryStore) Tasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	return ids
}
