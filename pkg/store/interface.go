package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Store is what an etcd-scheduled cluster needs from the decision: a place
// to put task definitions and an index of routes to task IDs. Definitions
// are opaque JSON documents. Any implementation (EtcdManager, or a fake in
// tests) can back the etcd submitter.
type Store interface {
	// CreateTask stores a new task definition; ErrExists if the ID is taken.
	CreateTask(ctx context.Context, id string, definition json.RawMessage) error

	GetTask(ctx context.Context, id string) (json.RawMessage, error)

	// IndexTask points route at taskID for ttl.
	IndexTask(ctx context.Context, route, taskID string, ttl time.Duration) error

	// FindTask resolves an indexed route; ErrNotFound when absent or expired.
	FindTask(ctx context.Context, route string) (string, error)
}
