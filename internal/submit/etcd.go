package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"decision/internal/queue"
	"decision/pkg/store"
)

// NewEtcd submits into an etcd-scheduled cluster. Task definitions are the
// same as for Taskcluster; routes of the form "index.<route>" are indexed
// directly in the store for indexTTL, since there is no index service to do
// it on completion.
//
// A route is indexed when its task is created, not when it succeeds. An
// image build that later fails stays indexed until the lease expires, and
// runs in between depend on it; delete <prefix>/index/<route> to force a
// rebuild.
func NewEtcd(s store.Store, indexTTL time.Duration, opts ...RemoteOption) *Remote {
	sq := &storeQueue{store: s, ttl: indexTTL}
	return NewRemote(sq, sq, opts...)
}

type storeQueue struct {
	store store.Store
	ttl   time.Duration
}

func (q *storeQueue) CreateTask(ctx context.Context, taskID string, task *queue.Task) (*queue.TaskStatus, error) {
	definition, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", taskID, err)
	}
	if err := q.store.CreateTask(ctx, taskID, definition); err != nil {
		return nil, err
	}
	for _, route := range task.Routes {
		indexed, ok := strings.CutPrefix(route, "index.")
		if !ok {
			continue
		}
		if err := q.store.IndexTask(ctx, indexed, taskID, q.ttl); err != nil {
			return nil, fmt.Errorf("index %s: %w", indexed, err)
		}
	}
	status := &queue.TaskStatus{}
	status.Status.TaskID = taskID
	status.Status.State = "pending"
	return status, nil
}

func (q *storeQueue) FindTask(ctx context.Context, route string) (string, error) {
	id, err := q.store.FindTask(ctx, route)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", queue.ErrNotFound, err)
	}
	return id, err
}
