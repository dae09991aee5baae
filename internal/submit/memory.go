package submit

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"decision/internal/queue"
	"decision/internal/taskgraph"
)

// Memory records descriptors instead of sending them anywhere. It backs
// dry runs and tests.
type Memory struct {
	logger *zap.Logger

	mu        sync.Mutex
	submitted []*taskgraph.TaskDescriptor
	handles   []Handle
}

func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{logger: logger}
}

func (m *Memory) Submit(_ context.Context, d *taskgraph.TaskDescriptor) (Handle, error) {
	h := Handle{TaskID: queue.SlugID(), Name: d.Name()}

	m.mu.Lock()
	m.submitted = append(m.submitted, d)
	m.handles = append(m.handles, h)
	m.mu.Unlock()

	m.logger.Info("would schedule task",
		zap.String("task", d.QualifiedName()),
		zap.String("task_id", h.TaskID),
		zap.Stringer("image", d.Image()),
		zap.Int("max_run_time_minutes", d.MaxRunTimeMinutes()),
		zap.Strings("scopes", d.Scopes()),
		zap.Any("cache", d.CacheMap()))
	return h, nil
}

// Submitted returns the descriptors received so far, in submission order.
func (m *Memory) Submitted() []*taskgraph.TaskDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*taskgraph.TaskDescriptor(nil), m.submitted...)
}

func (m *Memory) Handles() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Handle(nil), m.handles...)
}
