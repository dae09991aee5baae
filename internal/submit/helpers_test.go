package submit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"decision/internal/queue"
	"decision/internal/taskgraph"
	"decision/pkg/model"
)

const testDockerfile = "FROM ubuntu:bionic-20180821\n"

var testNow = time.Date(2018, 9, 20, 12, 0, 0, 0, time.UTC)

func testProject() *model.ProjectContext {
	return &model.ProjectContext{
		ProjectName:            "Servo",
		RoutePrefix:            "project.servo.servo",
		DockerImageCacheExpiry: 7 * 24 * time.Hour,
		WorkerType:             "servo-docker-worker",
		ProvisionerID:          "aws-provisioner-v1",
		SchedulerID:            "taskcluster-github",
		Deadline:               24 * time.Hour,
		DecisionTaskID:         "decisiontask",
	}
}

func testBuilder(t *testing.T, project *model.ProjectContext) *taskgraph.Builder {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build-x86_64-linux.dockerfile"), []byte(testDockerfile), 0o644))
	return taskgraph.NewBuilder(project, taskgraph.WithDockerfileDir(dir))
}

func build(t *testing.T, b *taskgraph.Builder, spec taskgraph.TaskSpec) *taskgraph.TaskDescriptor {
	t.Helper()
	d, err := b.Build(spec)
	require.NoError(t, err)
	return d
}

func tidy() taskgraph.TaskSpec {
	return taskgraph.TaskSpec{
		Name:              "tidy",
		Command:           []string{"./mach test-tidy --no-progress --all"},
		Dockerfile:        "build-x86_64-linux",
		MaxRunTimeMinutes: 20,
	}
}

func release() taskgraph.TaskSpec {
	return taskgraph.TaskSpec{
		Name:              "building for Linux x86_64 in release mode",
		Command:           []string{"./mach build --release"},
		Env:               map[string]string{"RUST_BACKTRACE": "1"},
		Dockerfile:        "build-x86_64-linux",
		MaxRunTimeMinutes: 180,
		Scopes:            taskgraph.ScopeSet{"docker-worker:cache:cargo-registry-cache"},
		Cache:             map[string]string{"cargo-registry-cache": "/root/.cargo/registry"},
	}
}

// sequentialIDs hands out task-1, task-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("task-%d", n)
	}
}

type fakeQueue struct {
	mu      sync.Mutex
	created map[string]*queue.Task
	order   []string
	indexed map[string]string
	finds   int
	reject  func(*queue.Task) error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{created: map[string]*queue.Task{}, indexed: map[string]string{}}
}

func (q *fakeQueue) CreateTask(_ context.Context, id string, task *queue.Task) (*queue.TaskStatus, error) {
	if q.reject != nil {
		if err := q.reject(task); err != nil {
			return nil, err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.created[id] = task
	q.order = append(q.order, id)
	return &queue.TaskStatus{}, nil
}

func (q *fakeQueue) FindTask(_ context.Context, route string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finds++
	if id, ok := q.indexed[route]; ok {
		return id, nil
	}
	return "", fmt.Errorf("route %s: %w", route, queue.ErrNotFound)
}
