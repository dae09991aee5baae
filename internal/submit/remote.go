package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"decision/internal/queue"
	"decision/internal/taskgraph"
	"decision/pkg/model"
)

// Queue creates tasks on the remote scheduler.
type Queue interface {
	CreateTask(ctx context.Context, taskID string, task *queue.Task) (*queue.TaskStatus, error)
}

// Index resolves routes to previously created tasks. It returns an error
// wrapping queue.ErrNotFound when nothing is indexed under the route.
type Index interface {
	FindTask(ctx context.Context, route string) (string, error)
}

// Remote submits rendered task definitions to a queue. Tasks with an
// in-tree dockerfile depend on a task that builds the image; that task is
// looked up in the index first and created at most once per run.
type Remote struct {
	queue  Queue
	index  Index
	now    func() time.Time
	newID  func() string
	logger *zap.Logger

	graphOnce sync.Once
	graph     graphInfo

	images singleflight.Group
	mu     sync.Mutex
	built  map[string]string // dockerfile digest -> image task ID
}

type RemoteOption func(*Remote)

// WithClock fixes the time tasks are created at.
func WithClock(now func() time.Time) RemoteOption {
	return func(r *Remote) { r.now = now }
}

// WithIDs replaces the task ID generator.
func WithIDs(newID func() string) RemoteOption {
	return func(r *Remote) { r.newID = newID }
}

func WithRemoteLogger(l *zap.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

func NewRemote(q Queue, idx Index, opts ...RemoteOption) *Remote {
	r := &Remote{
		queue:  q,
		index:  idx,
		now:    time.Now,
		newID:  queue.SlugID,
		logger: zap.NewNop(),
		built:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewTaskcluster submits through a Taskcluster queue and index.
func NewTaskcluster(c *queue.Client, opts ...RemoteOption) *Remote {
	return NewRemote(c, c, opts...)
}

func (r *Remote) Submit(ctx context.Context, d *taskgraph.TaskDescriptor) (Handle, error) {
	project := d.Project()
	g := r.graphFor(project)

	image, deps, err := r.image(ctx, g, project, d.Image())
	if err != nil {
		return Handle{}, submissionError(d.Name(), err)
	}

	taskID := r.newID()
	task := g.renderTask(d, image, deps)
	if _, err := r.queue.CreateTask(ctx, taskID, task); err != nil {
		return Handle{}, submissionError(d.Name(), err)
	}

	r.logger.Info(fmt.Sprintf("Scheduled %s: %s", d.Name(), taskID),
		zap.String("task", d.Name()),
		zap.String("task_id", taskID),
		zap.Strings("dependencies", task.Dependencies))
	return Handle{TaskID: taskID, Name: d.Name()}, nil
}

// graphFor fixes the group ID and creation time on first use so every task
// of the run agrees on them.
func (r *Remote) graphFor(project *model.ProjectContext) graphInfo {
	r.graphOnce.Do(func() {
		r.graph = graphInfo{groupID: project.DecisionTaskID, now: r.now()}
		if r.graph.groupID == "" {
			r.graph.groupID = r.newID()
		}
	})
	return r.graph
}

func (r *Remote) image(ctx context.Context, g graphInfo, project *model.ProjectContext, img model.Image) (queue.Image, []string, error) {
	if img.Kind == model.ImageRegistry {
		return queue.Image{Name: img.Reference}, nil, nil
	}
	taskID, err := r.findOrBuildImage(ctx, g, project, img)
	if err != nil {
		return queue.Image{}, nil, fmt.Errorf("image %s: %w", img.Name, err)
	}
	return queue.Image{TaskID: taskID, Path: "public/" + ImageArtifact}, []string{taskID}, nil
}

func (r *Remote) findOrBuildImage(ctx context.Context, g graphInfo, project *model.ProjectContext, img model.Image) (string, error) {
	v, err, _ := r.images.Do(img.Digest, func() (any, error) {
		r.mu.Lock()
		id, ok := r.built[img.Digest]
		r.mu.Unlock()
		if ok {
			return id, nil
		}

		route := project.ImageRoute(img.Digest)
		id, err := r.index.FindTask(ctx, route)
		switch {
		case err == nil:
			r.logger.Info("reusing indexed image", zap.String("image", img.Name), zap.String("route", route), zap.String("task_id", id))
		case errors.Is(err, queue.ErrNotFound):
			id = r.newID()
			if _, err := r.queue.CreateTask(ctx, id, g.renderImageBuild(project, img)); err != nil {
				return "", err
			}
			r.logger.Info(fmt.Sprintf("Scheduled docker image build task for image: %s: %s", img.Name, id),
				zap.String("image", img.Name), zap.String("route", route), zap.String("task_id", id))
		default:
			return "", fmt.Errorf("find %s: %w", route, err)
		}

		r.mu.Lock()
		r.built[img.Digest] = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
