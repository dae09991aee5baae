package taskgraph

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/docker/distribution/reference"
	"go.uber.org/zap"

	"decision/pkg/model"
)

// Builder turns TaskSpecs into TaskDescriptors for a single decision run.
// Its only mutable state is the set of task names already claimed.
type Builder struct {
	project       *model.ProjectContext
	dockerfileDir string
	logger        *zap.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	images map[string]model.Image // by dockerfile path
}

type Option func(*Builder)

// WithDockerfileDir sets the directory bare dockerfile names are resolved against.
func WithDockerfileDir(dir string) Option {
	return func(b *Builder) { b.dockerfileDir = dir }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

func NewBuilder(project *model.ProjectContext, opts ...Option) *Builder {
	b := &Builder{
		project:       project,
		dockerfileDir: ".",
		logger:        zap.NewNop(),
		seen:          make(map[string]struct{}),
		images:        make(map[string]model.Image),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates spec and returns its descriptor. It makes no remote calls;
// the only I/O is reading the referenced dockerfile.
func (b *Builder) Build(spec TaskSpec) (*TaskDescriptor, error) {
	name := spec.Name
	if strings.TrimSpace(name) == "" {
		return nil, configErrorf("", "name", "task name is empty")
	}
	if b.claimed(name) {
		return nil, configErrorf(name, "name", "duplicate task name %q", name)
	}

	// 1. Limits
	switch {
	case spec.MaxRunTimeMinutes == 0:
		return nil, configErrorf(name, "max_run_time_minutes", "is required")
	case spec.MaxRunTimeMinutes < 0:
		return nil, configErrorf(name, "max_run_time_minutes", "must be a positive integer, got %d", spec.MaxRunTimeMinutes)
	}

	// 2. Command
	if !slices.ContainsFunc(spec.Command, func(l string) bool { return strings.TrimSpace(l) != "" }) {
		return nil, configErrorf(name, "command", "no command lines")
	}

	// 3. Environment
	for k := range spec.Env {
		if k == "" || strings.Contains(k, "=") {
			return nil, configErrorf(name, "env", "invalid variable name %q", k)
		}
	}

	// 4. Caches must be authorized by a declared scope
	for _, cache := range slices.Sorted(maps.Keys(spec.Cache)) {
		if !spec.Scopes.Authorizes(cache) {
			return nil, configErrorf(name, "cache", "cache %q has no authorizing scope (want \"<worker>:cache:%s\" in scopes)", cache, cache)
		}
		if path := spec.Cache[cache]; !filepath.IsAbs(path) {
			return nil, configErrorf(name, "cache", "mount path %q of cache %q is not absolute", path, cache)
		}
	}

	// 5. Image
	img, err := b.resolveImage(spec)
	if err != nil {
		return nil, err
	}

	// 6. Repository checkout
	withRepo := b.project.Repo.Known()
	if spec.WithRepo != nil {
		if *spec.WithRepo && !withRepo {
			return nil, configErrorf(name, "with_repo", "repository metadata (clone url, commit, branch) is not configured")
		}
		withRepo = *spec.WithRepo
	}

	env := maps.Clone(spec.Env)
	if env == nil {
		env = make(map[string]string)
	}
	if withRepo {
		env["GITHUB_EVENT_COMMIT_SHA"] = b.project.Repo.CommitSHA
		env["GITHUB_EVENT_CLONE_URL"] = b.project.Repo.CloneURL
		env["GITHUB_EVENT_BRANCH"] = b.project.Repo.Branch
	}

	scopes := slices.Clone(spec.Scopes)
	if scopes == nil {
		scopes = ScopeSet{}
	}

	d := &TaskDescriptor{
		name:       name,
		command:    slices.Clone(spec.Command),
		env:        env,
		image:      img,
		maxRunTime: spec.MaxRunTimeMinutes,
		scopes:     scopes,
		cache:      sortedMounts(spec.Cache),
		withRepo:   withRepo,
		project:    b.project,
	}

	// The name is claimed last so a rejected spec can be fixed and rebuilt.
	if !b.claim(name) {
		return nil, configErrorf(name, "name", "duplicate task name %q", name)
	}
	b.logger.Debug("built task descriptor",
		zap.String("task", name),
		zap.Stringer("image", img),
		zap.Int("max_run_time_minutes", d.maxRunTime),
		zap.Int("caches", len(d.cache)))
	return d, nil
}

func (b *Builder) claimed(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.seen[name]
	return ok
}

func (b *Builder) claim(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[name]; ok {
		return false
	}
	b.seen[name] = struct{}{}
	return true
}

func (b *Builder) resolveImage(spec TaskSpec) (model.Image, error) {
	switch {
	case spec.Dockerfile != "" && spec.Image != "":
		return model.Image{}, configErrorf(spec.Name, "image", "dockerfile %q and image %q are mutually exclusive", spec.Dockerfile, spec.Image)
	case spec.Image != "":
		named, err := reference.ParseNormalizedNamed(spec.Image)
		if err != nil {
			return model.Image{}, configErrorf(spec.Name, "image", "invalid image reference %q: %v", spec.Image, err)
		}
		named = reference.TagNameOnly(named)
		return model.Image{Kind: model.ImageRegistry, Reference: named.String()}, nil
	case spec.Dockerfile != "":
		return b.resolveDockerfile(spec.Name, spec.Dockerfile)
	}
	return model.Image{}, configErrorf(spec.Name, "dockerfile", "one of dockerfile or image is required")
}

// resolveDockerfile maps a bare name to <dir>/<name>.dockerfile and reads it.
// Contents are read once per run so every task sharing a dockerfile sees the same digest.
func (b *Builder) resolveDockerfile(task, ref string) (model.Image, error) {
	if ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return model.Image{}, configErrorf(task, "dockerfile", "%q is not a bare dockerfile name", ref)
	}
	path := filepath.Join(b.dockerfileDir, ref+model.DockerfileExt)

	b.mu.Lock()
	img, ok := b.images[path]
	b.mu.Unlock()
	if ok {
		return img, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Image{}, configErrorf(task, "dockerfile", "%q does not resolve to an existing file (%s)", ref, path)
		}
		return model.Image{}, configErrorf(task, "dockerfile", "read %s: %v", path, err)
	}
	sum := sha256.Sum256(contents)
	img = model.Image{
		Kind:           model.ImageInTree,
		Name:           ref,
		DockerfilePath: path,
		Dockerfile:     contents,
		Digest:         hex.EncodeToString(sum[:]),
	}

	b.mu.Lock()
	b.images[path] = img
	b.mu.Unlock()
	return img, nil
}
