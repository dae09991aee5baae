package model

import (
	"errors"
	"fmt"
	"time"
)

// ProjectContext is shared read-only by every descriptor built in one decision run.
type ProjectContext struct {
	ProjectName            string        `json:"project_name" mapstructure:"name"`
	RoutePrefix            string        `json:"route_prefix" mapstructure:"route_prefix"`
	DockerImageCacheExpiry time.Duration `json:"docker_image_cache_expiry" mapstructure:"docker_image_cache_expiry"`
	WorkerType             string        `json:"worker_type" mapstructure:"worker_type"`

	ProvisionerID string        `json:"provisioner_id" mapstructure:"provisioner_id"`
	SchedulerID   string        `json:"scheduler_id" mapstructure:"scheduler_id"`
	Deadline      time.Duration `json:"deadline" mapstructure:"deadline"`

	// DecisionTaskID is the task group every submitted task joins.
	DecisionTaskID string `json:"decision_task_id,omitempty" mapstructure:"decision_task_id"`

	Repo Repo `json:"repo" mapstructure:"repo"`
}

// Repo is the source-control metadata handed to tasks that clone the repository.
type Repo struct {
	CommitSHA string `json:"commit_sha,omitempty" mapstructure:"commit_sha"`
	CloneURL  string `json:"clone_url,omitempty" mapstructure:"clone_url"`
	Branch    string `json:"branch,omitempty" mapstructure:"branch"`
	Owner     string `json:"owner,omitempty" mapstructure:"owner"`
	Source    string `json:"source,omitempty" mapstructure:"source"`
}

// Known reports whether enough metadata is present to clone the repository.
// The clone command passes the branch to git, so it is required too.
func (r Repo) Known() bool {
	return r.CloneURL != "" && r.CommitSHA != "" && r.Branch != ""
}

// TaskName returns the human-readable name a task is registered under.
func (p *ProjectContext) TaskName(name string) string {
	return fmt.Sprintf("%s: %s", p.ProjectName, name)
}

// ImageRoute is the index route of the image built from a dockerfile with the given digest.
func (p *ProjectContext) ImageRoute(digest string) string {
	return fmt.Sprintf("%s.docker-image.%s", p.RoutePrefix, digest)
}

// Validate checks the fields every backend relies on.
func (p *ProjectContext) Validate() error {
	switch {
	case p == nil:
		return errors.New("project context is nil")
	case p.ProjectName == "":
		return errors.New("project name is empty")
	case p.RoutePrefix == "":
		return errors.New("route prefix is empty")
	case p.WorkerType == "":
		return errors.New("worker type is empty")
	case p.DockerImageCacheExpiry <= 0:
		return fmt.Errorf("docker image cache expiry must be positive, got %s", p.DockerImageCacheExpiry)
	}
	return nil
}
