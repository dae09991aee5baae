package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const servoYAML = `
project:
  name: Servo
  route_prefix: project.servo.servo
  docker_image_cache_expiry: 168h
  worker_type: servo-docker-worker
backend: memory
submit:
  parallelism: 4
log:
  level: debug
  format: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decision.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, servoYAML))
	require.NoError(t, err)

	assert.Equal(t, "Servo", cfg.Project.ProjectName)
	assert.Equal(t, "project.servo.servo", cfg.Project.RoutePrefix)
	assert.Equal(t, 7*24*time.Hour, cfg.Project.DockerImageCacheExpiry)
	assert.Equal(t, "servo-docker-worker", cfg.Project.WorkerType)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 4, cfg.Submit.Parallelism)
	assert.Equal(t, "json", cfg.Log.Format)

	// untouched sections keep their defaults
	assert.Equal(t, "aws-provisioner-v1", cfg.Project.ProvisionerID)
	assert.Equal(t, "taskcluster-github", cfg.Project.SchedulerID)
	assert.Equal(t, 24*time.Hour, cfg.Project.Deadline)
	assert.Equal(t, "etc/ci/decision.hcl", cfg.Tasks.File)
	assert.Equal(t, "http://taskcluster/queue/v1/", cfg.Taskcluster.QueueURL)
	assert.Equal(t, []string{"localhost:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, 5*time.Second, cfg.Etcd.DialTimeout)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("DECISION_BACKEND", "etcd")
	t.Setenv("DECISION_ETCD_PREFIX", "/ci")
	t.Setenv("TASK_ID", "decision-task-id")
	t.Setenv("GITHUB_EVENT_COMMIT_SHA", "0123abcd")
	t.Setenv("GITHUB_EVENT_CLONE_URL", "https://github.com/servo/servo.git")
	t.Setenv("GITHUB_EVENT_BRANCH", "master")
	t.Setenv("GITHUB_EVENT_OWNER", "servo")

	cfg, err := Load(writeConfig(t, servoYAML))
	require.NoError(t, err)

	assert.Equal(t, BackendEtcd, cfg.Backend)
	assert.Equal(t, "/ci", cfg.Etcd.Prefix)
	assert.Equal(t, "decision-task-id", cfg.Project.DecisionTaskID)
	assert.Equal(t, "0123abcd", cfg.Project.Repo.CommitSHA)
	assert.Equal(t, "https://github.com/servo/servo.git", cfg.Project.Repo.CloneURL)
	assert.Equal(t, "master", cfg.Project.Repo.Branch)
	assert.Equal(t, "servo", cfg.Project.Repo.Owner)
	assert.True(t, cfg.Project.Repo.Known())
}

func TestLoadEnvironmentOnly(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DECISION_PROJECT_NAME", "Servo")
	t.Setenv("DECISION_PROJECT_ROUTE_PREFIX", "project.servo.servo")
	t.Setenv("DECISION_PROJECT_WORKER_TYPE", "servo-docker-worker")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Servo", cfg.Project.ProjectName)
	assert.Equal(t, BackendTaskcluster, cfg.Backend)
	assert.False(t, cfg.Project.Repo.Known())
}

func TestLoadReportsEveryProblem(t *testing.T) {
	path := writeConfig(t, `
backend: carrier-pigeon
submit:
  parallelism: 0
log:
  level: loud
`)
	_, err := Load(path)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 4)
	assert.ErrorContains(t, errs[0], "project name is empty")
	assert.ErrorContains(t, errs[1], `invalid backend: "carrier-pigeon"`)
	assert.ErrorContains(t, errs[2], "submit.parallelism")
	assert.ErrorContains(t, errs[3], `invalid log.level: "loud"`)
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "project: [unterminated"))
	assert.ErrorContains(t, err, "read config")
}
