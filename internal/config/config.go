// Package config loads the decision configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"decision/pkg/model"
)

// Backends a decision can submit to.
const (
	BackendTaskcluster = "taskcluster"
	BackendEtcd        = "etcd"
	BackendDocker      = "docker"
	BackendMemory      = "memory"
)

// Config is the root configuration of one decision run.
type Config struct {
	Project model.ProjectContext `mapstructure:"project"`

	Dockerfiles DockerfilesConfig `mapstructure:"dockerfiles"`
	Tasks       TasksConfig       `mapstructure:"tasks"`

	// Backend is one of taskcluster, etcd, docker or memory.
	Backend     string            `mapstructure:"backend"`
	Taskcluster TaskclusterConfig `mapstructure:"taskcluster"`
	Etcd        EtcdConfig        `mapstructure:"etcd"`
	Docker      DockerConfig      `mapstructure:"docker"`
	Submit      SubmitConfig      `mapstructure:"submit"`

	Log LogConfig `mapstructure:"log"`
}

type DockerfilesConfig struct {
	// Dir holds <name>.dockerfile files.
	Dir string `mapstructure:"dir"`
}

type TasksConfig struct {
	// File is the HCL decision file.
	File string `mapstructure:"file"`
}

type TaskclusterConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	IndexURL string `mapstructure:"index_url"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type DockerConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host string `mapstructure:"host"`
}

type SubmitConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with defaults. The project name,
// route prefix and worker type have none.
func Default() *Config {
	return &Config{
		Project: model.ProjectContext{
			DockerImageCacheExpiry: 7 * 24 * time.Hour,
			ProvisionerID:          "aws-provisioner-v1",
			SchedulerID:            "taskcluster-github",
			Deadline:               24 * time.Hour,
		},
		Dockerfiles: DockerfilesConfig{Dir: "etc/ci"},
		Tasks:       TasksConfig{File: "etc/ci/decision.hcl"},
		Backend:     BackendTaskcluster,
		Taskcluster: TaskclusterConfig{
			QueueURL: "http://taskcluster/queue/v1/",
			IndexURL: "http://taskcluster/index/v1/",
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{"localhost:2379"},
			Prefix:      "/decision",
			DialTimeout: 5 * time.Second,
		},
		Submit: SubmitConfig{Parallelism: 1},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/decision.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// envBindings are the variables the CI platform sets, outside the
// DECISION_ prefix.
var envBindings = map[string]string{
	"project.decision_task_id": "TASK_ID",
	"project.repo.commit_sha":  "GITHUB_EVENT_COMMIT_SHA",
	"project.repo.clone_url":   "GITHUB_EVENT_CLONE_URL",
	"project.repo.branch":      "GITHUB_EVENT_BRANCH",
	"project.repo.owner":       "GITHUB_EVENT_OWNER",
	"project.repo.source":      "GITHUB_EVENT_SOURCE",
}

// Load reads configuration from path when non-empty, otherwise from
// decision.yaml in . or ./etc/ci if present. Environment variables use the
// prefix DECISION with `.` and `-` replaced by `_`, e.g. DECISION_BACKEND=etcd.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DECISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("project.name", "")
	v.SetDefault("project.route_prefix", "")
	v.SetDefault("project.worker_type", "")
	v.SetDefault("project.docker_image_cache_expiry", cfg.Project.DockerImageCacheExpiry)
	v.SetDefault("project.provisioner_id", cfg.Project.ProvisionerID)
	v.SetDefault("project.scheduler_id", cfg.Project.SchedulerID)
	v.SetDefault("project.deadline", cfg.Project.Deadline)
	v.SetDefault("dockerfiles.dir", cfg.Dockerfiles.Dir)
	v.SetDefault("tasks.file", cfg.Tasks.File)
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("taskcluster.queue_url", cfg.Taskcluster.QueueURL)
	v.SetDefault("taskcluster.index_url", cfg.Taskcluster.IndexURL)
	v.SetDefault("etcd.endpoints", cfg.Etcd.Endpoints)
	v.SetDefault("etcd.prefix", cfg.Etcd.Prefix)
	v.SetDefault("etcd.dial_timeout", cfg.Etcd.DialTimeout)
	v.SetDefault("docker.host", cfg.Docker.Host)
	v.SetDefault("submit.parallelism", cfg.Submit.Parallelism)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	for key, env := range envBindings {
		prefixed := "DECISION_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path == "" {
		if envPath := os.Getenv("DECISION_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("decision")
		v.AddConfigPath(".")
		v.AddConfigPath("./etc/ci")
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs error
	if err := c.Project.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("project: %w", err))
	}

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendTaskcluster:
		if c.Taskcluster.QueueURL == "" || c.Taskcluster.IndexURL == "" {
			errs = multierr.Append(errs, errors.New("taskcluster: queue_url and index_url are required"))
		}
	case BackendEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			errs = multierr.Append(errs, errors.New("etcd: endpoints are required"))
		}
	case BackendDocker, BackendMemory:
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid backend: %q", c.Backend))
	}

	if c.Submit.Parallelism < 1 {
		errs = multierr.Append(errs, fmt.Errorf("submit.parallelism must be at least 1, got %d", c.Submit.Parallelism))
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid log.level: %q", c.Log.Level))
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return errs
}
