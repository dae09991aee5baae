package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"decision/internal/config"
	"decision/internal/decision"
	"decision/internal/observability"
	"decision/internal/queue"
	"decision/internal/submit"
	"decision/internal/taskfile"
	"decision/internal/taskgraph"
	"decision/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run builds every declared task, then submits them all. Handles are
// printed to outW one per line.
func run(ctx context.Context, outW io.Writer, args []string) error {
	opts, ok, err := parseArgs(args, outW)
	if err != nil || !ok {
		return err
	}

	// 1. Configuration and logging
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	opts.apply(cfg)

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	defer logger.Sync()

	// 2. Declared tasks
	specs, err := taskfile.Load(cfg.Tasks.File)
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	builder := taskgraph.NewBuilder(&cfg.Project,
		taskgraph.WithDockerfileDir(cfg.Dockerfiles.Dir),
		taskgraph.WithLogger(logger))

	if opts.dryRun {
		descriptors, err := decision.New(builder, nil, decision.WithLogger(logger)).Build(specs)
		if err != nil {
			return &ExitError{Code: 1, Message: err.Error()}
		}
		for _, d := range descriptors {
			fmt.Fprintf(outW, "%s\t%s\t%dm\n", d.QualifiedName(), d.Image(), d.MaxRunTimeMinutes())
		}
		return nil
	}

	// 3. Submission backend
	submitter, closeBackend, err := newSubmitter(cfg, logger)
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	defer closeBackend()

	// 4. Build everything, then submit
	d := decision.New(builder, submitter,
		decision.WithParallelism(cfg.Submit.Parallelism),
		decision.WithLogger(logger))
	handles, err := d.Run(ctx, specs)
	if err != nil {
		logger.Error("decision failed", zap.Error(err))
		return &ExitError{Code: 1, Message: err.Error()}
	}
	for _, h := range handles {
		fmt.Fprintln(outW, h)
	}
	return nil
}

// newSubmitter connects the configured backend. The returned func releases it.
func newSubmitter(cfg *config.Config, logger *zap.Logger) (submit.Submitter, func(), error) {
	switch cfg.Backend {
	case config.BackendTaskcluster:
		c := queue.NewClient(cfg.Taskcluster.QueueURL, cfg.Taskcluster.IndexURL, queue.WithClientLogger(logger))
		return submit.NewTaskcluster(c, submit.WithRemoteLogger(logger)), func() {}, nil

	case config.BackendEtcd:
		m, err := store.NewEtcdManager(cfg.Etcd.Endpoints, cfg.Etcd.Prefix, cfg.Etcd.DialTimeout)
		if err != nil {
			return nil, nil, err
		}
		s := submit.NewEtcd(m, cfg.Project.DockerImageCacheExpiry, submit.WithRemoteLogger(logger))
		return s, func() { _ = m.Close() }, nil

	case config.BackendDocker:
		cli, err := submit.NewDockerClient(cfg.Docker.Host)
		if err != nil {
			return nil, nil, fmt.Errorf("docker client: %w", err)
		}
		return submit.NewDocker(cli, logger), func() { _ = cli.Close() }, nil

	case config.BackendMemory:
		return submit.NewMemory(logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("invalid backend: %q", cfg.Backend)
}
