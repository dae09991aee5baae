package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"decision/internal/config"
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// options are the command-line overrides of the configuration file.
type options struct {
	configPath  string
	tasksFile   string
	backend     string
	parallelism int
	dryRun      bool
}

// parseArgs returns the options, or ok=false when help was printed.
func parseArgs(args []string, output io.Writer) (opts options, ok bool, err error) {
	fs := flag.NewFlagSet("decision", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, `
decision - builds the CI task graph of a push and submits it.

Usage:
  decision [options] [TASKS_FILE]

Options:
`)
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", "", "Path to decision.yaml (default: ./decision.yaml or ./etc/ci/decision.yaml).")
	fs.StringVar(&opts.tasksFile, "tasks", "", "HCL file declaring the tasks (overrides tasks.file).")
	fs.StringVar(&opts.backend, "backend", "", "Where to submit: taskcluster, etcd, docker or memory (overrides backend).")
	fs.IntVar(&opts.parallelism, "parallelism", 0, "Concurrent submissions (overrides submit.parallelism).")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Build every task and print it without submitting.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, false, nil
		}
		return opts, false, &ExitError{Code: 2, Message: err.Error()}
	}

	switch fs.NArg() {
	case 0:
	case 1:
		if opts.tasksFile != "" {
			return opts, false, &ExitError{Code: 2, Message: "tasks file given both as -tasks and as an argument"}
		}
		opts.tasksFile = fs.Arg(0)
	default:
		return opts, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %v", fs.Args()[1:])}
	}

	if opts.parallelism < 0 {
		return opts, false, &ExitError{Code: 2, Message: "-parallelism must not be negative"}
	}
	switch opts.backend {
	case "", config.BackendTaskcluster, config.BackendEtcd, config.BackendDocker, config.BackendMemory:
	default:
		return opts, false, &ExitError{Code: 2, Message: fmt.Sprintf("invalid -backend %q", opts.backend)}
	}
	return opts, true, nil
}

// apply overrides cfg with the options that were given.
func (o options) apply(cfg *config.Config) {
	if o.tasksFile != "" {
		cfg.Tasks.File = o.tasksFile
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.parallelism > 0 {
		cfg.Submit.Parallelism = o.parallelism
	}
}
