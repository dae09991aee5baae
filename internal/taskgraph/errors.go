package taskgraph

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks static authoring mistakes detected before any remote call.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError names the offending task and the violated constraint.
type ConfigurationError struct {
	Task  string
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Task != "" && e.Field != "":
		return fmt.Sprintf("%s: task %q: %s: %s", ErrConfiguration, e.Task, e.Field, e.Msg)
	case e.Task != "":
		return fmt.Sprintf("%s: task %q: %s", ErrConfiguration, e.Task, e.Msg)
	}
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErrorf(task, field, format string, args ...any) error {
	return &ConfigurationError{Task: task, Field: field, Msg: fmt.Sprintf(format, args...)}
}
