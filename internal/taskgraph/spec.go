package taskgraph

import "strings"

// TaskSpec is one declared job, as written by the decision author.
type TaskSpec struct {
	Name    string
	Command []string
	Env     map[string]string

	// Exactly one of Dockerfile (bare name of an in-tree dockerfile) or
	// Image (registry reference) is set.
	Dockerfile string
	Image      string

	MaxRunTimeMinutes int
	Scopes            ScopeSet
	Cache             map[string]string

	// WithRepo controls the git clone preamble; nil follows whether the
	// project knows its repository.
	WithRepo *bool
}

// ScopeSet is the ordered list of scopes a task is granted.
type ScopeSet []string

// Authorizes reports whether some scope grants access to the named cache.
// A scope matches when it ends in ":cache:<name>", or when it is a star
// scope that expands to "<worker>:cache:<name>" for some worker prefix.
func (s ScopeSet) Authorizes(cache string) bool {
	want := "cache:" + cache
	for _, scope := range s {
		if strings.HasSuffix(scope, ":"+want) {
			return true
		}
		prefix, ok := strings.CutSuffix(scope, "*")
		if !ok {
			continue
		}
		_, rest, found := strings.Cut(prefix, ":")
		if !found || strings.HasPrefix(want, rest) {
			return true
		}
	}
	return false
}

// CacheMount is a named persistent directory mounted into the task.
type CacheMount struct {
	Name      string
	MountPath string
}
