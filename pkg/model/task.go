package model

type TaskState int

const (
	TaskBuilt     TaskState = iota // descriptor validated, nothing sent yet
	TaskSubmitted                  // accepted by the remote service
)

func (s TaskState) String() string {
	switch s {
	case TaskBuilt:
		return "built"
	case TaskSubmitted:
		return "submitted"
	}
	return "unknown"
}
