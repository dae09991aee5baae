package queue

import (
	"encoding/json"
	"time"
)

// Task is a task definition as accepted by the queue's createTask endpoint.
type Task struct {
	TaskGroupID   string         `json:"taskGroupId"`
	Dependencies  []string       `json:"dependencies"`
	SchedulerID   string         `json:"schedulerId"`
	ProvisionerID string         `json:"provisionerId"`
	WorkerType    string         `json:"workerType"`
	Created       Time           `json:"created"`
	Deadline      Time           `json:"deadline"`
	Metadata      Metadata       `json:"metadata"`
	Scopes        []string       `json:"scopes"`
	Routes        []string       `json:"routes"`
	Extra         map[string]any `json:"extra"`
	Payload       Payload        `json:"payload"`
}

type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
	Source      string `json:"source"`
}

// Payload is the docker-worker payload.
type Payload struct {
	Cache      map[string]string   `json:"cache"`
	MaxRunTime int                 `json:"maxRunTime"` // seconds
	Image      Image               `json:"image"`
	Command    []string            `json:"command"`
	Env        map[string]string   `json:"env"`
	Artifacts  map[string]Artifact `json:"artifacts"`
	Features   map[string]bool     `json:"features"`
}

type Artifact struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	Expires Time   `json:"expires"`
}

// Image is either a registry image name or an artifact of another task.
type Image struct {
	Name string

	// task-image
	TaskID string
	Path   string
}

func (i Image) MarshalJSON() ([]byte, error) {
	if i.TaskID == "" {
		return json.Marshal(i.Name)
	}
	return json.Marshal(struct {
		Type   string `json:"type"`
		TaskID string `json:"taskId"`
		Path   string `json:"path"`
	}{"task-image", i.TaskID, i.Path})
}

func (i *Image) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		*i = Image{}
		return json.Unmarshal(b, &i.Name)
	}
	var v struct {
		TaskID string `json:"taskId"`
		Path   string `json:"path"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*i = Image{TaskID: v.TaskID, Path: v.Path}
	return nil
}

// Time marshals as the queue's millisecond-precision UTC timestamps.
type Time time.Time

const timeLayout = "2006-01-02T15:04:05.000Z"

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(timeLayout))
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = Time(parsed)
	return nil
}

// TaskStatus is the part of the createTask response the decision logs.
type TaskStatus struct {
	Status struct {
		TaskID string `json:"taskId"`
		State  string `json:"state"`
	} `json:"status"`
}
