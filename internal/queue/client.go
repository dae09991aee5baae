package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by FindTask when no task is indexed under the route.
var ErrNotFound = errors.New("not found")

// APIError is a structured rejection from the queue or index service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (http %d): %s", e.Code, e.StatusCode, e.Message)
}

// Client talks to the queue and index services, usually through the
// taskcluster proxy available inside the decision task.
type Client struct {
	queueURL string
	indexURL string
	http     *http.Client
	logger   *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(queueURL, indexURL string, opts ...ClientOption) *Client {
	c := &Client{
		queueURL: queueURL,
		indexURL: indexURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateTask registers task under taskID.
func (c *Client) CreateTask(ctx context.Context, taskID string, task *Task) (*TaskStatus, error) {
	u, err := url.JoinPath(c.queueURL, "task", taskID)
	if err != nil {
		return nil, fmt.Errorf("queue url: %w", err)
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", taskID, err)
	}

	var status TaskStatus
	if err := c.do(ctx, http.MethodPut, u, body, &status); err != nil {
		return nil, err
	}
	c.logger.Debug("queue accepted task", zap.String("task_id", taskID), zap.String("state", status.Status.State))
	return &status, nil
}

// FindTask returns the ID of the task indexed under route.
func (c *Client) FindTask(ctx context.Context, route string) (string, error) {
	u, err := url.JoinPath(c.indexURL, "task", route)
	if err != nil {
		return "", fmt.Errorf("index url: %w", err)
	}

	var found struct {
		TaskID string `json:"taskId"`
	}
	err = c.do(ctx, http.MethodGet, u, nil, &found)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("index route %s: %w", route, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return found.TaskID, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response of %s %s: %w", method, u, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response of %s %s: %w", method, u, err)
	}
	return nil
}
