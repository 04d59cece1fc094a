// Package batch provides the REST client for the remote batch compute
// service: pools of virtual machines, jobs, and tasks.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrNotFound      = errors.New("batch resource not found")
	ErrAlreadyExists = errors.New("batch resource already exists")
	ErrUnauthorized  = errors.New("batch request unauthorized")
)

// APIError represents an unexpected error response from the batch service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("batch api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("batch api error (status=%d): %s", e.StatusCode, body)
}

// Client talks to the batch service account API using shared-key credentials.
type Client struct {
	baseURL     string
	accountName string
	accountKey  string
	http        *http.Client
}

// NewClient creates a client for the batch account reachable at baseURL.
func NewClient(accountName, accountKey, baseURL string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accountName: accountName,
		accountKey:  accountKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreatePool provisions a compute pool. The caller must not create a job on
// the pool if this fails.
func (c *Client) CreatePool(ctx context.Context, pool PoolSpec) error {
	if err := c.post(ctx, "/pools", pool); err != nil {
		return fmt.Errorf("create pool %q: %w", pool.ID, err)
	}
	return nil
}

// CreateJob creates a job bound to an existing pool.
func (c *Client) CreateJob(ctx context.Context, job JobSpec) error {
	if err := c.post(ctx, "/jobs", job); err != nil {
		return fmt.Errorf("create job %q: %w", job.ID, err)
	}
	return nil
}

// CreateTask adds a task to an existing job.
func (c *Client) CreateTask(ctx context.Context, jobID string, task TaskSpec) error {
	if err := c.post(ctx, fmt.Sprintf("/jobs/%s/tasks", jobID), task); err != nil {
		return fmt.Errorf("create task %q in job %q: %w", task.ID, jobID, err)
	}
	return nil
}

// ListTasks returns every task belonging to the job.
func (c *Client) ListTasks(ctx context.Context, jobID string) ([]Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+fmt.Sprintf("/jobs/%s/tasks", jobID), nil)
	if err != nil {
		return nil, err
	}
	var out listTasksResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("list tasks for job %q: %w", jobID, err)
	}
	return out.Tasks, nil
}

// DeleteJob deletes a job. Idempotent: an already absent job is success.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	if err := c.deleteResource(ctx, "/jobs/"+jobID); err != nil {
		return fmt.Errorf("delete job %q: %w", jobID, err)
	}
	return nil
}

// DeletePool deletes a pool. Idempotent: an already absent pool is success.
func (c *Client) DeletePool(ctx context.Context, poolID string) error {
	if err := c.deleteResource(ctx, "/pools/"+poolID); err != nil {
		return fmt.Errorf("delete pool %q: %w", poolID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) deleteResource(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	err = c.do(req, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", c.accountName, c.accountKey))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode batch response: %w", err)
		}
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}
