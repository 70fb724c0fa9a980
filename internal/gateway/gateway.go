// Package gateway wraps the backend's task endpoints in a stateless
// request/response client, translating between the wire format and the
// internal task representation and surfacing failures as typed errors.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dayflow/dayflow/internal/task"
)

// DefaultTimeout bounds each backend call. Elapsing it classifies as a
// transient TimeoutError.
const DefaultTimeout = 30 * time.Second

// TokenSource supplies the bearer credential for each request. An empty
// token means the session is unauthenticated; the orchestrator checks this
// precondition before invoking the gateway at all.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource for a fixed credential.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Gateway is the remote side of the sync engine. All four calls require a
// bearer credential and apply the configured per-call timeout.
type Gateway interface {
	// ListTasks returns the complete task set for the authenticated user.
	ListTasks(ctx context.Context) ([]*task.Task, error)

	// CreateTask posts a new task and returns the server-confirmed task,
	// including its server-assigned ID.
	CreateTask(ctx context.Context, t *task.Task) (*task.Task, error)

	// UpdateTask applies a partial update and returns the updated task.
	UpdateTask(ctx context.Context, id string, patch *task.Patch) (*task.Task, error)

	// DeleteTask removes a task. Deleting an already-deleted ID returns a
	// NotFoundError, which callers treat the same as success.
	DeleteTask(ctx context.Context, id string) error
}

// Config holds the HTTP client configuration.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.dayflow.app/v1".
	BaseURL string

	// Tokens supplies the bearer credential.
	Tokens TokenSource

	// Timeout bounds each call (default: DefaultTimeout).
	Timeout time.Duration

	// HTTPClient overrides the transport (default: http.DefaultClient).
	HTTPClient *http.Client
}

// client implements Gateway over HTTP/JSON.
type client struct {
	baseURL    string
	tokens     TokenSource
	timeout    time.Duration
	httpClient *http.Client
}

// New creates an HTTP gateway from config.
func New(cfg Config) (Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
	}, nil
}

// doRequest executes one backend call and decodes the response into result
// (when non-nil). Failures come back classified into the engine taxonomy.
func (c *client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	token := c.tokens.Token()
	if token == "" {
		return &AuthError{Reason: "no credential available"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, path); err != nil {
		return err
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &ServerError{Status: resp.StatusCode, Body: fmt.Sprintf("undecodable response: %v", err)}
		}
	}
	return nil
}

// classifyStatus maps non-2xx responses onto the error taxonomy.
func classifyStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(snippet))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Reason: fmt.Sprintf("status %d from %s", resp.StatusCode, path)}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{Detail: detail}
	case http.StatusNotFound:
		return &NotFoundError{TaskID: lastPathSegment(path)}
	default:
		return &ServerError{Status: resp.StatusCode, Body: detail}
	}
}

func lastPathSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ListTasks implements Gateway.ListTasks.
func (c *client) ListTasks(ctx context.Context) ([]*task.Task, error) {
	var tasks []*task.Task
	if err := c.doRequest(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	task.NormalizeAll(tasks)
	return tasks, nil
}

// CreateTask implements Gateway.CreateTask. The local placeholder ID is
// stripped from the payload; the server assigns the real one.
func (c *client) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return nil, &ValidationError{Detail: "title is required"}
	}
	if t.Color == "" {
		return nil, &ValidationError{Detail: "color is required"}
	}

	payload := t.Clone()
	payload.ID = ""

	var created task.Task
	if err := c.doRequest(ctx, http.MethodPost, "/tasks", payload, &created); err != nil {
		return nil, err
	}
	created.Normalize()
	return &created, nil
}

// UpdateTask implements Gateway.UpdateTask.
func (c *client) UpdateTask(ctx context.Context, id string, patch *task.Patch) (*task.Task, error) {
	var updated task.Task
	path := "/tasks/" + url.PathEscape(id)
	if err := c.doRequest(ctx, http.MethodPatch, path, patch, &updated); err != nil {
		return nil, err
	}
	updated.Normalize()
	return &updated, nil
}

// DeleteTask implements Gateway.DeleteTask.
func (c *client) DeleteTask(ctx context.Context, id string) error {
	path := "/tasks/" + url.PathEscape(id)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}
