// Package workflow triggers an external workflow execution and follows it to
// a terminal state through manual status checks.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseBytes bounds how much of a workflow API response is read.
const maxResponseBytes = 4 << 20

// Execution is the subset of the execution resource the monitor reads.
type Execution struct {
	ID          string    `json:"id"`
	Namespace   string    `json:"namespace,omitempty"`
	FlowID      string    `json:"flowId,omitempty"`
	State       string    `json:"state"`
	TaskRunList []TaskRun `json:"taskRunList,omitempty"`
}

// TaskRun is one task's result within an execution.
type TaskRun struct {
	TaskID  string         `json:"taskId"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// Output returns the named task output as a string, if present.
func (e *Execution) Output(taskID, key string) (string, bool) {
	for _, tr := range e.TaskRunList {
		if tr.TaskID != taskID {
			continue
		}
		v, ok := tr.Outputs[key]
		if !ok || v == nil {
			return "", false
		}
		if s, ok := v.(string); ok {
			return s, true
		}
		return fmt.Sprint(v), true
	}
	return "", false
}

// HTTPError is a non-2xx response from the workflow API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("workflow api returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the workflow engine's executions API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a workflow client. A nil httpClient uses http.DefaultClient.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httpClient,
	}
}

type triggerRequest struct {
	Namespace string            `json:"namespace"`
	FlowID    string            `json:"flowId"`
	Inputs    map[string]string `json:"inputs"`
}

// Trigger starts an execution of namespace/flowID.
func (c *Client) Trigger(ctx context.Context, namespace, flowID string, inputs map[string]string) (*Execution, error) {
	body, err := json.Marshal(triggerRequest{Namespace: namespace, FlowID: flowID, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/executions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Status fetches the current state of an execution.
func (c *Client) Status(ctx context.Context, id string) (*Execution, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+"/api/v1/executions/"+url.PathEscape(id), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Execution, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var out Execution
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}

// errorMessage prefers the API's "message" field and falls back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:509] + "..."
	}
	return msg
}
