// Package chat sends user questions to the chat backend and turns each
// answer, or its failure, into exactly one timeline entry.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/linnemanlabs/gryph/internal/timeline"
)

// maxResponseBytes bounds how much of a chat response is read.
const maxResponseBytes = 1 << 20

// Reply is the outcome of one chat call: either an answer or a fault
// description shown to the user. Fault replies keep the "Error:" text prefix on
// the wire for older consumers.
type Reply struct {
	Text  string
	Fault bool
}

// Client calls POST {endpoint}/chat.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a chat client. A nil httpClient uses http.DefaultClient.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httpClient,
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response *string `json:"response"`
}

// Send posts one message. Non-2xx responses become fault replies carrying the
// server's detail; only unreachable servers and unreadable success bodies
// return an error.
func (c *Client) Send(ctx context.Context, message string) (Reply, error) {
	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return Reply{}, fmt.Errorf("chat: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return Reply{}, fmt.Errorf("chat: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("chat: read response: %w", err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(respBody, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := "Unknown server error"
		if decodeErr == nil && out.Response != nil && *out.Response != "" {
			detail = *out.Response
		}
		return Reply{Text: timeline.ErrorPrefix + " " + detail, Fault: true}, nil
	}

	if decodeErr != nil {
		return Reply{}, fmt.Errorf("chat: decode response: %w", decodeErr)
	}
	if out.Response == nil {
		return Reply{}, fmt.Errorf("chat: response field missing")
	}

	text := *out.Response
	return Reply{Text: text, Fault: timeline.IsErrorText(text)}, nil
}
