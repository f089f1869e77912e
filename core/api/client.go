// Package api is the HTTP client for the assistant server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
)

const DefaultBaseURL = "http://localhost:8000"

type Client struct {
	baseURL string
	// httpClient carries no timeout, the chat stream stays open for the
	// whole turn and synthesis latency is unbounded on the server side.
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// StreamChat opens a turn and returns the raw SSE body. The caller owns the
// body and must close it, the stream stays open until the turn finishes or
// the context is cancelled.
func (c *Client) StreamChat(ctx context.Context, message string) (io.ReadCloser, error) {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the server: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.errorFromResponse(resp, "chat request rejected")
	}

	return resp.Body, nil
}

// Synthesize fetches narration audio for a piece of text. The response is a
// complete MP3 clip, errors come back as a JSON payload instead.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "api.synthesize")
	defer span.End()

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis request failed")
		return nil, fmt.Errorf("failed to reach the server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := c.errorFromResponse(resp, "speech synthesis failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "speech synthesis failed")
		return nil, err
	}

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis read failed")
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return clip, nil
}

// Status is the server's session snapshot.
type Status struct {
	Model        string `json:"model"`
	Mode         string `json:"mode"`
	Expression   string `json:"expression"`
	Phase        int    `json:"phase"`
	PhaseName    string `json:"phase_name"`
	SessionCount int    `json:"session_count"`
	MasterName   string `json:"master_name"`
	MessageCount int    `json:"msg_count"`
	HasSemantic  bool   `json:"has_mem0"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.getJSON(ctx, "/api/status", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Memory is the server's long-term memory snapshot, rendered read-only.
type Memory struct {
	Metadata map[string]any `json:"metadata"`
	Semantic []string       `json:"semantic"`
	Error    string         `json:"error"`
}

func (c *Client) Memory(ctx context.Context) (Memory, error) {
	var memory Memory
	if err := c.getJSON(ctx, "/api/memory", &memory); err != nil {
		return Memory{}, err
	}
	return memory, nil
}

func (c *Client) SaveMemory(ctx context.Context) error {
	return c.postJSON(ctx, "/api/memory/save", nil)
}

func (c *Client) ResetMemory(ctx context.Context) error {
	return c.postJSON(ctx, "/api/memory/reset", nil)
}

func (c *Client) RecallMemories(ctx context.Context, query string) ([]string, error) {
	var result struct {
		Results []string `json:"results"`
		Error   string   `json:"error"`
	}
	if err := c.getJSON(ctx, "/api/memory/recall?q="+url.QueryEscape(query), &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("recall unavailable: %s", result.Error)
	}
	return result.Results, nil
}

// ActionResult is the server's verdict on a pending action, rendered
// read-only.
type ActionResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (c *Client) ConfirmAction(ctx context.Context, actionID string) (ActionResult, error) {
	return c.actionRequest(ctx, "/api/confirm-action/"+url.PathEscape(actionID))
}

func (c *Client) CancelAction(ctx context.Context, actionID string) (ActionResult, error) {
	return c.actionRequest(ctx, "/api/cancel-action/"+url.PathEscape(actionID))
}

func (c *Client) actionRequest(ctx context.Context, path string) (ActionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return ActionResult{}, fmt.Errorf("failed to create action request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ActionResult{}, fmt.Errorf("failed to reach the server: %w", err)
	}
	defer resp.Body.Close()

	// Rejections still carry a result payload worth showing.
	var result ActionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ActionResult{}, fmt.Errorf("failed to decode action result: %w", err)
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach the server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp, "request rejected")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach the server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp, "request rejected")
	}
	return nil
}

// errorFromResponse prefers the server's own {"error": ...} payload over
// the bare status line.
func (c *Client) errorFromResponse(resp *http.Response, prefix string) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			return fmt.Errorf("%s: %s", prefix, payload.Error)
		}
	}
	logger.Warn("server returned an unexpected response", "status", resp.Status)
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}
