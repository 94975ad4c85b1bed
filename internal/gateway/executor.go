package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ToolInfo describes one tool exposed by a tool server.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolExecutor performs the actual network call to a tool server. The
// gateway treats it as an external collaborator.
type ToolExecutor interface {
	ListTools(ctx context.Context, serverName string) ([]ToolInfo, error)
	Invoke(ctx context.Context, serverName, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// HTTPExecutor forwards tool calls to per-server upstream endpoints over
// HTTP. Deadlines come from the request context, not the client.
type HTTPExecutor struct {
	upstreams map[string]string
	client    *http.Client
}

func NewHTTPExecutor(upstreams map[string]string) *HTTPExecutor {
	return &HTTPExecutor{
		upstreams: upstreams,
		client:    &http.Client{},
	}
}

func (e *HTTPExecutor) upstream(serverName string) (string, error) {
	base, ok := e.upstreams[serverName]
	if !ok {
		return "", fmt.Errorf("no upstream configured for server %q", serverName)
	}
	return base, nil
}

// ListTools fetches the tool listing from the server's /tools endpoint.
func (e *HTTPExecutor) ListTools(ctx context.Context, serverName string) ([]ToolInfo, error) {
	base, err := e.upstream(serverName)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	var body struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode tool listing: %w", err)
	}
	return body.Tools, nil
}

// Invoke posts the call to the server's /invoke endpoint. A 400 means the
// tool rejected the arguments (terminal); any other non-200 is transient.
func (e *HTTPExecutor) Invoke(ctx context.Context, serverName, toolName string, args json.RawMessage) (json.RawMessage, error) {
	base, err := e.upstream(serverName)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"tool_name": toolName,
		"args":      args,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.RawMessage(data), nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, validationError(fmt.Sprintf("tool %q rejected the arguments", toolName))
	default:
		return nil, transientError(fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}
}
