package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stake-plus/chat-proxy/src/ai/core"
	"github.com/stake-plus/chat-proxy/src/webclient"
)

func init() {
	core.RegisterProvider("openrouter", newClient, "openai")
}

type client struct {
	apiKey     string
	baseURL    string
	model      string
	referer    string
	title      string
	httpClient *http.Client
	streamHTTP *http.Client
}

func newClient(cfg core.FactoryConfig) (core.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openrouter: API key not configured")
	}
	provider := valueOrDefault(cfg.Provider, "openrouter")
	baseURL := core.ResolveBaseURL(provider, cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("openrouter: no base URL for provider %q", provider)
	}

	return &client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      core.ResolveModelName(provider, cfg.Model),
		referer:    cfg.Referer,
		title:      cfg.Title,
		httpClient: webclient.NewDefault(120 * time.Second),
		streamHTTP: webclient.NewStreaming(120 * time.Second),
	}, nil
}

type completionRequest struct {
	Model      string                `json:"model"`
	Messages   []core.Turn           `json:"messages"`
	Tools      []core.ToolDefinition `json:"tools,omitempty"`
	ToolChoice string                `json:"tool_choice,omitempty"`
	Stream     bool                  `json:"stream,omitempty"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      core.Turn `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
}

func (c *client) Decide(ctx context.Context, turns []core.Turn, tools []core.ToolDefinition) (*core.Decision, error) {
	payload := completionRequest{
		Model:    c.model,
		Messages: turns,
	}
	if len(tools) > 0 {
		payload.Tools = tools
		payload.ToolChoice = "auto"
	}

	resp, err := c.post(ctx, c.httpClient, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openrouter: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("openrouter: decision status=%d body=%s", resp.StatusCode, truncatePayload(body, 512))
		return nil, &core.UpstreamError{Service: "openrouter", Status: resp.StatusCode, Body: string(body)}
	}

	var result completionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		log.Printf("openrouter: failed to decode response body=%s", truncatePayload(body, 1024))
		return nil, fmt.Errorf("openrouter: decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openrouter: no choices in response")
	}

	msg := result.Choices[0].Message
	decision := &core.Decision{Message: msg}
	if len(msg.ToolCalls) > 0 {
		first := msg.ToolCalls[0]
		decision.Invocation = &first
		decision.Dropped = len(msg.ToolCalls) - 1
	}
	return decision, nil
}

func (c *client) Stream(ctx context.Context, turns []core.Turn) (io.ReadCloser, error) {
	payload := completionRequest{
		Model:    c.model,
		Messages: turns,
		Stream:   true,
	}
	resp, err := c.post(ctx, c.streamHTTP, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		log.Printf("openrouter: stream status=%d body=%s", resp.StatusCode, truncatePayload(body, 512))
		return nil, &core.UpstreamError{Service: "openrouter", Status: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

func (c *client) post(ctx context.Context, httpClient *http.Client, payload completionRequest) (*http.Response, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openrouter: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: request: %w", err)
	}
	return resp, nil
}

func valueOrDefault(val, def string) string {
	if strings.TrimSpace(val) != "" {
		return val
	}
	return def
}

func truncatePayload(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "... (truncated)"
}
