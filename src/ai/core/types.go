package core

import (
	"context"
	"fmt"
	"io"
)

// Chat roles understood by the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// WebSearchTool is the name of the single tool the proxy exposes.
const WebSearchTool = "web_search"

// Turn represents a single chat turn.
type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded argument blob.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable function in the completion request.
type ToolDefinition struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema is the JSON schema part of a ToolDefinition.
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SearchToolDefinition returns the web_search tool schema.
func SearchToolDefinition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionSchema{
			Name:        WebSearchTool,
			Description: "Search the web for current information. Use it for recent events, local businesses, prices, schedules or anything the model may not know.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Decision is the result of a non-streaming decision call.
type Decision struct {
	// Message is the assistant message as returned by the API.
	Message Turn
	// Invocation is the first tool call of the message, nil when the model
	// answered directly. Any further tool calls are dropped.
	Invocation *ToolCall
	// Dropped counts tool calls after the first one.
	Dropped int
}

// UpstreamError is a non-success HTTP response from an upstream API.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Service, e.Status, e.Body)
}

// Client is a provider-agnostic interface for the two completion call shapes.
type Client interface {
	// Decide issues a non-streaming completion carrying the given tools with
	// an automatic tool-choice policy.
	Decide(ctx context.Context, turns []Turn, tools []ToolDefinition) (*Decision, error)
	// Stream issues a streaming completion without tools and returns the
	// open upstream body. The caller must close it.
	Stream(ctx context.Context, turns []Turn) (io.ReadCloser, error)
}
