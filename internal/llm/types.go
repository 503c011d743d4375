// Package llm abstracts the chat model behind a neutral message shape so
// the loop never touches provider types directly.
package llm

import (
	"context"

	"fathom/internal/tools"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is one entry in the conversation sent to the model. Tool
// messages carry the response payload for a prior call; model messages
// may carry the calls they made so the provider sees full history.
type Message struct {
	Role      Role
	Text      string
	ToolCalls []ToolCall     // set on model messages that requested calls
	ToolName  string         // set on tool messages
	CallID    string         // set on tool messages
	Response  map[string]any // set on tool messages
}

// Turn is what the model produced for one request: either plain text,
// tool calls, or both.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
}

// Client generates model turns. Implementations convert the neutral
// history and tool declarations to their wire format.
type Client interface {
	Generate(ctx context.Context, system string, history []Message, available []*tools.Tool) (*Turn, error)
}
