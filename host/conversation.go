package host

import (
	"encoding/json"

	"github.com/acesanderson/MCPLite/mcp"
)

// ToolCall is one model-issued action: a capability name plus its
// encoded arguments. ID correlates the call with its result turn.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of one routed tool call. IsError marks a
// structured failure the model is expected to read and self-correct
// from; it never aborts the loop.
type ToolResult struct {
	CallID  string
	Name    string
	Content []mcp.ContentBlock
	IsError bool
}

// Turn is one entry in a conversation.
type Turn struct {
	Role Role
	// Text is the turn's prose, set for user, assistant, and system turns.
	Text string
	// Calls are the actions an assistant turn requested.
	Calls []ToolCall
	// Results carry tool outcomes back; set only on tool turns, in the
	// order the assistant requested the calls.
	Results []ToolResult
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Conversation is the transcript the loop appends to. Not safe for
// concurrent mutation; the loop is its single writer.
type Conversation struct {
	Turns []Turn
}

// NewConversation starts a transcript with a system turn (if prompt is
// non-empty) and the user's message.
func NewConversation(systemPrompt, userMessage string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.Turns = append(c.Turns, Turn{Role: RoleSystem, Text: systemPrompt})
	}
	c.Turns = append(c.Turns, Turn{Role: RoleUser, Text: userMessage})
	return c
}

// Append adds a turn to the transcript.
func (c *Conversation) Append(t Turn) {
	c.Turns = append(c.Turns, t)
}

// LastAssistantText returns the text of the most recent assistant turn,
// or "" when there is none.
func (c *Conversation) LastAssistantText() string {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleAssistant {
			return c.Turns[i].Text
		}
	}
	return ""
}
