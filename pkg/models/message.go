// Package models defines the wire types shared between the task processor,
// the model client, the checkpoint store, and the control interface.
package models

import "encoding/json"

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType distinguishes content parts in a multi-part message.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multi-part message body: either a text
// span or an image reference.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// ToolCall is an assistant's request to execute a tool. Arguments is the
// JSON-encoded argument object exactly as produced by the model; the ID is
// opaque and must be preserved verbatim in the matching tool result.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single conversation entry. Content is a tagged sum: a plain
// string, nil (assistant messages that only invoke tools), or an ordered
// list of parts. When Parts is non-empty it takes precedence over Content.
//
// Tool messages carry ToolCallID linking back to the assistant call that
// spawned them. Assistant messages may carry a hidden Reasoning payload
// that is never shown to users but is charged during token accounting.
type Message struct {
	Role       Role          `json:"role"`
	Content    *string       `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Reasoning  string        `json:"reasoning_content,omitempty"`
}

// Text returns a new message with string content.
func Text(role Role, content string) Message {
	return Message{Role: role, Content: &content}
}

// ToolResult returns a tool-role message paired to the given call ID.
func ToolResult(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: &content, ToolCallID: toolCallID}
}

// AssistantToolCalls returns an assistant message that only invokes tools.
// Content stays nil so the wire encoding matches what tool-calling models
// expect.
func AssistantToolCalls(content string, calls []ToolCall) Message {
	m := Message{Role: RoleAssistant, ToolCalls: calls}
	if content != "" {
		m.Content = &content
	}
	return m
}

// TextContent flattens the message body to plain text: the string content
// when present, otherwise the concatenation of all text parts. Image parts
// contribute nothing.
func (m Message) TextContent() string {
	if len(m.Parts) > 0 {
		var out string
		for _, p := range m.Parts {
			if p.Type == PartText {
				out += p.Text
			}
		}
		return out
	}
	if m.Content != nil {
		return *m.Content
	}
	return ""
}

// HasToolCalls reports whether this is an assistant message requesting
// tool execution.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ImageCount returns the number of image parts in the message body.
func (m Message) ImageCount() int {
	n := 0
	for _, p := range m.Parts {
		if p.Type == PartImage {
			n++
		}
	}
	return n
}

// Clone returns a deep copy. The processor mutates message lists in place;
// callers that hand state across goroutines clone first.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		c := *m.Content
		out.Content = &c
	}
	if len(m.Parts) > 0 {
		out.Parts = append([]ContentPart(nil), m.Parts...)
	}
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

// NormalizedArguments re-encodes the call arguments with sorted object keys
// so equivalent argument objects produce identical fingerprints. Invalid
// JSON is fingerprinted as-is.
func (t ToolCall) NormalizedArguments() string {
	var v any
	if err := json.Unmarshal([]byte(t.Arguments), &v); err != nil {
		return t.Arguments
	}
	out, err := json.Marshal(v)
	if err != nil {
		return t.Arguments
	}
	return string(out)
}

// Signature is the dedup fingerprint tracked per task: tool name plus
// normalized arguments.
func (t ToolCall) Signature() string {
	return t.Name + ":" + t.NormalizedArguments()
}
