// Package models defines the wire-independent conversation data model shared
// by the orchestrator, the request-shaping layer, and the tool dispatcher.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a Message in a Conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the variants of Part. Parts are encoded with an
// explicit "type" field rather than relying on duck-typing the payload.
type PartType string

const (
	PartText         PartType = "text"
	PartInlineBlob   PartType = "inline_blob"
	PartToolCall     PartType = "tool_call"
	PartToolResponse PartType = "tool_response"
)

// Part is one tagged-variant element of a Message. Exactly one of the
// payload fields is populated, selected by Type.
type Part struct {
	Type PartType `json:"type"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartInlineBlob
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`

	// PartToolCall
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`

	// PartToolResponse
	ToolResponseName    string          `json:"tool_response_name,omitempty"`
	ToolResponsePayload json.RawMessage `json:"tool_response_payload,omitempty"`
	ToolResponseIsError bool            `json:"tool_response_is_error,omitempty"`
}

// NewText builds a PartText.
func NewText(text string) Part {
	return Part{Type: PartText, Text: text}
}

// NewInlineBlob builds a PartInlineBlob carrying raw bytes of the given mime type.
func NewInlineBlob(mimeType string, data []byte) Part {
	return Part{Type: PartInlineBlob, MimeType: mimeType, Data: data}
}

// NewToolCall builds a PartToolCall.
func NewToolCall(id, name string, args json.RawMessage) Part {
	return Part{Type: PartToolCall, ToolCallID: id, ToolName: name, ToolArgs: args}
}

// NewToolResponse builds a PartToolResponse.
func NewToolResponse(name string, payload json.RawMessage, isError bool) Part {
	return Part{Type: PartToolResponse, ToolResponseName: name, ToolResponsePayload: payload, ToolResponseIsError: isError}
}

// Message is one turn in a Conversation: a role plus an ordered sequence of
// parts.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates every PartText in the message with newlines, ignoring
// non-text parts. Used by keyword extraction and trigger matching.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasToolCalls reports whether the message carries at least one tool call part.
func (m Message) HasToolCalls() bool {
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			return true
		}
	}
	return false
}

// ToolCalls returns every PartToolCall in the message, in order.
func (m Message) ToolCalls() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			out = append(out, p)
		}
	}
	return out
}

// Conversation is an ordered sequence of Messages. Merge enforces the
// adjacency invariant: no two consecutive messages share a role, and
// consecutive text parts within a merged message collapse by newline-join.
type Conversation struct {
	Messages []Message `json:"messages"`
}

// Merge returns a new Conversation with consecutive same-role messages
// combined and consecutive text parts within a message collapsed.
func (c Conversation) Merge() Conversation {
	if len(c.Messages) == 0 {
		return c
	}
	merged := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Parts = collapseText(append(merged[n-1].Parts, m.Parts...))
			continue
		}
		cp := Message{Role: m.Role, Parts: collapseText(append([]Part(nil), m.Parts...))}
		merged = append(merged, cp)
	}
	return Conversation{Messages: merged}
}

func collapseText(parts []Part) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		if p.Type == PartText {
			if n := len(out); n > 0 && out[n-1].Type == PartText {
				out[n-1].Text = out[n-1].Text + "\n" + p.Text
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// LastUserText returns the text of the most recent user message, used as the
// current_query for keyword-based context selection.
func (c Conversation) LastUserText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Text()
		}
	}
	return ""
}

// String implements fmt.Stringer for debug logging.
func (p Part) String() string {
	switch p.Type {
	case PartText:
		return fmt.Sprintf("text(%d bytes)", len(p.Text))
	case PartInlineBlob:
		return fmt.Sprintf("inline_blob(%s, %d bytes)", p.MimeType, len(p.Data))
	case PartToolCall:
		return fmt.Sprintf("tool_call(%s)", p.ToolName)
	case PartToolResponse:
		return fmt.Sprintf("tool_response(%s, error=%v)", p.ToolResponseName, p.ToolResponseIsError)
	default:
		return "part(unknown)"
	}
}
