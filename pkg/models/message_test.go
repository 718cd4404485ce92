package models

import (
	"encoding/json"
	"testing"
)

func TestRoleConstants(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleSystem, "system"},
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleTool, "tool"},
	}
	for _, tt := range tests {
		if string(tt.role) != tt.want {
			t.Errorf("role = %q, want %q", tt.role, tt.want)
		}
	}
}

func TestMessageText(t *testing.T) {
	m := Message{
		Role: RoleUser,
		Parts: []Part{
			NewText("hello"),
			NewToolCall("tc-1", "search", json.RawMessage(`{}`)),
			NewText("world"),
		},
	}
	if got, want := m.Text(), "hello\nworld"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestMessageHasToolCalls(t *testing.T) {
	withCall := Message{Parts: []Part{NewToolCall("id", "name", nil)}}
	withoutCall := Message{Parts: []Part{NewText("x")}}
	if !withCall.HasToolCalls() {
		t.Error("expected HasToolCalls true")
	}
	if withoutCall.HasToolCalls() {
		t.Error("expected HasToolCalls false")
	}
}

func TestMessageToolCalls(t *testing.T) {
	m := Message{Parts: []Part{
		NewText("preamble"),
		NewToolCall("tc-1", "a", nil),
		NewToolCall("tc-2", "b", nil),
	}}
	calls := m.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("len(ToolCalls()) = %d, want 2", len(calls))
	}
	if calls[0].ToolName != "a" || calls[1].ToolName != "b" {
		t.Errorf("unexpected tool call order: %+v", calls)
	}
}

func TestConversationMergeCollapsesAdjacentRoles(t *testing.T) {
	c := Conversation{Messages: []Message{
		{Role: RoleUser, Parts: []Part{NewText("one")}},
		{Role: RoleUser, Parts: []Part{NewText("two")}},
		{Role: RoleAssistant, Parts: []Part{NewText("reply")}},
	}}
	merged := c.Merge()
	if len(merged.Messages) != 2 {
		t.Fatalf("len(merged.Messages) = %d, want 2", len(merged.Messages))
	}
	if got, want := merged.Messages[0].Text(), "one\ntwo"; got != want {
		t.Errorf("merged first message text = %q, want %q", got, want)
	}
	for i := 1; i < len(merged.Messages); i++ {
		if merged.Messages[i-1].Role == merged.Messages[i].Role {
			t.Fatalf("adjacent messages share role %v at index %d", merged.Messages[i].Role, i)
		}
	}
}

func TestConversationMergeCollapsesTextParts(t *testing.T) {
	c := Conversation{Messages: []Message{
		{Role: RoleUser, Parts: []Part{NewText("a"), NewText("b")}},
	}}
	merged := c.Merge()
	if len(merged.Messages[0].Parts) != 1 {
		t.Fatalf("expected collapsed single text part, got %d parts", len(merged.Messages[0].Parts))
	}
	if got, want := merged.Messages[0].Parts[0].Text, "a\nb"; got != want {
		t.Errorf("collapsed text = %q, want %q", got, want)
	}
}

func TestConversationLastUserText(t *testing.T) {
	c := Conversation{Messages: []Message{
		{Role: RoleUser, Parts: []Part{NewText("first")}},
		{Role: RoleAssistant, Parts: []Part{NewText("reply")}},
		{Role: RoleUser, Parts: []Part{NewText("second")}},
	}}
	if got, want := c.LastUserText(), "second"; got != want {
		t.Errorf("LastUserText() = %q, want %q", got, want)
	}
}

func TestPartJSONRoundTrip(t *testing.T) {
	original := NewToolCall("tc-1", "search", json.RawMessage(`{"q":"test"}`))
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var decoded Part
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.Type != PartToolCall {
		t.Errorf("Type = %v, want %v", decoded.Type, PartToolCall)
	}
	if decoded.ToolName != "search" {
		t.Errorf("ToolName = %q, want %q", decoded.ToolName, "search")
	}
	if string(decoded.ToolArgs) != `{"q":"test"}` {
		t.Errorf("ToolArgs = %s, want %s", decoded.ToolArgs, `{"q":"test"}`)
	}
}

func TestPartString(t *testing.T) {
	tests := []struct {
		part Part
		want string
	}{
		{NewText("hi"), "text(2 bytes)"},
		{NewInlineBlob("image/png", []byte{1, 2, 3}), "inline_blob(image/png, 3 bytes)"},
		{NewToolCall("id", "grep", nil), "tool_call(grep)"},
		{NewToolResponse("grep", nil, true), "tool_response(grep, error=true)"},
	}
	for _, tt := range tests {
		if got := tt.part.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
