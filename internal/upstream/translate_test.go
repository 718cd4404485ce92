package upstream

import (
	"testing"

	"github.com/opengemini/gemproxy/pkg/models"
)

func TestToContentsSplitsSystemInstruction(t *testing.T) {
	conv := models.Conversation{Messages: []models.Message{
		{Role: models.RoleSystem, Parts: []models.Part{models.NewText("be terse")}},
		{Role: models.RoleUser, Parts: []models.Part{models.NewText("hi")}},
		{Role: models.RoleAssistant, Parts: []models.Part{models.NewText("hello")}},
	}}

	contents, sys := ToContents(conv)
	if sys != "be terse" {
		t.Fatalf("expected system instruction extracted, got %q", sys)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents (system dropped), got %d", len(contents))
	}
	if contents[0].Role != RoleUser || contents[1].Role != RoleModel {
		t.Fatalf("expected user then model roles, got %v %v", contents[0].Role, contents[1].Role)
	}
}

func TestToContentsRoundTripPreservesText(t *testing.T) {
	conv := models.Conversation{Messages: []models.Message{
		{Role: models.RoleUser, Parts: []models.Part{models.NewText("question")}},
	}}
	contents, _ := ToContents(conv)
	back := FromContentParts(contents[0].Parts)
	if len(back) != 1 || back[0].Text != "question" {
		t.Fatalf("expected round-tripped text, got %+v", back)
	}
}

func TestFromContentPartsAssignsToolCallID(t *testing.T) {
	parts := []Part{{FunctionCall: &FunctionCall{Name: "echo"}}}
	out := FromContentParts(parts)
	if len(out) != 1 || out[0].ToolCallID == "" {
		t.Fatalf("expected a generated tool call id, got %+v", out)
	}
}
