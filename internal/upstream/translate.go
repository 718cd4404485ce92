package upstream

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/opengemini/gemproxy/pkg/models"
)

// ToContents translates a shaped, merged Conversation to the upstream's
// wire schema: assistant -> model, user/tool roles kept
// as-is, and any leading system message is split out into systemInstruction
// rather than appearing in contents. The conversation is assumed already
// Merge()d (no two adjacent same-role messages).
func ToContents(conv models.Conversation) (contents []Content, systemInstruction string) {
	for _, m := range conv.Messages {
		if m.Role == models.RoleSystem {
			systemInstruction = joinText(systemInstruction, m.Text())
			continue
		}
		contents = append(contents, Content{Role: roleOf(m.Role), Parts: partsOf(m.Parts)})
	}
	return contents, systemInstruction
}

func joinText(existing, next string) string {
	if existing == "" {
		return next
	}
	if next == "" {
		return existing
	}
	return existing + "\n" + next
}

func roleOf(r models.Role) Role {
	switch r {
	case models.RoleAssistant:
		return RoleModel
	case models.RoleTool:
		return RoleTool
	default:
		return RoleUser
	}
}

func partsOf(parts []models.Part) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case models.PartText:
			out = append(out, Part{Text: p.Text})
		case models.PartInlineBlob:
			out = append(out, Part{InlineData: &Blob{MimeType: p.MimeType, Data: p.Data}})
		case models.PartToolCall:
			out = append(out, Part{FunctionCall: &FunctionCall{Name: p.ToolName, Args: p.ToolArgs}})
		case models.PartToolResponse:
			out = append(out, Part{FunctionResponse: &FunctionResponse{Name: p.ToolResponseName, Response: p.ToolResponsePayload}})
		}
	}
	return out
}

// FromContentParts converts one decoded candidate's parts back into the
// proxy's Part model, assigning a fresh tool-call id to any function call
// that lacks one upstream-side (the upstream wire format carries no call
// id of its own — the ToolCall part needs one for history bookkeeping
// and for matching responses back to calls in order).
func FromContentParts(parts []Part) []models.Part {
	out := make([]models.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out = append(out, models.NewToolCall(uuid.New().String(), p.FunctionCall.Name, args))
		case p.Text != "":
			out = append(out, models.NewText(p.Text))
		case p.InlineData != nil:
			out = append(out, models.NewInlineBlob(p.InlineData.MimeType, p.InlineData.Data))
		}
	}
	return out
}
