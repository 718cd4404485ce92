package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opengemini/gemproxy/pkg/models"
)

// chatCompletionRequest is the client-facing request body for
// /v1/chat/completions.
type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatMessage's Content is a string or an array of contentPart, per the
// OpenAI content-parts convention.
type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ImageURL *imageURLPart `json:"image_url,omitempty"`

	Source *inlineDataSource `json:"source,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type inlineDataSource struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// toMessages converts the client's wire messages to the orchestrator's
// role/parts model. An unrecognized role is rejected rather than silently
// coerced, since a misrouted turn would corrupt the upstream's role
// alternation.
func toMessages(in []chatMessage) ([]models.Message, error) {
	out := make([]models.Message, 0, len(in))
	for i, m := range in {
		role, err := toRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		parts, err := toParts(m.Content)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out = append(out, models.Message{Role: role, Parts: parts})
	}
	return out, nil
}

func toRole(r string) (models.Role, error) {
	switch r {
	case "system":
		return models.RoleSystem, nil
	case "user":
		return models.RoleUser, nil
	case "assistant":
		return models.RoleAssistant, nil
	case "tool":
		return models.RoleTool, nil
	default:
		return "", fmt.Errorf("unrecognized role %q", r)
	}
}

// toParts decodes a message's content, which is either a bare JSON string
// (a single text part) or an array of typed content parts.
func toParts(raw json.RawMessage) ([]models.Part, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []models.Part{models.NewText(text)}, nil
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of parts: %w", err)
	}

	out := make([]models.Part, 0, len(parts))
	for i, p := range parts {
		part, err := toPart(p)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		out = append(out, part)
	}
	return out, nil
}

func toPart(p contentPart) (models.Part, error) {
	switch p.Type {
	case "text":
		return models.NewText(p.Text), nil
	case "inline_data":
		if p.Source == nil {
			return models.Part{}, fmt.Errorf("inline_data part missing source")
		}
		data, err := base64.StdEncoding.DecodeString(p.Source.Data)
		if err != nil {
			return models.Part{}, fmt.Errorf("inline_data: invalid base64: %w", err)
		}
		return models.NewInlineBlob(p.Source.MediaType, data), nil
	case "image_url":
		if p.ImageURL == nil {
			return models.Part{}, fmt.Errorf("image_url part missing image_url")
		}
		return imageURLToPart(p.ImageURL.URL)
	default:
		return models.Part{}, fmt.Errorf("unrecognized content part type %q", p.Type)
	}
}

// imageURLToPart accepts either a base64 "data:" URI, decoded into an inline
// blob the same as an explicit inline_data part, or a plain web URL, which
// has no inline-blob equivalent without fetching it server-side (left
// unfetched by design: the proxy does not make outbound calls to arbitrary
// client-supplied URLs) and is instead forwarded as a text reference the
// model can act on if it has its own fetch tool.
func imageURLToPart(url string) (models.Part, error) {
	if !strings.HasPrefix(url, "data:") {
		return models.NewText(fmt.Sprintf("[image: %s]", url)), nil
	}
	comma := strings.IndexByte(url, ',')
	if comma < 0 {
		return models.Part{}, fmt.Errorf("image_url: malformed data URI")
	}
	header := url[len("data:"):comma]
	mediaType, _, _ := strings.Cut(header, ";base64")
	data, err := base64.StdEncoding.DecodeString(url[comma+1:])
	if err != nil {
		return models.Part{}, fmt.Errorf("image_url: invalid base64 data URI: %w", err)
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return models.NewInlineBlob(mediaType, data), nil
}

// chatCompletionChunk is one SSE event's payload for a streaming response.
type chatCompletionChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []chunkChoice  `json:"choices"`
}

type chunkChoice struct {
	Index        int         `json:"index"`
	Delta        chunkDelta  `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type chunkDelta struct {
	Content string `json:"content,omitempty"`
}

// chatCompletionResponse is the non-streaming (stream:false) response body.
type chatCompletionResponse struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []completionChoice   `json:"choices"`
	Usage   *completionUsage     `json:"usage,omitempty"`
}

type completionChoice struct {
	Index        int             `json:"index"`
	Message      completionMsg   `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type completionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// errorResponse is the stable error shape returned for requests that never
// reach the orchestrator (malformed body, missing credential).
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
