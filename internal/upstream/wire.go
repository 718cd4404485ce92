// Package upstream implements the hand-rolled client for the Gemini-shaped
// upstream generative model service: request/response wire types, the
// streaming decoder for its whitespace-delimited JSON object stream, and
// tool-declaration conversion. It deliberately avoids a generated SDK client
// so the decoder can match the service's exact (and occasionally malformed)
// framing.
package upstream

import "encoding/json"

// Role is the upstream's role vocabulary, distinct from models.Role: the
// orchestrator maps RoleAssistant to "model" and keeps "user"/"tool" as-is.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Content is one upstream conversation turn.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Part mirrors the upstream's part union: a given Part has exactly one of
// Text, InlineData, FunctionCall, or FunctionResponse populated.
type Part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Blob is an inline base64-less byte payload (the JSON encoder/decoder
// handles the wire base64 transparently via []byte's MarshalJSON).
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// FunctionCall is a model-issued request to invoke a named tool.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// FunctionResponse carries a tool's result back to the model.
type FunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

// FunctionDeclaration advertises one callable tool to the upstream.
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Tool is a group of function declarations. Native capability flags (e.g.
// code execution) are not modelled.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// SchemaType is the upstream's JSON-Schema-like type vocabulary.
type SchemaType string

const (
	TypeString  SchemaType = "STRING"
	TypeNumber  SchemaType = "NUMBER"
	TypeInteger SchemaType = "INTEGER"
	TypeBoolean SchemaType = "BOOLEAN"
	TypeArray   SchemaType = "ARRAY"
	TypeObject  SchemaType = "OBJECT"
)

// Schema is the upstream's parameter schema representation.
type Schema struct {
	Type        SchemaType         `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// GenerateRequest is the body sent to the streaming generate endpoint.
type GenerateRequest struct {
	Contents          []Content        `json:"contents"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	CachedContent     string           `json:"cachedContent,omitempty"`
	Tools             []Tool           `json:"tools,omitempty"`
	GenerationConfig  GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerationConfig carries sampling and budget knobs.
type GenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// StreamObject is one decoded frame of the streaming response body: a
// concatenation of whitespace-delimited JSON objects, each either carrying
// candidate content, usage metadata, or an error.
type StreamObject struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	Error         *StreamError   `json:"error,omitempty"`
}

// Candidate holds one generated completion.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// UsageMetadata reports token accounting for a completed request.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// StreamError is the upstream's mid-stream error envelope.
type StreamError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
