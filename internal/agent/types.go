package agent

import (
	"github.com/opengemini/gemproxy/internal/upstream"
	"github.com/opengemini/gemproxy/pkg/models"
)

// ChatRequest is one inbound request to the orchestrator: a model name and
// the full message history, supplied fresh by the client on every call (the
// proxy keeps no server-side session state between requests). KeyID is the
// credential's friendly name, carried through for logging only; APIKey is
// its actual secret value, already resolved by the caller (the HTTP handler
// turns a missing active credential into proxyerr.KindCredentialMissing
// before Run is ever reached) and is what usage accounting hashes.
type ChatRequest struct {
	Model    string
	Messages []models.Message
	KeyID    string
	APIKey   string
}

// ResponseChunk is one unit of streamed output the orchestrator emits back
// to its caller. Exactly one of Text, ToolCall, ToolResult should be
// populated on a non-terminal chunk; Done marks the last chunk of the
// response, at which point Usage (if any) and Err (if any) are final.
type ResponseChunk struct {
	Text       string
	ToolCall   *models.Part
	ToolResult *models.Part
	Usage      *upstream.UsageMetadata
	Err        error
	Done       bool
}

// UsageRecorder is the optional hook the orchestrator reports completed-call
// token accounting through. apiKey is the raw credential value (the
// recorder hashes it before persisting, never the value itself); left nil,
// usage is simply logged.
type UsageRecorder interface {
	RecordUsage(apiKey, model string, usage *upstream.UsageMetadata)
}
