package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opengemini/gemproxy/internal/agent"
	"github.com/opengemini/gemproxy/internal/proxyerr"
)

// maxRequestBodyBytes bounds a single chat-completions request body, mostly
// to stop an unbounded inline_data payload from exhausting memory before
// json.Decode ever gets to MaxCodeInjectionSizeKB-scale checks downstream.
const maxRequestBodyBytes = 32 << 20

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error", "")
		return
	}

	var body chatCompletionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "invalid_request_error", "")
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty", "invalid_request_error", "")
		return
	}

	messages, err := toMessages(body.Messages)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}

	apiKey, ok := s.credentials.Active()
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active API key configured", "invalid_request_error", "api_key_not_set")
		return
	}

	chatReq := agent.ChatRequest{
		Model:    body.Model,
		Messages: messages,
		KeyID:    s.credentials.ActiveKeyID(),
		APIKey:   apiKey,
	}

	chunks, err := s.orchestrator.Run(r.Context(), chatReq)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	model := body.Model
	id := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()

	if !body.Stream {
		s.writeAggregated(w, chunks, id, model, created)
		return
	}
	s.writeStream(w, chunks, id, model, created)
}

func (s *Server) writeStream(w http.ResponseWriter, chunks <-chan *agent.ResponseChunk, id, model string, created int64) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	for chunk := range chunks {
		switch {
		case chunk.ToolCall != nil, chunk.ToolResult != nil:
			// Internal to the tool loop; never surfaced to an OpenAI client.
			continue
		case chunk.Done:
			s.writeSSEChunk(w, finalChunk(id, model, created, chunk.Err))
			io.WriteString(w, "data: [DONE]\n\n")
		case chunk.Text != "":
			s.writeSSEChunk(w, textChunk(id, model, created, chunk.Text))
		default:
			continue
		}
		if canFlush {
			flusher.Flush()
		}
		if chunk.Done {
			return
		}
	}
}

func (s *Server) writeSSEChunk(w http.ResponseWriter, chunk chatCompletionChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Error("encode sse chunk failed", "error", err)
		return
	}
	io.WriteString(w, "data: ")
	w.Write(data)
	io.WriteString(w, "\n\n")
}

func textChunk(id, model string, created int64, text string) chatCompletionChunk {
	return chatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{Content: text}, FinishReason: nil}},
	}
}

func finalChunk(id, model string, created int64, err error) chatCompletionChunk {
	stop := "stop"
	delta := chunkDelta{}
	if err != nil {
		delta.Content = errorDisplayMessage(err)
	}
	return chatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []chunkChoice{{Index: 0, Delta: delta, FinishReason: &stop}},
	}
}

// writeAggregated drains chunks fully before responding, for a stream:false
// request: the client gets one JSON object instead of an SSE feed.
func (s *Server) writeAggregated(w http.ResponseWriter, chunks <-chan *agent.ResponseChunk, id, model string, created int64) {
	var text strings.Builder
	var usage *completionUsage
	var streamErr error

	for chunk := range chunks {
		switch {
		case chunk.Text != "":
			text.WriteString(chunk.Text)
		case chunk.Err != nil:
			streamErr = chunk.Err
		}
		if chunk.Usage != nil {
			usage = &completionUsage{
				PromptTokens:     chunk.Usage.PromptTokenCount,
				CompletionTokens: chunk.Usage.CandidatesTokenCount,
				TotalTokens:      chunk.Usage.TotalTokenCount,
			}
		}
	}

	content := text.String()
	if streamErr != nil && content == "" {
		content = errorDisplayMessage(streamErr)
	}

	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []completionChoice{{
			Index:        0,
			Message:      completionMsg{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: usage,
	})
}

func errorDisplayMessage(err error) string {
	return "error: " + err.Error()
}

// writeOrchestratorError maps a synchronous Run error (before any streaming
// started) to an HTTP status using the same Kind the error would have
// carried mid-stream, so a client sees a consistent shape either way.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	var pe *proxyerr.Error
	if errors.As(err, &pe) {
		status := http.StatusBadGateway
		errType := "server_error"
		switch pe.Kind {
		case proxyerr.KindCredentialMissing:
			status, errType = http.StatusUnauthorized, "invalid_request_error"
		case proxyerr.KindConfiguration:
			status, errType = http.StatusBadRequest, "invalid_request_error"
		case proxyerr.KindUpstreamTransport, proxyerr.KindUpstreamProtocol:
			status, errType = http.StatusBadGateway, "server_error"
		}
		writeError(w, status, pe.Error(), errType, string(pe.Kind))
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "")
}

func writeError(w http.ResponseWriter, status int, message, errType, code string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Message: message, Type: errType, Code: code}})
}
