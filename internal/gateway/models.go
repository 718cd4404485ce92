package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// modelsCache remembers the proxied /v1/models response for the life of the
// process, matching the source's cached_models_response global: the upstream
// model catalog does not change within a deployment's lifetime, and every
// request re-fetching it would burn a call against the rate limiter for no
// benefit.
type modelsCache struct {
	mu   sync.Mutex
	data *modelsListResponse
}

type modelsListResponse struct {
	Object string          `json:"object"`
	Data   []modelListItem `json:"data"`
}

type modelListItem struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// upstreamModelsResponse is the Gemini-shaped GET /v1beta/models body.
type upstreamModelsResponse struct {
	Models []upstreamModel `json:"models"`
}

type upstreamModel struct {
	Name                       string   `json:"name"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// modelCreatedTimestamp is a fixed placeholder the upstream's own models
// listing does not provide a per-model creation time for.
const modelCreatedTimestamp = 1677649553

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error", "")
		return
	}

	apiKey, ok := s.credentials.Active()
	if !ok {
		writeError(w, http.StatusUnauthorized, "API key not configured.", "invalid_request_error", "api_key_not_set")
		return
	}

	s.models.mu.Lock()
	cached := s.models.data
	s.models.mu.Unlock()
	if cached != nil {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	list, err := s.fetchModels(r.Context(), apiKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("error fetching models from upstream: %v", err), "server_error", "")
		return
	}

	s.models.mu.Lock()
	s.models.data = list
	s.models.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) fetchModels(ctx context.Context, apiKey string) (*modelsListResponse, error) {
	url := strings.TrimSuffix(s.baseURL, "/") + "/v1beta/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := s.client.Do(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	var upstreamResp upstreamModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&upstreamResp); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}

	out := &modelsListResponse{Object: "list"}
	for _, m := range upstreamResp.Models {
		if !supportsGenerateContent(m.SupportedGenerationMethods) {
			continue
		}
		out.Data = append(out.Data, modelListItem{
			ID:      lastPathSegment(m.Name),
			Object:  "model",
			Created: modelCreatedTimestamp,
			OwnedBy: "google",
		})
	}
	return out, nil
}

func supportsGenerateContent(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}

func lastPathSegment(name string) string {
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
