package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opengemini/gemproxy/internal/cache"
	"github.com/opengemini/gemproxy/internal/optimizer"
	"github.com/opengemini/gemproxy/internal/proxyerr"
	"github.com/opengemini/gemproxy/internal/shaping"
	"github.com/opengemini/gemproxy/internal/upstream"
	"github.com/opengemini/gemproxy/pkg/models"
)

// OrchestratorConfig bounds the streaming chat loop's behavior: iteration
// and tool-declaration caps, the input-token safety margin, context-cache
// thresholds, and the windowing policy handed to shaping.Window.
type OrchestratorConfig struct {
	DefaultModel string

	// MaxIterations bounds how many upstream round-trips a single client
	// request may take before the loop gives up (config.MaxToolLoopIterations).
	MaxIterations int

	// MaxFunctionDeclarations caps the number of tools advertised in a
	// single request (config.MaxFunctionDeclarations).
	MaxFunctionDeclarations int

	// SafetyMargin scales the model's input-token limit down before
	// computing the windowing char budget (Open Question: 0.95 default).
	SafetyMargin float64

	// DefaultModelInputTokens is used when ModelInputTokens has no entry
	// for the requested model.
	DefaultModelInputTokens int
	ModelInputTokens         map[string]int

	// MinContextCachingTokens is the system-instruction token-estimate
	// threshold above which a server-side context cache is attempted.
	MinContextCachingTokens int
	ContextCacheTTL         time.Duration

	WindowEnabled          bool
	WindowAlwaysKeepRecent int

	AllowedCodePaths    []string
	SystemPromptPresets shaping.SystemPromptPresets

	UsageRecorder UsageRecorder
}

// DefaultOrchestratorConfig returns the documented defaults, matching
// config.Defaults()'s loop-bound constants.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxIterations:            16,
		MaxFunctionDeclarations:  64,
		SafetyMargin:             0.95,
		DefaultModelInputTokens:  1_000_000,
		MinContextCachingTokens:  2048,
		ContextCacheTTL:          time.Hour,
		WindowEnabled:            true,
		WindowAlwaysKeepRecent:   5,
	}
}

// Orchestrator runs the shape -> translate -> stream -> dispatch -> repeat
// loop backing a single chat-completions request against the upstream
// generative model service. Grounded on the teacher's AgenticLoop.Run /
// streamPhase / executeToolsPhase / continuePhase state machine, narrowed
// from its multi-provider, session-persisted, steering-queue generality to
// this system's single-upstream, stateless-per-request shape: every call
// carries its full message history, and the iteration bound in
// sanitizeLoopConfig's guard-rail spirit is kept as MaxIterations.
type Orchestrator struct {
	client       *upstream.Client
	baseURL      string
	contextCache *cache.ContextCache
	registry     *ToolRegistry
	executor     *Executor
	profiles     *shaping.ProfileTable
	config       OrchestratorConfig
	logger       *slog.Logger
}

// NewOrchestrator builds an Orchestrator. baseURL is the upstream's address
// (the same one client was built against), needed here because Client keeps
// it private behind Do's retry/rate-limit wrapper.
func NewOrchestrator(client *upstream.Client, baseURL string, contextCache *cache.ContextCache, registry *ToolRegistry, executor *Executor, profiles *shaping.ProfileTable, config OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultOrchestratorConfig().MaxIterations
	}
	if config.SafetyMargin <= 0 {
		config.SafetyMargin = DefaultOrchestratorConfig().SafetyMargin
	}
	return &Orchestrator{
		client:       client,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		contextCache: contextCache,
		registry:     registry,
		executor:     executor,
		profiles:     profiles,
		config:       config,
		logger:       logger.With("component", "orchestrator"),
	}
}

// Run shapes req and streams the resulting chat-completion on the returned
// channel, which is closed once a terminal chunk has been sent. apiKey is
// the already-resolved active credential; callers are expected to have
// turned a missing credential into proxyerr.KindCredentialMissing before
// calling Run, so Run itself only refuses an empty key defensively.
func (o *Orchestrator) Run(ctx context.Context, req ChatRequest) (<-chan *ResponseChunk, error) {
	if len(req.Messages) == 0 {
		return nil, proxyerr.New(proxyerr.KindConfiguration, "empty message history")
	}
	if req.APIKey == "" {
		return nil, proxyerr.New(proxyerr.KindCredentialMissing, "no active credential resolved for request")
	}

	model := req.Model
	if model == "" {
		model = o.config.DefaultModel
	}
	if model == "" {
		return nil, proxyerr.New(proxyerr.KindConfiguration, "no model specified and no default configured")
	}

	conv, projectRoot, extraSystem, promptText, matched, profile := o.shapeRequest(req.Messages)
	ctx = WithProjectRoot(ctx, projectRoot)

	out := make(chan *ResponseChunk, 8)
	go o.run(ctx, req, model, conv, extraSystem, promptText, matched, profile, out)
	return out, nil
}

// shapeRequest applies profile matching, text overrides, and path-directive
// expansion to every user message, returning the shaped-and-merged
// conversation alongside whatever project root and extra system-instruction
// text the directives produced.
func (o *Orchestrator) shapeRequest(msgs []models.Message) (conv models.Conversation, projectRoot, extraSystem, promptText string, matched bool, profile shaping.Profile) {
	promptText = concatUserText(msgs)
	profile, matched = o.profiles.Match(promptText)

	seen := map[string]bool{}
	var systemChunks []string
	shaped := make([]models.Message, 0, len(msgs))

	for _, m := range msgs {
		if m.Role != models.RoleUser {
			shaped = append(shaped, m)
			continue
		}
		newParts := make([]models.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Type != models.PartText {
				newParts = append(newParts, p)
				continue
			}
			text := p.Text
			if matched {
				text = profile.ApplyTextOverrides(text)
			}
			result := shaping.ExpandPathDirectives(text, seen, o.config.SystemPromptPresets, o.config.AllowedCodePaths)
			newParts = append(newParts, result.Parts...)
			if result.ProjectRoot != "" {
				projectRoot = result.ProjectRoot
			}
			if result.SystemInstruction != "" {
				systemChunks = append(systemChunks, result.SystemInstruction)
			}
		}
		shaped = append(shaped, models.Message{Role: m.Role, Parts: newParts})
	}

	extraSystem = strings.Join(systemChunks, "\n")
	conv = models.Conversation{Messages: shaped}.Merge()
	return conv, projectRoot, extraSystem, promptText, matched, profile
}

func concatUserText(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role != models.RoleUser {
			continue
		}
		if text := m.Text(); text != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(text)
		}
	}
	return b.String()
}

// run drives the bounded tool loop, writing chunks to out until a terminal
// chunk has been sent, then closes it.
func (o *Orchestrator) run(ctx context.Context, req ChatRequest, model string, conv models.Conversation, extraSystem, promptText string, matched bool, profile shaping.Profile, out chan *ResponseChunk) {
	defer close(out)

	charBudget := int(float64(o.inputLimitFor(model)) * o.config.SafetyMargin * 4)
	var usage *upstream.UsageMetadata

	for iter := 0; iter < o.config.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			o.emitErr(out, PhaseStream, iter, &LoopError{Phase: PhaseStream, Iteration: iter, Cause: ctx.Err()})
			return
		default:
		}

		windowCfg := shaping.WindowConfig{
			Enabled:          o.config.WindowEnabled,
			AlwaysKeepRecent: o.config.WindowAlwaysKeepRecent,
			CharBudget:       charBudget,
		}
		conv.Messages = shaping.Window(conv.Messages, conv.LastUserText(), windowCfg)

		var prevRole models.Role
		if n := len(conv.Messages); n > 0 {
			prevRole = conv.Messages[n-1].Role
		}
		prevToolMessage := models.Message{}
		if prevRole == models.RoleTool {
			prevToolMessage = conv.Messages[len(conv.Messages)-1]
		}

		tools := o.decideTools(matched, profile, promptText)
		upstreamTools := upstream.ToTools(tools)

		contents, systemInstruction := upstream.ToContents(conv)
		systemInstruction = joinSystem(systemInstruction, extraSystem)

		cachedHandle := o.resolveContextCache(ctx, model, systemInstruction, req.APIKey)

		genReq := upstream.GenerateRequest{Contents: contents, Tools: upstreamTools}
		switch {
		case cachedHandle != "":
			genReq.CachedContent = cachedHandle
		case systemInstruction != "":
			genReq.SystemInstruction = &upstream.Content{Parts: []upstream.Part{{Text: systemInstruction}}}
		}

		resp, err := o.issueStream(ctx, genReq, model, req.APIKey)
		if err != nil {
			o.emitErr(out, PhaseStream, iter, &LoopError{Phase: PhaseStream, Iteration: iter, Cause: err})
			return
		}

		modelParts, toolCalls, hasText, streamUsage, streamErr := o.consumeStream(resp, out)
		resp.Body.Close()
		if streamErr != nil {
			o.emitErr(out, PhaseStream, iter, &LoopError{Phase: PhaseStream, Iteration: iter, Cause: streamErr})
			return
		}
		if streamUsage != nil {
			usage = streamUsage
		}

		if len(toolCalls) == 0 && !hasText && prevToolMessage.Role == models.RoleTool {
			synthesized := synthesizeTextFromToolResponse(prevToolMessage)
			if synthesized != "" {
				modelParts = append(modelParts, models.NewText(synthesized))
				out <- &ResponseChunk{Text: synthesized}
			}
		}

		conv.Messages = append(conv.Messages, models.Message{Role: models.RoleAssistant, Parts: modelParts})

		if len(toolCalls) == 0 {
			if o.config.UsageRecorder != nil && usage != nil {
				o.config.UsageRecorder.RecordUsage(req.APIKey, model, usage)
			}
			out <- &ResponseChunk{Done: true, Usage: usage}
			return
		}

		if len(toolCalls) > MaxToolCallsPerIteration {
			toolCalls = toolCalls[:MaxToolCallsPerIteration]
		}
		for _, tc := range toolCalls {
			tcCopy := tc
			out <- &ResponseChunk{ToolCall: &tcCopy}
		}

		results := o.executor.ExecuteAll(ctx, toolCalls)
		toolParts := ResultsToParts(results)
		for i := range toolParts {
			part := toolParts[i]
			out <- &ResponseChunk{ToolResult: &part}
		}
		conv.Messages = append(conv.Messages, models.Message{Role: models.RoleTool, Parts: toolParts})
	}

	o.emitErr(out, PhaseStream, o.config.MaxIterations, &LoopError{
		Phase:     PhaseStream,
		Iteration: o.config.MaxIterations,
		Cause:     ErrMaxIterations,
	})
}

func (o *Orchestrator) emitErr(out chan *ResponseChunk, phase LoopPhase, iteration int, err error) {
	o.logger.Error("chat loop terminated", "phase", phase, "iteration", iteration, "error", err)
	out <- &ResponseChunk{Err: err, Done: true}
}

// decideTools implements the tool-advertising policy: a profile that
// disables tools advertises nothing unless it opts natives back in; a
// profile naming selected_tools wins over the keyword-scan fallback; with
// no matching profile, tools mentioned by name in the prompt are advertised.
// The result is always capped at MaxFunctionDeclarations.
func (o *Orchestrator) decideTools(matched bool, profile shaping.Profile, prompt string) []Tool {
	if matched && profile.DisableTools {
		if !profile.EnableNativeTools {
			return nil
		}
		return capTools(filterNative(o.registry.All()), o.config.MaxFunctionDeclarations)
	}

	var tools []Tool
	switch {
	case matched && len(profile.SelectedTools) > 0:
		tools = namesToTools(o.registry, profile.SelectedTools)
	default:
		tools = keywordMatchTools(o.registry, prompt)
	}
	return capTools(tools, o.config.MaxFunctionDeclarations)
}

func (o *Orchestrator) inputLimitFor(model string) int {
	if limit, ok := o.config.ModelInputTokens[model]; ok && limit > 0 {
		return limit
	}
	if o.config.DefaultModelInputTokens > 0 {
		return o.config.DefaultModelInputTokens
	}
	return DefaultOrchestratorConfig().DefaultModelInputTokens
}

func joinSystem(systemInstruction, extra string) string {
	switch {
	case systemInstruction == "":
		return extra
	case extra == "":
		return systemInstruction
	default:
		return systemInstruction + "\n" + extra
	}
}

// resolveContextCache returns an UpstreamCachedContext handle for
// model+systemInstruction when the instruction's token estimate clears the
// caching threshold, creating one upstream and remembering it on a miss. A
// creation failure is logged and treated as a cache miss, not a request
// failure: the caller falls back to inlining the system instruction.
func (o *Orchestrator) resolveContextCache(ctx context.Context, model, systemInstruction, apiKey string) string {
	if o.contextCache == nil || systemInstruction == "" {
		return ""
	}
	if optimizer.EstimateTokens(systemInstruction) < o.config.MinContextCachingTokens {
		return ""
	}

	key := cache.ContextKey(model, systemInstruction)
	if handle, ok := o.contextCache.Get(key); ok {
		return handle
	}

	handle, err := o.createCachedContent(ctx, model, systemInstruction, apiKey)
	if err != nil {
		o.logger.Warn("context cache create failed, inlining system instruction", "error", err)
		return ""
	}

	ttl := o.config.ContextCacheTTL
	if ttl <= 0 {
		ttl = DefaultOrchestratorConfig().ContextCacheTTL
	}
	o.contextCache.Set(key, handle, ttl)
	return handle
}

type cachedContentRequest struct {
	Model             string           `json:"model"`
	SystemInstruction *upstream.Content `json:"systemInstruction,omitempty"`
	TTL               string           `json:"ttl,omitempty"`
}

type cachedContentResponse struct {
	Name string `json:"name"`
}

func (o *Orchestrator) createCachedContent(ctx context.Context, model, systemInstruction, apiKey string) (string, error) {
	body, err := json.Marshal(cachedContentRequest{
		Model:             "models/" + model,
		SystemInstruction: &upstream.Content{Parts: []upstream.Part{{Text: systemInstruction}}},
		TTL:               "3600s",
	})
	if err != nil {
		return "", fmt.Errorf("encode cached content request: %w", err)
	}

	url := o.baseURL + "/v1beta/cachedContents"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	getBody := func() io.ReadCloser { return io.NopCloser(bytes.NewReader(body)) }
	resp, err := o.client.Do(ctx, httpReq, getBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("cachedContents create: status %d: %s", resp.StatusCode, string(data))
	}

	var parsed cachedContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode cachedContents response: %w", err)
	}
	if parsed.Name == "" {
		return "", fmt.Errorf("cachedContents response carried no name")
	}
	return parsed.Name, nil
}

// issueStream posts genReq to the upstream's streaming generate endpoint
// and returns the (yet-unconsumed) response, whose body the caller must
// close.
func (o *Orchestrator) issueStream(ctx context.Context, genReq upstream.GenerateRequest, model, apiKey string) (*http.Response, error) {
	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent", o.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	getBody := func() io.ReadCloser { return io.NopCloser(bytes.NewReader(body)) }
	resp, err := o.client.Do(ctx, httpReq, getBody)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, proxyerr.Wrap(proxyerr.KindUpstreamProtocol, fmt.Sprintf("upstream returned status %d", resp.StatusCode), fmt.Errorf("%s", string(data)))
	}
	return resp, nil
}

// consumeStream decodes resp's body as the upstream's whitespace-delimited
// JSON object stream, forwarding text deltas to out as it goes and
// collecting the full set of parts and tool calls the model emitted this
// iteration.
func (o *Orchestrator) consumeStream(resp *http.Response, out chan *ResponseChunk) (modelParts, toolCalls []models.Part, hasText bool, usage *upstream.UsageMetadata, err error) {
	decoder := upstream.NewStreamDecoder(resp.Body)
	var textBytes int

	for {
		obj, decErr := decoder.Next()
		if decErr != nil {
			if decErr == io.EOF {
				return modelParts, toolCalls, hasText, usage, nil
			}
			return modelParts, toolCalls, hasText, usage, proxyerr.Wrap(proxyerr.KindUpstreamProtocol, "decode upstream stream", decErr)
		}
		if obj.Error != nil {
			return modelParts, toolCalls, hasText, usage, proxyerr.New(proxyerr.KindUpstreamProtocol, obj.Error.Message)
		}
		if obj.UsageMetadata != nil {
			usage = obj.UsageMetadata
		}
		for _, cand := range obj.Candidates {
			for _, p := range upstream.FromContentParts(cand.Content.Parts) {
				switch p.Type {
				case models.PartText:
					textBytes += len(p.Text)
					if textBytes > MaxResponseTextSize {
						return modelParts, toolCalls, hasText, usage, proxyerr.New(proxyerr.KindUpstreamProtocol, "response text exceeded the maximum size")
					}
					hasText = true
					modelParts = append(modelParts, p)
					out <- &ResponseChunk{Text: p.Text}
				case models.PartToolCall:
					modelParts = append(modelParts, p)
					toolCalls = append(toolCalls, p)
					if len(toolCalls) > MaxToolCallsPerIteration {
						return modelParts, toolCalls, hasText, usage, proxyerr.New(proxyerr.KindUpstreamProtocol, "too many tool calls in one response")
					}
				default:
					modelParts = append(modelParts, p)
				}
			}
		}
	}
}

// synthesizeTextFromToolResponse builds a fallback text part out of a tool
// message the model otherwise left unacknowledged: no tool calls this
// iteration, no text this iteration, but the prior turn was a tool result.
// Without this, the client would receive a turn with neither text nor a
// tool call, which the OpenAI wire format has no way to express cleanly.
func synthesizeTextFromToolResponse(toolMessage models.Message) string {
	var lines []string
	for _, p := range toolMessage.Parts {
		if p.Type != models.PartToolResponse {
			continue
		}
		status := "result"
		if p.ToolResponseIsError {
			status = "error"
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", p.ToolResponseName, status, truncatePayload(p.ToolResponsePayload)))
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func truncatePayload(raw json.RawMessage) string {
	const max = 500
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
