package agent

import (
	"context"
	"encoding/json"

	"github.com/opengemini/gemproxy/internal/cache"
	"github.com/opengemini/gemproxy/internal/optimizer"
)

// DispatcherConfig bounds a Dispatcher's post-processing behavior.
type DispatcherConfig struct {
	// MaxResultTokens overrides optimizer.TokenBudget for the generic
	// truncation branch; <= 0 uses the package default.
	MaxResultTokens int
}

// Dispatcher sits in front of a ToolRegistry and adds the steps the
// registry itself stays agnostic of: argument-shape normalization against
// the target tool's declared schema, side-effect-free-result memoization,
// and output-size optimization. Implements ToolRunner so it drops directly
// into Executor in place of the bare registry.
type Dispatcher struct {
	registry *ToolRegistry
	cache    *cache.ToolOutputCache
	config   DispatcherConfig
}

// NewDispatcher creates a Dispatcher wrapping registry. toolCache may be nil
// to disable memoization.
func NewDispatcher(registry *ToolRegistry, toolCache *cache.ToolOutputCache, config DispatcherConfig) *Dispatcher {
	return &Dispatcher{registry: registry, cache: toolCache, config: config}
}

// Execute normalizes params against the tool's declared schema, serves a
// cached result when one exists for a non-mutating tool, and otherwise
// executes the call and optimizes/caches its output.
func (d *Dispatcher) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	tool, ok := d.registry.Get(name)
	if !ok {
		return d.registry.Execute(ctx, name, params)
	}

	coerced := d.coerceParams(tool, params)
	if err := d.registry.Validate(name, coerced); err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	mutating := tool.Mutating()

	var key string
	if d.cache != nil && !mutating {
		key = cache.Key(name, coerced)
		if cached, hit := d.cache.Get(key); hit {
			return &ToolResult{Content: cached}, nil
		}
	}

	result, err := tool.Execute(ctx, coerced)
	if err != nil || result == nil {
		return result, err
	}

	budget := d.config.MaxResultTokens
	if !result.IsError {
		result.Content = optimizer.Optimize(name, result.Content, budget)
	}

	if d.cache != nil && !mutating && !result.IsError {
		d.cache.Set(key, result.Content)
	}

	return result, nil
}

// coerceParams normalizes params through the three-shape argument parser
// and re-wraps the flattened map against the tool's schema. If params is
// already a plain object with no args/kwargs wrapper, normalization is a
// no-op re-encoding, which is harmless.
func (d *Dispatcher) coerceParams(tool Tool, params json.RawMessage) json.RawMessage {
	flat := NormalizeToolArguments(params)

	var schema map[string]any
	if err := json.Unmarshal(tool.ParameterSchema(), &schema); err != nil {
		schema = nil
	}
	coerced := CoerceArgumentsToSchema(flat, schema)

	out, err := json.Marshal(coerced)
	if err != nil {
		return params
	}
	return out
}
