package agent

import "context"

type projectRootKey struct{}

// MaxResponseTextSize bounds accumulated response text per request (1 MiB),
// guarding against a runaway or malicious upstream stream.
const MaxResponseTextSize = 1 << 20

// MaxToolCallsPerIteration bounds the number of tool calls a single stream
// iteration may emit, guarding against a model flooding the tool loop.
const MaxToolCallsPerIteration = 100

// WithProjectRoot stores the per-request project root (set by a project_path=
// directive) in ctx, so built-in file tools resolve relative paths against it
// without threading it through every call signature.
func WithProjectRoot(ctx context.Context, root string) context.Context {
	if root == "" {
		return ctx
	}
	return context.WithValue(ctx, projectRootKey{}, root)
}

// ProjectRootFromContext retrieves the project root set by WithProjectRoot,
// or "" if none was set for this request.
func ProjectRootFromContext(ctx context.Context) string {
	root, _ := ctx.Value(projectRootKey{}).(string)
	return root
}
