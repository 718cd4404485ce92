// Package proxyerr declares the small typed-error hierarchy the orchestrator
// and its collaborators use to decide whether a failure terminates the
// client's stream or is instead surfaced to the model as a tool response.
// Mirrors the shape of internal/agent.ToolError: a named Kind plus a wrapped
// cause, matched with errors.As rather than string checks.
package proxyerr

import "fmt"

// Kind categorizes an error for the orchestrator's recovery policy.
type Kind string

const (
	// KindConfiguration is a malformed or missing configuration value.
	// Fatal at boot; rejected (not applied) on a runtime config edit.
	KindConfiguration Kind = "configuration"

	// KindCredentialMissing means no active API key is configured. Surfaces
	// as HTTP 401; the orchestrator never attempts the upstream call.
	KindCredentialMissing Kind = "credential_missing"

	// KindUpstreamTransport is a connection error or timeout, after retry
	// is exhausted. Surfaces as a single inline error chunk.
	KindUpstreamTransport Kind = "upstream_transport"

	// KindUpstreamProtocol is an upstream-returned error object mid-stream,
	// or an undecodable response body. Same handling as transport errors.
	KindUpstreamProtocol Kind = "upstream_protocol"

	// KindToolRegistryMiss means the model requested an unknown tool. The
	// dispatcher injects an error tool-response and the loop continues.
	KindToolRegistryMiss Kind = "tool_registry_miss"

	// KindToolExecution wraps a built-in panic or a dead/timed-out external
	// process. The loop continues; dead subprocesses are forgotten.
	KindToolExecution Kind = "tool_execution"

	// KindPermission means a tool path escaped its project root or the
	// configured allow-list. The handler returns a polite error string.
	KindPermission Kind = "permission"

	// KindBudgetExceeded means the conversation is still too large after
	// every truncation policy ran. Sent as-is; the upstream's rejection
	// propagates back as KindUpstreamProtocol.
	KindBudgetExceeded Kind = "budget_exceeded"
)

// Error is a Kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, proxyerr.New(proxyerr.KindPermission, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New builds a Kind-tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a Kind-tagged error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Terminal reports whether an error of this Kind should terminate the
// client's stream outright rather than being turned into a tool response
// the model can react to. Only upstream transport and protocol failures, a
// missing credential and configuration errors qualify; every other Kind is
// recoverable.
func Terminal(kind Kind) bool {
	switch kind {
	case KindUpstreamTransport, KindUpstreamProtocol, KindCredentialMissing, KindConfiguration:
		return true
	default:
		return false
	}
}
