package agent

import (
	"encoding/json"
	"strings"
)

// NormalizeToolArguments accepts tool-call arguments in any of the three
// shapes an upstream model may emit them in, and returns a flat
// map[string]any suitable for re-wrapping against a declared schema.
// Grounded on the original mcp_handler's _normalize_mcp_args /
// _parse_kwargs_string: a plain object is used as-is; an args/kwargs
// wrapper object has kwargs (object, JSON string, or key=value string) and
// args (JSON-array string) merged in; a bare string is tried as JSON, then
// as a key=value string.
func NormalizeToolArguments(raw json.RawMessage) map[string]any {
	raw = trimRaw(raw)
	if len(raw) == 0 {
		return map[string]any{}
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return normalizeBareString(asString)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return map[string]any{}
	}

	_, hasArgs := obj["args"]
	_, hasKwargs := obj["kwargs"]
	if !hasArgs && !hasKwargs {
		return obj
	}

	flat := map[string]any{}
	if kwargsVal, ok := obj["kwargs"]; ok {
		for k, v := range normalizeKwargs(kwargsVal) {
			flat[k] = v
		}
	}
	if argsVal, ok := obj["args"]; ok {
		if positional := normalizeArgs(argsVal); len(positional) > 0 {
			flat["args"] = positional
		}
	}
	for k, v := range obj {
		if k == "args" || k == "kwargs" {
			continue
		}
		flat[k] = v
	}
	return flat
}

func normalizeBareString(s string) map[string]any {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj
	}
	return parseKwargsString(s)
}

func normalizeKwargs(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return map[string]any{}
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return obj
		}
		return parseKwargsString(s)
	default:
		return map[string]any{}
	}
}

func normalizeArgs(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return arr
		}
		return nil
	default:
		return nil
	}
}

// parseKwargsString splits a whitespace-separated, quote-aware key=value
// string into a flat map, mirroring shell-lexer tokenization: tokens are
// separated by unquoted whitespace, a quoted span (single or double) is
// kept as one token with its quotes stripped, and each token splits once
// on its first '='.
func parseKwargsString(s string) map[string]any {
	out := map[string]any{}
	for _, tok := range tokenizeShellLike(s) {
		idx := strings.Index(tok, "=")
		if idx < 0 {
			continue
		}
		key := tok[:idx]
		val := tok[idx+1:]
		out[key] = val
	}
	return out
}

func tokenizeShellLike(s string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			inToken = true
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func trimRaw(raw json.RawMessage) json.RawMessage {
	return json.RawMessage(strings.TrimSpace(string(raw)))
}

// CoerceArgumentsToSchema re-wraps a flat argument map into an args/kwargs
// shape when the target schema declares those property names, so a tool
// expecting {"args":[...], "kwargs":{...}} still receives its positional
// and keyword arguments correctly even after flattening by
// NormalizeToolArguments.
func CoerceArgumentsToSchema(flat map[string]any, schema map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	wantsArgs := declaresProperty(props, schema, "args")
	wantsKwargs := declaresProperty(props, schema, "kwargs")
	if !wantsArgs && !wantsKwargs {
		return flat
	}

	out := map[string]any{}
	if positional, ok := flat["args"]; ok && wantsArgs {
		out["args"] = positional
	}

	kwargs := map[string]any{}
	for k, v := range flat {
		if k == "args" {
			continue
		}
		kwargs[k] = v
	}
	if wantsKwargs {
		out["kwargs"] = kwargs
	} else {
		for k, v := range kwargs {
			out[k] = v
		}
	}
	return out
}

func declaresProperty(props map[string]any, schema map[string]any, name string) bool {
	if props != nil {
		if _, ok := props[name]; ok {
			return true
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok && s == name {
				return true
			}
		}
	}
	return false
}
