package shaping

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opengemini/gemproxy/pkg/models"
)

// directivePattern matches "<kind>_path=<value>" or "system_prompt=<value>",
// value either quoted or a bare run of non-whitespace/comma/semicolon/paren
// characters.
var directivePattern = regexp.MustCompile(`(image|pdf|audio|code|project)_path=("[^"]+"|'[^']+'|[^\s,;)]+)|(system_prompt)=("[^"]+"|'[^']+'|[^\s,;)]+)`)

// paramPattern matches the optional trailing parameters a directive accepts:
// ignore_type=, ignore_file=, ignore_dir=, project_mode=, project_feature=.
var paramPattern = regexp.MustCompile(`(ignore_type|ignore_file|ignore_dir|project_mode|project_feature)=("[^"]+"|'[^']+'|[^\s,;)]+)`)

const (
	maxBlobBytes     = 12 << 20 // 12 MiB
	defaultCodeBytes = 256 << 10
)

// DirectiveResult is the outcome of expanding every path directive found in
// one user message's text.
type DirectiveResult struct {
	Parts             []models.Part
	ProjectRoot       string
	SystemInstruction string
}

// SystemPromptPresets maps a named system_prompt directive value, or a
// project_mode value, to synthesized instruction text.
type SystemPromptPresets map[string]string

// ExpandPathDirectives scans text for "<kind>_path=" / "system_prompt="
// directives and expands each into inline content. seen accumulates realpaths
// already processed across the whole request so a directive is never
// expanded twice. allowedCodePaths, if non-empty, restricts code_path
// directives to realpaths under one of its entries; nil/empty means
// unrestricted. Directive-free text is returned unchanged as a single part.
func ExpandPathDirectives(text string, seen map[string]bool, presets SystemPromptPresets, allowedCodePaths []string) DirectiveResult {
	if seen == nil {
		seen = map[string]bool{}
	}
	matches := directivePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return DirectiveResult{Parts: []models.Part{models.NewText(text)}}
	}

	var result DirectiveResult
	var plain strings.Builder
	last := 0

	flushPlain := func(end int) {
		if s := text[last:end]; strings.TrimSpace(s) != "" {
			plain.WriteString(s)
		}
	}

	for _, m := range matches {
		start, end := m[0], m[1]
		flushPlain(start)

		var kind, value string
		if m[2] >= 0 {
			kind = text[m[2]:m[3]]
			value = text[m[4]:m[5]]
		} else {
			kind = "system_prompt"
			value = text[m[8]:m[9]]
		}
		value = unquote(value)

		params := parseTrailingParams(text, end)
		expandDirective(kind, value, params, seen, presets, allowedCodePaths, &result)

		last = end
	}
	flushPlain(len(text))

	if plain.Len() > 0 {
		result.Parts = append([]models.Part{models.NewText(plain.String())}, result.Parts...)
	}
	return result
}

// isUnderAllowedPath reports whether realpath is equal to, or nested under,
// one of allowed's entries (each resolved the same way). An empty allowed
// list means no restriction.
func isUnderAllowedPath(realpath string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		resolvedAllowed, err := filepath.EvalSymlinks(a)
		if err != nil {
			resolvedAllowed = a
		}
		if absAllowed, err := filepath.Abs(resolvedAllowed); err == nil {
			resolvedAllowed = absAllowed
		}
		if realpath == resolvedAllowed {
			return true
		}
		rel, err := filepath.Rel(resolvedAllowed, realpath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func expandDirective(kind, value string, params map[string]string, seen map[string]bool, presets SystemPromptPresets, allowedCodePaths []string, result *DirectiveResult) {
	switch kind {
	case "image", "pdf", "audio":
		resolved, ok := dedupeRealpath(value, seen)
		if !ok {
			return
		}
		part, err := readBlob(resolved)
		if err != nil {
			result.Parts = append(result.Parts, models.NewText(fmt.Sprintf("Error: %v", err)))
			return
		}
		result.Parts = append(result.Parts, part)
	case "code":
		resolved, ok := dedupeRealpath(value, seen)
		if !ok {
			return
		}
		if !isUnderAllowedPath(resolved, allowedCodePaths) {
			result.Parts = append(result.Parts, models.NewText(fmt.Sprintf("Error: %s is outside the allowed code paths", value)))
			return
		}
		text, err := walkCodeTree(resolved, params)
		if err != nil {
			result.Parts = append(result.Parts, models.NewText(fmt.Sprintf("Error: %v", err)))
			return
		}
		result.Parts = append(result.Parts, models.NewText(text))
	case "project":
		resolved, ok := dedupeRealpath(value, seen)
		if !ok {
			return
		}
		result.ProjectRoot = resolved
		mode := params["project_mode"]
		if preset, ok := presets[mode]; ok {
			result.SystemInstruction = joinInstruction(result.SystemInstruction, preset)
		}
	case "system_prompt":
		if preset, ok := presets[value]; ok {
			result.SystemInstruction = joinInstruction(result.SystemInstruction, preset)
		}
	}
}

func joinInstruction(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n\n" + next
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func parseTrailingParams(text string, from int) map[string]string {
	tail := text[from:]
	if nextDirective := directivePattern.FindStringIndex(tail); nextDirective != nil {
		tail = tail[:nextDirective[0]]
	}
	out := map[string]string{}
	for _, m := range paramPattern.FindAllStringSubmatch(tail, -1) {
		out[m[1]] = unquote(m[2])
	}
	return out
}

// dedupeRealpath resolves value to an absolute, symlink-resolved path and
// reports false if it has already been processed in this request.
func dedupeRealpath(value string, seen map[string]bool) (string, bool) {
	resolved, err := filepath.EvalSymlinks(value)
	if err != nil {
		resolved = value
	}
	abs, err := filepath.Abs(resolved)
	if err == nil {
		resolved = abs
	}
	if seen[resolved] {
		return "", false
	}
	seen[resolved] = true
	return resolved, true
}

func readBlob(path string) (models.Part, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Part{}, err
	}
	if info.Size() > maxBlobBytes {
		return models.Part{}, fmt.Errorf("%s exceeds the %d byte inline-blob cap", filepath.Base(path), maxBlobBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Part{}, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return models.NewInlineBlob(mimeType, data), nil
}

var defaultIgnoreDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "vendor": true, "dist": true, "build": true, ".opengemini": true,
}

func walkCodeTree(root string, params map[string]string) (string, error) {
	ignoreDirs := map[string]bool{}
	for k, v := range defaultIgnoreDirs {
		ignoreDirs[k] = v
	}
	if d := params["ignore_dir"]; d != "" {
		ignoreDirs[d] = true
	}
	ignoreFile := params["ignore_file"]

	var b strings.Builder
	budget := defaultCodeBytes
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if ignoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoreFile != "" && d.Name() == ignoreFile {
			return nil
		}
		if budget <= 0 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || looksBinary(data) {
			return nil
		}
		if len(data) > budget {
			data = data[:budget]
		}
		budget -= len(data)
		rel, _ := filepath.Rel(root, path)
		fmt.Fprintf(&b, "```%s\n%s\n```\n", rel, data)
		return nil
	})
	return b.String(), err
}

func looksBinary(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}
