// Package shaping implements the request-shaping stage of the chat loop:
// prompt-profile matching, inline path-directive expansion, and
// budget-driven context windowing, run before a conversation is translated
// to the upstream wire schema.
package shaping

import "strings"

// Profile is one entry of the persisted prompt-profile table
// (<config_dir>/prompt.json): a set of triggers that activate it, plus the
// tool-advertising and text-override effects it applies once active.
type Profile struct {
	Name          string
	Triggers      []string
	DisableTools  bool
	SelectedTools []string
	TextOverrides map[string]string

	// EnableNativeTools forces tool advertising on for this profile even
	// when DisableTools would otherwise suppress every declared tool
	// (e.g. a profile that disables MCP tools but still wants the local
	// built-ins available).
	EnableNativeTools bool
}

// ProfileTable holds the active profile set in insertion order; at most one
// profile activates per request (first trigger match wins), mirroring the
// teacher's naming.ToolRegistry first-match convention applied here to
// profile activation instead of tool aliasing.
type ProfileTable struct {
	profiles []Profile
}

// NewProfileTable builds a table from profiles, preserving order.
func NewProfileTable(profiles []Profile) *ProfileTable {
	return &ProfileTable{profiles: profiles}
}

// Match returns the first profile whose trigger is a substring of text
// (case-insensitive), or ok=false if none match.
func (t *ProfileTable) Match(text string) (Profile, bool) {
	if t == nil {
		return Profile{}, false
	}
	lower := strings.ToLower(text)
	for _, p := range t.profiles {
		for _, trigger := range p.Triggers {
			if trigger == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(trigger)) {
				return p, true
			}
		}
	}
	return Profile{}, false
}

// ApplyTextOverrides performs literal find/replace on text using the
// profile's override table. Applied only to string content before any
// path-directive expansion runs.
func (p Profile) ApplyTextOverrides(text string) string {
	for find, replace := range p.TextOverrides {
		if find == "" {
			continue
		}
		text = strings.ReplaceAll(text, find, replace)
	}
	return text
}
