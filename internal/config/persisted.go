package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/opengemini/gemproxy/internal/mcp"
	"github.com/opengemini/gemproxy/internal/shaping"
)

// rawMCPConfig mirrors mcp.json's on-disk shape: a priority-ordered map of
// server id to its definition, plus the two global toggles the original
// source keeps alongside it. Grounded on
// original_source/app/utils/core/mcp_handler.py's load_mcp_config.
type rawMCPConfig struct {
	MCPServers              map[string]rawMCPServer `json:"mcpServers"`
	MaxFunctionDeclarations int                     `json:"maxFunctionDeclarations"`
	DisableAllTools         bool                    `json:"disableAllTools"`
}

type rawMCPServer struct {
	Enabled   *bool             `json:"enabled"`
	Priority  int               `json:"priority"`
	Transport mcp.TransportType `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	WorkDir   string            `json:"workdir"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
}

// LoadMCPConfig reads <config_dir>/mcp.json, if present, into an mcp.Config
// ready for mcp.NewManager. Servers are ordered by descending priority,
// matching the source's sorted(..., key=priority, reverse=True); a missing
// file yields a disabled, empty config rather than an error, matching the
// source's "No MCP config file found, MCP tools disabled" fallback.
func LoadMCPConfig(path string) (*mcp.Config, int, error) {
	rawMap, err := LoadRaw(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &mcp.Config{}, 0, nil
		}
		return nil, 0, fmt.Errorf("config: load %s: %w", path, err)
	}

	var raw rawMCPConfig
	if err := decodeRawInto(rawMap, &raw); err != nil {
		return nil, 0, fmt.Errorf("config: parse %s: %w", path, err)
	}

	ids := make([]string, 0, len(raw.MCPServers))
	for id := range raw.MCPServers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return raw.MCPServers[ids[i]].Priority > raw.MCPServers[ids[j]].Priority
	})

	cfg := &mcp.Config{Enabled: !raw.DisableAllTools}
	for _, id := range ids {
		entry := raw.MCPServers[id]
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		cfg.Servers = append(cfg.Servers, &mcp.ServerConfig{
			ID:        id,
			Name:      id,
			Transport: entry.Transport,
			Command:   entry.Command,
			Args:      entry.Args,
			Env:       entry.Env,
			WorkDir:   entry.WorkDir,
			URL:       entry.URL,
			Headers:   entry.Headers,
			AutoStart: true,
		})
	}

	maxDecl := raw.MaxFunctionDeclarations
	if maxDecl <= 0 {
		maxDecl = 0
	}
	return cfg, maxDecl, nil
}

// rawProfile mirrors a single prompt.json entry. Grounded on
// original_source/app/utils.py's load_prompt_config.
type rawProfile struct {
	Enabled           *bool             `json:"enabled"`
	Triggers          []string          `json:"triggers"`
	Overrides         map[string]string `json:"overrides"`
	DisableTools      bool              `json:"disable_tools"`
	EnableNativeTools bool              `json:"enable_native_tools"`
	SelectedMCPTools  []string          `json:"selected_mcp_tools"`
}

// LoadProfiles reads <config_dir>/prompt.json into a shaping.Profile slice,
// skipping any entry explicitly disabled. A missing file yields an empty
// table, not an error.
func LoadProfiles(path string) ([]shaping.Profile, error) {
	rawMap, err := LoadRaw(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	var raw map[string]rawProfile
	if err := decodeRawInto(rawMap, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]shaping.Profile, 0, len(names))
	for _, name := range names {
		entry := raw[name]
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		profiles = append(profiles, shaping.Profile{
			Name:              name,
			Triggers:          entry.Triggers,
			DisableTools:      entry.DisableTools,
			SelectedTools:     entry.SelectedMCPTools,
			TextOverrides:     entry.Overrides,
			EnableNativeTools: entry.EnableNativeTools,
		})
	}
	return profiles, nil
}

// rawPromptPreset mirrors a single system_prompts.json / agent_prompts.json
// entry. Grounded on original_source/app/utils.py's
// load_system_prompt_config: only enabled entries with a non-empty prompt
// survive.
type rawPromptPreset struct {
	Enabled *bool  `json:"enabled"`
	Prompt  string `json:"prompt"`
}

// LoadPromptPresets merges one or more preset files (system_prompts.json,
// agent_prompts.json) into a single shaping.SystemPromptPresets, keyed by
// preset name. Later paths win on a name collision. Missing files are
// skipped, not an error.
func LoadPromptPresets(paths ...string) (shaping.SystemPromptPresets, error) {
	presets := shaping.SystemPromptPresets{}
	for _, path := range paths {
		rawMap, err := LoadRaw(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}

		var raw map[string]rawPromptPreset
		if err := decodeRawInto(rawMap, &raw); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		for name, entry := range raw {
			if entry.Enabled != nil && !*entry.Enabled {
				continue
			}
			if entry.Prompt == "" {
				continue
			}
			presets[name] = entry.Prompt
		}
	}
	return presets, nil
}
