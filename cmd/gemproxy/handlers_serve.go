package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opengemini/gemproxy/internal/agent"
	"github.com/opengemini/gemproxy/internal/cache"
	"github.com/opengemini/gemproxy/internal/config"
	"github.com/opengemini/gemproxy/internal/credential"
	"github.com/opengemini/gemproxy/internal/gateway"
	"github.com/opengemini/gemproxy/internal/mcp"
	"github.com/opengemini/gemproxy/internal/shaping"
	"github.com/opengemini/gemproxy/internal/tools/builtin"
	toolexec "github.com/opengemini/gemproxy/internal/tools/exec"
	"github.com/opengemini/gemproxy/internal/tools/files"
	"github.com/opengemini/gemproxy/internal/tools/vcs"
	"github.com/opengemini/gemproxy/internal/upstream"
	"github.com/opengemini/gemproxy/internal/usage"
)

func runServe(ctx context.Context, configDir, addr string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting gemproxy", "version", version, "commit", commit, "config_dir", configDir, "debug", debug)

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	cfg, err := config.LoadFromEnv(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("configuration loaded",
		"upstream_url", cfg.UpstreamURL,
		"server_host", cfg.ServerHost,
		"server_port", cfg.ServerPort,
	)

	credentials, err := credential.Open(filepath.Join(configDir, "api_keys.json"))
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if len(cfg.AllowedCodePaths) > 0 {
		workspace = cfg.AllowedCodePaths[0]
	}

	registry := agent.NewToolRegistry()
	registerBuiltinTools(registry, workspace)

	mcpCfg, maxFunctionDeclarations, err := config.LoadMCPConfig(filepath.Join(configDir, "mcp.json"))
	if err != nil {
		return fmt.Errorf("failed to load mcp config: %w", err)
	}
	mcpManager := mcp.NewManager(mcpCfg, slog.Default())
	if mcpCfg.Enabled && len(mcpCfg.Servers) > 0 {
		if err := mcpManager.Start(ctx); err != nil {
			slog.Warn("mcp manager failed to start all servers", "error", err)
		}
		registered := mcp.RegisterTools(registry, mcpManager)
		slog.Info("mcp tools registered", "count", len(registered))
	}
	if maxFunctionDeclarations > 0 {
		cfg.MaxFunctionDeclarations = maxFunctionDeclarations
	}

	profiles, err := config.LoadProfiles(filepath.Join(configDir, "prompt.json"))
	if err != nil {
		return fmt.Errorf("failed to load prompt profiles: %w", err)
	}
	presets, err := config.LoadPromptPresets(
		filepath.Join(configDir, "system_prompts.json"),
		filepath.Join(configDir, "agent_prompts.json"),
	)
	if err != nil {
		return fmt.Errorf("failed to load prompt presets: %w", err)
	}
	profileTable := shaping.NewProfileTable(profiles)

	toolCache := cache.NewToolOutputCache(cache.ToolCacheTTL, cache.ToolCacheTargetSize)
	dispatcher := agent.NewDispatcher(registry, toolCache, agent.DispatcherConfig{})
	executor := agent.NewExecutor(dispatcher, agent.DefaultExecutorConfig())

	usageStore, err := usage.Open(filepath.Join(configDir, "usage.db"), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open usage store: %w", err)
	}
	defer usageStore.Close()

	clientCfg := upstream.DefaultClientConfig(cfg.UpstreamURL)
	client := upstream.NewClient(clientCfg, slog.Default())

	orchestratorCfg := agent.DefaultOrchestratorConfig()
	orchestratorCfg.DefaultModel = "gemini-2.0-flash"
	orchestratorCfg.MaxIterations = cfg.MaxToolLoopIterations
	orchestratorCfg.MaxFunctionDeclarations = cfg.MaxFunctionDeclarations
	orchestratorCfg.MinContextCachingTokens = cfg.MinContextCachingTokens
	orchestratorCfg.AllowedCodePaths = cfg.AllowedCodePaths
	orchestratorCfg.SystemPromptPresets = presets
	orchestratorCfg.UsageRecorder = usageStore

	orchestrator := agent.NewOrchestrator(
		client,
		cfg.UpstreamURL,
		cache.NewContextCache(),
		registry,
		executor,
		profileTable,
		orchestratorCfg,
		slog.Default(),
	)

	configStore := config.NewStore(cfg)
	server := gateway.New(orchestrator, client, cfg.UpstreamURL, credentials, configStore, slog.Default())

	listenAddr := addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx, listenAddr)
	}()

	slog.Info("gemproxy started", "addr", listenAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
		<-ctx.Done()
	}

	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if mcpCfg.Enabled {
		if err := mcpManager.Stop(); err != nil {
			slog.Warn("mcp manager shutdown error", "error", err)
		}
	}

	server.Stop(shutdownCtx)

	slog.Info("gemproxy stopped gracefully")
	return nil
}

// registerBuiltinTools wires the local tools that need no external process
// beyond the shell itself: the echo smoke-test tool, shell execution, and
// the file family (read/write/create/edit/diff/list/search/patch), plus
// read-only VCS inspection. workspace is the boot-time default root; a
// project_path= directive on an individual request overrides it per call via
// agent.ProjectRootFromContext (see files.Resolver.ResolveContext).
func registerBuiltinTools(registry *agent.ToolRegistry, workspace string) {
	registry.Register(builtin.NewEchoTool())

	execManager := toolexec.NewManager(workspace)
	registry.Register(toolexec.NewExecTool("execute_command", execManager))
	registry.Register(toolexec.NewProcessTool(execManager))

	filesCfg := files.Config{Workspace: workspace, MaxReadBytes: 256 << 10}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewCreateFileTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewDiffFilesTool(filesCfg))
	registry.Register(files.NewListFilesTool(filesCfg))
	registry.Register(files.NewListSymbolsTool(filesCfg))
	registry.Register(files.NewSearchTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	registry.Register(vcs.New(execManager))
}
