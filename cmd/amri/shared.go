package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/wanjiru/amri/internal/agent"
	"github.com/wanjiru/amri/internal/config"
	"github.com/wanjiru/amri/internal/executor"
	"github.com/wanjiru/amri/internal/history"
	"github.com/wanjiru/amri/internal/llm"
	"github.com/wanjiru/amri/internal/llm/ollama"
	"github.com/wanjiru/amri/internal/observability"
	"github.com/wanjiru/amri/internal/safety"
	"github.com/wanjiru/amri/internal/sandbox"
)

// Exit codes shared by the run and exec commands.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitCancelled   = 2 // User declined a dangerous command.
	ExitUnavailable = 3 // Ollama or the model is unreachable.
)

// components holds the initialized subsystems every command needs.
// Built once by initComponents, torn down by Cleanup.
type components struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *observability.MetricsCollector
	Provider   *ollama.Client
	SandboxMgr *sandbox.Manager
	Assistant  *agent.Assistant

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// initComponents performs the common initialization shared by all commands.
// Callers must call Cleanup when done.
func initComponents() (*components, error) {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("AMRI_CONFIG", configPath))
	if err != nil {
		return nil, err
	}

	c := &components{Config: cfg, Logger: logger}

	// Metrics. Collected in-process always; served only when configured.
	metrics := observability.NewMetricsCollector()
	c.Metrics = metrics
	if cfg.Observability != nil && cfg.Observability.MetricsAddr != "" {
		srvCtx, cancel := context.WithCancel(context.Background())
		c.addCleanup(cancel)
		go func() {
			if err := metrics.Serve(srvCtx, cfg.Observability.MetricsAddr, logger); err != nil {
				logger.Warn("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	// LLM provider.
	providerOpts := []ollama.Option{
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout()}),
		ollama.WithOptions(ollama.Options{
			Temperature: cfg.LLM.Temperature,
			NumPredict:  cfg.LLM.NumPredict,
			NumCtx:      cfg.LLM.NumCtx,
		}),
	}
	if cfg.LLM.BaseURL != "" {
		providerOpts = append(providerOpts, ollama.WithBaseURL(cfg.LLM.BaseURL))
	}
	c.Provider = ollama.NewClient(cfg.LLM.ModelName(), logger, providerOpts...)

	// Safety classifier.
	analyzer, err := safety.NewAnalyzer(safety.Rules{
		SafeCommands:      cfg.Safety.SafeCommands,
		ModerateCommands:  cfg.Safety.ModerateCommands,
		DangerousPatterns: cfg.Safety.DangerousPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("compiling safety rules: %w", err)
	}

	// Container runtime. Failure to connect is not fatal: commands that
	// need the sandbox get a diagnostic outcome instead.
	var rt sandbox.Runtime
	if dr, derr := sandbox.NewDockerRuntime(logger); derr != nil {
		logger.Warn("docker unavailable, sandboxed execution disabled",
			slog.String("error", derr.Error()),
		)
	} else {
		rt = dr
		c.addCleanup(func() { _ = dr.Close() })
	}

	memBytes, err := cfg.Sandbox.MemoryBytes()
	if err != nil {
		return nil, err
	}
	mgr := sandbox.NewManager(rt, sandbox.Config{
		Image: cfg.Sandbox.SandboxImage(),
		Limits: sandbox.Limits{
			MemoryBytes: memBytes,
			CPUCores:    cfg.Sandbox.CPUs(),
			PIDs:        cfg.Sandbox.PIDs(),
		},
		NetworkAllowed:   cfg.Sandbox.NetworkAllowed,
		ReuseSession:     cfg.Sandbox.ReuseSession,
		DefaultTimeout:   cfg.Sandbox.MaxExecution(),
		StopGraceSeconds: cfg.Sandbox.StopGraceSeconds,
	}, logger, metrics)
	c.SandboxMgr = mgr
	c.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		mgr.Shutdown(shutdownCtx)
	})

	host := sandbox.NewHostExecutor(cfg.Sandbox.MaxExecution(), logger)
	exec := executor.New(host, mgr, executor.Config{
		RunModerateOnHost: cfg.Safety.RunModerateOnHost,
		DefaultTimeout:    cfg.Sandbox.MaxExecution(),
	}, logger, metrics)

	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	asst := agent.NewAssistant(c.Provider, analyzer, exec, workDir, logger).WithMetrics(metrics)

	if !cfg.Cache.Disabled {
		asst.WithCache(llm.NewCache(cfg.Cache.Size, metrics))
	}

	if cfg.History != nil {
		store, herr := history.Open(history.Config{
			Path:        cfg.HistoryPath(),
			JournalMode: cfg.History.Journal(),
		}, logger)
		if herr != nil {
			return nil, fmt.Errorf("opening history: %w", herr)
		}
		if merr := store.Migrate(context.Background()); merr != nil {
			return nil, fmt.Errorf("migrating history: %w", merr)
		}
		c.addCleanup(func() { _ = store.Close() })
		asst.WithHistory(store, cfg.History.ContextSize())
	}

	c.Assistant = asst
	return c, nil
}

// newLogger builds the process logger. Debug flag wins over AMRI_LOG_LEVEL.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debugMode || goutils.Env("AMRI_LOG_LEVEL", "") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
