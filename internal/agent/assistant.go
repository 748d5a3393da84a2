package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wanjiru/amri/internal/executor"
	"github.com/wanjiru/amri/internal/history"
	"github.com/wanjiru/amri/internal/llm"
	"github.com/wanjiru/amri/internal/observability"
	"github.com/wanjiru/amri/internal/safety"
)

// ErrEmptyInput is returned when the user submits a blank request.
var ErrEmptyInput = errors.New("empty input")

// ErrNothingToRepeat is returned by RepeatLast before any command has run.
var ErrNothingToRepeat = errors.New("no previous command to repeat")

// Assistant turns natural language into classified, routed shell commands.
type Assistant struct {
	provider llm.Provider
	analyzer *safety.Analyzer
	exec     *executor.Executor
	logger   *slog.Logger

	cache       *llm.Cache                      // optional
	store       *history.Store                  // optional
	metrics     *observability.MetricsCollector // optional
	confirmer   Confirmer                       // optional; nil = no confirmation gate
	contextSize int

	mu          sync.Mutex
	workDir     string
	lastCommand string
	lastOutput  string
}

// NewAssistant creates an assistant rooted at workDir.
func NewAssistant(provider llm.Provider, analyzer *safety.Analyzer, exec *executor.Executor, workDir string, logger *slog.Logger) *Assistant {
	return &Assistant{
		provider:    provider,
		analyzer:    analyzer,
		exec:        exec,
		workDir:     workDir,
		logger:      logger,
		contextSize: 5,
	}
}

// WithCache enables the generation cache.
func (a *Assistant) WithCache(c *llm.Cache) *Assistant {
	a.cache = c
	return a
}

// WithHistory enables exchange persistence and conversational context.
func (a *Assistant) WithHistory(s *history.Store, contextSize int) *Assistant {
	a.store = s
	if contextSize > 0 {
		a.contextSize = contextSize
	}
	return a
}

// WithConfirmer gates dangerous commands behind user approval.
func (a *Assistant) WithConfirmer(c Confirmer) *Assistant {
	a.confirmer = c
	return a
}

// WithMetrics enables Prometheus counters.
func (a *Assistant) WithMetrics(m *observability.MetricsCollector) *Assistant {
	a.metrics = m
	return a
}

// WorkDir returns the current working directory.
func (a *Assistant) WorkDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workDir
}

// ChangeDirectory moves the assistant's working directory. The sandbox
// session rebinds to the new directory on the next sandboxed command.
func (a *Assistant) ChangeDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("changing directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("changing directory: %s is not a directory", dir)
	}
	a.mu.Lock()
	a.workDir = dir
	a.mu.Unlock()
	return nil
}

// Handle processes one natural language input end to end: generate (or pull
// from cache), classify, confirm when dangerous, route, execute, record.
func (a *Assistant) Handle(ctx context.Context, input string) (*Result, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	gen, cached, err := a.generate(ctx, input)
	if err != nil {
		a.recordGeneration("error")
		return nil, err
	}

	if gen.IsQuestion() {
		a.recordGeneration("question")
		res := &Result{Input: input, Answer: gen.Answer}
		a.persist(ctx, res)
		return res, nil
	}

	return a.runCommand(ctx, input, gen.Command, cached)
}

// RunCommand classifies and executes a literal shell command, skipping
// generation entirely.
func (a *Assistant) RunCommand(ctx context.Context, command string) (*Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrEmptyInput
	}
	return a.runCommand(ctx, command, command, false)
}

// RepeatLast re-runs the most recent command through classification and
// routing again.
func (a *Assistant) RepeatLast(ctx context.Context) (*Result, error) {
	a.mu.Lock()
	last := a.lastCommand
	a.mu.Unlock()
	if last == "" {
		return nil, ErrNothingToRepeat
	}
	return a.runCommand(ctx, last, last, false)
}

// ExplainLast asks the model to describe the most recent command and its
// output in plain language.
func (a *Assistant) ExplainLast(ctx context.Context) (string, error) {
	a.mu.Lock()
	command, output := a.lastCommand, a.lastOutput
	a.mu.Unlock()
	if command == "" {
		return "", ErrNothingToRepeat
	}
	return a.provider.Explain(ctx, command, output)
}

// generate resolves an input to a Generation, consulting the cache for
// context-free requests.
func (a *Assistant) generate(ctx context.Context, input string) (*llm.Generation, bool, error) {
	var historyLines []string
	if a.store != nil {
		lines, err := a.store.RecentContext(ctx, a.contextSize)
		if err != nil {
			a.logger.Warn("loading context failed", slog.String("error", err.Error()))
		} else {
			historyLines = lines
		}
	}

	req := &llm.Request{Input: input, History: historyLines, WorkDir: a.WorkDir()}

	// Only context-free requests hit the cache: with history in play the
	// same words can mean a different command.
	cacheable := a.cache != nil && !req.Contextual()
	if cacheable {
		if gen, ok := a.cache.Get(input); ok {
			a.recordGeneration("cached")
			return gen, true, nil
		}
	}

	gen, err := a.provider.GenerateCommand(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("generating command: %w", err)
	}
	a.recordGeneration("ok")

	if cacheable && !gen.IsQuestion() {
		a.cache.Put(input, gen)
	}
	return gen, false, nil
}

func (a *Assistant) runCommand(ctx context.Context, input, command string, cached bool) (*Result, error) {
	tier, reason := a.analyzer.Classify(command)
	if a.metrics != nil {
		a.metrics.ClassificationsTotal.WithLabelValues(tier.String()).Inc()
	}
	a.logger.Debug("command classified",
		slog.String("command", command),
		slog.String("tier", tier.String()),
		slog.String("reason", reason),
	)

	res := &Result{Input: input, Command: command, Tier: tier, Cached: cached}

	if tier.RequiresConfirmation() && a.confirmer != nil {
		ok, err := a.confirmer.Confirm(command)
		if err != nil {
			return nil, fmt.Errorf("confirming command: %w", err)
		}
		if !ok {
			a.logger.Info("command declined", slog.String("command", command))
			res.Cancelled = true
			a.persist(ctx, res)
			return res, nil
		}
	}

	start := time.Now()
	res.Outcome = a.exec.Execute(ctx, command, tier, a.WorkDir(), 0)

	a.mu.Lock()
	a.lastCommand = command
	a.lastOutput = res.Outcome.Stdout
	a.mu.Unlock()

	a.logger.Info("command executed",
		slog.String("tier", tier.String()),
		slog.Int("exit_code", res.Outcome.ExitCode),
		slog.Bool("isolated", res.Outcome.Isolated),
		slog.Duration("duration", time.Since(start)),
	)

	a.persist(ctx, res)
	return res, nil
}

// persist records the exchange, best-effort. History failures never fail the
// user's request.
func (a *Assistant) persist(ctx context.Context, res *Result) {
	if a.store == nil {
		return
	}
	e := &history.Exchange{
		Input:   res.Input,
		Command: res.Command,
		Answer:  res.Answer,
		WorkDir: a.WorkDir(),
		Cached:  res.Cached,
	}
	if res.Command != "" {
		e.Tier = res.Tier.String()
	}
	if res.Outcome != nil {
		e.ExitCode = res.Outcome.ExitCode
		e.Isolated = res.Outcome.Isolated
		e.DurationMS = res.Outcome.Duration.Milliseconds()
	}
	if err := a.store.Record(ctx, e); err != nil {
		a.logger.Warn("recording exchange failed", slog.String("error", err.Error()))
	}
}

func (a *Assistant) recordGeneration(status string) {
	if a.metrics != nil {
		a.metrics.GenerationsTotal.WithLabelValues(status).Inc()
	}
}
