package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fathom/internal/budget"
	"fathom/internal/config"
	"fathom/internal/executor"
	"fathom/internal/llm"
	"fathom/internal/logging"
	"fathom/internal/loop"
	"fathom/internal/ratelimit"
	"fathom/internal/research"
	"fathom/internal/run"
	"fathom/internal/store"
	"fathom/internal/tools"
	coretools "fathom/internal/tools/core"
	researchtools "fathom/internal/tools/research"
	shelltools "fathom/internal/tools/shell"
)

var (
	// Global flags
	verbose     bool
	workspace   string
	autoApprove bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fathom",
	Short: "fathom - local research assistant with a tool-calling runtime",
	Long: `fathom is a local LLM assistant built around a hardened tool-calling
runtime: every tool call passes schema validation, confirmation gates,
provider rate limits, and per-run budgets before it executes.

The research command decomposes a question into sub-queries, runs them
under a shared time budget, and synthesizes a cited answer.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// chatCmd answers a single question through the tool-calling loop.
var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Answer a question, calling tools as needed",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

// researchCmd runs a full research session.
var researchCmd = &cobra.Command{
	Use:   "research [question]",
	Short: "Run a multi-step research session with a time budget",
	Long: `Decomposes the question into sub-queries, executes them concurrently
under the configured time budget, and synthesizes a cited answer.
Findings without sources are flagged as unverified.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

// toolsCmd lists the registered tools.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List available tools",
	RunE:  runTools,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().BoolVarP(&autoApprove, "yes", "y", false, "approve gated tool calls without prompting")
	rootCmd.AddCommand(chatCmd, researchCmd, toolsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles everything a run needs.
type runtime struct {
	cfg      *config.Config
	registry *tools.Registry
	executor *executor.Executor
	client   llm.Client
	db       *store.DB
}

// setup loads config, opens the store, and assembles the runtime.
func setup(ctx context.Context, needModel bool) (*runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(cfg.Workspace, cfg.Logging.DebugMode || verbose,
		cfg.Logging.Level, cfg.Logging.Categories); err != nil {
		return nil, fmt.Errorf("initializing file logging: %w", err)
	}
	logging.Boot("fathom starting in %s", cfg.Workspace)

	var db *store.DB
	if db, err = store.Open(ctx, cfg.DatabasePath()); err != nil {
		logger.Warn("store unavailable, continuing without persistence", zap.Error(err))
		db = nil
	}

	registry := tools.NewRegistry()
	if err := coretools.RegisterAll(registry); err != nil {
		return nil, err
	}
	if err := shelltools.RegisterAll(registry); err != nil {
		return nil, err
	}
	var searcher researchtools.NoteSearcher
	if db != nil {
		searcher = db
	}
	if err := researchtools.RegisterAll(registry, searcher); err != nil {
		return nil, err
	}

	limiter := ratelimit.NewManager(cfg.Limits.RateLimitCalls, cfg.Limits.RateWindow(), cfg.Limits.ProviderRateLimits)
	tracker := budget.NewTracker(budget.Caps{
		MaxCalls:         cfg.Limits.MaxToolCalls,
		MaxCallsPerTool:  cfg.Limits.MaxCallsPerTool,
		PerToolOverrides: cfg.Limits.PerToolOverrides,
		MaxOutputBytes:   cfg.Limits.MaxOutputBytes,
		MaxDuration:      cfg.Limits.RunTimeout(),
	})
	confirmer, err := executor.NewConfirmer()
	if err != nil {
		return nil, err
	}
	exec := executor.New(registry, limiter, tracker, confirmer,
		cfg.Limits.ToolTimeout(), cfg.Limits.MaxResultBytes)

	var client llm.Client
	if needModel {
		client, err = llm.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model,
			time.Duration(cfg.LLM.Timeout)*time.Second)
		if err != nil {
			return nil, err
		}
	}

	return &runtime{cfg: cfg, registry: registry, executor: exec, client: client, db: db}, nil
}

func (rt *runtime) close() {
	if rt.db != nil {
		rt.db.Close()
	}
}

// promptMu serializes approval prompts when parallel steps ask at once.
var promptMu sync.Mutex

// approver mints confirmation tokens for gated tools, asking on stdin
// unless --yes was given. An empty return declines the call.
func approver(exec *executor.Executor) func(tool, callID string) string {
	return func(tool, callID string) string {
		if autoApprove {
			return exec.Confirmer().Token(tool, callID)
		}

		promptMu.Lock()
		defer promptMu.Unlock()
		fmt.Fprintf(os.Stderr, "Tool %q wants to run (call %s). Allow? [y/N] ", tool, callID)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return ""
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return exec.Confirmer().Token(tool, callID)
		}
		return ""
	}
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer rt.close()

	query := joinArgs(args)
	rc := run.NewContext()
	if rt.db != nil {
		if err := rt.db.BeginRun(ctx, rc.ID(), "chat", query); err != nil {
			logger.Warn("failed to record run", zap.Error(err))
		}
	}

	l := loop.New(rt.client, rt.executor, rt.registry, loop.Options{
		System:      "You are a careful assistant. Use tools when they help; answer directly when they do not.",
		MaxCycles:   rt.cfg.Limits.MaxCycles,
		MaxParallel: int64(rt.cfg.Limits.MaxParallelCalls),
		Approve:     approver(rt.executor),
	})

	outcome, err := l.Run(ctx, rc, query)
	if rt.db != nil {
		status := "completed"
		if outcome == nil || outcome.Reason != loop.ReasonFinalAnswer {
			status = "failed"
		}
		if serr := rt.db.FinishRun(context.Background(), rc.Snapshot(), status); serr != nil {
			logger.Warn("failed to persist run", zap.Error(serr))
		}
	}
	if err != nil {
		return err
	}

	switch outcome.Reason {
	case loop.ReasonFinalAnswer:
		fmt.Println(outcome.Answer)
	case loop.ReasonMaxCycles:
		return fmt.Errorf("no answer after %d cycles", outcome.Cycles)
	case loop.ReasonBudgetExhausted:
		return fmt.Errorf("tool budget exhausted after %d cycles", outcome.Cycles)
	case loop.ReasonCancelled:
		return fmt.Errorf("cancelled")
	}
	return nil
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer rt.close()

	query := joinArgs(args)
	rcfg := rt.cfg.Research

	runner := research.NewLoopRunner(rt.client, rt.executor, rt.registry, loop.Options{
		MaxCycles:   rt.cfg.Limits.MaxCycles,
		MaxParallel: int64(rt.cfg.Limits.MaxParallelCalls),
		Approve:     approver(rt.executor),
	})
	var checkpoint func(research.Progress)
	if rt.db != nil {
		checkpoint = func(p research.Progress) {
			done := 0
			for _, s := range p.Steps {
				if s.Status == research.StepSucceeded || s.Status == research.StepFailed {
					done++
				}
			}
			if err := rt.db.SaveSession(context.Background(), p.ID, p.Query,
				string(p.State), done, len(p.Steps)); err != nil {
				logger.Warn("failed to checkpoint session", zap.Error(err))
			}
		}
	}

	o := research.New(
		research.NewDecomposer(rt.client, rcfg.MaxSteps),
		runner,
		research.NewSynthesizer(rt.client),
		research.Options{
			TotalBudget:    rcfg.TotalBudget(),
			MaxSteps:       rcfg.MaxSteps,
			MaxStepRetries: rcfg.MaxStepRetries,
			MaxConcurrent:  rcfg.MaxConcurrentSteps,
			MinStepSlice:   rcfg.MinStepSlice(),
			Checkpoint:     checkpoint,
		})

	// Progress ticker on stderr while the session runs.
	done := make(chan struct{})
	go reportProgress(o, done)

	report, err := o.Run(ctx, query)
	close(done)
	if err != nil {
		return err
	}

	fmt.Println(report.Answer)
	fmt.Fprintf(os.Stderr, "\n%s in %s (%d steps, %d sources)\n",
		report.State, report.Elapsed.Round(time.Second), len(report.Steps), len(report.Citations))

	if rt.db != nil {
		saveFindings(ctx, rt.db, report)
	}
	return nil
}

// reportProgress prints step status lines until done closes.
func reportProgress(o *research.Orchestrator, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p := o.Progress()
			if p.State != research.StateExecuting {
				continue
			}
			counts := map[research.StepStatus]int{}
			for _, s := range p.Steps {
				counts[s.Status]++
			}
			fmt.Fprintf(os.Stderr, "[%s] %d running, %d done, %d failed (%s elapsed)\n",
				p.State, counts[research.StepRunning]+counts[research.StepRetrying],
				counts[research.StepSucceeded], counts[research.StepFailed],
				p.Elapsed.Round(time.Second))
		}
	}
}

// saveFindings stores succeeded step summaries as knowledge-base notes.
func saveFindings(ctx context.Context, db *store.DB, report *research.Report) {
	for _, s := range report.Steps {
		if s.Status != research.StepSucceeded || s.Unverified {
			continue
		}
		source := ""
		if len(s.Citations) > 0 {
			source = s.Citations[0].URL
		}
		if _, err := db.AddNote(ctx, s.Query, s.Summary, source); err != nil {
			logger.Warn("failed to save note", zap.Error(err))
		}
	}
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tPROVIDER\tGATED\tDESCRIPTION")
	for _, t := range rt.registry.List() {
		gated := ""
		if t.RequiresConfirmation {
			gated = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Name, t.Category, t.Provider, gated, t.Description)
	}
	return w.Flush()
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
