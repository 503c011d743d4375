package research

import (
	"context"
	"fmt"
	"time"

	"fathom/internal/executor"
	"fathom/internal/llm"
	"fathom/internal/loop"
	"fathom/internal/run"
	"fathom/internal/tools"
	researchtools "fathom/internal/tools/research"
)

const stepSystemPrompt = `You are a research assistant working on one narrow
sub-query. Use the available tools to find sources, then answer concisely.
Prefer web_search first and kb_search for anything previously saved.`

// LoopRunner executes a research step by driving a fresh tool-calling
// loop over the shared registry and executor. Citations are lifted from
// web_search results in the step's transcript.
type LoopRunner struct {
	client   llm.Client
	executor *executor.Executor
	registry *tools.Registry
	opts     loop.Options
}

// NewLoopRunner creates a step runner.
func NewLoopRunner(client llm.Client, exec *executor.Executor, registry *tools.Registry, opts loop.Options) *LoopRunner {
	opts.System = stepSystemPrompt
	return &LoopRunner{client: client, executor: exec, registry: registry, opts: opts}
}

// RunStep answers one sub-query within the given slice of the session
// budget.
func (r *LoopRunner) RunStep(ctx context.Context, query string, timeout time.Duration) (*StepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc := run.NewContext()
	l := loop.New(r.client, r.executor, r.registry, r.opts)
	outcome, err := l.Run(ctx, rc, query)
	if err != nil {
		return nil, err
	}
	if outcome.Reason == loop.ReasonMaxCycles {
		return nil, tools.Failf(tools.ErrCodeCycleLimitExceeded,
			"step hit the cycle cap after %d cycles without answering", outcome.Cycles)
	}
	if outcome.Reason != loop.ReasonFinalAnswer || outcome.Answer == "" {
		return nil, fmt.Errorf("step ended without an answer (%s)", outcome.Reason)
	}

	return &StepResult{
		Summary:   outcome.Answer,
		Citations: collectCitations(rc.Snapshot()),
	}, nil
}

// collectCitations pulls sources out of the step transcript by parsing
// web_search results back into citations.
func collectCitations(snap run.Snapshot) []run.Citation {
	seen := make(map[string]bool)
	var citations []run.Citation
	add := func(c run.Citation) {
		if c.URL == "" || seen[c.URL] {
			return
		}
		seen[c.URL] = true
		citations = append(citations, c)
	}

	for _, m := range snap.Messages {
		if m.Role != run.RoleTool {
			continue
		}
		switch m.ToolName {
		case "web_search":
			results, err := researchtools.ParseSearchResults(m.Content)
			if err != nil {
				continue
			}
			for _, res := range results {
				add(run.Citation{URL: res.URL, Title: res.Title, Snippet: res.Snippet})
			}
		}
	}
	return citations
}
