// Package loop drives the conversation between the model and the tool
// executor: send the transcript, execute whatever calls come back, feed
// the results in, repeat until the model answers or a limit lands.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"fathom/internal/executor"
	"fathom/internal/llm"
	"fathom/internal/logging"
	"fathom/internal/run"
	"fathom/internal/tools"
)

// TerminationReason says why a run stopped.
type TerminationReason string

const (
	// ReasonFinalAnswer means the model produced an answer.
	ReasonFinalAnswer TerminationReason = "final_answer"

	// ReasonMaxCycles means the cycle cap was hit before an answer.
	ReasonMaxCycles TerminationReason = "max_cycles"

	// ReasonBudgetExhausted means every remaining call was rejected on
	// budget and the model could make no further progress.
	ReasonBudgetExhausted TerminationReason = "budget_exhausted"

	// ReasonCancelled means the caller cancelled the run.
	ReasonCancelled TerminationReason = "cancelled"

	// ReasonModelError means the model itself failed.
	ReasonModelError TerminationReason = "model_error"
)

// Outcome is the result of one loop run.
type Outcome struct {
	Answer string
	Reason TerminationReason
	Cycles int
}

// Options configures a loop.
type Options struct {
	// System is the system instruction sent with every turn.
	System string

	// MaxCycles caps model round trips per run.
	MaxCycles int

	// MaxParallel bounds concurrent tool execution within one cycle.
	MaxParallel int64

	// Approve resolves confirmation tokens for gated tools. It is asked
	// once per refused call and returns the token, or empty to decline.
	// Nil means gated calls fail with confirmation_required.
	Approve func(tool, callID string) string
}

// Loop owns one conversation's control flow. Construct per run.
type Loop struct {
	client   llm.Client
	executor *executor.Executor
	registry *tools.Registry
	opts     Options
}

// New creates a loop.
func New(client llm.Client, exec *executor.Executor, registry *tools.Registry, opts Options) *Loop {
	if opts.MaxCycles <= 0 {
		opts.MaxCycles = 12
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	return &Loop{client: client, executor: exec, registry: registry, opts: opts}
}

// Run converses until the model answers, a cap lands, or ctx is
// cancelled. The run context receives the full transcript either way.
func (l *Loop) Run(ctx context.Context, rc *run.Context, query string) (*Outcome, error) {
	rc.AppendMessage(run.Message{Role: run.RoleUser, Content: query})
	history := []llm.Message{{Role: llm.RoleUser, Text: query}}
	available := l.registry.List()

	// partial is the model's latest prose, returned when a cap lands
	// before a proper answer does.
	var partial string

	for cycle := 1; cycle <= l.opts.MaxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			logging.Loop("run %s cancelled at cycle %d", rc.ID(), cycle)
			return &Outcome{Reason: ReasonCancelled, Cycles: cycle - 1}, nil
		}

		turn, err := l.client.Generate(ctx, l.opts.System, history, available)
		if err != nil {
			if ctx.Err() != nil {
				return &Outcome{Reason: ReasonCancelled, Cycles: cycle - 1}, nil
			}
			logging.Loop("run %s model error at cycle %d: %v", rc.ID(), cycle, err)
			return &Outcome{Reason: ReasonModelError, Cycles: cycle}, fmt.Errorf("model turn %d: %w", cycle, err)
		}

		if len(turn.ToolCalls) == 0 {
			rc.AppendMessage(run.Message{Role: run.RoleAssistant, Content: turn.Text})
			rc.SetFinalAnswer(turn.Text)
			logging.Loop("run %s answered after %d cycles", rc.ID(), cycle)
			return &Outcome{Answer: turn.Text, Reason: ReasonFinalAnswer, Cycles: cycle}, nil
		}

		history = append(history, llm.Message{
			Role:      llm.RoleModel,
			Text:      turn.Text,
			ToolCalls: turn.ToolCalls,
		})
		if turn.Text != "" {
			partial = turn.Text
			rc.AppendMessage(run.Message{Role: run.RoleAssistant, Content: turn.Text})
		}

		results := l.executeCalls(ctx, rc, turn.ToolCalls)

		budgetDead := true
		for i, call := range turn.ToolCalls {
			res := results[i]
			history = append(history, llm.Message{
				Role:     llm.RoleTool,
				ToolName: call.Name,
				CallID:   call.ID,
				Response: resultPayload(res),
			})
			if res.OK || res.Error.Code != tools.ErrCodeBudgetExceeded {
				budgetDead = false
			}
		}

		if budgetDead {
			logging.Loop("run %s stopped at cycle %d: budget exhausted", rc.ID(), cycle)
			return &Outcome{Answer: partial, Reason: ReasonBudgetExhausted, Cycles: cycle}, nil
		}
	}

	logging.Loop("run %s hit cycle cap (%d)", rc.ID(), l.opts.MaxCycles)
	return &Outcome{Answer: partial, Reason: ReasonMaxCycles, Cycles: l.opts.MaxCycles}, nil
}

// executeCalls runs a cycle's calls, in parallel when every call's tool
// is flagged safe for it, bounded by the semaphore. Result order always
// matches call order.
func (l *Loop) executeCalls(ctx context.Context, rc *run.Context, calls []llm.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))

	if len(calls) > 1 && l.opts.MaxParallel > 1 && l.allParallelizable(calls) {
		sem := semaphore.NewWeighted(l.opts.MaxParallel)
		var wg sync.WaitGroup
		for i, call := range calls {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = tools.Failed(tools.Failf(tools.ErrCodeExecutionFailed, "cancelled: %v", err), tools.Meta{})
				continue
			}
			wg.Add(1)
			go func(i int, call llm.ToolCall) {
				defer wg.Done()
				defer sem.Release(1)
				results[i] = l.runOne(ctx, rc, call)
			}(i, call)
		}
		wg.Wait()
		return results
	}

	for i, call := range calls {
		results[i] = l.runOne(ctx, rc, call)
	}
	return results
}

func (l *Loop) allParallelizable(calls []llm.ToolCall) bool {
	for _, call := range calls {
		tool, ok := l.registry.Get(call.Name)
		if !ok || !tool.Parallelizable {
			return false
		}
	}
	return true
}

func (l *Loop) runOne(ctx context.Context, rc *run.Context, call llm.ToolCall) tools.Result {
	logging.LoopDebug("run %s executing %s (%s)", rc.ID(), call.Name, call.ID)
	res := l.executor.Execute(ctx, executor.Call{
		CallID: call.ID,
		Tool:   call.Name,
		Args:   call.Args,
	})

	// A gated refusal goes to the approver once; an approval re-runs
	// the call with the minted token, a decline stands as the result.
	if !res.OK && res.Error.Code == tools.ErrCodeConfirmationRequired && l.opts.Approve != nil {
		if token := l.opts.Approve(call.Name, call.ID); token != "" {
			logging.Loop("run %s call %s approved for %s", rc.ID(), call.ID, call.Name)
			res = l.executor.Execute(ctx, executor.Call{
				CallID:       call.ID,
				Tool:         call.Name,
				Args:         call.Args,
				ConfirmToken: token,
			})
		}
	}

	content := res.Data
	if !res.OK {
		content = res.Error.Error()
	}
	rc.AppendMessage(run.Message{
		Role:     run.RoleTool,
		Content:  content,
		ToolName: call.Name,
		CallID:   call.ID,
	})
	return res
}

// resultPayload renders the envelope as the generic map the provider
// wire format wants.
func resultPayload(res tools.Result) map[string]any {
	data, err := json.Marshal(res)
	if err != nil {
		return map[string]any{"ok": false, "error": map[string]any{
			"code": string(tools.ErrCodeExecutionFailed), "message": err.Error(),
		}}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"ok": res.OK}
	}
	return out
}
