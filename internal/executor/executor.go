// Package executor runs individual tool calls through the full gate
// sequence: resolution, argument validation, confirmation, rate limit,
// budget, timeout, truncation, and accounting. Every outcome, success or
// failure, comes back as a result envelope.
package executor

import (
	"context"
	"errors"
	"time"

	"fathom/internal/budget"
	"fathom/internal/logging"
	"fathom/internal/ratelimit"
	"fathom/internal/tools"
)

// Call is one tool invocation request.
type Call struct {
	// CallID identifies the request, usually assigned by the model turn.
	CallID string

	// Tool names the registered tool to run.
	Tool string

	// Args are the raw arguments before validation.
	Args map[string]any

	// ConfirmToken approves a gated tool. Empty for ungated tools.
	ConfirmToken string
}

// Executor runs calls against a registry under shared limits. One
// executor serves a whole run; it is safe for concurrent use.
type Executor struct {
	registry  *tools.Registry
	validator *tools.Validator
	limiter   *ratelimit.Manager
	tracker   *budget.Tracker
	confirmer *Confirmer

	// toolTimeout bounds each invocation.
	toolTimeout time.Duration

	// maxResultBytes is the per-result truncation threshold.
	maxResultBytes int64
}

// New assembles an executor.
func New(
	registry *tools.Registry,
	limiter *ratelimit.Manager,
	tracker *budget.Tracker,
	confirmer *Confirmer,
	toolTimeout time.Duration,
	maxResultBytes int64,
) *Executor {
	return &Executor{
		registry:       registry,
		validator:      tools.NewValidator(),
		limiter:        limiter,
		tracker:        tracker,
		confirmer:      confirmer,
		toolTimeout:    toolTimeout,
		maxResultBytes: maxResultBytes,
	}
}

// Confirmer exposes the token issuer so a frontend can mint approvals.
func (e *Executor) Confirmer() *Confirmer { return e.confirmer }

// Execute runs one call through every gate. Classified failures are
// returned inside the envelope, never as a Go error; the error return is
// reserved for a cancelled parent context.
func (e *Executor) Execute(ctx context.Context, call Call) tools.Result {
	start := time.Now()
	fail := func(f *tools.Failure) tools.Result {
		logging.Executor("call %s tool=%s failed: %s", call.CallID, call.Tool, f.Error())
		return tools.Failed(f, tools.Meta{ElapsedMS: time.Since(start).Milliseconds()})
	}

	tool, ok := e.registry.Get(call.Tool)
	if !ok {
		return fail(tools.Failf(tools.ErrCodeToolNotFound, "no tool named %q is registered", call.Tool))
	}

	if err := e.validator.ValidateArgs(tool, call.Args); err != nil {
		return fail(tools.AsFailure(err))
	}

	if tool.RequiresConfirmation {
		if !e.confirmer.Verify(tool.Name, call.CallID, call.ConfirmToken) {
			return fail(tools.Failf(tools.ErrCodeConfirmationRequired,
				"tool %q requires confirmation; obtain a token for call %s", tool.Name, call.CallID))
		}
	}

	if ok, retryAfter := e.limiter.Acquire(tool.Provider); !ok {
		return fail(tools.Failf(tools.ErrCodeRateLimited,
			"provider %q rate limit reached, retry after %s", tool.Provider, retryAfter.Round(time.Second)))
	}

	if err := e.tracker.Reserve(tool.Name); err != nil {
		var ex *budget.ExceededError
		if errors.As(err, &ex) {
			return fail(ex.Failure())
		}
		return fail(tools.AsFailure(err))
	}

	output, err := e.invoke(ctx, tool, call.Args)
	elapsed := time.Since(start)

	if err != nil {
		f := tools.AsFailure(err)
		logging.Executor("call %s tool=%s error after %s: %s", call.CallID, tool.Name, elapsed.Round(time.Millisecond), f.Error())
		return tools.Failed(f, tools.Meta{ElapsedMS: elapsed.Milliseconds()})
	}

	e.tracker.CommitOutput(tool.Name, int64(len(output)))
	data, truncated, hash := truncateOutput(output, e.maxResultBytes)

	logging.ExecutorDebug("call %s tool=%s ok in %s (%d bytes, truncated=%v)",
		call.CallID, tool.Name, elapsed.Round(time.Millisecond), len(output), truncated)
	return tools.Success(data, tools.Meta{
		ElapsedMS:  elapsed.Milliseconds(),
		Truncated:  truncated,
		OutputHash: hash,
	})
}

// invoke runs the tool under the per-call timeout. A tool that outlives
// its deadline is abandoned: its goroutine may finish in the background
// but its output is discarded.
func (e *Executor) invoke(ctx context.Context, tool *tools.Tool, args map[string]any) (string, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if e.toolTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := tool.Execute(callCtx, args)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", tools.Failf(tools.ErrCodeTimeout,
				"tool %q exceeded its %s deadline", tool.Name, e.toolTimeout)
		}
		return "", tools.Failf(tools.ErrCodeExecutionFailed, "tool %q cancelled: %v", tool.Name, callCtx.Err())
	}
}
