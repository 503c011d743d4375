package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fathom/internal/budget"
	"fathom/internal/executor"
	"fathom/internal/llm"
	"fathom/internal/ratelimit"
	"fathom/internal/run"
	"fathom/internal/tools"
)

// scriptedClient returns pre-baked turns in order, then repeats the last.
type scriptedClient struct {
	mu    sync.Mutex
	turns []*llm.Turn
	idx   int

	// lastHistory is the history from the most recent call.
	lastHistory []llm.Message
}

func (c *scriptedClient) Generate(ctx context.Context, system string, history []llm.Message, available []*tools.Tool) (*llm.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHistory = append([]llm.Message(nil), history...)
	turn := c.turns[c.idx]
	if c.idx < len(c.turns)-1 {
		c.idx++
	}
	return turn, nil
}

func newTestLoop(t *testing.T, client llm.Client, caps budget.Caps, opts Options) (*Loop, *tools.Registry) {
	t.Helper()
	reg := tools.NewRegistry()
	ex := executor.New(reg,
		ratelimit.NewManager(100, time.Minute, nil),
		budget.NewTracker(caps),
		executor.NewConfirmerWithSecret([]byte("test")),
		time.Second, 4096)
	return New(client, ex, reg, opts), reg
}

func registerEcho(t *testing.T, reg *tools.Registry, parallel bool, calls *atomic.Int32) {
	t.Helper()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:           "echo",
		Parallelizable: parallel,
		Schema: &tools.ToolSchema{
			Required:   []string{"text"},
			Properties: map[string]tools.Property{"text": {Type: "string"}},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if calls != nil {
				calls.Add(1)
			}
			return args["text"].(string), nil
		},
	}))
}

func TestRunImmediateAnswer(t *testing.T) {
	client := &scriptedClient{turns: []*llm.Turn{{Text: "the answer"}}}
	l, _ := newTestLoop(t, client, budget.Caps{}, Options{MaxCycles: 5})

	rc := run.NewContext()
	out, err := l.Run(context.Background(), rc, "question")
	require.NoError(t, err)
	assert.Equal(t, ReasonFinalAnswer, out.Reason)
	assert.Equal(t, "the answer", out.Answer)
	assert.Equal(t, 1, out.Cycles)

	answer, set := rc.FinalAnswer()
	assert.True(t, set)
	assert.Equal(t, "the answer", answer)
}

func TestRunEchoScenario(t *testing.T) {
	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "echo", Args: map[string]any{"text": "ping"}}}},
		{Text: "echoed: ping"},
	}}
	l, reg := newTestLoop(t, client, budget.Caps{}, Options{MaxCycles: 5})
	registerEcho(t, reg, false, nil)

	rc := run.NewContext()
	out, err := l.Run(context.Background(), rc, "echo ping")
	require.NoError(t, err)
	assert.Equal(t, ReasonFinalAnswer, out.Reason)
	assert.Equal(t, 2, out.Cycles)

	// The tool result went back to the model as structured data.
	var sawResult bool
	for _, m := range client.lastHistory {
		if m.Role == llm.RoleTool && m.CallID == "c1" {
			sawResult = true
			assert.Equal(t, true, m.Response["ok"])
			assert.Equal(t, "ping", m.Response["data"])
		}
	}
	assert.True(t, sawResult, "tool result should appear in model history")

	// And the transcript recorded it.
	snap := rc.Snapshot()
	var toolMsgs int
	for _, m := range snap.Messages {
		if m.Role == run.RoleTool {
			toolMsgs++
		}
	}
	assert.Equal(t, 1, toolMsgs)
}

func TestRunFailureFedBack(t *testing.T) {
	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "no_such_tool"}}},
		{Text: "giving up"},
	}}
	l, _ := newTestLoop(t, client, budget.Caps{}, Options{MaxCycles: 5})

	out, err := l.Run(context.Background(), run.NewContext(), "q")
	require.NoError(t, err)
	assert.Equal(t, ReasonFinalAnswer, out.Reason, "failures are data, not aborts")

	var sawFailure bool
	for _, m := range client.lastHistory {
		if m.Role == llm.RoleTool {
			sawFailure = true
			assert.Equal(t, false, m.Response["ok"])
			errMap := m.Response["error"].(map[string]any)
			assert.Equal(t, string(tools.ErrCodeToolNotFound), errMap["code"])
		}
	}
	assert.True(t, sawFailure)
}

func registerGated(t *testing.T, reg *tools.Registry, ran *atomic.Int32) {
	t.Helper()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:                 "danger",
		SideEffecting:        true,
		RequiresConfirmation: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			ran.Add(1)
			return "done", nil
		},
	}))
}

func TestGatedToolApproved(t *testing.T) {
	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "danger", Args: map[string]any{}}}},
		{Text: "finished"},
	}}
	l, reg := newTestLoop(t, client, budget.Caps{}, Options{MaxCycles: 5})

	var ran atomic.Int32
	registerGated(t, reg, &ran)

	var asked []string
	l.opts.Approve = func(tool, callID string) string {
		asked = append(asked, tool+"/"+callID)
		return l.executor.Confirmer().Token(tool, callID)
	}

	out, err := l.Run(context.Background(), run.NewContext(), "q")
	require.NoError(t, err)
	assert.Equal(t, ReasonFinalAnswer, out.Reason)
	assert.Equal(t, int32(1), ran.Load(), "approved tool should execute")
	assert.Equal(t, []string{"danger/c1"}, asked)

	var sawOK bool
	for _, m := range client.lastHistory {
		if m.Role == llm.RoleTool && m.CallID == "c1" {
			sawOK = true
			assert.Equal(t, true, m.Response["ok"])
		}
	}
	assert.True(t, sawOK)
}

func TestGatedToolDeclined(t *testing.T) {
	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "danger", Args: map[string]any{}}}},
		{Text: "cannot proceed"},
	}}
	l, reg := newTestLoop(t, client, budget.Caps{}, Options{MaxCycles: 5})

	var ran atomic.Int32
	registerGated(t, reg, &ran)
	l.opts.Approve = func(tool, callID string) string { return "" }

	out, err := l.Run(context.Background(), run.NewContext(), "q")
	require.NoError(t, err)
	assert.Equal(t, ReasonFinalAnswer, out.Reason)
	assert.Equal(t, int32(0), ran.Load(), "declined tool must not execute")

	var sawRefusal bool
	for _, m := range client.lastHistory {
		if m.Role == llm.RoleTool && m.CallID == "c1" {
			sawRefusal = true
			errMap := m.Response["error"].(map[string]any)
			assert.Equal(t, string(tools.ErrCodeConfirmationRequired), errMap["code"])
		}
	}
	assert.True(t, sawRefusal)
}

func TestRunMaxCycles(t *testing.T) {
	// Model never answers.
	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{{ID: "c", Name: "echo", Args: map[string]any{"text": "x"}}}},
	}}
	l, reg := newTestLoop(t, client, budget.Caps{}, Options{MaxCycles: 3})
	registerEcho(t, reg, false, nil)

	out, err := l.Run(context.Background(), run.NewContext(), "q")
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxCycles, out.Reason)
	assert.Equal(t, 3, out.Cycles)
}

func TestRunBudgetExhausted(t *testing.T) {
	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{{ID: "c", Name: "echo", Args: map[string]any{"text": "x"}}}},
	}}
	l, reg := newTestLoop(t, client, budget.Caps{MaxCalls: 2}, Options{MaxCycles: 10})
	registerEcho(t, reg, false, nil)

	out, err := l.Run(context.Background(), run.NewContext(), "q")
	require.NoError(t, err)
	assert.Equal(t, ReasonBudgetExhausted, out.Reason)
	// Two cycles succeed, the third is all budget rejections.
	assert.Equal(t, 3, out.Cycles)
}

func TestRunCancellation(t *testing.T) {
	// go.opencensus.io (a transitive dependency) starts a worker goroutine in
	// its package init; it is not leaked by the code under test.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{{ID: "c", Name: "echo", Args: map[string]any{"text": "x"}}}},
	}}
	l, reg := newTestLoop(t, client, budget.Caps{}, Options{MaxCycles: 100})
	registerEcho(t, reg, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := l.Run(ctx, run.NewContext(), "q")
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, out.Reason)
}

func TestParallelExecutionBounded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	var inFlight, peak atomic.Int32
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:           "probe",
		Parallelizable: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return "ok", nil
		},
	}))

	calls := make([]llm.ToolCall, 6)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: string(rune('a' + i)), Name: "probe", Args: map[string]any{}}
	}
	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: calls},
		{Text: "done"},
	}}

	ex := executor.New(reg, ratelimit.NewManager(100, time.Minute, nil),
		budget.NewTracker(budget.Caps{}), executor.NewConfirmerWithSecret([]byte("t")),
		time.Second, 4096)
	l := New(client, ex, reg, Options{MaxCycles: 5, MaxParallel: 2})

	out, err := l.Run(context.Background(), run.NewContext(), "q")
	require.NoError(t, err)
	assert.Equal(t, ReasonFinalAnswer, out.Reason)
	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrency must respect MaxParallel")
}

func TestMixedCallsRunSequentially(t *testing.T) {
	var peak, inFlight atomic.Int32
	reg := tools.NewRegistry()
	track := func(ctx context.Context, args map[string]any) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	}
	require.NoError(t, reg.Register(&tools.Tool{Name: "par", Parallelizable: true, Execute: track}))
	require.NoError(t, reg.Register(&tools.Tool{Name: "seq", Parallelizable: false, Execute: track}))

	client := &scriptedClient{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{
			{ID: "1", Name: "par", Args: map[string]any{}},
			{ID: "2", Name: "seq", Args: map[string]any{}},
		}},
		{Text: "done"},
	}}

	ex := executor.New(reg, ratelimit.NewManager(100, time.Minute, nil),
		budget.NewTracker(budget.Caps{}), executor.NewConfirmerWithSecret([]byte("t")),
		time.Second, 4096)
	l := New(client, ex, reg, Options{MaxCycles: 5, MaxParallel: 4})

	_, err := l.Run(context.Background(), run.NewContext(), "q")
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load(), "a non-parallelizable call forces sequential execution")
}
