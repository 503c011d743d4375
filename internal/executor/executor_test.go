package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fathom/internal/budget"
	"fathom/internal/ratelimit"
	"fathom/internal/tools"
)

func testExecutor(t *testing.T, caps budget.Caps, rateCalls int) (*Executor, *tools.Registry) {
	t.Helper()
	reg := tools.NewRegistry()
	limiter := ratelimit.NewManager(rateCalls, time.Minute, nil)
	tracker := budget.NewTracker(caps)
	confirmer := NewConfirmerWithSecret([]byte("test-secret"))
	ex := New(reg, limiter, tracker, confirmer, 2*time.Second, 1024)
	return ex, reg
}

func registerEcho(t *testing.T, reg *tools.Registry) {
	t.Helper()
	err := reg.Register(&tools.Tool{
		Name:     "echo",
		Category: "core",
		Schema: &tools.ToolSchema{
			Required: []string{"text"},
			Properties: map[string]tools.Property{
				"text": {Type: "string"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	})
	require.NoError(t, err)
}

func TestExecuteSuccess(t *testing.T) {
	ex, reg := testExecutor(t, budget.Caps{MaxCalls: 10}, 10)
	registerEcho(t, reg)

	res := ex.Execute(context.Background(), Call{
		CallID: "c1",
		Tool:   "echo",
		Args:   map[string]any{"text": "hello"},
	})
	require.True(t, res.OK, "result: %+v", res)
	assert.Equal(t, "hello", res.Data)
	assert.Nil(t, res.Error)
	assert.False(t, res.Meta.Truncated)

	sum := sha256.Sum256([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Meta.OutputHash)
}

func TestExecuteToolNotFound(t *testing.T) {
	ex, _ := testExecutor(t, budget.Caps{}, 10)
	res := ex.Execute(context.Background(), Call{CallID: "c1", Tool: "nope"})
	require.False(t, res.OK)
	assert.Equal(t, tools.ErrCodeToolNotFound, res.Error.Code)
}

func TestExecuteInvalidArguments(t *testing.T) {
	ex, reg := testExecutor(t, budget.Caps{}, 10)
	registerEcho(t, reg)

	res := ex.Execute(context.Background(), Call{
		CallID: "c1",
		Tool:   "echo",
		Args:   map[string]any{"wrong": true},
	})
	require.False(t, res.OK)
	assert.Equal(t, tools.ErrCodeInvalidArguments, res.Error.Code)
}

func TestExecuteConfirmationGate(t *testing.T) {
	ex, reg := testExecutor(t, budget.Caps{}, 10)
	require.NoError(t, reg.Register(&tools.Tool{
		Name:                 "delete_file",
		RequiresConfirmation: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "deleted", nil
		},
	}))

	// No token.
	res := ex.Execute(context.Background(), Call{CallID: "c1", Tool: "delete_file"})
	require.False(t, res.OK)
	assert.Equal(t, tools.ErrCodeConfirmationRequired, res.Error.Code)

	// Token for a different call must not work.
	wrong := ex.Confirmer().Token("delete_file", "other-call")
	res = ex.Execute(context.Background(), Call{CallID: "c1", Tool: "delete_file", ConfirmToken: wrong})
	require.False(t, res.OK)
	assert.Equal(t, tools.ErrCodeConfirmationRequired, res.Error.Code)

	// Correct token passes.
	token := ex.Confirmer().Token("delete_file", "c1")
	res = ex.Execute(context.Background(), Call{CallID: "c1", Tool: "delete_file", ConfirmToken: token})
	require.True(t, res.OK)
	assert.Equal(t, "deleted", res.Data)
}

func TestExecuteRateLimited(t *testing.T) {
	ex, reg := testExecutor(t, budget.Caps{}, 2)
	require.NoError(t, reg.Register(&tools.Tool{
		Name:     "web_search",
		Provider: "web",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "results", nil
		},
	}))

	for i := 0; i < 2; i++ {
		res := ex.Execute(context.Background(), Call{CallID: "c", Tool: "web_search"})
		require.True(t, res.OK)
	}
	res := ex.Execute(context.Background(), Call{CallID: "c", Tool: "web_search"})
	require.False(t, res.OK)
	assert.Equal(t, tools.ErrCodeRateLimited, res.Error.Code)
	assert.Contains(t, res.Error.Message, "retry after")
}

func TestExecuteBudgetExceeded(t *testing.T) {
	ex, reg := testExecutor(t, budget.Caps{MaxCalls: 3}, 100)
	registerEcho(t, reg)

	args := map[string]any{"text": "x"}
	for i := 0; i < 3; i++ {
		res := ex.Execute(context.Background(), Call{CallID: "c", Tool: "echo", Args: args})
		require.True(t, res.OK, "call %d should pass", i+1)
	}
	res := ex.Execute(context.Background(), Call{CallID: "c", Tool: "echo", Args: args})
	require.False(t, res.OK)
	assert.Equal(t, tools.ErrCodeBudgetExceeded, res.Error.Code)
	assert.Contains(t, res.Error.Message, "max_calls")
}

func TestExecuteTimeout(t *testing.T) {
	reg := tools.NewRegistry()
	ex := New(reg, ratelimit.NewManager(10, time.Minute, nil),
		budget.NewTracker(budget.Caps{}), NewConfirmerWithSecret([]byte("s")),
		50*time.Millisecond, 1024)

	require.NoError(t, reg.Register(&tools.Tool{
		Name: "slow",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))

	start := time.Now()
	res := ex.Execute(context.Background(), Call{CallID: "c1", Tool: "slow"})
	require.False(t, res.OK)
	assert.Equal(t, tools.ErrCodeTimeout, res.Error.Code)
	assert.Less(t, time.Since(start), time.Second, "timeout should abandon the tool promptly")
}

func TestExecuteExecutionFailure(t *testing.T) {
	ex, reg := testExecutor(t, budget.Caps{}, 10)
	require.NoError(t, reg.Register(&tools.Tool{
		Name: "broken",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", assert.AnError
		},
	}))

	res := ex.Execute(context.Background(), Call{CallID: "c1", Tool: "broken"})
	require.False(t, res.OK)
	assert.Equal(t, tools.ErrCodeExecutionFailed, res.Error.Code)
}

func TestExecuteTruncatesLargeOutput(t *testing.T) {
	ex, reg := testExecutor(t, budget.Caps{}, 10)
	big := strings.Repeat("a", 4096)
	require.NoError(t, reg.Register(&tools.Tool{
		Name: "big",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return big, nil
		},
	}))

	res := ex.Execute(context.Background(), Call{CallID: "c1", Tool: "big"})
	require.True(t, res.OK)
	assert.True(t, res.Meta.Truncated)
	assert.LessOrEqual(t, len(res.Data), 1024)
	assert.Contains(t, res.Data, "truncated")

	sum := sha256.Sum256([]byte(big))
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Meta.OutputHash,
		"hash must cover the full untruncated output")
}

func TestTruncateOutputBoundaries(t *testing.T) {
	data, truncated, _ := truncateOutput("short", 100)
	assert.False(t, truncated)
	assert.Equal(t, "short", data)

	// Multibyte runes must not be split.
	s := strings.Repeat("é", 200)
	data, truncated, _ = truncateOutput(s, 64)
	assert.True(t, truncated)
	assert.LessOrEqual(t, len(data), 64)
	assert.True(t, strings.HasPrefix(data, "é"))
	assert.True(t, utf8.ValidString(data))

	// A cut landing right after a 3-byte leader must drop the leader
	// too, not just continuation bytes.
	s = strings.Repeat("日", 200)
	data, truncated, _ = truncateOutput(s, 40)
	assert.True(t, truncated)
	assert.LessOrEqual(t, len(data), 40)
	assert.True(t, utf8.ValidString(data), "truncated data must stay valid utf8")
}
