// Package budget enforces per-run resource caps on tool execution.
// Reservation and accounting happen under one lock so concurrent calls
// can never jointly overshoot a cap.
package budget

import (
	"fmt"
	"sync"
	"time"

	"fathom/internal/logging"
	"fathom/internal/tools"
)

// Caps holds the hard limits for one run. Zero values mean unlimited.
type Caps struct {
	// MaxCalls caps total tool calls across the run.
	MaxCalls int

	// MaxCallsPerTool is the default per-tool cap.
	MaxCallsPerTool int

	// PerToolOverrides replaces the default cap for named tools.
	PerToolOverrides map[string]int

	// MaxOutputBytes caps cumulative untruncated tool output.
	MaxOutputBytes int64

	// MaxDuration caps wall-clock time since the tracker was created.
	MaxDuration time.Duration
}

// ExceededError reports which cap was hit and where usage stood.
type ExceededError struct {
	Cap   string // "max_calls", "max_calls_per_tool", "max_output_bytes", "max_duration"
	Tool  string // set for per-tool caps
	Used  int64
	Limit int64
}

func (e *ExceededError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("budget exceeded: %s for tool %q (%d/%d)", e.Cap, e.Tool, e.Used, e.Limit)
	}
	return fmt.Sprintf("budget exceeded: %s (%d/%d)", e.Cap, e.Used, e.Limit)
}

// Failure converts the cap breach into the classified form the result
// envelope carries.
func (e *ExceededError) Failure() *tools.Failure {
	return tools.Failf(tools.ErrCodeBudgetExceeded, "%s", e.Error())
}

// Tracker accounts tool usage against a set of caps for one run.
type Tracker struct {
	mu       sync.Mutex
	caps     Caps
	started  time.Time
	now      func() time.Time
	calls    int
	perTool  map[string]int
	outBytes int64
}

// NewTracker starts accounting against caps.
func NewTracker(caps Caps) *Tracker {
	return NewTrackerWithClock(caps, time.Now)
}

// NewTrackerWithClock starts a tracker with an injected clock.
func NewTrackerWithClock(caps Caps, now func() time.Time) *Tracker {
	return &Tracker{
		caps:    caps,
		started: now(),
		now:     now,
		perTool: make(map[string]int),
	}
}

// Reserve claims one call slot for tool, checking every cap and
// incrementing the call counters in the same critical section. A breach
// claims nothing.
func (t *Tracker) Reserve(tool string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkLocked(tool); err != nil {
		return err
	}

	t.calls++
	t.perTool[tool]++
	logging.BudgetDebug("reserved call for %q: calls=%d", tool, t.calls)
	return nil
}

// CanReserve reports whether a call for tool would fit, without claiming
// anything. Racy by nature under concurrency; Reserve is the gate.
func (t *Tracker) CanReserve(tool string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(tool)
}

func (t *Tracker) checkLocked(tool string) error {
	if t.caps.MaxDuration > 0 {
		if elapsed := t.now().Sub(t.started); elapsed >= t.caps.MaxDuration {
			return &ExceededError{
				Cap:   "max_duration",
				Used:  int64(elapsed / time.Second),
				Limit: int64(t.caps.MaxDuration / time.Second),
			}
		}
	}
	if t.caps.MaxCalls > 0 && t.calls >= t.caps.MaxCalls {
		return &ExceededError{Cap: "max_calls", Used: int64(t.calls), Limit: int64(t.caps.MaxCalls)}
	}
	if limit := t.toolCap(tool); limit > 0 && t.perTool[tool] >= limit {
		return &ExceededError{
			Cap:   "max_calls_per_tool",
			Tool:  tool,
			Used:  int64(t.perTool[tool]),
			Limit: int64(limit),
		}
	}
	if t.caps.MaxOutputBytes > 0 && t.outBytes >= t.caps.MaxOutputBytes {
		return &ExceededError{Cap: "max_output_bytes", Used: t.outBytes, Limit: t.caps.MaxOutputBytes}
	}
	return nil
}

func (t *Tracker) toolCap(tool string) int {
	if override, ok := t.caps.PerToolOverrides[tool]; ok {
		return override
	}
	return t.caps.MaxCallsPerTool
}

// CommitOutput records the untruncated output size of a completed call.
// The cumulative cap is enforced on the next Reserve; a call already in
// flight is allowed to land its output.
func (t *Tracker) CommitOutput(tool string, outputBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outBytes += outputBytes
	logging.BudgetDebug("committed %d output bytes for %q: total=%d", outputBytes, tool, t.outBytes)
}

// Usage is a point-in-time snapshot of consumption.
type Usage struct {
	Calls       int
	PerTool     map[string]int
	OutputBytes int64
	Elapsed     time.Duration
}

// Snapshot returns current usage.
func (t *Tracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	perTool := make(map[string]int, len(t.perTool))
	for k, v := range t.perTool {
		perTool[k] = v
	}
	return Usage{
		Calls:       t.calls,
		PerTool:     perTool,
		OutputBytes: t.outBytes,
		Elapsed:     t.now().Sub(t.started),
	}
}
