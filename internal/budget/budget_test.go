package budget

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fathom/internal/tools"
)

func TestReserveUpToMaxCalls(t *testing.T) {
	tr := NewTracker(Caps{MaxCalls: 3})
	for i := 0; i < 3; i++ {
		if err := tr.Reserve("echo"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	err := tr.Reserve("echo")
	if err == nil {
		t.Fatal("fourth call should be rejected")
	}
	var ex *ExceededError
	if !errors.As(err, &ex) {
		t.Fatalf("error type = %T, want *ExceededError", err)
	}
	if ex.Cap != "max_calls" {
		t.Errorf("Cap = %q, want max_calls", ex.Cap)
	}
	if ex.Used != 3 || ex.Limit != 3 {
		t.Errorf("Used/Limit = %d/%d, want 3/3", ex.Used, ex.Limit)
	}
}

func TestPerToolCapWithOverride(t *testing.T) {
	tr := NewTracker(Caps{
		MaxCallsPerTool:  2,
		PerToolOverrides: map[string]int{"web_search": 1},
	})

	if err := tr.Reserve("web_search"); err != nil {
		t.Fatal(err)
	}
	err := tr.Reserve("web_search")
	if err == nil {
		t.Fatal("override of 1 should reject the second web_search")
	}
	var ex *ExceededError
	errors.As(err, &ex)
	if ex.Cap != "max_calls_per_tool" || ex.Tool != "web_search" {
		t.Errorf("got cap %q tool %q", ex.Cap, ex.Tool)
	}

	// Other tools still follow the default.
	tr.Reserve("read_file")
	if err := tr.Reserve("read_file"); err != nil {
		t.Errorf("second read_file should pass under default cap: %v", err)
	}
	if err := tr.Reserve("read_file"); err == nil {
		t.Error("third read_file should hit the default cap")
	}
}

func TestOutputBytesCapEnforcedOnNextReserve(t *testing.T) {
	tr := NewTracker(Caps{MaxOutputBytes: 100})

	if err := tr.Reserve("big"); err != nil {
		t.Fatal(err)
	}
	tr.CommitOutput("big", 150)

	err := tr.Reserve("big")
	if err == nil {
		t.Fatal("reserve after byte cap breach should fail")
	}
	var ex *ExceededError
	errors.As(err, &ex)
	if ex.Cap != "max_output_bytes" {
		t.Errorf("Cap = %q, want max_output_bytes", ex.Cap)
	}
}

func TestDurationCap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	tr := NewTrackerWithClock(Caps{MaxDuration: time.Minute}, func() time.Time { return current })

	if err := tr.Reserve("echo"); err != nil {
		t.Fatal(err)
	}
	current = now.Add(2 * time.Minute)
	err := tr.Reserve("echo")
	if err == nil {
		t.Fatal("reserve past max_duration should fail")
	}
	if !strings.Contains(err.Error(), "max_duration") {
		t.Errorf("error should name the cap: %v", err)
	}
}

func TestCanReserveDoesNotConsume(t *testing.T) {
	tr := NewTracker(Caps{MaxCalls: 1})

	for i := 0; i < 5; i++ {
		if err := tr.CanReserve("echo"); err != nil {
			t.Fatalf("check %d should pass: %v", i+1, err)
		}
	}
	if usage := tr.Snapshot(); usage.Calls != 0 {
		t.Errorf("CanReserve consumed %d calls", usage.Calls)
	}

	if err := tr.Reserve("echo"); err != nil {
		t.Fatal(err)
	}
	if err := tr.CanReserve("echo"); err == nil {
		t.Error("check should report the exhausted cap")
	}
}

func TestZeroCapsUnlimited(t *testing.T) {
	tr := NewTracker(Caps{})
	for i := 0; i < 500; i++ {
		if err := tr.Reserve("anything"); err != nil {
			t.Fatalf("zero caps must not limit: %v", err)
		}
	}
}

func TestConcurrentReserveNeverOvershoots(t *testing.T) {
	tr := NewTracker(Caps{MaxCalls: 10})
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Reserve("echo") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := admitted.Load(); got != 10 {
		t.Errorf("admitted %d, want exactly 10", got)
	}
	if usage := tr.Snapshot(); usage.Calls != 10 {
		t.Errorf("Snapshot.Calls = %d, want 10", usage.Calls)
	}
}

func TestExceededFailureCode(t *testing.T) {
	ex := &ExceededError{Cap: "max_calls", Used: 5, Limit: 5}
	f := ex.Failure()
	if f.Code != tools.ErrCodeBudgetExceeded {
		t.Errorf("code = %s, want budget_exceeded", f.Code)
	}
	if !strings.Contains(f.Message, "max_calls") {
		t.Errorf("failure message should name the cap: %q", f.Message)
	}
}
