package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fathom/internal/logging"
	"fathom/internal/run"
)

// Retry backoff bounds for failed steps.
const (
	retryBaseBackoff = 100 * time.Millisecond
	retryMaxBackoff  = 2 * time.Second
)

// StepResult is what one executed step produced.
type StepResult struct {
	Summary   string
	Citations []run.Citation
}

// StepRunner executes one sub-query within a deadline.
type StepRunner interface {
	RunStep(ctx context.Context, query string, timeout time.Duration) (*StepResult, error)
}

// Options configures a session.
type Options struct {
	// TotalBudget is the wall-clock budget shared by all steps.
	TotalBudget time.Duration

	// MaxSteps caps the decomposition.
	MaxSteps int

	// MaxStepRetries caps re-runs per step.
	MaxStepRetries int

	// MaxConcurrent bounds the step worker pool.
	MaxConcurrent int

	// MinStepSlice is the smallest deadline a step execution receives.
	MinStepSlice time.Duration

	// Checkpoint, when set, receives a progress snapshot at every state
	// transition. Used to persist session state.
	Checkpoint func(Progress)
}

// Orchestrator runs one research session. Construct per session; the
// progress snapshot is safe to read from other goroutines while Run is
// in flight.
type Orchestrator struct {
	decomposer *Decomposer
	runner     StepRunner
	synth      *Synthesizer
	opts       Options

	id string

	mu      sync.Mutex
	state   SessionState
	query   string
	steps   []Step
	started time.Time
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string { return o.id }

// New creates an orchestrator.
func New(decomposer *Decomposer, runner StepRunner, synth *Synthesizer, opts Options) *Orchestrator {
	if opts.TotalBudget <= 0 {
		opts.TotalBudget = 5 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MinStepSlice <= 0 {
		opts.MinStepSlice = time.Second
	}
	return &Orchestrator{
		id:         uuid.NewString(),
		decomposer: decomposer,
		runner:     runner,
		synth:      synth,
		opts:       opts,
		state:      StatePending,
	}
}

// Progress returns a snapshot of the session.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := Progress{
		ID:    o.id,
		State: o.state,
		Query: o.query,
		Steps: make([]Step, len(o.steps)),
	}
	copy(p.Steps, o.steps)
	p.Remaining = o.opts.TotalBudget
	if !o.started.IsZero() {
		p.Elapsed = time.Since(o.started)
		p.Remaining = o.opts.TotalBudget - p.Elapsed
		if p.Remaining < 0 {
			p.Remaining = 0
		}
	}
	return p
}

// Run executes the session to a terminal state. The session completes
// when at least one step succeeds; it fails when planning produces
// nothing or every step fails; it is cancelled when ctx is.
func (o *Orchestrator) Run(ctx context.Context, query string) (*Report, error) {
	o.mu.Lock()
	o.query = query
	o.started = time.Now()
	o.state = StateDecomposing
	o.mu.Unlock()
	o.checkpoint()

	deadline := o.started.Add(o.opts.TotalBudget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	steps, err := o.decomposer.Decompose(ctx, query)
	if err != nil {
		o.setState(StateFailed)
		logging.ResearchError("session failed during planning: %v", err)
		return o.report(StateFailed, ""), fmt.Errorf("decomposition: %w", err)
	}

	o.mu.Lock()
	o.steps = steps
	o.state = StateExecuting
	o.mu.Unlock()
	o.checkpoint()

	g := &errgroup.Group{}
	g.SetLimit(o.opts.MaxConcurrent)
	for i := range steps {
		i := i
		g.Go(func() error {
			o.runStep(ctx, i, deadline)
			return nil
		})
	}
	g.Wait()

	if ctx.Err() == context.Canceled {
		o.setState(StateCancelled)
		logging.Research("session cancelled after %s", time.Since(o.started).Round(time.Millisecond))
		return o.report(StateCancelled, ""), nil
	}

	succeeded := 0
	o.mu.Lock()
	for _, s := range o.steps {
		if s.Status == StepSucceeded {
			succeeded++
		}
	}
	o.mu.Unlock()

	if succeeded == 0 {
		o.setState(StateFailed)
		logging.ResearchError("session failed: no step succeeded")
		return o.report(StateFailed, ""), fmt.Errorf("all %d research steps failed", len(steps))
	}

	o.setState(StateSynthesizing)
	answer := o.synth.Synthesize(ctx, query, o.snapshotSteps())

	o.setState(StateCompleted)
	logging.Research("session completed: %d/%d steps succeeded", succeeded, len(steps))
	return o.report(StateCompleted, answer), nil
}

// runStep executes one step with retries. Every attempt's deadline is an
// equal share of whatever budget remains, so a retry borrows from the
// shared pool rather than a fixed allocation.
func (o *Orchestrator) runStep(ctx context.Context, idx int, deadline time.Time) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			o.updateStep(idx, func(s *Step) {
				s.Status = StepFailed
				if s.Err == "" {
					s.Err = "time budget exhausted"
				}
			})
			return
		}

		slice := remaining / time.Duration(o.pendingSteps())
		if slice < o.opts.MinStepSlice {
			slice = o.opts.MinStepSlice
		}
		if slice > remaining {
			slice = remaining
		}

		var query string
		var attempt int
		o.updateStep(idx, func(s *Step) {
			s.Status = StepRunning
			s.Attempts++
			query = s.Query
			attempt = s.Attempts
		})
		logging.ResearchDebug("step %d attempt %d (%s slice): %s", idx+1, attempt, slice.Round(time.Second), query)

		res, err := o.runner.RunStep(ctx, query, slice)
		if err == nil && res != nil {
			o.updateStep(idx, func(s *Step) {
				s.Status = StepSucceeded
				s.Summary = res.Summary
				s.Citations = res.Citations
				s.Unverified = len(res.Citations) == 0
				s.Err = ""
			})
			return
		}

		errMsg := "step produced no result"
		if err != nil {
			errMsg = err.Error()
		}

		retriesLeft := attempt <= o.opts.MaxStepRetries
		budgetLeft := time.Until(deadline) > o.opts.MinStepSlice
		if retriesLeft && budgetLeft && ctx.Err() == nil {
			o.updateStep(idx, func(s *Step) {
				s.Status = StepRetrying
				s.Err = errMsg
			})
			logging.Research("step %d failed (attempt %d), retrying: %s", idx+1, attempt, errMsg)
			sleepBackoff(ctx, attempt)
			continue
		}

		o.updateStep(idx, func(s *Step) {
			s.Status = StepFailed
			s.Err = errMsg
		})
		logging.ResearchError("step %d failed permanently: %s", idx+1, errMsg)
		return
	}
}

// sleepBackoff pauses before a retry, doubling per attempt up to the
// cap. Returns early when ctx is done.
func sleepBackoff(ctx context.Context, attempt int) {
	backoff := retryBaseBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > retryMaxBackoff {
		backoff = retryMaxBackoff
	}
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// pendingSteps counts steps not yet in a terminal state. Always at least
// one, so budget division never zeroes out.
func (o *Orchestrator) pendingSteps() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.steps {
		if s.Status != StepSucceeded && s.Status != StepFailed {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

func (o *Orchestrator) updateStep(idx int, fn func(*Step)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.steps[idx])
}

func (o *Orchestrator) setState(s SessionState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.checkpoint()
}

// checkpoint hands a fresh snapshot to the configured sink. Called
// without the mutex held so the sink may read Progress freely.
func (o *Orchestrator) checkpoint() {
	if o.opts.Checkpoint != nil {
		o.opts.Checkpoint(o.Progress())
	}
}

func (o *Orchestrator) snapshotSteps() []Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Step, len(o.steps))
	copy(out, o.steps)
	return out
}

// report assembles the final report, deduplicating citations by URL.
func (o *Orchestrator) report(state SessionState, answer string) *Report {
	steps := o.snapshotSteps()
	seen := make(map[string]bool)
	var citations []run.Citation
	for _, s := range steps {
		for _, c := range s.Citations {
			if c.URL == "" || seen[c.URL] {
				continue
			}
			seen[c.URL] = true
			citations = append(citations, c)
		}
	}
	return &Report{
		ID:        o.id,
		State:     state,
		Answer:    answer,
		Steps:     steps,
		Citations: citations,
		Elapsed:   time.Since(o.started),
	}
}
