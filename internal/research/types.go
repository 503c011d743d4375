// Package research orchestrates multi-step research sessions: decompose
// a question into sub-queries, execute them under a shared time budget,
// and synthesize a cited answer.
package research

import (
	"time"

	"fathom/internal/run"
)

// SessionState is the lifecycle of one research session.
type SessionState string

const (
	StatePending      SessionState = "pending"
	StateDecomposing  SessionState = "decomposing"
	StateExecuting    SessionState = "executing"
	StateSynthesizing SessionState = "synthesizing"
	StateCompleted    SessionState = "completed"
	StateFailed       SessionState = "failed"
	StateCancelled    SessionState = "cancelled"
)

// StepStatus is the lifecycle of one research step.
type StepStatus string

const (
	StepPlanned   StepStatus = "planned"
	StepRunning   StepStatus = "running"
	StepRetrying  StepStatus = "retrying"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Step is one sub-query of a session.
type Step struct {
	ID        int
	Query     string
	Status    StepStatus
	Summary   string
	Citations []run.Citation

	// Attempts counts executions, so retries = Attempts - 1.
	Attempts int

	// Unverified marks a summary that carries no citations.
	Unverified bool

	// Err holds the last failure message.
	Err string
}

// Progress is a point-in-time view of a session.
type Progress struct {
	ID      string
	State   SessionState
	Query   string
	Steps   []Step
	Elapsed time.Duration

	// Remaining is what is left of the session's time budget, never
	// negative.
	Remaining time.Duration
}

// Report is the final product of a session.
type Report struct {
	ID        string
	State     SessionState
	Answer    string
	Steps     []Step
	Citations []run.Citation
	Elapsed   time.Duration
}
