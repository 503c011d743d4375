// Package run holds the mutable state shared across one assistant run:
// the transcript, collected citations, artifacts, and the final answer.
package run

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"fathom/internal/logging"
)

// Role identifies who produced a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one transcript entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Citation records a source backing a claim in the answer.
type Citation struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Artifact is a named intermediate product of a run (a fetched page, a
// step summary) kept for the synthesis phase.
type Artifact struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Context is the state of one run. All mutation goes through methods
// holding the run's mutex; the loop and parallel tool workers share one
// instance.
type Context struct {
	mu          sync.Mutex
	id          string
	startedAt   time.Time
	messages    []Message
	citations   []Citation
	citationSet map[string]bool
	artifacts   []Artifact
	retries     map[string]int
	finalAnswer string
	answerSet   bool
	violations  []string
}

// NewContext creates a run context with a fresh run ID.
func NewContext() *Context {
	return &Context{
		id:          uuid.NewString(),
		startedAt:   time.Now(),
		citationSet: make(map[string]bool),
		retries:     make(map[string]int),
	}
}

// ID returns the run identifier.
func (c *Context) ID() string { return c.id }

// AppendMessage adds a transcript entry. The transcript is append-only;
// nothing ever rewrites history.
func (c *Context) AppendMessage(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

// AddCitation records a citation, deduplicating by URL.
func (c *Context) AddCitation(cit Citation) {
	if cit.URL == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.citationSet[cit.URL] {
		return
	}
	c.citationSet[cit.URL] = true
	c.citations = append(c.citations, cit)
}

// AddArtifact stores an intermediate product.
func (c *Context) AddArtifact(name, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts = append(c.artifacts, Artifact{
		Name:      name,
		Content:   content,
		CreatedAt: time.Now(),
	})
}

// RecordRetry increments and returns the retry count for key.
func (c *Context) RecordRetry(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[key]++
	return c.retries[key]
}

// Retries returns the retry count for key.
func (c *Context) Retries(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[key]
}

// SetFinalAnswer records the answer. It may be set once; a second set is
// ignored, logged, and recorded as a contract violation.
func (c *Context) SetFinalAnswer(answer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerSet {
		c.violations = append(c.violations, "final answer set more than once")
		logging.Session("run %s: attempt to overwrite final answer rejected", c.id)
		return false
	}
	c.finalAnswer = answer
	c.answerSet = true
	return true
}

// FinalAnswer returns the answer and whether one was set.
func (c *Context) FinalAnswer() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalAnswer, c.answerSet
}

// Snapshot is an immutable copy of the run state.
type Snapshot struct {
	ID          string
	StartedAt   time.Time
	Messages    []Message
	Citations   []Citation
	Artifacts   []Artifact
	FinalAnswer string
	AnswerSet   bool
	Violations  []string
}

// Snapshot copies the current state. Mutating the copy does not affect
// the live context.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		ID:          c.id,
		StartedAt:   c.startedAt,
		Messages:    make([]Message, len(c.messages)),
		Citations:   make([]Citation, len(c.citations)),
		Artifacts:   make([]Artifact, len(c.artifacts)),
		FinalAnswer: c.finalAnswer,
		AnswerSet:   c.answerSet,
		Violations:  make([]string, len(c.violations)),
	}
	copy(s.Messages, c.messages)
	copy(s.Citations, c.citations)
	copy(s.Artifacts, c.artifacts)
	copy(s.Violations, c.violations)
	return s
}
