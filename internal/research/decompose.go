package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fathom/internal/llm"
	"fathom/internal/logging"
	"fathom/internal/tools"
)

const decomposePrompt = `Break the research question into independent sub-queries.
Respond with a JSON array of strings, nothing else. Each sub-query must be
answerable on its own. Use at most %d sub-queries; fewer is better when the
question is narrow.

Question: %s`

// Decomposer turns a research question into executable sub-queries. With
// a model it asks for a plan; without one, or when the model output is
// unusable, it falls back to a heuristic split.
type Decomposer struct {
	client   llm.Client
	maxSteps int
}

// NewDecomposer creates a decomposer. client may be nil for pure
// heuristic planning.
func NewDecomposer(client llm.Client, maxSteps int) *Decomposer {
	if maxSteps <= 0 {
		maxSteps = 6
	}
	return &Decomposer{client: client, maxSteps: maxSteps}
}

// Decompose produces the session's steps. An empty plan for a non-empty
// question never happens: the heuristic always yields at least the
// question itself. Only a blank question fails.
func (d *Decomposer) Decompose(ctx context.Context, query string) ([]Step, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, tools.Failf(tools.ErrCodeDecompositionFailed, "empty research question")
	}

	var queries []string
	if d.client != nil {
		queries = d.fromModel(ctx, query)
	}
	if len(queries) == 0 {
		queries = heuristicSplit(query, d.maxSteps)
	}
	if len(queries) > d.maxSteps {
		queries = queries[:d.maxSteps]
	}

	steps := make([]Step, len(queries))
	for i, q := range queries {
		steps[i] = Step{ID: i + 1, Query: q, Status: StepPlanned}
	}
	logging.Research("decomposed into %d steps", len(steps))
	return steps, nil
}

// fromModel asks the model for a plan. Any failure degrades to the
// heuristic by returning nil.
func (d *Decomposer) fromModel(ctx context.Context, query string) []string {
	turn, err := d.client.Generate(ctx, "",
		[]llm.Message{{Role: llm.RoleUser, Text: fmt.Sprintf(decomposePrompt, d.maxSteps, query)}}, nil)
	if err != nil {
		logging.Research("model decomposition failed, using heuristic: %v", err)
		return nil
	}
	queries := parsePlan(turn.Text)
	if len(queries) == 0 {
		logging.Research("model plan unparseable, using heuristic")
	}
	return queries
}

// parsePlan extracts a JSON array of strings from model output, ignoring
// surrounding prose and code fences.
func parsePlan(text string) []string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}

	var raw []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}

	var queries []string
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	return queries
}

// heuristicSplit breaks a compound question on sentence and conjunction
// boundaries. A narrow question stays a single step.
func heuristicSplit(query string, maxSteps int) []string {
	var parts []string
	for _, chunk := range strings.FieldsFunc(query, func(r rune) bool {
		return r == '?' || r == ';'
	}) {
		for _, sub := range strings.Split(chunk, " and also ") {
			if sub = strings.TrimSpace(sub); sub != "" {
				parts = append(parts, sub)
			}
		}
	}
	if len(parts) == 0 {
		parts = []string{query}
	}
	if len(parts) > maxSteps {
		parts = parts[:maxSteps]
	}
	return parts
}
