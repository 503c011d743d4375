package research

import (
	"context"
	"fmt"
	"strings"

	"fathom/internal/llm"
	"fathom/internal/logging"
)

const synthesisPrompt = `Write a final answer to the research question using only the
step findings below. Cite sources inline as [n] using the numbered source list.
Do not introduce claims that the findings do not support.

Question: %s

%s`

// Synthesizer builds the final answer from step findings. With a model
// it writes cited prose; without one it assembles the findings directly.
// Findings that carry no citations are flagged unverified either way.
type Synthesizer struct {
	client llm.Client
}

// NewSynthesizer creates a synthesizer. client may be nil.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Synthesize produces the answer for a finished session. Failed steps
// are surfaced as unavailable evidence rather than silently dropped.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, steps []Step) string {
	succeeded := 0
	for _, st := range steps {
		if st.Status == StepSucceeded {
			succeeded++
		}
	}
	if succeeded == 0 {
		return ""
	}

	if s.client != nil {
		if answer := s.fromModel(ctx, query, steps); answer != "" {
			return answer
		}
	}
	return assembleAnswer(query, steps)
}

func (s *Synthesizer) fromModel(ctx context.Context, query string, steps []Step) string {
	turn, err := s.client.Generate(ctx, "",
		[]llm.Message{{Role: llm.RoleUser, Text: fmt.Sprintf(synthesisPrompt, query, findingsBlock(steps))}}, nil)
	if err != nil {
		logging.Research("model synthesis failed, assembling directly: %v", err)
		return ""
	}
	return strings.TrimSpace(turn.Text)
}

// findingsBlock renders step findings and a numbered source list for the
// synthesis prompt. Failed sub-queries are named so the model can say
// the evidence is missing instead of inventing it.
func findingsBlock(steps []Step) string {
	var sb strings.Builder
	sourceNo := 0
	for _, st := range steps {
		if st.Status != StepSucceeded {
			fmt.Fprintf(&sb, "Evidence unavailable for sub-query: %s\n\n", st.Query)
			continue
		}
		fmt.Fprintf(&sb, "Finding (%s):\n%s\n", st.Query, st.Summary)
		if st.Unverified {
			sb.WriteString("(no sources; treat as unverified)\n")
		}
		for _, c := range st.Citations {
			sourceNo++
			fmt.Fprintf(&sb, "[%d] %s %s\n", sourceNo, c.URL, c.Title)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// assembleAnswer joins findings without a model. Uncited findings are
// labelled so a reader never mistakes them for sourced claims.
func assembleAnswer(query string, steps []Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", query)

	sourceNo := 0
	var sources []string
	for _, st := range steps {
		fmt.Fprintf(&sb, "### %s\n", st.Query)
		if st.Status != StepSucceeded {
			sb.WriteString("_Evidence unavailable for this sub-query._\n\n")
			continue
		}
		sb.WriteString(st.Summary)
		if st.Unverified {
			sb.WriteString("\n\n_Unverified: no sources were collected for this finding._")
		} else {
			refs := make([]string, 0, len(st.Citations))
			for _, c := range st.Citations {
				sourceNo++
				refs = append(refs, fmt.Sprintf("[%d]", sourceNo))
				sources = append(sources, fmt.Sprintf("[%d] %s", sourceNo, c.URL))
			}
			sb.WriteString(" " + strings.Join(refs, ""))
		}
		sb.WriteString("\n\n")
	}

	if len(sources) > 0 {
		sb.WriteString("Sources:\n")
		sb.WriteString(strings.Join(sources, "\n"))
	}
	return strings.TrimSpace(sb.String())
}
