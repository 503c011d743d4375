package research

import (
	"context"
	"fmt"
	"strings"

	"fathom/internal/logging"
	"fathom/internal/store"
	"fathom/internal/tools"
)

// NoteSearcher is the slice of the store kb_search needs.
type NoteSearcher interface {
	SearchNotes(ctx context.Context, query string, limit int) ([]store.Note, error)
}

// KBSearchTool returns a tool that searches previously saved research
// notes. Purely local, so no provider and no rate limit.
func KBSearchTool(searcher NoteSearcher) *tools.Tool {
	return &tools.Tool{
		Name:           "kb_search",
		Description:    "Search the local knowledge base of saved research notes",
		Category:       tools.CategoryResearch,
		Parallelizable: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeKBSearch(ctx, searcher, args)
		},
		Schema: &tools.ToolSchema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {
					Type:        "string",
					Description: "Text to look for in note titles and content",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum notes to return (default: 5)",
					Default:     5,
				},
			},
		},
	}
}

func executeKBSearch(ctx context.Context, searcher NoteSearcher, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	limit := 5
	if l, ok := intArg(args, "limit"); ok && l > 0 {
		limit = l
	}

	notes, err := searcher.SearchNotes(ctx, query, limit)
	if err != nil {
		return "", fmt.Errorf("knowledge base search failed: %w", err)
	}
	if len(notes) == 0 {
		return "No notes found for: " + query, nil
	}

	var sb strings.Builder
	for i, n := range notes {
		fmt.Fprintf(&sb, "## %d. %s\n", i+1, n.Title)
		if n.Source != "" {
			fmt.Fprintf(&sb, "Source: %s\n", n.Source)
		}
		sb.WriteString(n.Content)
		sb.WriteString("\n\n")
	}

	logging.Research("kb_search: %d notes for %q", len(notes), query)
	return strings.TrimSpace(sb.String()), nil
}
