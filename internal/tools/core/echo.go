package core

import (
	"context"
	"fmt"

	"fathom/internal/tools"
)

// EchoTool returns a tool that reflects its input back. Useful for
// exercising the execution pipeline end to end.
func EchoTool() *tools.Tool {
	return &tools.Tool{
		Name:           "echo",
		Description:    "Return the given text unchanged",
		Category:       tools.CategoryCore,
		Parallelizable: true,
		Execute:        executeEcho,
		Schema: &tools.ToolSchema{
			Required: []string{"text"},
			Properties: map[string]tools.Property{
				"text": {
					Type:        "string",
					Description: "The text to echo back",
				},
			},
		},
	}
}

func executeEcho(ctx context.Context, args map[string]any) (string, error) {
	text, ok := args["text"].(string)
	if !ok {
		return "", fmt.Errorf("text is required")
	}
	return text, nil
}
