package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"fathom/internal/logging"
	"fathom/internal/tools"
)

// Gemini is the Client backed by Google's Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{client: client, model: model, timeout: timeout}, nil
}

// Generate sends the conversation and tool declarations to the model and
// decodes its reply.
func (g *Gemini) Generate(ctx context.Context, system string, history []Message, available []*tools.Tool) (*Turn, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if decls := toDeclarations(available); len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := toContents(history)

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		logging.APIError("generate failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	logging.APIDebug("generate completed in %s", time.Since(start).Round(time.Millisecond))

	return decodeTurn(resp)
}

// toContents converts neutral history to the Gemini wire shape.
func toContents(history []Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))
		case RoleModel:
			var parts []*genai.Part
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: call.Args,
					},
				})
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case RoleTool:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.CallID,
					Name:     m.ToolName,
					Response: m.Response,
				},
			}}, genai.RoleUser))
		}
	}
	return contents
}

// toDeclarations converts tool contracts to function declarations.
func toDeclarations(available []*tools.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(available))
	for _, t := range available {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGenAISchema(t.Schema),
		})
	}
	return decls
}

// toGenAISchema converts a tool schema to the Gemini schema type.
func toGenAISchema(s *tools.ToolSchema) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject}
	if s == nil {
		return out
	}
	out.Required = append(out.Required, s.Required...)
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGenAIProperty(p)
		}
	}
	return out
}

func toGenAIProperty(p tools.Property) *genai.Schema {
	sch := &genai.Schema{Description: p.Description}
	switch p.Type {
	case "string":
		sch.Type = genai.TypeString
	case "integer":
		sch.Type = genai.TypeInteger
	case "number":
		sch.Type = genai.TypeNumber
	case "boolean":
		sch.Type = genai.TypeBoolean
	case "array":
		sch.Type = genai.TypeArray
		if p.Items != nil {
			sch.Items = toGenAIProperty(*p.Items)
		}
	default:
		sch.Type = genai.TypeString
	}
	if len(p.Enum) > 0 {
		sch.Enum = append(sch.Enum, p.Enum...)
	}
	return sch
}

// decodeTurn extracts text and tool calls from a model response.
func decodeTurn(resp *genai.GenerateContentResponse) (*Turn, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("model returned no candidates")
	}

	turn := &Turn{}
	seq := 0
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			turn.Text += part.Text
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				seq++
				id = fmt.Sprintf("call-%d", seq)
			}
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	return turn, nil
}
