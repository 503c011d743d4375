// Package tools defines the tool contract, the registry, and the result
// envelope shared by the executor and the tool-calling loop.
package tools

import (
	"context"
	"fmt"
)

// Tool categories.
const (
	CategoryCore     = "core"
	CategoryShell    = "shell"
	CategoryResearch = "research"
)

// ExecuteFunc is the signature every tool implements. The context carries
// the per-invocation timeout; args have already passed schema validation
// by the time a tool sees them.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is a self-describing capability the model may invoke.
type Tool struct {
	// Name uniquely identifies the tool within a registry.
	Name string

	// Description tells the model what the tool does and when to use it.
	Description string

	// Category groups tools for listing ("core", "shell", "research").
	Category string

	// Provider names the upstream service this tool consumes. Tools that
	// share a provider share a rate limit. Empty means purely local.
	Provider string

	// SideEffecting marks tools that change state outside the process
	// (writes, subprocesses). Such tools must also set
	// RequiresConfirmation; registration rejects the combination
	// side-effecting-but-unconfirmed.
	SideEffecting bool

	// RequiresConfirmation gates execution behind an explicit approval
	// token. Set for anything destructive.
	RequiresConfirmation bool

	// Parallelizable marks the tool safe to run concurrently with other
	// calls in the same cycle.
	Parallelizable bool

	// Schema describes the arguments. Validated before every execution.
	Schema *ToolSchema

	// Execute runs the tool.
	Execute ExecuteFunc
}

// Validate enforces the registration contract. A violation is a
// programming error in the tool's constructor, not a runtime state.
func (t *Tool) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tool")
	}
	if t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %q has no execute function", t.Name)
	}
	if t.SideEffecting && !t.RequiresConfirmation {
		return fmt.Errorf("side-effecting tool %q must require confirmation", t.Name)
	}
	return nil
}

// ToolSchema describes tool arguments as a JSON Schema object.
type ToolSchema struct {
	Required   []string
	Properties map[string]Property
}

// Property describes a single argument.
type Property struct {
	Type        string   // "string", "integer", "number", "boolean", "array"
	Description string
	Enum        []string
	Items       *Property // element type when Type is "array"
	Default     any
}

// ToJSONSchema renders the schema as a plain JSON Schema document,
// suitable for the validator and for the model's function declarations.
func (s *ToolSchema) ToJSONSchema() map[string]any {
	doc := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
	}
	if s == nil {
		return doc
	}
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.toJSON()
	}
	doc["properties"] = props
	if len(s.Required) > 0 {
		req := make([]any, len(s.Required))
		for i, r := range s.Required {
			req[i] = r
		}
		doc["required"] = req
	}
	return doc
}

func (p Property) toJSON() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		enum := make([]any, len(p.Enum))
		for i, e := range p.Enum {
			enum[i] = e
		}
		out["enum"] = enum
	}
	if p.Items != nil {
		out["items"] = p.Items.toJSON()
	}
	if p.Default != nil {
		out["default"] = p.Default
	}
	return out
}
