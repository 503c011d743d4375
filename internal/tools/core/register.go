// Package core provides the local builtin tools: echo, file access, and
// content search.
package core

import (
	"fathom/internal/tools"
)

// RegisterAll adds every core tool to the registry.
func RegisterAll(registry *tools.Registry) error {
	for _, tool := range []*tools.Tool{
		EchoTool(),
		ReadFileTool(),
		WriteFileTool(),
		ListFilesTool(),
		GrepTool(),
	} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
