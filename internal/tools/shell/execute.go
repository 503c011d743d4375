// Package shell provides command execution as a confirmation-gated tool.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"fathom/internal/logging"
	"fathom/internal/tools"
)

// RunCommandTool returns a tool for executing shell commands. Execution
// is gated behind confirmation; the per-call deadline comes from the
// executor's context.
func RunCommandTool() *tools.Tool {
	return &tools.Tool{
		Name:                 "run_command",
		Description:          "Execute a shell command and return its combined output",
		Category:             tools.CategoryShell,
		SideEffecting:        true,
		RequiresConfirmation: true,
		Execute:              executeRunCommand,
		Schema: &tools.ToolSchema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {
					Type:        "string",
					Description: "The command to execute",
				},
				"working_dir": {
					Type:        "string",
					Description: "Working directory for the command",
				},
			},
		},
	}
}

// RegisterAll adds every shell tool to the registry.
func RegisterAll(registry *tools.Registry) error {
	return registry.Register(RunCommandTool())
}

func executeRunCommand(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	workingDir, _ := args["working_dir"].(string)

	logging.ToolsDebug("run_command: cmd=%s dir=%s", command, workingDir)

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("command timed out")
		}
		logging.Tools("run_command failed: %s (%v)", command, err)
		return output, fmt.Errorf("command failed: %w", err)
	}

	logging.Tools("run_command completed: %s (%d bytes)", command, len(output))
	return output, nil
}
