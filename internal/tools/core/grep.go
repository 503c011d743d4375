package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"fathom/internal/logging"
	"fathom/internal/tools"
)

// GrepTool returns a tool for searching file contents by pattern.
func GrepTool() *tools.Tool {
	return &tools.Tool{
		Name:           "grep",
		Description:    "Search files under a path for lines matching a regular expression",
		Category:       tools.CategoryCore,
		Parallelizable: true,
		Execute:        executeGrep,
		Schema: &tools.ToolSchema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {
					Type:        "string",
					Description: "Regular expression to search for",
				},
				"path": {
					Type:        "string",
					Description: "File or directory to search (default: current directory)",
					Default:     ".",
				},
				"max_matches": {
					Type:        "integer",
					Description: "Stop after this many matches (default: 100)",
					Default:     100,
				},
			},
		},
	}
}

func executeGrep(ctx context.Context, args map[string]any) (string, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	root, _ := args["path"].(string)
	if root == "" {
		root = "."
	}
	maxMatches, ok := intArg(args, "max_matches")
	if !ok || maxMatches <= 0 {
		maxMatches = 100
	}

	logging.ToolsDebug("grep: pattern=%s path=%s", pattern, root)

	var sb strings.Builder
	matches := 0
	err = filepath.WalkDir(root, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if matches >= maxMatches {
			return filepath.SkipAll
		}
		grepFile(p, re, maxMatches, &matches, &sb)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	if matches == 0 {
		return "no matches", nil
	}
	return sb.String(), nil
}

func grepFile(path string, re *regexp.Regexp, maxMatches int, matches *int, sb *strings.Builder) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return // binary file
		}
		if re.MatchString(line) {
			fmt.Fprintf(sb, "%s:%d:%s\n", path, lineNo, line)
			*matches++
			if *matches >= maxMatches {
				return
			}
		}
	}
}
