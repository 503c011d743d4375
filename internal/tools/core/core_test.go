package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fathom/internal/tools"
)

func TestRegisterAll(t *testing.T) {
	reg := tools.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	for _, name := range []string{"echo", "read_file", "write_file", "list_files", "grep"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
	if len(reg.ListByCategory(tools.CategoryCore)) != 5 {
		t.Errorf("expected 5 core tools, got %d", len(reg.ListByCategory(tools.CategoryCore)))
	}
}

func TestEcho(t *testing.T) {
	out, err := executeEcho(context.Background(), map[string]any{"text": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" {
		t.Errorf("echo = %q, want hello", out)
	}
	if _, err := executeEcho(context.Background(), map[string]any{}); err == nil {
		t.Error("missing text should error")
	}
}

func TestReadFileWithLineRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := executeReadFile(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatal(err)
	}
	if out != "one\ntwo\nthree\nfour" {
		t.Errorf("full read = %q", out)
	}

	// JSON-decoded args arrive as float64.
	out, err = executeReadFile(context.Background(), map[string]any{
		"path":       path,
		"start_line": float64(2),
		"end_line":   float64(3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "two\nthree" {
		t.Errorf("range read = %q, want two\\nthree", out)
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := executeReadFile(context.Background(), map[string]any{"path": "/nonexistent/file"}); err == nil {
		t.Error("missing file should error")
	}
	if _, err := executeReadFile(context.Background(), map[string]any{}); err == nil {
		t.Error("missing path should error")
	}
}

func TestWriteFileCreatesDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "f.txt")

	out, err := executeWriteFile(context.Background(), map[string]any{
		"path":    path,
		"content": "data",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "4 bytes") {
		t.Errorf("result = %q", out)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data" {
		t.Errorf("file content = %q", got)
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)
	os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644)

	out, err := executeListFiles(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Errorf("flat listing = %q", out)
	}
	if strings.Contains(out, "b.txt") {
		t.Error("flat listing should not recurse")
	}

	out, err = executeListFiles(context.Background(), map[string]any{"path": dir, "recursive": true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, filepath.Join("sub", "b.txt")) {
		t.Errorf("recursive listing = %q", out)
	}
}

func TestGrep(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\nfunc main() {}\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.go"), []byte("package other\n"), 0o644)

	out, err := executeGrep(context.Background(), map[string]any{
		"pattern": `^package \w+`,
		"path":    dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "a.go:1:package main") {
		t.Errorf("grep output = %q", out)
	}
	if !strings.Contains(out, "b.go:1:package other") {
		t.Errorf("grep output = %q", out)
	}

	out, err = executeGrep(context.Background(), map[string]any{
		"pattern": "nothing_matches_this",
		"path":    dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "no matches" {
		t.Errorf("grep no-match output = %q", out)
	}

	if _, err := executeGrep(context.Background(), map[string]any{"pattern": "[invalid"}); err == nil {
		t.Error("invalid regex should error")
	}
}
