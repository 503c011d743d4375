package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitializeDisabled(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, false, "info", nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(CloseAll)

	// No logs directory should exist in production mode
	if _, err := os.Stat(filepath.Join(dir, ".fathom", "logs")); !os.IsNotExist(err) {
		t.Errorf("expected no logs directory when debug disabled")
	}

	// Writing through a no-op logger must not panic
	Tools("should be dropped")
}

func TestCategoryFiltering(t *testing.T) {
	dir := t.TempDir()
	err := Initialize(dir, true, "debug", map[string]bool{
		"tools":    true,
		"research": false,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(CloseAll)

	if !IsCategoryEnabled(CategoryTools) {
		t.Error("tools category should be enabled")
	}
	if IsCategoryEnabled(CategoryResearch) {
		t.Error("research category should be disabled")
	}
	// Unlisted categories default to enabled
	if !IsCategoryEnabled(CategoryBudget) {
		t.Error("unlisted category should default to enabled")
	}
}

func TestLogFileWritten(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, true, "debug", nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(CloseAll)

	Tools("hello %s", "world")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, ".fathom", "logs"))
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "tools") {
			data, err := os.ReadFile(filepath.Join(dir, ".fathom", "logs", e.Name()))
			if err != nil {
				t.Fatalf("reading log file: %v", err)
			}
			if !strings.Contains(string(data), "hello world") {
				t.Errorf("log file missing message, got: %s", data)
			}
			found = true
		}
	}
	if !found {
		t.Error("no tools log file written")
	}
}
