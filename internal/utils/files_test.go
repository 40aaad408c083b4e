package utils

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// #nosec G306 -- test files are temporary.
func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil { // #nosec G306
		t.Fatalf("Failed to create test file: %v", err)
	}
}

func TestResolveFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "notes", "wifi.txt"), "hunter2")
	writeTestFile(t, filepath.Join(dir, "notes", "deep", "alarm.txt"), "1234")
	writeTestFile(t, filepath.Join(dir, "notes", "deep", "photo.png"), "")
	writeTestFile(t, filepath.Join(dir, ProjectDirName, "shares", "x.txt"), "{}")

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{"literal file", []string{"notes/wifi.txt"}, []string{"notes/wifi.txt"}},
		{"double star", []string{"**/*.txt"}, []string{"notes/deep/alarm.txt", "notes/wifi.txt"}},
		{"directory", []string{"notes"}, []string{"notes/deep/alarm.txt", "notes/deep/photo.png", "notes/wifi.txt"}},
		{"deduplicated", []string{"notes/wifi.txt", "notes/*.txt"}, []string{"notes/wifi.txt"}},
		{"braces", []string{"notes/**/*.{png,txt}"}, []string{"notes/deep/alarm.txt", "notes/deep/photo.png", "notes/wifi.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := ResolveFiles(tt.patterns, dir)
			if err != nil {
				t.Fatalf("ResolveFiles failed: %v", err)
			}
			var got []string
			for _, f := range files {
				rel, _ := filepath.Rel(dir, f)
				got = append(got, filepath.ToSlash(rel))
			}
			sort.Strings(got)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
					break
				}
			}
		})
	}
}

func TestResolveFiles_Errors(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, ProjectDirName, "config.toml"), "")

	if _, err := ResolveFiles([]string{"missing.txt"}, dir); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := ResolveFiles([]string{"*.nothing"}, dir); err == nil {
		t.Error("Expected error when nothing matches")
	}
	if _, err := ResolveFiles([]string{ProjectDirName + "/config.toml"}, dir); err == nil {
		t.Error("Expected project files to be refused")
	}
	if _, err := ResolveFiles(nil, dir); err == nil {
		t.Error("Expected error for no patterns")
	}
}
