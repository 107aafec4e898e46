package fsys

import (
	"os"
	"path/filepath"
	"testing"
)

// writeFile creates a file with the given relative path under dir.
func writeFile(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLocalGlob(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	writeFile(t, dir, "met/one.csv", "a,b\n1,2\n")
	writeFile(t, dir, "met/two.csv", "a,b\n3,4\n")
	writeFile(t, dir, "jsonl/data.jsonl", "{}\n")
	writeFile(t, dir, "readme.txt", "hello")

	client := NewLocalClient()

	tests := []struct {
		name    string
		pattern string
		files   int
	}{
		{"all files recursively", dir + "/**/*", 4},
		{"csv only", dir + "/met/*.csv", 2},
		{"single subdir", dir + "/jsonl/*", 1},
		{"no match", dir + "/met/*.parquet", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := client.Glob(tt.pattern)
			if err != nil {
				t.Fatalf("Glob(%q) error: %v", tt.pattern, err)
			}
			files := 0
			for _, entry := range entries {
				if entry.Type == EntryTypeFile {
					files++
				}
			}
			if files != tt.files {
				t.Errorf("Glob(%q) = %d files; want %d", tt.pattern, files, tt.files)
			}
		})
	}
}

func TestLocalGlobMetadata(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	path := writeFile(t, dir, "data.csv", "a,b\n1,2\n")

	client := NewLocalClient()
	entries, err := client.Glob(dir + "/*.csv")
	if err != nil {
		t.Fatalf("Glob error: %v", err)
	}
	entry, ok := entries[filepath.ToSlash(path)]
	if !ok {
		t.Fatalf("entry for %s not found in %v", path, entries)
	}
	if entry.Type != EntryTypeFile {
		t.Errorf("entry type = %q; want %q", entry.Type, EntryTypeFile)
	}
	if entry.Size != int64(len("a,b\n1,2\n")) {
		t.Errorf("entry size = %d; want %d", entry.Size, len("a,b\n1,2\n"))
	}
	if _, ok := entry.Meta["mtime"]; !ok {
		t.Errorf("entry metadata is missing the mtime key: %v", entry.Meta)
	}
}

func TestLocalGlobInvalidPattern(t *testing.T) {
	client := NewLocalClient()
	if _, err := client.Glob("/tmp/[broken"); err == nil {
		t.Errorf("Glob() was supposed to return an error for a broken pattern")
	}
}

func TestLocalGlobUnreachableRoot(t *testing.T) {
	client := NewLocalClient()
	if _, err := client.Glob("/does/not/exist/**/*"); err == nil {
		t.Errorf("Glob() was supposed to return an error for an unreachable root")
	}
}

func TestLocalReadAndOpen(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	path := writeFile(t, dir, "data.txt", "content")

	client := NewLocalClient()
	content, err := client.ReadBytes(filepath.ToSlash(path))
	if err != nil {
		t.Fatalf("ReadBytes error: %v", err)
	}
	if string(content) != "content" {
		t.Errorf("ReadBytes = %q; want %q", content, "content")
	}
}

func TestPatternBase(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"/tmp/data/**/*.csv", "/tmp/data"},
		{"/tmp/data/file.csv", "/tmp/data/file.csv"},
		{"*.csv", "."},
		{"/*.csv", "/"},
		{"bucket/prefix/*.parquet", "bucket/prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := patternBase(tt.pattern); got != tt.want {
				t.Errorf("patternBase(%q) = %q; want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		url     string
		want    Protocol
		wantErr bool
	}{
		{"/tmp/data", ProtocolFile, false},
		{"file:///tmp/data", ProtocolFile, false},
		{"s3://bucket/prefix", ProtocolS3, false},
		{"webdav://host/share", ProtocolWebdav, false},
		{"webdavs://host/share", ProtocolWebdavs, false},
		{"ftp://host/share", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ParseProtocol(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProtocol(%q) error = %v; wantErr %v", tt.url, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseProtocol(%q) = %q; want %q", tt.url, got, tt.want)
			}
		})
	}
}
