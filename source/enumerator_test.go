package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sehnem/verified-sources/fsys"
)

// anonymous local access needs no secrets but must carry a credentials value
var localCredentials = &fsys.Credentials{}

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

// sampleBucket creates a small local bucket and returns its path.
func sampleBucket(t *testing.T) string {
	t.Helper()
	dir := filepath.ToSlash(t.TempDir())
	writeFile(t, dir, "met/one.csv", "code,date,temperature\nA,2023-01-01,1.5\n")
	writeFile(t, dir, "met/two.csv", "code,date,temperature\nB,2023-06-01,2.5\n")
	writeFile(t, dir, "jsonl/data.jsonl", "{\"id\": 1}\n")
	writeFile(t, dir, "readme.txt", "hello")
	return dir
}

func collect(t *testing.T, it *FileIterator) []*FileItem {
	t.Helper()
	var items []*FileItem
	for it.Next() {
		items = append(items, it.Item())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return items
}

func TestEnumeratorList(t *testing.T) {
	dir := sampleBucket(t)
	enumerator, err := NewEnumerator(dir, localCredentials)
	if err != nil {
		t.Fatalf("NewEnumerator error: %v", err)
	}

	items := collect(t, mustList(t, enumerator, "met/*.csv"))
	if len(items) != 2 {
		t.Fatalf("List() = %d items; want 2", len(items))
	}

	one := items[0]
	if one.FileName != "met/one.csv" {
		t.Errorf("FileName = %q; want %q", one.FileName, "met/one.csv")
	}
	if one.FileURL != "file://"+dir+"/met/one.csv" {
		t.Errorf("FileURL = %q; want %q", one.FileURL, "file://"+dir+"/met/one.csv")
	}
	if one.MimeType != "text/csv" {
		t.Errorf("MimeType = %q; want %q", one.MimeType, "text/csv")
	}
	if one.ModificationDate.IsZero() {
		t.Errorf("ModificationDate is zero")
	}
	if one.SizeInBytes <= 0 {
		t.Errorf("SizeInBytes = %d; want > 0", one.SizeInBytes)
	}
	if one.Content() != nil {
		t.Errorf("Content() = %v; want nil before extraction", one.Content())
	}
}

func TestEnumeratorNameMatchesURL(t *testing.T) {
	dir := sampleBucket(t)
	enumerator, err := NewEnumerator("file://"+dir, localCredentials)
	if err != nil {
		t.Fatalf("NewEnumerator error: %v", err)
	}
	for _, item := range collect(t, mustList(t, enumerator, "")) {
		want := "file://" + dir + "/" + item.FileName
		if item.FileURL != want {
			t.Errorf("FileURL = %q; want %q", item.FileURL, want)
		}
		info, err := os.Stat(filepath.FromSlash(dir + "/" + item.FileName))
		if err != nil {
			t.Fatalf("stat %s: %v", item.FileName, err)
		}
		if item.SizeInBytes != info.Size() {
			t.Errorf("SizeInBytes of %q = %d; want %d", item.FileName, item.SizeInBytes, info.Size())
		}
	}
}

func TestEnumeratorDefaultGlobRecursive(t *testing.T) {
	dir := sampleBucket(t)
	enumerator, err := NewEnumerator(dir, localCredentials)
	if err != nil {
		t.Fatalf("NewEnumerator error: %v", err)
	}
	// directories are skipped, every file is reported
	items := collect(t, mustList(t, enumerator, ""))
	if len(items) != 4 {
		t.Errorf("List() with the default glob = %d items; want 4", len(items))
	}
}

func TestEnumeratorIdempotent(t *testing.T) {
	dir := sampleBucket(t)
	enumerator, err := NewEnumerator(dir, localCredentials)
	if err != nil {
		t.Fatalf("NewEnumerator error: %v", err)
	}
	first := collect(t, mustList(t, enumerator, ""))
	second := collect(t, mustList(t, enumerator, ""))
	if len(first) != len(second) {
		t.Fatalf("re-listing returned %d items; want %d", len(second), len(first))
	}
	for i := range first {
		if first[i].FileName != second[i].FileName ||
			first[i].FileURL != second[i].FileURL ||
			first[i].SizeInBytes != second[i].SizeInBytes {
			t.Errorf("item %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEnumeratorTripleSlashURL(t *testing.T) {
	dir := sampleBucket(t)
	enumerator, err := NewEnumerator("file://"+dir, localCredentials)
	if err != nil {
		t.Fatalf("NewEnumerator error: %v", err)
	}
	items := collect(t, mustList(t, enumerator, "jsonl/*.jsonl"))
	if len(items) != 1 {
		t.Fatalf("List() = %d items; want 1", len(items))
	}
	if items[0].FileName != "jsonl/data.jsonl" {
		t.Errorf("FileName = %q; want %q", items[0].FileName, "jsonl/data.jsonl")
	}
}

func TestEnumeratorUnsupportedProtocol(t *testing.T) {
	if _, err := NewEnumerator("ftp://host/share", localCredentials); err == nil {
		t.Errorf("NewEnumerator() was supposed to reject an unsupported protocol")
	}
}

func TestGuessMimeType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"data.csv", "text/csv"},
		{"data.json", "application/json"},
		{"archive.unknownext", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := guessMimeType(tt.path); got != tt.want {
				t.Errorf("guessMimeType(%q) = %q; want %q", tt.path, got, tt.want)
			}
		})
	}
}

func mustList(t *testing.T, enumerator *Enumerator, glob string) *FileIterator {
	t.Helper()
	it, err := enumerator.List(glob)
	if err != nil {
		t.Fatalf("List(%q) error: %v", glob, err)
	}
	return it
}
