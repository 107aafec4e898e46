package fsys

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// LocalClient serves bucket URLs on the local filesystem, with or without the
// file:// scheme.
type LocalClient struct{}

// NewLocalClient is a constructor for creating a new LocalClient.
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

func (c *LocalClient) Protocol() Protocol {
	return ProtocolFile
}

// Glob walks the longest wildcard-free prefix of the pattern and reports every
// entry whose path matches, directories included.
func (c *LocalClient) Glob(pattern string) (map[string]Entry, error) {
	pattern = filepath.ToSlash(pattern)
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}

	base := patternBase(pattern)
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("glob root %q: %w", base, err)
	}
	if !info.IsDir() {
		// the pattern addresses a single file directly
		return map[string]Entry{base: localEntry(info)}, nil
	}

	ret := make(map[string]Entry)
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		slashPath := filepath.ToSlash(path)
		matched, err := doublestar.Match(pattern, slashPath)
		if err != nil {
			return fmt.Errorf("matching %q against %q: %w", slashPath, pattern, err)
		}
		if !matched {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %q: %w", path, err)
		}
		ret[slashPath] = localEntry(info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	log.Trace("local glob done", zap.String("pattern", pattern), zap.Int("matches", len(ret)))
	return ret, nil
}

func (c *LocalClient) Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", path, err)
	}
	return file, nil
}

func (c *LocalClient) ReadBytes(path string) ([]byte, error) {
	content, err := os.ReadFile(filepath.FromSlash(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}
	return content, nil
}

// localEntry converts an os.FileInfo into the protocol neutral Entry shape.
// The modification time travels under the "mtime" key, matching the local
// branch of the enumerator's mtime dispatch table.
func localEntry(info fs.FileInfo) Entry {
	entryType := EntryTypeFile
	if info.IsDir() {
		entryType = EntryTypeDirectory
	} else if !info.Mode().IsRegular() {
		entryType = EntryTypeOther
	}
	return Entry{
		Type: entryType,
		Size: info.Size(),
		Meta: map[string]any{"mtime": info.ModTime()},
	}
}

// patternBase returns the longest prefix of the pattern holding no wildcard,
// which is the directory the walk starts from.
func patternBase(pattern string) string {
	segments := strings.Split(pattern, "/")
	base := make([]string, 0, len(segments))
	for _, segment := range segments {
		if strings.ContainsAny(segment, "*?[{") {
			break
		}
		base = append(base, segment)
	}
	joined := strings.Join(base, "/")
	if joined == "" {
		if len(base) > 0 {
			// the pattern is rooted at "/"
			return "/"
		}
		return "."
	}
	return joined
}
