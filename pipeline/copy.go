package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sehnem/verified-sources/source"
)

// CopyFiles writes the content of every handle in the batch under the given
// storage directory, preserving the relative file names, and records the
// resulting absolute path on each item. The copied items are returned so the
// caller can load the listing downstream.
func CopyFiles(batch []*source.FileHandle, storagePath string) ([]*source.FileItem, error) {
	storagePath, err := filepath.Abs(storagePath)
	if err != nil {
		return nil, fmt.Errorf("invalid storage path %q: %w", storagePath, err)
	}
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage path %q: %w", storagePath, err)
	}

	items := make([]*source.FileItem, 0, len(batch))
	for _, handle := range batch {
		dst := filepath.Join(storagePath, filepath.FromSlash(handle.Item.FileName))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %q: %w", dst, err)
		}
		content, err := handle.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", handle.Item.FileURL, err)
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %q: %w", dst, err)
		}
		handle.Item.LocalPath = dst
		items = append(items, handle.Item)
		log.Trace("copied file", zap.String("fileURL", handle.Item.FileURL), zap.String("path", dst))
	}
	return items, nil
}
