package source

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/sehnem/verified-sources/fsys"
)

// DefaultChunkSize is the number of files per batch when none is configured.
const DefaultChunkSize = 10

// Batcher turns the enumerated file sequence into bounded batches of file
// handles, optionally extracting each file's content eagerly at discovery
// time. A batch flushes once it holds chunkSize files; the final partial batch
// is yielded exactly once, and no batch is ever empty.
type Batcher struct {
	files          *FileIterator
	credentials    *fsys.Credentials
	chunkSize      int
	extractContent bool

	batch []*FileHandle
	err   error
	done  bool
}

// NewBatcher wraps the enumerated files with the credentials handed to each
// handle. With extractContent the full file content is read into the item at
// batching time, so downstream opens never touch the filesystem again.
func NewBatcher(files *FileIterator, credentials *fsys.Credentials, chunkSize int, extractContent bool) *Batcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Batcher{
		files:          files,
		credentials:    credentials,
		chunkSize:      chunkSize,
		extractContent: extractContent,
	}
}

// Next assembles the next batch, returning false on exhaustion or failure.
// Files appear in enumeration order, without reordering or deduplication.
func (b *Batcher) Next() bool {
	if b.err != nil || b.done {
		return false
	}

	batch := make([]*FileHandle, 0, b.chunkSize)
	for b.files.Next() {
		handle := NewFileHandle(b.files.Item(), b.credentials)
		if b.extractContent {
			if err := b.extract(handle); err != nil {
				b.err = err
				return false
			}
		}
		batch = append(batch, handle)

		// wait for the chunk to be full
		if len(batch) >= b.chunkSize {
			b.batch = batch
			return true
		}
	}
	if err := b.files.Err(); err != nil {
		b.err = err
		return false
	}

	b.done = true
	if len(batch) > 0 {
		b.batch = batch
		return true
	}
	return false
}

// Batch returns the batch assembled by the last successful Next call.
func (b *Batcher) Batch() []*FileHandle {
	return b.batch
}

// Err reports the failure that terminated batching, if any.
func (b *Batcher) Err() error {
	return b.err
}

// extract materializes the file content onto the item. When the extension gave
// no MIME type, the content sniff fills it in.
func (b *Batcher) extract(handle *FileHandle) error {
	content, err := handle.ReadBytes()
	if err != nil {
		return fmt.Errorf("extracting %q: %w", handle.Item.FileURL, err)
	}
	if err := handle.Item.SetContent(content); err != nil {
		return err
	}
	if handle.Item.MimeType == "" {
		handle.Item.MimeType = mimetype.Detect(content).String()
	}
	log.Trace("extracted file content", zap.String("fileURL", handle.Item.FileURL),
		zap.Int("bytes", len(content)))
	return nil
}
