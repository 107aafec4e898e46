package extract

import (
	"fmt"
	"io"

	"github.com/bcicen/jstream"
	"go.uber.org/zap"

	"github.com/sehnem/verified-sources/source"
)

// JSONLExtractor reads line-delimited JSON files into record batches. Each
// top-level JSON value becomes one record; a partial batch is flushed at the
// end of every file.
type JSONLExtractor struct {
	// ChunkSize is the number of records per batch.
	ChunkSize int
}

// Extract starts decoding the given handles.
func (e *JSONLExtractor) Extract(handles []*source.FileHandle) *JSONLBatches {
	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &JSONLBatches{chunkSize: chunkSize, handles: handles}
}

// JSONLBatches iterates the record batches of one extraction run.
type JSONLBatches struct {
	chunkSize int
	handles   []*source.FileHandle

	pos     int
	stream  io.ReadCloser
	decoder *jstream.Decoder
	values  <-chan *jstream.MetaValue
	fileURL string

	records []Record
	err     error
}

func (b *JSONLBatches) Next() bool {
	if b.err != nil {
		return false
	}
	batch := make([]Record, 0, b.chunkSize)
	for {
		if b.values == nil {
			if !b.openNext() {
				break
			}
		}
		mv, ok := <-b.values
		if !ok {
			// the stream of this file is drained; surface a decoder failure,
			// otherwise flush what accumulated for this file
			err := b.decoder.Err()
			b.closeStream()
			if err != nil {
				b.err = &DecodeError{Format: "jsonl", FileURL: b.fileURL, Err: err}
				return false
			}
			if len(batch) > 0 {
				b.records = batch
				return true
			}
			continue
		}
		record, ok := mv.Value.(map[string]any)
		if !ok {
			b.closeStream()
			b.err = &DecodeError{Format: "jsonl", FileURL: b.fileURL,
				Err: fmt.Errorf("line %v is not a JSON object", mv.Value)}
			return false
		}
		batch = append(batch, record)
		if len(batch) >= b.chunkSize {
			b.records = batch
			return true
		}
	}
	if b.err != nil {
		return false
	}
	if len(batch) > 0 {
		b.records = batch
		return true
	}
	return false
}

func (b *JSONLBatches) Records() []Record {
	return b.records
}

func (b *JSONLBatches) Err() error {
	return b.err
}

// openNext opens the next handle and starts its streaming decoder, returning
// false once all handles are consumed or on failure.
func (b *JSONLBatches) openNext() bool {
	if b.pos >= len(b.handles) {
		return false
	}
	handle := b.handles[b.pos]
	b.pos++
	b.fileURL = handle.Item.FileURL

	stream, err := handle.Open(nil)
	if err != nil {
		b.err = fmt.Errorf("opening %q: %w", b.fileURL, err)
		return false
	}
	b.stream = stream
	// emit depth 0 yields each top-level JSON value, one per line
	b.decoder = jstream.NewDecoder(stream, 0)
	b.values = b.decoder.Stream()
	log.Trace("jsonl file opened", zap.String("fileURL", b.fileURL))
	return true
}

func (b *JSONLBatches) closeStream() {
	if b.stream != nil {
		if err := b.stream.Close(); err != nil {
			log.Error("failed to close jsonl stream", zap.String("fileURL", b.fileURL), zap.Error(err))
		}
		b.stream = nil
	}
	b.decoder = nil
	b.values = nil
}
