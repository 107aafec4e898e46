package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sehnem/verified-sources/source"
)

// CSVExtractor reads delimited text files into record batches, optionally
// keeping only the columns listed and filtering rows against a high-water mark
// on a timestamp-like cursor field.
type CSVExtractor struct {
	// Columns restricts the decoded fields to the listed names; empty keeps all.
	Columns []string

	// CursorField names the timestamp-like field driving incremental loads;
	// empty disables filtering.
	CursorField string

	// ChunkSize is the number of surviving rows per record batch.
	ChunkSize int
}

// Extract starts decoding the given handles. The high-water mark is read once
// here: only rows whose cursor value is strictly greater survive, so a resumed
// run never reprocesses rows committed before it.
func (e *CSVExtractor) Extract(handles []*source.FileHandle, highWater time.Time) *CSVBatches {
	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	columns := make(map[string]struct{}, len(e.Columns))
	for _, column := range e.Columns {
		columns[column] = struct{}{}
	}
	return &CSVBatches{
		extractor: e,
		columns:   columns,
		chunkSize: chunkSize,
		handles:   handles,
		highWater: highWater,
		maxCursor: highWater,
	}
}

// CSVBatches iterates the record batches of one extraction run. Streams are
// opened per file and closed before the next file starts.
type CSVBatches struct {
	extractor *CSVExtractor
	columns   map[string]struct{}
	chunkSize int
	handles   []*source.FileHandle
	highWater time.Time

	pos     int
	stream  io.ReadCloser
	reader  *csv.Reader
	header  []string
	fileURL string

	records   []Record
	maxCursor time.Time
	err       error
}

func (b *CSVBatches) Next() bool {
	if b.err != nil {
		return false
	}
	batch := make([]Record, 0, b.chunkSize)
	for {
		if b.reader == nil {
			if !b.openNext() {
				break
			}
		}
		row, err := b.reader.Read()
		if errors.Is(err, io.EOF) {
			b.closeStream()
			continue
		}
		if err != nil {
			b.fail(&DecodeError{Format: "csv", FileURL: b.fileURL, Err: err})
			return false
		}
		record, keep, err := b.decodeRow(row)
		if err != nil {
			b.fail(err)
			return false
		}
		if !keep {
			continue
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

func (b *CSVBatches) Records() []Record {
	return b.records
}

func (b *CSVBatches) Err() error {
	return b.err
}

// MaxCursor returns the greatest cursor value seen in the rows yielded so far.
// The enclosing pipeline persists it after the batch it belongs to commits.
func (b *CSVBatches) MaxCursor() time.Time {
	return b.maxCursor
}

// openNext opens the next handle and reads its header row, returning false
// once all handles are consumed or on failure.
func (b *CSVBatches) openNext() bool {
	if b.pos >= len(b.handles) {
		return false
	}
	handle := b.handles[b.pos]
	b.pos++
	b.fileURL = handle.Item.FileURL

	stream, err := handle.Open(&source.OpenOptions{NewlineTranslation: true})
	if err != nil {
		b.fail(fmt.Errorf("opening %q: %w", b.fileURL, err))
		return false
	}
	b.stream = stream
	b.reader = csv.NewReader(stream)

	header, err := b.reader.Read()
	if err != nil {
		b.closeStream()
		b.fail(&DecodeError{Format: "csv", FileURL: b.fileURL, Err: fmt.Errorf("reading header: %w", err)})
		return false
	}
	b.header = header
	log.Trace("csv file opened", zap.String("fileURL", b.fileURL), zap.Strings("header", header))
	return true
}

// decodeRow maps a raw row onto the header, applies the column subset and the
// high-water filter, and normalizes the cursor field value.
func (b *CSVBatches) decodeRow(row []string) (Record, bool, error) {
	if len(row) != len(b.header) {
		return nil, false, &DecodeError{Format: "csv", FileURL: b.fileURL,
			Err: fmt.Errorf("row has %d fields, header has %d", len(row), len(b.header))}
	}
	record := make(Record, len(b.header))
	for i, name := range b.header {
		if len(b.columns) > 0 {
			if _, ok := b.columns[name]; !ok {
				continue
			}
		}
		record[name] = row[i]
	}
	if b.extractor.CursorField == "" {
		return record, true, nil
	}

	raw, ok := record[b.extractor.CursorField]
	if !ok {
		return nil, false, &DecodeError{Format: "csv", FileURL: b.fileURL,
			Err: fmt.Errorf("cursor field %q is missing", b.extractor.CursorField)}
	}
	cursor, err := NormalizeTime(raw)
	if err != nil {
		return nil, false, &DecodeError{Format: "csv", FileURL: b.fileURL, Err: err}
	}
	record[b.extractor.CursorField] = cursor

	// the mark was read once at the start of the run; rows at or before it
	// were committed by an earlier run and are dropped
	if !cursor.After(b.highWater) {
		return nil, false, nil
	}
	if cursor.After(b.maxCursor) {
		b.maxCursor = cursor
	}
	return record, true, nil
}

func (b *CSVBatches) closeStream() {
	if b.stream != nil {
		if err := b.stream.Close(); err != nil {
			log.Error("failed to close csv stream", zap.String("fileURL", b.fileURL), zap.Error(err))
		}
		b.stream = nil
	}
	b.reader = nil
	b.header = nil
}

// fail records the terminal error and releases the open stream.
func (b *CSVBatches) fail(err error) {
	b.closeStream()
	b.err = err
}
