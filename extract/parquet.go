package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/sehnem/verified-sources/source"
)

// ParquetExtractor reads columnar files into record batches, one batch per row
// group: the row group size of the file, not a separate buffer, determines
// batch granularity.
type ParquetExtractor struct{}

// Extract starts decoding the given handles.
func (e *ParquetExtractor) Extract(handles []*source.FileHandle) *ParquetBatches {
	return &ParquetBatches{handles: handles}
}

// ParquetBatches iterates the record batches of one extraction run.
type ParquetBatches struct {
	handles []*source.FileHandle

	pos      int
	file     *parquet.File
	groups   []parquet.RowGroup
	groupPos int
	columns  []string
	fileURL  string

	records []Record
	err     error
}

func (b *ParquetBatches) Next() bool {
	if b.err != nil {
		return false
	}
	for {
		if b.file == nil {
			if !b.openNext() {
				return false
			}
		}
		if b.groupPos >= len(b.groups) {
			b.file = nil
			continue
		}
		group := b.groups[b.groupPos]
		b.groupPos++

		records, err := b.readGroup(group)
		if err != nil {
			b.err = err
			return false
		}
		if len(records) == 0 {
			continue
		}
		b.records = records
		return true
	}
}

func (b *ParquetBatches) Records() []Record {
	return b.records
}

func (b *ParquetBatches) Err() error {
	return b.err
}

// openNext materializes the next handle's content and opens it as a columnar
// file, returning false once all handles are consumed or on failure. Parquet
// needs random access, so the content is read in full first.
func (b *ParquetBatches) openNext() bool {
	if b.pos >= len(b.handles) {
		return false
	}
	handle := b.handles[b.pos]
	b.pos++
	b.fileURL = handle.Item.FileURL

	content, err := handle.ReadBytes()
	if err != nil {
		b.err = fmt.Errorf("reading %q: %w", b.fileURL, err)
		return false
	}
	file, err := parquet.OpenFile(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		b.err = &DecodeError{Format: "parquet", FileURL: b.fileURL, Err: err}
		return false
	}
	b.file = file
	b.groups = file.RowGroups()
	b.groupPos = 0
	b.columns = leafColumns(file.Schema())
	log.Debug("parquet file opened", zap.String("fileURL", b.fileURL),
		zap.Int64("rows", file.NumRows()), zap.Int("rowGroups", len(b.groups)))
	return true
}

// readGroup decodes one row group into an ordered sequence of records.
func (b *ParquetBatches) readGroup(group parquet.RowGroup) ([]Record, error) {
	records := make([]Record, 0, group.NumRows())
	rows := group.Rows()
	defer func(rows parquet.Rows) {
		if err := rows.Close(); err != nil {
			log.Error("failed to close row group reader", zap.String("fileURL", b.fileURL), zap.Error(err))
		}
	}(rows)

	buf := make([]parquet.Row, 1)
	for {
		n, err := rows.ReadRows(buf)
		if n > 0 {
			record := make(Record, len(b.columns))
			for _, value := range buf[0] {
				column := value.Column()
				if column < 0 || column >= len(b.columns) {
					return nil, &DecodeError{Format: "parquet", FileURL: b.fileURL,
						Err: fmt.Errorf("value addresses unknown column %d", column)}
				}
				record[b.columns[column]] = parquetValue(value)
			}
			records = append(records, record)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &DecodeError{Format: "parquet", FileURL: b.fileURL, Err: err}
		}
	}
	return records, nil
}

// parquetValue converts a parquet value into the plain Go representation
// carried in records.
func parquetValue(value parquet.Value) any {
	if value.IsNull() {
		return nil
	}
	switch value.Kind() {
	case parquet.Boolean:
		return value.Boolean()
	case parquet.Int32:
		return value.Int32()
	case parquet.Int64:
		return value.Int64()
	case parquet.Float:
		return value.Float()
	case parquet.Double:
		return value.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return value.String()
	default:
		return value.String()
	}
}

// leafColumns returns the dotted names of the schema's leaf columns, indexed
// by column position.
func leafColumns(schema *parquet.Schema) []string {
	paths := schema.Columns()
	ret := make([]string, 0, len(paths))
	for _, path := range paths {
		ret = append(ret, strings.Join(path, "."))
	}
	return ret
}
