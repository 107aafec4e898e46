package extract

import (
	"errors"
	"testing"
	"time"

	"github.com/sehnem/verified-sources/source"
)

// cachedHandle builds a file handle whose content is already materialized, so
// extraction never needs a filesystem.
func cachedHandle(t *testing.T, name string, content string) *source.FileHandle {
	t.Helper()
	item := &source.FileItem{
		FileName:    name,
		FileURL:     "file:///samples/" + name,
		SizeInBytes: int64(len(content)),
	}
	if err := item.SetContent([]byte(content)); err != nil {
		t.Fatalf("SetContent error: %v", err)
	}
	return source.NewFileHandle(item, nil)
}

func drain(t *testing.T, batches Batches) [][]Record {
	t.Helper()
	var ret [][]Record
	for batches.Next() {
		ret = append(ret, batches.Records())
	}
	if err := batches.Err(); err != nil {
		t.Fatalf("extraction error: %v", err)
	}
	return ret
}

const metCSV = "code,date,temperature\n" +
	"A,2023-01-01,1.5\n" +
	"B,2023-06-01,2.5\n" +
	"C,2024-01-01,3.5\n"

func TestCSVIncrementalFilter(t *testing.T) {
	extractor := &CSVExtractor{CursorField: "date", ChunkSize: 15}
	highWater := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	batches := extractor.Extract([]*source.FileHandle{cachedHandle(t, "met.csv", metCSV)}, highWater)
	records := drain(t, batches)
	if len(records) != 1 {
		t.Fatalf("got %d record batches; want 1", len(records))
	}
	rows := records[0]
	if len(rows) != 2 {
		t.Fatalf("got %d rows; want 2 beyond the high-water mark", len(rows))
	}
	// original order is preserved
	if rows[0]["code"] != "B" || rows[1]["code"] != "C" {
		t.Errorf("surviving rows = %v, %v; want codes B, C", rows[0]["code"], rows[1]["code"])
	}

	wantMax := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !batches.MaxCursor().Equal(wantMax) {
		t.Errorf("MaxCursor() = %v; want %v", batches.MaxCursor(), wantMax)
	}
}

func TestCSVCursorNormalized(t *testing.T) {
	extractor := &CSVExtractor{CursorField: "date", ChunkSize: 10}
	batches := extractor.Extract([]*source.FileHandle{cachedHandle(t, "met.csv", metCSV)}, time.Time{})
	records := drain(t, batches)
	if len(records) != 1 || len(records[0]) != 3 {
		t.Fatalf("unexpected batches: %v", records)
	}
	if _, ok := records[0][0]["date"].(time.Time); !ok {
		t.Errorf("date field = %T; want time.Time", records[0][0]["date"])
	}
}

func TestCSVColumnSubset(t *testing.T) {
	extractor := &CSVExtractor{Columns: []string{"code", "date"}, CursorField: "date", ChunkSize: 10}
	batches := extractor.Extract([]*source.FileHandle{cachedHandle(t, "met.csv", metCSV)}, time.Time{})
	records := drain(t, batches)
	for _, row := range records[0] {
		if _, ok := row["temperature"]; ok {
			t.Errorf("row %v carries a column outside the subset", row)
		}
		if _, ok := row["code"]; !ok {
			t.Errorf("row %v is missing the code column", row)
		}
	}
}

func TestCSVChunking(t *testing.T) {
	content := "id,date\n"
	for i := 0; i < 7; i++ {
		content += "r,2024-01-02\n"
	}
	extractor := &CSVExtractor{CursorField: "date", ChunkSize: 3}
	batches := extractor.Extract([]*source.FileHandle{cachedHandle(t, "rows.csv", content)}, time.Time{})
	records := drain(t, batches)
	sizes := make([]int, 0, len(records))
	for _, batch := range records {
		sizes = append(sizes, len(batch))
	}
	want := []int{3, 3, 1}
	if len(sizes) != len(want) {
		t.Fatalf("batch sizes = %v; want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d has %d rows; want %d", i, sizes[i], want[i])
		}
	}
}

func TestCSVWithoutCursorKeepsAllRows(t *testing.T) {
	extractor := &CSVExtractor{ChunkSize: 10}
	batches := extractor.Extract([]*source.FileHandle{cachedHandle(t, "met.csv", metCSV)}, time.Time{})
	records := drain(t, batches)
	if len(records) != 1 || len(records[0]) != 3 {
		t.Errorf("got %v; want one batch of 3 rows", records)
	}
}

func TestCSVDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"ragged row", "a,b\n1,2,3\n"},
		{"missing cursor field", "a,b\n1,2\n"},
		{"bad timestamp", "a,date\n1,not-a-date\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := &CSVExtractor{CursorField: "date", ChunkSize: 10}
			batches := extractor.Extract([]*source.FileHandle{cachedHandle(t, "bad.csv", tt.content)}, time.Time{})
			for batches.Next() {
			}
			var decodeErr *DecodeError
			if !errors.As(batches.Err(), &decodeErr) {
				t.Errorf("Err() = %v; want a DecodeError", batches.Err())
			}
		})
	}
}

func TestCSVSpansMultipleFiles(t *testing.T) {
	handles := []*source.FileHandle{
		cachedHandle(t, "one.csv", "id,date\n1,2024-01-01\n2,2024-01-02\n"),
		cachedHandle(t, "two.csv", "id,date\n3,2024-01-03\n"),
	}
	extractor := &CSVExtractor{CursorField: "date", ChunkSize: 2}
	records := drain(t, extractor.Extract(handles, time.Time{}))
	total := 0
	for _, batch := range records {
		total += len(batch)
	}
	if total != 3 {
		t.Errorf("extracted %d rows; want 3 across both files", total)
	}
}
