// Package extract implements the per-format readers turning batches of file
// handles into bounded batches of structured records. All extractors share the
// same pull iterator shape: Next advances to the next record batch, Records
// reads it, Err reports the failure that terminated extraction. Decode and
// read failures propagate to the caller, which owns retry policy.
package extract

import (
	"fmt"
	"time"

	"github.com/sehnem/verified-sources/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Logger

// DefaultChunkSize is the number of records per batch when none is configured.
const DefaultChunkSize = 10

// Record is one decoded row, keyed by field name.
type Record = map[string]any

// Batches is the pull iterator every extractor yields record batches through.
type Batches interface {
	// Next advances to the next record batch, returning false on exhaustion
	// or failure.
	Next() bool

	// Records returns the batch produced by the last successful Next call.
	Records() []Record

	// Err reports the failure that terminated extraction, if any.
	Err() error
}

// DecodeError reports content that could not be parsed in the declared format.
type DecodeError struct {
	Format  string
	FileURL string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s content of %q: %v", e.Format, e.FileURL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// timeLayouts are the accepted textual representations of cursor field values,
// tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTime converts a timestamp-like value into its canonical time.Time
// representation. Strings are parsed against the accepted layouts.
func NormalizeTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
	}
	return time.Time{}, fmt.Errorf("value %v is not timestamp-like", value)
}
