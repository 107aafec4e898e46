package source

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sehnem/verified-sources/fsys"
)

// DefaultGlob matches every file under the bucket URL recursively.
const DefaultGlob = "**/*"

// extensions the platform MIME table does not know everywhere
func init() {
	_ = mime.AddExtensionType(".csv", "text/csv")
	_ = mime.AddExtensionType(".jsonl", "application/jsonl")
	_ = mime.AddExtensionType(".parquet", "application/vnd.apache.parquet")
}

// mtimeExtractor reads the modification time out of the protocol specific
// metadata reported by a filesystem client.
type mtimeExtractor func(entry fsys.Entry) (time.Time, error)

// mtimeDispatch maps each supported protocol to its modification time
// extraction rule. The table is consulted at enumerator construction, so an
// unsupported protocol fails before any listing happens.
var mtimeDispatch = map[fsys.Protocol]mtimeExtractor{
	fsys.ProtocolFile:    metaTime("mtime"),
	fsys.ProtocolS3:      metaTime("LastModified"),
	fsys.ProtocolWebdav:  metaTime("modified"),
	fsys.ProtocolWebdavs: metaTime("modified"),
}

func metaTime(key string) mtimeExtractor {
	return func(entry fsys.Entry) (time.Time, error) {
		value, ok := entry.Meta[key]
		if !ok {
			return time.Time{}, fmt.Errorf("metadata key %q is missing", key)
		}
		t, ok := value.(time.Time)
		if !ok {
			return time.Time{}, fmt.Errorf("metadata key %q is not a timestamp: %v", key, value)
		}
		return t, nil
	}
}

// Enumerator lists the files under a bucket URL matching a glob pattern,
// normalizing names and URLs and attaching metadata. Listing is restartable:
// every List call evaluates the glob from scratch.
type Enumerator struct {
	bucketURL string
	client    fsys.Client
	mtime     mtimeExtractor
}

// NewEnumerator constructs an enumerator for the given bucket URL. The
// filesystem client and the modification time rule are resolved here, so an
// unknown protocol is rejected at construction.
func NewEnumerator(bucketURL string, credentials *fsys.Credentials) (*Enumerator, error) {
	client, err := fsys.FromCredentials(bucketURL, credentials)
	if err != nil {
		return nil, err
	}
	extractor, ok := mtimeDispatch[client.Protocol()]
	if !ok {
		return nil, fmt.Errorf("no modification time rule for protocol %q", client.Protocol())
	}
	return &Enumerator{bucketURL: bucketURL, client: client, mtime: extractor}, nil
}

// List evaluates the glob under the bucket URL and returns an iterator over
// the matched files, in deterministic path order. Non-file entries are
// skipped. An empty glob matches all files recursively.
func (e *Enumerator) List(glob string) (*FileIterator, error) {
	if glob == "" {
		glob = DefaultGlob
	}

	parsed, err := url.Parse(e.bucketURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket URL %q: %w", e.bucketURL, err)
	}
	protocol := parsed.Scheme
	if protocol == "" {
		protocol = string(fsys.ProtocolFile)
	}

	// absolute paths are not joined, so the leading separator is stripped from
	// the bucket path and restored below for local triple-slash URLs
	bucketPath := path.Join(parsed.Host, strings.TrimLeft(parsed.Path, "/"))
	filterURL := path.Join(bucketPath, glob)
	if strings.HasPrefix(e.bucketURL, "file:///") || strings.HasPrefix(e.bucketURL, "/") {
		filterURL = path.Join("/", filterURL)
	}

	matches, err := e.client.Glob(filterURL)
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", e.bucketURL, err)
	}

	paths := make([]string, 0, len(matches))
	for match := range matches {
		paths = append(paths, match)
	}
	sort.Strings(paths)

	items := make([]*FileItem, 0, len(paths))
	for _, match := range paths {
		entry := matches[match]
		if entry.Type != fsys.EntryTypeFile {
			continue
		}
		modified, err := e.mtime(entry)
		if err != nil {
			return nil, fmt.Errorf("modification time of %q: %w", match, err)
		}
		items = append(items, &FileItem{
			FileName:         strings.TrimLeft(strings.Replace(match, bucketPath, "", 1), "/"),
			FileURL:          fmt.Sprintf("%s://%s", protocol, match),
			MimeType:         guessMimeType(match),
			ModificationDate: modified,
			SizeInBytes:      entry.Size,
		})
	}
	log.Debug("enumerated files", zap.String("bucketURL", e.bucketURL),
		zap.String("glob", glob), zap.Int("count", len(items)))
	return &FileIterator{items: items}, nil
}

// guessMimeType guesses the MIME type from the file name extension, returning
// an empty string when the extension is unknown.
func guessMimeType(filePath string) string {
	mimeType := mime.TypeByExtension(path.Ext(filePath))
	if mimeType == "" {
		return ""
	}
	// strip optional parameters such as "; charset=utf-8"
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.TrimSpace(mimeType)
}

// FileIterator is a pull iterator over enumerated files, in the style of
// pgx.CopyFromSource: Next advances, Item reads the current file, Err reports
// a terminal failure. Abandoning the iterator before exhaustion is safe.
type FileIterator struct {
	items []*FileItem
	pos   int
	item  *FileItem
}

// Next advances to the next file, returning false once the listing is exhausted.
func (it *FileIterator) Next() bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.item = it.items[it.pos]
	it.pos++
	return true
}

// Item returns the file the iterator currently points at.
func (it *FileIterator) Item() *FileItem {
	return it.item
}

// Err reports a terminal iteration failure. Enumeration errors surface from
// List, so this exists to satisfy consumers of the pull iterator contract.
func (it *FileIterator) Err() error {
	return nil
}

// Len returns the total number of enumerated files.
func (it *FileIterator) Len() int {
	return len(it.items)
}
