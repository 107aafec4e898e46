// Package source implements the filesystem source core: enumerating files on a
// bucket URL, wrapping them into lazily readable handles and chunking them into
// bounded batches for the downstream extractors.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/sehnem/verified-sources/fsys"
	"github.com/sehnem/verified-sources/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Logger

// ErrNoCredentials is returned when a handle without cached content must reach
// the filesystem but carries no credentials to construct a client from.
var ErrNoCredentials = errors.New("no credentials provided for the filesystem")

// FileItem describes one enumerated file. All metadata fields are set by the
// enumerator and never change afterwards; content is write-once and may only be
// populated at discovery time by the batcher (or by the inbox source, which
// materializes attachments directly).
type FileItem struct {
	// FileName the path of the file relative to the enumeration root.
	FileName string

	// FileURL the fully qualified locator, protocol prefix included.
	FileURL string

	// MimeType best-effort MIME type guessed from the file name, empty if unknown.
	MimeType string

	// ModificationDate the modification timestamp reported by the filesystem.
	ModificationDate time.Time

	// SizeInBytes the file size as reported by the filesystem metadata.
	SizeInBytes int64

	// LocalPath an absolute path of a local copy of the file, set only by the
	// copy step.
	LocalPath string

	// content optional pre-loaded file content, nil until extraction is requested.
	content []byte
}

// Content returns the pre-loaded file content, or nil when none was extracted.
func (i *FileItem) Content() []byte {
	return i.content
}

// SetContent stores the extracted file content. The content is write-once: a
// second call is an error.
func (i *FileItem) SetContent(content []byte) error {
	if i.content != nil {
		return fmt.Errorf("content of %q is already set", i.FileURL)
	}
	i.content = content
	return nil
}

// Record converts the file metadata to the mapping shape loaded into the
// destination. The merge key of the filesystem listing is file_url.
func (i *FileItem) Record() map[string]any {
	ret := map[string]any{
		"file_name":         i.FileName,
		"file_url":          i.FileURL,
		"mime_type":         i.MimeType,
		"modification_date": i.ModificationDate,
		"size_in_bytes":     i.SizeInBytes,
	}
	if i.LocalPath != "" {
		ret["path"] = i.LocalPath
	}
	return ret
}

// OpenOptions control the text decoding applied to an opened stream. A nil
// options value opens the raw byte stream.
type OpenOptions struct {
	// Encoding an IANA character set name ("utf-8", "latin1", ...) the stream
	// is decoded from into UTF-8.
	Encoding string

	// NewlineTranslation folds "\r\n" sequences into "\n".
	NewlineTranslation bool
}

// FileHandle wraps a FileItem with the credentials needed to reach its
// filesystem. It owns no connection: every content access either serves the
// cached content or opens a fresh short-lived stream. Handles are built per
// discovered file and discarded with the batch they belong to.
type FileHandle struct {
	Item *FileItem

	credentials *fsys.Credentials
}

// NewFileHandle wraps the given file item together with the credentials of the
// filesystem it was discovered on.
func NewFileHandle(item *FileItem, credentials *fsys.Credentials) *FileHandle {
	return &FileHandle{Item: item, credentials: credentials}
}

// filesystem resolves the filesystem client for the handle's URL. Construction
// is stateless, so resolving repeatedly yields equivalent clients.
func (h *FileHandle) filesystem() (fsys.Client, error) {
	if h.credentials == nil {
		return nil, ErrNoCredentials
	}
	return fsys.FromCredentials(h.Item.FileURL, h.credentials)
}

// Open returns a reader over the file content, serving the cached content when
// it was already extracted and opening a stream against the filesystem
// otherwise. The caller must close the returned reader within the processing
// step that opened it.
func (h *FileHandle) Open(opts *OpenOptions) (io.ReadCloser, error) {
	if h.Item.content != nil {
		return decodeStream(io.NopCloser(bytes.NewReader(h.Item.content)), opts)
	}
	client, err := h.filesystem()
	if err != nil {
		return nil, err
	}
	stream, err := client.Open(pathFromURL(h.Item.FileURL))
	if err != nil {
		return nil, err
	}
	return decodeStream(stream, opts)
}

// ReadBytes returns the complete raw file content, from the cache when
// populated and through a full synchronous read otherwise. The result is not
// cached back onto the handle.
func (h *FileHandle) ReadBytes() ([]byte, error) {
	if h.Item.content != nil {
		return h.Item.content, nil
	}
	client, err := h.filesystem()
	if err != nil {
		return nil, err
	}
	return client.ReadBytes(pathFromURL(h.Item.FileURL))
}

// decodeStream layers the requested text decoding onto a raw byte stream.
func decodeStream(stream io.ReadCloser, opts *OpenOptions) (io.ReadCloser, error) {
	if opts == nil {
		return stream, nil
	}
	reader := io.Reader(stream)
	if opts.Encoding != "" {
		enc, err := ianaindex.IANA.Encoding(opts.Encoding)
		if err != nil || enc == nil {
			_ = stream.Close()
			return nil, fmt.Errorf("unknown character encoding %q: %w", opts.Encoding, err)
		}
		reader = transform.NewReader(reader, enc.NewDecoder())
	}
	if opts.NewlineTranslation {
		reader = newCRLFReader(reader)
	}
	return readCloser{Reader: reader, Closer: stream}, nil
}

// readCloser glues a decoded reader to the closer of the underlying stream.
type readCloser struct {
	io.Reader
	io.Closer
}

// pathFromURL strips the protocol prefix from a file URL, leaving the absolute
// path the filesystem clients address files by.
func pathFromURL(fileURL string) string {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return fileURL
	}
	return parsed.Host + parsed.Path
}
