// Package fsys abstracts the remote filesystems the sources enumerate and read:
// local disk, AWS S3 buckets and WebDAV shares. A Client is cheap to construct
// and holds no mutable state, so it can be rebuilt from the same credentials at
// any point with an equivalent result.
package fsys

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/sehnem/verified-sources/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Logger

// Protocol identifies the filesystem scheme of a bucket URL.
type Protocol string

const (
	ProtocolFile    Protocol = "file"
	ProtocolS3      Protocol = "s3"
	ProtocolWebdav  Protocol = "webdav"
	ProtocolWebdavs Protocol = "webdavs"
)

// ErrUnsupportedProtocol is returned when a bucket URL names a scheme no client implements.
var ErrUnsupportedProtocol = errors.New("unsupported filesystem protocol")

// EntryType distinguishes files from directories and other filesystem entries.
type EntryType string

const (
	EntryTypeFile      EntryType = "file"
	EntryTypeDirectory EntryType = "directory"
	EntryTypeOther     EntryType = "other"
)

// Entry is the metadata a Client reports for one globbed filesystem entry.
// Meta carries protocol specific fields (for example the modification time
// under a protocol specific key) that the enumerator extracts with its
// per-protocol dispatch table.
type Entry struct {
	Type EntryType
	Size int64
	Meta map[string]any
}

// Client is the minimal filesystem surface the sources need. Implementations
// are stateless: every call may open and close its own connection.
type Client interface {
	// Protocol reports which scheme this client serves.
	Protocol() Protocol

	// Glob returns all entries matching the given pattern, keyed by their
	// absolute path (without the protocol prefix). The pattern supports the
	// usual wildcards including "**".
	Glob(pattern string) (map[string]Entry, error)

	// Open starts a streaming read of the file at the given absolute path.
	Open(path string) (io.ReadCloser, error)

	// ReadBytes reads the complete content of the file at the given absolute path.
	ReadBytes(path string) ([]byte, error)
}

// Credentials is the opaque credential bundle passed through to client
// construction. Which fields matter depends on the protocol; local access
// needs none of them.
type Credentials struct {
	// AWS credentials for s3 bucket URLs.
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	AWSSessionToken    string `yaml:"aws_session_token"`
	AWSRegion          string `yaml:"aws_region"`

	// Username and Password authenticate WebDAV shares.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ParseProtocol extracts the protocol from a bucket URL, defaulting to the
// local filesystem when the URL carries no scheme.
func ParseProtocol(bucketURL string) (Protocol, error) {
	parsed, err := url.Parse(bucketURL)
	if err != nil {
		return "", fmt.Errorf("invalid bucket URL %q: %w", bucketURL, err)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		return ProtocolFile, nil
	}
	switch Protocol(strings.ToLower(scheme)) {
	case ProtocolFile:
		return ProtocolFile, nil
	case ProtocolS3:
		return ProtocolS3, nil
	case ProtocolWebdav:
		return ProtocolWebdav, nil
	case ProtocolWebdavs:
		return ProtocolWebdavs, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, scheme)
}

// FromCredentials constructs the filesystem client serving the given bucket
// URL. Construction is effectively stateless: repeated calls with the same
// credentials yield equivalent clients.
func FromCredentials(bucketURL string, credentials *Credentials) (Client, error) {
	protocol, err := ParseProtocol(bucketURL)
	if err != nil {
		return nil, err
	}
	switch protocol {
	case ProtocolFile:
		return NewLocalClient(), nil
	case ProtocolS3:
		if credentials == nil {
			return nil, fmt.Errorf("s3 bucket %q: credentials are required", bucketURL)
		}
		return NewS3Client(credentials)
	case ProtocolWebdav, ProtocolWebdavs:
		if credentials == nil {
			return nil, fmt.Errorf("webdav bucket %q: credentials are required", bucketURL)
		}
		return NewWebdavClient(bucketURL, credentials)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
}
