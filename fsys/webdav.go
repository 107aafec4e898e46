package fsys

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/studio-b12/gowebdav"
	"go.uber.org/zap"
)

// WebdavClient serves webdav:// and webdavs:// bucket URLs through gowebdav.
// Paths are "host/path" without the scheme.
type WebdavClient struct {
	host     string
	protocol Protocol
	client   *gowebdav.Client
}

// NewWebdavClient builds a WebDAV client for the host of the given bucket URL,
// using basic authentication from the credentials.
func NewWebdavClient(bucketURL string, creds *Credentials) (*WebdavClient, error) {
	parsed, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket URL %q: %w", bucketURL, err)
	}
	protocol := Protocol(strings.ToLower(parsed.Scheme))
	scheme := "http"
	if protocol == ProtocolWebdavs {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s", scheme, parsed.Host)
	return &WebdavClient{
		host:     parsed.Host,
		protocol: protocol,
		client:   gowebdav.NewClient(baseURL, creds.Username, creds.Password),
	}, nil
}

func (c *WebdavClient) Protocol() Protocol {
	return c.protocol
}

// Glob walks the share breadth-first from the longest wildcard-free prefix of
// the pattern, reporting files and directories alike.
func (c *WebdavClient) Glob(pattern string) (map[string]Entry, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}

	remotePattern := strings.TrimPrefix(pattern, c.host)
	base := patternBase(remotePattern)
	if base == "." {
		base = "/"
	}

	ret := make(map[string]Entry)
	queue := []string{base}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := c.client.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list webdav directory %q: %w", dir, err)
		}
		for _, info := range entries {
			entryPath := gowebdav.Join(dir, info.Name())
			if info.IsDir() {
				queue = append(queue, entryPath)
			}
			matched, err := doublestar.Match(remotePattern, entryPath)
			if err != nil {
				return nil, fmt.Errorf("matching %q against %q: %w", entryPath, remotePattern, err)
			}
			if !matched {
				continue
			}
			entryType := EntryTypeFile
			if info.IsDir() {
				entryType = EntryTypeDirectory
			}
			ret[c.host+entryPath] = Entry{
				Type: entryType,
				Size: info.Size(),
				Meta: map[string]any{"modified": info.ModTime()},
			}
		}
	}
	log.Trace("webdav glob done", zap.String("pattern", pattern), zap.Int("matches", len(ret)))
	return ret, nil
}

func (c *WebdavClient) Open(path string) (io.ReadCloser, error) {
	stream, err := c.client.ReadStream(strings.TrimPrefix(path, c.host))
	if err != nil {
		return nil, fmt.Errorf("failed to open webdav file %q: %w", path, err)
	}
	return stream, nil
}

func (c *WebdavClient) ReadBytes(path string) ([]byte, error) {
	content, err := c.client.Read(strings.TrimPrefix(path, c.host))
	if err != nil {
		return nil, fmt.Errorf("failed to read webdav file %q: %w", path, err)
	}
	return content, nil
}
