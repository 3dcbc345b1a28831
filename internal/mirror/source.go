package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// DefaultRegistry serves the binary-mirror-config package.
	DefaultRegistry = "https://registry.npmmirror.com"

	configPackage = "binary-mirror-config"
	configTag     = "latest"
	userAgent     = "binary-mirror/1.0"

	maxDocumentSize = 10 << 20
)

var (
	// ErrPermanent marks failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent failure")
	// ErrBodyTooLarge indicates the mirror document exceeded maxDocumentSize.
	ErrBodyTooLarge = errors.New("response body too large")
)

// Source fetches the raw mirror document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

// StatusError is returned when the registry answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// NewHTTPClient creates an HTTP client with bounded dial, handshake and
// overall request timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
		},
	}
}

// HTTPSource reads the latest binary-mirror-config manifest from a package registry.
type HTTPSource struct {
	client *http.Client
	url    string
}

// NewHTTPSource validates registry and builds the document URL
// <registry>/binary-mirror-config/latest.
func NewHTTPSource(client *http.Client, registry string) (*HTTPSource, error) {
	if registry == "" {
		registry = DefaultRegistry
	}
	u, err := url.Parse(registry)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported registry URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("registry URL host is required")
	}
	if client == nil {
		client = NewHTTPClient(0)
	}

	return &HTTPSource{
		client: client,
		url:    strings.TrimSuffix(registry, "/") + "/" + configPackage + "/" + configTag,
	}, nil
}

// URL returns the document URL.
func (s *HTTPSource) URL() string {
	return s.url
}

func (s *HTTPSource) String() string {
	return s.url
}

// Fetch performs a single GET. Redirects are followed by the client.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := readAllWithLimit(resp.Body, maxDocumentSize)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// FileSource reads the mirror document from a local file.
type FileSource struct {
	path string
}

// NewFileSource returns a Source backed by path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) String() string {
	return "file://" + s.path
}

// Fetch reads the file. A missing file is a permanent failure.
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return nil, err
	}
	defer f.Close()

	return readAllWithLimit(f, maxDocumentSize)
}

func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
