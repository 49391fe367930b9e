// Package http provides a ByteSource that reads xar archives over HTTP
// range requests, so an archive can be listed and partially extracted
// without downloading its heap.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/meigma/xar/internal/xartype"
)

// DefaultReadAhead is the minimum number of bytes fetched per request.
//
// Opening an archive issues a header read, a TOC read and a checksum read
// that usually sit within the first few kilobytes.
const DefaultReadAhead = 64 << 10

// ErrRangeUnsupported is returned when the server ignores Range headers.
var ErrRangeUnsupported = fmt.Errorf("%w: server does not support range requests", xartype.ErrResource)

// Source implements random access reads via HTTP range requests.
// It satisfies xar.ByteSource (io.ReaderAt plus Size).
//
// A Source caches the most recent response window. It is not safe for
// concurrent use, matching the archive handles that read from it.
type Source struct {
	ctx          context.Context
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	logger       *slog.Logger
	readAhead    int64
	size         int64
	etag         string
	lastModified string

	window    []byte
	windowOff int64
	requests  int
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithReadAhead sets the minimum request size. Zero disables read-ahead.
func WithReadAhead(n int64) Option {
	return func(s *Source) {
		s.readAhead = max(n, 0)
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource learns the size and validators of url. Every later request
// carries If-Match / If-Unmodified-Since so a changed remote fails
// instead of yielding mixed content. ctx bounds every request the Source
// makes.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		ctx:       ctx,
		url:       url,
		client:    nethttp.DefaultClient,
		readAhead: DefaultReadAhead,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if err := s.stat(); err != nil {
		return nil, err
	}
	s.log().Debug("opened remote archive", "url", url, "size", s.size, "etag", s.etag)
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// Requests returns the number of range requests issued so far, including
// the initial size request.
func (s *Source) Requests() int {
	return s.requests
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), s.size-off)

	if !s.cached(off, want) {
		fetch := min(max(want, s.readAhead), s.size-off)
		buf, err := s.fetch(off, fetch)
		if err != nil {
			return 0, err
		}
		s.window, s.windowOff = buf, off
	}
	n := copy(p, s.window[off-s.windowOff:])
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Source) cached(off, length int64) bool {
	return s.window != nil && off >= s.windowOff && off+length <= s.windowOff+int64(len(s.window))
}

func (s *Source) fetch(off, length int64) ([]byte, error) {
	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))

	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("%w: range %d+%d", xartype.ErrTruncated, off, length)
	case nethttp.StatusOK:
		return nil, ErrRangeUnsupported
	case nethttp.StatusPreconditionFailed:
		return nil, fmt.Errorf("%w: remote archive changed", xartype.ErrResource)
	default:
		return nil, fmt.Errorf("%w: range request failed: %s", xartype.ErrResource, resp.Status)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short range response at %d", xartype.ErrTruncated, off)
		}
		return nil, fmt.Errorf("%w: %w", xartype.ErrResource, err)
	}
	s.log().Debug("fetched range", "offset", off, "size", length)
	return buf, nil
}

// stat learns the size from a one-byte range request. HEAD is not used
// because many object stores omit Content-Length for it.
func (s *Source) stat() error {
	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return fmt.Errorf("%w: size request failed: %s", xartype.ErrResource, resp.Status)
	}
	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	s.size = size
	s.etag = resp.Header.Get("ETag")
	s.lastModified = resp.Header.Get("Last-Modified")
	return nil
}

func (s *Source) do(req *nethttp.Request) (*nethttp.Response, error) {
	s.requests++
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xartype.ErrResource, err)
	}
	return resp, nil
}

func (s *Source) newRequest(method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(s.ctx, method, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xartype.ErrUsage, err)
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if s.etag != "" && req.Header.Get("If-Match") == "" {
		req.Header.Set("If-Match", s.etag)
	}
	if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
		req.Header.Set("If-Unmodified-Since", s.lastModified)
	}
	return req, nil
}

func (s *Source) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.New(slog.DiscardHandler)
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort connection reuse
	_ = resp.Body.Close()                 //nolint:errcheck // best-effort cleanup
}

func parseContentRange(value string) (int64, error) {
	invalid := fmt.Errorf("%w: invalid Content-Range %q", xartype.ErrResource, value)
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, invalid
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, invalid
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, invalid
	}
	return size, nil
}
