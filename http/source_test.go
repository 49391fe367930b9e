package http_test

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/xar"
	xarhttp "github.com/meigma/xar/http"
)

func serve(t *testing.T, data []byte, modified time.Time) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		hits.Add(1)
		nethttp.ServeContent(w, r, "archive.xar", modified, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server, _ := serve(t, data, time.Time{})

	src, err := xarhttp.NewSource(context.Background(), server.URL, xarhttp.WithReadAhead(0))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	edge := make([]byte, 10)
	n, err = src.ReadAt(edge, int64(len(data)-3))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "rld", string(edge[:n]))

	_, err = src.ReadAt(buf, int64(len(data)))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceReadAhead(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("abcdefgh"), 1024)
	server, hits := serve(t, data, time.Time{})

	src, err := xarhttp.NewSource(context.Background(), server.URL, xarhttp.WithReadAhead(4096))
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	buf := make([]byte, 16)
	for off := int64(0); off < 4096; off += 16 {
		_, err := src.ReadAt(buf, off)
		require.NoError(t, err)
		assert.Equal(t, data[off:off+16], buf)
	}
	assert.Equal(t, int64(2), hits.Load())
	assert.Equal(t, 2, src.Requests())

	_, err = src.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Requests())
}

func TestSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte("range unsupported"))
	}))
	t.Cleanup(server.Close)

	_, err := xarhttp.NewSource(context.Background(), server.URL)
	require.ErrorIs(t, err, xarhttp.ErrRangeUnsupported)
	assert.ErrorIs(t, err, xar.ErrResource)
}

func TestSourceRemoteChanged(t *testing.T) {
	t.Parallel()

	var etag atomic.Value
	etag.Store(`"v1"`)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("ETag", etag.Load().(string))
		nethttp.ServeContent(w, r, "", time.Time{}, bytes.NewReader([]byte("0123456789")))
	}))
	t.Cleanup(server.Close)

	src, err := xarhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)

	etag.Store(`"v2"`)
	_, err = src.ReadAt(make([]byte, 4), 0)
	assert.ErrorIs(t, err, xar.ErrResource)
}

func TestOpenRemoteArchive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := xar.Create(&buf, xar.WithMemorySpool(true))
	require.NoError(t, err)
	dir, err := w.AddDirectory(nil, "docs", xar.EntryInfo{})
	require.NoError(t, err)
	_, err = w.AddFromBytes(dir, "readme.txt", []byte("remote content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	server, _ := serve(t, buf.Bytes(), time.Unix(1700000000, 0))
	src, err := xarhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)

	a, err := xar.Open(src)
	require.NoError(t, err)
	defer a.Close()

	e, ok := a.Lookup("docs/readme.txt")
	require.True(t, ok)
	got, err := a.ExtractToBuffer(e)
	require.NoError(t, err)
	assert.Equal(t, "remote content", string(got))
}
