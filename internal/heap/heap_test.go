package heap

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/xar/internal/xartype"
)

func spools(t *testing.T) map[string]func() Spool {
	t.Helper()
	return map[string]func() Spool{
		"memory": func() Spool { return NewMemorySpool() },
		"file": func() Spool {
			s, err := NewFileSpool(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}
}

// appendBlock writes data as one block.
func appendBlock(w *Writer, style string, data []byte) (Extent, bool, error) {
	b, err := w.Begin(style)
	if err != nil {
		return Extent{}, false, err
	}
	if _, err := b.Write(data); err != nil {
		_ = b.Abort()
		return Extent{}, false, err
	}
	return b.Commit()
}

func TestWriterAppend(t *testing.T) {
	t.Parallel()

	for name, mk := range spools(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			w := NewWriter(mk(), false)
			defer w.Close()

			a, dup, err := appendBlock(w, "s", []byte("hello"))
			require.NoError(t, err)
			assert.False(t, dup)
			assert.Equal(t, Extent{Offset: 0, Length: 5}, a)

			b, dup, err := appendBlock(w, "s", []byte("hello"))
			require.NoError(t, err)
			assert.False(t, dup)
			assert.Equal(t, Extent{Offset: 5, Length: 5}, b)
			assert.Equal(t, uint64(10), w.Size())

			var out bytes.Buffer
			n, err := w.WriteTo(&out)
			require.NoError(t, err)
			assert.Equal(t, int64(10), n)
			assert.Equal(t, "hellohello", out.String())
		})
	}
}

func TestWriterCoalesce(t *testing.T) {
	t.Parallel()

	for name, mk := range spools(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			w := NewWriter(mk(), true)
			defer w.Close()

			a, _, err := appendBlock(w, "s", []byte("same bytes"))
			require.NoError(t, err)
			_, _, err = appendBlock(w, "s", []byte("other"))
			require.NoError(t, err)

			b, dup, err := appendBlock(w, "s", []byte("same bytes"))
			require.NoError(t, err)
			assert.True(t, dup)
			assert.Equal(t, a, b)

			// Same bytes under another encoding are a different block.
			c, dup, err := appendBlock(w, "t", []byte("same bytes"))
			require.NoError(t, err)
			assert.False(t, dup)
			assert.NotEqual(t, a, c)

			var out bytes.Buffer
			_, err = w.WriteTo(&out)
			require.NoError(t, err)
			assert.Equal(t, "same bytes", string(out.Bytes()[c.Offset:c.End()]))
			assert.Equal(t, uint64(25), w.Size())

			// Further appends land after the discarded duplicate.
			d, _, err := appendBlock(w, "s", []byte("tail"))
			require.NoError(t, err)
			assert.Equal(t, uint64(25), d.Offset)
		})
	}
}

func TestWriterCoalesceToggle(t *testing.T) {
	t.Parallel()

	w := NewWriter(NewMemorySpool(), false)
	a, _, err := appendBlock(w, "s", []byte("x"))
	require.NoError(t, err)
	w.SetCoalesce(true)
	b, dup, err := appendBlock(w, "s", []byte("x"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, a, b)
}

func TestBlockStreaming(t *testing.T) {
	t.Parallel()

	w := NewWriter(NewMemorySpool(), true)
	b, err := w.Begin("s")
	require.NoError(t, err)

	_, err = w.Begin("s")
	require.ErrorIs(t, err, xartype.ErrUsage)

	for _, part := range []string{"ab", "cd", "ef"} {
		_, err := b.Write([]byte(part))
		require.NoError(t, err)
	}
	ext, dup, err := b.Commit()
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, Extent{Offset: 0, Length: 6}, ext)

	_, err = b.Write([]byte("late"))
	require.ErrorIs(t, err, xartype.ErrUsage)
	_, _, err = b.Commit()
	require.ErrorIs(t, err, xartype.ErrUsage)
}

func TestBlockAbort(t *testing.T) {
	t.Parallel()

	w := NewWriter(NewMemorySpool(), false)
	_, _, err := appendBlock(w, "s", []byte("keep"))
	require.NoError(t, err)

	b, err := w.Begin("s")
	require.NoError(t, err)
	_, err = b.Write([]byte("discard me"))
	require.NoError(t, err)
	require.NoError(t, b.Abort())
	require.NoError(t, b.Abort())

	var out bytes.Buffer
	_, err = w.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, "keep", out.String())
}

func TestEmptyBlock(t *testing.T) {
	t.Parallel()

	w := NewWriter(NewMemorySpool(), true)
	a, dup, err := appendBlock(w, "s", nil)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, uint64(0), a.Length)
	assert.Equal(t, uint64(0), w.Size())
}

func TestWriteToWithOpenBlock(t *testing.T) {
	t.Parallel()

	w := NewWriter(NewMemorySpool(), false)
	_, err := w.Begin("s")
	require.NoError(t, err)
	_, err = w.WriteTo(&bytes.Buffer{})
	require.ErrorIs(t, err, xartype.ErrUsage)
}

func TestFileSpoolCloseRemoves(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileSpool(dir)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, s.Close())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReader(t *testing.T) {
	t.Parallel()

	archive := []byte("HEADERTOC0123456789")
	r := NewReader(bytes.NewReader(archive), 9, int64(len(archive)))
	assert.Equal(t, uint64(10), r.Size())

	got, err := r.ReadRange(2, 3)
	require.NoError(t, err)
	assert.Equal(t, "234", string(got))

	got, err = r.ReadRange(10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = r.ReadRange(8, 3)
	require.ErrorIs(t, err, xartype.ErrOutOfRange)
	assert.ErrorIs(t, err, xartype.ErrFormat)

	_, err = r.Section(^uint64(0), 2)
	require.ErrorIs(t, err, xartype.ErrOutOfRange)

	sec, err := r.Section(5, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sec.Size())
}
