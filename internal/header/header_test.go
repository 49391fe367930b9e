package header

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/xar/internal/xartype"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		h    Header
		size int
	}{
		{"none", New(ChecksumNone, ""), Size},
		{"sha1", New(ChecksumSHA1, ""), Size},
		{"md5", New(ChecksumMD5, ""), Size},
		{"other", New(ChecksumOther, "sha256"), ExtendedSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := tt.h
			h.TOCCompressed = 1234
			h.TOCUncompressed = 5678

			b, err := Encode(h)
			require.NoError(t, err)
			assert.Len(t, b, tt.size)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, h, got)

			again, err := Encode(got)
			require.NoError(t, err)
			assert.Equal(t, b, again)
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	t.Parallel()

	h := New(ChecksumSHA1, "")
	h.TOCCompressed = 0x0102030405060708
	h.TOCUncompressed = 0x1112131415161718
	b, err := Encode(h)
	require.NoError(t, err)

	assert.Equal(t, []byte("xar!"), b[0:4])
	assert.Equal(t, []byte{0, 28}, b[4:6])
	assert.Equal(t, []byte{0, 1}, b[6:8])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b[8:16])
	assert.Equal(t, []byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}, b[16:24])
	assert.Equal(t, []byte{0, 0, 0, 1}, b[24:28])
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	valid, err := Encode(New(ChecksumSHA1, ""))
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		b := bytes.Clone(valid)
		return f(b)
	}

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"short", valid[:10], xartype.ErrTruncated},
		{"magic", mutate(func(b []byte) []byte { b[0] = 'y'; return b }), xartype.ErrBadMagic},
		{"version", mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[6:8], 2); return b }), xartype.ErrBadVersion},
		{"size", mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[4:6], 40); return b }), xartype.ErrBadHeaderSize},
		{"other without name", mutate(func(b []byte) []byte { binary.BigEndian.PutUint32(b[24:28], ChecksumOther); return b }), xartype.ErrBadHeaderSize},
		{"extended truncated", mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[4:6], ExtendedSize); return b }), xartype.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.in)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, xartype.ErrFormat)
		})
	}
}

func TestDecodeExtendedNameRules(t *testing.T) {
	t.Parallel()

	b, err := Encode(New(ChecksumOther, "blake3"))
	require.NoError(t, err)

	empty := bytes.Clone(b)
	for i := Size; i < ExtendedSize; i++ {
		empty[i] = 0
	}
	_, err = Decode(empty)
	require.ErrorIs(t, err, xartype.ErrFormat)

	unterminated := bytes.Clone(b)
	for i := Size; i < ExtendedSize; i++ {
		unterminated[i] = 'a'
	}
	_, err = Decode(unterminated)
	require.ErrorIs(t, err, xartype.ErrBadHeaderSize)
}

func TestEncodeRejectsLongName(t *testing.T) {
	t.Parallel()

	_, err := Encode(New(ChecksumOther, string(bytes.Repeat([]byte{'x'}, NameSize))))
	require.ErrorIs(t, err, xartype.ErrBadHeaderSize)
}

func TestRead(t *testing.T) {
	t.Parallel()

	h := New(ChecksumOther, "sha512")
	h.TOCCompressed = 99
	b, err := Encode(h)
	require.NoError(t, err)
	b = append(b, bytes.Repeat([]byte{0xff}, 16)...)

	got, err := Read(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, int64(ExtendedSize), got.TOCOffset())

	heap, err := got.HeapOffset()
	require.NoError(t, err)
	assert.Equal(t, int64(ExtendedSize+99), heap)

	_, err = Read(bytes.NewReader(b[:20]))
	require.ErrorIs(t, err, xartype.ErrTruncated)
}

func TestHeapOffsetOverflow(t *testing.T) {
	t.Parallel()

	h := New(ChecksumSHA1, "")
	h.TOCCompressed = 1 << 63
	_, err := h.HeapOffset()
	require.ErrorIs(t, err, xartype.ErrSizeOverflow)

	h.TOCCompressed = ^uint64(0)
	_, err = h.HeapOffset()
	require.ErrorIs(t, err, xartype.ErrSizeOverflow)

	h.TOCCompressed = 100
	off, err := h.HeapOffset()
	require.NoError(t, err)
	assert.Equal(t, int64(Size+100), off)
}
