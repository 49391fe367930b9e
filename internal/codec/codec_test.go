package codec

import (
	"bytes"
	"io"
	"math/rand/v2"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/xar/internal/xartype"
)

var allAlgorithms = []Algorithm{None, Gzip, Bzip2, LZMA, XZ, Zstd, LZ4}

func compress(t *testing.T, a Algorithm, args Args, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(a, args, &buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func decompress(t *testing.T, a Algorithm, data []byte) []byte {
	t.Helper()
	r, err := NewReader(a, bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 500)
	for _, a := range allAlgorithms {
		t.Run(a.String(), func(t *testing.T) {
			t.Parallel()
			packed := compress(t, a, Args{}, data)
			if a != None {
				assert.Less(t, len(packed), len(data))
			}
			assert.Equal(t, data, decompress(t, a, packed))
		})
	}
}

func TestReaderStopsAtSectionEnd(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("abcdef"), 100)
	packed := compress(t, Gzip, Args{}, data)
	heap := append(bytes.Clone(packed), []byte("trailing heap bytes")...)

	section := io.NewSectionReader(bytes.NewReader(heap), 0, int64(len(packed)))
	r, err := NewReader(Gzip, section)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestParse(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Algorithm{
		"":      None,
		"none":  None,
		"gzip":  Gzip,
		"GZIP":  Gzip,
		"bzip2": Bzip2,
		"lzma":  LZMA,
		"xz":    XZ,
		"zstd":  Zstd,
		"lz4":   LZ4,
	} {
		got, err := Parse(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := Parse("rar")
	require.ErrorIs(t, err, xartype.ErrUnknownCompression)
	assert.ErrorIs(t, err, xartype.ErrCodec)
}

func TestStyles(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StyleGzip, Gzip.Style(false))
	assert.Equal(t, StyleZlib, Gzip.Style(true))
	for _, a := range allAlgorithms {
		got, err := FromStyle(a.Style(false))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	got, err := FromStyle(StyleZlib)
	require.NoError(t, err)
	assert.Equal(t, Gzip, got)

	_, err = FromStyle("application/x-rar")
	require.ErrorIs(t, err, xartype.ErrUnknownCompression)
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	args, err := ParseArgs(Gzip, "9")
	require.NoError(t, err)
	assert.Equal(t, Args{Level: 9, Set: true}, args)

	args, err = ParseArgs(XZ, "")
	require.NoError(t, err)
	assert.False(t, args.Set)

	_, err = ParseArgs(Gzip, "10")
	require.ErrorIs(t, err, xartype.ErrCompressionArg)
	_, err = ParseArgs(Zstd, "fast")
	require.ErrorIs(t, err, xartype.ErrCompressionArg)
	_, err = ParseArgs(None, "1")
	require.ErrorIs(t, err, xartype.ErrCompressionArg)
}

func TestWriterHonorsArgs(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 2000)
	for _, a := range []Algorithm{Gzip, Bzip2, LZMA, XZ, Zstd, LZ4} {
		t.Run(a.String(), func(t *testing.T) {
			t.Parallel()
			r := argRange[a]
			args, err := ParseArgs(a, strconv.Itoa(r[1]))
			require.NoError(t, err)
			assert.Equal(t, data, decompress(t, a, compress(t, a, args, data)))
		})
	}
}

func TestStreamEncodeDecode(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("stream me "), 4096)
	for _, a := range allAlgorithms {
		t.Run(a.String(), func(t *testing.T) {
			t.Parallel()

			enc, err := Init(Encode, a, Args{})
			require.NoError(t, err)
			var packed []byte
			for chunk := range slices.Chunk(data, 1000) {
				out, status, err := enc.Feed(chunk)
				require.NoError(t, err)
				if status == OutputReady {
					require.NotEmpty(t, out)
				} else {
					require.Equal(t, NeedInput, status)
				}
				packed = append(packed, out...)
			}
			tail, err := enc.Finish()
			require.NoError(t, err)
			packed = append(packed, tail...)
			require.NoError(t, enc.Close())
			assert.Equal(t, uint64(len(data)), enc.TotalIn())
			assert.Equal(t, uint64(len(packed)), enc.TotalOut())

			dec, err := Init(Decode, a, Args{})
			require.NoError(t, err)
			var out []byte
			for chunk := range slices.Chunk(packed, 333) {
				got, status, err := dec.Feed(chunk)
				require.NoError(t, err)
				require.Contains(t, []Status{NeedInput, OutputReady, End}, status)
				out = append(out, got...)
			}
			tail, err = dec.Finish()
			require.NoError(t, err)
			out = append(out, tail...)
			assert.Equal(t, data, out)
			assert.Equal(t, uint64(len(data)), dec.TotalOut())

			_, status, err := dec.Feed([]byte("late"))
			require.NoError(t, err)
			assert.Equal(t, End, status)
			require.NoError(t, dec.Close())

			_, status, err = dec.Feed(nil)
			require.ErrorIs(t, err, xartype.ErrStreamEnded)
			assert.Equal(t, Error, status)
		})
	}
}

func TestStreamDecodeEmpty(t *testing.T) {
	t.Parallel()

	dec, err := Init(Decode, Gzip, Args{})
	require.NoError(t, err)
	out, err := dec.Finish()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStreamDecodeCorrupt(t *testing.T) {
	t.Parallel()

	packed := compress(t, Gzip, Args{}, bytes.Repeat([]byte("x"), 1000))
	packed[len(packed)/2] ^= 0xff
	packed[len(packed)-1] ^= 0xff

	dec, err := Init(Decode, Gzip, Args{})
	require.NoError(t, err)
	_, status, err := dec.Feed(packed)
	if err == nil {
		_, err = dec.Finish()
	} else {
		assert.Equal(t, Error, status)
	}
	require.ErrorIs(t, err, xartype.ErrDecompression)
	require.NoError(t, dec.Close())
}

func TestStreamDecodeIncremental(t *testing.T) {
	t.Parallel()

	data := make([]byte, 1<<20)
	_, _ = rand.NewChaCha8([32]byte{}).Read(data)
	packed := compress(t, Gzip, Args{}, data)

	dec, err := Init(Decode, Gzip, Args{})
	require.NoError(t, err)
	early, status, err := dec.Feed(packed[:len(packed)/2])
	require.NoError(t, err)
	assert.Equal(t, OutputReady, status)
	assert.NotEmpty(t, early)
	assert.Less(t, len(early), len(data))
	assert.Equal(t, data[:len(early)], early)

	rest, _, err := dec.Feed(packed[len(packed)/2:])
	require.NoError(t, err)
	tail, err := dec.Finish()
	require.NoError(t, err)
	assert.Equal(t, data, append(append(early, rest...), tail...))
}

func TestStreamDecodeCloseEarly(t *testing.T) {
	t.Parallel()

	packed := compress(t, XZ, Args{}, bytes.Repeat([]byte("abc"), 10000))
	dec, err := Init(Decode, XZ, Args{})
	require.NoError(t, err)
	_, _, err = dec.Feed(packed[:10])
	require.NoError(t, err)
	require.NoError(t, dec.Close())
	_, err = dec.Finish()
	assert.ErrorIs(t, err, xartype.ErrStreamEnded)
}
