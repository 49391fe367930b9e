// Package codec selects and drives the compression algorithms used for
// heap payloads and the TOC.
//
// The "gzip" algorithm is a zlib stream, matching what xar has always
// written under the application/x-gzip style.
package codec

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/xar/internal/xartype"
)

// Algorithm identifies a compression algorithm.
type Algorithm uint8

const (
	None Algorithm = iota
	Gzip
	Bzip2
	LZMA
	XZ
	Zstd
	LZ4
)

// Encoding styles written to the TOC.
const (
	StyleNone    = "application/octet-stream"
	StyleGzip    = "application/x-gzip"
	StyleZlib    = "application/zlib"
	StyleBzip2   = "application/x-bzip2"
	StyleLZMA    = "application/x-lzma"
	StyleXZ      = "application/x-xz"
	StyleZstd    = "application/zstd"
	StyleLZ4     = "application/x-lz4"
	styleUnknown = ""
)

// String returns the option value naming the algorithm.
func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case LZMA:
		return "lzma"
	case XZ:
		return "xz"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Style returns the TOC encoding style. rfc6713 selects application/zlib
// over application/x-gzip for the gzip algorithm.
func (a Algorithm) Style(rfc6713 bool) string {
	switch a {
	case None:
		return StyleNone
	case Gzip:
		if rfc6713 {
			return StyleZlib
		}
		return StyleGzip
	case Bzip2:
		return StyleBzip2
	case LZMA:
		return StyleLZMA
	case XZ:
		return StyleXZ
	case Zstd:
		return StyleZstd
	case LZ4:
		return StyleLZ4
	default:
		return styleUnknown
	}
}

// Parse resolves an option value such as "gzip" or "xz".
func Parse(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "identity":
		return None, nil
	case "gzip", "zlib":
		return Gzip, nil
	case "bzip2", "bzip":
		return Bzip2, nil
	case "lzma":
		return LZMA, nil
	case "xz":
		return XZ, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("%w: %q", xartype.ErrUnknownCompression, name)
	}
}

// FromStyle resolves the encoding style attribute of a data property.
func FromStyle(style string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(style)) {
	case "", StyleNone:
		return None, nil
	case StyleGzip, StyleZlib:
		return Gzip, nil
	case StyleBzip2:
		return Bzip2, nil
	case StyleLZMA:
		return LZMA, nil
	case StyleXZ:
		return XZ, nil
	case StyleZstd:
		return Zstd, nil
	case StyleLZ4:
		return LZ4, nil
	default:
		return None, fmt.Errorf("%w: style %q", xartype.ErrUnknownCompression, style)
	}
}

// Args holds parsed codec arguments.
type Args struct {
	Level int
	Set   bool
}

// argRange is the accepted level range per algorithm.
var argRange = map[Algorithm][2]int{
	Gzip:  {0, 9},
	Bzip2: {1, 9},
	LZMA:  {0, 9},
	XZ:    {0, 9},
	Zstd:  {1, 22},
	LZ4:   {0, 9},
}

// ParseArgs validates a compression-arg value for a. An empty string selects
// the codec default.
func ParseArgs(a Algorithm, s string) (Args, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Args{}, nil
	}
	r, ok := argRange[a]
	if !ok {
		return Args{}, fmt.Errorf("%w: %s takes no argument", xartype.ErrCompressionArg, a)
	}
	level, err := strconv.Atoi(s)
	if err != nil {
		return Args{}, fmt.Errorf("%w: %q: %v", xartype.ErrCompressionArg, s, err)
	}
	if level < r[0] || level > r[1] {
		return Args{}, fmt.Errorf("%w: %s level %d outside %d-%d", xartype.ErrCompressionArg, a, level, r[0], r[1])
	}
	return Args{Level: level, Set: true}, nil
}

// xzDictCaps maps presets 0-9 to dictionary capacities, mirroring xz(1).
var xzDictCaps = [10]int{
	256 << 10, 1 << 20, 2 << 20, 4 << 20, 4 << 20,
	8 << 20, 8 << 20, 16 << 20, 32 << 20, 64 << 20,
}

var lz4Levels = [10]lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns a compressing writer for a. Close flushes the trailer
// but does not close w.
func NewWriter(a Algorithm, args Args, w io.Writer) (io.WriteCloser, error) {
	switch a {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		level := zlib.DefaultCompression
		if args.Set {
			level = args.Level
		}
		return zlib.NewWriterLevel(w, level)
	case Bzip2:
		conf := &bzip2.WriterConfig{}
		if args.Set {
			conf.Level = args.Level
		}
		return bzip2.NewWriter(w, conf)
	case LZMA:
		conf := lzma.WriterConfig{}
		if args.Set {
			conf.DictCap = xzDictCaps[args.Level]
		}
		return conf.NewWriter(w)
	case XZ:
		conf := xz.WriterConfig{}
		if args.Set {
			conf.DictCap = xzDictCaps[args.Level]
		}
		return conf.NewWriter(w)
	case Zstd:
		opts := []zstd.EOption{zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true)}
		if args.Set {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(args.Level)))
		}
		return zstd.NewWriter(w, opts...)
	case LZ4:
		zw := lz4.NewWriter(w)
		if args.Set {
			if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[args.Level])); err != nil {
				return nil, fmt.Errorf("%w: %v", xartype.ErrCompressionArg, err)
			}
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("%w: %d", xartype.ErrUnknownCompression, a)
	}
}

// NewReader returns a decompressing reader for a. Callers bound r to the
// exact compressed length; NewReader never reads past what r yields.
func NewReader(a Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch a {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return zlib.NewReader(r)
	case Bzip2:
		return bzip2.NewReader(r, nil)
	case LZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case Zstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %d", xartype.ErrUnknownCompression, a)
	}
}
