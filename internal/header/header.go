// Package header encodes and decodes the fixed binary preamble of a xar
// archive. All multi-byte integers are big endian.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meigma/xar/internal/sizing"
	"github.com/meigma/xar/internal/xartype"
)

// Magic is "xar!" read as a big-endian uint32.
const Magic uint32 = 0x78617221

// Version is the only header version this package understands.
const Version uint16 = 1

const (
	// Size is the encoded size of the basic header.
	Size = 28

	// ExtendedSize is the encoded size of the header carrying a checksum name.
	ExtendedSize = Size + NameSize

	// NameSize is the width of the nul-padded checksum name field.
	NameSize = 36
)

// Checksum algorithm ids stored in the header.
const (
	ChecksumNone  uint32 = 0
	ChecksumSHA1  uint32 = 1
	ChecksumMD5   uint32 = 2
	ChecksumOther uint32 = 3
)

// Header is the decoded archive preamble.
type Header struct {
	// Size is the encoded header size; the TOC starts at this offset.
	Size uint16

	Version uint16

	// TOCCompressed is the byte length of the compressed TOC.
	TOCCompressed uint64

	// TOCUncompressed is the byte length of the TOC once inflated.
	TOCUncompressed uint64

	// ChecksumAlg is one of the Checksum* ids.
	ChecksumAlg uint32

	// ChecksumName names the TOC digest when ChecksumAlg is ChecksumOther.
	ChecksumName string
}

// New returns a header for the given algorithm with sizes left zero.
func New(alg uint32, name string) Header {
	h := Header{Size: Size, Version: Version, ChecksumAlg: alg}
	if alg == ChecksumOther {
		h.Size = ExtendedSize
		h.ChecksumName = name
	}
	return h
}

// TOCOffset returns the archive offset at which the compressed TOC begins.
func (h Header) TOCOffset() int64 {
	return int64(h.Size)
}

// HeapOffset returns the archive offset at which the heap begins.
func (h Header) HeapOffset() (int64, error) {
	end, ok := sizing.AddUint64(uint64(h.Size), h.TOCCompressed)
	if !ok {
		return 0, xartype.ErrSizeOverflow
	}
	return sizing.ToInt64(end, xartype.ErrSizeOverflow)
}

// Extended reports whether the header uses the extended layout.
func (h Header) Extended() bool {
	return h.Size == ExtendedSize
}

// Validate checks the invariants Decode enforces.
func (h Header) Validate() error {
	if h.Version != Version {
		return fmt.Errorf("%w: %d", xartype.ErrBadVersion, h.Version)
	}
	switch h.Size {
	case Size:
		if h.ChecksumAlg == ChecksumOther {
			return fmt.Errorf("%w: checksum name requires extended header", xartype.ErrBadHeaderSize)
		}
	case ExtendedSize:
		if len(h.ChecksumName) >= NameSize {
			return fmt.Errorf("%w: checksum name too long", xartype.ErrBadHeaderSize)
		}
		if h.ChecksumAlg == ChecksumOther && (h.ChecksumName == "" || h.ChecksumName == "none") {
			return fmt.Errorf("%w: missing checksum name", xartype.ErrFormat)
		}
	default:
		return fmt.Errorf("%w: %d", xartype.ErrBadHeaderSize, h.Size)
	}
	if h.ChecksumAlg > ChecksumOther {
		return fmt.Errorf("%w: checksum id %d", xartype.ErrUnknownAlgorithm, h.ChecksumAlg)
	}
	return nil
}

// Encode serializes h. The output is deterministic and Decode(Encode(h)) == h
// for every valid header.
func Encode(h Header) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, h.Size)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Size)
	binary.BigEndian.PutUint16(buf[6:8], h.Version)
	binary.BigEndian.PutUint64(buf[8:16], h.TOCCompressed)
	binary.BigEndian.PutUint64(buf[16:24], h.TOCUncompressed)
	binary.BigEndian.PutUint32(buf[24:28], h.ChecksumAlg)
	if h.Extended() {
		copy(buf[Size:], h.ChecksumName)
	}
	return buf, nil
}

// Decode parses a header from b. b may be longer than the header.
func Decode(b []byte) (Header, error) {
	if len(b) < Size {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", xartype.ErrTruncated, Size, len(b))
	}
	if m := binary.BigEndian.Uint32(b[0:4]); m != Magic {
		return Header{}, fmt.Errorf("%w: %#08x", xartype.ErrBadMagic, m)
	}
	h := Header{
		Size:            binary.BigEndian.Uint16(b[4:6]),
		Version:         binary.BigEndian.Uint16(b[6:8]),
		TOCCompressed:   binary.BigEndian.Uint64(b[8:16]),
		TOCUncompressed: binary.BigEndian.Uint64(b[16:24]),
		ChecksumAlg:     binary.BigEndian.Uint32(b[24:28]),
	}
	if h.Size == ExtendedSize {
		if len(b) < ExtendedSize {
			return Header{}, fmt.Errorf("%w: extended header needs %d bytes, have %d", xartype.ErrTruncated, ExtendedSize, len(b))
		}
		field := b[Size:ExtendedSize]
		end := bytes.IndexByte(field, 0)
		if end < 0 {
			return Header{}, fmt.Errorf("%w: checksum name not terminated", xartype.ErrBadHeaderSize)
		}
		h.ChecksumName = string(field[:end])
	}
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Read decodes the header at the start of r.
func Read(r io.ReaderAt) (Header, error) {
	buf := make([]byte, ExtendedSize)
	n, err := r.ReadAt(buf[:Size], 0)
	if n < Size {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", xartype.ErrTruncated, Size, n)
		}
		return Header{}, fmt.Errorf("%w: read header: %w", xartype.ErrResource, err)
	}
	if binary.BigEndian.Uint16(buf[4:6]) == ExtendedSize {
		n, err = r.ReadAt(buf[Size:], Size)
		if n < NameSize {
			if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
				return Header{}, fmt.Errorf("%w: extended header", xartype.ErrTruncated)
			}
			return Header{}, fmt.Errorf("%w: read header: %w", xartype.ErrResource, err)
		}
		return Decode(buf)
	}
	return Decode(buf[:Size])
}
