package heap

import (
	"errors"
	"fmt"
	"io"

	"github.com/meigma/xar/internal/sizing"
	"github.com/meigma/xar/internal/xartype"
)

// Reader provides bounded access to the heap of an archive being read.
type Reader struct {
	src   io.ReaderAt
	base  int64
	total int64
}

// NewReader returns a Reader for a heap starting at base in an archive of
// total bytes.
func NewReader(src io.ReaderAt, base, total int64) *Reader {
	return &Reader{src: src, base: base, total: total}
}

// Size returns the number of heap bytes present in the archive.
func (r *Reader) Size() uint64 {
	if r.total <= r.base {
		return 0
	}
	return uint64(r.total - r.base)
}

// Check validates that [off, off+length) lies inside the heap.
func (r *Reader) Check(off, length uint64) error {
	if !sizing.Within(off, length, r.total-r.base) {
		return fmt.Errorf("%w: [%d, +%d) beyond heap of %d bytes", xartype.ErrOutOfRange, off, length, r.Size())
	}
	return nil
}

// Section returns a reader over exactly [off, off+length).
func (r *Reader) Section(off, length uint64) (*io.SectionReader, error) {
	if err := r.Check(off, length); err != nil {
		return nil, err
	}
	return io.NewSectionReader(r.src, r.base+int64(off), int64(length)), nil //nolint:gosec // bounded by Check
}

// ReadRange reads [off, off+length) into a new slice.
func (r *Reader) ReadRange(off, length uint64) ([]byte, error) {
	sec, err := r.Section(off, length)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(sec, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: heap read at %d", xartype.ErrTruncated, off)
		}
		return nil, fmt.Errorf("%w: %w", xartype.ErrResource, err)
	}
	return buf, nil
}
