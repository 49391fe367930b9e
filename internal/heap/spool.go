package heap

import (
	"fmt"
	"io"
	"os"
)

// Spool holds heap bytes while an archive is being written. The heap can
// only be emitted after the TOC, so it is staged here until close.
type Spool interface {
	io.Writer
	io.ReaderAt

	// Truncate discards everything at or past size and moves the write
	// position to size.
	Truncate(size int64) error

	// Close releases the spool and any backing storage.
	Close() error
}

// MemorySpool is a Spool backed by a byte slice.
type MemorySpool struct {
	buf []byte
}

// NewMemorySpool returns an empty in-memory spool.
func NewMemorySpool() *MemorySpool {
	return &MemorySpool{}
}

// Write implements io.Writer.
func (m *MemorySpool) Write(p []byte) (int, error) {
	m.buf = append(m.buf, p...)
	return len(p), nil
}

// ReadAt implements io.ReaderAt.
func (m *MemorySpool) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("heap: negative offset %d", off)
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Truncate implements Spool.
func (m *MemorySpool) Truncate(size int64) error {
	if size < 0 || size > int64(len(m.buf)) {
		return fmt.Errorf("heap: truncate to %d outside spool of %d bytes", size, len(m.buf))
	}
	m.buf = m.buf[:size]
	return nil
}

// Close implements Spool.
func (m *MemorySpool) Close() error {
	m.buf = nil
	return nil
}

// FileSpool is a Spool backed by a temporary file that is removed on Close.
type FileSpool struct {
	f *os.File
}

// NewFileSpool creates a temporary spool file in dir (os.TempDir when empty).
func NewFileSpool(dir string) (*FileSpool, error) {
	f, err := os.CreateTemp(dir, ".xar-heap-")
	if err != nil {
		return nil, fmt.Errorf("create heap spool: %w", err)
	}
	return &FileSpool{f: f}, nil
}

// Write implements io.Writer.
func (s *FileSpool) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// ReadAt implements io.ReaderAt.
func (s *FileSpool) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Truncate implements Spool.
func (s *FileSpool) Truncate(size int64) error {
	if err := s.f.Truncate(size); err != nil {
		return err
	}
	_, err := s.f.Seek(size, io.SeekStart)
	return err
}

// Close implements Spool.
func (s *FileSpool) Close() error {
	name := s.f.Name()
	err := s.f.Close()
	if rmErr := os.Remove(name); rmErr != nil && err == nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}
