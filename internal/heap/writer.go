// Package heap manages the payload region of an archive: appending and
// coalescing blocks while writing, and bounded range reads while reading.
package heap

import (
	"fmt"
	"io"
	"strconv"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/xar/internal/xartype"
)

// Extent is a byte range in the heap.
type Extent struct {
	Offset uint64
	Length uint64
}

// End returns the first offset past the extent.
func (e Extent) End() uint64 {
	return e.Offset + e.Length
}

// Writer appends blocks to a spool. Its committed cursor only ever grows:
// a block that turns out to duplicate an earlier one is discarded before it
// is committed, never rewritten afterwards.
type Writer struct {
	spool    Spool
	cursor   uint64
	coalesce bool
	blocks   map[string]Extent
	open     *Block
}

// NewWriter returns a Writer over spool.
func NewWriter(spool Spool, coalesce bool) *Writer {
	return &Writer{
		spool:    spool,
		coalesce: coalesce,
		blocks:   make(map[string]Extent),
	}
}

// SetCoalesce changes the coalescing policy for blocks committed from now on.
func (w *Writer) SetCoalesce(enabled bool) {
	w.coalesce = enabled
}

// Size returns the committed heap size.
func (w *Writer) Size() uint64 {
	return w.cursor
}

// Begin opens a block. Only one block may be open at a time. style
// distinguishes identical bytes stored under different encodings.
func (w *Writer) Begin(style string) (*Block, error) {
	if w.open != nil {
		return nil, fmt.Errorf("%w: heap block already open", xartype.ErrUsage)
	}
	b := &Block{
		w:        w,
		start:    w.cursor,
		style:    style,
		digester: digest.Canonical.Digester(),
	}
	w.open = b
	return b, nil
}

// WriteTo copies the committed heap to dst.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	if w.open != nil {
		return 0, fmt.Errorf("%w: heap block still open", xartype.ErrUsage)
	}
	if w.cursor > 1<<62 {
		return 0, xartype.ErrSizeOverflow
	}
	return io.Copy(dst, io.NewSectionReader(w.spool, 0, int64(w.cursor)))
}

// Close releases the spool.
func (w *Writer) Close() error {
	return w.spool.Close()
}

// Block is a heap block being written.
type Block struct {
	w        *Writer
	start    uint64
	n        uint64
	style    string
	digester digest.Digester
	done     bool
}

// Write implements io.Writer.
func (b *Block) Write(p []byte) (int, error) {
	if b.done {
		return 0, fmt.Errorf("%w: heap block closed", xartype.ErrUsage)
	}
	n, err := b.w.spool.Write(p)
	if n > 0 {
		_, _ = b.digester.Hash().Write(p[:n]) //nolint:errcheck // hash writes never fail
		b.n += uint64(n)
	}
	if err != nil {
		return n, fmt.Errorf("%w: %w", xartype.ErrResource, err)
	}
	return n, nil
}

// Commit finalizes the block. dup reports that an identical block already
// existed and its extent was returned instead.
func (b *Block) Commit() (ext Extent, dup bool, err error) {
	if b.done {
		return Extent{}, false, fmt.Errorf("%w: heap block closed", xartype.ErrUsage)
	}
	b.done = true
	b.w.open = nil

	if b.n == 0 {
		return Extent{Offset: b.start}, false, nil
	}
	key := b.style + "|" + strconv.FormatUint(b.n, 10) + "|" + b.digester.Digest().String()
	if b.w.coalesce {
		if prev, ok := b.w.blocks[key]; ok {
			if err := b.w.spool.Truncate(int64(b.start)); err != nil { //nolint:gosec // start <= cursor
				return Extent{}, false, fmt.Errorf("%w: %w", xartype.ErrResource, err)
			}
			return prev, true, nil
		}
	}
	ext = Extent{Offset: b.start, Length: b.n}
	b.w.cursor = ext.End()
	if _, ok := b.w.blocks[key]; !ok {
		b.w.blocks[key] = ext
	}
	return ext, false, nil
}

// Abort discards the block.
func (b *Block) Abort() error {
	if b.done {
		return nil
	}
	b.done = true
	b.w.open = nil
	if err := b.w.spool.Truncate(int64(b.start)); err != nil { //nolint:gosec // start <= cursor
		return fmt.Errorf("%w: %w", xartype.ErrResource, err)
	}
	return nil
}
