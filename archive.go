package xar

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zlib"

	"github.com/meigma/xar/internal/checksum"
	"github.com/meigma/xar/internal/header"
	"github.com/meigma/xar/internal/heap"
	"github.com/meigma/xar/internal/sink"
	"github.com/meigma/xar/internal/sizing"
	"github.com/meigma/xar/internal/toc"
)

// ByteSource provides random access to an archive being read.
//
// *bytes.Reader and *io.SectionReader satisfy it directly; OpenFile wraps
// an *os.File.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

type mode uint8

const (
	modeRead mode = iota
	modeWrite
)

// Archive is an open xar archive, either for reading or for writing.
type Archive struct {
	cfg    config
	opts   *options
	mode   mode
	closed bool
	doc    *toc.Document
	hdr    header.Header

	// read side
	src       ByteSource
	srcCloser io.Closer
	heapR     *heap.Reader
	tocSum    []byte

	// write side
	out        io.Writer
	commit     sink.Committer
	heapW      *heap.Writer
	offsets    []*toc.Property
	signatures []*Signature
	inodes     map[uint64]*Entry
	copies     map[copyKey]*Entry
	eaSeq      int

	// extraction bookkeeping
	extracted map[string]string
	linked    map[uint64]string
}

func newArchive(m mode, opts []Option) *Archive {
	a := &Archive{
		cfg:       defaultConfig(),
		opts:      newOptions(),
		mode:      m,
		extracted: make(map[string]string),
		linked:    make(map[uint64]string),
		inodes:    make(map[uint64]*Entry),
		copies:    make(map[copyKey]*Entry),
	}
	for _, opt := range opts {
		opt(&a.cfg)
	}
	return a
}

func (a *Archive) applySettings() error {
	for _, s := range a.cfg.settings {
		if err := a.SetOption(s.key, s.value); err != nil {
			return err
		}
	}
	return nil
}

// Open reads the header and TOC of an archive.
//
// The TOC checksum is verified before the TOC is decompressed, so a
// corrupted TOC is reported as ErrIntegrity before any entry is visible.
func Open(src ByteSource, opts ...Option) (*Archive, error) {
	a := newArchive(modeRead, opts)
	a.src = src
	if err := a.load(); err != nil {
		return nil, a.fail(ClassExtraction, "open", nil, err)
	}
	if err := a.applySettings(); err != nil {
		return nil, err
	}
	return a, nil
}

type fileSource struct {
	*os.File
	size int64
}

func (f fileSource) Size() int64 {
	return f.size
}

// OpenFile opens the archive at path.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close() //nolint:errcheck // original error wins
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	a, err := Open(fileSource{File: f, size: info.Size()}, opts...)
	if err != nil {
		_ = f.Close() //nolint:errcheck // original error wins
		return nil, err
	}
	a.srcCloser = f
	return a, nil
}

func (a *Archive) load() error {
	hdr, err := header.Read(a.src)
	if err != nil {
		return err
	}
	a.hdr = hdr
	limit := a.cfg.maxTOCSize
	if limit > 0 && (hdr.TOCCompressed > limit || hdr.TOCUncompressed > limit) {
		return fmt.Errorf("%w: toc of %d bytes exceeds limit %d", ErrSizeOverflow, max(hdr.TOCCompressed, hdr.TOCUncompressed), limit)
	}
	heapStart, err := hdr.HeapOffset()
	if err != nil {
		return err
	}
	if heapStart > a.src.Size() {
		return fmt.Errorf("%w: toc ends at %d, archive is %d bytes", ErrTruncated, heapStart, a.src.Size())
	}
	a.heapR = heap.NewReader(a.src, heapStart, a.src.Size())

	tocLen, err := sizing.ToInt(hdr.TOCCompressed, ErrSizeOverflow)
	if err != nil {
		return err
	}
	tocZ := make([]byte, tocLen)
	if n, err := a.src.ReadAt(tocZ, hdr.TOCOffset()); n < len(tocZ) {
		if err == nil || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: toc", ErrTruncated)
		}
		return fmt.Errorf("%w: read toc: %w", ErrResource, err)
	}

	alg, err := checksum.FromHeader(hdr)
	if err != nil {
		return err
	}
	a.opts.put(OptTOCChecksum, alg.String())
	if !alg.IsNone() {
		stored, err := a.heapR.ReadRange(0, uint64(alg.Size()))
		if err != nil {
			return err
		}
		if res, err := checksum.Verify(alg, tocZ, stored); err != nil || res != checksum.Match {
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, alg)
		}
		a.tocSum = stored
	}

	zr, err := zlib.NewReader(bytes.NewReader(tocZ))
	if err != nil {
		return fmt.Errorf("%w: inflate: %w", ErrMalformedTOC, err)
	}
	defer zr.Close()
	errLong := fmt.Errorf("%w: toc longer than header declares", ErrMalformedTOC)
	xmlData, err := sizing.ReadAllWithLimit(zr, hdr.TOCUncompressed, errLong)
	if errors.Is(err, errLong) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: inflate: %w", ErrMalformedTOC, err)
	}
	if uint64(len(xmlData)) != hdr.TOCUncompressed {
		return fmt.Errorf("%w: toc is %d bytes, header declares %d", ErrMalformedTOC, len(xmlData), hdr.TOCUncompressed)
	}
	doc, err := toc.Unmarshal(xmlData)
	if err != nil {
		return err
	}
	a.doc = doc

	if c := doc.Checksum; c != nil && !alg.IsNone() && (c.Offset != 0 || c.Size != uint64(alg.Size())) {
		stored, err := a.heapR.ReadRange(c.Offset, c.Size)
		if err != nil {
			return err
		}
		if checksum.Compare(alg, a.tocSum, stored) != checksum.Match {
			return fmt.Errorf("%w: toc declares checksum at %d+%d", ErrChecksumMismatch, c.Offset, c.Size)
		}
	}

	for _, s := range doc.Signatures {
		signed, err := a.heapR.ReadRange(s.Offset, s.Length)
		if err != nil {
			return fmt.Errorf("signature %s: %w", s.Style, err)
		}
		a.signatures = append(a.signatures, &Signature{archive: a, sig: s, data: a.tocSum, signed: signed})
	}
	a.log().Debug("opened archive",
		"entries", doc.Len(),
		"toc_size", hdr.TOCCompressed,
		"toc_checksum", alg.String(),
		"heap_offset", heapStart,
	)
	return nil
}

// Create starts a new archive written to w when the archive is closed.
func Create(w io.Writer, opts ...Option) (*Archive, error) {
	a := newArchive(modeWrite, opts)
	a.out = w
	a.doc = toc.NewDocument()
	if err := a.applySettings(); err != nil {
		return nil, err
	}
	var spool heap.Spool
	if a.cfg.memorySpool {
		spool = heap.NewMemorySpool()
	} else {
		fs, err := heap.NewFileSpool(a.cfg.spoolDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResource, err)
		}
		spool = fs
	}
	a.heapW = heap.NewWriter(spool, a.optBool(OptCoalesce))
	return a, nil
}

// CreateFile starts a new archive at path. The file appears at path only
// once Close succeeds.
func CreateFile(path string, opts ...Option) (*Archive, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	c, err := sink.New(filepath.Dir(abs), sink.WithOverwrite(true)).Writer(filepath.Base(abs), sink.Meta{Mode: 0o644})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	a, err := Create(c, opts...)
	if err != nil {
		_ = c.Discard() //nolint:errcheck // original error wins
		return nil, err
	}
	a.commit = c
	return a, nil
}

// Close finishes the archive.
//
// In write mode Close serializes, compresses and checksums the TOC, invokes
// every signer exactly once, and writes header, TOC and heap. In read mode
// it releases the source. Close is idempotent.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.mode == modeRead {
		if a.srcCloser != nil {
			if err := a.srcCloser.Close(); err != nil {
				return fmt.Errorf("%w: %w", ErrResource, err)
			}
		}
		return nil
	}

	err := a.finish()
	if spoolErr := a.heapW.Close(); spoolErr != nil && err == nil {
		err = fmt.Errorf("%w: %w", ErrResource, spoolErr)
	}
	if a.commit != nil {
		if err != nil {
			_ = a.commit.Discard() //nolint:errcheck // original error wins
		} else if cerr := a.commit.Commit(); cerr != nil {
			err = fmt.Errorf("%w: %w", ErrResource, cerr)
		}
	}
	if err != nil {
		return a.fail(ClassCreation, "close", nil, err)
	}
	return nil
}

func (a *Archive) finish() error {
	alg := a.tocAlgorithm()
	if alg.IsNone() && len(a.signatures) > 0 {
		return ErrNoTOCChecksum
	}
	sumSize := uint64(alg.Size())
	a.doc.Checksum = nil
	if !alg.IsNone() {
		a.doc.Checksum = &toc.ChecksumInfo{Style: alg.String(), Offset: 0, Size: sumSize}
	}
	next := sumSize
	for _, s := range a.signatures {
		s.sig.Offset = next
		next += s.sig.Length
	}
	reserved := a.doc.ReservedSize()
	for _, p := range a.offsets {
		rel, err := strconv.ParseUint(p.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: data offset %q", ErrMalformedTOC, p.Value)
		}
		p.Value = strconv.FormatUint(rel+reserved, 10)
	}
	if !a.cfg.creationTime.IsZero() {
		if _, err := a.doc.Props.Set("creation-time", a.cfg.creationTime.UTC().Format(toc.TimeFormat)); err != nil {
			return err
		}
	}

	xmlData, err := toc.Marshal(a.doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedTOC, err)
	}
	var tocZ bytes.Buffer
	zw := zlib.NewWriter(&tocZ)
	if _, err := zw.Write(xmlData); err != nil {
		return fmt.Errorf("compress toc: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress toc: %w", err)
	}

	sum, err := checksum.Compute(alg, tocZ.Bytes())
	if err != nil {
		return err
	}
	for _, s := range a.signatures {
		if err := s.sign(sum); err != nil {
			return err
		}
	}

	kind, name := alg.HeaderFields()
	hdr := header.New(kind, name)
	hdr.TOCCompressed = uint64(tocZ.Len())
	hdr.TOCUncompressed = uint64(len(xmlData))
	hdrBytes, err := header.Encode(hdr)
	if err != nil {
		return err
	}
	a.hdr = hdr
	a.tocSum = sum

	bw := bufio.NewWriter(a.out)
	parts := [][]byte{hdrBytes, tocZ.Bytes(), sum}
	for _, s := range a.signatures {
		parts = append(parts, s.signed)
	}
	for _, p := range parts {
		if _, err := bw.Write(p); err != nil {
			return fmt.Errorf("%w: %w", ErrResource, err)
		}
	}
	if _, err := a.heapW.WriteTo(bw); err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	a.log().Debug("wrote archive",
		"entries", a.doc.Len(),
		"toc_size", hdr.TOCCompressed,
		"heap_size", reserved+a.heapW.Size(),
		"signatures", len(a.signatures),
	)
	return nil
}

// SetErrorHandler replaces the error handler. nil restores the default.
func (a *Archive) SetErrorHandler(h ErrorHandler) {
	a.cfg.handler = h
}

// Writable reports whether the archive was created for writing.
func (a *Archive) Writable() bool {
	return a.mode == modeWrite
}

// Files returns a pre-order cursor over every entry.
func (a *Archive) Files() *Cursor[*Entry] {
	return a.doc.Files()
}

// Lookup returns the entry at a slash-separated path. With repeated sibling
// names the first in insertion order wins.
func (a *Archive) Lookup(path string) (*Entry, bool) {
	return a.doc.Lookup(path)
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return a.doc.Len()
}

// TOCProperties returns the toc-level property tree, which holds values
// such as creation-time.
func (a *Archive) TOCProperties() *toc.Node {
	return &a.doc.Props
}

// SerializeTOC writes the table of contents as XML to w. For an archive
// being written the data offsets are heap-relative and no checksum element
// is present until Close.
func (a *Archive) SerializeTOC(w io.Writer) error {
	class := ClassExtraction
	if a.mode == modeWrite {
		class = ClassCreation
	}
	if a.closed {
		return a.fail(class, "serialize toc", nil, ErrClosed)
	}
	b, err := toc.Marshal(a.doc)
	if err != nil {
		return a.fail(class, "serialize toc", nil, fmt.Errorf("%w: %w", ErrMalformedTOC, err))
	}
	if _, err := w.Write(b); err != nil {
		return a.fail(class, "serialize toc", nil, fmt.Errorf("%w: %w", ErrResource, err))
	}
	return nil
}

// HeapOffset returns the archive offset at which the heap begins. It is
// known for archives being read and for written archives after Close.
func (a *Archive) HeapOffset() int64 {
	off, err := a.hdr.HeapOffset()
	if err != nil {
		return 0
	}
	return off
}

func (a *Archive) log() *slog.Logger {
	if a.cfg.logger != nil {
		return a.cfg.logger
	}
	return slog.New(slog.DiscardHandler)
}

func (a *Archive) readable() error {
	if a.closed {
		return ErrClosed
	}
	if a.mode != modeRead {
		return fmt.Errorf("%w: archive is open for writing", ErrWrongMode)
	}
	return nil
}

func (a *Archive) writable() error {
	if a.closed {
		return ErrClosed
	}
	if a.mode != modeWrite {
		return fmt.Errorf("%w: archive is open for reading", ErrWrongMode)
	}
	return nil
}

func (a *Archive) owns(e *Entry) error {
	if e == nil || e.Document() != a.doc {
		return ErrForeignEntry
	}
	return nil
}
