package xar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/meigma/xar/internal/checksum"
	"github.com/meigma/xar/internal/codec"
	"github.com/meigma/xar/internal/toc"
)

const (
	dataLength    = "length"
	dataOffset    = "offset"
	dataSize      = "size"
	dataEncoding  = "encoding"
	dataArchived  = "archived-checksum"
	dataExtracted = "extracted-checksum"
)

// encodePayload compresses r into the heap and returns the resulting data
// property. The offset child is registered for rebasing at Close.
func (a *Archive) encodePayload(r io.Reader) (*toc.Property, error) {
	alg := a.compressionAlgorithm()
	style := alg.Style(a.rfc6713())
	fileAlg := a.fileAlgorithm()

	extracted, err := checksum.NewHasher(fileAlg)
	if err != nil {
		return nil, err
	}
	archived, err := checksum.NewHasher(fileAlg)
	if err != nil {
		return nil, err
	}

	block, err := a.heapW.Begin(style)
	if err != nil {
		return nil, err
	}
	n, err := a.encodeInto(block, archived, checksum.NewHashingReader(r, extracted), alg)
	if err != nil {
		_ = block.Abort() //nolint:errcheck // original error wins
		return nil, err
	}

	var offset, length uint64
	archivedSum := archived.Hex()
	if n == 0 {
		// Empty payloads are stored as zero stored bytes rather than an
		// empty compressed stream.
		if err := block.Abort(); err != nil {
			return nil, err
		}
		offset = a.heapW.Size()
		style = codec.StyleNone
		archivedSum = extracted.Hex()
	} else {
		ext, dup, err := block.Commit()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResource, err)
		}
		if dup {
			a.log().Debug("coalesced payload", "offset", ext.Offset, "length", ext.Length)
		}
		offset, length = ext.Offset, ext.Length
	}

	data := &toc.Property{Key: toc.KeyData}
	offProp := &toc.Property{Key: dataOffset, Value: strconv.FormatUint(offset, 10)}
	data.Children = append(data.Children,
		&toc.Property{Key: dataLength, Value: strconv.FormatUint(length, 10)},
		offProp,
		&toc.Property{Key: dataSize, Value: strconv.FormatUint(n, 10)},
		&toc.Property{Key: dataEncoding, Attrs: []toc.Attr{{Name: toc.AttrStyle, Value: style}}},
	)
	if !fileAlg.IsNone() {
		data.Children = append(data.Children,
			sumProperty(dataArchived, fileAlg, archivedSum),
			sumProperty(dataExtracted, fileAlg, extracted.Hex()),
		)
	}
	a.offsets = append(a.offsets, offProp)
	return data, nil
}

// encodeInto pushes r through an encoding stream in rsize chunks, writing
// the compressed output to block and archived. It returns the number of
// bytes read from r.
func (a *Archive) encodeInto(block, archived io.Writer, r io.Reader, alg codec.Algorithm) (uint64, error) {
	st, err := codec.Init(codec.Encode, alg, a.compressionArgs(alg))
	if err != nil {
		return 0, err
	}
	defer st.Close()
	w := io.MultiWriter(block, archived)

	buf := make([]byte, a.optInt(OptReadSize, defaultReadSize))
	for {
		k, rerr := r.Read(buf)
		if k > 0 {
			out, _, err := st.Feed(buf[:k])
			if err != nil {
				return 0, fmt.Errorf("%w: compress: %w", ErrCodec, err)
			}
			if _, err := w.Write(out); err != nil {
				return 0, fmt.Errorf("%w: %w", ErrResource, err)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return 0, readError(rerr)
		}
	}
	tail, err := st.Finish()
	if err != nil {
		return 0, fmt.Errorf("%w: compress: %w", ErrCodec, err)
	}
	if _, err := w.Write(tail); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrResource, err)
	}
	return st.TotalIn(), nil
}

// readError keeps integrity and format failures from a source archive
// intact and files everything else under ErrResource.
func readError(err error) error {
	if errors.Is(err, ErrIntegrity) || errors.Is(err, ErrFormat) || errors.Is(err, ErrCodec) {
		return err
	}
	return fmt.Errorf("%w: read payload: %w", ErrResource, err)
}

func sumProperty(key string, alg checksum.Algorithm, sum string) *toc.Property {
	return &toc.Property{
		Key:   key,
		Value: sum,
		Attrs: []toc.Attr{{Name: toc.AttrStyle, Value: alg.String()}},
	}
}

// dataRef is a parsed data property.
type dataRef struct {
	offset, length, size uint64
	alg                  codec.Algorithm
	style                string
	archived, extracted  sumRef
}

type sumRef struct {
	alg  checksum.Algorithm
	want []byte
	set  bool
}

func parseData(p *toc.Property) (dataRef, error) {
	var ref dataRef
	num := func(key string) (uint64, bool, error) {
		c := p.Child(key)
		if c == nil {
			return 0, false, nil
		}
		v, err := strconv.ParseUint(strings.TrimSpace(c.Value), 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: data %s %q", ErrMalformedTOC, key, c.Value)
		}
		return v, true, nil
	}
	var ok bool
	var err error
	if ref.offset, ok, err = num(dataOffset); err != nil {
		return ref, err
	} else if !ok {
		return ref, fmt.Errorf("%w: data without offset", ErrMalformedTOC)
	}
	if ref.length, ok, err = num(dataLength); err != nil {
		return ref, err
	} else if !ok {
		return ref, fmt.Errorf("%w: data without length", ErrMalformedTOC)
	}
	var hasSize bool
	if ref.size, hasSize, err = num(dataSize); err != nil {
		return ref, err
	}
	if enc := p.Child(dataEncoding); enc != nil {
		ref.style, _ = enc.Attr(toc.AttrStyle)
	}
	if ref.alg, err = codec.FromStyle(ref.style); err != nil {
		return ref, err
	}
	if !hasSize {
		if ref.alg != codec.None {
			return ref, fmt.Errorf("%w: compressed data without size", ErrMalformedTOC)
		}
		ref.size = ref.length
	}
	if ref.archived, err = parseSum(p.Child(dataArchived)); err != nil {
		return ref, err
	}
	if ref.extracted, err = parseSum(p.Child(dataExtracted)); err != nil {
		return ref, err
	}
	return ref, nil
}

func parseSum(p *toc.Property) (sumRef, error) {
	if p == nil {
		return sumRef{}, nil
	}
	style, _ := p.Attr(toc.AttrStyle)
	alg, err := checksum.Parse(style)
	if err != nil {
		return sumRef{}, err
	}
	if alg.IsNone() {
		return sumRef{}, nil
	}
	want, err := checksum.DecodeHex(strings.TrimSpace(p.Value))
	if err != nil {
		return sumRef{}, fmt.Errorf("%w: %s checksum %q", ErrMalformedTOC, alg, p.Value)
	}
	return sumRef{alg: alg, want: want, set: true}, nil
}

func (s sumRef) hasher() *checksum.Hasher {
	alg := checksum.None
	if s.set {
		alg = s.alg
	}
	h, _ := checksum.NewHasher(alg) //nolint:errcheck // alg resolved by parseSum
	return h
}

// payloadReader decodes one heap payload and verifies it at EOF.
//
// Archived bytes flow section -> archived hasher -> decoder, and decoded
// bytes through the extracted hasher. Both digests and the decoded size are
// checked once the decoder reports EOF.
type payloadReader struct {
	ref       dataRef
	count     *countingReader
	raw       *checksum.HashingReader
	dec       io.ReadCloser
	extracted *checksum.Hasher
	out       uint64
	err       error
}

// openData opens the payload described by a data property.
func (a *Archive) openData(p *toc.Property) (*payloadReader, error) {
	ref, err := parseData(p)
	if err != nil {
		return nil, err
	}
	sec, err := a.heapR.Section(ref.offset, ref.length)
	if err != nil {
		return nil, err
	}
	count := &countingReader{r: sec}
	pr := &payloadReader{
		ref:       ref,
		count:     count,
		raw:       checksum.NewHashingReader(count, ref.archived.hasher()),
		extracted: ref.extracted.hasher(),
	}
	if ref.length == 0 {
		pr.dec = io.NopCloser(bytes.NewReader(nil))
		return pr, nil
	}
	pr.dec, err = codec.NewReader(ref.alg, pr.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecompression, ref.alg, err)
	}
	return pr, nil
}

// Read implements io.Reader. A verification failure is returned in place
// of io.EOF.
func (p *payloadReader) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.dec.Read(b)
	if n > 0 {
		p.out += uint64(n)
		if p.out > p.ref.size {
			p.err = fmt.Errorf("%w: payload exceeds declared size %d", ErrHashMismatch, p.ref.size)
			return 0, p.err
		}
		_, _ = p.extracted.Write(b[:n]) //nolint:errcheck // hash writes never fail
	}
	switch {
	case errors.Is(err, io.EOF):
		p.err = p.finish()
		if p.err == nil {
			p.err = io.EOF
		}
		if n > 0 {
			return n, nil
		}
		return 0, p.err
	case err != nil:
		if errors.Is(err, ErrFormat) || errors.Is(err, ErrResource) {
			p.err = err
		} else {
			p.err = fmt.Errorf("%w: %s: %w", ErrDecompression, p.ref.alg, err)
		}
		return n, p.err
	}
	return n, nil
}

func (p *payloadReader) finish() error {
	if _, err := io.Copy(io.Discard, p.raw); err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	if p.out != p.ref.size {
		return fmt.Errorf("%w: decoded %d bytes, declared %d", ErrHashMismatch, p.out, p.ref.size)
	}
	if s := p.ref.archived; s.set && checksum.Compare(s.alg, p.raw.Sum(), s.want) != checksum.Match {
		return fmt.Errorf("%w: archived %s checksum", ErrHashMismatch, s.alg)
	}
	if s := p.ref.extracted; s.set && checksum.Compare(s.alg, p.extracted.Sum(), s.want) != checksum.Match {
		return fmt.Errorf("%w: extracted %s checksum", ErrHashMismatch, s.alg)
	}
	return nil
}

// checked reports whether any digest is verified for this payload.
func (p *payloadReader) checked() bool {
	return p.ref.archived.set || p.ref.extracted.set
}

// in returns the archived bytes consumed so far.
func (p *payloadReader) in() uint64 {
	return p.count.n
}

func (p *payloadReader) Close() error {
	return p.dec.Close()
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n) //nolint:gosec // n is non-negative
	return n, err
}
