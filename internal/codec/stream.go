package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/meigma/xar/internal/xartype"
)

// Direction selects compression or decompression for a Stream.
type Direction uint8

const (
	Encode Direction = iota
	Decode
)

// Status reports the state of a Stream after Feed.
type Status uint8

const (
	// NeedInput means the stream consumed the input and produced nothing yet.
	NeedInput Status = iota

	// OutputReady means Feed returned output bytes.
	OutputReady

	// End means the stream has been finished.
	End

	// Error means the stream failed and must be closed.
	Error
)

// String returns the human-readable status.
func (s Status) String() string {
	switch s {
	case NeedInput:
		return "need input"
	case OutputReady:
		return "output ready"
	case End:
		return "end"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Stream is a push-based codec: callers feed input and collect whatever
// output the codec has produced so far.
//
// The pull-driven decoders run on a goroutine that is parked whenever
// Feed or Finish returns, so each Feed yields everything its input
// allowed the decoder to produce.
type Stream struct {
	dir  Direction
	alg  Algorithm
	args Args

	out bytes.Buffer
	enc io.WriteCloser
	dec *decoder

	totalIn  uint64
	totalOut uint64
	finished bool
	closed   bool
	err      error
}

// Init creates a Stream.
func Init(dir Direction, alg Algorithm, args Args) (*Stream, error) {
	s := &Stream{dir: dir, alg: alg, args: args}
	if dir == Encode {
		enc, err := NewWriter(alg, args, &s.out)
		if err != nil {
			return nil, err
		}
		s.enc = enc
		return s, nil
	}
	if _, ok := argRange[alg]; !ok && alg != None {
		return nil, fmt.Errorf("%w: %d", xartype.ErrUnknownCompression, alg)
	}
	return s, nil
}

// Algorithm returns the stream's algorithm.
func (s *Stream) Algorithm() Algorithm {
	return s.alg
}

// TotalIn returns the number of bytes fed so far.
func (s *Stream) TotalIn() uint64 {
	return s.totalIn
}

// TotalOut returns the number of bytes produced so far.
func (s *Stream) TotalOut() uint64 {
	return s.totalOut
}

// Feed pushes input into the stream.
func (s *Stream) Feed(in []byte) ([]byte, Status, error) {
	if err := s.usable(); err != nil {
		return nil, Error, err
	}
	if s.finished {
		return nil, End, nil
	}
	s.totalIn += uint64(len(in))
	if s.dir == Decode {
		return s.feedDecoder(in)
	}
	if _, err := s.enc.Write(in); err != nil {
		s.err = err
		return nil, Error, err
	}
	if s.out.Len() == 0 {
		return nil, NeedInput, nil
	}
	return s.drain(), OutputReady, nil
}

// Finish flushes the codec and returns the trailing output. A Decode stream
// that was never fed finishes with no output.
func (s *Stream) Finish() ([]byte, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if s.finished {
		return nil, nil
	}
	s.finished = true
	if s.dir == Encode {
		if err := s.enc.Close(); err != nil {
			s.err = err
			return nil, err
		}
		return s.drain(), nil
	}
	if s.dec == nil {
		return nil, nil
	}
	s.dec.endInput()
	<-s.dec.done
	if s.dec.err != nil {
		s.err = fmt.Errorf("%w: %v", xartype.ErrDecompression, s.dec.err)
		return nil, s.err
	}
	return s.drain(), nil
}

// Close releases the stream. Close is idempotent.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.dec != nil {
		s.dec.endInput()
		<-s.dec.done
	}
	if s.enc != nil && !s.finished {
		return s.enc.Close()
	}
	return nil
}

func (s *Stream) usable() error {
	if s.closed {
		return xartype.ErrStreamEnded
	}
	return s.err
}

func (s *Stream) drain() []byte {
	b := bytes.Clone(s.out.Bytes())
	s.totalOut += uint64(len(b))
	s.out.Reset()
	return b
}

func (s *Stream) feedDecoder(in []byte) ([]byte, Status, error) {
	if s.dec == nil {
		s.dec = newDecoder()
		go s.dec.run(s.alg, &s.out)
		s.dec.wait()
	}
	select {
	case s.dec.chunks <- in:
		s.dec.wait()
	case <-s.dec.done:
	}

	select {
	case <-s.dec.done:
		if s.dec.err != nil {
			s.err = fmt.Errorf("%w: %v", xartype.ErrDecompression, s.dec.err)
			return nil, Error, s.err
		}
		s.finished = true
		return s.drain(), End, nil
	default:
	}
	if s.out.Len() == 0 {
		return nil, NeedInput, nil
	}
	return s.drain(), OutputReady, nil
}

// decoder hands fed chunks to a pull-driven reader. The goroutine signals
// idle each time it has consumed every byte fed so far.
type decoder struct {
	chunks chan []byte
	idle   chan struct{}
	done   chan struct{}
	buf    []byte
	eof    bool
	ended  bool
	err    error
}

func newDecoder() *decoder {
	return &decoder{
		chunks: make(chan []byte),
		idle:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (d *decoder) run(alg Algorithm, out io.Writer) {
	defer close(d.done)
	r, err := NewReader(alg, d)
	if err != nil {
		d.err = err
		return
	}
	_, err = io.Copy(writeOnly{out}, r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	d.err = err
}

// Read implements io.Reader for the decoding goroutine.
func (d *decoder) Read(p []byte) (int, error) {
	for len(d.buf) == 0 {
		if d.eof {
			return 0, io.EOF
		}
		d.idle <- struct{}{}
		chunk, ok := <-d.chunks
		if !ok {
			d.eof = true
			return 0, io.EOF
		}
		d.buf = chunk
	}
	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}

// writeOnly hides io.ReaderFrom so a parked Read never holds a slice of
// the output buffer across a drain.
type writeOnly struct{ io.Writer }

// wait blocks until the goroutine wants more input or has stopped.
func (d *decoder) wait() {
	select {
	case <-d.idle:
	case <-d.done:
	}
}

func (d *decoder) endInput() {
	if !d.ended {
		d.ended = true
		close(d.chunks)
	}
}
