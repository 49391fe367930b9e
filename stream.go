package xar

import (
	"errors"
	"fmt"
	"io"
)

// StreamState is the lifecycle state of a Stream.
type StreamState uint8

const (
	StreamUninitialized StreamState = iota
	StreamReady
	StreamDraining
	StreamFinished
	StreamError
)

// String returns the human-readable state.
func (s StreamState) String() string {
	switch s {
	case StreamUninitialized:
		return "uninitialized"
	case StreamReady:
		return "ready"
	case StreamDraining:
		return "draining"
	case StreamFinished:
		return "finished"
	case StreamError:
		return "error"
	default:
		return "unknown"
	}
}

// StepStatus is the outcome of one Stream.Step.
type StepStatus uint8

const (
	// StepNeedOutput means out was filled and more data remains.
	StepNeedOutput StepStatus = iota

	// StepEnd means the payload is complete and verified.
	StepEnd

	// StepError means decoding or verification failed.
	StepError
)

// String returns the human-readable status.
func (s StepStatus) String() string {
	switch s {
	case StepNeedOutput:
		return "need output"
	case StepEnd:
		return "end"
	case StepError:
		return "error"
	default:
		return "unknown"
	}
}

// Stream extracts one entry in caller-sized steps. The zero value is an
// uninitialized stream; call Init or Archive.OpenStream.
//
// Memory use is bounded by the caller's output buffer plus codec state,
// independent of the entry size.
type Stream struct {
	archive *Archive
	entry   *Entry
	pr      *payloadReader
	state   StreamState
	ended   bool
	err     error
}

// OpenStream returns a stream positioned at the start of e's payload.
func (a *Archive) OpenStream(e *Entry) (*Stream, error) {
	s := &Stream{}
	if err := s.Init(a, e); err != nil {
		return nil, err
	}
	return s, nil
}

// Init prepares s to decode e. Entries without data fail with ErrNoData.
func (s *Stream) Init(a *Archive, e *Entry) error {
	if s.ended {
		return ErrStreamEnded
	}
	if s.state != StreamUninitialized {
		return fmt.Errorf("%w: stream already initialized", ErrUsage)
	}
	p, err := a.dataOf(e)
	if err != nil {
		return a.fail(ClassExtraction, "stream", e, err)
	}
	pr, err := a.openData(p)
	if err != nil {
		return a.fail(ClassExtraction, "stream", e, err)
	}
	s.archive, s.entry, s.pr = a, e, pr
	s.state = StreamReady
	return nil
}

// Step fills out with the next decoded bytes. It returns StepEnd once the
// whole payload has been produced and verified; n may be non-zero on that
// call. A zero-length out makes no progress.
func (s *Stream) Step(out []byte) (int, StepStatus, error) {
	switch {
	case s.ended:
		return 0, StepError, ErrStreamEnded
	case s.state == StreamUninitialized:
		return 0, StepError, fmt.Errorf("%w: stream not initialized", ErrUsage)
	case s.state == StreamFinished:
		return 0, StepEnd, nil
	case s.state == StreamError:
		return 0, StepError, s.err
	}
	if len(out) == 0 {
		return 0, StepNeedOutput, nil
	}
	s.state = StreamDraining

	var n int
	for n < len(out) {
		m, err := s.pr.Read(out[n:])
		n += m
		if errors.Is(err, io.EOF) {
			s.state = StreamFinished
			return n, StepEnd, nil
		}
		if err != nil {
			s.state = StreamError
			s.err = s.archive.fail(ClassExtraction, "stream", s.entry, err)
			return n, StepError, s.err
		}
	}
	// An exact fill is only known to be complete once the reader reports
	// EOF, which the next Step observes.
	return n, StepNeedOutput, nil
}

// End releases the stream. Calling End twice, or any method after End,
// fails with ErrStreamEnded.
func (s *Stream) End() error {
	if s.ended {
		return ErrStreamEnded
	}
	s.ended = true
	if s.pr == nil {
		return nil
	}
	return s.pr.Close()
}

// State returns the stream's lifecycle state.
func (s *Stream) State() StreamState {
	return s.state
}

// TotalIn returns the archived bytes consumed so far.
func (s *Stream) TotalIn() uint64 {
	if s.pr == nil {
		return 0
	}
	return s.pr.in()
}

// TotalOut returns the decoded bytes produced so far.
func (s *Stream) TotalOut() uint64 {
	if s.pr == nil {
		return 0
	}
	return s.pr.out
}
