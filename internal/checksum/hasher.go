package checksum

import (
	"encoding/hex"
	"hash"
	"io"
)

// Hasher accumulates a digest for one algorithm. A Hasher for None accepts
// writes and sums to nil.
type Hasher struct {
	alg Algorithm
	h   hash.Hash
}

// NewHasher returns a Hasher for a.
func NewHasher(a Algorithm) (*Hasher, error) {
	h, err := a.New()
	if err != nil {
		return nil, err
	}
	return &Hasher{alg: a, h: h}, nil
}

// Algorithm returns the hasher's algorithm.
func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	if h.h != nil {
		_, _ = h.h.Write(p) //nolint:errcheck // hash writes never fail
	}
	return len(p), nil
}

// Sum returns the digest so far.
func (h *Hasher) Sum() []byte {
	if h.h == nil {
		return nil
	}
	return h.h.Sum(nil)
}

// Hex returns the digest so far as lowercase hex.
func (h *Hasher) Hex() string {
	return hex.EncodeToString(h.Sum())
}

// HashingReader wraps an io.Reader and hashes all data read.
type HashingReader struct {
	r io.Reader
	h *Hasher
}

// NewHashingReader creates a reader that computes a digest while reading.
func NewHashingReader(r io.Reader, h *Hasher) *HashingReader {
	return &HashingReader{r: r, h: h}
}

// Read implements io.Reader.
func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		_, _ = hr.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
	}
	return n, err
}

// Sum returns the digest of everything read so far.
func (hr *HashingReader) Sum() []byte {
	return hr.h.Sum()
}

// DecodeHex parses a digest stored as hex in the TOC.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
