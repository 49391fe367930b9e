// Package checksum resolves digest algorithms by name and computes or
// verifies TOC and entry checksums.
//
// Three algorithms have fixed ids in the archive header (none, sha1, md5).
// Every other digest is carried as a named "other" algorithm and must be
// resolvable through the registry in this package.
package checksum

import (
	"bytes"
	"crypto/md5" //nolint:gosec // md5 is a legacy xar checksum style
	"crypto/sha1" //nolint:gosec // sha1 is the historical xar default
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"

	"github.com/meigma/xar/internal/header"
	"github.com/meigma/xar/internal/xartype"
)

// Kind is the header-level algorithm id.
type Kind uint32

const (
	KindNone  = Kind(header.ChecksumNone)
	KindSHA1  = Kind(header.ChecksumSHA1)
	KindMD5   = Kind(header.ChecksumMD5)
	KindOther = Kind(header.ChecksumOther)
)

// Algorithm identifies a digest. Name is the style string written to the TOC.
type Algorithm struct {
	Kind Kind
	Name string
}

// Built-in algorithms.
var (
	None = Algorithm{Kind: KindNone, Name: "none"}
	SHA1 = Algorithm{Kind: KindSHA1, Name: "sha1"}
	MD5  = Algorithm{Kind: KindMD5, Name: "md5"}
)

// Result is the outcome of a verification.
type Result uint8

const (
	// Unchecked means no digest was compared (algorithm none).
	Unchecked Result = iota
	Match
	Mismatch
)

// String returns the human-readable result.
func (r Result) String() string {
	switch r {
	case Unchecked:
		return "unchecked"
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

type entry struct {
	name string
	new  func() hash.Hash
}

func mustHash(h hash.Hash, err error) hash.Hash {
	if err != nil {
		panic(err)
	}
	return h
}

func ociHash(alg digest.Algorithm) func() hash.Hash {
	return func() hash.Hash { return alg.Hash() }
}

// registry is keyed by normalized name.
var registry = map[string]entry{
	"md5":        {"md5", md5.New},
	"sha1":       {"sha1", sha1.New},
	"sha224":     {"sha224", sha256.New224},
	"sha256":     {"sha256", ociHash(digest.SHA256)},
	"sha384":     {"sha384", ociHash(digest.SHA384)},
	"sha512":     {"sha512", ociHash(digest.SHA512)},
	"sha512224":  {"sha512-224", sha512.New512_224},
	"sha512256":  {"sha512-256", sha512.New512_256},
	"sha3224":    {"sha3-224", sha3.New224},
	"sha3256":    {"sha3-256", sha3.New256},
	"sha3384":    {"sha3-384", sha3.New384},
	"sha3512":    {"sha3-512", sha3.New512},
	"blake2b256": {"blake2b-256", func() hash.Hash { return mustHash(blake2b.New256(nil)) }},
	"blake2b384": {"blake2b-384", func() hash.Hash { return mustHash(blake2b.New384(nil)) }},
	"blake2b512": {"blake2b-512", func() hash.Hash { return mustHash(blake2b.New512(nil)) }},
	"blake2s256": {"blake2s-256", func() hash.Hash { return mustHash(blake2s.New256(nil)) }},
	"blake3":     {"blake3", func() hash.Hash { return blake3.New() }},
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(name)
}

// Parse resolves an algorithm name. Unknown names return ErrUnknownAlgorithm.
func Parse(name string) (Algorithm, error) {
	key := normalize(name)
	switch key {
	case "none", "":
		return None, nil
	case "sha1", "sha":
		return SHA1, nil
	case "md5":
		return MD5, nil
	}
	e, ok := registry[key]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %q (known: %s)", xartype.ErrUnknownAlgorithm, name, strings.Join(Names(), ", "))
	}
	return Algorithm{Kind: KindOther, Name: e.name}, nil
}

// FromHeader returns the algorithm recorded in an archive header.
func FromHeader(h header.Header) (Algorithm, error) {
	switch Kind(h.ChecksumAlg) {
	case KindNone:
		return None, nil
	case KindSHA1:
		return SHA1, nil
	case KindMD5:
		return MD5, nil
	case KindOther:
		return Parse(h.ChecksumName)
	default:
		return Algorithm{}, fmt.Errorf("%w: header id %d", xartype.ErrUnknownAlgorithm, h.ChecksumAlg)
	}
}

// Names lists every resolvable algorithm name.
func Names() []string {
	names := []string{None.Name}
	for _, e := range registry {
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names
}

// String returns the TOC style name.
func (a Algorithm) String() string {
	if a.Name == "" {
		return None.Name
	}
	return a.Name
}

// IsNone reports whether a disables checksumming.
func (a Algorithm) IsNone() bool {
	return a.Kind == KindNone
}

// HeaderFields returns the id and name to store in an archive header.
func (a Algorithm) HeaderFields() (uint32, string) {
	if a.Kind == KindOther {
		return header.ChecksumOther, a.Name
	}
	return uint32(a.Kind), ""
}

// New returns a fresh hash for a. It returns nil for None.
func (a Algorithm) New() (hash.Hash, error) {
	if a.IsNone() {
		return nil, nil
	}
	e, ok := registry[normalize(a.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", xartype.ErrUnknownAlgorithm, a.Name)
	}
	return e.new(), nil
}

// Size returns the digest length in bytes, zero for None.
func (a Algorithm) Size() int {
	h, err := a.New()
	if err != nil || h == nil {
		return 0
	}
	return h.Size()
}

// Compute returns the digest of b. It returns nil for None.
func Compute(a Algorithm, b []byte) ([]byte, error) {
	h, err := a.New()
	if err != nil || h == nil {
		return nil, err
	}
	_, _ = h.Write(b) //nolint:errcheck // hash writes never fail
	return h.Sum(nil), nil
}

// Verify compares the digest of b with expected.
func Verify(a Algorithm, b, expected []byte) (Result, error) {
	if a.IsNone() {
		return Unchecked, nil
	}
	sum, err := Compute(a, b)
	if err != nil {
		return Mismatch, err
	}
	return Compare(a, sum, expected), nil
}

// Compare compares an already computed digest with expected.
func Compare(a Algorithm, actual, expected []byte) Result {
	if a.IsNone() {
		return Unchecked
	}
	if bytes.Equal(actual, expected) {
		return Match
	}
	return Mismatch
}
