package xar

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/meigma/xar/internal/toc"
)

// Signer produces detached signature bytes over the TOC checksum.
//
// Sign is called exactly once per signature, during Close. The returned
// bytes must be exactly the length claimed when the signature was added.
type Signer interface {
	Sign(sig *Signature, data []byte) ([]byte, error)
}

// SignerFunc adapts a function to a Signer.
type SignerFunc func(sig *Signature, data []byte) ([]byte, error)

// Sign implements Signer.
func (f SignerFunc) Sign(sig *Signature, data []byte) ([]byte, error) {
	return f(sig, data)
}

// Signature is a detached signature slot in an archive.
type Signature struct {
	archive *Archive
	sig     *toc.Signature
	signer  Signer

	// data is the signed TOC checksum; signed is the signature bytes.
	data   []byte
	signed []byte
}

// AddSignature reserves a signature of claimedLen bytes. The archive's TOC
// checksum must not be "none".
func (a *Archive) AddSignature(style string, claimedLen uint64, signer Signer) (*Signature, error) {
	if err := a.writable(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: nil signer", ErrUsage)
	}
	if style == "" || !toc.ValidText(style) {
		return nil, fmt.Errorf("%w: signature style %q", ErrInvalidName, style)
	}
	if a.tocAlgorithm().IsNone() {
		return nil, ErrNoTOCChecksum
	}
	ts := &toc.Signature{Style: style, Length: claimedLen}
	a.doc.AddSignature(ts)
	s := &Signature{archive: a, sig: ts, signer: signer}
	a.signatures = append(a.signatures, s)
	return s, nil
}

// Signatures returns a cursor over the archive's signatures in order.
func (a *Archive) Signatures() *Cursor[*Signature] {
	return toc.NewCursor(a.signatures)
}

func (s *Signature) sign(data []byte) error {
	out, err := s.signer.Sign(s, data)
	if err != nil {
		return fmt.Errorf("sign %s: %w", s.sig.Style, err)
	}
	if uint64(len(out)) != s.sig.Length {
		return fmt.Errorf("%w: %s signer returned %d bytes, claimed %d", ErrSignatureLength, s.sig.Style, len(out), s.sig.Length)
	}
	s.data = data
	s.signed = out
	return nil
}

// Type returns the signature style, for example "RSA".
func (s *Signature) Type() string {
	return s.sig.Style
}

// Length returns the claimed signature length.
func (s *Signature) Length() uint64 {
	return s.sig.Length
}

// AddX509Certificate appends a DER certificate to the signature's chain.
// Certificates can only be added while the archive is being written.
func (s *Signature) AddX509Certificate(der []byte) error {
	if err := s.archive.writable(); err != nil {
		return err
	}
	if len(der) == 0 {
		return errors.New("xar: empty certificate")
	}
	s.sig.AddCertificate(der)
	return nil
}

// CertificateCount returns the number of certificates in the chain.
func (s *Signature) CertificateCount() int {
	return len(s.sig.Certificates)
}

// Certificate returns the DER bytes of certificate i.
func (s *Signature) Certificate(i int) ([]byte, error) {
	return s.sig.Certificate(i)
}

// ParseCertificates decodes the certificate chain.
func (s *Signature) ParseCertificates() ([]*x509.Certificate, error) {
	return s.sig.ParseCertificates()
}

// SignedData returns the bytes that were signed (the TOC checksum), the
// signature bytes, and the absolute archive offset of the signature.
//
// For an archive being written it is available only after Close.
func (s *Signature) SignedData() (data, signature []byte, offset int64, err error) {
	if s.signed == nil {
		return nil, nil, 0, fmt.Errorf("%w: signature not yet produced", ErrUsage)
	}
	return s.data, s.signed, s.archive.HeapOffset() + int64(s.sig.Offset), nil //nolint:gosec // offset bounded by heap size
}
