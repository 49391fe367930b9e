package toc

import (
	"crypto/x509"
	"fmt"

	"github.com/meigma/xar/internal/xartype"
)

// Signature describes a detached signature stored in the heap.
type Signature struct {
	// Style names the signature algorithm, for example "RSA".
	Style string

	// Length is the claimed size of the signature bytes.
	Length uint64

	// Offset is the heap offset of the signature bytes.
	Offset uint64

	// Certificates is the DER certificate chain in insertion order.
	Certificates [][]byte

	// Attrs holds attributes of the signature element other than style.
	Attrs []Attr

	// KeyInfo holds children of KeyInfo other than X509Data.
	KeyInfo []*Property

	// X509Extra holds children of X509Data other than certificates.
	X509Extra []*Property

	// Extra holds child elements this package does not interpret.
	Extra []*Property
}

// AddCertificate appends a DER certificate to the chain.
func (s *Signature) AddCertificate(der []byte) {
	s.Certificates = append(s.Certificates, append([]byte(nil), der...))
}

// Certificate returns the certificate at index i.
func (s *Signature) Certificate(i int) ([]byte, error) {
	if i < 0 || i >= len(s.Certificates) {
		return nil, fmt.Errorf("%w: certificate index %d of %d", xartype.ErrUsage, i, len(s.Certificates))
	}
	return s.Certificates[i], nil
}

// ParseCertificates decodes the chain.
func (s *Signature) ParseCertificates() ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(s.Certificates))
	for i, der := range s.Certificates {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse certificate %d: %w", i, err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// ChecksumInfo locates the TOC checksum in the heap.
type ChecksumInfo struct {
	Style  string
	Offset uint64
	Size   uint64

	// Attrs holds attributes other than style.
	Attrs []Attr

	// Extra holds child elements other than offset and size.
	Extra []*Property
}
