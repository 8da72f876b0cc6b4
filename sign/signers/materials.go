package signers

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidMaterials   = errors.New("invalid signing materials")
	ErrMissingKey         = errors.New("private key is required")
	ErrMissingCertificate = errors.New("certificate is required")
	ErrEmptyChain         = errors.New("certificate chain must not be empty")
	ErrChainMismatch      = errors.New("first certificate in chain must be the signing certificate")
)

// SigningMaterials bundles a private key with its certificate and chain.
// The invariants are checked once by NewSigningMaterials; the value is
// read-only afterwards and may be shared by concurrent signers.
type SigningMaterials struct {
	key   crypto.Signer
	cert  *x509.Certificate
	chain []*x509.Certificate
}

// NewSigningMaterials validates and bundles signing materials. chain must
// start with cert.
func NewSigningMaterials(key crypto.Signer, cert *x509.Certificate, chain []*x509.Certificate) (*SigningMaterials, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMaterials, ErrMissingKey)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMaterials, ErrMissingCertificate)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMaterials, ErrEmptyChain)
	}
	if chain[0] == nil || !bytes.Equal(chain[0].Raw, cert.Raw) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMaterials, ErrChainMismatch)
	}
	for i, c := range chain {
		if c == nil {
			return nil, fmt.Errorf("%w: chain entry %d is nil", ErrInvalidMaterials, i)
		}
	}

	cp := make([]*x509.Certificate, len(chain))
	copy(cp, chain)
	return &SigningMaterials{key: key, cert: cert, chain: cp}, nil
}

// PrivateKey returns the signing key.
func (m *SigningMaterials) PrivateKey() crypto.Signer {
	return m.key
}

// Certificate returns the signer certificate.
func (m *SigningMaterials) Certificate() *x509.Certificate {
	return m.cert
}

// Chain returns a copy of the certificate chain, signer certificate first.
func (m *SigningMaterials) Chain() []*x509.Certificate {
	out := make([]*x509.Certificate, len(m.chain))
	copy(out, m.chain)
	return out
}

// String describes the materials without the private key.
func (m *SigningMaterials) String() string {
	return fmt.Sprintf("SigningMaterials{subject=%q, chainLength=%d}", m.cert.Subject.String(), len(m.chain))
}

// GoString keeps the key out of %#v output.
func (m *SigningMaterials) GoString() string {
	return m.String()
}
