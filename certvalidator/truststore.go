package certvalidator

import (
	"bytes"
	"crypto/x509"
)

// NameConstraints restricts the names a trust anchor may vouch for.
// Anchors loaded by this module never carry constraints.
type NameConstraints struct {
	PermittedDNSDomains []string
	ExcludedDNSDomains  []string
}

// TrustAnchor is a certificate treated as an unconditionally trusted root.
type TrustAnchor struct {
	Certificate *x509.Certificate
	Constraints *NameConstraints
}

// TrustStore is an immutable set of trust anchors. It is safe for
// concurrent use.
type TrustStore struct {
	anchors []TrustAnchor
	pool    *x509.CertPool
}

// NewTrustStore creates a trust store from certs. Nil entries are skipped and
// certificates with identical encodings are stored once.
func NewTrustStore(certs []*x509.Certificate) *TrustStore {
	s := &TrustStore{pool: x509.NewCertPool()}
	for _, cert := range certs {
		if cert == nil || s.contains(cert) {
			continue
		}
		s.anchors = append(s.anchors, TrustAnchor{Certificate: cert})
		s.pool.AddCert(cert)
	}
	return s
}

// EmptyTrustStore returns a trust store without anchors. Validators built on
// it run in degraded mode.
func EmptyTrustStore() *TrustStore {
	return NewTrustStore(nil)
}

// Len returns the number of trust anchors.
func (s *TrustStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.anchors)
}

// IsEmpty reports whether the store has no anchors.
func (s *TrustStore) IsEmpty() bool {
	return s.Len() == 0
}

// Anchors returns a copy of the trust anchors.
func (s *TrustStore) Anchors() []TrustAnchor {
	if s == nil {
		return nil
	}
	out := make([]TrustAnchor, len(s.anchors))
	copy(out, s.anchors)
	return out
}

// Certificates returns the anchor certificates.
func (s *TrustStore) Certificates() []*x509.Certificate {
	if s == nil {
		return nil
	}
	out := make([]*x509.Certificate, len(s.anchors))
	for i, a := range s.anchors {
		out[i] = a.Certificate
	}
	return out
}

// CertPool returns the anchors as a pool of roots.
func (s *TrustStore) CertPool() *x509.CertPool {
	if s == nil {
		return x509.NewCertPool()
	}
	return s.pool.Clone()
}

// Contains reports whether cert is itself one of the anchors.
func (s *TrustStore) Contains(cert *x509.Certificate) bool {
	if s == nil || cert == nil {
		return false
	}
	return s.contains(cert)
}

func (s *TrustStore) contains(cert *x509.Certificate) bool {
	for _, a := range s.anchors {
		if bytes.Equal(a.Certificate.Raw, cert.Raw) {
			return true
		}
	}
	return false
}

// FindIssuer returns the first anchor whose subject matches the issuer of cert.
func (s *TrustStore) FindIssuer(cert *x509.Certificate) (*x509.Certificate, bool) {
	if s == nil || cert == nil {
		return nil, false
	}
	for _, a := range s.anchors {
		if NamesEqual(a.Certificate.Subject, cert.Issuer) {
			return a.Certificate, true
		}
	}
	return nil, false
}

// IsSelfSigned reports whether cert names itself as its issuer.
func (s *TrustStore) IsSelfSigned(cert *x509.Certificate) bool {
	return IsSelfSigned(cert)
}

// Chain returns cert followed by its issuing anchor when one is known.
// A self-signed certificate forms a chain on its own.
func (s *TrustStore) Chain(cert *x509.Certificate) []*x509.Certificate {
	if cert == nil {
		return nil
	}
	chain := []*x509.Certificate{cert}
	if IsSelfSigned(cert) {
		return chain
	}
	if issuer, ok := s.FindIssuer(cert); ok {
		chain = append(chain, issuer)
	}
	return chain
}
