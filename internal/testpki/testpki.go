// Package testpki mints throwaway certificates and keys for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

// Identity is a certificate together with its private key.
type Identity struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
}

type config struct {
	template *x509.Certificate
	rsa      bool
	curve    elliptic.Curve
}

// Option adjusts the certificate template.
type Option func(*config)

// WithValidity sets NotBefore and NotAfter.
func WithValidity(notBefore, notAfter time.Time) Option {
	return func(c *config) {
		c.template.NotBefore = notBefore
		c.template.NotAfter = notAfter
	}
}

// WithKeyUsage replaces the key usage bits.
func WithKeyUsage(ku x509.KeyUsage) Option {
	return func(c *config) {
		c.template.KeyUsage = ku
	}
}

// WithoutKeyUsage leaves the key usage extension out of the certificate.
func WithoutKeyUsage() Option {
	return WithKeyUsage(0)
}

// WithRSA uses a 2048 bit RSA key instead of ECDSA P-256.
func WithRSA() Option {
	return func(c *config) {
		c.rsa = true
	}
}

// WithCurve uses an ECDSA key on curve instead of P-256.
func WithCurve(curve elliptic.Curve) Option {
	return func(c *config) {
		c.curve = curve
	}
}

// WithOrganization sets the subject organization.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.template.Subject.Organization = []string{org}
	}
}

// NewRoot creates a self-signed CA certificate.
func NewRoot(t testing.TB, cn string, opts ...Option) *Identity {
	t.Helper()
	c := newConfig(cn, opts)
	c.template.IsCA = true
	c.template.BasicConstraintsValid = true
	c.template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	return create(t, c, nil)
}

// NewSelfSigned creates a self-signed end-entity certificate.
func NewSelfSigned(t testing.TB, cn string, opts ...Option) *Identity {
	t.Helper()
	return create(t, newConfig(cn, opts), nil)
}

// Issue creates an end-entity certificate signed by id.
func (id *Identity) Issue(t testing.TB, cn string, opts ...Option) *Identity {
	t.Helper()
	return create(t, newConfig(cn, opts), id)
}

func newConfig(cn string, opts []Option) *config {
	now := time.Now()
	c := &config{
		template: &x509.Certificate{
			Subject:   pkix.Name{CommonName: cn, Organization: []string{"Example"}},
			NotBefore: now.Add(-time.Hour),
			NotAfter:  now.Add(365 * 24 * time.Hour),
			KeyUsage:  x509.KeyUsageDigitalSignature,
		},
		curve: elliptic.P256(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func create(t testing.TB, c *config, issuer *Identity) *Identity {
	t.Helper()

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 120))
	if err != nil {
		t.Fatalf("failed to generate serial: %v", err)
	}
	c.template.SerialNumber = serial

	var key crypto.Signer
	if c.rsa {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	} else {
		key, err = ecdsa.GenerateKey(c.curve, rand.Reader)
	}
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	parent, signer := c.template, key
	if issuer != nil {
		parent, signer = issuer.Certificate, issuer.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, c.template, parent, key.Public(), signer)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return &Identity{Certificate: cert, Key: key}
}
