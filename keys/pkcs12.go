package keys

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// PKCS12Credential holds the key and certificates of a PKCS#12 keystore.
type PKCS12Credential struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	CACerts     []*x509.Certificate
}

// Chain returns the signer certificate followed by the CA certificates.
func (c *PKCS12Credential) Chain() []*x509.Certificate {
	return BuildChain(c.Certificate, c.CACerts)
}

// LoadPKCS12 reads a PKCS#12 keystore holding a private key.
func LoadPKCS12(filename, password string) (*PKCS12Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPKCS12Data(data, password)
}

// LoadPKCS12Data decodes a PKCS#12 keystore holding a private key.
func LoadPKCS12Data(data []byte, password string) (*PKCS12Credential, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12: %w", err)
	}
	signer, err := toSigner(key)
	if err != nil {
		return nil, err
	}
	if err := CheckKeyMatchesCertificate(signer, cert); err != nil {
		return nil, err
	}
	return &PKCS12Credential{Certificate: cert, PrivateKey: signer, CACerts: caCerts}, nil
}

// LoadPKCS12TrustStore reads the trusted certificates of a PKCS#12 trust store.
func LoadPKCS12TrustStore(filename, password string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 trust store: %w", err)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}
