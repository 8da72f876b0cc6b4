package keys

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
)

// LoadJKSTrustStore reads the trusted certificate entries of a Java keystore.
// Private key entries contribute nothing.
func LoadJKSTrustStore(filename, password string) ([]*x509.Certificate, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer f.Close()
	return ReadJKSTrustStore(f, password)
}

// ReadJKSTrustStore decodes the trusted certificate entries of a Java keystore
// read from r, in alias order.
func ReadJKSTrustStore(r io.Reader, password string) ([]*x509.Certificate, error) {
	ks := keystore.New()
	if err := ks.Load(r, []byte(password)); err != nil {
		return nil, fmt.Errorf("failed to decode JKS trust store: %w", err)
	}

	aliases := ks.Aliases()
	sort.Strings(aliases)

	var certs []*x509.Certificate
	for _, alias := range aliases {
		if !ks.IsTrustedCertificateEntry(alias) {
			continue
		}
		entry, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			return nil, fmt.Errorf("failed to read trusted certificate %q: %w", alias, err)
		}
		cert, err := x509.ParseCertificate(entry.Certificate.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trusted certificate %q: %w", alias, err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// EncodeJKSTrustStore writes certs as trusted certificate entries of a Java
// keystore. Aliases are derived from the certificate common names.
func EncodeJKSTrustStore(certs []*x509.Certificate, password string) ([]byte, error) {
	ks := keystore.New()
	for i, cert := range certs {
		alias := fmt.Sprintf("%d-%s", i, cert.Subject.CommonName)
		entry := keystore.TrustedCertificateEntry{
			CreationTime: cert.NotBefore,
			Certificate: keystore.Certificate{
				Type:    "X509",
				Content: cert.Raw,
			},
		}
		if err := ks.SetTrustedCertificateEntry(alias, entry); err != nil {
			return nil, fmt.Errorf("failed to add trusted certificate %q: %w", alias, err)
		}
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		return nil, fmt.Errorf("failed to encode JKS trust store: %w", err)
	}
	return buf.Bytes(), nil
}
