// Package keys loads signing keys, certificates and trust anchors from PEM,
// DER, PKCS#12 and JKS files, and from PKCS#11 tokens.
package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
	ErrMultipleCerts    = errors.New("expected exactly one certificate")
	ErrPassphrase       = errors.New("private key is encrypted but no passphrase provided")
	ErrKeyMismatch      = errors.New("private key does not match certificate")
)

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
// Non-certificate PEM blocks are skipped.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else if len(data) > 0 {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads and concatenates certificates from several files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var all []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		all = append(all, certs...)
	}
	return all, nil
}

// LoadPrivateKeyFromPemDer loads a private key from a PEM or DER encoded file.
func LoadPrivateKeyFromPemDer(filename string, passphrase []byte) (crypto.Signer, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPrivateKeyFromPemDerData(data, passphrase)
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded data.
func LoadPrivateKeyFromPemDerData(data []byte, passphrase []byte) (crypto.Signer, error) {
	if isPEM(data) {
		return loadPrivateKeyFromPEM(data, passphrase)
	}
	return loadPrivateKeyFromDER(data)
}

// IsEncryptedPEMKey reports whether data holds a passphrase protected PEM key.
func IsEncryptedPEMKey(data []byte) bool {
	if !isPEM(data) {
		return false
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return false
	}
	if block.Type == openSSHKeyType {
		_, err := ssh.ParseRawPrivateKey(data)
		var missing *ssh.PassphraseMissingError
		return errors.As(err, &missing)
	}
	return x509.IsEncryptedPEMBlock(block) || block.Type == "ENCRYPTED PRIVATE KEY" //nolint:staticcheck
}

func loadPrivateKeyFromPEM(data []byte, passphrase []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}
	if block.Type == openSSHKeyType {
		return loadOpenSSHKey(data, passphrase)
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if passphrase == nil {
			return nil, ErrPassphrase
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	}

	return parsePrivateKeyByType(block.Type, keyBytes)
}

const openSSHKeyType = "OPENSSH PRIVATE KEY"

func loadOpenSSHKey(data []byte, passphrase []byte) (crypto.Signer, error) {
	var (
		key any
		err error
	)
	if passphrase != nil {
		key, err = ssh.ParseRawPrivateKeyWithPassphrase(data, passphrase)
	} else {
		key, err = ssh.ParseRawPrivateKey(data)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, ErrPassphrase
		}
		if passphrase != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		return nil, fmt.Errorf("failed to parse OpenSSH private key: %w", err)
	}
	return toSigner(key)
}

func loadPrivateKeyFromDER(data []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toSigner(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func parsePrivateKeyByType(blockType string, keyBytes []byte) (crypto.Signer, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toSigner(key)
	case "ENCRYPTED PRIVATE KEY":
		// PKCS#8 PBES2 is not handled by crypto/x509.
		return nil, fmt.Errorf("%w: encrypted PKCS#8 keys must be converted or stored in PKCS#12", ErrUnknownKeyType)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
	}
}

func toSigner(key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	case *ed25519.PrivateKey:
		return *k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// KeyInfo describes a key for display.
type KeyInfo struct {
	Algorithm string
	BitSize   int
	Curve     string
}

func (k KeyInfo) String() string {
	switch {
	case k.BitSize > 0:
		return fmt.Sprintf("%s-%d", k.Algorithm, k.BitSize)
	case k.Curve != "":
		return fmt.Sprintf("%s %s", k.Algorithm, k.Curve)
	default:
		return k.Algorithm
	}
}

// GetKeyInfo describes a public key.
func GetKeyInfo(pub crypto.PublicKey) KeyInfo {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return KeyInfo{Algorithm: "RSA", BitSize: k.N.BitLen()}
	case *ecdsa.PublicKey:
		return KeyInfo{Algorithm: "ECDSA", Curve: k.Curve.Params().Name}
	case ed25519.PublicKey:
		return KeyInfo{Algorithm: "Ed25519"}
	default:
		return KeyInfo{Algorithm: "Unknown"}
	}
}

// CheckKeyMatchesCertificate verifies that key is the private half of the
// certificate's public key.
func CheckKeyMatchesCertificate(key crypto.Signer, cert *x509.Certificate) error {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	pub, ok := key.Public().(equaler)
	if !ok || !pub.Equal(cert.PublicKey) {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, cert.Subject.String())
	}
	return nil
}

// BuildChain returns cert followed by others, with duplicates of cert and of
// each other removed.
func BuildChain(cert *x509.Certificate, others []*x509.Certificate) []*x509.Certificate {
	chain := []*x509.Certificate{cert}
	for _, c := range others {
		if c == nil {
			continue
		}
		dup := false
		for _, seen := range chain {
			if bytes.Equal(seen.Raw, c.Raw) {
				dup = true
				break
			}
		}
		if !dup {
			chain = append(chain, c)
		}
	}
	return chain
}

// LoadCertAndKeyFromPemDer loads a certificate and private key from files.
func LoadCertAndKeyFromPemDer(certFile, keyFile string, passphrase []byte) (*x509.Certificate, crypto.Signer, error) {
	cert, err := LoadCertFromPemDer(certFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	key, err := LoadPrivateKeyFromPemDer(keyFile, passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load private key: %w", err)
	}

	if err := CheckKeyMatchesCertificate(key, cert); err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}
