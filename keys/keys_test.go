package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/georgepadayatti/mdsign/internal/testpki"
)

func certPEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
		{"Short data", []byte("----"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isPEM(tt.data))
		})
	}
}

func TestLoadCertsFromPemDerData(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	leaf := root.Issue(t, "Leaf")

	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr error
	}{
		{name: "single PEM", data: certPEM(leaf.Certificate), want: 1},
		{name: "PEM bundle", data: certPEM(leaf.Certificate, root.Certificate), want: 2},
		{
			name: "PEM with key block",
			data: append(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}}), certPEM(leaf.Certificate)...),
			want: 1,
		},
		{name: "single DER", data: leaf.Certificate.Raw, want: 1},
		{name: "concatenated DER", data: append(append([]byte{}, leaf.Certificate.Raw...), root.Certificate.Raw...), want: 2},
		{name: "empty", data: nil, wantErr: ErrNoCertFound},
		{name: "PEM without certificates", data: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1}}), wantErr: ErrNoCertFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certs, err := LoadCertsFromPemDerData(tt.data)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Len(t, certs, tt.want)
			assert.Equal(t, leaf.Certificate.Raw, certs[0].Raw)
		})
	}
}

func TestLoadCertsFromPemDerDataGarbage(t *testing.T) {
	_, err := LoadCertsFromPemDerData([]byte{0x30, 0x03, 0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestLoadCertFromPemDer(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	leaf := root.Issue(t, "Leaf")

	cert, err := LoadCertFromPemDer(writeFile(t, "leaf.pem", certPEM(leaf.Certificate)))
	require.NoError(t, err)
	assert.Equal(t, "Leaf", cert.Subject.CommonName)

	_, err = LoadCertFromPemDer(writeFile(t, "bundle.pem", certPEM(leaf.Certificate, root.Certificate)))
	assert.True(t, errors.Is(err, ErrMultipleCerts))

	_, err = LoadCertFromPemDer(filepath.Join(t.TempDir(), "missing.pem"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadCertsFromPemDerFiles(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	leaf := root.Issue(t, "Leaf")

	certs, err := LoadCertsFromPemDerFiles([]string{
		writeFile(t, "a.pem", certPEM(leaf.Certificate)),
		writeFile(t, "b.der", root.Certificate.Raw),
	})
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.Equal(t, root.Certificate.Raw, certs[1].Raw)

	_, err = LoadCertsFromPemDerFiles([]string{"/does/not/exist"})
	assert.Error(t, err)
}

func TestLoadPrivateKeyFromPemDerData(t *testing.T) {
	ecID := testpki.NewSelfSigned(t, "EC")
	rsaID := testpki.NewSelfSigned(t, "RSA", testpki.WithRSA())
	ecKey := ecID.Key.(*ecdsa.PrivateKey)
	rsaKey := rsaID.Key.(*rsa.PrivateKey)

	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		rsa  bool
	}{
		{name: "PKCS#1 PEM", data: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}), rsa: true},
		{name: "EC PEM", data: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER})},
		{name: "PKCS#8 PEM", data: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), rsa: true},
		{name: "PKCS#8 DER", data: pkcs8, rsa: true},
		{name: "EC DER", data: ecDER},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadPrivateKeyFromPemDerData(tt.data, nil)
			require.NoError(t, err)
			if tt.rsa {
				assert.True(t, rsaKey.Equal(key))
			} else {
				assert.True(t, ecKey.Equal(key))
			}
		})
	}
}

func TestLoadPrivateKeyErrors(t *testing.T) {
	_, err := LoadPrivateKeyFromPemDerData([]byte("not a key at all"), nil)
	assert.True(t, errors.Is(err, ErrNoKeyFound))

	_, err = LoadPrivateKeyFromPemDerData(pem.EncodeToMemory(&pem.Block{Type: "DSA PRIVATE KEY", Bytes: []byte{1}}), nil)
	assert.True(t, errors.Is(err, ErrUnknownKeyType))

	_, err = LoadPrivateKeyFromPemDerData([]byte("-----BEGIN nothing"), nil)
	assert.True(t, errors.Is(err, ErrInvalidPEMBlock))

	_, err = LoadPrivateKeyFromPemDer(filepath.Join(t.TempDir(), "missing.key"), nil)
	assert.Error(t, err)
}

func TestLoadEncryptedPrivateKey(t *testing.T) {
	id := testpki.NewSelfSigned(t, "Encrypted", testpki.WithRSA())
	rsaKey := id.Key.(*rsa.PrivateKey)

	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey), []byte("s3cret"), x509.PEMCipherAES256) //nolint:staticcheck
	require.NoError(t, err)
	data := pem.EncodeToMemory(block)

	assert.True(t, IsEncryptedPEMKey(data))

	_, err = LoadPrivateKeyFromPemDerData(data, nil)
	assert.True(t, errors.Is(err, ErrPassphrase))

	key, err := LoadPrivateKeyFromPemDerData(data, []byte("s3cret"))
	require.NoError(t, err)
	assert.True(t, rsaKey.Equal(key))
}

func TestLoadOpenSSHPrivateKey(t *testing.T) {
	id := testpki.NewSelfSigned(t, "OpenSSH")
	ecKey := id.Key.(*ecdsa.PrivateKey)

	block, err := ssh.MarshalPrivateKey(ecKey, "signer")
	require.NoError(t, err)
	plain := pem.EncodeToMemory(block)
	assert.False(t, IsEncryptedPEMKey(plain))

	key, err := LoadPrivateKeyFromPemDerData(plain, nil)
	require.NoError(t, err)
	assert.True(t, ecKey.Equal(key))
	assert.NoError(t, CheckKeyMatchesCertificate(key, id.Certificate))

	block, err = ssh.MarshalPrivateKeyWithPassphrase(ecKey, "signer", []byte("s3cret"))
	require.NoError(t, err)
	encrypted := pem.EncodeToMemory(block)
	assert.True(t, IsEncryptedPEMKey(encrypted))

	_, err = LoadPrivateKeyFromPemDerData(encrypted, nil)
	assert.ErrorIs(t, err, ErrPassphrase)

	_, err = LoadPrivateKeyFromPemDerData(encrypted, []byte("wrong"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	key, err = LoadPrivateKeyFromPemDerData(encrypted, []byte("s3cret"))
	require.NoError(t, err)
	assert.True(t, ecKey.Equal(key))
}

func TestLoadOpenSSHEd25519Key(t *testing.T) {
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(edKey, "")
	require.NoError(t, err)

	key, err := LoadPrivateKeyFromPemDerData(pem.EncodeToMemory(block), nil)
	require.NoError(t, err)
	assert.Equal(t, "Ed25519", GetKeyInfo(key.Public()).String())
}

func TestIsEncryptedPEMKeyPlain(t *testing.T) {
	id := testpki.NewSelfSigned(t, "Plain")
	der, err := x509.MarshalPKCS8PrivateKey(id.Key)
	require.NoError(t, err)

	assert.False(t, IsEncryptedPEMKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
	assert.False(t, IsEncryptedPEMKey(der))
}

func TestGetKeyInfo(t *testing.T) {
	ecID := testpki.NewSelfSigned(t, "EC")
	rsaID := testpki.NewSelfSigned(t, "RSA", testpki.WithRSA())
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	assert.Equal(t, "ECDSA P-256", GetKeyInfo(ecID.Key.Public()).String())
	assert.Equal(t, "RSA-2048", GetKeyInfo(rsaID.Key.Public()).String())
	assert.Equal(t, "Ed25519", GetKeyInfo(edPub).String())
	assert.Equal(t, "Unknown", GetKeyInfo(nil).Algorithm)
}

func TestToSignerUnknown(t *testing.T) {
	_, err := toSigner("not a key")
	assert.True(t, errors.Is(err, ErrUnknownKeyType))
}

func TestCheckKeyMatchesCertificate(t *testing.T) {
	a := testpki.NewSelfSigned(t, "A")
	b := testpki.NewSelfSigned(t, "B")

	assert.NoError(t, CheckKeyMatchesCertificate(a.Key, a.Certificate))
	err := CheckKeyMatchesCertificate(b.Key, a.Certificate)
	assert.True(t, errors.Is(err, ErrKeyMismatch))
}

func TestBuildChain(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	leaf := root.Issue(t, "Leaf")

	chain := BuildChain(leaf.Certificate, []*x509.Certificate{leaf.Certificate, root.Certificate, nil, root.Certificate})
	require.Len(t, chain, 2)
	assert.Same(t, leaf.Certificate, chain[0])
	assert.Same(t, root.Certificate, chain[1])

	assert.Len(t, BuildChain(leaf.Certificate, nil), 1)
}

func TestLoadCertAndKeyFromPemDer(t *testing.T) {
	id := testpki.NewSelfSigned(t, "Pair")
	other := testpki.NewSelfSigned(t, "Other")

	keyDER, err := x509.MarshalPKCS8PrivateKey(id.Key)
	require.NoError(t, err)
	keyFile := writeFile(t, "key.pem", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))

	cert, key, err := LoadCertAndKeyFromPemDer(writeFile(t, "cert.pem", certPEM(id.Certificate)), keyFile, nil)
	require.NoError(t, err)
	assert.Equal(t, id.Certificate.Raw, cert.Raw)
	assert.NotNil(t, key)

	_, _, err = LoadCertAndKeyFromPemDer(writeFile(t, "other.pem", certPEM(other.Certificate)), keyFile, nil)
	assert.True(t, errors.Is(err, ErrKeyMismatch))
}
