package keys

import (
	"bytes"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/mdsign/internal/testpki"
)

func TestJKSTrustStoreRoundTrip(t *testing.T) {
	a := testpki.NewRoot(t, "JKS Anchor A")
	b := testpki.NewRoot(t, "JKS Anchor B")

	data, err := EncodeJKSTrustStore([]*x509.Certificate{a.Certificate, b.Certificate}, "changeit")
	require.NoError(t, err)

	certs, err := LoadJKSTrustStore(writeFile(t, "trust.jks", data), "changeit")
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.Equal(t, a.Certificate.Raw, certs[0].Raw)
	assert.Equal(t, b.Certificate.Raw, certs[1].Raw)
}

func TestJKSTrustStoreWrongPassword(t *testing.T) {
	a := testpki.NewRoot(t, "JKS Anchor")
	data, err := EncodeJKSTrustStore([]*x509.Certificate{a.Certificate}, "changeit")
	require.NoError(t, err)

	_, err = ReadJKSTrustStore(bytes.NewReader(data), "otherpass")
	assert.Error(t, err)
}

func TestJKSTrustStoreEmpty(t *testing.T) {
	data, err := EncodeJKSTrustStore(nil, "changeit")
	require.NoError(t, err)

	_, err = ReadJKSTrustStore(bytes.NewReader(data), "changeit")
	assert.True(t, errors.Is(err, ErrNoCertFound))
}

func TestJKSTrustStoreGarbage(t *testing.T) {
	_, err := ReadJKSTrustStore(bytes.NewReader([]byte("definitely not a keystore")), "changeit")
	assert.Error(t, err)

	_, err = LoadJKSTrustStore("/does/not/exist.jks", "changeit")
	assert.Error(t, err)
}
