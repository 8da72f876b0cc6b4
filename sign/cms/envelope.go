package cms

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"go.mozilla.org/pkcs7"
)

// Envelope is a parsed detached SignedData structure.
type Envelope struct {
	p7 *pkcs7.PKCS7
}

// ParseDetached decodes a DER (or BER) encoded SignedData envelope.
// Failures, including truncated encodings the decoder cannot walk, are
// returned as *CryptoError.
func ParseDetached(der []byte) (env *Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			env, err = nil, NewCryptoError("parse signature", fmt.Errorf("%w: %v", ErrMalformedEnvelope, r))
		}
	}()

	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, NewCryptoError("parse signature", err)
	}
	if len(p7.Signers) != 1 {
		return nil, NewCryptoError("parse signature",
			fmt.Errorf("expected exactly one signer, found %d", len(p7.Signers)))
	}
	return &Envelope{p7: p7}, nil
}

// Certificates returns the certificates embedded in the envelope.
func (e *Envelope) Certificates() []*x509.Certificate {
	out := make([]*x509.Certificate, len(e.p7.Certificates))
	copy(out, e.p7.Certificates)
	return out
}

// SignerCertificate returns the embedded certificate whose issuer and
// serial number match the signer identifier.
func (e *Envelope) SignerCertificate() (*x509.Certificate, error) {
	cert := e.p7.GetOnlySigner()
	if cert == nil {
		return nil, ErrMissingCertificate
	}
	return cert, nil
}

// SigningTime returns the signing time attribute, if present.
func (e *Envelope) SigningTime() (time.Time, bool) {
	var t time.Time
	if err := e.p7.UnmarshalSignedAttribute(pkcs7.OIDAttributeSigningTime, &t); err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Verify checks the signature over content, which must be the exact bytes
// that were signed. The envelope itself is not modified.
func (e *Envelope) Verify(content []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewCryptoError("verify signature", fmt.Errorf("%w: %v", ErrMalformedEnvelope, r))
		}
	}()

	if _, err := e.SignerCertificate(); err != nil {
		return NewCryptoError("verify signature", err)
	}
	p7 := *e.p7
	p7.Content = content
	if err := p7.Verify(); err != nil {
		var mismatch *pkcs7.MessageDigestMismatchError
		if errors.As(err, &mismatch) {
			return NewCryptoError("verify signature", errors.New("message digest mismatch"))
		}
		return NewCryptoError("verify signature", err)
	}
	return nil
}
