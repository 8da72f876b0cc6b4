// Package certvalidator evaluates signer certificates against a set of
// trust anchors.
//
// A Validator checks, when the trust store has anchors, that the
// certificate is issued by one of them, then the validity period and the
// key usage policy. Revocation is never consulted. With an empty trust
// store the validator runs in degraded mode and skips the trust check;
// every such validation is logged at warning level.
package certvalidator

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultExpiryWarningWindow is how far ahead of NotAfter an expiry warning
// is logged.
const DefaultExpiryWarningWindow = 30 * 24 * time.Hour

var oidExtensionKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}

// Validator validates certificates. It holds no mutable state and is safe
// for concurrent use.
type Validator struct {
	store         *TrustStore
	warningWindow time.Duration
	clock         clockwork.Clock
	logger        *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithExpiryWarningWindow sets the window before NotAfter in which a
// certificate is reported as expiring soon.
func WithExpiryWarningWindow(d time.Duration) Option {
	return func(v *Validator) {
		if d >= 0 {
			v.warningWindow = d
		}
	}
}

// WithClock sets the clock used as the validation time.
func WithClock(clock clockwork.Clock) Option {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator creates a Validator over store. A nil store is treated as empty.
func NewValidator(store *TrustStore, opts ...Option) *Validator {
	if store == nil {
		store = EmptyTrustStore()
	}
	v := &Validator{
		store:         store,
		warningWindow: DefaultExpiryWarningWindow,
		clock:         clockwork.NewRealClock(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// TrustStore returns the trust store the validator checks against.
func (v *Validator) TrustStore() *TrustStore {
	return v.store
}

// Degraded reports whether the validator skips the trust check.
func (v *Validator) Degraded() bool {
	return v.store.IsEmpty()
}

// Validate checks cert at the current clock time. The returned error, if
// any, satisfies errors.Is(err, ErrCertificateValidation).
func (v *Validator) Validate(cert *x509.Certificate) error {
	if cert == nil {
		return NewInvalidCertificateError("", "No certificate supplied for validation")
	}
	subject := cert.Subject.String()
	now := v.clock.Now()

	if v.Degraded() {
		v.logger.Warn("no trust anchors configured, performing basic certificate validation only",
			zap.String("subject", subject))
	} else if err := v.checkTrust(cert, subject, now); err != nil {
		return err
	}

	if err := v.checkValidityPeriod(cert, subject, now); err != nil {
		return err
	}
	if err := checkKeyUsage(cert, subject); err != nil {
		return err
	}

	v.logger.Debug("certificate validated",
		zap.String("subject", subject),
		zap.Int("chainLength", len(v.store.Chain(cert))))
	return nil
}

func (v *Validator) checkValidityPeriod(cert *x509.Certificate, subject string, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return NewNotYetValidError(subject, cert.NotBefore)
	}
	if now.After(cert.NotAfter) {
		return NewExpiredError(subject, cert.NotAfter)
	}
	if cert.NotAfter.Sub(now) < v.warningWindow {
		v.logger.Warn("certificate will expire soon",
			zap.String("subject", subject),
			zap.Time("notAfter", cert.NotAfter))
	}
	v.logger.Debug("certificate validity period checked",
		zap.String("subject", subject),
		zap.Time("notBefore", cert.NotBefore),
		zap.Time("notAfter", cert.NotAfter))
	return nil
}

func checkKeyUsage(cert *x509.Certificate, subject string) error {
	if !hasExtension(cert, oidExtensionKeyUsage) {
		return NewMissingKeyUsageError(subject)
	}
	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return NewDigitalSignatureUsageError(subject)
	}
	return nil
}

// checkTrust validates the one-certificate path cert -> anchor.
func (v *Validator) checkTrust(cert *x509.Certificate, subject string, now time.Time) error {
	opts := x509.VerifyOptions{
		Roots:       v.store.CertPool(),
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	_, err := cert.Verify(opts)

	// Verify rejects a leaf outside its validity period before looking at
	// the path. Judge the path inside that period so trust is decided first.
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired && invalid.Cert == cert {
		opts.CurrentTime = cert.NotAfter
		if now.Before(cert.NotBefore) {
			opts.CurrentTime = cert.NotBefore
		}
		if _, err = cert.Verify(opts); err == nil {
			return nil
		}
	}

	if err != nil {
		if _, ok := v.store.FindIssuer(cert); !ok && !v.store.Contains(cert) {
			return NewUntrustedCertificateError(subject,
				"issuer "+cert.Issuer.String()+" is not a trust anchor", err)
		}
		return NewUntrustedCertificateError(subject, err.Error(), err)
	}
	return nil
}

func hasExtension(cert *x509.Certificate, oid asn1.ObjectIdentifier) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return true
		}
	}
	return false
}
