package certvalidator

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	// ErrCertificateValidation is matched by every validation failure.
	ErrCertificateValidation = errors.New("certificate validation failed")
)

// CertificateValidationError is the base error type for validation failures.
// Message always names the offending certificate.
type CertificateValidationError struct {
	Subject string
	Message string
	Err     error
}

func (e *CertificateValidationError) Error() string {
	return e.Message
}

func (e *CertificateValidationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCertificateValidation) hold for every
// validation error type in this package.
func (e *CertificateValidationError) Is(target error) bool {
	return target == ErrCertificateValidation
}

// NewCertificateValidationError creates a new CertificateValidationError.
func NewCertificateValidationError(subject, message string, err error) *CertificateValidationError {
	return &CertificateValidationError{Subject: subject, Message: message, Err: err}
}

// InvalidCertificateError indicates a missing or unusable certificate.
type InvalidCertificateError struct {
	CertificateValidationError
}

// NewInvalidCertificateError creates a new InvalidCertificateError.
func NewInvalidCertificateError(subject, message string) *InvalidCertificateError {
	return &InvalidCertificateError{
		CertificateValidationError: CertificateValidationError{Subject: subject, Message: message},
	}
}

// ExpiredError indicates a certificate has expired.
type ExpiredError struct {
	CertificateValidationError
	ExpiredDt time.Time
}

// NewExpiredError creates a new ExpiredError.
func NewExpiredError(subject string, expiredDt time.Time) *ExpiredError {
	msg := fmt.Sprintf("Certificate is not valid at current time: %s (expired %s)",
		subject, expiredDt.UTC().Format("2006-01-02 15:04:05Z"))
	return &ExpiredError{
		CertificateValidationError: CertificateValidationError{Subject: subject, Message: msg},
		ExpiredDt:                  expiredDt,
	}
}

// NotYetValidError indicates a certificate is not yet valid.
type NotYetValidError struct {
	CertificateValidationError
	ValidFrom time.Time
}

// NewNotYetValidError creates a new NotYetValidError.
func NewNotYetValidError(subject string, validFrom time.Time) *NotYetValidError {
	msg := fmt.Sprintf("Certificate is not valid at current time: %s (not valid until %s)",
		subject, validFrom.UTC().Format("2006-01-02 15:04:05Z"))
	return &NotYetValidError{
		CertificateValidationError: CertificateValidationError{Subject: subject, Message: msg},
		ValidFrom:                  validFrom,
	}
}

// KeyUsageError indicates the certificate may not be used for signing.
type KeyUsageError struct {
	CertificateValidationError
	// Missing is true when the key usage extension is absent altogether.
	Missing bool
}

// NewMissingKeyUsageError creates a KeyUsageError for a certificate without
// a key usage extension.
func NewMissingKeyUsageError(subject string) *KeyUsageError {
	return &KeyUsageError{
		CertificateValidationError: CertificateValidationError{
			Subject: subject,
			Message: "No key usage extension present in certificate: " + subject,
		},
		Missing: true,
	}
}

// NewDigitalSignatureUsageError creates a KeyUsageError for a certificate
// whose key usage lacks the digital signature bit.
func NewDigitalSignatureUsageError(subject string) *KeyUsageError {
	return &KeyUsageError{
		CertificateValidationError: CertificateValidationError{
			Subject: subject,
			Message: "Certificate is not authorized for digital signatures: " + subject,
		},
	}
}

// UntrustedCertificateError indicates the certificate does not chain to a
// trust anchor.
type UntrustedCertificateError struct {
	CertificateValidationError
}

// NewUntrustedCertificateError creates a new UntrustedCertificateError.
func NewUntrustedCertificateError(subject, reason string, err error) *UntrustedCertificateError {
	return &UntrustedCertificateError{
		CertificateValidationError: CertificateValidationError{
			Subject: subject,
			Message: fmt.Sprintf("Certificate validation failed: %s: %s", subject, reason),
			Err:     err,
		},
	}
}
