// Package validation verifies the signature entries embedded in documents.
//
// Every failure is reported as an invalid Result; nothing is returned as an
// error or allowed to abort the remaining entries of a document.
package validation

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/mdsign/certvalidator"
	"github.com/georgepadayatti/mdsign/document"
	"github.com/georgepadayatti/mdsign/sign/cms"
	"github.com/georgepadayatti/mdsign/sign/signers"
)

// Verifier checks signature entries against a certificate validator. It is
// safe for concurrent use.
type Verifier struct {
	validator *certvalidator.Validator
	clock     clockwork.Clock
	logger    *zap.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock sets the clock used for the signature expiry check.
func WithClock(clock clockwork.Clock) Option {
	return func(v *Verifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVerifier creates a Verifier. A nil validator validates against an
// empty trust store.
func NewVerifier(validator *certvalidator.Validator, opts ...Option) *Verifier {
	if validator == nil {
		validator = certvalidator.NewValidator(certvalidator.EmptyTrustStore())
	}
	v := &Verifier{
		validator: validator,
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyEntry verifies one signature entry against body. The entry's
// signerDN must name the certificate that produced the signature.
func (v *Verifier) VerifyEntry(body string, entry document.SignatureEntry) (result Result) {
	signerDN := entry.SignerDN()
	log := v.logger.With(zap.String("signerDN", signerDN))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while verifying signature", zap.Any("panic", r))
			result = v.invalid(log, signerDN, fmt.Sprintf("Invalid signature format: %v", r))
		}
	}()

	der, err := entry.SignatureBytes()
	if err != nil {
		return v.invalid(log, signerDN, "Invalid signature format: "+err.Error())
	}
	envelope, err := cms.ParseDetached(der)
	if err != nil {
		return v.invalid(log, signerDN, "Invalid signature format: "+err.Error())
	}

	canonical := signers.Canonicalize(body)

	cert, err := envelope.SignerCertificate()
	if err != nil {
		return v.invalid(log, signerDN, MessageSignerNotFound)
	}
	if cert.Subject.String() != signerDN {
		log.Debug("signerDN differs from certificate subject",
			zap.String("subject", cert.Subject.String()))
		return v.invalid(log, signerDN, MessageSignerMismatch)
	}

	if err := v.validator.Validate(cert); err != nil {
		return v.invalid(log, signerDN, err.Error())
	}

	if err := envelope.Verify([]byte(canonical)); err != nil {
		log.Debug("cryptographic check failed", zap.Error(err))
		return v.invalid(log, signerDN, MessageBadSignature)
	}

	if entry.IsExpired(v.clock.Now()) {
		return v.invalid(log, signerDN, MessageExpired)
	}

	log.Debug("signature verified")
	return NewResult(true, &signerDN, MessageValid)
}

// VerifyDocument verifies every signature entry of doc in order. A document
// without signatures yields a single invalid result.
func (v *Verifier) VerifyDocument(doc document.Document) []Result {
	sigs := doc.Signatures()
	if len(sigs) == 0 {
		v.logger.Debug("document has no signatures")
		return []Result{NewResult(false, nil, MessageNoSignatures)}
	}

	results := make([]Result, 0, len(sigs))
	for _, entry := range sigs {
		results = append(results, v.VerifyEntry(doc.Body(), entry))
	}
	return results
}

func (v *Verifier) invalid(log *zap.Logger, signerDN, message string) Result {
	log.Warn("signature verification failed", zap.String("reason", message))
	return NewResult(false, &signerDN, message)
}
