// Package sign is the operation surface for signing and verifying
// documents. It ties the header codec, the signer and the verifier together
// and is what the CLI and the HTTP layer call.
package sign

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/mdsign/certvalidator"
	"github.com/georgepadayatti/mdsign/config"
	"github.com/georgepadayatti/mdsign/document"
	"github.com/georgepadayatti/mdsign/metrics"
	"github.com/georgepadayatti/mdsign/sign/signers"
	"github.com/georgepadayatti/mdsign/sign/validation"
)

// MessageVerifyFailed prefixes the single result returned for documents
// that cannot be parsed.
const MessageVerifyFailed = "Failed to verify signatures: "

// Service signs and verifies raw documents. It is safe for concurrent use.
type Service struct {
	signer   *signers.Signer
	verifier *validation.Verifier
	codec    *document.Codec
	metrics  *metrics.Recorder
	clock    clockwork.Clock
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*options)

type options struct {
	validityWindow time.Duration
	precheck       bool
	clock          clockwork.Clock
	logger         *zap.Logger
	metrics        *metrics.Recorder
}

// WithValidityWindow sets how long new signatures stay valid.
func WithValidityWindow(d time.Duration) Option {
	return func(o *options) {
		o.validityWindow = d
	}
}

// WithPrecheck validates the signer certificate before every signature.
func WithPrecheck(enabled bool) Option {
	return func(o *options) {
		o.precheck = enabled
	}
}

// WithClock sets the clock for signing and expiry checks.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records sign and verify outcomes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// NewService creates a Service. materials may be nil, in which case the
// service only verifies and Sign reports a configuration error. A nil
// validator verifies against an empty trust store.
func NewService(materials *signers.SigningMaterials, validator *certvalidator.Validator, opts ...Option) (*Service, error) {
	o := &options{
		validityWindow: signers.DefaultValidityWindow,
		clock:          clockwork.NewRealClock(),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if validator == nil {
		validator = certvalidator.NewValidator(certvalidator.EmptyTrustStore(),
			certvalidator.WithClock(o.clock), certvalidator.WithLogger(o.logger))
	}

	s := &Service{
		verifier: validation.NewVerifier(validator,
			validation.WithClock(o.clock), validation.WithLogger(o.logger)),
		codec:   document.NewCodec(o.logger),
		metrics: o.metrics,
		clock:   o.clock,
		logger:  o.logger,
	}

	if materials != nil {
		signerOpts := []signers.Option{
			signers.WithValidityWindow(o.validityWindow),
			signers.WithClock(o.clock),
			signers.WithLogger(o.logger),
		}
		if o.precheck {
			signerOpts = append(signerOpts, signers.WithPrecheck(validator))
		}
		signer, err := signers.NewSigner(materials, signerOpts...)
		if err != nil {
			return nil, err
		}
		s.signer = signer
	}

	o.metrics.SetTrustAnchors(validator.TrustStore().Len())
	return s, nil
}

// CanSign reports whether signing materials are configured.
func (s *Service) CanSign() bool {
	return s.signer != nil
}

// Sign appends a signature over the body of raw to its header and returns
// the re-serialized document. Existing signatures and header fields are
// kept.
func (s *Service) Sign(raw string, metadata map[string]string) (out string, err error) {
	start := s.clock.Now()
	defer func() {
		s.metrics.ObserveSign(s.clock.Since(start), err)
	}()

	doc, err := s.codec.Parse(raw)
	if err != nil {
		return "", err
	}
	if s.signer == nil {
		return "", config.NewConfigError("signing.keystore", "signing materials are not configured")
	}

	entry, err := s.signer.Sign(doc.Body(), metadata)
	if err != nil {
		s.logger.Warn("failed to sign document", zap.Error(err))
		return "", err
	}

	out, err = s.codec.Serialize(doc.WithSignature(entry))
	if err != nil {
		return "", err
	}
	s.logger.Info("signed document",
		zap.String("signerDN", entry.SignerDN()),
		zap.Int("signatures", len(doc.Signatures())+1))
	return out, nil
}

// Verify checks every signature of raw. A document that cannot be parsed
// yields a single invalid result.
func (s *Service) Verify(raw string) []validation.Result {
	start := s.clock.Now()

	var results []validation.Result
	doc, err := s.codec.Parse(raw)
	if err != nil {
		s.logger.Warn("failed to parse document for verification", zap.Error(err))
		results = []validation.Result{validation.NewResult(false, nil, MessageVerifyFailed+err.Error())}
	} else {
		results = s.verifier.VerifyDocument(doc)
	}

	valid := 0
	for _, r := range results {
		if r.Valid {
			valid++
		}
	}
	s.metrics.ObserveVerify(s.clock.Since(start), valid, len(results)-valid)
	s.logger.Debug("verified document",
		zap.Int("signatures", len(results)),
		zap.Int("valid", valid))
	return results
}
