// Package signers produces signature entries for document bodies.
package signers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/mdsign/certvalidator"
	"github.com/georgepadayatti/mdsign/document"
	"github.com/georgepadayatti/mdsign/sign/cms"
)

// DefaultValidityWindow is how long a new signature stays valid.
const DefaultValidityWindow = 365 * 24 * time.Hour

// Canonicalize returns the exact text a signature binds to: the body with
// leading and trailing whitespace removed. Signing and verification must
// both go through it.
func Canonicalize(body string) string {
	return strings.TrimSpace(body)
}

// Signer signs document bodies with one set of signing materials. It holds
// no mutable state and is safe for concurrent use.
type Signer struct {
	materials      *SigningMaterials
	validityWindow time.Duration
	precheck       *certvalidator.Validator
	clock          clockwork.Clock
	logger         *zap.Logger
}

// Option configures a Signer.
type Option func(*Signer)

// WithValidityWindow sets how long after signing a signature expires.
func WithValidityWindow(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.validityWindow = d
		}
	}
}

// WithPrecheck validates the signer certificate before every signature.
func WithPrecheck(v *certvalidator.Validator) Option {
	return func(s *Signer) {
		s.precheck = v
	}
}

// WithClock sets the clock used for signing and expiry times.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Signer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Signer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSigner creates a Signer for materials.
func NewSigner(materials *SigningMaterials, opts ...Option) (*Signer, error) {
	if materials == nil {
		return nil, fmt.Errorf("%w: materials are nil", ErrInvalidMaterials)
	}
	s := &Signer{
		materials:      materials,
		validityWindow: DefaultValidityWindow,
		clock:          clockwork.NewRealClock(),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Materials returns the signing materials.
func (s *Signer) Materials() *SigningMaterials {
	return s.materials
}

// Sign creates a detached signature over the canonical form of body and
// wraps it in a signature entry. metadata is copied into the entry.
func (s *Signer) Sign(body string, metadata map[string]string) (document.SignatureEntry, error) {
	cert := s.materials.Certificate()
	subject := cert.Subject.String()

	if s.precheck != nil {
		if err := s.precheck.Validate(cert); err != nil {
			return document.SignatureEntry{}, fmt.Errorf("signer certificate rejected: %w", err)
		}
	}

	canonical := Canonicalize(body)
	now := s.clock.Now().UTC()

	chain := s.materials.Chain()
	der, err := cms.SignDetached([]byte(canonical), s.materials.PrivateKey(), cert, chain[1:], now)
	if err != nil {
		var cryptoErr *cms.CryptoError
		if !errors.As(err, &cryptoErr) {
			err = cms.NewCryptoError("sign content", err)
		}
		return document.SignatureEntry{}, err
	}

	expiresAt := now.Add(s.validityWindow)
	entry := document.NewSignatureEntry(
		base64.StdEncoding.EncodeToString(der),
		subject,
		&expiresAt,
		&now,
		metadata,
	)

	s.logger.Debug("created signature",
		zap.String("signerDN", subject),
		zap.Int("contentLength", len(canonical)),
		zap.Time("expiresAt", expiresAt))
	return entry, nil
}
