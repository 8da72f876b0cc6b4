package certvalidator

import (
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/georgepadayatti/mdsign/internal/testpki"
)

func newObservedValidator(store *TrustStore, now time.Time, opts ...Option) (*Validator, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(now)), WithLogger(zap.New(core))}, opts...)
	return NewValidator(store, opts...), logs
}

func TestValidateNilCertificate(t *testing.T) {
	v := NewValidator(EmptyTrustStore())
	err := v.Validate(nil)

	var invalid *InvalidCertificateError
	require.True(t, errors.As(err, &invalid))
	assert.True(t, errors.Is(err, ErrCertificateValidation))
}

func TestValidateTrustedLeaf(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.Issue(t, "Alice")
	store := NewTrustStore([]*x509.Certificate{root.Certificate})

	v, logs := newObservedValidator(store, time.Now())
	require.NoError(t, v.Validate(leaf.Certificate))
	assert.False(t, v.Degraded())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestValidateSelfSignedAnchor(t *testing.T) {
	self := testpki.NewSelfSigned(t, "Standalone")
	store := NewTrustStore([]*x509.Certificate{self.Certificate})

	v := NewValidator(store)
	assert.NoError(t, v.Validate(self.Certificate))
}

func TestValidateUntrustedLeaf(t *testing.T) {
	trusted := testpki.NewRoot(t, "Trusted CA")
	rogue := testpki.NewRoot(t, "Rogue CA")
	leaf := rogue.Issue(t, "Mallory")
	store := NewTrustStore([]*x509.Certificate{trusted.Certificate})

	err := NewValidator(store).Validate(leaf.Certificate)
	require.Error(t, err)

	var untrusted *UntrustedCertificateError
	require.True(t, errors.As(err, &untrusted))
	assert.True(t, errors.Is(err, ErrCertificateValidation))
	assert.Contains(t, err.Error(), leaf.Certificate.Subject.String())
	assert.Contains(t, err.Error(), "is not a trust anchor")
}

func TestValidateTrustIsCheckedFirst(t *testing.T) {
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	trusted := testpki.NewRoot(t, "Trusted CA", testpki.WithValidity(now.AddDate(-5, 0, 0), now.AddDate(5, 0, 0)))
	rogue := testpki.NewRoot(t, "Rogue CA", testpki.WithValidity(now.AddDate(-5, 0, 0), now.AddDate(5, 0, 0)))
	store := NewTrustStore([]*x509.Certificate{trusted.Certificate})

	tests := []struct {
		name string
		opts []testpki.Option
	}{
		{"expired", []testpki.Option{testpki.WithValidity(now.AddDate(-2, 0, 0), now.AddDate(0, 0, -1))}},
		{"not yet valid", []testpki.Option{testpki.WithValidity(now.AddDate(0, 0, 1), now.AddDate(1, 0, 0))}},
		{"no key usage", []testpki.Option{testpki.WithValidity(now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0)), testpki.WithoutKeyUsage()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf := rogue.Issue(t, "Mallory", tt.opts...)
			v, _ := newObservedValidator(store, now)

			var untrusted *UntrustedCertificateError
			require.True(t, errors.As(v.Validate(leaf.Certificate), &untrusted))
			assert.Equal(t, leaf.Certificate.Subject.String(), untrusted.Subject)
		})
	}
}

func TestValidateForgedIssuerName(t *testing.T) {
	// Same subject name as the trusted root but a different key.
	trusted := testpki.NewRoot(t, "Shared Name CA")
	impostor := testpki.NewRoot(t, "Shared Name CA")
	leaf := impostor.Issue(t, "Eve")
	store := NewTrustStore([]*x509.Certificate{trusted.Certificate})

	err := NewValidator(store).Validate(leaf.Certificate)
	var untrusted *UntrustedCertificateError
	require.True(t, errors.As(err, &untrusted))
	assert.Error(t, untrusted.Unwrap())
}

func TestValidateDegradedMode(t *testing.T) {
	rogue := testpki.NewRoot(t, "Anyone")
	leaf := rogue.Issue(t, "Unvetted")

	v, logs := newObservedValidator(EmptyTrustStore(), time.Now())
	assert.True(t, v.Degraded())
	require.NoError(t, v.Validate(leaf.Certificate))
	require.NoError(t, v.Validate(leaf.Certificate))

	warnings := logs.FilterMessage("no trust anchors configured, performing basic certificate validation only")
	assert.Equal(t, 2, warnings.Len())
}

func TestValidateNilStoreIsDegraded(t *testing.T) {
	v := NewValidator(nil)
	assert.True(t, v.Degraded())
	assert.True(t, v.TrustStore().IsEmpty())
}

func TestValidateValidityPeriod(t *testing.T) {
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		notBefore time.Time
		notAfter  time.Time
		check     func(t *testing.T, err error)
	}{
		{
			name:      "expired",
			notBefore: now.AddDate(-2, 0, 0),
			notAfter:  now.AddDate(0, 0, -1),
			check: func(t *testing.T, err error) {
				var expired *ExpiredError
				require.True(t, errors.As(err, &expired))
				assert.True(t, expired.ExpiredDt.Equal(now.AddDate(0, 0, -1)))
			},
		},
		{
			name:      "not yet valid",
			notBefore: now.AddDate(0, 0, 1),
			notAfter:  now.AddDate(1, 0, 0),
			check: func(t *testing.T, err error) {
				var early *NotYetValidError
				require.True(t, errors.As(err, &early))
				assert.True(t, early.ValidFrom.Equal(now.AddDate(0, 0, 1)))
			},
		},
		{
			name:      "valid",
			notBefore: now.AddDate(-1, 0, 0),
			notAfter:  now.AddDate(1, 0, 0),
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := testpki.NewRoot(t, "Root", testpki.WithValidity(now.AddDate(-5, 0, 0), now.AddDate(5, 0, 0)))
			leaf := root.Issue(t, "Leaf", testpki.WithValidity(tt.notBefore, tt.notAfter))

			for _, store := range []*TrustStore{EmptyTrustStore(), NewTrustStore([]*x509.Certificate{root.Certificate})} {
				v, _ := newObservedValidator(store, now)
				err := v.Validate(leaf.Certificate)
				if err != nil {
					assert.True(t, errors.Is(err, ErrCertificateValidation))
					assert.Contains(t, err.Error(), "Certificate is not valid at current time: "+leaf.Certificate.Subject.String())
				}
				tt.check(t, err)
			}
		})
	}
}

func TestValidateExpiryWarning(t *testing.T) {
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	leaf := testpki.NewSelfSigned(t, "Soon", testpki.WithValidity(now.AddDate(-1, 0, 0), now.AddDate(0, 0, 10)))
	store := NewTrustStore([]*x509.Certificate{leaf.Certificate})

	v, logs := newObservedValidator(store, now)
	require.NoError(t, v.Validate(leaf.Certificate))
	assert.Equal(t, 1, logs.FilterMessage("certificate will expire soon").Len())

	v, logs = newObservedValidator(store, now, WithExpiryWarningWindow(5*24*time.Hour))
	require.NoError(t, v.Validate(leaf.Certificate))
	assert.Zero(t, logs.FilterMessage("certificate will expire soon").Len())
}

func TestValidateKeyUsage(t *testing.T) {
	root := testpki.NewRoot(t, "Root")

	tests := []struct {
		name    string
		opts    []testpki.Option
		missing bool
		message string
	}{
		{
			name:    "no key usage extension",
			opts:    []testpki.Option{testpki.WithoutKeyUsage()},
			missing: true,
			message: "No key usage extension present in certificate: ",
		},
		{
			name:    "digital signature bit unset",
			opts:    []testpki.Option{testpki.WithKeyUsage(x509.KeyUsageContentCommitment)},
			message: "Certificate is not authorized for digital signatures: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf := root.Issue(t, "Leaf", tt.opts...)
			stores := map[string]*TrustStore{
				"trusted":  NewTrustStore([]*x509.Certificate{root.Certificate}),
				"degraded": EmptyTrustStore(),
			}
			for name, store := range stores {
				err := NewValidator(store).Validate(leaf.Certificate)
				var kuErr *KeyUsageError
				require.True(t, errors.As(err, &kuErr), name)
				assert.Equal(t, tt.missing, kuErr.Missing)
				assert.Equal(t, tt.message+leaf.Certificate.Subject.String(), err.Error())
				assert.Equal(t, leaf.Certificate.Subject.String(), kuErr.Subject)
			}
		})
	}
}

func TestValidateConcurrentUse(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	leaf := root.Issue(t, "Leaf")
	v := NewValidator(NewTrustStore([]*x509.Certificate{root.Certificate}))

	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func() { errs <- v.Validate(leaf.Certificate) }()
	}
	for i := 0; i < 16; i++ {
		assert.NoError(t, <-errs)
	}
}
