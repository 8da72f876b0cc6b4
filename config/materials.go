package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/georgepadayatti/mdsign/certvalidator"
	"github.com/georgepadayatti/mdsign/keys"
	"github.com/georgepadayatti/mdsign/sign/cms"
	"github.com/georgepadayatti/mdsign/sign/signers"
)

// ErrNoTerminal is returned when a secret must be prompted for but stdin is
// not a terminal.
var ErrNoTerminal = errors.New("cannot prompt for secret: stdin is not a terminal")

// PromptFunc asks the user for a secret.
type PromptFunc func(prompt string) ([]byte, error)

// TerminalPrompt reads a secret from the controlling terminal without echo.
func TerminalPrompt(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNoTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return secret, nil
}

// LoadOption configures material loading.
type LoadOption func(*loadOptions)

type loadOptions struct {
	prompt PromptFunc
	logger *zap.Logger
}

// WithPrompt replaces the terminal prompt.
func WithPrompt(p PromptFunc) LoadOption {
	return func(o *loadOptions) {
		if p != nil {
			o.prompt = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LoadOption {
	return func(o *loadOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newLoadOptions(opts []LoadOption) *loadOptions {
	o := &loadOptions{prompt: TerminalPrompt, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// LoadSigningMaterials loads the configured keystore. Without a keystore it
// returns nil materials, which leaves the service verify-only. The returned
// closer releases token sessions and is never nil.
func LoadSigningMaterials(cfg SigningConfig, opts ...LoadOption) (*signers.SigningMaterials, io.Closer, error) {
	o := newLoadOptions(opts)
	ks := cfg.Keystore
	if ks == nil {
		o.logger.Info("no keystore configured, signing is disabled")
		return nil, nopCloser{}, nil
	}
	if err := ks.Validate(); err != nil {
		return nil, nopCloser{}, err
	}

	var (
		materials *signers.SigningMaterials
		closer    io.Closer = nopCloser{}
		err       error
	)
	switch ks.Type {
	case KeystorePemDer:
		materials, err = loadPemDer(ks.PemDer, o)
	case KeystorePKCS12:
		materials, err = loadPKCS12(ks.PKCS12, o)
	case KeystorePKCS11:
		materials, closer, err = loadPKCS11(ks.PKCS11, o)
	}
	if err != nil {
		return nil, nopCloser{}, WrapConfigError("signing.keystore",
			fmt.Sprintf("failed to load %s keystore: %v", ks.Type, err), err)
	}
	if _, err := cms.AlgorithmForKey(materials.PrivateKey().Public()); err != nil {
		closer.Close()
		return nil, nopCloser{}, WrapConfigError("signing.keystore",
			fmt.Sprintf("%s keystore holds a key that cannot sign documents: %v", ks.Type, err), err)
	}

	o.logger.Info("loaded signing materials",
		zap.String("keystore", ks.String()),
		zap.String("subject", materials.Certificate().Subject.String()),
		zap.String("key", keys.GetKeyInfo(materials.PrivateKey().Public()).String()),
		zap.Int("chainLength", len(materials.Chain())))
	return materials, closer, nil
}

func loadPemDer(c *PemDerSignatureConfig, o *loadOptions) (*signers.SigningMaterials, error) {
	data, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var passphrase []byte
	if c.KeyPassphrase != "" {
		passphrase = []byte(c.KeyPassphrase)
	} else if c.PromptPassphrase && keys.IsEncryptedPEMKey(data) {
		if passphrase, err = o.prompt("Key passphrase: "); err != nil {
			return nil, err
		}
	}

	key, err := keys.LoadPrivateKeyFromPemDerData(data, passphrase)
	if err != nil {
		return nil, err
	}
	cert, err := keys.LoadCertFromPemDer(c.CertFile)
	if err != nil {
		return nil, err
	}
	if err := keys.CheckKeyMatchesCertificate(key, cert); err != nil {
		return nil, err
	}
	others, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
	if err != nil {
		return nil, err
	}
	return signers.NewSigningMaterials(key, cert, keys.BuildChain(cert, others))
}

func loadPKCS12(c *PKCS12SignatureConfig, o *loadOptions) (*signers.SigningMaterials, error) {
	password := c.PFXPassphrase
	if password == "" && c.PromptPassphrase {
		secret, err := o.prompt("PKCS#12 passphrase: ")
		if err != nil {
			return nil, err
		}
		password = string(secret)
	}

	cred, err := keys.LoadPKCS12(c.PFXFile, password)
	if err != nil {
		return nil, err
	}
	others, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
	if err != nil {
		return nil, err
	}
	return signers.NewSigningMaterials(cred.PrivateKey, cred.Certificate,
		keys.BuildChain(cred.Certificate, append(cred.CACerts, others...)))
}

func loadPKCS11(c *PKCS11SignatureConfig, o *loadOptions) (*signers.SigningMaterials, io.Closer, error) {
	pin := c.UserPIN
	if pin == "" && c.PromptPIN == PKCS11PinPrompt {
		secret, err := o.prompt("PKCS#11 user PIN: ")
		if err != nil {
			return nil, nil, err
		}
		pin = string(secret)
	}

	token, err := keys.OpenPKCS11Token(keys.PKCS11Options{
		ModulePath: c.ModulePath,
		SlotNo:     c.SlotNo,
		TokenLabel: c.TokenLabel,
		UserPIN:    pin,
		SkipLogin:  c.PromptPIN != PKCS11PinPrompt && pin == "",
	})
	if err != nil {
		return nil, nil, err
	}

	materials, err := pkcs11Materials(c, token)
	if err != nil {
		token.Close()
		return nil, nil, err
	}
	return materials, token, nil
}

func pkcs11Materials(c *PKCS11SignatureConfig, token *keys.PKCS11Token) (*signers.SigningMaterials, error) {
	var (
		cert *x509.Certificate
		err  error
	)
	if c.SigningCertificatePath != "" {
		cert, err = keys.LoadCertFromPemDer(c.SigningCertificatePath)
	} else {
		cert, err = token.Certificate(c.GetCertLabel(), c.GetCertID())
	}
	if err != nil {
		return nil, err
	}

	signer, err := token.Signer(c.GetKeyLabel(), c.GetKeyID(), cert)
	if err != nil {
		return nil, err
	}
	others, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
	if err != nil {
		return nil, err
	}
	return signers.NewSigningMaterials(signer, cert, keys.BuildChain(cert, others))
}

// LoadTrustAnchors reads the configured trust store. A missing section
// yields no anchors and no error.
func LoadTrustAnchors(cfg *TrustStoreConfig) ([]*x509.Certificate, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, nil
	}
	switch cfg.Type {
	case TrustStorePEM, "":
		return keys.LoadCertsFromPemDer(cfg.Path)
	case TrustStorePKCS12:
		return keys.LoadPKCS12TrustStore(cfg.Path, cfg.Password)
	case TrustStoreJKS:
		return keys.LoadJKSTrustStore(cfg.Path, cfg.Password)
	default:
		return nil, WrapConfigError("validation.truststore.type",
			fmt.Sprintf("'%s' is not one of pem, pkcs12, jks", cfg.Type), ErrUnsupportedType)
	}
}

// LoadTrustStore builds the trust store. Load failures are logged and fall
// back to an empty store, which puts the validator in degraded mode.
func LoadTrustStore(cfg ValidationConfig, opts ...LoadOption) *certvalidator.TrustStore {
	o := newLoadOptions(opts)
	certs, err := LoadTrustAnchors(cfg.TrustStore)
	if err != nil {
		o.logger.Warn("Could not load truststore, proceeding with empty trust anchors",
			zap.String("path", cfg.TrustStore.Path), zap.Error(err))
		return certvalidator.EmptyTrustStore()
	}
	store := certvalidator.NewTrustStore(certs)
	if store.IsEmpty() {
		o.logger.Warn("no trust anchors configured")
	} else {
		o.logger.Info("loaded trust anchors", zap.Int("count", store.Len()))
	}
	return store
}

// NewValidator builds the certificate validator from the validation settings.
func NewValidator(cfg ValidationConfig, opts ...LoadOption) *certvalidator.Validator {
	o := newLoadOptions(opts)
	return certvalidator.NewValidator(LoadTrustStore(cfg, opts...),
		certvalidator.WithExpiryWarningWindow(cfg.ExpiryWarningWindow()),
		certvalidator.WithLogger(o.logger))
}
