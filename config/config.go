// Package config loads application configuration and turns it into signing
// materials and trust anchors.
//
// Values are resolved in order: defaults, then the YAML file, then MDSIGN_*
// environment variables (optionally seeded from a .env file).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnsupportedType      = errors.New("unsupported type")
)

// Keystore and trust store types.
const (
	KeystorePemDer = "pemder"
	KeystorePKCS12 = "pkcs12"
	KeystorePKCS11 = "pkcs11"

	TrustStorePEM    = "pem"
	TrustStorePKCS12 = "pkcs12"
	TrustStoreJKS    = "jks"
)

// Defaults.
const (
	DefaultValidityDays          = 365
	DefaultCertExpiryWarningDays = 30
	DefaultHost                  = "0.0.0.0"
	DefaultPort                  = 8080
	DefaultMaxBodyBytes          = 10 << 20
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigError match ErrConfigurationError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// WrapConfigError creates a ConfigError carrying a cause.
func WrapConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: err}
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	Signing    SigningConfig    `yaml:"signing" json:"signing"`
	Validation ValidationConfig `yaml:"validation" json:"validation"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SigningConfig contains signing configuration.
type SigningConfig struct {
	// ValidityDays is how long new signatures stay valid.
	ValidityDays int `yaml:"validity-days" json:"validity_days"`

	// PrecheckCertificate validates the signer certificate before signing.
	PrecheckCertificate bool `yaml:"precheck-certificate" json:"precheck_certificate"`

	// Keystore locates the signing key. Nil means verify-only.
	Keystore *KeystoreConfig `yaml:"keystore" json:"keystore,omitempty"`
}

// ValidityWindow returns ValidityDays as a duration.
func (c SigningConfig) ValidityWindow() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// KeystoreConfig selects one of the keystore variants.
type KeystoreConfig struct {
	Type   string                 `yaml:"type" json:"type"`
	PemDer *PemDerSignatureConfig `yaml:"pemder" json:"pemder,omitempty"`
	PKCS12 *PKCS12SignatureConfig `yaml:"pkcs12" json:"pkcs12,omitempty"`
	PKCS11 *PKCS11SignatureConfig `yaml:"pkcs11" json:"pkcs11,omitempty"`
}

// Validate checks that the variant named by Type is present and complete.
func (c *KeystoreConfig) Validate() error {
	switch c.Type {
	case KeystorePemDer:
		if c.PemDer == nil {
			return NewConfigError("signing.keystore.pemder", "required for keystore type pemder")
		}
		return c.PemDer.Validate()
	case KeystorePKCS12:
		if c.PKCS12 == nil {
			return NewConfigError("signing.keystore.pkcs12", "required for keystore type pkcs12")
		}
		return c.PKCS12.Validate()
	case KeystorePKCS11:
		if c.PKCS11 == nil {
			return NewConfigError("signing.keystore.pkcs11", "required for keystore type pkcs11")
		}
		return c.PKCS11.Validate()
	default:
		return WrapConfigError("signing.keystore.type",
			fmt.Sprintf("'%s' is not one of pemder, pkcs12, pkcs11", c.Type), ErrUnsupportedType)
	}
}

// PemDerSignatureConfig contains configuration for signing using PEM/DER files.
type PemDerSignatureConfig struct {
	// KeyFile is the path to the private key file.
	KeyFile string `yaml:"key-file" json:"key_file"`

	// CertFile is the path to the certificate file.
	CertFile string `yaml:"cert-file" json:"cert_file"`

	// OtherCertsFiles are paths to further chain certificates.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// KeyPassphrase is the private key passphrase.
	KeyPassphrase string `yaml:"key-passphrase" json:"-"`

	// PromptPassphrase asks on the terminal when the key is encrypted and
	// no passphrase is configured.
	PromptPassphrase bool `yaml:"prompt-passphrase" json:"prompt_passphrase"`
}

// Validate validates the PEM/DER signature configuration.
func (c *PemDerSignatureConfig) Validate() error {
	if c.KeyFile == "" {
		return WrapConfigError("key-file", "required field is missing", ErrMissingRequiredField)
	}
	if c.CertFile == "" {
		return WrapConfigError("cert-file", "required field is missing", ErrMissingRequiredField)
	}
	return nil
}

// PKCS12SignatureConfig contains configuration for signing using a PKCS#12 file.
type PKCS12SignatureConfig struct {
	// PFXFile is the path to the PKCS#12 file.
	PFXFile string `yaml:"pfx-file" json:"pfx_file"`

	// OtherCertsFiles are paths to further chain certificates.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// PFXPassphrase is the PKCS#12 passphrase.
	PFXPassphrase string `yaml:"pfx-passphrase" json:"-"`

	// PromptPassphrase asks on the terminal when no passphrase is configured.
	PromptPassphrase bool `yaml:"prompt-passphrase" json:"prompt_passphrase"`
}

// Validate validates the PKCS12 signature configuration.
func (c *PKCS12SignatureConfig) Validate() error {
	if c.PFXFile == "" {
		return WrapConfigError("pfx-file", "required field is missing", ErrMissingRequiredField)
	}
	return nil
}

// ValidationConfig contains verification configuration.
type ValidationConfig struct {
	TrustStore *TrustStoreConfig `yaml:"truststore" json:"truststore,omitempty"`

	// CertExpiryWarningDays is the window for the expiring-soon warning.
	CertExpiryWarningDays int `yaml:"cert-expiry-warning-days" json:"cert_expiry_warning_days"`

	// RevocationChecking must stay false.
	RevocationChecking bool `yaml:"revocation-checking" json:"revocation_checking"`
}

// ExpiryWarningWindow returns CertExpiryWarningDays as a duration.
func (c ValidationConfig) ExpiryWarningWindow() time.Duration {
	return time.Duration(c.CertExpiryWarningDays) * 24 * time.Hour
}

// TrustStoreConfig locates the trust anchors. An empty Type reads PEM.
type TrustStoreConfig struct {
	Type     string `yaml:"type" json:"type"`
	Path     string `yaml:"path" json:"path"`
	Password string `yaml:"password" json:"-"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read-timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write-timeout" json:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max-body-bytes" json:"max_body_bytes"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (console, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is stderr, stdout or a file path.
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	cfg := &AppConfig{
		Signing: SigningConfig{ValidityDays: DefaultValidityDays},
		Validation: ValidationConfig{
			CertExpiryWarningDays: DefaultCertExpiryWarningDays,
		},
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
	}
	cfg.Logging.SetDefaults()
	return cfg
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the process environment. A .env file in the working directory
// is read first when present.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds the configuration from defaults and YAML data only.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	if err := cfg.merge(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) merge(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return WrapConfigError("", fmt.Sprintf("failed to parse config: %v", err), err)
	}
	c.Logging.SetDefaults()
	return nil
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	if c.Validation.RevocationChecking {
		return NewConfigError("validation.revocation-checking", "revocation checking is not supported and must be false")
	}
	if c.Signing.ValidityDays <= 0 {
		return NewConfigError("signing.validity-days", "must be positive")
	}
	if c.Validation.CertExpiryWarningDays < 0 {
		return NewConfigError("validation.cert-expiry-warning-days", "must not be negative")
	}
	if c.Signing.Keystore != nil {
		if err := c.Signing.Keystore.Validate(); err != nil {
			return err
		}
	}
	if ts := c.Validation.TrustStore; ts != nil && ts.Path != "" {
		switch ts.Type {
		case "", TrustStorePEM, TrustStorePKCS12, TrustStoreJKS:
		default:
			return WrapConfigError("validation.truststore.type",
				fmt.Sprintf("'%s' is not one of pem, pkcs12, jks", ts.Type), ErrUnsupportedType)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", fmt.Sprintf("%d is not a valid port", c.Server.Port))
	}
	return nil
}
