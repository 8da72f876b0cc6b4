package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// PKCS11PinEntryMode defines PIN entry behavior.
type PKCS11PinEntryMode int

const (
	// PKCS11PinPrompt asks on the terminal when no PIN is configured.
	PKCS11PinPrompt PKCS11PinEntryMode = iota
	// PKCS11PinDefer lets the PKCS#11 module handle authentication (e.g., physical PIN pad).
	PKCS11PinDefer
	// PKCS11PinSkip skips the login process (for devices with external auth).
	PKCS11PinSkip
)

// String returns the string representation of the PIN entry mode.
func (m PKCS11PinEntryMode) String() string {
	switch m {
	case PKCS11PinPrompt:
		return "PROMPT"
	case PKCS11PinDefer:
		return "DEFER"
	case PKCS11PinSkip:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

// ParsePKCS11PinEntryMode parses a string into a PKCS11PinEntryMode.
func ParsePKCS11PinEntryMode(s string) (PKCS11PinEntryMode, error) {
	switch strings.ToUpper(s) {
	case "PROMPT":
		return PKCS11PinPrompt, nil
	case "DEFER":
		return PKCS11PinDefer, nil
	case "SKIP":
		return PKCS11PinSkip, nil
	default:
		return PKCS11PinPrompt, fmt.Errorf("invalid PIN entry mode: %s (must be PROMPT, DEFER, or SKIP)", s)
	}
}

// UnmarshalYAML accepts the mode names case-insensitively.
func (m *PKCS11PinEntryMode) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	mode, err := ParsePKCS11PinEntryMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// HexID is a PKCS#11 CKA_ID written as a hex string in configuration.
type HexID []byte

// UnmarshalYAML decodes a hex string.
func (h *HexID) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("invalid PKCS#11 id %q: %w", s, err)
	}
	*h = b
	return nil
}

func (h HexID) String() string {
	return hex.EncodeToString(h)
}

// PKCS11SignatureConfig contains configuration for PKCS#11 signing.
type PKCS11SignatureConfig struct {
	// ModulePath is the path to the PKCS#11 module shared object (.so/.dylib/.dll).
	ModulePath string `yaml:"module-path" json:"module_path"`

	// SlotNo is the slot number to use. If nil, the first matching slot is used.
	SlotNo *int `yaml:"slot-no" json:"slot_no,omitempty"`

	// TokenLabel selects the token by label.
	TokenLabel string `yaml:"token-label" json:"token_label,omitempty"`

	// CertLabel is the PKCS#11 label of the signer's certificate.
	CertLabel string `yaml:"cert-label" json:"cert_label,omitempty"`

	// CertID is the PKCS#11 ID of the signer's certificate.
	CertID HexID `yaml:"cert-id" json:"cert_id,omitempty"`

	// KeyLabel is the PKCS#11 label of the private key.
	// Defaults to CertLabel if not specified and KeyID is also not specified.
	KeyLabel string `yaml:"key-label" json:"key_label,omitempty"`

	// KeyID is the PKCS#11 ID of the private key.
	KeyID HexID `yaml:"key-id" json:"key_id,omitempty"`

	// UserPIN is the user PIN for authentication.
	UserPIN string `yaml:"user-pin" json:"-"`

	// PromptPIN specifies PIN entry behavior.
	PromptPIN PKCS11PinEntryMode `yaml:"prompt-pin" json:"prompt_pin"`

	// SigningCertificatePath loads the signer certificate from a file
	// instead of from the token.
	SigningCertificatePath string `yaml:"signing-certificate" json:"signing_certificate,omitempty"`

	// OtherCertsFiles are paths to other certificate files to include.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`
}

// Validate validates the PKCS#11 configuration.
func (c *PKCS11SignatureConfig) Validate() error {
	if c.ModulePath == "" {
		return WrapConfigError("module-path", "PKCS#11 module path is required", ErrMissingRequiredField)
	}

	hasKeyIdentifier := c.KeyID != nil || c.KeyLabel != ""
	hasCertIdentifier := c.CertID != nil || c.CertLabel != ""
	if !hasKeyIdentifier && !hasCertIdentifier {
		return NewConfigError("", "at least one of key-id, key-label, cert-label, or cert-id must be provided")
	}
	return nil
}

// GetKeyLabel returns the effective key label.
func (c *PKCS11SignatureConfig) GetKeyLabel() string {
	if c.KeyLabel != "" {
		return c.KeyLabel
	}
	if c.KeyID == nil && c.CertLabel != "" {
		return c.CertLabel
	}
	return ""
}

// GetKeyID returns the effective key ID.
func (c *PKCS11SignatureConfig) GetKeyID() []byte {
	if c.KeyID != nil {
		return c.KeyID
	}
	if c.KeyLabel == "" && c.CertID != nil {
		return c.CertID
	}
	return nil
}

// GetCertLabel returns the effective cert label.
func (c *PKCS11SignatureConfig) GetCertLabel() string {
	if c.CertLabel != "" {
		return c.CertLabel
	}
	if c.CertID == nil && c.KeyLabel != "" {
		return c.KeyLabel
	}
	return ""
}

// GetCertID returns the effective cert ID.
func (c *PKCS11SignatureConfig) GetCertID() []byte {
	if c.CertID != nil {
		return c.CertID
	}
	if c.CertLabel == "" && c.KeyID != nil {
		return c.KeyID
	}
	return nil
}
