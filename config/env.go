package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MDSIGN_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with MDSIGN_* variables. Setting a keystore or
// trust store path through the environment creates the section if needed.
func ApplyEnv(cfg *AppConfig, lookup LookupFunc) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("VALIDITY_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return WrapConfigError(EnvPrefix+"VALIDITY_DAYS", "must be an integer", err)
		}
		cfg.Signing.ValidityDays = n
	}
	if v, ok := get("PRECHECK_CERTIFICATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return WrapConfigError(EnvPrefix+"PRECHECK_CERTIFICATE", "must be a boolean", err)
		}
		cfg.Signing.PrecheckCertificate = b
	}

	if err := applyKeystoreEnv(cfg, get); err != nil {
		return err
	}

	if v, ok := get("TRUSTSTORE_PATH"); ok {
		ensureTrustStore(cfg).Path = v
	}
	if v, ok := get("TRUSTSTORE_TYPE"); ok {
		ensureTrustStore(cfg).Type = strings.ToLower(v)
	}
	if v, ok := get("TRUSTSTORE_PASSWORD"); ok {
		ensureTrustStore(cfg).Password = v
	}
	if v, ok := get("CERT_EXPIRY_WARNING_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return WrapConfigError(EnvPrefix+"CERT_EXPIRY_WARNING_DAYS", "must be an integer", err)
		}
		cfg.Validation.CertExpiryWarningDays = n
	}

	if v, ok := get("SERVER_HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := get("SERVER_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return WrapConfigError(EnvPrefix+"SERVER_PORT", "must be an integer", err)
		}
		cfg.Server.Port = n
	}
	if v, ok := get("SERVER_READ_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return WrapConfigError(EnvPrefix+"SERVER_READ_TIMEOUT", "must be a duration", err)
		}
		cfg.Server.ReadTimeout = d
	}
	if v, ok := get("SERVER_WRITE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return WrapConfigError(EnvPrefix+"SERVER_WRITE_TIMEOUT", "must be a duration", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.Logging.Format = v
	}
	if v, ok := get("LOG_OUTPUT"); ok {
		cfg.Logging.Output = v
	}
	return nil
}

func applyKeystoreEnv(cfg *AppConfig, get func(string) (string, bool)) error {
	ks := cfg.Signing.Keystore
	ensure := func(typ string) *KeystoreConfig {
		if ks == nil {
			ks = &KeystoreConfig{Type: typ}
			cfg.Signing.Keystore = ks
		}
		if ks.Type == "" {
			ks.Type = typ
		}
		return ks
	}

	if v, ok := get("KEYSTORE_TYPE"); ok {
		ensure(strings.ToLower(v)).Type = strings.ToLower(v)
	}

	if v, ok := get("KEY_FILE"); ok {
		pemDer(ensure(KeystorePemDer)).KeyFile = v
	}
	if v, ok := get("CERT_FILE"); ok {
		pemDer(ensure(KeystorePemDer)).CertFile = v
	}
	if v, ok := get("KEY_PASSPHRASE"); ok {
		pemDer(ensure(KeystorePemDer)).KeyPassphrase = v
	}

	if v, ok := get("PFX_FILE"); ok {
		pfx(ensure(KeystorePKCS12)).PFXFile = v
	}
	if v, ok := get("PFX_PASSPHRASE"); ok {
		pfx(ensure(KeystorePKCS12)).PFXPassphrase = v
	}

	if v, ok := get("PKCS11_MODULE"); ok {
		p11(ensure(KeystorePKCS11)).ModulePath = v
	}
	if v, ok := get("PKCS11_TOKEN_LABEL"); ok {
		p11(ensure(KeystorePKCS11)).TokenLabel = v
	}
	if v, ok := get("PKCS11_KEY_LABEL"); ok {
		p11(ensure(KeystorePKCS11)).KeyLabel = v
	}
	if v, ok := get("PKCS11_PIN"); ok {
		p11(ensure(KeystorePKCS11)).UserPIN = v
	}

	if v, ok := get("OTHER_CERTS"); ok {
		files := splitList(v)
		switch {
		case ks == nil:
			return NewConfigError(EnvPrefix+"OTHER_CERTS", "set without a keystore")
		case ks.PemDer != nil:
			ks.PemDer.OtherCertsFiles = files
		case ks.PKCS12 != nil:
			ks.PKCS12.OtherCertsFiles = files
		case ks.PKCS11 != nil:
			ks.PKCS11.OtherCertsFiles = files
		}
	}
	return nil
}

func pemDer(ks *KeystoreConfig) *PemDerSignatureConfig {
	if ks.PemDer == nil {
		ks.PemDer = &PemDerSignatureConfig{}
	}
	return ks.PemDer
}

func pfx(ks *KeystoreConfig) *PKCS12SignatureConfig {
	if ks.PKCS12 == nil {
		ks.PKCS12 = &PKCS12SignatureConfig{}
	}
	return ks.PKCS12
}

func p11(ks *KeystoreConfig) *PKCS11SignatureConfig {
	if ks.PKCS11 == nil {
		ks.PKCS11 = &PKCS11SignatureConfig{}
	}
	return ks.PKCS11
}

func ensureTrustStore(cfg *AppConfig) *TrustStoreConfig {
	if cfg.Validation.TrustStore == nil {
		cfg.Validation.TrustStore = &TrustStoreConfig{Type: TrustStorePEM}
	}
	return cfg.Validation.TrustStore
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// String summarises where signing keys come from without secrets.
func (c *KeystoreConfig) String() string {
	if c == nil {
		return "none"
	}
	switch c.Type {
	case KeystorePemDer:
		if c.PemDer != nil {
			return fmt.Sprintf("pemder(cert=%s)", c.PemDer.CertFile)
		}
	case KeystorePKCS12:
		if c.PKCS12 != nil {
			return fmt.Sprintf("pkcs12(%s)", c.PKCS12.PFXFile)
		}
	case KeystorePKCS11:
		if c.PKCS11 != nil {
			return fmt.Sprintf("pkcs11(%s)", c.PKCS11.ModulePath)
		}
	}
	return c.Type
}
