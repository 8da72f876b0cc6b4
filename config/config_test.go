package config

import (
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/mdsign/internal/testpki"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 365, cfg.Signing.ValidityDays)
	assert.Equal(t, 365*24*time.Hour, cfg.Signing.ValidityWindow())
	assert.Nil(t, cfg.Signing.Keystore)
	assert.Equal(t, 30, cfg.Validation.CertExpiryWarningDays)
	assert.False(t, cfg.Validation.RevocationChecking)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, LoggingConfig{Level: "info", Format: "console", Output: "stderr"}, cfg.Logging)
	assert.NoError(t, cfg.Validate())
}

func TestParseFull(t *testing.T) {
	data := []byte(`
signing:
  validity-days: 90
  precheck-certificate: true
  keystore:
    type: pemder
    pemder:
      key-file: /keys/signer.key
      cert-file: /keys/signer.crt
      other-certs: [/keys/ca.crt]
      prompt-passphrase: true
validation:
  truststore:
    type: jks
    path: /trust/anchors.jks
    password: changeit
  cert-expiry-warning-days: 14
server:
  host: 127.0.0.1
  port: 9090
  read-timeout: 5s
  write-timeout: 1m
logging:
  level: debug
  format: json
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 90*24*time.Hour, cfg.Signing.ValidityWindow())
	assert.True(t, cfg.Signing.PrecheckCertificate)
	require.NotNil(t, cfg.Signing.Keystore)
	assert.Equal(t, KeystorePemDer, cfg.Signing.Keystore.Type)
	assert.Equal(t, "/keys/signer.key", cfg.Signing.Keystore.PemDer.KeyFile)
	assert.Equal(t, []string{"/keys/ca.crt"}, cfg.Signing.Keystore.PemDer.OtherCertsFiles)
	assert.True(t, cfg.Signing.Keystore.PemDer.PromptPassphrase)

	require.NotNil(t, cfg.Validation.TrustStore)
	assert.Equal(t, TrustStoreJKS, cfg.Validation.TrustStore.Type)
	assert.Equal(t, "changeit", cfg.Validation.TrustStore.Password)
	assert.Equal(t, 14*24*time.Hour, cfg.Validation.ExpiryWarningWindow())

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Minute, cfg.Server.WriteTimeout)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseTrustStoreTypeDefaultsToPEM(t *testing.T) {
	root := testpki.NewRoot(t, "Anchor")
	path := filepath.Join(t.TempDir(), "anchors.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Certificate.Raw}), 0o600))

	cfg, err := Parse([]byte("validation:\n  truststore:\n    path: " + path + "\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Validation.TrustStore.Type)

	anchors, err := LoadTrustAnchors(cfg.Validation.TrustStore)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.True(t, anchors[0].Equal(root.Certificate))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		field   string
		wantErr error
	}{
		{
			name:  "revocation checking enabled",
			yaml:  "validation:\n  revocation-checking: true\n",
			field: "validation.revocation-checking",
		},
		{
			name: "unknown field",
			yaml: "signing:\n  stamps: {}\n",
		},
		{
			name:    "unknown keystore type",
			yaml:    "signing:\n  keystore:\n    type: hsm\n",
			field:   "signing.keystore.type",
			wantErr: ErrUnsupportedType,
		},
		{
			name:  "keystore section missing",
			yaml:  "signing:\n  keystore:\n    type: pkcs12\n",
			field: "signing.keystore.pkcs12",
		},
		{
			name:    "pemder key file missing",
			yaml:    "signing:\n  keystore:\n    type: pemder\n    pemder:\n      cert-file: a.crt\n",
			field:   "key-file",
			wantErr: ErrMissingRequiredField,
		},
		{
			name:  "pkcs11 without identifiers",
			yaml:  "signing:\n  keystore:\n    type: pkcs11\n    pkcs11:\n      module-path: /lib/p11.so\n",
			field: "",
		},
		{
			name:    "unknown truststore type",
			yaml:    "validation:\n  truststore:\n    type: bks\n    path: /x\n",
			field:   "validation.truststore.type",
			wantErr: ErrUnsupportedType,
		},
		{
			name:  "zero validity",
			yaml:  "signing:\n  validity-days: 0\n",
			field: "signing.validity-days",
		},
		{
			name:  "bad port",
			yaml:  "server:\n  port: 70000\n",
			field: "server.port",
		},
		{
			name: "malformed yaml",
			yaml: "signing: [\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigurationError))

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			if tt.field != "" {
				assert.Equal(t, tt.field, cfgErr.Field)
			}
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			}
		})
	}
}

func TestConfigErrorMessages(t *testing.T) {
	assert.Equal(t, "config error in 'a.b': broken", NewConfigError("a.b", "broken").Error())
	assert.Equal(t, "config error: broken", NewConfigError("", "broken").Error())

	cause := errors.New("cause")
	err := WrapConfigError("x", "wrapped", cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrConfigurationError))
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdsign.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\nlogging:\n  level: warn\n"), 0o600))

	t.Setenv("MDSIGN_SERVER_PORT", "9100")
	t.Setenv("MDSIGN_TRUSTSTORE_PATH", "/trust/anchors.pem")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NotNil(t, cfg.Validation.TrustStore)
	assert.Equal(t, TrustStorePEM, cfg.Validation.TrustStore.Type)
	assert.Equal(t, "/trust/anchors.pem", cfg.Validation.TrustStore.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MDSIGN_LOG_LEVEL=debug\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		os.Chdir(wd)
		os.Unsetenv("MDSIGN_LOG_LEVEL")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
