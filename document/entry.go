package document

import (
	"encoding/base64"
	"fmt"
	"time"
)

// SignatureEntry is one signature record embedded in a document header.
// Values are immutable: the constructor and every accessor copy mutable state.
type SignatureEntry struct {
	signature string
	signerDN  string
	expiresAt *time.Time
	signedAt  *time.Time
	metadata  map[string]string
}

// NewSignatureEntry builds a SignatureEntry. signature is the base64 transport
// form of the detached signature. Nil timestamps are treated as absent.
func NewSignatureEntry(signature, signerDN string, expiresAt, signedAt *time.Time, metadata map[string]string) SignatureEntry {
	return SignatureEntry{
		signature: signature,
		signerDN:  signerDN,
		expiresAt: normalizeTime(expiresAt),
		signedAt:  normalizeTime(signedAt),
		metadata:  copyMetadata(metadata),
	}
}

// Signature returns the base64 encoded signature.
func (e SignatureEntry) Signature() string {
	return e.signature
}

// SignatureBytes decodes the base64 signature.
func (e SignatureEntry) SignatureBytes() ([]byte, error) {
	der, err := base64.StdEncoding.DecodeString(e.signature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	return der, nil
}

// SignerDN returns the subject distinguished name of the signer.
func (e SignatureEntry) SignerDN() string {
	return e.signerDN
}

// ExpiresAt returns the signature expiry and whether one is set.
func (e SignatureEntry) ExpiresAt() (time.Time, bool) {
	if e.expiresAt == nil {
		return time.Time{}, false
	}
	return *e.expiresAt, true
}

// SignedAt returns the signing time and whether one is set.
func (e SignatureEntry) SignedAt() (time.Time, bool) {
	if e.signedAt == nil {
		return time.Time{}, false
	}
	return *e.signedAt, true
}

// IsExpired reports whether the entry carries an expiry that lies before now.
func (e SignatureEntry) IsExpired(now time.Time) bool {
	return e.expiresAt != nil && e.expiresAt.Before(now)
}

// Metadata returns a copy of the caller supplied metadata.
func (e SignatureEntry) Metadata() map[string]string {
	return copyMetadata(e.metadata)
}

// String describes the entry without the signature bytes.
func (e SignatureEntry) String() string {
	s := fmt.Sprintf("SignatureEntry{signerDN=%q", e.signerDN)
	if e.signedAt != nil {
		s += ", signedAt=" + e.signedAt.Format(time.RFC3339)
	}
	if e.expiresAt != nil {
		s += ", expiresAt=" + e.expiresAt.Format(time.RFC3339)
	}
	if len(e.metadata) > 0 {
		s += fmt.Sprintf(", metadata=%d keys", len(e.metadata))
	}
	return s + "}"
}

// record returns the header representation of the entry. Absent optional
// fields are left out.
func (e SignatureEntry) record() signatureRecord {
	r := signatureRecord{
		Signature: e.signature,
		SignerDN:  e.signerDN,
		Metadata:  copyMetadata(e.metadata),
	}
	if e.expiresAt != nil {
		r.ExpirationDate = formatTimestamp(*e.expiresAt)
	}
	if e.signedAt != nil {
		r.SignedAt = formatTimestamp(*e.signedAt)
	}
	return r
}

// signatureRecord is the wire layout of one entry of the signatures list.
type signatureRecord struct {
	Signature      string            `yaml:"signature"`
	SignerDN       string            `yaml:"signerDN"`
	ExpirationDate string            `yaml:"expirationDate,omitempty"`
	SignedAt       string            `yaml:"signedAt,omitempty"`
	Metadata       map[string]string `yaml:"metadata,omitempty"`
}

func (r signatureRecord) asMap() map[string]any {
	m := map[string]any{
		fieldSignature: r.Signature,
		fieldSignerDN:  r.SignerDN,
	}
	if r.ExpirationDate != "" {
		m[fieldExpirationDate] = r.ExpirationDate
	}
	if r.SignedAt != "" {
		m[fieldSignedAt] = r.SignedAt
	}
	if len(r.Metadata) > 0 {
		md := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		m[fieldMetadata] = md
	}
	return m
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := t.Round(0).UTC()
	return &n
}

func copyMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
