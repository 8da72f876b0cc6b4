package document

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signedSample = `---
title: Quarterly report
tags:
  - finance
  - q3
signatures:
  - signature: TUlJQg==
    signerDN: CN=Alice,O=Example
    expirationDate: "2030-01-01T00:00:00Z"
    signedAt: "2029-01-01T00:00:00Z"
    metadata:
      reason: approval
      revision: 3
  - signature: TUlJQw==
    signerDN: CN=Bob,O=Example
---

# Report

Numbers go here.
`

func TestParseWithoutHeader(t *testing.T) {
	doc, err := Parse("  \n# Title\n\nSome text\n\n")
	require.NoError(t, err)

	assert.Equal(t, "# Title\n\nSome text", doc.Body())
	assert.Empty(t, doc.Header())
	assert.Empty(t, doc.Signatures())
	assert.False(t, doc.HasSignatures())
}

func TestParseBlankInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\r\n\t"} {
		doc, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "", doc.Body())
		assert.Empty(t, doc.Signatures())
	}
}

func TestParseSignedDocument(t *testing.T) {
	doc, err := Parse(signedSample)
	require.NoError(t, err)

	assert.Equal(t, "# Report\n\nNumbers go here.", doc.Body())

	header := doc.Header()
	assert.Equal(t, "Quarterly report", header["title"])
	assert.Equal(t, []any{"finance", "q3"}, header["tags"])
	assert.NotContains(t, header, SignaturesKey)

	sigs := doc.Signatures()
	require.Len(t, sigs, 2)

	first := sigs[0]
	assert.Equal(t, "TUlJQg==", first.Signature())
	assert.Equal(t, "CN=Alice,O=Example", first.SignerDN())
	exp, ok := first.ExpiresAt()
	require.True(t, ok)
	assert.True(t, exp.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
	signed, ok := first.SignedAt()
	require.True(t, ok)
	assert.True(t, signed.Equal(time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, map[string]string{"reason": "approval", "revision": "3"}, first.Metadata())

	second := sigs[1]
	assert.Equal(t, "CN=Bob,O=Example", second.SignerDN())
	_, ok = second.ExpiresAt()
	assert.False(t, ok)
	_, ok = second.SignedAt()
	assert.False(t, ok)
	assert.Empty(t, second.Metadata())
}

func TestParseCRLF(t *testing.T) {
	raw := "---\r\ntitle: x\r\n---\r\nbody line\r\n"
	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "x", doc.Header()["title"])
	assert.Equal(t, "body line", doc.Body())
}

func TestParseUnquotedTimestamp(t *testing.T) {
	raw := "---\nsignatures:\n  - signature: AA==\n    signerDN: CN=A\n    expirationDate: 2030-06-01T12:30:00Z\n---\nbody\n"
	doc, err := Parse(raw)
	require.NoError(t, err)

	exp, ok := doc.Signatures()[0].ExpiresAt()
	require.True(t, ok)
	assert.True(t, exp.Equal(time.Date(2030, 6, 1, 12, 30, 0, 0, time.UTC)))
}

func TestParseBadTimestampsBecomeAbsent(t *testing.T) {
	raw := "---\nsignatures:\n  - signature: AA==\n    signerDN: CN=A\n    expirationDate: next tuesday\n    signedAt: 42\n---\nbody\n"
	doc, err := Parse(raw)
	require.NoError(t, err)

	sig := doc.Signatures()[0]
	_, ok := sig.ExpiresAt()
	assert.False(t, ok)
	_, ok = sig.SignedAt()
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		entry int
	}{
		{
			name:  "duplicate top-level key",
			raw:   "---\ntitle: a\ntitle: b\n---\nbody\n",
			entry: -1,
		},
		{
			name:  "duplicate key in signature record",
			raw:   "---\nsignatures:\n  - signature: AA==\n    signature: AB==\n    signerDN: CN=A\n---\nbody\n",
			entry: -1,
		},
		{
			name:  "header is a list",
			raw:   "---\n- a\n- b\n---\nbody\n",
			entry: -1,
		},
		{
			name:  "signatures not a list",
			raw:   "---\nsignatures: nope\n---\nbody\n",
			entry: -1,
		},
		{
			name:  "entry not a mapping",
			raw:   "---\nsignatures:\n  - just a string\n---\nbody\n",
			entry: 0,
		},
		{
			name:  "missing signerDN",
			raw:   "---\nsignatures:\n  - signature: AA==\n    signerDN: CN=A\n  - signature: AA==\n---\nbody\n",
			entry: 1,
		},
		{
			name:  "missing signature",
			raw:   "---\nsignatures:\n  - signerDN: CN=A\n---\nbody\n",
			entry: 0,
		},
		{
			name:  "metadata not a mapping",
			raw:   "---\nsignatures:\n  - signature: AA==\n    signerDN: CN=A\n    metadata: [1, 2]\n---\nbody\n",
			entry: 0,
		},
		{
			name:  "nested metadata value",
			raw:   "---\nsignatures:\n  - signature: AA==\n    signerDN: CN=A\n    metadata:\n      k:\n        nested: true\n---\nbody\n",
			entry: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse))

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.entry, perr.Entry)
		})
	}
}

func TestParseErrorNamesSigner(t *testing.T) {
	raw := "---\nsignatures:\n  - signerDN: CN=Carol\n---\nbody\n"
	_, err := Parse(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature entry 0")
	assert.Contains(t, err.Error(), "CN=Carol")
}

func TestSerializeWithoutHeader(t *testing.T) {
	out, err := Serialize(New(nil, "hello\n\n\n", nil))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = Serialize(New(nil, "hello", nil))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestSerializeWithHeader(t *testing.T) {
	exp := time.Date(2031, 2, 3, 4, 5, 6, 0, time.UTC)
	entry := NewSignatureEntry("AAEC", "CN=Alice", &exp, nil, map[string]string{"reason": "ok"})
	doc := New(map[string]any{"title": "T"}, "body text\r\n", nil).WithSignature(entry)

	out, err := Serialize(doc)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "---\n"))
	assert.True(t, strings.HasSuffix(out, "---\n\nbody text\n"))
	assert.Contains(t, out, "title: T")
	assert.Contains(t, out, "signerDN: CN=Alice")
	assert.Contains(t, out, "2031-02-03T04:05:06Z")
	assert.Contains(t, out, "reason: ok")
	assert.NotContains(t, out, "signedAt")
	assert.NotContains(t, out, "null")
}

func TestSerializeEntryFieldOrder(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := NewSignatureEntry("AAEC", "CN=Alice", &now, &now, nil)
	out, err := Serialize(New(nil, "b", nil).WithSignature(entry))
	require.NoError(t, err)

	sig := strings.Index(out, "signature:")
	dn := strings.Index(out, "signerDN:")
	expIdx := strings.Index(out, "expirationDate:")
	signed := strings.Index(out, "signedAt:")
	assert.True(t, sig < dn && dn < expIdx && expIdx < signed)
	assert.NotContains(t, out, "metadata")
}

func TestRoundTrip(t *testing.T) {
	inputs := map[string]string{
		"signed":       signedSample,
		"plain":        "just a body\n",
		"header only":  "---\ntitle: x\ncount: 3\nnested:\n  a: [1, 2]\n---\n",
		"empty":        "",
		"crlf":         "---\r\ntitle: x\r\n---\r\n\r\nbody\r\n\r\n",
		"leading ws":   "---\na: b\n---\n\n\n   indented first line\nsecond\n\n\n",
		"no sig entry": "---\nsignatures: []\n---\nbody\n",
		"unterminated": "---\na: 1\n---",
		"ws before":    "  \n---\na: 1\n---\nbody",
		"dash body":    "---\n{}\n---\n\n---\nb: 2\n---\n",
	}

	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			first, err := Parse(raw)
			require.NoError(t, err)

			out, err := Serialize(first)
			require.NoError(t, err)

			second, err := Parse(out)
			require.NoError(t, err)

			assert.Equal(t, first.Body(), second.Body())
			assert.Equal(t, first.Header(), second.Header())
			assert.Equal(t, first.Signatures(), second.Signatures())

			again, err := Serialize(second)
			require.NoError(t, err)
			assert.Equal(t, out, again)
		})
	}
}

func TestParseHeaderAtEndOfInput(t *testing.T) {
	doc, err := Parse("---\na: 1\n---")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, doc.Header())
	assert.Empty(t, doc.Body())
}

func TestSerializeShieldsHeaderLikeBody(t *testing.T) {
	doc, err := Parse("  \n---\na: 1\n---\nbody")
	require.NoError(t, err)
	assert.Empty(t, doc.Header())
	assert.Equal(t, "---\na: 1\n---\nbody", doc.Body())

	out, err := Serialize(doc)
	require.NoError(t, err)
	assert.Equal(t, "---\n{}\n---\n\n---\na: 1\n---\nbody\n", out)

	plain, err := Serialize(New(nil, "---\nnot a header", nil))
	require.NoError(t, err)
	assert.Equal(t, "---\nnot a header\n", plain)
}

func TestRoundTripPreservesSubsecondTimestamps(t *testing.T) {
	ts := time.Date(2030, 1, 1, 10, 0, 0, 123456789, time.UTC)
	doc := New(nil, "body", nil).WithSignature(NewSignatureEntry("AA==", "CN=A", &ts, &ts, nil))

	out, err := Serialize(doc)
	require.NoError(t, err)
	parsed, err := Parse(out)
	require.NoError(t, err)

	got, ok := parsed.Signatures()[0].SignedAt()
	require.True(t, ok)
	assert.True(t, got.Equal(ts))
}
