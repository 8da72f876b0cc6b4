package document

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// The closing delimiter may end the input.
var frontMatterPattern = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---(?:\r?\n(.*))?\z`)

// emptyHeaderBlock shields a body that would itself read as a header block.
const emptyHeaderBlock = "---\n{}\n---\n\n"

// Codec parses and serializes documents.
type Codec struct {
	logger *zap.Logger
}

// NewCodec creates a Codec that reports recoverable problems to logger.
// A nil logger discards them.
func NewCodec(logger *zap.Logger) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{logger: logger}
}

var defaultCodec = NewCodec(nil)

// Parse parses raw with a Codec that does not log.
func Parse(raw string) (Document, error) {
	return defaultCodec.Parse(raw)
}

// Serialize serializes doc with a Codec that does not log.
func Serialize(doc Document) (string, error) {
	return defaultCodec.Serialize(doc)
}

// Parse splits raw into header and body and extracts the signature list.
// Input without a header block is all body. The body is trimmed of
// surrounding whitespace. Any malformed header or signature record fails the
// whole parse with a *ParseError.
func (c *Codec) Parse(raw string) (Document, error) {
	if strings.TrimSpace(raw) == "" {
		c.logger.Debug("empty document")
		return New(nil, "", nil), nil
	}

	m := frontMatterPattern.FindStringSubmatch(raw)
	if m == nil {
		c.logger.Debug("no header block found, treating input as body", zap.Int("length", len(raw)))
		return New(nil, strings.TrimSpace(raw), nil), nil
	}

	header, err := decodeHeader(m[1])
	if err != nil {
		return Document{}, err
	}

	var sigs []SignatureEntry
	if v, ok := header[SignaturesKey]; ok {
		sigs, err = c.parseSignatures(v)
		if err != nil {
			return Document{}, err
		}
	}

	doc := New(header, strings.TrimSpace(m[2]), sigs)
	c.logger.Debug("parsed document",
		zap.Int("headerKeys", len(doc.header)),
		zap.Int("signatures", len(doc.signatures)),
		zap.Int("bodyLength", len(doc.body)))
	return doc, nil
}

// Serialize renders doc. The header block is written only when the header,
// including the regenerated signatures key, is non-empty, or when the body
// starts with something that would parse as a header block. The body is
// written with exactly one trailing newline.
func (c *Codec) Serialize(doc Document) (string, error) {
	var sb strings.Builder
	body := strings.TrimRight(doc.body, "\r\n") + "\n"

	header := doc.encodableHeader()
	if len(header) > 0 {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(header); err != nil {
			return "", fmt.Errorf("failed to encode header: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("failed to encode header: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(buf.Bytes())
		sb.WriteString("---\n\n")
	} else if frontMatterPattern.MatchString(body) {
		sb.WriteString(emptyHeaderBlock)
	}

	sb.WriteString(body)

	c.logger.Debug("serialized document", zap.Int("signatures", len(doc.signatures)))
	return sb.String(), nil
}

func decodeHeader(block string) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, NewParseError("invalid header block", err)
	}
	header := make(map[string]any, len(raw))
	for k, v := range raw {
		header[k] = normalizeValue(v)
	}
	return header, nil
}

// normalizeValue converts decoded YAML into map[string]any, []any and scalars.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func (c *Codec) parseSignatures(v any) ([]SignatureEntry, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, NewParseError(fmt.Sprintf("%q must be a list, got %T", SignaturesKey, v), nil)
	}
	sigs := make([]SignatureEntry, 0, len(list))
	for i, item := range list {
		entry, err := c.parseSignature(i, item)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, entry)
	}
	return sigs, nil
}

func (c *Codec) parseSignature(index int, item any) (SignatureEntry, error) {
	rec, ok := item.(map[string]any)
	if !ok {
		return SignatureEntry{}, NewEntryParseError(index, "", fmt.Sprintf("record must be a mapping, got %T", item))
	}

	signerDN, _ := rec[fieldSignerDN].(string)
	if signerDN == "" {
		return SignatureEntry{}, NewEntryParseError(index, "", fmt.Sprintf("missing or non-string %q", fieldSignerDN))
	}
	signature, _ := rec[fieldSignature].(string)
	if signature == "" {
		return SignatureEntry{}, NewEntryParseError(index, signerDN, fmt.Sprintf("missing or non-string %q", fieldSignature))
	}

	metadata, err := parseMetadata(rec[fieldMetadata])
	if err != nil {
		return SignatureEntry{}, NewEntryParseError(index, signerDN, err.Error())
	}

	expiresAt := c.parseTimestamp(index, fieldExpirationDate, rec[fieldExpirationDate])
	signedAt := c.parseTimestamp(index, fieldSignedAt, rec[fieldSignedAt])

	return NewSignatureEntry(signature, signerDN, expiresAt, signedAt, metadata), nil
}

// parseTimestamp returns nil for a missing or unreadable timestamp.
func (c *Codec) parseTimestamp(index int, field string, v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &t
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			c.logger.Warn("ignoring unparseable timestamp",
				zap.Int("entry", index),
				zap.String("field", field),
				zap.String("value", t))
			return nil
		}
		return &ts
	default:
		c.logger.Warn("ignoring non-string timestamp",
			zap.Int("entry", index),
			zap.String("field", field),
			zap.String("type", fmt.Sprintf("%T", v)))
		return nil
	}
}

func parseMetadata(v any) (map[string]string, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q must be a mapping, got %T", fieldMetadata, v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(m))
	for _, k := range keys {
		switch val := m[k].(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case map[string]any, []any:
			return nil, fmt.Errorf("metadata value for %q must be a scalar", k)
		case time.Time:
			out[k] = formatTimestamp(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}
