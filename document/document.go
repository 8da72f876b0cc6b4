// Package document models signed text documents.
//
// A document is an optional YAML header block delimited by "---" lines,
// followed by an opaque body. The reserved header key "signatures" carries
// the detached signatures over the body. Document values are immutable;
// appending a signature returns a new value and the signatures header key
// is always regenerated from the signature list.
package document

// Header keys of the signature records.
const (
	SignaturesKey = "signatures"

	fieldSignature      = "signature"
	fieldSignerDN       = "signerDN"
	fieldExpirationDate = "expirationDate"
	fieldSignedAt       = "signedAt"
	fieldMetadata       = "metadata"
)

// Document is a parsed text document.
type Document struct {
	header     map[string]any
	body       string
	signatures []SignatureEntry
}

// New creates a Document. A "signatures" key in header is ignored; the
// signature list is authoritative. header and signatures are copied.
func New(header map[string]any, body string, signatures []SignatureEntry) Document {
	h := copyHeader(header)
	delete(h, SignaturesKey)
	return Document{
		header:     h,
		body:       body,
		signatures: copySignatures(signatures),
	}
}

// Header returns a copy of the header without the signatures key.
func (d Document) Header() map[string]any {
	return copyHeader(d.header)
}

// Body returns the document body.
func (d Document) Body() string {
	return d.body
}

// Signatures returns a copy of the embedded signature entries in order.
func (d Document) Signatures() []SignatureEntry {
	return copySignatures(d.signatures)
}

// HasSignatures reports whether the document carries at least one signature.
func (d Document) HasSignatures() bool {
	return len(d.signatures) > 0
}

// WithSignature returns a copy of d with entry appended to the signature list.
func (d Document) WithSignature(entry SignatureEntry) Document {
	sigs := make([]SignatureEntry, 0, len(d.signatures)+1)
	sigs = append(sigs, d.signatures...)
	sigs = append(sigs, entry)
	return Document{
		header:     copyHeader(d.header),
		body:       d.body,
		signatures: sigs,
	}
}

// HeaderMap returns the full header as it is serialized, including the
// signatures key when at least one signature is present.
func (d Document) HeaderMap() map[string]any {
	h := copyHeader(d.header)
	if len(d.signatures) == 0 {
		return h
	}
	list := make([]any, len(d.signatures))
	for i, sig := range d.signatures {
		list[i] = sig.record().asMap()
	}
	h[SignaturesKey] = list
	return h
}

// encodableHeader is HeaderMap with the signature list kept as records so the
// encoder emits entry fields in a stable order.
func (d Document) encodableHeader() map[string]any {
	h := copyHeader(d.header)
	if len(d.signatures) == 0 {
		return h
	}
	records := make([]signatureRecord, len(d.signatures))
	for i, sig := range d.signatures {
		records[i] = sig.record()
	}
	h[SignaturesKey] = records
	return h
}

func copySignatures(sigs []SignatureEntry) []SignatureEntry {
	if len(sigs) == 0 {
		return nil
	}
	out := make([]SignatureEntry, len(sigs))
	for i, s := range sigs {
		out[i] = NewSignatureEntry(s.signature, s.signerDN, s.expiresAt, s.signedAt, s.metadata)
	}
	return out
}

func copyHeader(h map[string]any) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyHeader(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
