package certvalidator

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NamesEqual compares two distinguished names by their decoded attributes.
// Attribute order, letter case and runs of whitespace in values are ignored.
func NamesEqual(a, b pkix.Name) bool {
	return canonicalNameString(a) == canonicalNameString(b)
}

// IsSelfSigned reports whether cert names itself as its issuer.
func IsSelfSigned(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	return NamesEqual(cert.Subject, cert.Issuer)
}

// canonicalNameString renders name as a sorted list of type=value pairs.
func canonicalNameString(name pkix.Name) string {
	atvs := name.Names
	if len(atvs) == 0 {
		for _, rdn := range name.ToRDNSequence() {
			atvs = append(atvs, rdn...)
		}
	}

	parts := make([]string, 0, len(atvs))
	for _, atv := range atvs {
		parts = append(parts, atv.Type.String()+"="+normalizeRDNValue(atv.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func normalizeRDNValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return normalizeDNString(v)
	default:
		return normalizeDNString(fmt.Sprint(v))
	}
}

// normalizeDNString applies NFC, case folding and whitespace collapsing.
func normalizeDNString(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	folded := cases.Fold().String(norm.NFC.String(trimmed))
	return strings.Join(strings.Fields(folded), " ")
}
