// Package cms produces and checks detached CMS SignedData envelopes.
//
// Signing goes through CMSBuilder, which accepts any crypto.Signer and so
// works with software keys and hardware tokens alike. Parsing and
// verification use go.mozilla.org/pkcs7.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"sort"
	"time"
)

// OIDs for CMS and signature algorithms
var (
	// Content types
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	// Digest algorithms
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}

	// Signature algorithms
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}

	// Signed attributes
	OIDContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

// Common errors
var (
	ErrCrypto               = errors.New("cryptographic operation failed")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrMissingCertificate   = errors.New("signer certificate not found in signature")
	ErrMalformedEnvelope    = errors.New("malformed envelope")
)

// CryptoError reports a failure to produce, decode or check a signature.
type CryptoError struct {
	Op  string
	Err error
}

// NewCryptoError creates a new CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCrypto) hold for every CryptoError.
func (e *CryptoError) Is(target error) bool {
	return target == ErrCrypto
}

// AlgorithmIdentifier represents an algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo represents a CMS ContentInfo structure.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignedData represents a CMS SignedData structure.
type SignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// EncapsulatedContentInfo represents encapsulated content. Detached
// signatures leave EContent empty.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignerInfo represents a signer's information.
// SID is IssuerAndSerialNumber directly because SignerIdentifier is a CHOICE.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// SigningCertificateV2 represents the ESS signing certificate attribute.
type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

// ESSCertIDv2 represents a certificate identifier.
type ESSCertIDv2 struct {
	HashAlgorithm AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  IssuerSerial `asn1:"optional"`
}

// IssuerSerial identifies a certificate by issuer and serial. Issuer is a
// GeneralNames sequence.
type IssuerSerial struct {
	Issuer       []asn1.RawValue
	SerialNumber *big.Int
}

// SignatureAlgorithm represents a signature algorithm with its hash.
type SignatureAlgorithm struct {
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	Hash               crypto.Hash
}

// Supported signature algorithms
var (
	SHA256WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDSHA256WithRSA,
		Hash:               crypto.SHA256,
	}
	SHA256WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDECDSAWithSHA256,
		Hash:               crypto.SHA256,
	}
	SHA384WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDECDSAWithSHA384,
		Hash:               crypto.SHA384,
	}
)

// AlgorithmForKey picks the signature algorithm for a signer's public key.
// RSA and P-256 keys use SHA-256; larger curves use SHA-384.
func AlgorithmForKey(pub crypto.PublicKey) (SignatureAlgorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		if k.Curve != nil && k.Curve.Params().BitSize > 256 {
			return SHA384WithECDSA, nil
		}
		return SHA256WithECDSA, nil
	default:
		return SignatureAlgorithm{}, fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

// CMSBuilder builds detached CMS signed data structures.
type CMSBuilder struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
	Algorithm   SignatureAlgorithm
	SigningTime time.Time
}

// NewCMSBuilder creates a new CMS builder.
func NewCMSBuilder(cert *x509.Certificate, key crypto.Signer, alg SignatureAlgorithm) *CMSBuilder {
	return &CMSBuilder{
		Certificate: cert,
		PrivateKey:  key,
		Algorithm:   alg,
		SigningTime: time.Now().UTC(),
	}
}

// SetCertificateChain sets the certificates embedded after the signer's own.
func (b *CMSBuilder) SetCertificateChain(chain []*x509.Certificate) {
	b.CertChain = chain
}

// SetSigningTime sets the signing time.
func (b *CMSBuilder) SetSigningTime(t time.Time) {
	b.SigningTime = t.UTC()
}

// SignedAttributesForSigning returns signed attributes and the DER-encoded SET
// bytes used for signature generation.
func (b *CMSBuilder) SignedAttributesForSigning(data []byte) ([]Attribute, []byte, error) {
	h := b.getHash()
	h.Write(data)
	messageDigest := h.Sum(nil)

	signedAttrs, err := b.buildSignedAttributes(messageDigest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build signed attributes: %w", err)
	}

	signedAttrs = derSortAttributes(signedAttrs)

	signedAttrsBytes, err := asn1.Marshal(signedAttrs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}

	signedAttrsBytes[0] = 0x31 // SET tag

	return signedAttrs, signedAttrsBytes, nil
}

// Sign creates a detached CMS signature over data.
func (b *CMSBuilder) Sign(data []byte) ([]byte, error) {
	if b.Certificate == nil {
		return nil, ErrMissingCertificate
	}
	if b.PrivateKey == nil {
		return nil, errors.New("missing private key")
	}

	signedAttrs, signedAttrsBytes, err := b.SignedAttributesForSigning(data)
	if err != nil {
		return nil, err
	}

	h := b.getHash()
	h.Write(signedAttrsBytes)
	attrDigest := h.Sum(nil)

	signature, err := b.signDigest(attrDigest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	signerInfo := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			SerialNumber: b.Certificate.SerialNumber,
		},
		DigestAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.DigestAlgorithm,
			Parameters: asn1.RawValue{Tag: 5}, // NULL
		},
		SignedAttrs: signedAttrs,
		SignatureAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.SignatureAlgorithm,
			Parameters: signatureAlgorithmParameters(b.Algorithm.SignatureAlgorithm),
		},
		Signature: signature,
	}

	signedData := SignedData{
		Version: 1,
		DigestAlgorithms: []AlgorithmIdentifier{
			{
				Algorithm:  b.Algorithm.DigestAlgorithm,
				Parameters: asn1.RawValue{Tag: 5},
			},
		},
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: OIDData,
		},
		Certificates: b.embeddedCertificates(),
		SignerInfos:  []SignerInfo{signerInfo},
	}

	signedDataBytes, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed data: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: 2, Tag: 0, IsCompound: true, Bytes: signedDataBytes},
	}

	return asn1.Marshal(contentInfo)
}

// embeddedCertificates returns the signer certificate followed by the chain,
// each distinct encoding once.
func (b *CMSBuilder) embeddedCertificates() []asn1.RawValue {
	certs := []asn1.RawValue{{FullBytes: b.Certificate.Raw}}
	seen := [][]byte{b.Certificate.Raw}
	for _, cert := range b.CertChain {
		if cert == nil || containsRaw(seen, cert.Raw) {
			continue
		}
		seen = append(seen, cert.Raw)
		certs = append(certs, asn1.RawValue{FullBytes: cert.Raw})
	}
	return certs
}

func containsRaw(seen [][]byte, raw []byte) bool {
	for _, s := range seen {
		if bytes.Equal(s, raw) {
			return true
		}
	}
	return false
}

func signatureAlgorithmParameters(oid asn1.ObjectIdentifier) asn1.RawValue {
	if oid.Equal(OIDSHA256WithRSA) {
		return asn1.RawValue{Tag: 5} // NULL
	}
	return asn1.RawValue{} // omit
}

// buildSignedAttributes builds content type, message digest, signing time
// and signing certificate v2 attributes.
func (b *CMSBuilder) buildSignedAttributes(messageDigest []byte) ([]Attribute, error) {
	var attrs []Attribute

	contentTypeValue, err := asn1.Marshal(OIDData)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{
		Type:   OIDContentType,
		Values: []asn1.RawValue{{FullBytes: contentTypeValue}},
	})

	digestValue, err := asn1.Marshal(messageDigest)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{
		Type:   OIDMessageDigest,
		Values: []asn1.RawValue{{FullBytes: digestValue}},
	})

	signingTimeValue, err := asn1.Marshal(b.SigningTime.UTC())
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{
		Type:   OIDSigningTime,
		Values: []asn1.RawValue{{FullBytes: signingTimeValue}},
	})

	signingCert := SigningCertificateV2{
		Certs: []ESSCertIDv2{
			{
				HashAlgorithm: AlgorithmIdentifier{
					Algorithm:  b.Algorithm.DigestAlgorithm,
					Parameters: asn1.RawValue{Tag: 5},
				},
				CertHash: b.hashCertificate(),
				IssuerSerial: IssuerSerial{
					Issuer: []asn1.RawValue{
						{
							Class:      asn1.ClassContextSpecific,
							Tag:        4, // directoryName
							IsCompound: true,
							Bytes:      b.Certificate.RawIssuer,
						},
					},
					SerialNumber: b.Certificate.SerialNumber,
				},
			},
		},
	}
	signingCertValue, err := asn1.Marshal(signingCert)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{
		Type:   OIDSigningCertificateV2,
		Values: []asn1.RawValue{{FullBytes: signingCertValue}},
	})

	return attrs, nil
}

// getHash returns the hash function for the algorithm.
func (b *CMSBuilder) getHash() hash.Hash {
	switch b.Algorithm.Hash {
	case crypto.SHA384:
		return sha512.New384()
	default:
		return sha256.New()
	}
}

// hashCertificate computes the certificate hash.
func (b *CMSBuilder) hashCertificate() []byte {
	h := b.getHash()
	h.Write(b.Certificate.Raw)
	return h.Sum(nil)
}

// signDigest signs the digest with the private key.
func (b *CMSBuilder) signDigest(digest []byte) ([]byte, error) {
	switch key := b.PrivateKey.(type) {
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, key, b.Algorithm.Hash, digest)
	default:
		return b.PrivateKey.Sign(rand.Reader, digest, b.Algorithm.Hash)
	}
}

// derSortAttributes sorts attributes by their DER encoding so the signed
// bytes match the SET OF order the asn1 encoder emits.
func derSortAttributes(attrs []Attribute) []Attribute {
	type attrWithDER struct {
		attr Attribute
		der  []byte
	}
	attrsWithDER := make([]attrWithDER, len(attrs))
	for i, attr := range attrs {
		der, _ := asn1.Marshal(attr)
		attrsWithDER[i] = attrWithDER{attr: attr, der: der}
	}

	sort.Slice(attrsWithDER, func(i, j int) bool {
		return bytes.Compare(attrsWithDER[i].der, attrsWithDER[j].der) < 0
	})

	result := make([]Attribute, len(attrs))
	for i, awd := range attrsWithDER {
		result[i] = awd.attr
	}
	return result
}

// SignDetached signs content with key and returns the DER encoded envelope.
// cert is the signer certificate and chain the further certificates to embed.
// Every failure is a *CryptoError.
func SignDetached(content []byte, key crypto.Signer, cert *x509.Certificate, chain []*x509.Certificate, signingTime time.Time) ([]byte, error) {
	if key == nil {
		return nil, NewCryptoError("sign content", errors.New("missing private key"))
	}
	if cert == nil {
		return nil, NewCryptoError("sign content", ErrMissingCertificate)
	}
	alg, err := AlgorithmForKey(key.Public())
	if err != nil {
		return nil, NewCryptoError("sign content", err)
	}

	b := NewCMSBuilder(cert, key, alg)
	b.SetCertificateChain(chain)
	b.SetSigningTime(signingTime)

	der, err := b.Sign(content)
	if err != nil {
		return nil, NewCryptoError("sign content", err)
	}
	return der, nil
}
