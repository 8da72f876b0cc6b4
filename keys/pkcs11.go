package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"
)

// PKCS#11 related errors
var (
	ErrPKCS11ModuleLoad     = errors.New("failed to load PKCS#11 module")
	ErrPKCS11NoToken        = errors.New("no matching token found")
	ErrPKCS11NoKey          = errors.New("private key not found")
	ErrPKCS11NoCert         = errors.New("certificate not found")
	ErrPKCS11MultipleKeys   = errors.New("multiple private keys found")
	ErrPKCS11MultipleCerts  = errors.New("multiple certificates found")
	ErrPKCS11LoginFailed    = errors.New("PKCS#11 login failed")
	ErrPKCS11SignFailed     = errors.New("PKCS#11 signing failed")
	ErrPKCS11UnsupportedAlg = errors.New("unsupported algorithm for PKCS#11")
)

// DigestInfo prefixes for CKM_RSA_PKCS, which signs a caller-built
// DigestInfo structure.
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// pkcs11Module is the subset of *pkcs11.Ctx used once a session is open.
type pkcs11Module interface {
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
	Logout(sh pkcs11.SessionHandle) error
	CloseSession(sh pkcs11.SessionHandle) error
	Finalize() error
	Destroy()
}

// PKCS11Options selects a token and authenticates to it.
type PKCS11Options struct {
	ModulePath string
	// SlotNo pins the slot; otherwise the first slot whose token matches
	// TokenLabel is used.
	SlotNo     *int
	TokenLabel string
	UserPIN    string
	// SkipLogin leaves authentication to the module (PIN pad devices).
	SkipLogin bool
}

// PKCS11Token is an open, logged-in session on a PKCS#11 token. Operations
// on one token are serialised.
type PKCS11Token struct {
	mu       sync.Mutex
	module   pkcs11Module
	session  pkcs11.SessionHandle
	loggedIn bool
	closed   bool
}

// OpenPKCS11Token loads the module, finds the token and opens a session.
func OpenPKCS11Token(opts PKCS11Options) (*PKCS11Token, error) {
	if opts.ModulePath == "" {
		return nil, fmt.Errorf("%w: module path is empty", ErrPKCS11ModuleLoad)
	}
	ctx := pkcs11.New(opts.ModulePath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrPKCS11ModuleLoad, opts.ModulePath)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("%w: %v", ErrPKCS11ModuleLoad, err)
	}

	fail := func(err error) (*PKCS11Token, error) {
		ctx.Finalize()
		ctx.Destroy()
		return nil, err
	}

	slot, err := findSlot(ctx, opts)
	if err != nil {
		return fail(err)
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return fail(fmt.Errorf("failed to open PKCS#11 session: %w", err))
	}

	t := &PKCS11Token{module: ctx, session: session}
	if !opts.SkipLogin {
		err := ctx.Login(session, pkcs11.CKU_USER, opts.UserPIN)
		var p11err pkcs11.Error
		if err != nil && !(errors.As(err, &p11err) && p11err == pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
			ctx.CloseSession(session)
			return fail(fmt.Errorf("%w: %v", ErrPKCS11LoginFailed, err))
		}
		t.loggedIn = err == nil
	}
	return t, nil
}

func findSlot(ctx *pkcs11.Ctx, opts PKCS11Options) (uint, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to list PKCS#11 slots: %w", err)
	}
	for _, slot := range slots {
		if opts.SlotNo != nil && uint(*opts.SlotNo) != slot {
			continue
		}
		if opts.TokenLabel != "" {
			info, err := ctx.GetTokenInfo(slot)
			if err != nil || info.Label != opts.TokenLabel {
				continue
			}
		}
		return slot, nil
	}
	return 0, fmt.Errorf("%w: label=%q", ErrPKCS11NoToken, opts.TokenLabel)
}

// Close logs out and releases the session and module.
func (t *PKCS11Token) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.loggedIn {
		t.module.Logout(t.session)
	}
	err := t.module.CloseSession(t.session)
	t.module.Finalize()
	t.module.Destroy()
	return err
}

// Certificate fetches the single certificate matching label and id.
func (t *PKCS11Token) Certificate(label string, id []byte) (*x509.Certificate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	objs, err := t.findObjects(pkcs11.CKO_CERTIFICATE, label, id)
	if err != nil {
		return nil, err
	}
	switch len(objs) {
	case 0:
		return nil, fmt.Errorf("%w: label=%q, id=%s", ErrPKCS11NoCert, label, hex.EncodeToString(id))
	case 1:
	default:
		return nil, fmt.Errorf("%w: label=%q, id=%s", ErrPKCS11MultipleCerts, label, hex.EncodeToString(id))
	}
	return t.readCertificate(objs[0])
}

// Certificates fetches every readable certificate on the token.
func (t *PKCS11Token) Certificates() ([]*x509.Certificate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	objs, err := t.findObjects(pkcs11.CKO_CERTIFICATE, "", nil)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for _, obj := range objs {
		cert, err := t.readCertificate(obj)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Signer returns a crypto.Signer for the private key matching label and id.
// cert supplies the public key and algorithm.
func (t *PKCS11Token) Signer(label string, id []byte, cert *x509.Certificate) (*PKCS11Signer, error) {
	if cert == nil {
		return nil, fmt.Errorf("%w: signer certificate is required", ErrPKCS11NoCert)
	}
	switch cert.PublicKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("%w: %T", ErrPKCS11UnsupportedAlg, cert.PublicKey)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	objs, err := t.findObjects(pkcs11.CKO_PRIVATE_KEY, label, id)
	if err != nil {
		return nil, err
	}
	switch len(objs) {
	case 0:
		return nil, fmt.Errorf("%w: label=%q, id=%s", ErrPKCS11NoKey, label, hex.EncodeToString(id))
	case 1:
	default:
		return nil, fmt.Errorf("%w: label=%q, id=%s", ErrPKCS11MultipleKeys, label, hex.EncodeToString(id))
	}
	return &PKCS11Signer{token: t, key: objs[0], cert: cert}, nil
}

func (t *PKCS11Token) findObjects(class uint, label string, id []byte) ([]pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, class)}
	if class == pkcs11.CKO_PRIVATE_KEY {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_SIGN, true))
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if id != nil {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}

	if err := t.module.FindObjectsInit(t.session, template); err != nil {
		return nil, fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	defer t.module.FindObjectsFinal(t.session)

	var all []pkcs11.ObjectHandle
	for {
		objs, _, err := t.module.FindObjects(t.session, 10)
		if err != nil {
			return nil, fmt.Errorf("FindObjects failed: %w", err)
		}
		if len(objs) == 0 {
			return all, nil
		}
		all = append(all, objs...)
	}
}

func (t *PKCS11Token) readCertificate(obj pkcs11.ObjectHandle) (*x509.Certificate, error) {
	attrs, err := t.module.GetAttributeValue(t.session, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("GetAttributeValue failed: %w", err)
	}
	if len(attrs) == 0 || len(attrs[0].Value) == 0 {
		return nil, errors.New("certificate has no value")
	}
	cert, err := x509.ParseCertificate(attrs[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// PKCS11Signer signs digests with a key that never leaves the token.
type PKCS11Signer struct {
	token *PKCS11Token
	key   pkcs11.ObjectHandle
	cert  *x509.Certificate
}

// Public returns the public key of the signer certificate.
func (s *PKCS11Signer) Public() crypto.PublicKey {
	return s.cert.PublicKey
}

// Sign signs a precomputed digest. RSA keys produce PKCS#1 v1.5 signatures
// and ECDSA keys ASN.1 encoded signatures.
func (s *PKCS11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	var (
		mech    uint
		payload []byte
	)
	switch s.cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if _, ok := opts.(*rsa.PSSOptions); ok {
			return nil, fmt.Errorf("%w: RSA-PSS", ErrPKCS11UnsupportedAlg)
		}
		prefix, ok := digestInfoPrefixes[opts.HashFunc()]
		if !ok {
			return nil, fmt.Errorf("%w: RSA with %v", ErrPKCS11UnsupportedAlg, opts.HashFunc())
		}
		mech = pkcs11.CKM_RSA_PKCS
		payload = append(append([]byte{}, prefix...), digest...)
	case *ecdsa.PublicKey:
		mech = pkcs11.CKM_ECDSA
		payload = digest
	default:
		return nil, fmt.Errorf("%w: %T", ErrPKCS11UnsupportedAlg, s.cert.PublicKey)
	}

	s.token.mu.Lock()
	defer s.token.mu.Unlock()

	if s.token.closed {
		return nil, fmt.Errorf("%w: token is closed", ErrPKCS11SignFailed)
	}
	if err := s.token.module.SignInit(s.token.session, []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}, s.key); err != nil {
		return nil, fmt.Errorf("%w: SignInit failed: %v", ErrPKCS11SignFailed, err)
	}
	sig, err := s.token.module.Sign(s.token.session, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: Sign failed: %v", ErrPKCS11SignFailed, err)
	}

	if mech == pkcs11.CKM_ECDSA {
		return encodeECDSASignature(sig)
	}
	return sig, nil
}

// encodeECDSASignature converts the raw r||s token output to ASN.1.
func encodeECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: malformed ECDSA signature of %d bytes", ErrPKCS11SignFailed, len(raw))
	}
	half := len(raw) / 2
	return asn1.Marshal(struct {
		R, S *big.Int
	}{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	})
}
