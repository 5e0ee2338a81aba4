package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/georgepadayatti/signpdf/sign/signerr"
	pkcs11 "github.com/miekg/pkcs11"
)

// PKCS#11 related errors
var (
	ErrPKCS11ModuleLoad    = errors.New("failed to load PKCS#11 module")
	ErrPKCS11NoToken       = errors.New("no matching token found")
	ErrPKCS11NoKey         = errors.New("private key not found")
	ErrPKCS11SessionFailed = errors.New("failed to open PKCS#11 session")
	ErrPKCS11LoginFailed   = errors.New("PKCS#11 login failed")
	ErrPKCS11SignFailed    = errors.New("PKCS#11 signing failed")
)

// TokenOptions selects a token, a key on it and the PIN used to log in.
type TokenOptions struct {
	ModulePath string
	// SlotNo indexes the slots that hold a token. Nil means "match by
	// TokenLabel, or the only slot".
	SlotNo     *int
	TokenLabel string
	// KeyLabel narrows the private key search. Empty takes the first signing
	// key on the token.
	KeyLabel string
	UserPIN  string
}

// TokenCredential is a Credential backed by a PKCS#11 session. Close releases
// the session.
type TokenCredential struct {
	*Credential
	session *tokenSession
}

// Close logs out and releases the PKCS#11 module.
func (t *TokenCredential) Close() error {
	return t.session.Close()
}

type tokenSession struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	mu      sync.Mutex
}

func (s *tokenSession) Close() error {
	if s == nil || s.ctx == nil {
		return nil
	}
	err := s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
	s.ctx = nil
	return err
}

// OpenTokenCredential opens a session on a PKCS#11 token and builds a
// Credential from it. The RSA private key's modulus and exponent are read
// from the token and every certificate object is checked against them; the
// first match is the signer certificate and all of them form the chain.
func OpenTokenCredential(opts TokenOptions) (*TokenCredential, error) {
	s, err := openTokenSession(opts)
	if err != nil {
		return nil, signerr.Wrap(signerr.KindCredential, err, "failed to open PKCS#11 token")
	}

	key, err := s.findRSAKey(opts.KeyLabel)
	if err != nil {
		s.Close()
		return nil, signerr.Wrap(signerr.KindCredential, err, "Failed to find a private key on the token.")
	}

	certs, err := s.allCertificates()
	if err != nil {
		s.Close()
		return nil, signerr.Wrap(signerr.KindCredential, err, "failed to read token certificates")
	}

	cred := &Credential{PrivateKey: key, Chain: certs}
	for _, cert := range certs {
		if cred.Certificate == nil && PublicKeyMatches(key.Public(), cert) {
			cred.Certificate = cert
		}
	}
	if cred.Certificate == nil {
		s.Close()
		return nil, signerr.New(signerr.KindCredential, "Failed to find a certificate that matches the private key.")
	}

	return &TokenCredential{Credential: cred, session: s}, nil
}

func openTokenSession(opts TokenOptions) (*tokenSession, error) {
	ctx := pkcs11.New(opts.ModulePath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrPKCS11ModuleLoad, opts.ModulePath)
	}
	fail := func(err error) (*tokenSession, error) {
		ctx.Finalize()
		ctx.Destroy()
		return nil, err
	}

	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("PKCS#11 initialize failed: %w", err)
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return fail(fmt.Errorf("failed to get slots: %w", err))
	}
	if len(slots) == 0 {
		return fail(fmt.Errorf("%w: no slots with tokens available", ErrPKCS11NoToken))
	}

	var slot uint
	switch {
	case opts.SlotNo != nil:
		if *opts.SlotNo < 0 || *opts.SlotNo >= len(slots) {
			return fail(fmt.Errorf("slot %d not found (only %d slots available)", *opts.SlotNo, len(slots)))
		}
		slot = slots[*opts.SlotNo]
	case opts.TokenLabel != "":
		found := false
		for _, candidate := range slots {
			info, err := ctx.GetTokenInfo(candidate)
			if err != nil {
				continue
			}
			if trimPKCS11String(info.Label) == opts.TokenLabel {
				slot, found = candidate, true
				break
			}
		}
		if !found {
			return fail(fmt.Errorf("%w: label=%q", ErrPKCS11NoToken, opts.TokenLabel))
		}
	default:
		if len(slots) > 1 {
			return fail(errors.New("multiple tokens available; specify slot number or token label"))
		}
		slot = slots[0]
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrPKCS11SessionFailed, err))
	}
	if opts.UserPIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, opts.UserPIN); err != nil {
			ctx.CloseSession(session)
			return fail(fmt.Errorf("%w: %v", ErrPKCS11LoginFailed, err))
		}
	}

	return &tokenSession{ctx: ctx, session: session}, nil
}

func (s *tokenSession) findObjects(template []*pkcs11.Attribute) ([]pkcs11.ObjectHandle, error) {
	if err := s.ctx.FindObjectsInit(s.session, template); err != nil {
		return nil, fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	defer s.ctx.FindObjectsFinal(s.session)

	var handles []pkcs11.ObjectHandle
	for {
		objs, _, err := s.ctx.FindObjects(s.session, 16)
		if err != nil {
			return nil, fmt.Errorf("FindObjects failed: %w", err)
		}
		if len(objs) == 0 {
			return handles, nil
		}
		handles = append(handles, objs...)
	}
}

func (s *tokenSession) findRSAKey(label string) (*tokenKey, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}

	handles, err := s.findObjects(template)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("%w: label=%q", ErrPKCS11NoKey, label)
	}

	attrs, err := s.ctx.GetAttributeValue(s.session, handles[0], []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("GetAttributeValue failed: %w", err)
	}
	pub, err := rsaPublicKeyFromAttributes(attrs)
	if err != nil {
		return nil, err
	}

	return &tokenKey{session: s, handle: handles[0], pub: pub}, nil
}

func rsaPublicKeyFromAttributes(attrs []*pkcs11.Attribute) (*rsa.PublicKey, error) {
	pub := &rsa.PublicKey{}
	for _, attr := range attrs {
		switch attr.Type {
		case pkcs11.CKA_MODULUS:
			pub.N = new(big.Int).SetBytes(attr.Value)
		case pkcs11.CKA_PUBLIC_EXPONENT:
			pub.E = int(new(big.Int).SetBytes(attr.Value).Int64())
		}
	}
	if pub.N == nil || pub.N.Sign() == 0 || pub.E == 0 {
		return nil, errors.New("token key has no readable modulus or exponent")
	}
	return pub, nil
}

func (s *tokenSession) allCertificates() ([]*x509.Certificate, error) {
	handles, err := s.findObjects([]*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
	})
	if err != nil {
		return nil, err
	}

	var certs []*x509.Certificate
	for _, h := range handles {
		attrs, err := s.ctx.GetAttributeValue(s.session, h, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
		})
		if err != nil || len(attrs) == 0 || len(attrs[0].Value) == 0 {
			continue
		}
		cert, err := x509.ParseCertificate(attrs[0].Value)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// tokenKey is a crypto.Signer whose private half stays on the token.
type tokenKey struct {
	session *tokenSession
	handle  pkcs11.ObjectHandle
	pub     *rsa.PublicKey
}

func (k *tokenKey) Public() crypto.PublicKey {
	return k.pub
}

// Sign produces a PKCS#1 v1.5 signature over digest with CKM_RSA_PKCS.
func (k *tokenKey) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, fmt.Errorf("%w: RSA-PSS is not supported", ErrPKCS11SignFailed)
	}
	data, err := wrapDigestInfo(opts.HashFunc(), digest)
	if err != nil {
		return nil, err
	}

	k.session.mu.Lock()
	defer k.session.mu.Unlock()

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	if err := k.session.ctx.SignInit(k.session.session, mech, k.handle); err != nil {
		return nil, fmt.Errorf("%w: SignInit failed: %v", ErrPKCS11SignFailed, err)
	}
	sig, err := k.session.ctx.Sign(k.session.session, data)
	if err != nil {
		return nil, fmt.Errorf("%w: Sign failed: %v", ErrPKCS11SignFailed, err)
	}
	return sig, nil
}

var digestInfoOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   {1, 3, 14, 3, 2, 26},
	crypto.SHA224: {2, 16, 840, 1, 101, 3, 4, 2, 4},
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

// wrapDigestInfo wraps a digest in a PKCS#1 DigestInfo structure.
func wrapDigestInfo(h crypto.Hash, digest []byte) ([]byte, error) {
	oid, ok := digestInfoOIDs[h]
	if !ok {
		return nil, fmt.Errorf("unknown digest algorithm: %v", h)
	}
	if len(digest) != h.Size() {
		return nil, fmt.Errorf("digest length %d does not match %v", len(digest), h)
	}

	type algorithmIdentifier struct {
		Algorithm  asn1.ObjectIdentifier
		Parameters asn1.RawValue `asn1:"optional"`
	}
	type digestInfo struct {
		DigestAlgorithm algorithmIdentifier
		Digest          []byte
	}

	return asn1.Marshal(digestInfo{
		DigestAlgorithm: algorithmIdentifier{
			Algorithm:  oid,
			Parameters: asn1.RawValue{Tag: asn1.TagNull},
		},
		Digest: digest,
	})
}

// trimPKCS11String trims the space padding PKCS#11 puts on fixed-size strings.
func trimPKCS11String(s string) string {
	return strings.TrimRight(s, " ")
}
