package keys

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/georgepadayatti/signpdf/sign/signerr"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const (
	pemCertificate = "CERTIFICATE"
	pemPrivateKey  = "PRIVATE KEY"
)

// ExtractPKCS12 decodes a PKCS#12 container and returns the first private key
// in container order together with the first certificate that matches it.
// Every certificate in the container is recorded in the chain.
//
// In strict mode the container must be a single DER encoded PFX with a MAC
// and no trailing bytes.
func ExtractPKCS12(container []byte, passphrase string, strict bool) (*Credential, error) {
	if len(container) == 0 {
		return nil, signerr.New(signerr.KindInputType, "p12 certificate expected as a non-empty buffer.")
	}

	if strict {
		if err := checkStrictPFX(container); err != nil {
			return nil, signerr.Wrap(signerr.KindCredential, err, "PKCS#12 container rejected in strict mode")
		}
	}

	key, certs, err := readBags(container, passphrase)
	if err != nil {
		return nil, signerr.Wrap(signerr.KindCredential, err, "failed to decode PKCS#12 container")
	}
	if key == nil {
		return nil, signerr.New(signerr.KindCredential, "Failed to find a private key in the PKCS#12 container.")
	}

	cred := &Credential{PrivateKey: key, Chain: certs}
	pub := key.Public()
	for _, cert := range certs {
		if cred.Certificate == nil && PublicKeyMatches(pub, cert) {
			cred.Certificate = cert
		}
	}
	if cred.Certificate == nil {
		return nil, signerr.New(signerr.KindCredential, "Failed to find a certificate that matches the private key.")
	}

	return cred, nil
}

// readBags returns the first key bag and all certificate bags in container
// order.
func readBags(container []byte, passphrase string) (crypto.Signer, []*x509.Certificate, error) {
	blocks, err := pkcs12.ToPEM(container, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, nil, err
		}
		// ToPEM only understands the common two-safe layout with shrouded
		// RSA or EC keys.
		return readChain(container, passphrase)
	}

	var key crypto.Signer
	var certs []*x509.Certificate
	for _, block := range blocks {
		switch block.Type {
		case pemCertificate:
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse certificate bag: %w", err)
			}
			certs = append(certs, cert)
		case pemPrivateKey:
			if key != nil {
				continue
			}
			k, err := parsePrivateKeyDER(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse key bag: %w", err)
			}
			key = k
		}
	}
	return key, certs, nil
}

func readChain(container []byte, passphrase string) (crypto.Signer, []*x509.Certificate, error) {
	privateKey, cert, caCerts, err := pkcs12.DecodeChain(container, passphrase)
	if err != nil {
		return nil, nil, err
	}
	key, err := toPrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}
	return key, append([]*x509.Certificate{cert}, caCerts...), nil
}

// checkStrictPFX validates the outer PFX framing:
//
//	PFX ::= SEQUENCE { version INTEGER, authSafe ContentInfo, macData MacData }
func checkStrictPFX(data []byte) error {
	input := cryptobyte.String(data)
	var pfx cryptobyte.String
	if !input.ReadASN1(&pfx, cbasn1.SEQUENCE) {
		return errors.New("PFX is not a DER SEQUENCE")
	}
	if !input.Empty() {
		return fmt.Errorf("%d trailing bytes after PFX", len(input))
	}

	var version int64
	if !pfx.ReadASN1Integer(&version) {
		return errors.New("malformed PFX version")
	}
	if version != 3 {
		return fmt.Errorf("unsupported PFX version %d", version)
	}

	var authSafe, macData cryptobyte.String
	if !pfx.ReadASN1(&authSafe, cbasn1.SEQUENCE) {
		return errors.New("malformed PFX authSafe")
	}
	if !pfx.ReadASN1(&macData, cbasn1.SEQUENCE) {
		return errors.New("PFX has no MAC")
	}
	if !pfx.Empty() {
		return errors.New("unexpected data after PFX macData")
	}
	return nil
}
