package cms

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/cloudflare/circl/sign/ed448"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// KeyEntry is a private key together with its certificate chain, as handed
// over by a keystore.
type KeyEntry struct {
	// Signer produces the signature value.
	Signer crypto.Signer
	// Certificate is the signer's end-entity certificate. When nil, Chain[0]
	// is used.
	Certificate *x509.Certificate
	// Chain is the certificate chain starting at the end-entity certificate.
	// When empty, the chain is just Certificate.
	Chain []*x509.Certificate
}

// resolve applies the chain fallback rules and checks that the key matches
// both the certificate and the algorithm family.
func (k KeyEntry) resolve(spec algorithmSpec) (*x509.Certificate, []*x509.Certificate, error) {
	if k.Signer == nil {
		return nil, nil, newError(CodeKeyMaterial, "key entry has no signer")
	}
	cert := k.Certificate
	if cert == nil && len(k.Chain) > 0 {
		cert = k.Chain[0]
	}
	if cert == nil {
		return nil, nil, newError(CodeKeyMaterial, "key entry has no certificate")
	}
	chain := k.Chain
	if len(chain) == 0 {
		chain = []*x509.Certificate{cert}
	} else if !chain[0].Equal(cert) {
		chain = append([]*x509.Certificate{cert}, chain...)
	}

	pub := k.Signer.Public()
	if err := checkKeyFamily(spec.family, pub); err != nil {
		return nil, nil, err
	}
	certPub, err := certificatePublicKey(cert)
	if err != nil {
		return nil, nil, wrapError(CodeKeyMaterial, "cannot read certificate public key", err)
	}
	if !publicKeysEqual(pub, certPub) {
		return nil, nil, newError(CodeKeyMaterial, "private key does not match the certificate")
	}
	return cert, chain, nil
}

// certificatePublicKey returns cert's public key. crypto/x509 does not decode
// Ed448 keys, so those are read from the raw SubjectPublicKeyInfo.
func certificatePublicKey(cert *x509.Certificate) (crypto.PublicKey, error) {
	if cert.PublicKey != nil {
		return cert.PublicKey, nil
	}
	var spki pkiasn1.SubjectPublicKeyInfo
	if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return nil, err
	}
	if spki.Algorithm.Algorithm.Equal(pkiasn1.OIDSignatureAlgorithmEd448) {
		raw := spki.PublicKey.RightAlign()
		if len(raw) != ed448.PublicKeySize {
			return nil, fmt.Errorf("ed448 public key has %d bytes", len(raw))
		}
		return ed448.PublicKey(raw), nil
	}
	return nil, fmt.Errorf("unsupported public key algorithm %s", spki.Algorithm.Algorithm)
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	if da, ok := a.(*dsa.PublicKey); ok {
		db, ok := b.(*dsa.PublicKey)
		return ok && da.Y.Cmp(db.Y) == 0 && da.P.Cmp(db.P) == 0 &&
			da.Q.Cmp(db.Q) == 0 && da.G.Cmp(db.G) == 0
	}
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}
