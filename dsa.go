package cms

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"encoding/asn1"
	"errors"
	"io"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// DSASigner adapts a *dsa.PrivateKey to crypto.Signer. The standard library
// DSA key type has no Sign method, so keys loaded from PKCS #8 or PKCS #12
// are wrapped in a DSASigner before they reach the engine.
type DSASigner struct {
	Key *dsa.PrivateKey
}

// NewDSASigner wraps key.
func NewDSASigner(key *dsa.PrivateKey) *DSASigner {
	return &DSASigner{Key: key}
}

// Public returns the DSA public key.
func (s *DSASigner) Public() crypto.PublicKey {
	return &s.Key.PublicKey
}

// Sign signs digest and returns a DER Dss-Sig-Value. The digest is truncated
// to the byte length of Q as FIPS 186-4 requires.
func (s *DSASigner) Sign(rand io.Reader, digest []byte, _ crypto.SignerOpts) ([]byte, error) {
	if s.Key == nil {
		return nil, errors.New("cms: DSA signer has no key")
	}
	digest = truncateDSADigest(&s.Key.PublicKey, digest)
	r, sv, err := dsa.Sign(rand, s.Key, digest)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(pkiasn1.DSASigValue{R: r, S: sv})
}

func truncateDSADigest(pub *dsa.PublicKey, digest []byte) []byte {
	qLen := (pub.Q.BitLen() + 7) / 8
	if len(digest) > qLen {
		return digest[:qLen]
	}
	return digest
}

func verifyDSA(pub *dsa.PublicKey, digest, sig []byte) bool {
	var v pkiasn1.DSASigValue
	rest, err := asn1.Unmarshal(sig, &v)
	if err != nil || len(rest) != 0 || v.R == nil || v.S == nil {
		return false
	}
	return dsa.Verify(pub, truncateDSADigest(pub, digest), v.R, v.S)
}
