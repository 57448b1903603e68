package cms

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"hash"
	"strings"

	"github.com/cloudflare/circl/sign/ed448"
	"golang.org/x/crypto/sha3"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// signatureFamily groups signing algorithms into mutually exclusive families
// so that key-type and algorithm compatibility can be validated uniformly.
type signatureFamily int

const (
	familyRSAPKCS1 signatureFamily = iota
	familyRSAPSS
	familyECDSA
	familyDSA
	familyEd25519
	familyEd448
)

// shakeOutputSize is the SHAKE256 output length used with Ed448 (RFC 8419).
const shakeOutputSize = 64

// digestAlgorithm describes one supported message digest.
type digestAlgorithm struct {
	name    string
	oid     asn1.ObjectIdentifier
	// hash is zero for SHAKE256, which has no crypto.Hash value.
	hash    crypto.Hash
	size    int
	newHash func() hash.Hash
}

func (d *digestAlgorithm) sum(data []byte) []byte {
	h := d.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// shake256Digest adapts SHAKE256 to hash.Hash with a fixed 512-bit output.
type shake256Digest struct {
	sha3.ShakeHash
}

func newShake256Digest() hash.Hash {
	return shake256Digest{sha3.NewShake256()}
}

func (s shake256Digest) Sum(b []byte) []byte {
	out := make([]byte, shakeOutputSize)
	_, _ = s.Clone().Read(out)
	return append(b, out...)
}

func (s shake256Digest) Size() int { return shakeOutputSize }

var (
	digestSHA256   = &digestAlgorithm{"SHA-256", pkiasn1.OIDDigestAlgorithmSHA256, crypto.SHA256, sha256.Size, sha256.New}
	digestSHA384   = &digestAlgorithm{"SHA-384", pkiasn1.OIDDigestAlgorithmSHA384, crypto.SHA384, sha512.Size384, sha512.New384}
	digestSHA512   = &digestAlgorithm{"SHA-512", pkiasn1.OIDDigestAlgorithmSHA512, crypto.SHA512, sha512.Size, sha512.New}
	digestSHA3_256 = &digestAlgorithm{"SHA3-256", pkiasn1.OIDDigestAlgorithmSHA3_256, crypto.SHA3_256, 32, sha3.New256}
	digestSHA3_384 = &digestAlgorithm{"SHA3-384", pkiasn1.OIDDigestAlgorithmSHA3_384, crypto.SHA3_384, 48, sha3.New384}
	digestSHA3_512 = &digestAlgorithm{"SHA3-512", pkiasn1.OIDDigestAlgorithmSHA3_512, crypto.SHA3_512, 64, sha3.New512}
	digestSHAKE256 = &digestAlgorithm{"SHAKE256", pkiasn1.OIDDigestAlgorithmSHAKE256, 0, shakeOutputSize, newShake256Digest}
)

var digests = []*digestAlgorithm{
	digestSHA256, digestSHA384, digestSHA512,
	digestSHA3_256, digestSHA3_384, digestSHA3_512,
	digestSHAKE256,
}

// deprecatedDigestOIDs are recognised only so they can be reported by name.
var deprecatedDigestOIDs = map[string]string{
	pkiasn1.OIDDigestAlgorithmSHA1.String(): "SHA-1",
	pkiasn1.OIDDigestAlgorithmMD5.String():  "MD5",
}

func digestByOID(oid asn1.ObjectIdentifier) (*digestAlgorithm, error) {
	for _, d := range digests {
		if d.oid.Equal(oid) {
			return d, nil
		}
	}
	if name, ok := deprecatedDigestOIDs[oid.String()]; ok {
		return nil, newError(CodeUnsupportedAlgorithm, fmt.Sprintf("digest algorithm %s is not supported", name))
	}
	return nil, newError(CodeUnsupportedAlgorithm, fmt.Sprintf("unrecognized digest algorithm OID %s", oid))
}

// digestByName accepts "SHA-256", "sha256", "SHA3_384" and similar spellings.
func digestByName(name string) (*digestAlgorithm, error) {
	key := normalizeAlgorithmName(name)
	for _, d := range digests {
		if normalizeAlgorithmName(d.name) == key {
			return d, nil
		}
	}
	return nil, newError(CodeUnsupportedAlgorithm, fmt.Sprintf("unknown digest algorithm %q", name))
}

// digestName returns the display name for a digest OID, or the dotted OID.
func digestName(oid asn1.ObjectIdentifier) string {
	if d, err := digestByOID(oid); err == nil {
		return d.name
	}
	if name, ok := deprecatedDigestOIDs[oid.String()]; ok {
		return name
	}
	return oid.String()
}

// Algorithm is a signature algorithm: a signature scheme bound to the digest
// used for the message-digest attribute and for the signed attributes.
type Algorithm int

// Supported signature algorithms. The zero value is not a valid algorithm.
const (
	SHA256WithRSA Algorithm = iota + 1
	SHA384WithRSA
	SHA512WithRSA
	SHA256WithRSAPSS
	SHA384WithRSAPSS
	SHA512WithRSAPSS
	SHA256WithECDSA
	SHA384WithECDSA
	SHA512WithECDSA
	SHA3_256WithECDSA
	SHA3_384WithECDSA
	SHA3_512WithECDSA
	SHA256WithDSA
	Ed25519
	Ed448
)

// DefaultAlgorithm is used by the CLI when no algorithm is configured.
const DefaultAlgorithm = SHA256WithRSA

type algorithmSpec struct {
	name   string
	digest *digestAlgorithm
	family signatureFamily
	// sigOID is nil for RSASSA-PSS, whose identifier carries parameters.
	sigOID asn1.ObjectIdentifier
}

var algorithms = map[Algorithm]algorithmSpec{
	SHA256WithRSA:     {"SHA256withRSA", digestSHA256, familyRSAPKCS1, pkiasn1.OIDSignatureAlgorithmSHA256WithRSA},
	SHA384WithRSA:     {"SHA384withRSA", digestSHA384, familyRSAPKCS1, pkiasn1.OIDSignatureAlgorithmSHA384WithRSA},
	SHA512WithRSA:     {"SHA512withRSA", digestSHA512, familyRSAPKCS1, pkiasn1.OIDSignatureAlgorithmSHA512WithRSA},
	SHA256WithRSAPSS:  {"SHA256withRSAandMGF1", digestSHA256, familyRSAPSS, nil},
	SHA384WithRSAPSS:  {"SHA384withRSAandMGF1", digestSHA384, familyRSAPSS, nil},
	SHA512WithRSAPSS:  {"SHA512withRSAandMGF1", digestSHA512, familyRSAPSS, nil},
	SHA256WithECDSA:   {"SHA256withECDSA", digestSHA256, familyECDSA, pkiasn1.OIDSignatureAlgorithmECDSAWithSHA256},
	SHA384WithECDSA:   {"SHA384withECDSA", digestSHA384, familyECDSA, pkiasn1.OIDSignatureAlgorithmECDSAWithSHA384},
	SHA512WithECDSA:   {"SHA512withECDSA", digestSHA512, familyECDSA, pkiasn1.OIDSignatureAlgorithmECDSAWithSHA512},
	SHA3_256WithECDSA: {"SHA3-256withECDSA", digestSHA3_256, familyECDSA, pkiasn1.OIDSignatureAlgorithmECDSAWithSHA3_256},
	SHA3_384WithECDSA: {"SHA3-384withECDSA", digestSHA3_384, familyECDSA, pkiasn1.OIDSignatureAlgorithmECDSAWithSHA3_384},
	SHA3_512WithECDSA: {"SHA3-512withECDSA", digestSHA3_512, familyECDSA, pkiasn1.OIDSignatureAlgorithmECDSAWithSHA3_512},
	SHA256WithDSA:     {"SHA256withDSA", digestSHA256, familyDSA, pkiasn1.OIDSignatureAlgorithmDSAWithSHA256},
	Ed25519:           {"Ed25519", digestSHA512, familyEd25519, pkiasn1.OIDSignatureAlgorithmEd25519},
	Ed448:             {"Ed448", digestSHAKE256, familyEd448, pkiasn1.OIDSignatureAlgorithmEd448},
}

// algorithmAliases maps normalized names to algorithms. Bare family names
// resolve to the family's default digest.
var algorithmAliases = map[string]Algorithm{
	"RSA":   SHA256WithRSA,
	"DSA":   SHA256WithDSA,
	"EC":    SHA256WithECDSA,
	"ECDSA": SHA256WithECDSA,

	"SHA256WITHRSAPSS": SHA256WithRSAPSS,
	"SHA384WITHRSAPSS": SHA384WithRSAPSS,
	"SHA512WITHRSAPSS": SHA512WithRSAPSS,
	"EDDSA":            Ed25519,
}

func init() {
	for alg, spec := range algorithms {
		algorithmAliases[normalizeAlgorithmName(spec.name)] = alg
	}
}

func normalizeAlgorithmName(name string) string {
	r := strings.NewReplacer("-", "", "_", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(name)))
}

// ParseAlgorithm resolves a signature algorithm name such as "SHA256withRSA",
// "SHA3-384withECDSA" or "Ed448". Matching ignores case, '-' and '_'. The
// bare names "RSA", "DSA" and "EC" select SHA-256. Names based on SHA-1 or
// MD5 and unknown names return ErrUnsupportedAlgorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	key := normalizeAlgorithmName(name)
	if alg, ok := algorithmAliases[key]; ok {
		return alg, nil
	}
	if strings.HasPrefix(key, "SHA1") || strings.HasPrefix(key, "MD5") || strings.HasPrefix(key, "MD2") {
		return 0, newError(CodeUnsupportedAlgorithm, fmt.Sprintf("algorithm %q uses a deprecated digest", name))
	}
	return 0, newError(CodeUnsupportedAlgorithm, fmt.Sprintf("unknown signature algorithm %q", name))
}

// String returns the canonical algorithm name.
func (a Algorithm) String() string {
	if spec, ok := algorithms[a]; ok {
		return spec.name
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// DigestName returns the name of the digest used by a, such as "SHA-256".
func (a Algorithm) DigestName() string {
	if spec, ok := algorithms[a]; ok {
		return spec.digest.name
	}
	return ""
}

func (a Algorithm) spec() (algorithmSpec, error) {
	spec, ok := algorithms[a]
	if !ok {
		return algorithmSpec{}, newError(CodeUnsupportedAlgorithm, fmt.Sprintf("unsupported algorithm %d", int(a)))
	}
	return spec, nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if _, err := a.spec(); err != nil {
		return nil, err
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using ParseAlgorithm.
func (a *Algorithm) UnmarshalText(text []byte) error {
	alg, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = alg
	return nil
}

// algorithmIdentifier returns the SignerInfo signatureAlgorithm value.
func (s algorithmSpec) algorithmIdentifier() (pkix.AlgorithmIdentifier, error) {
	if s.family == familyRSAPSS {
		return rsaPSSAlgID(s.digest)
	}
	return pkix.AlgorithmIdentifier{Algorithm: s.sigOID}, nil
}

// algorithmIdentifier omits parameters per RFC 5754 and RFC 8702.
func (d *digestAlgorithm) algorithmIdentifier() pkix.AlgorithmIdentifier {
	return pkix.AlgorithmIdentifier{Algorithm: d.oid}
}

// rsaPSSAlgID returns the AlgorithmIdentifier for RSASSA-PSS with the given hash.
// The RSASSA-PSS-params structure is always included per RFC 4056.
func rsaPSSAlgID(d *digestAlgorithm) (pkix.AlgorithmIdentifier, error) {
	params := pkiasn1.RSAPSSParams{
		HashAlgorithm:    pkix.AlgorithmIdentifier{Algorithm: d.oid},
		MaskGenAlgorithm: mgf1AlgID(d.oid),
		SaltLength:       d.size,
		TrailerField:     1,
	}
	rawParams, err := asn1.Marshal(params)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "failed to marshal RSA-PSS params", err)
	}
	return pkix.AlgorithmIdentifier{
		Algorithm:  pkiasn1.OIDSignatureAlgorithmRSAPSS,
		Parameters: asn1.RawValue{FullBytes: rawParams},
	}, nil
}

// mgf1AlgID returns the AlgorithmIdentifier for MGF1 using the given hash OID.
func mgf1AlgID(hashOID asn1.ObjectIdentifier) pkix.AlgorithmIdentifier {
	innerParams, _ := asn1.Marshal(pkix.AlgorithmIdentifier{Algorithm: hashOID})
	return pkix.AlgorithmIdentifier{
		Algorithm:  pkiasn1.OIDMGF1,
		Parameters: asn1.RawValue{FullBytes: innerParams},
	}
}

// checkKeyFamily reports whether pub can produce signatures of family f.
func checkKeyFamily(f signatureFamily, pub crypto.PublicKey) error {
	ok := false
	switch pub.(type) {
	case *rsa.PublicKey:
		ok = f == familyRSAPKCS1 || f == familyRSAPSS
	case *ecdsa.PublicKey:
		ok = f == familyECDSA
	case *dsa.PublicKey:
		ok = f == familyDSA
	case ed25519.PublicKey:
		ok = f == familyEd25519
	case ed448.PublicKey:
		ok = f == familyEd448
	}
	if !ok {
		return newError(CodeKeyMaterial, fmt.Sprintf("key type %T cannot sign with this algorithm", pub))
	}
	return nil
}

// verifier describes how to check a SignerInfo signature: the family and
// the digest applied to the signed attributes.
type verifier struct {
	family signatureFamily
	digest *digestAlgorithm
}

// resolveVerifier maps a SignerInfo's signatureAlgorithm and digestAlgorithm
// to a verifier. Generic key OIDs (rsaEncryption, id-ecPublicKey, id-dsa)
// take the digest from the digestAlgorithm field.
func resolveVerifier(sigAlg pkix.AlgorithmIdentifier, digestOID asn1.ObjectIdentifier) (verifier, error) {
	fieldDigest, err := digestByOID(digestOID)
	if err != nil {
		return verifier{}, err
	}
	switch {
	case sigAlg.Algorithm.Equal(pkiasn1.OIDSignatureAlgorithmRSA):
		return verifier{familyRSAPKCS1, fieldDigest}, nil
	case sigAlg.Algorithm.Equal(pkiasn1.OIDSignatureAlgorithmECPublicKey):
		return verifier{familyECDSA, fieldDigest}, nil
	case sigAlg.Algorithm.Equal(pkiasn1.OIDSignatureAlgorithmDSA):
		return verifier{familyDSA, fieldDigest}, nil
	case sigAlg.Algorithm.Equal(pkiasn1.OIDSignatureAlgorithmRSAPSS):
		var params pkiasn1.RSAPSSParams
		if _, err := asn1.Unmarshal(sigAlg.Parameters.FullBytes, &params); err != nil {
			return verifier{}, wrapError(CodeMalformedStructure, "invalid RSA-PSS parameters", err)
		}
		d, err := digestByOID(params.HashAlgorithm.Algorithm)
		if err != nil {
			return verifier{}, err
		}
		return verifier{familyRSAPSS, d}, nil
	}
	for _, spec := range algorithms {
		if spec.sigOID != nil && spec.sigOID.Equal(sigAlg.Algorithm) {
			return verifier{spec.family, spec.digest}, nil
		}
	}
	return verifier{}, newError(CodeUnsupportedAlgorithm,
		fmt.Sprintf("unrecognized signature algorithm OID %s", sigAlg.Algorithm))
}

// signatureName returns a display name for a SignerInfo's algorithms.
func signatureName(sigAlg pkix.AlgorithmIdentifier, digestOID asn1.ObjectIdentifier) string {
	v, err := resolveVerifier(sigAlg, digestOID)
	if err != nil {
		return sigAlg.Algorithm.String()
	}
	for alg, spec := range algorithms {
		if spec.family == v.family && spec.digest == v.digest {
			return alg.String()
		}
	}
	return sigAlg.Algorithm.String()
}
