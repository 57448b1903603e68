package cms

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/ed448"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// --- Test identities ---

// rsaKeys caches generated RSA keys; generating one per test dominates the
// run time.
var (
	rsaKeysMu sync.Mutex
	rsaKeys   []*rsa.PrivateKey
)

// rsaKey returns the n-th cached 2048-bit RSA key.
func rsaKey(t testing.TB, n int) *rsa.PrivateKey {
	t.Helper()
	rsaKeysMu.Lock()
	defer rsaKeysMu.Unlock()
	for len(rsaKeys) <= n {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		rsaKeys = append(rsaKeys, k)
	}
	return rsaKeys[n]
}

var (
	identitiesMu sync.Mutex
	identities   = map[string]KeyEntry{}
)

// rsaIdentity returns a self-signed RSA key entry with the given common name.
// Every call with the same name returns the same key and certificate.
func rsaIdentity(t testing.TB, cn string) KeyEntry {
	t.Helper()
	identitiesMu.Lock()
	entry, ok := identities[cn]
	n := len(identities)
	identitiesMu.Unlock()
	if ok {
		return entry
	}
	key := rsaKey(t, n)
	cert := selfSigned(t, key.Public(), key, pkix.Name{CommonName: cn, Organization: []string{"Test Org"}})
	entry = KeyEntry{Signer: key, Certificate: cert}

	identitiesMu.Lock()
	defer identitiesMu.Unlock()
	if existing, ok := identities[cn]; ok {
		return existing
	}
	identities[cn] = entry
	return entry
}

func ecIdentity(t testing.TB, curve elliptic.Curve, cn string) KeyEntry {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return KeyEntry{Signer: key, Certificate: selfSigned(t, key.Public(), key, pkix.Name{CommonName: cn})}
}

func ed25519Identity(t testing.TB, cn string) KeyEntry {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return KeyEntry{Signer: priv, Certificate: selfSigned(t, pub, priv, pkix.Name{CommonName: cn})}
}

// ed448Identity returns an Ed448 key with a certificate issued by an RSA CA.
// crypto/x509 cannot create Ed448 certificates, so the certificate is built
// by hand.
func ed448Identity(t testing.TB, cn string) KeyEntry {
	t.Helper()
	pub, priv, err := ed448.GenerateKey(rand.Reader)
	require.NoError(t, err)
	spki, err := asn1.Marshal(pkiasn1.SubjectPublicKeyInfo{
		Algorithm: pkix.AlgorithmIdentifier{Algorithm: pkiasn1.OIDSignatureAlgorithmEd448},
		PublicKey: asn1.BitString{Bytes: pub, BitLength: 8 * len(pub)},
	})
	require.NoError(t, err)
	return KeyEntry{Signer: priv, Certificate: foreignKeyCert(t, spki, cn)}
}

// dsaIdentity returns a DSA key with a certificate issued by an RSA CA.
func dsaIdentity(t testing.TB, cn string) KeyEntry {
	t.Helper()
	var key dsa.PrivateKey
	require.NoError(t, dsa.GenerateParameters(&key.Parameters, rand.Reader, dsa.L1024N160))
	require.NoError(t, dsa.GenerateKey(&key, rand.Reader))

	params, err := asn1.Marshal(struct{ P, Q, G *big.Int }{key.P, key.Q, key.G})
	require.NoError(t, err)
	y, err := asn1.Marshal(key.Y)
	require.NoError(t, err)
	spki, err := asn1.Marshal(pkiasn1.SubjectPublicKeyInfo{
		Algorithm: pkix.AlgorithmIdentifier{
			Algorithm:  pkiasn1.OIDSignatureAlgorithmDSA,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PublicKey: asn1.BitString{Bytes: y, BitLength: 8 * len(y)},
	})
	require.NoError(t, err)
	return KeyEntry{Signer: NewDSASigner(&key), Certificate: foreignKeyCert(t, spki, cn)}
}

// selfSigned creates a minimal self-signed certificate.
func selfSigned(t testing.TB, pub crypto.PublicKey, signer crypto.Signer, subject pkix.Name) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		BasicConstraintsValid: true,
		SubjectKeyId:          serial.Bytes()[:8],
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

type tbsCertificate struct {
	SerialNumber       *big.Int
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Issuer             asn1.RawValue
	Validity           struct{ NotBefore, NotAfter time.Time }
	Subject            asn1.RawValue
	PublicKey          asn1.RawValue
}

type rawCertificate struct {
	TBS                asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
}

// foreignKeyCert issues a v1 certificate for an encoded SubjectPublicKeyInfo
// that crypto/x509 cannot sign for itself.
func foreignKeyCert(t testing.TB, spki []byte, cn string) *x509.Certificate {
	t.Helper()
	issuerKey := rsaKey(t, 0)
	issuer, err := asn1.Marshal(pkix.Name{CommonName: "Foreign Key CA"}.ToRDNSequence())
	require.NoError(t, err)
	subject, err := asn1.Marshal(pkix.Name{CommonName: cn}.ToRDNSequence())
	require.NoError(t, err)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	require.NoError(t, err)

	sigAlg := pkix.AlgorithmIdentifier{
		Algorithm:  pkiasn1.OIDSignatureAlgorithmSHA256WithRSA,
		Parameters: asn1.NullRawValue,
	}
	tbs := tbsCertificate{
		SerialNumber:       serial,
		SignatureAlgorithm: sigAlg,
		Issuer:             asn1.RawValue{FullBytes: issuer},
		Subject:            asn1.RawValue{FullBytes: subject},
		PublicKey:          asn1.RawValue{FullBytes: spki},
	}
	tbs.Validity.NotBefore = time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	tbs.Validity.NotAfter = time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	tbsDER, err := asn1.Marshal(tbs)
	require.NoError(t, err)

	h := sha256.Sum256(tbsDER)
	sig, err := rsa.SignPKCS1v15(rand.Reader, issuerKey, crypto.SHA256, h[:])
	require.NoError(t, err)
	der, err := asn1.Marshal(rawCertificate{
		TBS:                asn1.RawValue{FullBytes: tbsDER},
		SignatureAlgorithm: sigAlg,
		Signature:          asn1.BitString{Bytes: sig, BitLength: 8 * len(sig)},
	})
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// --- Engine helpers ---

// testTime is the clock of engines built by testEngine.
var testTime = time.Now().UTC().Truncate(time.Second)

func testEngine(t testing.TB) *Engine {
	return NewEngine(
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return testTime }),
	)
}

// mustVerify verifies every signature in blob without chain validation.
func mustVerify(t testing.TB, blob, content []byte) {
	t.Helper()
	require.NoError(t, Verify(blob, content, WithNoChainValidation()))
}

// mustParse parses blob as a container.
func mustParse(t testing.TB, blob []byte) *container {
	t.Helper()
	c, err := parseContainer(blob)
	require.NoError(t, err)
	return c
}

// rawSignerInfos returns the top-level SignerInfo TLVs of blob.
func rawSignerInfos(t testing.TB, blob []byte) [][]byte {
	t.Helper()
	infos, err := mustParse(t, blob).signerInfos()
	require.NoError(t, err)
	return infos
}

// shapeNode is a comparable view of a signer tree.
type shapeNode struct {
	Index    int
	Signer   string
	Children []shapeNode
}

func shape(nodes []*SignerNode) []shapeNode {
	var out []shapeNode
	for _, n := range nodes {
		s := shapeNode{Index: n.Index}
		if n.Certificate != nil {
			s.Signer = n.Certificate.Subject.CommonName
		}
		s.Children = shape(n.Children)
		out = append(out, s)
	}
	return out
}

func treeShape(t testing.TB, blob []byte) []shapeNode {
	t.Helper()
	roots, err := BuildTree(blob)
	require.NoError(t, err)
	return shape(roots)
}
