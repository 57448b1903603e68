package cms

import (
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

func TestSign_HelloWorldImplicit(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	content := []byte("hello world")

	out, err := testEngine(t).Sign(content, SHA256WithRSA, alice)
	require.NoError(t, err)

	assert.Equal(t, SignedData, Classify(out))
	got, err := ExtractContent(out)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	roots, err := BuildTree(out)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	n := roots[0]
	assert.Equal(t, 0, n.Index)
	assert.True(t, n.IsLeaf())
	assert.Equal(t, "CN=Alice,O=Test Org", n.Subject)
	assert.Equal(t, "SHA-256", n.DigestAlgorithm)
	assert.Equal(t, "SHA256withRSA", n.SignatureAlgorithm)
	assert.True(t, testTime.Equal(n.SigningTime))
	assert.True(t, n.Certificate.Equal(alice.Certificate))

	c := mustParse(t, out)
	assert.Equal(t, 1, c.signed.Version)
	require.Len(t, c.signed.DigestAlgorithms, 1)
	assert.True(t, c.signed.DigestAlgorithms[0].Algorithm.Equal(pkiasn1.OIDDigestAlgorithmSHA256))

	mustVerify(t, out, nil)
}

func TestSign_Explicit(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	content := []byte("detached payload")

	out, err := testEngine(t).Sign(content, SHA256WithRSA, alice, WithMode(Explicit))
	require.NoError(t, err)

	_, err = ExtractContent(out)
	require.ErrorIs(t, err, ErrNoEmbeddedContent)

	info, err := Info(out)
	require.NoError(t, err)
	assert.True(t, info.Detached)

	err = Verify(out, nil, WithNoChainValidation())
	require.ErrorIs(t, err, ErrNoEmbeddedContent)
	mustVerify(t, out, content)
}

func TestSign_EmptyContent(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	out, err := testEngine(t).Sign([]byte{}, SHA256WithRSA, alice)
	require.NoError(t, err)

	got, err := ExtractContent(out)
	require.NoError(t, err)
	assert.Empty(t, got)

	info, err := Info(out)
	require.NoError(t, err)
	assert.False(t, info.Detached)
	mustVerify(t, out, nil)
}

func TestSign_Algorithms(t *testing.T) {
	rsaKey := rsaIdentity(t, "RSA Signer")
	tests := []struct {
		alg Algorithm
		key func(t *testing.T) KeyEntry
	}{
		{SHA256WithRSA, func(*testing.T) KeyEntry { return rsaKey }},
		{SHA384WithRSA, func(*testing.T) KeyEntry { return rsaKey }},
		{SHA512WithRSA, func(*testing.T) KeyEntry { return rsaKey }},
		{SHA256WithRSAPSS, func(*testing.T) KeyEntry { return rsaKey }},
		{SHA384WithRSAPSS, func(*testing.T) KeyEntry { return rsaKey }},
		{SHA512WithRSAPSS, func(*testing.T) KeyEntry { return rsaKey }},
		{SHA256WithECDSA, func(t *testing.T) KeyEntry { return ecIdentity(t, elliptic.P256(), "P-256") }},
		{SHA384WithECDSA, func(t *testing.T) KeyEntry { return ecIdentity(t, elliptic.P384(), "P-384") }},
		{SHA512WithECDSA, func(t *testing.T) KeyEntry { return ecIdentity(t, elliptic.P521(), "P-521") }},
		{SHA3_256WithECDSA, func(t *testing.T) KeyEntry { return ecIdentity(t, elliptic.P256(), "SHA3 P-256") }},
		{SHA3_384WithECDSA, func(t *testing.T) KeyEntry { return ecIdentity(t, elliptic.P384(), "SHA3 P-384") }},
		{SHA3_512WithECDSA, func(t *testing.T) KeyEntry { return ecIdentity(t, elliptic.P521(), "SHA3 P-521") }},
		{SHA256WithDSA, func(t *testing.T) KeyEntry { return dsaIdentity(t, "DSA Signer") }},
		{Ed25519, func(t *testing.T) KeyEntry { return ed25519Identity(t, "Ed25519 Signer") }},
		{Ed448, func(t *testing.T) KeyEntry { return ed448Identity(t, "Ed448 Signer") }},
	}
	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			key := tt.key(t)
			content := []byte("payload for " + tt.alg.String())

			out, err := testEngine(t).Sign(content, tt.alg, key)
			require.NoError(t, err)
			mustVerify(t, out, nil)

			roots, err := BuildTree(out)
			require.NoError(t, err)
			require.Len(t, roots, 1)
			assert.Equal(t, tt.alg.String(), roots[0].SignatureAlgorithm)
			assert.Equal(t, tt.alg.DigestName(), roots[0].DigestAlgorithm)
			require.NotNil(t, roots[0].Certificate)
			assert.Equal(t, key.Certificate.Subject.CommonName, roots[0].Certificate.Subject.CommonName)

			// A second signer of the same algorithm must verify too.
			out, err = testEngine(t).Cosign(content, out, tt.alg, key)
			require.NoError(t, err)
			mustVerify(t, out, nil)
		})
	}
}

func TestSign_RSAPSSParameters(t *testing.T) {
	out, err := testEngine(t).Sign([]byte("pss"), SHA384WithRSAPSS, rsaIdentity(t, "Alice"))
	require.NoError(t, err)

	var si pkiasn1.SignerInfo
	require.NoError(t, unmarshalExact(rawSignerInfos(t, out)[0], &si))
	assert.True(t, si.SignatureAlgorithm.Algorithm.Equal(pkiasn1.OIDSignatureAlgorithmRSAPSS))
	var params pkiasn1.RSAPSSParams
	_, err = asn1.Unmarshal(si.SignatureAlgorithm.Parameters.FullBytes, &params)
	require.NoError(t, err)
	assert.True(t, params.HashAlgorithm.Algorithm.Equal(pkiasn1.OIDDigestAlgorithmSHA384))
	assert.True(t, params.MaskGenAlgorithm.Algorithm.Equal(pkiasn1.OIDMGF1))
	assert.Equal(t, 48, params.SaltLength)
}

func TestSign_PrecalculatedDigest(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	content := []byte("digest me elsewhere")
	digest := sha256.Sum256(content)

	out, err := testEngine(t).Sign(digest[:], SHA256WithRSA, alice, WithPrecalculatedDigest("SHA-256"))
	require.NoError(t, err)
	info, err := Info(out)
	require.NoError(t, err)
	assert.True(t, info.Detached)
	mustVerify(t, out, content)

	opts, err := ParseExtraParams(map[string]string{
		ParamPrecalculatedHashAlgorithm: "sha256",
		ParamMode:                       "implicit",
	})
	require.NoError(t, err)
	out, err = testEngine(t).Sign(digest[:], SHA256WithRSA, alice, opts...)
	require.NoError(t, err)
	_, err = ExtractContent(out)
	require.ErrorIs(t, err, ErrNoEmbeddedContent)
	mustVerify(t, out, content)
}

func TestSign_PrecalculatedDigestErrors(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	digest := sha256.Sum256([]byte("x"))

	_, err := testEngine(t).Sign(digest[:20], SHA256WithRSA, alice, WithPrecalculatedDigest("SHA-256"))
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = testEngine(t).Sign(digest[:], SHA256WithRSA, alice, WithPrecalculatedDigest("SHA-512"))
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = testEngine(t).Sign(digest[:], SHA256WithRSA, alice, WithPrecalculatedDigest("ROT13"))
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = testEngine(t).Sign(digest[:], SHA256WithRSA, alice, WithPrecalculatedDigest(" "))
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSign_SigningTime(t *testing.T) {
	alice := rsaIdentity(t, "Alice")

	out, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice, WithApplySystemDate(false))
	require.NoError(t, err)
	roots, err := BuildTree(out)
	require.NoError(t, err)
	assert.True(t, roots[0].SigningTime.IsZero())

	custom := time.Date(2020, 5, 17, 8, 30, 0, 0, time.UTC)
	out, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice,
		WithSignedAttribute(pkiasn1.OIDAttributeSigningTime, custom))
	require.NoError(t, err)
	roots, err = BuildTree(out)
	require.NoError(t, err)
	assert.True(t, custom.Equal(roots[0].SigningTime))
	mustVerify(t, out, nil)
}

func TestSign_SignedAttributes(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	oid := asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}

	out, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice, WithSignedAttribute(oid, "custom value"))
	require.NoError(t, err)
	mustVerify(t, out, nil)

	var si pkiasn1.SignerInfo
	require.NoError(t, unmarshalExact(rawSignerInfos(t, out)[0], &si))
	attrs, err := parseAttributeSet(si.SignedAttrs)
	require.NoError(t, err)
	v, ok := attributeValue(attrs, oid)
	require.True(t, ok)
	var s string
	require.NoError(t, unmarshalExact(v.FullBytes, &s))
	assert.Equal(t, "custom value", s)

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice,
		WithSignedAttribute(pkiasn1.OIDAttributeMessageDigest, []byte{1}))
	require.ErrorIs(t, err, ErrAttributeInvalid)

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice,
		WithSignedAttribute(pkiasn1.OIDAttributeContentType, pkiasn1.OIDData))
	require.ErrorIs(t, err, ErrAttributeInvalid)

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice,
		WithSignedAttribute(oid, "a"), WithSignedAttribute(oid, "b"))
	require.ErrorIs(t, err, ErrAttributeInvalid)
}

func TestSign_UnsignedAttributes(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	oid := asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 2}

	out, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice, WithUnsignedAttribute(oid, []byte{0xCA, 0xFE}))
	require.NoError(t, err)
	mustVerify(t, out, nil)

	var si pkiasn1.SignerInfo
	require.NoError(t, unmarshalExact(rawSignerInfos(t, out)[0], &si))
	attrs, err := parseAttributeSet(si.UnsignedAttrs)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.True(t, attrs[0].Type.Equal(oid))

	roots, err := BuildTree(out)
	require.NoError(t, err)
	assert.True(t, roots[0].IsLeaf())

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice,
		WithUnsignedAttribute(pkiasn1.OIDAttributeCounterSign, []byte{1}))
	require.ErrorIs(t, err, ErrAttributeInvalid)
}

func TestSign_SubjectKeyIdentifier(t *testing.T) {
	alice := rsaIdentity(t, "Alice")

	out, err := testEngine(t).Sign([]byte("ski"), SHA256WithRSA, alice, WithSignerIdentifier(SubjectKeyIdentifier))
	require.NoError(t, err)
	mustVerify(t, out, nil)

	c := mustParse(t, out)
	assert.Equal(t, 3, c.signed.Version)
	var si pkiasn1.SignerInfo
	require.NoError(t, unmarshalExact(rawSignerInfos(t, out)[0], &si))
	assert.Equal(t, 3, si.Version)
	assert.Equal(t, asn1.ClassContextSpecific, si.SID.Class)

	roots, err := BuildTree(out)
	require.NoError(t, err)
	require.NotNil(t, roots[0].Certificate)

	noSKI := *alice.Certificate
	noSKI.SubjectKeyId = nil
	_, err = testEngine(t).Sign([]byte("ski"), SHA256WithRSA,
		KeyEntry{Signer: alice.Signer, Certificate: &noSKI}, WithSignerIdentifier(SubjectKeyIdentifier))
	require.ErrorIs(t, err, ErrKeyMaterial)
}

func TestSign_ContentType(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	tstInfo := asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	out, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice, WithContentType(tstInfo))
	require.NoError(t, err)
	mustVerify(t, out, nil)

	info, err := Info(out)
	require.NoError(t, err)
	assert.Equal(t, tstInfo.String(), info.ContentType)
	assert.Equal(t, 3, mustParse(t, out).signed.Version)

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice, WithContentType(nil))
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSign_ContentHint(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	hintOID := asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 3}

	out, err := testEngine(t).Sign([]byte("<html></html>"), SHA256WithRSA, alice,
		WithContentHint("index page", hintOID))
	require.NoError(t, err)
	assert.Equal(t, hintOID.String(), ExtractMimeTypeHint(out))
	mustVerify(t, out, nil)

	pdf := []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")
	out, err = testEngine(t).Sign(pdf, SHA256WithRSA, alice, WithDetectedContentHint())
	require.NoError(t, err)
	assert.Equal(t, "1.2.840.10003.5.109.1", ExtractMimeTypeHint(out))

	out, err = testEngine(t).Sign([]byte{0x00, 0x01, 0xfe}, SHA256WithRSA, alice, WithDetectedContentHint())
	require.NoError(t, err)
	assert.Empty(t, ExtractMimeTypeHint(out))

	_, err = testEngine(t).Sign(pdf, SHA256WithRSA, alice, WithContentHint("", nil))
	require.ErrorIs(t, err, ErrAttributeInvalid)
}

func TestSign_CertificatesAndCRLs(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	ca := rsaIdentity(t, "Root CA")
	alice.Chain = []*x509.Certificate{alice.Certificate, ca.Certificate}

	crl, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}, selfSignedCA(t, ca), ca.Signer)
	require.NoError(t, err)

	out, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice,
		AddCertificate(ca.Certificate), AddCRL(crl), AddCRL(crl))
	require.NoError(t, err)

	c := mustParse(t, out)
	assert.Len(t, c.signed.Certificates, 2)
	require.Len(t, c.signed.CRLs, 1)
	assert.Equal(t, crl, c.signed.CRLs[0].FullBytes)
	mustVerify(t, out, nil)

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice, AddCertificate(nil), AddCRL(nil))
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

// selfSignedCA returns a CA certificate for key's key, usable as a CRL issuer.
func selfSignedCA(t *testing.T, key KeyEntry) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               key.Certificate.Subject,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCRLSign | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          []byte{9, 9, 9},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Signer.Public(), key.Signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestSign_KeyErrors(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	bob := rsaIdentity(t, "Bob")

	_, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, KeyEntry{Signer: alice.Signer, Certificate: bob.Certificate})
	require.ErrorIs(t, err, ErrKeyMaterial)

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithECDSA, alice)
	require.ErrorIs(t, err, ErrKeyMaterial)

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, KeyEntry{Certificate: alice.Certificate})
	require.ErrorIs(t, err, ErrKeyMaterial)

	_, err = testEngine(t).Sign([]byte("x"), SHA256WithRSA, KeyEntry{Signer: alice.Signer})
	require.ErrorIs(t, err, ErrKeyMaterial)

	_, err = testEngine(t).Sign([]byte("x"), Algorithm(0), alice)
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	// Chain[0] stands in for a missing Certificate.
	out, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, KeyEntry{
		Signer: alice.Signer,
		Chain:  []*x509.Certificate{alice.Certificate},
	})
	require.NoError(t, err)
	mustVerify(t, out, nil)
}

func TestSign_Logs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEngine(WithLogger(zap.New(core)))

	_, err := e.Sign([]byte("x"), SHA256WithRSA, rsaIdentity(t, "Alice"), WithMode(Explicit))
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("op", "sign")).All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "SHA256withRSA", fields["algorithm"])
	assert.Equal(t, "explicit", fields["mode"])
	assert.Equal(t, false, fields["embedded"])
}
