package cms

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
	"github.com/mdean75/cms-engine/internal/ber"
)

func TestClassify(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	bob := rsaIdentity(t, "Bob")
	signed, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice)
	require.NoError(t, err)
	env, err := testEngine(t).SignAndEnvelope([]byte("x"), []*x509.Certificate{bob.Certificate}, SHA256WithRSA, alice)
	require.NoError(t, err)

	envelopedData, err := marshalContentInfo(pkiasn1.OIDEnvelopedData, []byte{0x30, 0x00})
	require.NoError(t, err)

	tests := []struct {
		name string
		blob []byte
		want Format
	}{
		{"signed data", signed, SignedData},
		{"signed and enveloped", env, SignedAndEnvelopedData},
		{"enveloped data", envelopedData, NotASignature},
		{"nil", nil, NotASignature},
		{"empty", []byte{}, NotASignature},
		{"text", []byte("hello world"), NotASignature},
		{"truncated", signed[:len(signed)-5], NotASignature},
		{"trailing data", append(append([]byte(nil), signed...), 0x00, 0x00), NotASignature},
		{"pem", pem.EncodeToMemory(&pem.Block{Type: "PKCS7", Bytes: signed}), NotASignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.blob))
			assert.Equal(t, tt.want != NotASignature, IsSign(tt.blob))
		})
	}

	_, err = Info(envelopedData)
	require.ErrorIs(t, err, ErrUnrecognizedFormat)
}

func TestClassify_BER(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	content := []byte("indefinite length")
	signed, err := testEngine(t).Sign(content, SHA256WithRSA, alice)
	require.NoError(t, err)

	indefinite := toIndefinite(t, signed)
	require.NotEqual(t, signed, indefinite)
	assert.Equal(t, SignedData, Classify(indefinite))

	got, err := ExtractContent(indefinite)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	mustVerify(t, indefinite, nil)

	out, err := testEngine(t).CosignBlob(indefinite, SHA256WithRSA, rsaIdentity(t, "Bob"))
	require.NoError(t, err)
	mustVerify(t, out, nil)
}

// toIndefinite re-encodes the outer ContentInfo with an indefinite length.
func toIndefinite(t *testing.T, der []byte) []byte {
	t.Helper()
	var outer asn1.RawValue
	_, err := asn1.Unmarshal(der, &outer)
	require.NoError(t, err)
	out := []byte{0x30, 0x80}
	out = append(out, outer.Bytes...)
	out = append(out, 0x00, 0x00)
	norm, err := ber.NormalizeStrict(out)
	require.NoError(t, err)
	require.Equal(t, der, norm)
	return out
}

func TestIsValidDataFile(t *testing.T) {
	assert.True(t, IsValidDataFile([]byte{}))
	assert.True(t, IsValidDataFile([]byte("data")))
	assert.False(t, IsValidDataFile(nil))
}

func TestSignedFileName(t *testing.T) {
	assert.Equal(t, "contract.pdf.csig", SignedFileName("contract.pdf", ""))
	assert.Equal(t, "contract.pdf_signed.csig", SignedFileName("contract.pdf", "_signed"))
	assert.Equal(t, ".csig", SignedFileName("", ""))
}

func TestExtractContent(t *testing.T) {
	alice := rsaIdentity(t, "Alice")

	signed, err := testEngine(t).Sign([]byte("payload"), SHA256WithRSA, alice)
	require.NoError(t, err)
	got, err := ExtractContent(signed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	env, err := testEngine(t).SignAndEnvelope([]byte("payload"), []*x509.Certificate{alice.Certificate}, SHA256WithRSA, alice)
	require.NoError(t, err)
	_, err = ExtractContent(env)
	require.ErrorIs(t, err, ErrNoEmbeddedContent)

	_, err = ExtractContent([]byte("nope"))
	require.ErrorIs(t, err, ErrMalformedStructure)
}

func TestExtractMimeTypeHint(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	bob := rsaIdentity(t, "Bob")
	xml := asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 10}

	plain, err := testEngine(t).Sign([]byte("<a/>"), SHA256WithRSA, alice)
	require.NoError(t, err)
	assert.Empty(t, ExtractMimeTypeHint(plain))

	// The first signer carrying a hint wins.
	out, err := testEngine(t).Cosign([]byte("<a/>"), plain, SHA256WithRSA, bob, WithContentHint("", xml))
	require.NoError(t, err)
	assert.Equal(t, "1.2.840.10003.5.109.10", ExtractMimeTypeHint(out))

	assert.Empty(t, ExtractMimeTypeHint([]byte("junk")))
}

func TestInfo(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	bob := rsaIdentity(t, "Bob")

	signed, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice, WithMode(Explicit))
	require.NoError(t, err)
	signed, err = testEngine(t).Countersign(signed, SHA256WithRSA, TreeTargets(), bob)
	require.NoError(t, err)

	info, err := Info(signed)
	require.NoError(t, err)
	assert.Equal(t, SignInfo{
		Format:      "CMS",
		Variant:     SignedData,
		ContentType: "1.2.840.113549.1.7.1",
		Signers:     1,
		Nodes:       2,
		Detached:    true,
	}, info)

	env, err := testEngine(t).SignAndEnvelope([]byte("x"), []*x509.Certificate{bob.Certificate}, SHA256WithRSA, alice)
	require.NoError(t, err)
	info, err = Info(env)
	require.NoError(t, err)
	assert.Equal(t, SignedAndEnvelopedData, info.Variant)
	assert.False(t, info.Detached)
	assert.Equal(t, 1, info.Signers)
}
