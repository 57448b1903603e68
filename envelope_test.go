package cms

import (
	"crypto/elliptic"
	"crypto/x509"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndEnvelope_Ciphers(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	bob := rsaIdentity(t, "Bob")
	carol := rsaIdentity(t, "Carol")
	content := []byte(strings.Repeat("sealed message ", 7))

	for _, alg := range []ContentEncryptionAlgorithm{AES256CBC, AES128CBC, AES256GCM, AES128GCM} {
		t.Run(alg.String(), func(t *testing.T) {
			env, err := testEngine(t).SignAndEnvelope(content,
				[]*x509.Certificate{bob.Certificate, carol.Certificate}, SHA256WithRSA, alice,
				WithContentEncryption(alg))
			require.NoError(t, err)
			assert.Equal(t, SignedAndEnvelopedData, Classify(env))
			assert.NotContains(t, string(env), "sealed message")

			for _, r := range []KeyEntry{bob, carol} {
				plain, err := DecryptContent(env, r.Signer, r.Certificate)
				require.NoError(t, err)
				assert.Equal(t, content, plain)
			}
			mustVerify(t, env, content)
		})
	}
}

func TestSignAndEnvelope_EmptyContent(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	env, err := testEngine(t).SignAndEnvelope([]byte{}, []*x509.Certificate{alice.Certificate}, SHA256WithRSA, alice)
	require.NoError(t, err)

	plain, err := DecryptContent(env, alice.Signer, alice.Certificate)
	require.NoError(t, err)
	assert.Empty(t, plain)
	mustVerify(t, env, plain)
}

func TestSignAndEnvelope_Cosign(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	bob := rsaIdentity(t, "Bob")
	content := []byte("two signers, one recipient")

	env, err := testEngine(t).SignAndEnvelope(content, []*x509.Certificate{bob.Certificate}, SHA256WithRSA, alice)
	require.NoError(t, err)

	out, err := testEngine(t).Cosign(content, env, SHA384WithRSA, bob)
	require.NoError(t, err)
	assert.Equal(t, SignedAndEnvelopedData, Classify(out))
	assert.Len(t, treeShape(t, out), 2)
	mustVerify(t, out, content)

	// Blob-only cosigning reuses Alice's SHA-256 message digest.
	out, err = testEngine(t).CosignBlob(out, SHA256WithECDSA, ecIdentity(t, elliptic.P256(), "Carol"))
	require.NoError(t, err)
	mustVerify(t, out, content)

	plain, err := DecryptContent(out, bob.Signer, bob.Certificate)
	require.NoError(t, err)
	assert.Equal(t, content, plain)
}

func TestDecryptContent_Errors(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	bob := rsaIdentity(t, "Bob")
	env, err := testEngine(t).SignAndEnvelope([]byte("secret"), []*x509.Certificate{bob.Certificate}, SHA256WithRSA, alice)
	require.NoError(t, err)

	_, err = DecryptContent(env, alice.Signer, alice.Certificate)
	require.ErrorIs(t, err, ErrMissingCertificate)

	_, err = DecryptContent(env, alice.Signer, bob.Certificate)
	require.ErrorIs(t, err, ErrDecryption)

	ec := ecIdentity(t, elliptic.P256(), "EC Recipient")
	_, err = DecryptContent(env, ec.Signer, bob.Certificate)
	require.ErrorIs(t, err, ErrKeyMaterial)

	_, err = DecryptContent(env, bob.Signer, nil)
	require.ErrorIs(t, err, ErrKeyMaterial)

	signed, err := testEngine(t).Sign([]byte("secret"), SHA256WithRSA, alice)
	require.NoError(t, err)
	_, err = DecryptContent(signed, bob.Signer, bob.Certificate)
	require.ErrorIs(t, err, ErrUnrecognizedFormat)
}

func TestSignAndEnvelope_Errors(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	ec := ecIdentity(t, elliptic.P256(), "EC Recipient")

	_, err := testEngine(t).SignAndEnvelope([]byte("x"), nil, SHA256WithRSA, alice)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = testEngine(t).SignAndEnvelope([]byte("x"), []*x509.Certificate{ec.Certificate}, SHA256WithRSA, alice)
	require.ErrorIs(t, err, ErrKeyMaterial)

	_, err = testEngine(t).SignAndEnvelope([]byte("x"), []*x509.Certificate{nil}, SHA256WithRSA, alice)
	require.ErrorIs(t, err, ErrKeyMaterial)

	_, err = testEngine(t).SignAndEnvelope([]byte("x"), []*x509.Certificate{alice.Certificate}, SHA256WithRSA, alice,
		WithPrecalculatedDigest("SHA-256"))
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = testEngine(t).SignAndEnvelope([]byte("x"), []*x509.Certificate{alice.Certificate}, SHA256WithRSA, alice,
		WithContentEncryption(ContentEncryptionAlgorithm(42)))
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestParseContentEncryption(t *testing.T) {
	tests := []struct {
		in   string
		want ContentEncryptionAlgorithm
	}{
		{"AES-256-CBC", AES256CBC},
		{"aes128cbc", AES128CBC},
		{"aes_256_gcm", AES256GCM},
		{" AES-128-GCM ", AES128GCM},
	}
	for _, tt := range tests {
		got, err := ParseContentEncryption(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseContentEncryption("DES-EDE3-CBC")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	assert.Equal(t, "ContentEncryptionAlgorithm(42)", ContentEncryptionAlgorithm(42).String())
}

func TestPKCS7Padding(t *testing.T) {
	for n := 0; n <= 33; n++ {
		in := []byte(strings.Repeat("a", n))
		padded := pkcs7Pad(in, 16)
		assert.Zero(t, len(padded)%16)
		assert.Greater(t, len(padded), n)
		out, err := pkcs7Unpad(padded)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}

	bad := [][]byte{
		nil,
		append(make([]byte, 15), 0x00),
		append(make([]byte, 15), 0x11),
		append(make([]byte, 14), 0x01, 0x02),
	}
	for _, b := range bad {
		_, err := pkcs7Unpad(b)
		require.ErrorIs(t, err, ErrDecryption)
	}
}
