package cms

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"hash"
	"io"
	"strings"

	"go.uber.org/zap"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// ContentEncryptionAlgorithm identifies the symmetric cipher used to encrypt
// SignedAndEnvelopedData content.
type ContentEncryptionAlgorithm int

const (
	// AES256CBC selects AES-256 in CBC mode with PKCS#7 padding. This is the default.
	AES256CBC ContentEncryptionAlgorithm = iota
	// AES128CBC selects AES-128 in CBC mode with PKCS#7 padding.
	AES128CBC
	// AES256GCM selects AES-256 in GCM mode.
	AES256GCM
	// AES128GCM selects AES-128 in GCM mode.
	AES128GCM
)

// gcmNonceSize is the standard 12-byte nonce for AES-GCM per RFC 5084.
const gcmNonceSize = 12

type contentCipher struct {
	name   string
	oid    asn1.ObjectIdentifier
	keyLen int
	gcm    bool
}

var contentCiphers = map[ContentEncryptionAlgorithm]contentCipher{
	AES256CBC: {"AES-256-CBC", pkiasn1.OIDContentEncryptionAES256CBC, 32, false},
	AES128CBC: {"AES-128-CBC", pkiasn1.OIDContentEncryptionAES128CBC, 16, false},
	AES256GCM: {"AES-256-GCM", pkiasn1.OIDContentEncryptionAES256GCM, 32, true},
	AES128GCM: {"AES-128-GCM", pkiasn1.OIDContentEncryptionAES128GCM, 16, true},
}

func (a ContentEncryptionAlgorithm) spec() (contentCipher, error) {
	cc, ok := contentCiphers[a]
	if !ok {
		return contentCipher{}, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("unsupported content encryption algorithm %d", int(a)))
	}
	return cc, nil
}

// String returns the cipher name, such as "AES-256-CBC".
func (a ContentEncryptionAlgorithm) String() string {
	if cc, ok := contentCiphers[a]; ok {
		return cc.name
	}
	return fmt.Sprintf("ContentEncryptionAlgorithm(%d)", int(a))
}

// ParseContentEncryption resolves a cipher name such as "AES-256-CBC" or
// "aes128gcm".
func ParseContentEncryption(name string) (ContentEncryptionAlgorithm, error) {
	key := normalizeAlgorithmName(name)
	for alg, cc := range contentCiphers {
		if normalizeAlgorithmName(cc.name) == key {
			return alg, nil
		}
	}
	return 0, newError(CodeUnsupportedAlgorithm, fmt.Sprintf("unknown content encryption algorithm %q", strings.TrimSpace(name)))
}

// SignAndEnvelope signs content and encrypts it for recipients, producing a
// PKCS #7 SignedAndEnvelopedData. Recipients must hold RSA keys; the content
// key is transported with RSA-OAEP and SHA-256. The signature covers the
// plaintext and is not itself encrypted.
func (e *Engine) SignAndEnvelope(content []byte, recipients []*x509.Certificate, alg Algorithm, key KeyEntry, opts ...Option) ([]byte, error) {
	spec, err := alg.spec()
	if err != nil {
		return nil, err
	}
	cfg, err := newCallConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.precalculatedName != "" {
		return nil, newConfigError("enveloping requires the content, not a precalculated digest")
	}
	if len(recipients) == 0 {
		return nil, newConfigError("at least one recipient is required")
	}
	cert, chain, err := key.resolve(spec)
	if err != nil {
		return nil, err
	}
	cc, err := cfg.encryption.spec()
	if err != nil {
		return nil, err
	}

	cek, ciphertext, encAlg, err := encryptContent(e.rand, content, cc)
	if err != nil {
		return nil, err
	}
	ris := make([][]byte, 0, len(recipients))
	for _, r := range recipients {
		ri, err := buildRSARecipientInfo(e.rand, r, cek)
		if err != nil {
			return nil, err
		}
		ris = append(ris, ri)
	}
	riSet, err := pkiasn1.EncodeOrderedSet(asn1.ClassUniversal, asn1.TagSet, ris)
	if err != nil {
		return nil, wrapError(CodeEncoding, "encoding recipientInfos", err)
	}

	hint, err := hintAttributes(cfg, content, true)
	if err != nil {
		return nil, err
	}
	si, err := e.buildSignerInfo(signerRequest{
		spec:        spec,
		signer:      key.Signer,
		cert:        cert,
		digest:      spec.digest.sum(content),
		contentType: cfg.contentType,
		extraSigned: hint,
		cfg:         cfg,
	})
	if err != nil {
		return nil, err
	}

	c := &container{
		format: SignedAndEnvelopedData,
		enveloped: &pkiasn1.SignedAndEnvelopedData{
			Version:          1,
			RecipientInfos:   asn1.RawValue{FullBytes: riSet},
			DigestAlgorithms: []pkix.AlgorithmIdentifier{spec.digest.algorithmIdentifier()},
			EncryptedContentInfo: pkiasn1.EncryptedContentInfo{
				ContentType:                cfg.contentType,
				ContentEncryptionAlgorithm: encAlg,
				EncryptedContent: asn1.RawValue{
					Class: asn1.ClassContextSpecific,
					Tag:   0,
					Bytes: ciphertext,
				},
			},
		},
	}
	c.mergeCertificates(append(append([]*x509.Certificate(nil), chain...), cfg.extraCerts...)...)
	c.mergeCRLs(cfg.crls)
	if err := c.setSignerInfos([][]byte{si}); err != nil {
		return nil, err
	}

	out, err := c.marshal()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("signed and enveloped",
		zap.String("op", "envelope"),
		zap.Stringer("algorithm", alg),
		zap.Stringer("cipher", cfg.encryption),
		zap.Int("recipients", len(recipients)),
	)
	return out, nil
}

// DecryptContent decrypts the content of a SignedAndEnvelopedData for the
// recipient identified by cert. It returns ErrMissingCertificate when no
// recipient info matches cert and ErrDecryption when the key or the cipher
// text is wrong. Verify the result with Verify(blob, plaintext).
func DecryptContent(blob []byte, key crypto.PrivateKey, cert *x509.Certificate) ([]byte, error) {
	if cert == nil {
		return nil, newError(CodeKeyMaterial, "recipient certificate is nil")
	}
	c, err := parseContainer(blob)
	if err != nil {
		return nil, err
	}
	if c.format != SignedAndEnvelopedData {
		return nil, newError(CodeUnrecognizedFormat, fmt.Sprintf("%s carries no encrypted content", c.format))
	}

	ris, err := pkiasn1.SetMembers(c.enveloped.RecipientInfos)
	if err != nil {
		return nil, wrapError(CodeMalformedStructure, "parsing recipientInfos", err)
	}
	for _, ri := range ris {
		// Only KeyTransRecipientInfo (a SEQUENCE) is produced or understood here.
		if ri.Class != asn1.ClassUniversal || ri.Tag != asn1.TagSequence {
			continue
		}
		cek, err := tryDecryptKTRI(ri, key, cert)
		if err != nil {
			return nil, err
		}
		if cek != nil {
			return decryptContent(c.enveloped.EncryptedContentInfo, cek)
		}
	}
	return nil, newError(CodeMissingCertificate, "no recipient info matches the certificate")
}

// tryDecryptKTRI decrypts the content key of a KeyTransRecipientInfo.
// It returns (nil, nil) when the recipient identifier does not match cert.
func tryDecryptKTRI(ri asn1.RawValue, key crypto.PrivateKey, cert *x509.Certificate) ([]byte, error) {
	var ktri pkiasn1.KeyTransRecipientInfo
	if err := unmarshalExact(ri.FullBytes, &ktri); err != nil {
		return nil, wrapError(CodeMalformedStructure, "parsing KeyTransRecipientInfo", err)
	}
	if !matchesSignerID(ktri.RID, cert) {
		return nil, nil
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, newError(CodeKeyMaterial, fmt.Sprintf("recipient key must be RSA, got %T", key))
	}

	alg := ktri.KeyEncryptionAlgorithm
	var cek []byte
	var err error
	switch {
	case alg.Algorithm.Equal(pkiasn1.OIDKeyTransportRSAOAEP):
		h, herr := oaepHash(alg)
		if herr != nil {
			return nil, herr
		}
		cek, err = rsa.DecryptOAEP(h, rand.Reader, rsaKey, ktri.EncryptedKey, nil)
	case alg.Algorithm.Equal(pkiasn1.OIDSignatureAlgorithmRSA):
		cek, err = rsa.DecryptPKCS1v15(rand.Reader, rsaKey, ktri.EncryptedKey)
	default:
		return nil, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("unsupported key transport algorithm %s", alg.Algorithm))
	}
	if err != nil {
		return nil, wrapError(CodeDecryption, "content key decryption failed", err)
	}
	return cek, nil
}

// oaepHash returns the OAEP hash named by the parameters. Absent parameters
// mean SHA-1 (RFC 4055, section 4.1).
func oaepHash(alg pkix.AlgorithmIdentifier) (hash.Hash, error) {
	if len(alg.Parameters.FullBytes) == 0 {
		return sha1.New(), nil //nolint:gosec
	}
	var params pkiasn1.RSAOAEPParams
	if err := unmarshalExact(alg.Parameters.FullBytes, &params); err != nil {
		return nil, wrapError(CodeMalformedStructure, "parsing RSAES-OAEP parameters", err)
	}
	if len(params.HashAlgorithm.Algorithm) == 0 || params.HashAlgorithm.Algorithm.Equal(pkiasn1.OIDDigestAlgorithmSHA1) {
		return sha1.New(), nil //nolint:gosec
	}
	d, err := digestByOID(params.HashAlgorithm.Algorithm)
	if err != nil {
		return nil, err
	}
	return d.newHash(), nil
}

// encryptContent generates a random content key and encrypts plaintext.
func encryptContent(random io.Reader, plaintext []byte, cc contentCipher) (cek, ciphertext []byte, algID pkix.AlgorithmIdentifier, err error) {
	cek = make([]byte, cc.keyLen)
	if _, err = io.ReadFull(random, cek); err != nil {
		return nil, nil, pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "generating content key", err)
	}
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, nil, pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "creating AES cipher", err)
	}

	var params []byte
	if cc.gcm {
		nonce := make([]byte, gcmNonceSize)
		if _, err = io.ReadFull(random, nonce); err != nil {
			return nil, nil, pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "generating AES-GCM nonce", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, nil, pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "creating AES-GCM cipher", err)
		}
		ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
		params, err = asn1.Marshal(pkiasn1.GCMParameters{Nonce: nonce})
		if err != nil {
			return nil, nil, pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "marshaling GCM parameters", err)
		}
	} else {
		iv := make([]byte, aes.BlockSize)
		if _, err = io.ReadFull(random, iv); err != nil {
			return nil, nil, pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "generating AES-CBC IV", err)
		}
		padded := pkcs7Pad(plaintext, aes.BlockSize)
		ciphertext = make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
		// The IV is the OCTET STRING parameter.
		params, err = asn1.Marshal(iv)
		if err != nil {
			return nil, nil, pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "marshaling AES-CBC IV", err)
		}
	}
	algID = pkix.AlgorithmIdentifier{Algorithm: cc.oid, Parameters: asn1.RawValue{FullBytes: params}}
	return cek, ciphertext, algID, nil
}

// decryptContent decrypts the ciphertext in eci using cek.
func decryptContent(eci pkiasn1.EncryptedContentInfo, cek []byte) ([]byte, error) {
	ciphertext, err := eci.ContentOctets()
	if err != nil {
		return nil, wrapError(CodeMalformedStructure, "parsing encrypted content", err)
	}
	var cc *contentCipher
	for _, candidate := range contentCiphers {
		if candidate.oid.Equal(eci.ContentEncryptionAlgorithm.Algorithm) {
			cc = &candidate
			break
		}
	}
	if cc == nil {
		return nil, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("unsupported content encryption algorithm %s", eci.ContentEncryptionAlgorithm.Algorithm))
	}
	if len(cek) != cc.keyLen {
		return nil, newError(CodeDecryption, fmt.Sprintf("%s needs a %d-byte key, got %d", cc.name, cc.keyLen, len(cek)))
	}
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, wrapError(CodeDecryption, "creating AES cipher", err)
	}
	params := eci.ContentEncryptionAlgorithm.Parameters.FullBytes

	if cc.gcm {
		var gp pkiasn1.GCMParameters
		if err := unmarshalExact(params, &gp); err != nil {
			return nil, wrapError(CodeMalformedStructure, "parsing GCM parameters", err)
		}
		gcm, err := cipher.NewGCMWithNonceSize(block, len(gp.Nonce))
		if err != nil {
			return nil, wrapError(CodeDecryption, "creating AES-GCM cipher", err)
		}
		plaintext, err := gcm.Open(nil, gp.Nonce, ciphertext, nil)
		if err != nil {
			return nil, wrapError(CodeDecryption, "AES-GCM authentication failed", err)
		}
		return plaintext, nil
	}

	var iv []byte
	if err := unmarshalExact(params, &iv); err != nil {
		return nil, wrapError(CodeMalformedStructure, "parsing AES-CBC IV", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, newError(CodeMalformedStructure,
			fmt.Sprintf("AES-CBC IV must be %d bytes, got %d", aes.BlockSize, len(iv)))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, newError(CodeDecryption, "AES-CBC ciphertext length is not a multiple of the block size")
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext)
}

// buildRSARecipientInfo builds a KeyTransRecipientInfo for an RSA recipient.
func buildRSARecipientInfo(random io.Reader, cert *x509.Certificate, cek []byte) ([]byte, error) {
	if cert == nil {
		return nil, newError(CodeKeyMaterial, "recipient certificate is nil")
	}
	rsaPub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, newError(CodeKeyMaterial, fmt.Sprintf("recipient %s has a %T key; only RSA is supported",
			cert.Subject, cert.PublicKey))
	}
	encCEK, err := rsa.EncryptOAEP(digestSHA256.newHash(), random, rsaPub, cek, nil)
	if err != nil {
		return nil, wrapError(CodeEncoding, "RSA-OAEP content key encryption failed", err)
	}
	rid, _, err := buildSignerID(cert, IssuerAndSerialNumber)
	if err != nil {
		return nil, err
	}
	oaepAlgID, err := rsaOAEPAlgID()
	if err != nil {
		return nil, err
	}
	der, err := asn1.Marshal(pkiasn1.KeyTransRecipientInfo{
		Version:                0,
		RID:                    rid,
		KeyEncryptionAlgorithm: oaepAlgID,
		EncryptedKey:           encCEK,
	})
	if err != nil {
		return nil, wrapError(CodeEncoding, "marshaling KeyTransRecipientInfo", err)
	}
	return der, nil
}

// rsaOAEPAlgID returns the AlgorithmIdentifier for RSA-OAEP with SHA-256 per RFC 4055.
func rsaOAEPAlgID() (pkix.AlgorithmIdentifier, error) {
	rawParams, err := asn1.Marshal(pkiasn1.RSAOAEPParams{
		HashAlgorithm:    digestSHA256.algorithmIdentifier(),
		MaskGenAlgorithm: mgf1AlgID(digestSHA256.oid),
	})
	if err != nil {
		return pkix.AlgorithmIdentifier{}, wrapError(CodeEncoding, "marshaling RSAES-OAEP params", err)
	}
	return pkix.AlgorithmIdentifier{
		Algorithm:  pkiasn1.OIDKeyTransportRSAOAEP,
		Parameters: asn1.RawValue{FullBytes: rawParams},
	}, nil
}

// pkcs7Pad pads plaintext to a multiple of blockSize using PKCS#7.
func pkcs7Pad(plaintext []byte, blockSize int) []byte {
	pad := blockSize - len(plaintext)%blockSize
	return append(bytes.Clone(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)
}

// pkcs7Unpad removes PKCS#7 padding from plaintext.
func pkcs7Unpad(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, newError(CodeDecryption, "PKCS#7 unpad: empty input")
	}
	pad := int(plaintext[len(plaintext)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plaintext) {
		return nil, newError(CodeDecryption, fmt.Sprintf("PKCS#7 unpad: invalid padding byte %d", pad))
	}
	for _, b := range plaintext[len(plaintext)-pad:] {
		if int(b) != pad {
			return nil, newError(CodeDecryption, "PKCS#7 unpad: inconsistent padding bytes")
		}
	}
	return plaintext[:len(plaintext)-pad], nil
}
