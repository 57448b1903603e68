package cms

import (
	"bytes"
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign/ed448"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// VerifyOption configures verification behavior.
type VerifyOption func(*verifyConfig)

type verifyConfig struct {
	roots      *x509.CertPool
	noChain    bool
	verifyTime time.Time
	verifyOpts *x509.VerifyOptions
}

// WithSystemTrustStore uses the system root certificate store for chain validation.
func WithSystemTrustStore() VerifyOption {
	return func(c *verifyConfig) {
		// nil roots causes x509.Certificate.Verify to use the system store.
		c.roots = nil
	}
}

// WithTrustRoots uses the given certificate pool as the set of trust anchors.
func WithTrustRoots(pool *x509.CertPool) VerifyOption {
	return func(c *verifyConfig) {
		c.roots = pool
	}
}

// WithVerifyOptions provides full control over x509 verification parameters.
// This overrides any roots or time set by other options.
func WithVerifyOptions(opts x509.VerifyOptions) VerifyOption {
	return func(c *verifyConfig) {
		c.verifyOpts = &opts
	}
}

// WithNoChainValidation disables certificate chain validation. Only the
// cryptographic signatures are verified.
func WithNoChainValidation() VerifyOption {
	return func(c *verifyConfig) {
		c.noChain = true
	}
}

// WithVerifyTime sets the reference time for certificate validity checks.
// Defaults to the current time.
func WithVerifyTime(t time.Time) VerifyOption {
	return func(c *verifyConfig) {
		c.verifyTime = t
	}
}

// Verify checks every signer in blob, countersignatures included. Top-level
// signers are checked against content, or against the embedded content when
// content is nil. Each countersignature is checked against the signature of
// the signer it is attached to.
//
// SignedAndEnvelopedData always needs the decrypted content; see
// DecryptContent.
func Verify(blob, content []byte, opts ...VerifyOption) error {
	cfg := &verifyConfig{}
	for _, o := range opts {
		o(cfg)
	}
	c, err := parseContainer(blob)
	if err != nil {
		return err
	}
	if content == nil {
		embedded, ok, err := c.embeddedContent()
		if err != nil {
			return err
		}
		if !ok {
			return newError(CodeNoEmbeddedContent, "no content to verify against; pass the detached content")
		}
		content = embedded
	}

	roots, err := c.signerTree()
	if err != nil {
		return err
	}
	v := &treeVerifier{
		certs:       c.certificates(),
		contentType: c.contentType(),
		cfg:         cfg,
	}
	for _, r := range roots {
		if err := v.verifyNode(r, content, true); err != nil {
			return err
		}
	}
	return nil
}

type treeVerifier struct {
	certs       []*x509.Certificate
	contentType asn1.ObjectIdentifier
	cfg         *verifyConfig
}

// verifyNode verifies n over message and then its countersignatures over
// n's signature.
func (v *treeVerifier) verifyNode(n *treeNode, message []byte, root bool) error {
	if err := v.verifySigner(&n.info, message, root); err != nil {
		var e *Error
		if errors.As(err, &e) {
			return wrapError(e.Code, fmt.Sprintf("signer %d: %s", n.index, e.Message), e.Cause)
		}
		return err
	}
	for _, child := range n.children {
		if err := v.verifyNode(child, n.info.Signature, false); err != nil {
			return err
		}
	}
	return nil
}

func (v *treeVerifier) verifySigner(si *pkiasn1.SignerInfo, message []byte, root bool) error {
	cert := findCertificate(si.SID, v.certs)
	if cert == nil {
		return newError(CodeMissingCertificate, "signer certificate is not embedded")
	}
	pub, err := certificatePublicKey(cert)
	if err != nil {
		return wrapError(CodeKeyMaterial, "reading signer public key", err)
	}
	sv, err := resolveVerifier(si.SignatureAlgorithm, si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	contentDigest, err := digestByOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}

	signed := message
	if len(si.SignedAttrs.FullBytes) > 0 {
		// The signature covers the attributes re-tagged as SET.
		signed = pkiasn1.Retag(si.SignedAttrs.FullBytes, pkiasn1.TagByteSet)
		var expectType asn1.ObjectIdentifier
		if root {
			expectType = v.contentType
		}
		if err := validateSignedAttrs(si, contentDigest.sum(message), expectType); err != nil {
			return err
		}
	}
	if err := verifySignature(pub, sv, signed, si.Signature); err != nil {
		return err
	}

	if !v.cfg.noChain {
		if err := validateChain(cert, v.certs, v.cfg); err != nil {
			return err
		}
	}
	return nil
}

// validateSignedAttrs checks the message-digest attribute against digest.
// For top-level signers contentType is the expected content-type attribute;
// countersignatures pass nil and must not carry one.
func validateSignedAttrs(si *pkiasn1.SignerInfo, digest []byte, contentType asn1.ObjectIdentifier) error {
	attrs, err := parseAttributeSet(si.SignedAttrs)
	if err != nil {
		return wrapError(CodeAttributeInvalid, "parsing signed attributes", err)
	}

	md, ok := messageDigestOf(si)
	if !ok {
		return newError(CodeAttributeInvalid, "mandatory message-digest signed attribute is missing")
	}
	if !bytes.Equal(md, digest) {
		return newError(CodeInvalidSignature, "message-digest attribute does not match the computed digest")
	}

	ctValue, hasCT := attributeValue(attrs, pkiasn1.OIDAttributeContentType)
	if contentType == nil {
		if hasCT {
			return newError(CodeAttributeInvalid, "countersignature carries a content-type attribute")
		}
		return nil
	}
	if !hasCT {
		return newError(CodeAttributeInvalid, "mandatory content-type signed attribute is missing")
	}
	var oid asn1.ObjectIdentifier
	if err := unmarshalExact(ctValue.FullBytes, &oid); err != nil {
		return wrapError(CodeAttributeInvalid, "parsing content-type attribute value", err)
	}
	if !oid.Equal(contentType) {
		return newError(CodeAttributeInvalid,
			fmt.Sprintf("content-type attribute %s does not match content type %s", oid, contentType))
	}
	return nil
}

// verifySignature checks sig over msg. EdDSA verifies msg itself; every
// other family verifies its digest.
func verifySignature(pub crypto.PublicKey, v verifier, msg, sig []byte) error {
	ok := false
	switch v.family {
	case familyRSAPKCS1:
		if k, isRSA := pub.(*rsa.PublicKey); isRSA {
			ok = rsa.VerifyPKCS1v15(k, v.digest.hash, v.digest.sum(msg), sig) == nil
		}
	case familyRSAPSS:
		if k, isRSA := pub.(*rsa.PublicKey); isRSA {
			ok = rsa.VerifyPSS(k, v.digest.hash, v.digest.sum(msg), sig, &rsa.PSSOptions{
				SaltLength: rsa.PSSSaltLengthAuto,
				Hash:       v.digest.hash,
			}) == nil
		}
	case familyECDSA:
		if k, isEC := pub.(*ecdsa.PublicKey); isEC {
			ok = ecdsa.VerifyASN1(k, v.digest.sum(msg), sig)
		}
	case familyDSA:
		if k, isDSA := pub.(*dsa.PublicKey); isDSA {
			ok = verifyDSA(k, v.digest.sum(msg), sig)
		}
	case familyEd25519:
		if k, isEd := pub.(ed25519.PublicKey); isEd {
			ok = ed25519.Verify(k, msg, sig)
		}
	case familyEd448:
		if k, isEd := pub.(ed448.PublicKey); isEd {
			ok = ed448.Verify(k, msg, sig, "")
		}
	}
	if !ok {
		return newError(CodeInvalidSignature, fmt.Sprintf("signature verification failed for %T key", pub))
	}
	return nil
}

// validateChain verifies that cert chains to a trusted root using the
// embedded certificates as intermediates.
func validateChain(cert *x509.Certificate, embedded []*x509.Certificate, cfg *verifyConfig) error {
	if cfg.verifyOpts != nil {
		if _, err := cert.Verify(*cfg.verifyOpts); err != nil {
			return wrapError(CodeCertificateChain, "certificate chain validation failed", err)
		}
		return nil
	}

	intermediates := x509.NewCertPool()
	for _, c := range embedded {
		if !bytes.Equal(c.Raw, cert.Raw) {
			intermediates.AddCert(c)
		}
	}
	opts := x509.VerifyOptions{
		Roots:         cfg.roots,
		Intermediates: intermediates,
		CurrentTime:   cfg.verifyTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.Verify(opts); err != nil {
		return wrapError(CodeCertificateChain, "certificate chain validation failed", err)
	}
	return nil
}
