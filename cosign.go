package cms

import (
	"bytes"
	"crypto/x509"

	"go.uber.org/zap"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// Cosign adds a top-level signer over content to an existing SignedData or
// SignedAndEnvelopedData. Existing signers keep their exact encoding, the
// signer's certificates are merged without duplicates, and the output has
// the same variant as the input.
//
// For SignedData, Explicit mode removes any embedded content and Implicit
// mode embeds content when the input was detached. Content that differs from
// the embedded content is rejected. With WithPrecalculatedDigest, content is
// the digest, it must match any embedded content, and the output is
// detached as in Explicit mode.
//
// Input is normalized to DER before it is extended, so existing signers are
// byte-identical to the DER form of a BER input.
//
// A nil content is the blob-only form; see CosignBlob.
func (e *Engine) Cosign(content, blob []byte, alg Algorithm, key KeyEntry, opts ...Option) ([]byte, error) {
	if content == nil {
		return e.CosignBlob(blob, alg, key, opts...)
	}
	spec, err := alg.spec()
	if err != nil {
		return nil, err
	}
	cfg, err := newCallConfig(opts)
	if err != nil {
		return nil, err
	}
	cert, chain, err := key.resolve(spec)
	if err != nil {
		return nil, err
	}
	c, err := parseContainer(blob)
	if err != nil {
		return nil, err
	}
	embedded, hasEmbedded, err := c.embeddedContent()
	if err != nil {
		return nil, err
	}

	digest, embed, err := contentDigest(content, spec, cfg)
	if err != nil {
		return nil, err
	}
	precalculated := cfg.precalculatedName != ""
	switch {
	case precalculated:
		if hasEmbedded && !bytes.Equal(spec.digest.sum(embedded), digest) {
			return nil, newConfigError("precalculated digest does not match the embedded content")
		}
	case hasEmbedded && !bytes.Equal(embedded, content):
		return nil, newConfigError("content does not match the embedded content")
	}

	hint, err := hintAttributes(cfg, content, !precalculated)
	if err != nil {
		return nil, err
	}
	if err := e.appendSigner(c, signerRequest{
		spec:        spec,
		signer:      key.Signer,
		cert:        cert,
		digest:      digest,
		contentType: c.contentType(),
		extraSigned: hint,
		cfg:         cfg,
	}, chain); err != nil {
		return nil, err
	}

	switch {
	case precalculated || cfg.mode == Explicit:
		err = c.setEmbeddedContent(nil)
	case embed && !hasEmbedded:
		err = c.setEmbeddedContent(content)
	}
	if err != nil {
		return nil, err
	}
	return e.finishCosign(c, alg, cfg)
}

// CosignBlob adds a top-level signer when only the existing blob is
// available. The digest comes from the embedded content; for detached or
// enveloped input it is taken from the message-digest attribute of an
// existing top-level signer that used the same digest algorithm. Otherwise
// ErrNoEmbeddedContent is returned.
//
// WithPrecalculatedDigest is not accepted here and returns
// ErrInvalidConfiguration. Explicit mode removes embedded content.
func (e *Engine) CosignBlob(blob []byte, alg Algorithm, key KeyEntry, opts ...Option) ([]byte, error) {
	spec, err := alg.spec()
	if err != nil {
		return nil, err
	}
	cfg, err := newCallConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.precalculatedName != "" {
		return nil, newConfigError("a precalculated digest requires the content; use Cosign")
	}
	cert, chain, err := key.resolve(spec)
	if err != nil {
		return nil, err
	}
	c, err := parseContainer(blob)
	if err != nil {
		return nil, err
	}
	embedded, hasEmbedded, err := c.embeddedContent()
	if err != nil {
		return nil, err
	}

	var digest []byte
	if hasEmbedded {
		digest = spec.digest.sum(embedded)
	} else if digest, err = existingDigest(c, spec.digest); err != nil {
		return nil, err
	}

	hint, err := hintAttributes(cfg, embedded, hasEmbedded)
	if err != nil {
		return nil, err
	}
	if err := e.appendSigner(c, signerRequest{
		spec:        spec,
		signer:      key.Signer,
		cert:        cert,
		digest:      digest,
		contentType: c.contentType(),
		extraSigned: hint,
		cfg:         cfg,
	}, chain); err != nil {
		return nil, err
	}
	if cfg.mode == Explicit {
		if err := c.setEmbeddedContent(nil); err != nil {
			return nil, err
		}
	}
	return e.finishCosign(c, alg, cfg)
}

// existingDigest returns the message-digest attribute of the first
// top-level signer that used d.
func existingDigest(c *container, d *digestAlgorithm) ([]byte, error) {
	infos, err := c.signerInfos()
	if err != nil {
		return nil, err
	}
	for _, raw := range infos {
		var si pkiasn1.SignerInfo
		if err := unmarshalExact(raw, &si); err != nil {
			return nil, wrapError(CodeMalformedStructure, "parsing SignerInfo", err)
		}
		if !si.DigestAlgorithm.Algorithm.Equal(d.oid) {
			continue
		}
		if md, ok := messageDigestOf(&si); ok {
			return md, nil
		}
	}
	return nil, newError(CodeNoEmbeddedContent,
		"content is not embedded and no existing signer used "+d.name)
}

// appendSigner builds a SignerInfo and appends it after the existing signers.
func (e *Engine) appendSigner(c *container, req signerRequest, chain []*x509.Certificate) error {
	si, err := e.buildSignerInfo(req)
	if err != nil {
		return err
	}
	infos, err := c.signerInfos()
	if err != nil {
		return err
	}
	if err := c.setSignerInfos(append(infos, si)); err != nil {
		return err
	}
	c.addDigestAlgorithm(req.spec.digest.algorithmIdentifier())
	c.mergeCertificates(append(append([]*x509.Certificate(nil), chain...), req.cfg.extraCerts...)...)
	c.mergeCRLs(req.cfg.crls)
	return nil
}

func (e *Engine) finishCosign(c *container, alg Algorithm, cfg *callConfig) ([]byte, error) {
	if err := c.refreshVersion(); err != nil {
		return nil, err
	}
	out, err := c.marshal()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("cosigned",
		zap.String("op", "cosign"),
		zap.Stringer("algorithm", alg),
		zap.Stringer("mode", cfg.mode),
		zap.Stringer("format", c.format),
		oidString("contentType", c.contentType()),
	)
	return out, nil
}
