package cms

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"go.uber.org/zap"

	"github.com/mdean75/cms-engine/contenthint"
	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// Sign produces a new SignedData with a single signer over content.
//
// In Implicit mode (the default) content is embedded as eContent; in Explicit
// mode the output is detached. With WithPrecalculatedDigest, content is the
// digest itself: it is used verbatim as the message-digest attribute and the
// output is always detached.
func (e *Engine) Sign(content []byte, alg Algorithm, key KeyEntry, opts ...Option) ([]byte, error) {
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

	digest, embed, err := contentDigest(content, spec, cfg)
	if err != nil {
		return nil, err
	}
	hint, err := hintAttributes(cfg, content, cfg.precalculatedName == "")
	if err != nil {
		return nil, err
	}

	si, err := e.buildSignerInfo(signerRequest{
		spec:        spec,
		signer:      key.Signer,
		cert:        cert,
		digest:      digest,
		contentType: cfg.contentType,
		extraSigned: hint,
		cfg:         cfg,
	})
	if err != nil {
		return nil, err
	}

	eci := pkiasn1.EncapsulatedContentInfo{EContentType: cfg.contentType}
	if embed {
		if eci.EContent, err = buildEContent(content); err != nil {
			return nil, err
		}
	}

	sd := &pkiasn1.SignedData{
		DigestAlgorithms: []pkix.AlgorithmIdentifier{spec.digest.algorithmIdentifier()},
		EncapContentInfo: eci,
	}
	c := &container{format: SignedData, signed: sd}
	c.mergeCertificates(append(append([]*x509.Certificate(nil), chain...), cfg.extraCerts...)...)
	c.mergeCRLs(cfg.crls)
	if err := c.setSignerInfos([][]byte{si}); err != nil {
		return nil, err
	}
	if err := c.refreshVersion(); err != nil {
		return nil, err
	}

	out, err := c.marshal()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("signed content",
		zap.String("op", "sign"),
		zap.Stringer("algorithm", alg),
		zap.Stringer("mode", cfg.mode),
		zap.Bool("embedded", embed),
		zap.Int("size", len(out)),
	)
	return out, nil
}

// contentDigest returns the message-digest value for content and whether the
// content should be embedded.
func contentDigest(content []byte, spec algorithmSpec, cfg *callConfig) ([]byte, bool, error) {
	pre, err := cfg.precalculatedDigest(spec)
	if err != nil {
		return nil, false, err
	}
	if pre != nil {
		if len(content) != pre.size {
			return nil, false, newConfigError(fmt.Sprintf(
				"precalculated %s digest must be %d bytes, got %d", pre.name, pre.size, len(content)))
		}
		return content, false, nil
	}
	return spec.digest.sum(content), cfg.mode == Implicit, nil
}

// hintAttributes returns the detected content-hints attribute, if requested
// and the caller did not set one explicitly.
func hintAttributes(cfg *callConfig, content []byte, available bool) ([]pkiasn1.Attribute, error) {
	if !cfg.detectHint || !available || hasAttribute(cfg.signedAttrs, pkiasn1.OIDAttributeContentHint) {
		return nil, nil
	}
	oid, ok := contenthint.Detect(content)
	if !ok {
		return nil, nil
	}
	attr, err := newAttribute(pkiasn1.OIDAttributeContentHint, pkiasn1.ContentHints{ContentType: oid})
	if err != nil {
		return nil, err
	}
	return []pkiasn1.Attribute{attr}, nil
}

// oidString is a zap helper for object identifiers.
func oidString(key string, oid asn1.ObjectIdentifier) zap.Field {
	return zap.String(key, oid.String())
}
