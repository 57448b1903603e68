package cms

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// signerRequest is everything needed to produce one SignerInfo.
type signerRequest struct {
	spec   algorithmSpec
	signer crypto.Signer
	cert   *x509.Certificate
	// digest is the message-digest attribute value.
	digest []byte
	// contentType is nil for countersignatures, which must not carry the
	// content-type attribute (RFC 5652, section 11.1).
	contentType asn1.ObjectIdentifier
	// extraSigned holds attributes computed by the engine, such as content hints.
	extraSigned []pkiasn1.Attribute
	cfg         *callConfig
}

// buildSignerInfo assembles and signs a SignerInfo and returns its DER.
func (e *Engine) buildSignerInfo(req signerRequest) ([]byte, error) {
	attrs, err := e.buildSignedAttrs(req)
	if err != nil {
		return nil, err
	}
	signedAttrs, err := marshalAttributes(attrs)
	if err != nil {
		return nil, err
	}

	sig, err := e.signMessage(req.spec, req.signer, signedAttrs)
	if err != nil {
		return nil, err
	}

	sid, version, err := buildSignerID(req.cert, req.cfg.sidType)
	if err != nil {
		return nil, err
	}
	sigAlg, err := req.spec.algorithmIdentifier()
	if err != nil {
		return nil, err
	}

	si := pkiasn1.SignerInfo{
		Version:            version,
		SID:                sid,
		DigestAlgorithm:    req.spec.digest.algorithmIdentifier(),
		SignedAttrs:        asn1.RawValue{FullBytes: pkiasn1.Retag(signedAttrs, pkiasn1.TagByteImplicit0)},
		SignatureAlgorithm: sigAlg,
		Signature:          sig,
	}
	if len(req.cfg.unsignedAttrs) > 0 {
		members := make([][]byte, 0, len(req.cfg.unsignedAttrs))
		for _, a := range req.cfg.unsignedAttrs {
			b, err := asn1.Marshal(a)
			if err != nil {
				return nil, wrapError(CodeEncoding, "marshal unsigned attribute", err)
			}
			members = append(members, b)
		}
		unsigned, err := pkiasn1.EncodeOrderedSet(asn1.ClassContextSpecific, 1, members)
		if err != nil {
			return nil, wrapError(CodeEncoding, "marshal unsigned attributes", err)
		}
		si.UnsignedAttrs = asn1.RawValue{FullBytes: unsigned}
	}

	out, err := asn1.Marshal(si)
	if err != nil {
		return nil, wrapError(CodeEncoding, "marshal SignerInfo", err)
	}
	return out, nil
}

// buildSignedAttrs returns content-type (top-level signers only),
// message-digest, signing-time and the caller's attributes.
func (e *Engine) buildSignedAttrs(req signerRequest) ([]pkiasn1.Attribute, error) {
	var attrs []pkiasn1.Attribute
	if req.contentType != nil {
		ct, err := newAttribute(pkiasn1.OIDAttributeContentType, req.contentType)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, ct)
	}
	md, err := newAttribute(pkiasn1.OIDAttributeMessageDigest, req.digest)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, md)

	caller := append(append([]pkiasn1.Attribute(nil), req.cfg.signedAttrs...), req.extraSigned...)
	if req.cfg.applySystemDate && !hasAttribute(caller, pkiasn1.OIDAttributeSigningTime) {
		st, err := newAttribute(pkiasn1.OIDAttributeSigningTime, e.now().UTC().Truncate(time.Second))
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, st)
	}
	attrs = append(attrs, caller...)

	seen := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		key := a.Type.String()
		if seen[key] {
			return nil, newError(CodeAttributeInvalid, fmt.Sprintf("signed attribute %s appears more than once", key))
		}
		seen[key] = true
	}
	return attrs, nil
}

func hasAttribute(attrs []pkiasn1.Attribute, oid asn1.ObjectIdentifier) bool {
	for _, a := range attrs {
		if a.Type.Equal(oid) {
			return true
		}
	}
	return false
}

// marshalAttributes DER-encodes attrs as a SET OF Attribute. encoding/asn1
// sorts the members, which DER requires for the bytes that get signed.
func marshalAttributes(attrs []pkiasn1.Attribute) ([]byte, error) {
	b, err := asn1.MarshalWithParams(pkiasn1.RawAttributes(attrs), "set")
	if err != nil {
		return nil, wrapError(CodeEncoding, "marshal signed attributes", err)
	}
	return b, nil
}

// signMessage signs the DER of the signed attributes. EdDSA signs the message
// itself; every other family signs its digest.
func (e *Engine) signMessage(spec algorithmSpec, signer crypto.Signer, msg []byte) ([]byte, error) {
	var sig []byte
	var err error
	switch spec.family {
	case familyEd25519, familyEd448:
		sig, err = signer.Sign(e.rand, msg, crypto.Hash(0))
	case familyRSAPSS:
		sig, err = signer.Sign(e.rand, spec.digest.sum(msg), &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       spec.digest.hash,
		})
	default:
		sig, err = signer.Sign(e.rand, spec.digest.sum(msg), spec.digest.hash)
	}
	if err != nil {
		return nil, wrapError(CodeEncoding, fmt.Sprintf("%s signing failed", spec.name), err)
	}
	return sig, nil
}

// buildSignerID builds the SignerIdentifier and returns the SignerInfo version
// required by RFC 5652: 1 for IssuerAndSerialNumber, 3 for SubjectKeyIdentifier.
func buildSignerID(cert *x509.Certificate, sidType SignerIdentifierType) (asn1.RawValue, int, error) {
	switch sidType {
	case IssuerAndSerialNumber:
		issuerSerial := pkiasn1.IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
			SerialNumber: cert.SerialNumber,
		}
		encoded, err := asn1.Marshal(issuerSerial)
		if err != nil {
			return asn1.RawValue{}, 0, wrapError(CodeEncoding, "marshal IssuerAndSerialNumber", err)
		}
		return asn1.RawValue{FullBytes: encoded}, 1, nil

	case SubjectKeyIdentifier:
		if len(cert.SubjectKeyId) == 0 {
			return asn1.RawValue{}, 0, newError(CodeKeyMaterial,
				"SubjectKeyIdentifier requested but certificate has no subjectKeyIdentifier extension")
		}
		encoded, err := asn1.Marshal(asn1.RawValue{
			Class: asn1.ClassContextSpecific,
			Tag:   0,
			Bytes: cert.SubjectKeyId,
		})
		if err != nil {
			return asn1.RawValue{}, 0, wrapError(CodeEncoding, "marshal SubjectKeyIdentifier", err)
		}
		return asn1.RawValue{FullBytes: encoded}, 3, nil

	default:
		return asn1.RawValue{}, 0, newConfigError(fmt.Sprintf("unknown SignerIdentifierType %d", sidType))
	}
}

// matchesSignerID reports whether cert is the certificate named by sid.
// The CHOICE is told apart by tag: [0] is a subject key identifier.
func matchesSignerID(sid asn1.RawValue, cert *x509.Certificate) bool {
	if sid.Class == asn1.ClassContextSpecific && sid.Tag == 0 {
		return len(cert.SubjectKeyId) > 0 && bytes.Equal(sid.Bytes, cert.SubjectKeyId)
	}
	var isn pkiasn1.IssuerAndSerialNumber
	if err := unmarshalExact(sid.FullBytes, &isn); err != nil || isn.SerialNumber == nil {
		return false
	}
	return isn.SerialNumber.Cmp(cert.SerialNumber) == 0 && bytes.Equal(isn.Issuer.FullBytes, cert.RawIssuer)
}

// findCertificate returns the first certificate named by sid.
func findCertificate(sid asn1.RawValue, certs []*x509.Certificate) *x509.Certificate {
	for _, c := range certs {
		if matchesSignerID(sid, c) {
			return c
		}
	}
	return nil
}

// parseAttributeSet decodes a signed ([0]) or unsigned ([1]) attribute set.
func parseAttributeSet(raw asn1.RawValue) ([]pkiasn1.Attribute, error) {
	members, err := pkiasn1.SetMembers(raw)
	if err != nil {
		return nil, err
	}
	attrs := make([]pkiasn1.Attribute, 0, len(members))
	for _, m := range members {
		var a pkiasn1.Attribute
		if err := unmarshalExact(m.FullBytes, &a); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

// attributeValue returns the single value of the first attribute with oid.
func attributeValue(attrs []pkiasn1.Attribute, oid asn1.ObjectIdentifier) (asn1.RawValue, bool) {
	for _, a := range attrs {
		if !a.Type.Equal(oid) {
			continue
		}
		values, err := pkiasn1.SetMembers(a.Values)
		if err != nil || len(values) == 0 {
			return asn1.RawValue{}, false
		}
		return values[0], true
	}
	return asn1.RawValue{}, false
}

// messageDigestOf returns the message-digest signed attribute of si.
func messageDigestOf(si *pkiasn1.SignerInfo) ([]byte, bool) {
	attrs, err := parseAttributeSet(si.SignedAttrs)
	if err != nil {
		return nil, false
	}
	v, ok := attributeValue(attrs, pkiasn1.OIDAttributeMessageDigest)
	if !ok {
		return nil, false
	}
	var md []byte
	if err := unmarshalExact(v.FullBytes, &md); err != nil {
		return nil, false
	}
	return md, true
}

// signingTimeOf returns the signing-time signed attribute of si, or the zero time.
func signingTimeOf(si *pkiasn1.SignerInfo) time.Time {
	attrs, err := parseAttributeSet(si.SignedAttrs)
	if err != nil {
		return time.Time{}
	}
	v, ok := attributeValue(attrs, pkiasn1.OIDAttributeSigningTime)
	if !ok {
		return time.Time{}
	}
	var t time.Time
	if err := unmarshalExact(v.FullBytes, &t); err != nil {
		return time.Time{}
	}
	return t
}

// withUnsignedAttrs returns the SignerInfo TLV raw with its unsigned
// attribute set replaced by members. Every other field is copied byte for
// byte. An empty members list removes the set.
func withUnsignedAttrs(raw []byte, members [][]byte) ([]byte, error) {
	var seq asn1.RawValue
	if err := unmarshalExact(raw, &seq); err != nil {
		return nil, err
	}
	fields, err := pkiasn1.SetMembers(seq)
	if err != nil {
		return nil, err
	}
	parts := make([][]byte, 0, len(fields)+1)
	for _, f := range fields {
		if f.Class == asn1.ClassContextSpecific && f.Tag == 1 {
			continue
		}
		parts = append(parts, f.FullBytes)
	}
	if len(members) > 0 {
		unsigned, err := pkiasn1.EncodeOrderedSet(asn1.ClassContextSpecific, 1, members)
		if err != nil {
			return nil, err
		}
		parts = append(parts, unsigned)
	}
	return pkiasn1.EncodeOrderedSet(asn1.ClassUniversal, asn1.TagSequence, parts)
}
