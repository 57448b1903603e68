package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
	"github.com/mdean75/cms-engine/internal/ber"
)

// Format is the classification of a blob.
type Format int

const (
	// NotASignature is returned for anything that is not a supported container.
	NotASignature Format = iota
	// SignedData is a CMS SignedData container (RFC 5652, section 5).
	SignedData
	// SignedAndEnvelopedData is a PKCS #7 signedAndEnvelopedData container
	// (RFC 2315, section 11).
	SignedAndEnvelopedData
)

// String returns the name of the format.
func (f Format) String() string {
	switch f {
	case SignedData:
		return "SignedData"
	case SignedAndEnvelopedData:
		return "SignedAndEnvelopedData"
	default:
		return "NotASignature"
	}
}

// container is a parsed signature structure. Exactly one of signed and
// enveloped is set, selected by format.
type container struct {
	format    Format
	signed    *pkiasn1.SignedData
	enveloped *pkiasn1.SignedAndEnvelopedData
}

// parseContainer normalizes blob to DER and decodes the outer ContentInfo and
// the variant it carries.
func parseContainer(blob []byte) (*container, error) {
	if len(blob) == 0 {
		return nil, newError(CodeMalformedStructure, "input is empty")
	}
	der, err := ber.NormalizeStrict(blob)
	if err != nil {
		return nil, wrapError(CodeMalformedStructure, "invalid BER/DER encoding", err)
	}

	var ci pkiasn1.ContentInfo
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return nil, wrapError(CodeMalformedStructure, "parsing ContentInfo", err)
	}
	if len(rest) > 0 {
		return nil, newError(CodeMalformedStructure, "trailing data after ContentInfo")
	}

	// ci.Content is the [0] EXPLICIT wrapper; Bytes holds the inner TLV.
	switch {
	case ci.ContentType.Equal(pkiasn1.OIDSignedData):
		var sd pkiasn1.SignedData
		if err := unmarshalExact(ci.Content.Bytes, &sd); err != nil {
			return nil, wrapError(CodeMalformedStructure, "parsing SignedData", err)
		}
		if err := checkSet(sd.SignerInfos, "signerInfos"); err != nil {
			return nil, err
		}
		return &container{format: SignedData, signed: &sd}, nil

	case ci.ContentType.Equal(pkiasn1.OIDSignedAndEnvelopedData):
		var sed pkiasn1.SignedAndEnvelopedData
		if err := unmarshalExact(ci.Content.Bytes, &sed); err != nil {
			return nil, wrapError(CodeMalformedStructure, "parsing SignedAndEnvelopedData", err)
		}
		if err := checkSet(sed.RecipientInfos, "recipientInfos"); err != nil {
			return nil, err
		}
		if err := checkSet(sed.SignerInfos, "signerInfos"); err != nil {
			return nil, err
		}
		return &container{format: SignedAndEnvelopedData, enveloped: &sed}, nil

	default:
		return nil, newError(CodeUnrecognizedFormat,
			fmt.Sprintf("content type %s is not a supported signature container", ci.ContentType))
	}
}

func unmarshalExact(b []byte, v any) error {
	rest, err := asn1.Unmarshal(b, v)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("%d bytes of trailing data", len(rest))
	}
	return nil
}

func checkSet(raw asn1.RawValue, field string) error {
	if raw.Class != asn1.ClassUniversal || raw.Tag != asn1.TagSet || !raw.IsCompound {
		return newError(CodeMalformedStructure, fmt.Sprintf("%s is not a SET", field))
	}
	return nil
}

func (c *container) signerInfoSet() asn1.RawValue {
	switch c.format {
	case SignedData:
		return c.signed.SignerInfos
	case SignedAndEnvelopedData:
		return c.enveloped.SignerInfos
	default:
		panic("cms: container has no variant")
	}
}

// signerInfos returns the raw SignerInfo TLVs in wire order.
func (c *container) signerInfos() ([][]byte, error) {
	members, err := pkiasn1.SetMembers(c.signerInfoSet())
	if err != nil {
		return nil, wrapError(CodeMalformedStructure, "splitting signerInfos", err)
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = m.FullBytes
	}
	return out, nil
}

// setSignerInfos replaces the signer set, keeping the given order.
func (c *container) setSignerInfos(infos [][]byte) error {
	set, err := pkiasn1.EncodeOrderedSet(asn1.ClassUniversal, asn1.TagSet, infos)
	if err != nil {
		return wrapError(CodeEncoding, "encoding signerInfos", err)
	}
	raw, err := pkiasn1.Decode(set)
	if err != nil {
		return wrapError(CodeEncoding, "encoding signerInfos", err)
	}
	switch c.format {
	case SignedData:
		c.signed.SignerInfos = raw
	case SignedAndEnvelopedData:
		c.enveloped.SignerInfos = raw
	default:
		panic("cms: container has no variant")
	}
	return nil
}

func (c *container) rawCertificates() []asn1.RawValue {
	switch c.format {
	case SignedData:
		return c.signed.Certificates
	case SignedAndEnvelopedData:
		return c.enveloped.Certificates
	default:
		panic("cms: container has no variant")
	}
}

// certificates decodes the embedded certificates. Other certificate choices
// (attribute certificates and the like) are skipped.
func (c *container) certificates() []*x509.Certificate {
	var certs []*x509.Certificate
	for _, raw := range c.rawCertificates() {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}

// mergeCertificates appends each certificate whose DER is not already
// present. Existing entries keep their position.
func (c *container) mergeCertificates(certs ...*x509.Certificate) int {
	existing := c.rawCertificates()
	added := 0
	for _, cert := range certs {
		if cert == nil || containsRaw(existing, cert.Raw) {
			continue
		}
		existing = append(existing, asn1.RawValue{FullBytes: cert.Raw})
		added++
	}
	switch c.format {
	case SignedData:
		c.signed.Certificates = existing
	case SignedAndEnvelopedData:
		c.enveloped.Certificates = existing
	}
	return added
}

// mergeCRLs appends each CRL whose DER is not already present.
func (c *container) mergeCRLs(crls [][]byte) {
	var list *[]asn1.RawValue
	switch c.format {
	case SignedData:
		list = &c.signed.CRLs
	case SignedAndEnvelopedData:
		list = &c.enveloped.CRLs
	default:
		panic("cms: container has no variant")
	}
	for _, crl := range crls {
		if !containsRaw(*list, crl) {
			*list = append(*list, asn1.RawValue{FullBytes: crl})
		}
	}
}

func containsRaw(list []asn1.RawValue, der []byte) bool {
	for _, r := range list {
		if bytes.Equal(r.FullBytes, der) {
			return true
		}
	}
	return false
}

// addDigestAlgorithm adds alg to digestAlgorithms unless an entry with the
// same OID exists.
func (c *container) addDigestAlgorithm(alg pkix.AlgorithmIdentifier) {
	var list *[]pkix.AlgorithmIdentifier
	switch c.format {
	case SignedData:
		list = &c.signed.DigestAlgorithms
	case SignedAndEnvelopedData:
		list = &c.enveloped.DigestAlgorithms
	default:
		panic("cms: container has no variant")
	}
	for _, a := range *list {
		if a.Algorithm.Equal(alg.Algorithm) {
			return
		}
	}
	*list = append(*list, alg)
}

// contentType returns the type of the signed content: eContentType for
// SignedData and the encrypted content's type for SignedAndEnvelopedData.
func (c *container) contentType() asn1.ObjectIdentifier {
	switch c.format {
	case SignedData:
		return c.signed.EncapContentInfo.EContentType
	case SignedAndEnvelopedData:
		return c.enveloped.EncryptedContentInfo.ContentType
	default:
		panic("cms: container has no variant")
	}
}

// embeddedContent returns the encapsulated content and whether it is present.
// SignedAndEnvelopedData never exposes content here.
func (c *container) embeddedContent() ([]byte, bool, error) {
	switch c.format {
	case SignedData:
		eci := c.signed.EncapContentInfo
		if eci.IsDetached() {
			return nil, false, nil
		}
		content, err := eContentBytes(eci.EContent)
		if err != nil {
			return nil, false, err
		}
		return content, true, nil
	case SignedAndEnvelopedData:
		return nil, false, nil
	default:
		panic("cms: container has no variant")
	}
}

// eContentBytes returns the octets of an [0] EXPLICIT eContent. CMS wraps the
// content in an OCTET STRING; PKCS #7 producers may place any type there, in
// which case its full encoding is the content.
func eContentBytes(eContent asn1.RawValue) ([]byte, error) {
	var inner asn1.RawValue
	if err := unmarshalExact(eContent.Bytes, &inner); err != nil {
		return nil, wrapError(CodeMalformedStructure, "parsing eContent", err)
	}
	if inner.Class == asn1.ClassUniversal && inner.Tag == asn1.TagOctetString && !inner.IsCompound {
		return inner.Bytes, nil
	}
	return inner.FullBytes, nil
}

// setEmbeddedContent embeds content, or removes it when content is nil.
func (c *container) setEmbeddedContent(content []byte) error {
	if c.format != SignedData {
		return nil
	}
	if content == nil {
		c.signed.EncapContentInfo.EContent = asn1.RawValue{}
		return nil
	}
	eContent, err := buildEContent(content)
	if err != nil {
		return err
	}
	c.signed.EncapContentInfo.EContent = eContent
	return nil
}

// buildEContent wraps content in an OCTET STRING inside [0] EXPLICIT.
// encoding/asn1 writes RawValue.FullBytes verbatim and ignores the explicit
// tag, so the wrapper is built here.
func buildEContent(content []byte) (asn1.RawValue, error) {
	if content == nil {
		content = []byte{}
	}
	octetString, err := asn1.Marshal(content)
	if err != nil {
		return asn1.RawValue{}, wrapError(CodeEncoding, "marshal eContent OCTET STRING", err)
	}
	explicit0, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      octetString,
	})
	if err != nil {
		return asn1.RawValue{}, wrapError(CodeEncoding, "marshal eContent [0] wrapper", err)
	}
	eContent, err := pkiasn1.Decode(explicit0)
	if err != nil {
		return asn1.RawValue{}, wrapError(CodeEncoding, "marshal eContent [0] wrapper", err)
	}
	return eContent, nil
}

// refreshVersion recomputes the SignedData version after signers were added.
func (c *container) refreshVersion() error {
	if c.format != SignedData {
		return nil
	}
	infos, err := c.signerInfos()
	if err != nil {
		return err
	}
	maxSignerVersion := 1
	for _, raw := range infos {
		var si pkiasn1.SignerInfo
		if err := unmarshalExact(raw, &si); err != nil {
			return wrapError(CodeMalformedStructure, "parsing SignerInfo", err)
		}
		if si.Version > maxSignerVersion {
			maxSignerVersion = si.Version
		}
	}
	v := computeSignedDataVersion(c.signed.EncapContentInfo.EContentType, maxSignerVersion)
	if v > c.signed.Version {
		c.signed.Version = v
	}
	return nil
}

// computeSignedDataVersion returns the SignedData version per RFC 5652,
// section 5.1. Only v1 and v3 arise on the signing path.
func computeSignedDataVersion(eContentType asn1.ObjectIdentifier, maxSignerVersion int) int {
	if maxSignerVersion == 3 || !eContentType.Equal(pkiasn1.OIDData) {
		return 3
	}
	return 1
}

// marshal re-encodes the container as a ContentInfo.
func (c *container) marshal() ([]byte, error) {
	var inner []byte
	var oid asn1.ObjectIdentifier
	var err error
	switch c.format {
	case SignedData:
		oid = pkiasn1.OIDSignedData
		inner, err = asn1.Marshal(*c.signed)
	case SignedAndEnvelopedData:
		oid = pkiasn1.OIDSignedAndEnvelopedData
		inner, err = asn1.Marshal(*c.enveloped)
	default:
		return nil, newError(CodeEncoding, "container has no variant")
	}
	if err != nil {
		return nil, wrapError(CodeEncoding, fmt.Sprintf("marshal %s", c.format), err)
	}
	return marshalContentInfo(oid, inner)
}

// marshalContentInfo wraps inner in a ContentInfo with the [0] EXPLICIT
// wrapper built by hand.
func marshalContentInfo(oid asn1.ObjectIdentifier, inner []byte) ([]byte, error) {
	ci := pkiasn1.ContentInfo{
		ContentType: oid,
		Content: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      inner,
		},
	}
	out, err := asn1.Marshal(ci)
	if err != nil {
		return nil, wrapError(CodeEncoding, "marshal ContentInfo", err)
	}
	return out, nil
}
