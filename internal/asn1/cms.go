package pkiasn1

import (
	"crypto/x509/pkix"
	"encoding/asn1"
)

// ContentInfo is the top-level CMS wrapper structure as defined in RFC 5652,
// section 3. It associates a content type OID with the content itself.
type ContentInfo struct {
	// ContentType identifies the type of the encapsulated content.
	ContentType asn1.ObjectIdentifier
	// Content holds the DER encoding of the content, wrapped in an explicit [0] tag.
	Content asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData represents the CMS SignedData content type as defined in RFC 5652,
// section 5.1.
//
// SignerInfos is kept as the raw SET TLV. encoding/asn1 sorts SET OF members
// when marshalling, which would reorder signers; callers split and rebuild the
// set with SetMembers and EncodeOrderedSet instead.
type SignedData struct {
	// Version is the syntax version number.
	Version int
	// DigestAlgorithms is the SET of digest algorithm identifiers used by the
	// top-level SignerInfos.
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	// EncapContentInfo holds the signed content and its type OID.
	EncapContentInfo EncapsulatedContentInfo
	// Certificates is an optional ordered list of certificate choices, encoded
	// with IMPLICIT tag [0].
	Certificates []asn1.RawValue `asn1:"optional,tag:0"`
	// CRLs is an optional list of revocation information choices, encoded with
	// IMPLICIT tag [1].
	CRLs []asn1.RawValue `asn1:"optional,tag:1"`
	// SignerInfos is the raw SET OF SignerInfo.
	SignerInfos asn1.RawValue
}

// EncapsulatedContentInfo holds the content being signed and its type identifier,
// as defined in RFC 5652, section 5.2.
//
// When EContent is absent (zero-value RawValue), the signature is detached and
// the content exists outside this structure. When EContent is present but contains
// a zero-length OCTET STRING, the signature covers a 0-byte payload. These two
// cases are structurally distinct and must never be conflated.
type EncapsulatedContentInfo struct {
	// EContentType identifies the content type of the encapsulated content.
	EContentType asn1.ObjectIdentifier
	// EContent holds the content as an OCTET STRING, wrapped in an explicit [0] tag.
	EContent asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// IsDetached reports whether the EncapsulatedContentInfo represents a detached
// signature, meaning EContent is absent from the encoding.
func (e *EncapsulatedContentInfo) IsDetached() bool {
	return len(e.EContent.FullBytes) == 0
}

// SignedAndEnvelopedData is the PKCS #7 signed-and-enveloped content type
// (RFC 2315, section 11). Recipient infos and signer infos are kept raw so
// that their order survives a re-encode.
type SignedAndEnvelopedData struct {
	// Version is always 1.
	Version int
	// RecipientInfos is the raw SET OF RecipientInfo.
	RecipientInfos asn1.RawValue
	// DigestAlgorithms is the SET of digest algorithms used by the signers.
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	// EncryptedContentInfo carries the encrypted content.
	EncryptedContentInfo EncryptedContentInfo
	// Certificates is an optional list of certificates, IMPLICIT [0].
	Certificates []asn1.RawValue `asn1:"optional,tag:0"`
	// CRLs is an optional list of revocation information choices, IMPLICIT [1].
	CRLs []asn1.RawValue `asn1:"optional,tag:1"`
	// SignerInfos is the raw SET OF SignerInfo.
	SignerInfos asn1.RawValue
}

// EncryptedContentInfo carries encrypted content and the algorithm used to
// encrypt it (RFC 5652, section 6.1).
type EncryptedContentInfo struct {
	ContentType                asn1.ObjectIdentifier
	ContentEncryptionAlgorithm pkix.AlgorithmIdentifier
	// EncryptedContent is [0] IMPLICIT OCTET STRING. BER producers may use the
	// constructed form; see ContentOctets.
	EncryptedContent asn1.RawValue `asn1:"optional,tag:0"`
}

// ContentOctets returns the encrypted bytes, joining the segments of a
// constructed encoding.
func (e *EncryptedContentInfo) ContentOctets() ([]byte, error) {
	if !e.EncryptedContent.IsCompound {
		return e.EncryptedContent.Bytes, nil
	}
	segments, err := SetMembers(e.EncryptedContent)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, s := range segments {
		out = append(out, s.Bytes...)
	}
	return out, nil
}

// KeyTransRecipientInfo is the RSA key transport recipient structure
// (RFC 5652, section 6.2.1).
type KeyTransRecipientInfo struct {
	Version                int
	RID                    asn1.RawValue
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedKey           []byte
}

// SignerInfo holds the per-signer signature information as defined in RFC 5652,
// section 5.3.
type SignerInfo struct {
	// Version is 1 with IssuerAndSerialNumber and 3 with SubjectKeyIdentifier.
	Version int
	// SID is the SignerIdentifier CHOICE, kept raw for tag disambiguation.
	SID asn1.RawValue
	// DigestAlgorithm identifies the digest algorithm.
	DigestAlgorithm pkix.AlgorithmIdentifier
	// SignedAttrs is the optional SET of signed attributes, encoded with IMPLICIT
	// tag [0]. The signature covers the same bytes re-tagged as SET (0x31).
	SignedAttrs asn1.RawValue `asn1:"optional,tag:0"`
	// SignatureAlgorithm identifies the signature algorithm and its parameters.
	SignatureAlgorithm pkix.AlgorithmIdentifier
	// Signature is the signature value.
	Signature []byte
	// UnsignedAttrs is the optional SET of unsigned attributes, IMPLICIT [1].
	// Countersignatures live here.
	UnsignedAttrs asn1.RawValue `asn1:"optional,tag:1"`
}

// Attribute represents a single CMS attribute as defined in RFC 5652, section 5.3.
type Attribute struct {
	// Type identifies the attribute.
	Type asn1.ObjectIdentifier
	// Values holds the raw DER encoding of the SET OF attribute values.
	Values asn1.RawValue `asn1:"set"`
}

// RawAttributes is a SET OF Attribute as it appears on the wire.
type RawAttributes []Attribute

// ContentHints is the value of the id-aa-contentHint attribute (RFC 2634,
// section 2.9).
type ContentHints struct {
	ContentDescription string `asn1:"optional,utf8"`
	ContentType        asn1.ObjectIdentifier
}
