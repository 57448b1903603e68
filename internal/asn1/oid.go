// Package pkiasn1 defines the ASN.1 wire-format types and OID constants for
// CMS SignedData and the PKCS #7 SignedAndEnvelopedData content type.
package pkiasn1

import "encoding/asn1"

// Content type OIDs defined in RFC 5652, section 3, and RFC 2315.
var (
	// OIDData identifies raw encapsulated content with no cryptographic protection.
	OIDData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}

	// OIDSignedData identifies the SignedData content type.
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	// OIDEnvelopedData identifies the EnvelopedData content type.
	OIDEnvelopedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 3}

	// OIDSignedAndEnvelopedData identifies the PKCS #7 signedAndEnvelopedData
	// content type.
	OIDSignedAndEnvelopedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 4}
)

// Attribute OIDs defined in RFC 5652, section 11, PKCS #9 and RFC 2634.
var (
	// OIDAttributeContentType identifies the content-type signed attribute.
	// This attribute is mandatory whenever any signed attributes are present,
	// except on countersignatures where it must be absent.
	OIDAttributeContentType = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}

	// OIDAttributeMessageDigest identifies the message-digest signed attribute.
	OIDAttributeMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}

	// OIDAttributeSigningTime identifies the signing-time signed attribute.
	OIDAttributeSigningTime = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

	// OIDAttributeCounterSign identifies the countersignature unsigned attribute.
	// A counter-signature signs the Signature bytes of a SignerInfo, not the content.
	OIDAttributeCounterSign = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}

	// OIDAttributeContentHint identifies the id-aa-contentHint attribute.
	OIDAttributeContentHint = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 4}
)

// Digest algorithm OIDs from NIST (FIPS 180-4 and FIPS 202).
var (
	OIDDigestAlgorithmSHA1 = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDDigestAlgorithmMD5  = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 5}

	OIDDigestAlgorithmSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDDigestAlgorithmSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDDigestAlgorithmSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	OIDDigestAlgorithmSHA3_256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}
	OIDDigestAlgorithmSHA3_384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 9}
	OIDDigestAlgorithmSHA3_512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10}

	// OIDDigestAlgorithmSHAKE256 identifies SHAKE256; with Ed448 it is used
	// with a 512-bit output (RFC 8419, section 3.1).
	OIDDigestAlgorithmSHAKE256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 12}
)

// Signature algorithm OIDs for RSA, DSA, ECDSA and EdDSA.
var (
	// OIDSignatureAlgorithmRSA identifies the base RSA algorithm (rsaEncryption).
	// OpenSSL and older PKCS #7 producers put it in SignerInfo and rely on the
	// DigestAlgorithm field for the hash.
	OIDSignatureAlgorithmRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

	OIDSignatureAlgorithmSHA256WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSignatureAlgorithmSHA384WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSignatureAlgorithmSHA512WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}

	// OIDSignatureAlgorithmRSAPSS identifies RSASSA-PSS. The RSASSA-PSS-params
	// structure MUST be present when this OID is used (RFC 4056).
	OIDSignatureAlgorithmRSAPSS = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}

	// OIDSignatureAlgorithmDSA identifies the bare id-dsa algorithm as found in
	// certificate public key infos.
	OIDSignatureAlgorithmDSA           = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 1}
	OIDSignatureAlgorithmDSAWithSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 2}

	OIDSignatureAlgorithmECPublicKey     = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	OIDSignatureAlgorithmECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDSignatureAlgorithmECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDSignatureAlgorithmECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	OIDSignatureAlgorithmECDSAWithSHA3_256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 10}
	OIDSignatureAlgorithmECDSAWithSHA3_384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 11}
	OIDSignatureAlgorithmECDSAWithSHA3_512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 12}

	// OIDSignatureAlgorithmEd25519 identifies Ed25519 (RFC 8419). The
	// parameters field MUST be absent.
	OIDSignatureAlgorithmEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}

	// OIDSignatureAlgorithmEd448 identifies Ed448 (RFC 8419). The parameters
	// field MUST be absent.
	OIDSignatureAlgorithmEd448 = asn1.ObjectIdentifier{1, 3, 101, 113}
)

// RSA-PSS support OIDs defined in RFC 4055.
var (
	// OIDMGF1 identifies the MGF1 mask generation function used in RSASSA-PSS.
	OIDMGF1 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}
)

// Key transport OIDs (RFC 3447 / RFC 4055).
var (
	// OIDKeyTransportRSAOAEP identifies the RSAES-OAEP key encryption algorithm.
	OIDKeyTransportRSAOAEP = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 7}
)

// Content encryption OIDs (RFC 3565 / RFC 5084).
var (
	OIDContentEncryptionAES128CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
	OIDContentEncryptionAES256CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}
	OIDContentEncryptionAES128GCM = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 6}
	OIDContentEncryptionAES256GCM = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 46}
)
