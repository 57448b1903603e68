package pkiasn1

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
)

// IssuerAndSerialNumber identifies a certificate by its issuer distinguished name
// and serial number, as defined in RFC 5652, section 10.2.4.
type IssuerAndSerialNumber struct {
	// Issuer is the DER encoding of the certificate issuer's distinguished name.
	Issuer asn1.RawValue
	// SerialNumber is the certificate serial number.
	SerialNumber *big.Int
}

// RSAPSSParams holds the algorithm parameters for the RSASSA-PSS signature algorithm
// as defined in RFC 4055, section 3.1.
type RSAPSSParams struct {
	HashAlgorithm    pkix.AlgorithmIdentifier `asn1:"explicit,optional,tag:0"`
	MaskGenAlgorithm pkix.AlgorithmIdentifier `asn1:"explicit,optional,tag:1"`
	// SaltLength equals the hash output length for signatures produced here.
	SaltLength int `asn1:"explicit,optional,tag:2"`
	// TrailerField is always 1 (trailerFieldBC).
	TrailerField int `asn1:"explicit,optional,tag:3"`
}

// DSASigValue is the Dss-Sig-Value structure (RFC 3279, section 2.2.2). ECDSA
// signatures share the same shape.
type DSASigValue struct {
	R *big.Int
	S *big.Int
}

// RSAOAEPParams holds the algorithm parameters for RSAES-OAEP as defined in
// RFC 4055, section 3.1.
type RSAOAEPParams struct {
	HashAlgorithm    pkix.AlgorithmIdentifier `asn1:"explicit,optional,tag:0"`
	MaskGenAlgorithm pkix.AlgorithmIdentifier `asn1:"explicit,optional,tag:1"`
}

// GCMParameters holds the algorithm parameters for AES in GCM mode as defined
// in RFC 5084, section 3.2.
type GCMParameters struct {
	// Nonce is the 12-byte initialization vector for AES-GCM.
	Nonce []byte
	// ICVLen is the authentication tag length; omitted when it is 16.
	ICVLen int `asn1:"optional"`
}

// SubjectPublicKeyInfo is the generic X.509 public key wrapper. crypto/x509
// leaves PublicKey nil for algorithms it does not know (Ed448), so those keys
// are read from the certificate's RawSubjectPublicKeyInfo with this type.
type SubjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}
