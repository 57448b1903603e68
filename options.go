package cms

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// Mode selects whether the signed content is embedded in the output.
type Mode int

const (
	// Implicit embeds the content as eContent. This is the default.
	Implicit Mode = iota
	// Explicit produces a detached signature; eContent is absent.
	Explicit
)

// String returns "implicit" or "explicit".
func (m Mode) String() string {
	if m == Explicit {
		return "explicit"
	}
	return "implicit"
}

// ParseMode accepts "implicit" or "explicit" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "implicit":
		return Implicit, nil
	case "explicit":
		return Explicit, nil
	}
	return 0, newConfigError(fmt.Sprintf("unknown mode %q", s))
}

// SignerIdentifierType controls how the signer's certificate is identified in
// the SignerInfo structure.
type SignerIdentifierType int

const (
	// IssuerAndSerialNumber identifies the signer by issuer distinguished name and
	// certificate serial number. This produces SignerInfo version 1 and is the most
	// widely compatible form. This is the default.
	IssuerAndSerialNumber SignerIdentifierType = iota

	// SubjectKeyIdentifier identifies the signer by the value of the certificate's
	// subjectKeyIdentifier extension. This produces SignerInfo version 3.
	SubjectKeyIdentifier
)

// callConfig is the resolved set of options for one engine call.
type callConfig struct {
	mode              Mode
	applySystemDate   bool
	precalculatedName string
	sidType           SignerIdentifierType
	contentType       asn1.ObjectIdentifier
	signedAttrs       []pkiasn1.Attribute
	unsignedAttrs     []pkiasn1.Attribute
	detectHint        bool
	extraCerts        []*x509.Certificate
	crls              [][]byte
	encryption        ContentEncryptionAlgorithm
}

func newCallConfig(opts []Option) (*callConfig, error) {
	cfg := &callConfig{
		mode:            Implicit,
		applySystemDate: true,
		contentType:     pkiasn1.OIDData,
		encryption:      AES256CBC,
	}
	var errs []error
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o.apply(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// precalculatedDigest validates the precalculated-digest option against the
// algorithm. It returns nil when the option is not set.
func (c *callConfig) precalculatedDigest(spec algorithmSpec) (*digestAlgorithm, error) {
	if c.precalculatedName == "" {
		return nil, nil
	}
	d, err := digestByName(c.precalculatedName)
	if err != nil {
		return nil, wrapError(CodeInvalidConfiguration, "invalid precalculated digest algorithm", err)
	}
	if d != spec.digest {
		return nil, newConfigError(fmt.Sprintf(
			"precalculated digest %s does not match %s, which uses %s", d.name, spec.name, spec.digest.name))
	}
	return d, nil
}

// Option configures a single Sign, Cosign, Countersign or SignAndEnvelope call.
type Option interface {
	apply(*callConfig) error
}

// option is a concrete Option backed by a single function.
type option struct {
	f func(*callConfig) error
}

func (o *option) apply(c *callConfig) error {
	return o.f(c)
}

// WithMode selects Implicit (embedded content) or Explicit (detached) output.
func WithMode(m Mode) Option {
	return &option{f: func(c *callConfig) error {
		if m != Implicit && m != Explicit {
			return newConfigError(fmt.Sprintf("unknown mode %d", int(m)))
		}
		c.mode = m
		return nil
	}}
}

// WithApplySystemDate controls the signing-time attribute. Enabled by default.
func WithApplySystemDate(enabled bool) Option {
	return &option{f: func(c *callConfig) error {
		c.applySystemDate = enabled
		return nil
	}}
}

// WithPrecalculatedDigest declares that the content passed to Sign or Cosign
// is already a digest computed with hashName ("SHA-256", "SHA-512", ...). The
// digest must belong to the signing algorithm and the output is always
// detached. Blob-only cosigning rejects this option.
func WithPrecalculatedDigest(hashName string) Option {
	return &option{f: func(c *callConfig) error {
		if strings.TrimSpace(hashName) == "" {
			return newConfigError("precalculated digest algorithm is empty")
		}
		c.precalculatedName = hashName
		return nil
	}}
}

// WithSignerIdentifier controls how the signer's certificate is identified in
// SignerInfo. Default is IssuerAndSerialNumber (SignerInfo version 1).
func WithSignerIdentifier(t SignerIdentifierType) Option {
	return &option{f: func(c *callConfig) error {
		c.sidType = t
		return nil
	}}
}

// WithContentType sets the eContentType OID of a new SignedData. Default is
// id-data. Cosigning keeps the type of the existing structure.
func WithContentType(oid asn1.ObjectIdentifier) Option {
	return &option{f: func(c *callConfig) error {
		if len(oid) == 0 {
			return newConfigError("content type OID is empty")
		}
		c.contentType = oid
		return nil
	}}
}

// WithSignedAttribute adds a caller attribute to the signed attributes of the
// produced SignerInfo. val is marshalled with encoding/asn1, so a []byte
// becomes an OCTET STRING and an asn1.RawValue is copied verbatim. The
// content-type and message-digest attributes are computed by the engine and
// return ErrAttributeInvalid. A caller signing-time replaces the engine's.
func WithSignedAttribute(oid asn1.ObjectIdentifier, val any) Option {
	return &option{f: func(c *callConfig) error {
		if oid.Equal(pkiasn1.OIDAttributeContentType) || oid.Equal(pkiasn1.OIDAttributeMessageDigest) {
			return newError(CodeAttributeInvalid,
				fmt.Sprintf("attribute %s is injected automatically; do not add it manually", oid))
		}
		attr, err := newAttribute(oid, val)
		if err != nil {
			return err
		}
		c.signedAttrs = append(c.signedAttrs, attr)
		return nil
	}}
}

// WithUnsignedAttribute adds a caller attribute to the unsigned attributes of
// the produced SignerInfo. Countersignatures are managed by Countersign and
// return ErrAttributeInvalid here.
func WithUnsignedAttribute(oid asn1.ObjectIdentifier, val any) Option {
	return &option{f: func(c *callConfig) error {
		if oid.Equal(pkiasn1.OIDAttributeCounterSign) {
			return newError(CodeAttributeInvalid, "countersignatures are added with Countersign")
		}
		attr, err := newAttribute(oid, val)
		if err != nil {
			return err
		}
		c.unsignedAttrs = append(c.unsignedAttrs, attr)
		return nil
	}}
}

// WithContentHint adds the id-aa-contentHint signed attribute (RFC 2634)
// describing the signed content. description may be empty.
func WithContentHint(description string, contentType asn1.ObjectIdentifier) Option {
	return &option{f: func(c *callConfig) error {
		if len(contentType) == 0 {
			return newError(CodeAttributeInvalid, "content hint requires a content type OID")
		}
		attr, err := newAttribute(pkiasn1.OIDAttributeContentHint, pkiasn1.ContentHints{
			ContentDescription: description,
			ContentType:        contentType,
		})
		if err != nil {
			return err
		}
		c.signedAttrs = append(c.signedAttrs, attr)
		return nil
	}}
}

// WithDetectedContentHint sniffs the content's MIME type and adds a content
// hint when the type has a registered OID. It has no effect when the content
// is not available, such as with a precalculated digest.
func WithDetectedContentHint() Option {
	return &option{f: func(c *callConfig) error {
		c.detectHint = true
		return nil
	}}
}

// AddCertificate adds an extra certificate to the certificate set of the
// output, for example an intermediate CA.
func AddCertificate(cert *x509.Certificate) Option {
	return &option{f: func(c *callConfig) error {
		if cert == nil {
			return newConfigError("extra certificate is nil")
		}
		c.extraCerts = append(c.extraCerts, cert)
		return nil
	}}
}

// AddCRL embeds a DER-encoded Certificate Revocation List in the output.
func AddCRL(derCRL []byte) Option {
	return &option{f: func(c *callConfig) error {
		if len(derCRL) == 0 {
			return newConfigError("CRL DER bytes are empty")
		}
		c.crls = append(c.crls, derCRL)
		return nil
	}}
}

// WithContentEncryption selects the content cipher for SignAndEnvelope.
// Default is AES256CBC.
func WithContentEncryption(alg ContentEncryptionAlgorithm) Option {
	return &option{f: func(c *callConfig) error {
		if _, err := alg.spec(); err != nil {
			return err
		}
		c.encryption = alg
		return nil
	}}
}

// Extra parameter keys understood by ParseExtraParams.
const (
	ParamMode                       = "mode"
	ParamApplySystemDate            = "applySystemDate"
	ParamPrecalculatedHashAlgorithm = "precalculatedHashAlgorithm"
)

// ParseExtraParams converts named string parameters into options. Recognised
// keys are "mode" (implicit or explicit), "applySystemDate" (boolean, default
// true) and "precalculatedHashAlgorithm" (a digest name; its presence means
// the content is a precomputed digest). Unknown keys are ignored.
func ParseExtraParams(params map[string]string) ([]Option, error) {
	var opts []Option
	var errs []error
	if v, ok := params[ParamMode]; ok {
		m, err := ParseMode(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			opts = append(opts, WithMode(m))
		}
	}
	if v, ok := params[ParamApplySystemDate]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, wrapError(CodeInvalidConfiguration,
				fmt.Sprintf("invalid %s value %q", ParamApplySystemDate, v), err))
		} else {
			opts = append(opts, WithApplySystemDate(b))
		}
	}
	if v, ok := params[ParamPrecalculatedHashAlgorithm]; ok {
		opts = append(opts, WithPrecalculatedDigest(v))
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return opts, nil
}

// newAttribute marshals val as the single value of an attribute.
func newAttribute(oid asn1.ObjectIdentifier, val any) (pkiasn1.Attribute, error) {
	if len(oid) == 0 {
		return pkiasn1.Attribute{}, newError(CodeAttributeInvalid, "attribute OID is empty")
	}
	encoded, err := asn1.Marshal(val)
	if err != nil {
		return pkiasn1.Attribute{}, wrapError(CodeAttributeInvalid,
			fmt.Sprintf("failed to marshal attribute %s", oid), err)
	}
	set, err := pkiasn1.EncodeOrderedSet(asn1.ClassUniversal, asn1.TagSet, [][]byte{encoded})
	if err != nil {
		return pkiasn1.Attribute{}, wrapError(CodeAttributeInvalid,
			fmt.Sprintf("failed to marshal attribute %s", oid), err)
	}
	values, err := pkiasn1.Decode(set)
	if err != nil {
		return pkiasn1.Attribute{}, wrapError(CodeAttributeInvalid,
			fmt.Sprintf("failed to marshal attribute %s", oid), err)
	}
	return pkiasn1.Attribute{Type: oid, Values: values}, nil
}
