package cms

import (
	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// SignedFileExtension is appended to signed file names by SignedFileName.
const SignedFileExtension = ".csig"

// Classify reports the container variant of blob. It never fails: anything
// that does not parse as a supported container is NotASignature.
func Classify(blob []byte) Format {
	c, err := parseContainer(blob)
	if err != nil {
		return NotASignature
	}
	return c.format
}

// IsSign reports whether blob is a supported signature container.
func IsSign(blob []byte) bool {
	return Classify(blob) != NotASignature
}

// IsValidDataFile reports whether data can be signed. Any non-nil input,
// including an empty one, qualifies.
func IsValidDataFile(data []byte) bool {
	return data != nil
}

// SignedFileName returns the conventional name for the signature of a file:
// original, then inText, then the .csig extension.
func SignedFileName(original, inText string) string {
	return original + inText + SignedFileExtension
}

// ExtractContent returns the encapsulated content of a SignedData. Detached
// signatures and SignedAndEnvelopedData (whose content is encrypted; see
// DecryptContent) return ErrNoEmbeddedContent.
func ExtractContent(blob []byte) ([]byte, error) {
	c, err := parseContainer(blob)
	if err != nil {
		return nil, err
	}
	switch c.format {
	case SignedData:
		content, ok, err := c.embeddedContent()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newError(CodeNoEmbeddedContent, "signature is detached")
		}
		return content, nil
	case SignedAndEnvelopedData:
		return nil, newError(CodeNoEmbeddedContent, "content is encrypted")
	default:
		panic("cms: container has no variant")
	}
}

// ExtractMimeTypeHint returns the content type OID, in dotted form, of the
// content-hints attribute of the first top-level signer that carries one.
// It returns "" when no signer does or blob cannot be parsed. Use
// contenthint.MIMEType to map the OID to a MIME type.
func ExtractMimeTypeHint(blob []byte) string {
	c, err := parseContainer(blob)
	if err != nil {
		return ""
	}
	infos, err := c.signerInfos()
	if err != nil {
		return ""
	}
	for _, raw := range infos {
		var si pkiasn1.SignerInfo
		if err := unmarshalExact(raw, &si); err != nil {
			continue
		}
		attrs, err := parseAttributeSet(si.SignedAttrs)
		if err != nil {
			continue
		}
		v, ok := attributeValue(attrs, pkiasn1.OIDAttributeContentHint)
		if !ok {
			continue
		}
		var hints pkiasn1.ContentHints
		if err := unmarshalExact(v.FullBytes, &hints); err != nil {
			continue
		}
		return hints.ContentType.String()
	}
	return ""
}

// SignInfo summarises a signature container.
type SignInfo struct {
	// Format is always "CMS".
	Format string
	// Variant is SignedData or SignedAndEnvelopedData.
	Variant Format
	// ContentType is the dotted OID of the signed content type.
	ContentType string
	// Signers is the number of top-level signers.
	Signers int
	// Nodes is the number of signers including countersignatures.
	Nodes int
	// Detached reports whether a SignedData carries no content. It is
	// false for SignedAndEnvelopedData, whose content is encrypted.
	Detached bool
}

// Info parses blob and summarises it.
func Info(blob []byte) (SignInfo, error) {
	c, err := parseContainer(blob)
	if err != nil {
		return SignInfo{}, err
	}
	roots, err := c.signerTree()
	if err != nil {
		return SignInfo{}, err
	}
	_, embedded, err := c.embeddedContent()
	if err != nil {
		return SignInfo{}, err
	}
	return SignInfo{
		Format:      "CMS",
		Variant:     c.format,
		ContentType: c.contentType().String(),
		Signers:     len(roots),
		Nodes:       len(flattenNodes(roots)),
		Detached:    c.format == SignedData && !embedded,
	}, nil
}
