package cms

import "errors"

// ErrorCode identifies the category of a CMS error.
type ErrorCode int

const (
	// CodeMalformedStructure indicates truncated input, trailing data or an
	// inner structure that cannot be decoded.
	CodeMalformedStructure ErrorCode = iota
	// CodeUnrecognizedFormat indicates well-formed ASN.1 whose outer content
	// type is neither SignedData nor SignedAndEnvelopedData.
	CodeUnrecognizedFormat
	// CodeUnsupportedAlgorithm indicates an algorithm name or OID outside the
	// supported set.
	CodeUnsupportedAlgorithm
	// CodeKeyMaterial indicates a missing signer, a missing certificate, or a
	// key that does not fit the requested algorithm or certificate.
	CodeKeyMaterial
	// CodeInvalidTarget indicates a countersignature target that is out of
	// range or a selection that resolves to no nodes.
	CodeInvalidTarget
	// CodeNoEmbeddedContent indicates the operation needs encapsulated content
	// that the structure does not carry.
	CodeNoEmbeddedContent
	// CodeEncoding indicates a signing or re-encoding failure.
	CodeEncoding
	// CodeInvalidConfiguration indicates an invalid combination of options.
	// Multiple configuration errors are joined using errors.Join.
	CodeInvalidConfiguration
	// CodeAttributeInvalid indicates a reserved, missing or malformed attribute.
	CodeAttributeInvalid
	// CodeInvalidSignature indicates a cryptographic verification failure.
	CodeInvalidSignature
	// CodeMissingCertificate indicates the certificate for a signer or
	// recipient could not be found.
	CodeMissingCertificate
	// CodeCertificateChain indicates an X.509 chain validation failure.
	CodeCertificateChain
	// CodeDecryption indicates the content encryption key or the content could
	// not be recovered.
	CodeDecryption
)

var codeNames = map[ErrorCode]string{
	CodeMalformedStructure:   "malformed structure",
	CodeUnrecognizedFormat:   "unrecognized format",
	CodeUnsupportedAlgorithm: "unsupported algorithm",
	CodeKeyMaterial:          "key material",
	CodeInvalidTarget:        "invalid target",
	CodeNoEmbeddedContent:    "no embedded content",
	CodeEncoding:             "encoding",
	CodeInvalidConfiguration: "invalid configuration",
	CodeAttributeInvalid:     "invalid attribute",
	CodeInvalidSignature:     "invalid signature",
	CodeMissingCertificate:   "missing certificate",
	CodeCertificateChain:     "certificate chain",
	CodeDecryption:           "decryption",
}

// String returns a short name for the code.
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown"
}

// Error is the error type returned by all cms operations. It implements the error
// interface and supports error chain inspection via errors.Is and errors.As.
type Error struct {
	// Code identifies the category of this error.
	Code ErrorCode
	// Message is a human-readable description of the error.
	Message string
	// Cause is the underlying error that triggered this error, if any.
	Cause error
}

// Error returns a string representation of the error, including the cause if present.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "cms: " + e.Code.String()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error by comparing error codes. This
// enables errors.Is(err, cms.ErrInvalidTarget) to match any *Error with the
// same code, regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel errors for use with errors.Is. Errors returned by this package carry
// descriptive messages and causes; sentinels are used only for category matching.
var (
	// ErrMalformedStructure is returned for unparsable or structurally invalid input.
	ErrMalformedStructure = &Error{Code: CodeMalformedStructure}

	// ErrUnrecognizedFormat is returned when the input parses but is not a
	// SignedData or SignedAndEnvelopedData container.
	ErrUnrecognizedFormat = &Error{Code: CodeUnrecognizedFormat}

	// ErrUnsupportedAlgorithm is returned for unknown or rejected algorithms.
	ErrUnsupportedAlgorithm = &Error{Code: CodeUnsupportedAlgorithm}

	// ErrKeyMaterial is returned when the key entry cannot produce a signature.
	ErrKeyMaterial = &Error{Code: CodeKeyMaterial}

	// ErrInvalidTarget is returned when a countersignature selection is unusable.
	ErrInvalidTarget = &Error{Code: CodeInvalidTarget}

	// ErrNoEmbeddedContent is returned when content is required but the
	// structure is detached or its content is encrypted.
	ErrNoEmbeddedContent = &Error{Code: CodeNoEmbeddedContent}

	// ErrEncoding is returned when signing or marshalling fails.
	ErrEncoding = &Error{Code: CodeEncoding}

	// ErrInvalidConfiguration is returned when options are inconsistent.
	ErrInvalidConfiguration = &Error{Code: CodeInvalidConfiguration}

	// ErrAttributeInvalid is returned for reserved, missing or malformed attributes.
	ErrAttributeInvalid = &Error{Code: CodeAttributeInvalid}

	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = &Error{Code: CodeInvalidSignature}

	// ErrMissingCertificate is returned when a signer or recipient certificate
	// cannot be located.
	ErrMissingCertificate = &Error{Code: CodeMissingCertificate}

	// ErrCertificateChain is returned when X.509 chain validation fails.
	ErrCertificateChain = &Error{Code: CodeCertificateChain}

	// ErrDecryption is returned when enveloped content cannot be decrypted.
	ErrDecryption = &Error{Code: CodeDecryption}
)

// newError creates a new Error with the given code and message.
func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// wrapError creates a new Error with the given code and message, wrapping cause.
func wrapError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// newConfigError creates a new CodeInvalidConfiguration Error with the given message.
func newConfigError(msg string) *Error {
	return &Error{Code: CodeInvalidConfiguration, Message: msg}
}

// joinErrors returns a joined error from the provided slice, or nil if empty.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
