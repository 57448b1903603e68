// Package contenthint maps between the content type OIDs carried in the CMS
// content-hints attribute (RFC 2634, section 2.9) and MIME types, and sniffs
// the MIME type of content.
package contenthint

import (
	"encoding/asn1"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// OctetStream is the MIME type of id-data and of unrecognised content.
const OctetStream = "application/octet-stream"

type entry struct {
	oid  asn1.ObjectIdentifier
	mime string
}

// table lists the MIME OIDs of the Z39.50 registry (1.2.840.10003.5.109)
// plus id-data. The first entry for a MIME type wins in OID lookups.
var table = []entry{
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 1}, "application/pdf"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 2}, "application/postscript"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 3}, "text/html"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 4}, "image/tiff"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 5}, "image/gif"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 6}, "image/jpeg"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 7}, "image/png"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 8}, "video/mpeg"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 9}, "text/sgml"},
	{asn1.ObjectIdentifier{1, 2, 840, 10003, 5, 109, 10}, "text/xml"},
	{asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}, OctetStream},
}

// MIMEType returns the MIME type for a dotted OID string, or "" when the OID
// is not in the table.
func MIMEType(oid string) string {
	oid = strings.TrimSpace(oid)
	for _, e := range table {
		if e.oid.String() == oid {
			return e.mime
		}
	}
	return ""
}

// OID returns the content type OID for a MIME type. Parameters such as
// charset are ignored.
func OID(mimeType string) (asn1.ObjectIdentifier, bool) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return nil, false
	}
	for _, e := range table {
		if e.mime == mt {
			return e.oid, true
		}
	}
	return nil, false
}

// Detect sniffs content and returns the OID of its MIME type. Types without
// an OID, octet streams included, report false.
func Detect(content []byte) (asn1.ObjectIdentifier, bool) {
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		if m.Is(OctetStream) {
			return nil, false
		}
		for _, e := range table {
			if m.Is(e.mime) {
				return e.oid, true
			}
		}
	}
	return nil, false
}

// DetectMIME returns the sniffed MIME type of content without parameters.
func DetectMIME(content []byte) string {
	mt, _, err := mime.ParseMediaType(mimetype.Detect(content).String())
	if err != nil {
		return OctetStream
	}
	return mt
}
