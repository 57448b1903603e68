package pkiasn1

import (
	"encoding/asn1"
	"errors"
)

// Tag bytes used when moving attribute sets between their wire and digest forms.
const (
	TagByteSet       byte = 0x31
	TagByteImplicit0 byte = 0xA0
	TagByteImplicit1 byte = 0xA1
)

// Decode parses a single TLV into a RawValue with every field populated.
// Values built as RawValue{FullBytes: b} marshal correctly but carry no
// Tag, IsCompound or Bytes until decoded.
func Decode(der []byte) (asn1.RawValue, error) {
	var raw asn1.RawValue
	rest, err := asn1.Unmarshal(der, &raw)
	if err != nil {
		return asn1.RawValue{}, err
	}
	if len(rest) > 0 {
		return asn1.RawValue{}, errors.New("pkiasn1: trailing data after value")
	}
	return raw, nil
}

// SetMembers splits a constructed value into its member TLVs in wire order.
// It works for any constructed element, not only SET. A value holding only
// FullBytes is decoded first.
func SetMembers(raw asn1.RawValue) ([]asn1.RawValue, error) {
	if len(raw.FullBytes) > 0 && len(raw.Bytes) == 0 && !raw.IsCompound {
		decoded, err := Decode(raw.FullBytes)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}
	if len(raw.FullBytes) > 0 && !raw.IsCompound {
		return nil, errors.New("pkiasn1: value is not constructed")
	}
	var members []asn1.RawValue
	rest := raw.Bytes
	for len(rest) > 0 {
		var m asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &m)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

// EncodeOrderedSet encodes members under a constructed tag of the given class
// without sorting them. Pass asn1.ClassUniversal and asn1.TagSet for a plain
// SET, or asn1.ClassContextSpecific and 1 for an IMPLICIT [1] attribute set.
func EncodeOrderedSet(class, tag int, members [][]byte) ([]byte, error) {
	size := 0
	for _, m := range members {
		size += len(m)
	}
	body := make([]byte, 0, size)
	for _, m := range members {
		body = append(body, m...)
	}
	return asn1.Marshal(asn1.RawValue{
		Class:      class,
		Tag:        tag,
		IsCompound: true,
		Bytes:      body,
	})
}

// Retag returns a copy of b with its first (tag) byte replaced.
func Retag(b []byte, tag byte) []byte {
	if len(b) == 0 {
		return b
	}
	out := make([]byte, len(b))
	copy(out, b)
	out[0] = tag
	return out
}
