// Package ber converts BER-encoded ASN.1 into DER.
//
// encoding/asn1 only accepts DER. Signature files produced by older PKCS #7
// toolkits and by Windows APIs commonly use indefinite lengths, constructed
// OCTET STRINGs and non-minimal length fields, so every blob that enters the
// engine goes through Normalize first.
//
// A zero-length OCTET STRING encoded with indefinite length stays present
// after normalization. In SignedData an absent eContent means a detached
// signature while a present empty eContent means a signed 0-byte payload.
package ber

import (
	"errors"
	"fmt"
)

// ErrTrailingData is returned by NormalizeStrict when bytes follow the first
// top-level element.
var ErrTrailingData = errors.New("ber: trailing data after top-level element")

// ErrTooDeep is returned when nesting exceeds maxDepth.
var ErrTooDeep = errors.New("ber: nesting too deep")

const maxDepth = 512

// Identifier octet layout (X.690 section 8.1.2).
const (
	classMask      byte = 0xC0
	constructedBit byte = 0x20
	tagNumMask     byte = 0x1F
	longFormTag    byte = 0x1F
	moreTagBytes   byte = 0x80
)

const classUniversal byte = 0x00

// Universal tag numbers that DER requires in primitive form.
const (
	tagBoolean         = 0x01
	tagInteger         = 0x02
	tagBitString       = 0x03
	tagOctetString     = 0x04
	tagUTF8String      = 0x0C
	tagNumericString   = 0x12
	tagPrintableString = 0x13
	tagT61String       = 0x14
	tagIA5String       = 0x16
	tagUTCTime         = 0x17
	tagGeneralizedTime = 0x18
	tagVisibleString   = 0x1A
	tagGeneralString   = 0x1B
	tagBMPString       = 0x1E
)

const (
	lenIndefinite byte = 0x80
	lenLongForm   byte = 0x80
	lenCountMask  byte = 0x7F
)

// header is a decoded identifier and length.
type header struct {
	ident       []byte // identifier octets exactly as read, long-form tags included
	class       byte
	tagNum      int
	constructed bool
	length      int
	indefinite  bool
	size        int // identifier plus length octets
}

func (h header) isPrimitiveString() bool {
	if h.class != classUniversal {
		return false
	}
	switch h.tagNum {
	case tagBitString, tagOctetString, tagUTF8String, tagNumericString,
		tagPrintableString, tagT61String, tagIA5String, tagUTCTime,
		tagGeneralizedTime, tagVisibleString, tagGeneralString, tagBMPString:
		return true
	}
	return false
}

// Normalize converts the first BER element in data to DER and returns it
// along with any bytes that follow it.
func Normalize(data []byte) (der, rest []byte, err error) {
	var out []byte
	n, err := normalizeElement(data, 0, &out)
	if err != nil {
		return nil, nil, err
	}
	return out, data[n:], nil
}

// NormalizeStrict is Normalize that rejects trailing bytes.
func NormalizeStrict(data []byte) ([]byte, error) {
	der, rest, err := Normalize(data)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, ErrTrailingData
	}
	return der, nil
}

// normalizeElement writes the DER form of the element at the start of in to
// out and returns the number of input bytes it occupied.
func normalizeElement(in []byte, depth int, out *[]byte) (int, error) {
	if depth > maxDepth {
		return 0, ErrTooDeep
	}
	h, err := readHeader(in)
	if err != nil {
		return 0, err
	}

	var body []byte
	var consumed int
	if h.indefinite {
		if !h.constructed && !h.isPrimitiveString() {
			return 0, errors.New("ber: indefinite length on primitive element")
		}
		body, consumed, err = readIndefinite(in[h.size:], depth)
		if err != nil {
			return 0, err
		}
		consumed += h.size
	} else {
		end := h.size + h.length
		if end > len(in) {
			return 0, fmt.Errorf("ber: element length %d exceeds remaining %d bytes", h.length, len(in)-h.size)
		}
		consumed = end
		content := in[h.size:end]
		if h.constructed {
			body, err = normalizeChildren(content, depth)
			if err != nil {
				return 0, err
			}
		} else {
			body, err = canonicalPrimitive(h, content)
			if err != nil {
				return 0, err
			}
		}
	}

	ident := h.ident
	if (h.constructed || h.indefinite) && h.isPrimitiveString() {
		// body holds normalized DER chunks; DER wants a single primitive value.
		body, err = flatten(h.tagNum, body)
		if err != nil {
			return 0, err
		}
		ident = append([]byte{h.ident[0] &^ constructedBit}, h.ident[1:]...)
	}

	*out = append(*out, ident...)
	*out = appendLength(*out, len(body))
	*out = append(*out, body...)
	return consumed, nil
}

func normalizeChildren(content []byte, depth int) ([]byte, error) {
	var body []byte
	pos := 0
	for pos < len(content) {
		n, err := normalizeElement(content[pos:], depth+1, &body)
		if err != nil {
			return nil, err
		}
		pos += n
	}
	return body, nil
}

// readIndefinite normalizes children until the end-of-contents octets and
// returns the normalized body plus the input bytes consumed, EOC included.
func readIndefinite(in []byte, depth int) ([]byte, int, error) {
	var body []byte
	pos := 0
	for {
		if pos+1 >= len(in) {
			return nil, 0, errors.New("ber: missing end-of-contents for indefinite-length element")
		}
		if in[pos] == 0x00 && in[pos+1] == 0x00 {
			return body, pos + 2, nil
		}
		n, err := normalizeElement(in[pos:], depth+1, &body)
		if err != nil {
			return nil, 0, err
		}
		pos += n
	}
}

func readHeader(in []byte) (header, error) {
	var h header
	if len(in) == 0 {
		return h, errors.New("ber: unexpected end of input")
	}
	first := in[0]
	h.class = first & classMask
	h.constructed = first&constructedBit != 0
	pos := 1
	if first&tagNumMask == longFormTag {
		h.tagNum = 0
		for {
			if pos >= len(in) {
				return h, errors.New("ber: truncated long-form tag")
			}
			b := in[pos]
			pos++
			if h.tagNum > 1<<23 {
				return h, errors.New("ber: tag number too large")
			}
			h.tagNum = h.tagNum<<7 | int(b&0x7F)
			if b&moreTagBytes == 0 {
				break
			}
		}
	} else {
		h.tagNum = int(first & tagNumMask)
	}
	h.ident = in[:pos]

	if pos >= len(in) {
		return h, errors.New("ber: truncated length field")
	}
	lb := in[pos]
	pos++
	switch {
	case lb == lenIndefinite:
		h.indefinite = true
	case lb&lenLongForm == 0:
		h.length = int(lb)
	default:
		count := int(lb & lenCountMask)
		if count > 4 {
			return h, fmt.Errorf("ber: unsupported length field: %d bytes", count)
		}
		if pos+count > len(in) {
			return h, errors.New("ber: truncated long-form length")
		}
		length := 0
		for _, b := range in[pos : pos+count] {
			length = length<<8 | int(b)
		}
		if length < 0 || length > 1<<31-1 {
			return h, errors.New("ber: length overflow")
		}
		h.length = length
		pos += count
	}
	h.size = pos
	return h, nil
}

// appendLength appends the minimal DER length octets for n.
func appendLength(out []byte, n int) []byte {
	if n < 0x80 {
		return append(out, byte(n))
	}
	var tmp [8]byte
	i := len(tmp)
	for v := n; v > 0; v >>= 8 {
		i--
		tmp[i] = byte(v)
	}
	out = append(out, lenLongForm|byte(len(tmp)-i))
	return append(out, tmp[i:]...)
}

// flatten joins already normalized DER chunks of a constructed string type.
func flatten(tagNum int, body []byte) ([]byte, error) {
	var data []byte
	var unused byte
	pos := 0
	for pos < len(body) {
		h, err := readHeader(body[pos:])
		if err != nil {
			return nil, fmt.Errorf("ber: flatten: %w", err)
		}
		end := pos + h.size + h.length
		if end > len(body) {
			return nil, errors.New("ber: flatten: chunk exceeds content")
		}
		if h.class != classUniversal || h.tagNum != tagNum {
			return nil, fmt.Errorf("ber: flatten: chunk tag %d inside constructed tag %d", h.tagNum, tagNum)
		}
		chunk := body[pos+h.size : end]
		if tagNum == tagBitString {
			if len(chunk) == 0 {
				return nil, errors.New("ber: BIT STRING chunk missing unused-bits byte")
			}
			if unused != 0 {
				return nil, errors.New("ber: non-final BIT STRING chunk has unused bits")
			}
			unused = chunk[0]
			chunk = chunk[1:]
		}
		data = append(data, chunk...)
		pos = end
	}
	if tagNum == tagBitString {
		return append([]byte{unused}, data...), nil
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// canonicalPrimitive applies the DER value rules for BOOLEAN and INTEGER.
// Everything else passes through unchanged.
func canonicalPrimitive(h header, value []byte) ([]byte, error) {
	if h.class != classUniversal {
		return value, nil
	}
	switch h.tagNum {
	case tagBoolean:
		if len(value) != 1 {
			return nil, fmt.Errorf("ber: BOOLEAN value must be 1 byte, got %d", len(value))
		}
		if value[0] != 0x00 {
			return []byte{0xFF}, nil
		}
	case tagInteger:
		if len(value) == 0 {
			return nil, errors.New("ber: INTEGER value is empty")
		}
		i := 0
		for i < len(value)-1 && ((value[i] == 0x00 && value[i+1]&0x80 == 0) || (value[i] == 0xFF && value[i+1]&0x80 != 0)) {
			i++
		}
		return value[i:], nil
	}
	return value, nil
}
