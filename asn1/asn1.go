// Package asn1 implements a minimal DER tag-length-value codec.
//
// The certificate engine walks X.509 extensions, CRL bodies, and OCSP
// certificate identifiers lazily, which requires direct access to raw
// TLV structure; this package exposes that primitive together with
// decoders for the handful of universal types those structures use
// (OBJECT IDENTIFIER, INTEGER, BIT STRING, OCTET STRING, UTCTime,
// GeneralizedTime).
package asn1

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Tag classes.
const (
	ClassUniversal       = 0
	ClassApplication     = 1
	ClassContextSpecific = 2
	ClassPrivate         = 3
)

// Universal tag numbers used by X.509 structures.
const (
	TagBoolean         = 1
	TagInteger         = 2
	TagBitString       = 3
	TagOctetString     = 4
	TagNull            = 5
	TagOID             = 6
	TagEnumerated      = 10
	TagUTF8String      = 12
	TagSequence        = 16
	TagSet             = 17
	TagPrintableString = 19
	TagIA5String       = 22
	TagUTCTime         = 23
	TagGeneralizedTime = 24
)

// Decoding errors.
var (
	// ErrTruncated indicates the input ended inside a TLV element.
	ErrTruncated = errors.New("asn1: truncated input")

	// ErrInvalidLength indicates a malformed length octet sequence.
	ErrInvalidLength = errors.New("asn1: invalid length encoding")

	// ErrInvalidOID indicates a malformed OBJECT IDENTIFIER body.
	ErrInvalidOID = errors.New("asn1: invalid object identifier")

	// ErrInvalidBitString indicates a malformed BIT STRING body.
	ErrInvalidBitString = errors.New("asn1: invalid bit string")

	// ErrInvalidTime indicates an unparseable UTCTime/GeneralizedTime.
	ErrInvalidTime = errors.New("asn1: invalid time")

	// ErrUnexpectedTag indicates the element does not carry the tag the
	// caller required.
	ErrUnexpectedTag = errors.New("asn1: unexpected tag")
)

// RawValue is one decoded tag-length-value element.
type RawValue struct {
	// Class is the tag class (universal, application, context, private).
	Class int

	// Tag is the tag number within the class.
	Tag int

	// Constructed reports whether the element is constructed rather
	// than primitive.
	Constructed bool

	// Bytes are the content octets.
	Bytes []byte

	// Raw is the complete element including tag and length octets.
	Raw []byte
}

// Expect returns an error unless the value carries the given universal tag.
func (v *RawValue) Expect(tag int) error {
	if v.Class != ClassUniversal || v.Tag != tag {
		return fmt.Errorf("%w: got class %d tag %d, want universal tag %d",
			ErrUnexpectedTag, v.Class, v.Tag, tag)
	}
	return nil
}

// Decode parses a single TLV element from the start of data and returns
// it along with the number of bytes consumed. Both short- and long-form
// lengths are supported; indefinite lengths are rejected (DER forbids
// them).
func Decode(data []byte) (*RawValue, int, error) {
	if len(data) < 2 {
		return nil, 0, ErrTruncated
	}

	v := &RawValue{
		Class:       int(data[0] >> 6),
		Constructed: data[0]&0x20 != 0,
	}

	tag := int(data[0] & 0x1f)
	offset := 1
	if tag == 0x1f {
		// High-tag-number form: base-128, high bit continues.
		tag = 0
		for {
			if offset >= len(data) {
				return nil, 0, ErrTruncated
			}
			b := data[offset]
			offset++
			tag = tag<<7 | int(b&0x7f)
			if b&0x80 == 0 {
				break
			}
			if tag > 1<<24 {
				return nil, 0, fmt.Errorf("%w: tag too large", ErrInvalidLength)
			}
		}
	}
	v.Tag = tag

	if offset >= len(data) {
		return nil, 0, ErrTruncated
	}

	length := 0
	first := data[offset]
	offset++
	switch {
	case first < 0x80:
		length = int(first)
	case first == 0x80:
		return nil, 0, fmt.Errorf("%w: indefinite length", ErrInvalidLength)
	default:
		numBytes := int(first & 0x7f)
		if numBytes > 4 {
			return nil, 0, fmt.Errorf("%w: length of length %d", ErrInvalidLength, numBytes)
		}
		for i := 0; i < numBytes; i++ {
			if offset >= len(data) {
				return nil, 0, ErrTruncated
			}
			length = length<<8 | int(data[offset])
			offset++
		}
	}

	if length < 0 || offset+length > len(data) {
		return nil, 0, ErrTruncated
	}

	v.Bytes = data[offset : offset+length]
	v.Raw = data[:offset+length]

	return v, offset + length, nil
}

// Children decodes the content of a constructed element into its
// immediate child elements.
func Children(v *RawValue) ([]*RawValue, error) {
	if !v.Constructed {
		return nil, fmt.Errorf("%w: primitive element has no children", ErrUnexpectedTag)
	}

	var out []*RawValue
	rest := v.Bytes
	for len(rest) > 0 {
		child, n, err := Decode(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
		rest = rest[n:]
	}
	return out, nil
}

// ParseInteger decodes a two's-complement INTEGER body. Certificate
// serial numbers routinely exceed 64 bits, so the result is a big.Int.
func ParseInteger(content []byte) (*big.Int, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty integer", ErrInvalidLength)
	}

	n := new(big.Int).SetBytes(content)
	if content[0]&0x80 != 0 {
		// Negative: subtract 2^(8*len).
		shift := new(big.Int).Lsh(big.NewInt(1), uint(len(content))*8)
		n.Sub(n, shift)
	}
	return n, nil
}

// BitString is a decoded BIT STRING.
type BitString struct {
	// Bytes holds the bits, most significant first.
	Bytes []byte

	// BitLength is the number of valid bits.
	BitLength int
}

// At returns the bit at index i (0 is the most significant bit of the
// first byte), or 0 when out of range.
func (b BitString) At(i int) int {
	if i < 0 || i >= b.BitLength {
		return 0
	}
	return int(b.Bytes[i/8] >> (7 - uint(i)%8) & 1)
}

// ParseBitString decodes a BIT STRING body: one unused-bits octet
// followed by the bit data.
func ParseBitString(content []byte) (BitString, error) {
	if len(content) == 0 {
		return BitString{}, ErrInvalidBitString
	}

	unused := int(content[0])
	if unused > 7 || (len(content) == 1 && unused != 0) {
		return BitString{}, ErrInvalidBitString
	}

	return BitString{
		Bytes:     content[1:],
		BitLength: (len(content)-1)*8 - unused,
	}, nil
}

// ParseTime decodes a UTCTime or GeneralizedTime body according to tag.
// UTCTime years are pivoted at 50 per RFC 5280 (00-49 map to 20xx).
func ParseTime(content []byte, tag int) (time.Time, error) {
	s := string(content)

	var layouts []string
	switch tag {
	case TagUTCTime:
		layouts = []string{"060102150405Z0700", "0601021504Z0700"}
	case TagGeneralizedTime:
		layouts = []string{"20060102150405Z0700", "20060102150405.999999999Z0700"}
	default:
		return time.Time{}, fmt.Errorf("%w: tag %d is not a time type", ErrUnexpectedTag, tag)
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			if tag == TagUTCTime && t.Year() >= 2050 {
				t = t.AddDate(-100, 0, 0)
			}
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}
