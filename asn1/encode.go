package asn1

import (
	"fmt"
	"math/big"
)

// EncodeTLV assembles one DER element from its parts. Long-form lengths
// are emitted automatically for content longer than 127 bytes.
func EncodeTLV(class, tag int, constructed bool, content []byte) []byte {
	identifier := byte(class<<6) | byte(tag&0x1f)
	if constructed {
		identifier |= 0x20
	}
	// High tag numbers never occur in the structures we assemble.

	out := make([]byte, 0, len(content)+6)
	out = append(out, identifier)
	out = appendLength(out, len(content))
	return append(out, content...)
}

// appendLength appends DER length octets.
func appendLength(dst []byte, n int) []byte {
	if n < 0x80 {
		return append(dst, byte(n))
	}

	var tmp [4]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte(n)
		n >>= 8
	}
	dst = append(dst, byte(0x80|(len(tmp)-i)))
	return append(dst, tmp[i:]...)
}

// EncodeSequence wraps the concatenation of elements in a SEQUENCE.
func EncodeSequence(elements ...[]byte) []byte {
	var content []byte
	for _, e := range elements {
		content = append(content, e...)
	}
	return EncodeTLV(ClassUniversal, TagSequence, true, content)
}

// EncodeInteger encodes a two's-complement INTEGER.
func EncodeInteger(n *big.Int) []byte {
	var content []byte
	switch n.Sign() {
	case 0:
		content = []byte{0}
	case 1:
		content = n.Bytes()
		if content[0]&0x80 != 0 {
			// Leading zero keeps the value positive.
			content = append([]byte{0}, content...)
		}
	default:
		// Negative: two's complement over the minimal byte count.
		bits := n.BitLen() + 1
		size := (bits + 7) / 8
		shift := new(big.Int).Lsh(big.NewInt(1), uint(size)*8)
		v := new(big.Int).Add(n, shift)
		content = v.Bytes()
		for len(content) < size {
			content = append([]byte{0xff}, content...)
		}
	}
	return EncodeTLV(ClassUniversal, TagInteger, false, content)
}

// EncodeOctetString encodes an OCTET STRING.
func EncodeOctetString(data []byte) []byte {
	return EncodeTLV(ClassUniversal, TagOctetString, false, data)
}

// EncodeNull encodes a NULL.
func EncodeNull() []byte {
	return EncodeTLV(ClassUniversal, TagNull, false, nil)
}

// EncodeOID encodes an OBJECT IDENTIFIER.
func EncodeOID(oid OID) ([]byte, error) {
	if len(oid) < 2 {
		return nil, fmt.Errorf("%w: need at least two arcs", ErrInvalidOID)
	}
	if oid[0] > 2 || (oid[0] < 2 && oid[1] >= 40) {
		return nil, fmt.Errorf("%w: invalid leading arcs %d.%d", ErrInvalidOID, oid[0], oid[1])
	}

	content := appendBase128(nil, oid[0]*40+oid[1])
	for _, arc := range oid[2:] {
		if arc < 0 {
			return nil, fmt.Errorf("%w: negative arc", ErrInvalidOID)
		}
		content = appendBase128(content, arc)
	}

	return EncodeTLV(ClassUniversal, TagOID, false, content), nil
}

// appendBase128 appends an arc in base-128 with continuation bits.
func appendBase128(dst []byte, n int) []byte {
	var tmp [5]byte
	i := len(tmp) - 1
	tmp[i] = byte(n & 0x7f)
	n >>= 7
	for n > 0 {
		i--
		tmp[i] = byte(n&0x7f) | 0x80
		n >>= 7
	}
	return append(dst, tmp[i:]...)
}
