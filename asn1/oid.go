package asn1

import (
	"fmt"
	"strconv"
	"strings"
)

// OID is an object identifier as a sequence of arcs.
type OID []int

// String returns the dotted-decimal form.
func (o OID) String() string {
	parts := make([]string, len(o))
	for i, arc := range o {
		parts[i] = strconv.Itoa(arc)
	}
	return strings.Join(parts, ".")
}

// Equal reports whether two OIDs are identical.
func (o OID) Equal(other OID) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseOID decodes an OBJECT IDENTIFIER body. Every subidentifier is
// base-128 with the high bit as continuation; the first subidentifier
// packs the first two arcs as 40*a+b (with a capped at 2).
func ParseOID(content []byte) (OID, error) {
	if len(content) == 0 {
		return nil, ErrInvalidOID
	}

	oid := make(OID, 0, 8)
	arc := 0
	pending := false
	for _, b := range content {
		arc = arc<<7 | int(b&0x7f)
		if b&0x80 != 0 {
			if arc > 1<<28 {
				return nil, fmt.Errorf("%w: arc overflow", ErrInvalidOID)
			}
			pending = true
			continue
		}
		if len(oid) == 0 {
			switch {
			case arc < 40:
				oid = append(oid, 0, arc)
			case arc < 80:
				oid = append(oid, 1, arc-40)
			default:
				// Arcs under joint-iso-itu-t (2.x) can exceed 39.
				oid = append(oid, 2, arc-80)
			}
		} else {
			oid = append(oid, arc)
		}
		arc = 0
		pending = false
	}
	if pending {
		return nil, fmt.Errorf("%w: truncated arc", ErrInvalidOID)
	}

	return oid, nil
}

// Well-known OIDs consumed by the certificate engine.
var (
	// OIDKeyUsage is the keyUsage extension (2.5.29.15).
	OIDKeyUsage = OID{2, 5, 29, 15}

	// OIDExtKeyUsage is the extKeyUsage extension (2.5.29.37).
	OIDExtKeyUsage = OID{2, 5, 29, 37}

	// OIDSubjectAltName is the subjectAltName extension (2.5.29.17).
	OIDSubjectAltName = OID{2, 5, 29, 17}

	// OIDAuthorityInfoAccess is the authorityInfoAccess extension
	// (1.3.6.1.5.5.7.1.1).
	OIDAuthorityInfoAccess = OID{1, 3, 6, 1, 5, 5, 7, 1, 1}

	// OIDCRLDistributionPoints is the cRLDistributionPoints extension
	// (2.5.29.31).
	OIDCRLDistributionPoints = OID{2, 5, 29, 31}

	// OIDCRLReasonCode is the reasonCode CRL entry extension (2.5.29.21).
	OIDCRLReasonCode = OID{2, 5, 29, 21}

	// OIDAccessOCSP is the id-ad-ocsp access method (1.3.6.1.5.5.7.48.1).
	OIDAccessOCSP = OID{1, 3, 6, 1, 5, 5, 7, 48, 1}

	// OIDSHA1 is the SHA-1 digest algorithm (1.3.14.3.2.26), used by
	// OCSP certificate identifiers.
	OIDSHA1 = OID{1, 3, 14, 3, 2, 26}

	// OIDAccessCAIssuers is the id-ad-caIssuers access method
	// (1.3.6.1.5.5.7.48.2).
	OIDAccessCAIssuers = OID{1, 3, 6, 1, 5, 5, 7, 48, 2}
)
