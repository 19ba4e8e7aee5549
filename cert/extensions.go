package cert

import (
	"crypto/x509"
	"fmt"
	"net"

	"github.com/apitestkit/authcore/asn1"
)

// Extension is one decoded X.509 v3 extension.
type Extension struct {
	ID       asn1.OID
	Critical bool
	Value    []byte
}

// keyUsageNames maps BIT STRING positions to RFC 5280 key usage names.
var keyUsageNames = []string{
	"digitalSignature",
	"contentCommitment",
	"keyEncipherment",
	"dataEncipherment",
	"keyAgreement",
	"keyCertSign",
	"cRLSign",
	"encipherOnly",
	"decipherOnly",
}

// extKeyUsageNames maps EKU OIDs to readable names.
var extKeyUsageNames = map[string]string{
	"1.3.6.1.5.5.7.3.1": "serverAuth",
	"1.3.6.1.5.5.7.3.2": "clientAuth",
	"1.3.6.1.5.5.7.3.3": "codeSigning",
	"1.3.6.1.5.5.7.3.4": "emailProtection",
	"1.3.6.1.5.5.7.3.8": "timeStamping",
	"1.3.6.1.5.5.7.3.9": "OCSPSigning",
}

// ParseExtensions walks the raw certificate DER down to its extension
// list. The walk is lazy: only the TBSCertificate envelope and the
// explicit [3] extensions member are touched.
func ParseExtensions(c *x509.Certificate) ([]Extension, error) {
	if c == nil || len(c.Raw) == 0 {
		return nil, ErrNoCertificate
	}

	outer, _, err := asn1.Decode(c.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode certificate envelope: %w", err)
	}
	parts, err := asn1.Children(outer)
	if err != nil || len(parts) == 0 {
		return nil, fmt.Errorf("decode certificate members: %w", asn1.ErrTruncated)
	}

	tbs, err := asn1.Children(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode tbsCertificate: %w", err)
	}

	// extensions is the explicit [3] member of TBSCertificate.
	for _, member := range tbs {
		if member.Class == asn1.ClassContextSpecific && member.Tag == 3 {
			inner, err := asn1.Children(member)
			if err != nil || len(inner) == 0 {
				return nil, fmt.Errorf("decode extensions container: %w", asn1.ErrTruncated)
			}
			return decodeExtensionList(inner[0])
		}
	}

	return nil, nil
}

// decodeExtensionList decodes SEQUENCE OF Extension.
func decodeExtensionList(list *asn1.RawValue) ([]Extension, error) {
	if err := list.Expect(asn1.TagSequence); err != nil {
		return nil, err
	}

	entries, err := asn1.Children(list)
	if err != nil {
		return nil, err
	}

	out := make([]Extension, 0, len(entries))
	for _, entry := range entries {
		members, err := asn1.Children(entry)
		if err != nil || len(members) < 2 {
			return nil, fmt.Errorf("decode extension: %w", asn1.ErrTruncated)
		}

		oid, err := asn1.ParseOID(members[0].Bytes)
		if err != nil {
			return nil, err
		}

		ext := Extension{ID: oid}
		idx := 1
		if members[idx].Tag == asn1.TagBoolean && members[idx].Class == asn1.ClassUniversal {
			ext.Critical = len(members[idx].Bytes) == 1 && members[idx].Bytes[0] != 0
			idx++
		}
		if idx >= len(members) {
			return nil, fmt.Errorf("decode extension value: %w", asn1.ErrTruncated)
		}
		ext.Value = members[idx].Bytes

		out = append(out, ext)
	}

	return out, nil
}

// findExtension returns the extension with the given OID, or nil.
func findExtension(exts []Extension, oid asn1.OID) *Extension {
	for i := range exts {
		if exts[i].ID.Equal(oid) {
			return &exts[i]
		}
	}
	return nil
}

// KeyUsageNames extracts the named key usage bits from the certificate's
// keyUsage extension.
func KeyUsageNames(exts []Extension) ([]string, error) {
	ext := findExtension(exts, asn1.OIDKeyUsage)
	if ext == nil {
		return nil, nil
	}

	v, _, err := asn1.Decode(ext.Value)
	if err != nil {
		return nil, err
	}
	if err := v.Expect(asn1.TagBitString); err != nil {
		return nil, err
	}

	bits, err := asn1.ParseBitString(v.Bytes)
	if err != nil {
		return nil, err
	}

	var names []string
	for i, name := range keyUsageNames {
		if bits.At(i) == 1 {
			names = append(names, name)
		}
	}
	return names, nil
}

// ExtKeyUsageNames extracts extended key usage names, falling back to
// dotted OIDs for unrecognized purposes.
func ExtKeyUsageNames(exts []Extension) ([]string, error) {
	ext := findExtension(exts, asn1.OIDExtKeyUsage)
	if ext == nil {
		return nil, nil
	}

	v, _, err := asn1.Decode(ext.Value)
	if err != nil {
		return nil, err
	}
	oids, err := asn1.Children(v)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, raw := range oids {
		oid, err := asn1.ParseOID(raw.Bytes)
		if err != nil {
			return nil, err
		}
		if name, ok := extKeyUsageNames[oid.String()]; ok {
			names = append(names, name)
		} else {
			names = append(names, oid.String())
		}
	}
	return names, nil
}

// SubjectAltNames extracts DNS, email, IP, and URI SANs.
func SubjectAltNames(exts []Extension) ([]string, error) {
	ext := findExtension(exts, asn1.OIDSubjectAltName)
	if ext == nil {
		return nil, nil
	}

	v, _, err := asn1.Decode(ext.Value)
	if err != nil {
		return nil, err
	}
	generalNames, err := asn1.Children(v)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, gn := range generalNames {
		if gn.Class != asn1.ClassContextSpecific {
			continue
		}
		switch gn.Tag {
		case 1: // rfc822Name
			names = append(names, "email:"+string(gn.Bytes))
		case 2: // dNSName
			names = append(names, "DNS:"+string(gn.Bytes))
		case 6: // uniformResourceIdentifier
			names = append(names, "URI:"+string(gn.Bytes))
		case 7: // iPAddress
			names = append(names, "IP:"+net.IP(gn.Bytes).String())
		}
	}
	return names, nil
}

// OCSPServers extracts OCSP responder URLs from the authority
// information access extension.
func OCSPServers(exts []Extension) ([]string, error) {
	ext := findExtension(exts, asn1.OIDAuthorityInfoAccess)
	if ext == nil {
		return nil, nil
	}

	v, _, err := asn1.Decode(ext.Value)
	if err != nil {
		return nil, err
	}
	descriptions, err := asn1.Children(v)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, desc := range descriptions {
		members, err := asn1.Children(desc)
		if err != nil || len(members) != 2 {
			continue
		}
		oid, err := asn1.ParseOID(members[0].Bytes)
		if err != nil || !oid.Equal(asn1.OIDAccessOCSP) {
			continue
		}
		// accessLocation must be a [6] URI.
		if members[1].Class == asn1.ClassContextSpecific && members[1].Tag == 6 {
			urls = append(urls, string(members[1].Bytes))
		}
	}
	return urls, nil
}

// CRLDistributionPoints extracts CRL URLs from the certificate.
func CRLDistributionPoints(exts []Extension) ([]string, error) {
	ext := findExtension(exts, asn1.OIDCRLDistributionPoints)
	if ext == nil {
		return nil, nil
	}

	v, _, err := asn1.Decode(ext.Value)
	if err != nil {
		return nil, err
	}
	points, err := asn1.Children(v)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, point := range points {
		members, err := asn1.Children(point)
		if err != nil {
			continue
		}
		for _, member := range members {
			// distributionPoint [0] → fullName [0] → GeneralName [6] URI.
			if member.Class != asn1.ClassContextSpecific || member.Tag != 0 {
				continue
			}
			fullNames, err := asn1.Children(member)
			if err != nil {
				continue
			}
			for _, fn := range fullNames {
				if fn.Class != asn1.ClassContextSpecific || fn.Tag != 0 {
					continue
				}
				generalNames, err := asn1.Children(fn)
				if err != nil {
					continue
				}
				for _, gn := range generalNames {
					if gn.Class == asn1.ClassContextSpecific && gn.Tag == 6 {
						urls = append(urls, string(gn.Bytes))
					}
				}
			}
		}
	}
	return urls, nil
}

// SubjectPublicKeyBits returns the subjectPublicKey BIT STRING content
// from a certificate's SubjectPublicKeyInfo, as hashed into an OCSP
// issuer key hash.
func SubjectPublicKeyBits(c *x509.Certificate) ([]byte, error) {
	spki, _, err := asn1.Decode(c.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, err
	}
	members, err := asn1.Children(spki)
	if err != nil || len(members) != 2 {
		return nil, fmt.Errorf("decode subjectPublicKeyInfo: %w", asn1.ErrTruncated)
	}
	if err := members[1].Expect(asn1.TagBitString); err != nil {
		return nil, err
	}
	bits, err := asn1.ParseBitString(members[1].Bytes)
	if err != nil {
		return nil, err
	}
	return bits.Bytes, nil
}
