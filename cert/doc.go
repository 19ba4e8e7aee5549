// Package cert implements the certificate engine: loading client
// certificate material in PEM, DER, and PKCS#12 encodings, keeping it
// in a content-addressed store, validating it through a configurable
// pipeline, and checking revocation over OCSP with CRL fallback.
//
// Format detection is automatic. PKCS#12 extraction and encrypted-key
// decryption shell out to the openssl binary; everything else parses in
// process. X.509 extension walking (key usage, SANs, AIA, distribution
// points) runs on the asn1 package rather than relying on the standard
// library's pre-digested fields, so malformed or unusual extensions can
// be reported precisely.
//
// The Engine type is the facade the authentication dispatcher delegates
// to for certificate-scheme requests.
package cert
