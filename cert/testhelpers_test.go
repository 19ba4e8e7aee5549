package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testCA is a throwaway CA for signing test leaves.
type testCA struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

func newTestCA(t *testing.T, commonName string) *testCA {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"authcore test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{Cert: cert, Key: key}
}

// leafSpec shapes a test leaf certificate.
type leafSpec struct {
	CommonName string
	DNSNames   []string
	Emails     []string
	NotBefore  time.Time
	NotAfter   time.Time
	Serial     int64
	KeyBits    int
	OCSPServer []string
	CRLURLs    []string
	ExtKeyUsage []x509.ExtKeyUsage
}

// newTestLeaf signs a leaf with the CA and returns it with its key.
func newTestLeaf(t *testing.T, ca *testCA, spec leafSpec) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	if spec.KeyBits == 0 {
		spec.KeyBits = 2048
	}
	if spec.Serial == 0 {
		spec.Serial = 42
	}
	if spec.NotBefore.IsZero() {
		spec.NotBefore = time.Now().Add(-time.Hour)
	}
	if spec.NotAfter.IsZero() {
		spec.NotAfter = time.Now().Add(12 * time.Hour)
	}
	if spec.ExtKeyUsage == nil {
		spec.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	key, err := rsa.GenerateKey(rand.Reader, spec.KeyBits)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(spec.Serial),
		Subject:               pkix.Name{CommonName: spec.CommonName},
		NotBefore:             spec.NotBefore,
		NotAfter:              spec.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           spec.ExtKeyUsage,
		DNSNames:              spec.DNSNames,
		EmailAddresses:        spec.Emails,
		OCSPServer:            spec.OCSPServer,
		CRLDistributionPoints: spec.CRLURLs,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &key.PublicKey, ca.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return cert, key
}

// newSelfSigned builds a self-signed leaf.
func newSelfSigned(t *testing.T, commonName string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(12 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return cert, key
}

func certPEM(t *testing.T, cert *x509.Certificate) []byte {
	t.Helper()
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func keyPEM(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}
