package cert

import (
	"context"
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineLoadValidateTLS(t *testing.T) {
	ca := newTestCA(t, "Engine CA")
	leaf, key := newTestLeaf(t, ca, leafSpec{
		CommonName: "engine.example.com",
		DNSNames:   []string{"engine.example.com"},
	})

	engine := NewEngine()

	content := append(certPEM(t, leaf), certPEM(t, ca.Cert)...)
	content = append(content, keyPEM(t, key)...)

	info, err := engine.Load(context.Background(), LoadInput{Content: content})
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Store().Len())

	// The loaded chain seeds validation when the caller supplies none.
	result, err := engine.Validate(context.Background(), info, ValidateOptions{
		Hostname: "engine.example.com",
	})
	require.NoError(t, err)
	assert.True(t, result.Valid, "errors: %v", result.Errors)

	cfg, err := engine.ClientTLSConfig(info)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.RootCAs)
	assert.EqualValues(t, tls.VersionTLS12, cfg.MinVersion)
}

func TestEngineTLSRequiresKey(t *testing.T) {
	ca := newTestCA(t, "Keyless CA")
	leaf, _ := newTestLeaf(t, ca, leafSpec{CommonName: "keyless.example.com"})

	engine := NewEngine()
	info, err := engine.Load(context.Background(), LoadInput{Content: certPEM(t, leaf)})
	require.NoError(t, err)

	_, err = engine.ClientTLSConfig(info)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestEngineValidateNil(t *testing.T) {
	_, err := NewEngine().Validate(context.Background(), nil, ValidateOptions{})
	assert.ErrorIs(t, err, ErrNoCertificate)
}
