package cert

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// openssl is the external toolchain used for PKCS#12 extraction and
// encrypted-key decryption; the only place the engine shells out.
const opensslBinary = "openssl"

// defaultToolchainTimeout bounds each openssl invocation.
const defaultToolchainTimeout = 10 * time.Second

// LoadInput describes certificate material to load.
type LoadInput struct {
	// Path is the file to read. Ignored when Content is set.
	Path string

	// Content is in-memory material; Path is then only a format hint.
	Content []byte

	// KeyPath optionally points at a separate private key file.
	KeyPath string

	// Passphrase decrypts PKCS#12 containers and encrypted keys.
	Passphrase string

	// CAPath optionally points at a PEM bundle of CA certificates.
	CAPath string
}

// Loader detects certificate formats and parses them into Info.
type Loader struct {
	logger           *zap.Logger
	toolchainTimeout time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the structured logger.
func WithLoaderLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithToolchainTimeout bounds openssl invocations.
func WithToolchainTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.toolchainTimeout = d
		}
	}
}

// NewLoader creates a certificate loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:           zap.NewNop(),
		toolchainTimeout: defaultToolchainTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads and parses certificate material, detecting the format from
// PEM markers, PKCS#12 magic bytes, or the file extension.
func (l *Loader) Load(ctx context.Context, in LoadInput) (*Info, error) {
	content := in.Content
	if content == nil {
		if in.Path == "" {
			return nil, NewCertificateErrorWithCause("load", "", "no path or content", ErrNoCertificate)
		}
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return nil, NewCertificateErrorWithCause("load", "", "read certificate file", err)
		}
		content = data
	}
	if len(content) == 0 {
		return nil, NewCertificateErrorWithCause("load", "", "empty certificate input", ErrNoCertificate)
	}

	format := DetectFormat(content, in.Path)

	var (
		info *Info
		err  error
	)
	switch format {
	case FormatPEM:
		info, err = l.loadPEM(ctx, content, in.Passphrase)
	case FormatDER:
		info, err = l.loadDER(content)
	case FormatPKCS12:
		info, err = l.loadPKCS12(ctx, content, in.Passphrase)
	default:
		return nil, NewCertificateErrorWithCause("load", "", "format detection failed", ErrUnknownFormat)
	}
	if err != nil {
		return nil, err
	}
	info.Format = format

	if in.KeyPath != "" && len(info.PrivateKeyPEM) == 0 {
		keyPEM, keyErr := l.loadKeyFile(ctx, in.KeyPath, in.Passphrase)
		if keyErr != nil {
			return nil, keyErr
		}
		info.PrivateKeyPEM = keyPEM
	}

	if in.CAPath != "" {
		chain, caErr := loadCABundle(in.CAPath)
		if caErr != nil {
			return nil, caErr
		}
		info.CAChain = append(info.CAChain, chain...)
	}

	l.logger.Debug("certificate loaded",
		zap.String("format", string(format)),
		zap.String("subject", info.Subject()),
		zap.String("hash", info.ContentHash))

	return info, nil
}

// DetectFormat detects certificate encoding. PEM markers win, then the
// PKCS#12 file extension, then DER/PKCS#12 disambiguation on content.
func DetectFormat(content []byte, path string) Format {
	if bytes.Contains(content, []byte("-----BEGIN ")) {
		return FormatPEM
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return FormatPKCS12
	case ".der", ".cer", ".crt":
		return FormatDER
	}

	// Both DER certificates and PKCS#12 containers open with a DER
	// SEQUENCE (30 82 ...). A PKCS#12 PFX then carries a small INTEGER
	// version (3) as its first element; a certificate carries a nested
	// SEQUENCE.
	if len(content) >= 6 && content[0] == 0x30 && content[1] == 0x82 {
		if content[4] == 0x02 && content[5] == 0x01 {
			return FormatPKCS12
		}
		return FormatDER
	}

	return FormatDER
}

// loadPEM parses PEM blocks: certificates in order (leaf first), plus an
// optional private key. Encrypted keys go through the toolchain.
func (l *Loader) loadPEM(ctx context.Context, content []byte, passphrase string) (*Info, error) {
	var (
		certs  []*x509.Certificate
		keyPEM []byte
	)

	rest := content
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		switch {
		case block.Type == "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, NewCertificateErrorWithCause("parse", "", "parse PEM certificate", errors.Join(ErrMalformedCertificate, err))
			}
			certs = append(certs, c)
		case strings.Contains(block.Type, "PRIVATE KEY"):
			encoded := pem.EncodeToMemory(block)
			if isEncryptedKeyBlock(block) {
				decrypted, err := l.decryptKey(ctx, encoded, passphrase)
				if err != nil {
					return nil, err
				}
				encoded = decrypted
			}
			keyPEM = encoded
		}
	}

	if len(certs) == 0 {
		return nil, NewCertificateErrorWithCause("parse", "", "no certificate block in PEM input", ErrMalformedCertificate)
	}

	leaf := certs[0]
	return &Info{
		Certificate:    leaf,
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw}),
		PrivateKeyPEM:  keyPEM,
		CAChain:        certs[1:],
		ContentHash:    contentHash(leaf.Raw),
	}, nil
}

// loadDER parses a single DER certificate.
func (l *Loader) loadDER(content []byte) (*Info, error) {
	c, err := x509.ParseCertificate(content)
	if err != nil {
		return nil, NewCertificateErrorWithCause("parse", "", "parse DER certificate", errors.Join(ErrMalformedCertificate, err))
	}

	return &Info{
		Certificate:    c,
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw}),
		ContentHash:    contentHash(c.Raw),
	}, nil
}

// loadPKCS12 extracts a PKCS#12 container via the external toolchain and
// re-parses the PEM output.
func (l *Loader) loadPKCS12(ctx context.Context, content []byte, passphrase string) (*Info, error) {
	out, err := l.runToolchain(ctx, content,
		"pkcs12", "-nodes", "-passin", "pass:"+passphrase)
	if err != nil {
		return nil, NewCertificateErrorWithCause("pkcs12", "", "extract PKCS#12 container", err)
	}
	return l.loadPEM(ctx, out, "")
}

// loadKeyFile reads a separate key file, decrypting it if needed.
func (l *Loader) loadKeyFile(ctx context.Context, path, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewCertificateErrorWithCause("load", "", "read key file", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, NewCertificateErrorWithCause("parse", "", "key file is not PEM", ErrMalformedKey)
	}
	if isEncryptedKeyBlock(block) {
		return l.decryptKey(ctx, data, passphrase)
	}
	return data, nil
}

// decryptKey strips a passphrase from an encrypted key via the toolchain.
func (l *Loader) decryptKey(ctx context.Context, keyPEM []byte, passphrase string) ([]byte, error) {
	out, err := l.runToolchain(ctx, keyPEM,
		"pkey", "-passin", "pass:"+passphrase)
	if err != nil {
		return nil, NewCertificateErrorWithCause("decrypt", "", "decrypt private key", errors.Join(ErrMalformedKey, err))
	}
	return out, nil
}

// runToolchain invokes openssl with input on stdin under a timeout.
func (l *Loader) runToolchain(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.toolchainTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, opensslBinary, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: openssl %s", ErrTimeout, args[0])
		}
		return nil, fmt.Errorf("openssl %s: %v: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

// isEncryptedKeyBlock reports whether a PEM key block is encrypted.
func isEncryptedKeyBlock(block *pem.Block) bool {
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		return true
	}
	_, hasProcType := block.Headers["Proc-Type"]
	return hasProcType
}

// loadCABundle reads a PEM bundle of CA certificates.
func loadCABundle(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewCertificateErrorWithCause("load", "", "read CA bundle", err)
	}

	var out []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, NewCertificateErrorWithCause("parse", "", "parse CA bundle certificate", errors.Join(ErrMalformedCertificate, err))
		}
		out = append(out, c)
	}

	if len(out) == 0 {
		return nil, NewCertificateErrorWithCause("parse", "", "no certificates in CA bundle", ErrMalformedCertificate)
	}
	return out, nil
}
