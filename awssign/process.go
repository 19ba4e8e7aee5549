package awssign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// processTimeout bounds external credential-process execution.
const processTimeout = 30 * time.Second

// processOutput is the JSON contract of an external credential process.
type processOutput struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
	Expiration      string `json:"Expiration"`
}

// ProcessProvider resolves credentials by executing an external command
// that prints the credential JSON contract on stdout.
type ProcessProvider struct {
	command string
	logger  *zap.Logger
}

// NewProcessProvider creates a credential-process provider.
func NewProcessProvider(command string, logger *zap.Logger) *ProcessProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessProvider{command: command, logger: logger}
}

// Name implements Provider.
func (p *ProcessProvider) Name() string { return "credential-process" }

// Retrieve implements Provider.
func (p *ProcessProvider) Retrieve(ctx context.Context) (Credentials, error) {
	if strings.TrimSpace(p.command) == "" {
		return Credentials{}, ErrNoCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Credentials{}, fmt.Errorf("awssign: credential process failed: %v: %s",
			err, strings.TrimSpace(stderr.String()))
	}

	var out processOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Credentials{}, fmt.Errorf("awssign: decode credential process output: %w", err)
	}
	if out.Version != 1 {
		return Credentials{}, fmt.Errorf("awssign: unsupported credential process version %d", out.Version)
	}

	creds := Credentials{
		AccessKeyID:     out.AccessKeyID,
		SecretAccessKey: out.SecretAccessKey,
		SessionToken:    out.SessionToken,
		Source:          "credential-process",
	}
	if !creds.HasKeys() {
		return Credentials{}, ErrNoCredentials
	}
	if out.Expiration != "" {
		expiry, err := time.Parse(time.RFC3339, out.Expiration)
		if err != nil {
			return Credentials{}, fmt.Errorf("awssign: bad credential process expiration %q: %w", out.Expiration, err)
		}
		creds.Expiry = expiry
	}

	p.logger.Debug("credentials resolved by external process")
	return creds, nil
}
