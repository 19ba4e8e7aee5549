package awssign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"
)

// maxProfileDepth caps source_profile chaining to break reference cycles.
const maxProfileDepth = 5

// SharedFileProvider resolves credentials from the shared ini-style
// credentials file: static keys, nested role assumption through
// source_profile, web-identity federation, and external credential
// processes. The parsed file is cached and invalidated when the file
// changes on disk.
type SharedFileProvider struct {
	path    string
	profile string
	sts     *STSClient
	logger  *zap.Logger

	mu      sync.RWMutex
	file    *ini.File
	watcher *fsnotify.Watcher
}

// SharedFileOption configures a SharedFileProvider.
type SharedFileOption func(*SharedFileProvider)

// WithSharedFilePath overrides the credentials file location.
func WithSharedFilePath(path string) SharedFileOption {
	return func(p *SharedFileProvider) {
		p.path = path
	}
}

// WithSharedFileProfile selects the profile to resolve.
func WithSharedFileProfile(profile string) SharedFileOption {
	return func(p *SharedFileProvider) {
		p.profile = profile
	}
}

// WithSharedFileSTS sets the STS client used for role assumption.
func WithSharedFileSTS(sts *STSClient) SharedFileOption {
	return func(p *SharedFileProvider) {
		p.sts = sts
	}
}

// WithSharedFileLogger sets the structured logger.
func WithSharedFileLogger(logger *zap.Logger) SharedFileOption {
	return func(p *SharedFileProvider) {
		p.logger = logger
	}
}

// NewSharedFileProvider creates a shared-credentials-file provider.
// Path and profile default from the environment, then to the
// conventional locations.
func NewSharedFileProvider(opts ...SharedFileOption) *SharedFileProvider {
	p := &SharedFileProvider{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.path == "" {
		p.path = os.Getenv(envSharedFile)
	}
	if p.path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			p.path = filepath.Join(home, ".aws", "credentials")
		}
	}
	if p.profile == "" {
		p.profile = os.Getenv(envProfile)
	}
	if p.profile == "" {
		p.profile = "default"
	}
	if p.sts == nil {
		p.sts = NewSTSClient("", WithSTSLogger(p.logger))
	}
	p.startWatcher()
	return p
}

// Name implements Provider.
func (p *SharedFileProvider) Name() string { return "shared-file" }

// Retrieve implements Provider.
func (p *SharedFileProvider) Retrieve(ctx context.Context) (Credentials, error) {
	file, err := p.load()
	if err != nil {
		return Credentials{}, err
	}
	return p.resolveProfile(ctx, file, p.profile, 0)
}

// Close stops the file watcher.
func (p *SharedFileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}
	return nil
}

// load returns the parsed file, reading it on first use or after a
// change invalidated the cache.
func (p *SharedFileProvider) load() (*ini.File, error) {
	p.mu.RLock()
	file := p.file
	p.mu.RUnlock()
	if file != nil {
		return file, nil
	}

	parsed, err := ini.Load(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredentialsFile, err)
	}

	p.mu.Lock()
	p.file = parsed
	p.mu.Unlock()
	return parsed, nil
}

// startWatcher invalidates the cached parse when the file changes.
// Watching is best effort; a missing file or watch failure just means
// every Retrieve re-reads.
func (p *SharedFileProvider) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Debug("credentials file watch unavailable", zap.Error(err))
		return
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		p.logger.Debug("credentials file watch unavailable", zap.Error(err))
		_ = watcher.Close()
		return
	}
	p.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != p.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					p.mu.Lock()
					p.file = nil
					p.mu.Unlock()
					p.logger.Debug("credentials file changed, cache invalidated",
						zap.String("path", p.path))
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// resolveProfile resolves one profile, recursing through source_profile
// references up to the depth cap.
func (p *SharedFileProvider) resolveProfile(ctx context.Context, file *ini.File, name string, depth int) (Credentials, error) {
	if depth > maxProfileDepth {
		return Credentials{}, fmt.Errorf("%w: profile chain deeper than %d", ErrMalformedCredentialsFile, maxProfileDepth)
	}

	section := lookupSection(file, name)
	if section == nil {
		return Credentials{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}

	roleARN := section.Key("role_arn").String()
	if roleARN != "" {
		return p.assumeFromProfile(ctx, file, section, roleARN, depth)
	}

	if command := section.Key("credential_process").String(); command != "" {
		return NewProcessProvider(command, p.logger).Retrieve(ctx)
	}

	creds := Credentials{
		AccessKeyID:     section.Key("aws_access_key_id").String(),
		SecretAccessKey: section.Key("aws_secret_access_key").String(),
		SessionToken:    section.Key("aws_session_token").String(),
		Source:          "shared-file",
	}
	if !creds.HasKeys() {
		return Credentials{}, fmt.Errorf("%w: profile %q has no key material", ErrNoCredentials, name)
	}
	return creds, nil
}

// assumeFromProfile performs the role assumption a profile demands,
// via web identity when a token file is named, otherwise through the
// source profile's credentials.
func (p *SharedFileProvider) assumeFromProfile(ctx context.Context, file *ini.File, section *ini.Section, roleARN string, depth int) (Credentials, error) {
	sessionName := section.Key("role_session_name").String()

	if tokenFile := section.Key("web_identity_token_file").String(); tokenFile != "" {
		token, err := os.ReadFile(tokenFile)
		if err != nil {
			return Credentials{}, fmt.Errorf("awssign: read web identity token: %w", err)
		}
		return p.sts.AssumeRoleWithWebIdentity(ctx, roleARN, sessionName, strings.TrimSpace(string(token)))
	}

	sourceName := section.Key("source_profile").String()
	if sourceName == "" {
		return Credentials{}, fmt.Errorf("%w: role_arn without source_profile or web_identity_token_file", ErrMalformedCredentialsFile)
	}

	source, err := p.resolveProfile(ctx, file, sourceName, depth+1)
	if err != nil {
		return Credentials{}, err
	}

	input := AssumeRoleInput{
		RoleARN:     roleARN,
		SessionName: sessionName,
		ExternalID:  section.Key("external_id").String(),
		MFASerial:   section.Key("mfa_serial").String(),
	}
	if seconds, err := strconv.Atoi(section.Key("duration_seconds").String()); err == nil && seconds > 0 {
		input.Duration = time.Duration(seconds) * time.Second
	}

	creds, err := p.sts.AssumeRole(ctx, source, input)
	if err != nil {
		return Credentials{}, err
	}
	creds.Source = "shared-file-assume-role"
	return creds, nil
}

// lookupSection finds a profile section by bare name or the config-file
// style "profile name" heading.
func lookupSection(file *ini.File, name string) *ini.Section {
	if section, err := file.GetSection(name); err == nil {
		return section
	}
	if section, err := file.GetSection("profile " + name); err == nil {
		return section
	}
	return nil
}
