package awssign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitestkit/authcore/internal/cache"
)

// countingProvider records how many times it was asked to resolve.
type countingProvider struct {
	name  string
	creds Credentials
	err   error
	calls int
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) Retrieve(_ context.Context) (Credentials, error) {
	p.calls++
	if p.err != nil {
		return Credentials{}, p.err
	}
	return p.creds, nil
}

func testChainCreds(expiry time.Time) Credentials {
	return Credentials{
		AccessKeyID:     testAccessKey,
		SecretAccessKey: testSecretKey,
		Source:          "test",
		Expiry:          expiry,
	}
}

func TestChainOrder(t *testing.T) {
	failing := &countingProvider{name: "first", err: ErrNoCredentials}
	working := &countingProvider{name: "second", creds: testChainCreds(time.Time{})}
	skipped := &countingProvider{name: "third", creds: testChainCreds(time.Time{})}

	chain := NewChain([]Provider{failing, working, skipped}, []string{"order"})
	creds, err := chain.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testAccessKey, creds.AccessKeyID)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls)
	assert.Equal(t, 0, skipped.calls, "chain must stop at the first success")
}

func TestChainAggregatesFailures(t *testing.T) {
	first := &countingProvider{name: "env", err: ErrNoCredentials}
	second := &countingProvider{name: "metadata", err: ErrMetadataUnavailable}

	chain := NewChain([]Provider{first, second}, []string{"agg"})
	_, err := chain.Resolve(context.Background())
	require.Error(t, err)

	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Len(t, credErr.Failures, 2)
	assert.ErrorIs(t, credErr.Failures["env"], ErrNoCredentials)
	assert.ErrorIs(t, credErr.Failures["metadata"], ErrMetadataUnavailable)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestChainSkipsExpiredCredentials(t *testing.T) {
	expired := &countingProvider{name: "stale", creds: testChainCreds(time.Now().Add(-time.Hour))}
	fresh := &countingProvider{name: "fresh", creds: testChainCreds(time.Time{})}

	chain := NewChain([]Provider{expired, fresh}, []string{"expiry"})
	creds, err := chain.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.Source)
	assert.Equal(t, 1, expired.calls)
	assert.Equal(t, 1, fresh.calls)
}

func TestChainCachesResolution(t *testing.T) {
	provider := &countingProvider{name: "cached", creds: testChainCreds(time.Time{})}
	store := cache.NewMemory(cache.MemoryOptions{MaxEntries: 16})

	chain := NewChain([]Provider{provider}, []string{"cache"}, WithChainCache(store))

	for i := 0; i < 3; i++ {
		creds, err := chain.Resolve(context.Background())
		require.NoError(t, err)
		assert.True(t, creds.HasKeys())
	}
	assert.Equal(t, 1, provider.calls, "subsequent resolutions must hit the cache")

	chain.Invalidate(context.Background())
	_, err := chain.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestChainCachesShortLivedCredentials(t *testing.T) {
	provider := &countingProvider{name: "short", creds: testChainCreds(time.Now().Add(expiryWindow + time.Minute))}
	store := cache.NewMemory(cache.MemoryOptions{MaxEntries: 16})

	chain := NewChain([]Provider{provider}, []string{"short"}, WithChainCache(store))

	_, err := chain.Resolve(context.Background())
	require.NoError(t, err)
	_, err = chain.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls, "short-lived credentials still cache until their refresh point")
}

func TestChainCacheKeyIsolation(t *testing.T) {
	store := cache.NewMemory(cache.MemoryOptions{MaxEntries: 16})

	first := &countingProvider{name: "a", creds: testChainCreds(time.Time{})}
	second := &countingProvider{name: "b", creds: Credentials{
		AccessKeyID:     "AKIAOTHERKEY",
		SecretAccessKey: "otherSecret",
		Source:          "test",
	}}

	chainA := NewChain([]Provider{first}, []string{"profile-a"}, WithChainCache(store))
	chainB := NewChain([]Provider{second}, []string{"profile-b"}, WithChainCache(store))

	credsA, err := chainA.Resolve(context.Background())
	require.NoError(t, err)
	credsB, err := chainB.Resolve(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, credsA.AccessKeyID, credsB.AccessKeyID)
}

func TestAssumeRoleProvider(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	stub := &stsStub{body: stsResponseXML("AssumeRole", expiry)}
	client := newSTSTestClient(t, stub)

	source := &countingProvider{name: "source", creds: testChainCreds(time.Time{})}
	provider := NewAssumeRoleProvider(source, client, AssumeRoleInput{
		RoleARN: "arn:aws:iam::123456789012:role/chained",
	})

	creds, err := provider.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sts-assume-role", creds.Source)
	assert.Equal(t, "arn:aws:iam::123456789012:role/chained", stub.form.Get("RoleArn"))
}

func TestAssumeRoleProviderSourceFailure(t *testing.T) {
	source := &countingProvider{name: "source", err: ErrNoCredentials}
	provider := NewAssumeRoleProvider(source, NewSTSClient(""), AssumeRoleInput{
		RoleARN: "arn:aws:iam::123456789012:role/chained",
	})

	_, err := provider.Retrieve(context.Background())
	assert.True(t, errors.Is(err, ErrNoCredentials))
}
