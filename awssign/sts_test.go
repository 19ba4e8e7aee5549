package awssign

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stsResponseTemplate = `<%sResponse>
  <%sResult>
    <Credentials>
      <AccessKeyId>ASIAEXAMPLEKEY</AccessKeyId>
      <SecretAccessKey>sessionSecret</SecretAccessKey>
      <SessionToken>sessionToken</SessionToken>
      <Expiration>%s</Expiration>
    </Credentials>
  </%sResult>
</%sResponse>`

func stsResponseXML(action string, expiry time.Time) string {
	return fmt.Sprintf(stsResponseTemplate,
		action, action, expiry.UTC().Format(time.RFC3339), action, action)
}

// stsStub captures the last request form and auth header.
type stsStub struct {
	form   url.Values
	auth   string
	status int
	body   string
}

func (s *stsStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	s.form = r.PostForm
	s.auth = r.Header.Get("Authorization")
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	fmt.Fprint(w, s.body)
}

func newSTSTestClient(t *testing.T, stub *stsStub) *STSClient {
	t.Helper()
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	return NewSTSClient("us-east-1",
		WithSTSEndpoint(server.URL),
		WithSTSHTTPClient(server.Client()))
}

func TestAssumeRole(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	stub := &stsStub{body: stsResponseXML("AssumeRole", expiry)}
	client := newSTSTestClient(t, stub)

	source := Credentials{AccessKeyID: testAccessKey, SecretAccessKey: testSecretKey}
	creds, err := client.AssumeRole(context.Background(), source, AssumeRoleInput{
		RoleARN:     "arn:aws:iam::123456789012:role/tester",
		SessionName: "api-test",
		Duration:    15 * time.Minute,
		ExternalID:  "ext-42",
	})
	require.NoError(t, err)

	assert.Equal(t, "ASIAEXAMPLEKEY", creds.AccessKeyID)
	assert.Equal(t, "sessionSecret", creds.SecretAccessKey)
	assert.Equal(t, "sessionToken", creds.SessionToken)
	assert.Equal(t, "sts-assume-role", creds.Source)
	assert.True(t, creds.Expiry.Equal(expiry))

	assert.Equal(t, "AssumeRole", stub.form.Get("Action"))
	assert.Equal(t, "arn:aws:iam::123456789012:role/tester", stub.form.Get("RoleArn"))
	assert.Equal(t, "api-test", stub.form.Get("RoleSessionName"))
	assert.Equal(t, "900", stub.form.Get("DurationSeconds"))
	assert.Equal(t, "ext-42", stub.form.Get("ExternalId"))

	// The call must be signed with the source credentials.
	assert.Contains(t, stub.auth, "AWS4-HMAC-SHA256 Credential="+testAccessKey)
	assert.Contains(t, stub.auth, "/us-east-1/sts/aws4_request")
}

func TestAssumeRoleValidation(t *testing.T) {
	client := NewSTSClient("")
	_, err := client.AssumeRole(context.Background(), Credentials{}, AssumeRoleInput{})
	assert.Error(t, err)
}

func TestAssumeRoleServerError(t *testing.T) {
	stub := &stsStub{status: http.StatusForbidden}
	client := newSTSTestClient(t, stub)

	source := Credentials{AccessKeyID: testAccessKey, SecretAccessKey: testSecretKey}
	_, err := client.AssumeRole(context.Background(), source, AssumeRoleInput{
		RoleARN: "arn:aws:iam::123456789012:role/tester",
	})
	assert.Error(t, err)
}

func TestAssumeRoleWithWebIdentity(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	stub := &stsStub{body: stsResponseXML("AssumeRoleWithWebIdentity", expiry)}
	client := newSTSTestClient(t, stub)

	creds, err := client.AssumeRoleWithWebIdentity(context.Background(),
		"arn:aws:iam::123456789012:role/federated", "web-session", "oidc-token")
	require.NoError(t, err)

	assert.Equal(t, "sts-web-identity", creds.Source)
	assert.Equal(t, "ASIAEXAMPLEKEY", creds.AccessKeyID)

	assert.Equal(t, "AssumeRoleWithWebIdentity", stub.form.Get("Action"))
	assert.Equal(t, "oidc-token", stub.form.Get("WebIdentityToken"))
	assert.Empty(t, stub.auth, "federation call must be unsigned")
}

func TestAssumeRoleWithWebIdentityValidation(t *testing.T) {
	client := NewSTSClient("")
	_, err := client.AssumeRoleWithWebIdentity(context.Background(), "", "", "")
	assert.Error(t, err)
}
