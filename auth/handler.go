package auth

import (
	"context"
	"net/http"
	"time"
)

// Handler is the caller-supplied custom authentication strategy. The
// handler owns header production entirely.
type Handler interface {
	// Authenticate produces the headers for the request.
	Authenticate(ctx context.Context, req *http.Request) (map[string]string, error)
}

// RefreshHandler is implemented by handlers supporting ForceRefresh.
type RefreshHandler interface {
	// Refresh re-acquires credentials and produces fresh headers.
	Refresh(ctx context.Context, req *http.Request) (map[string]string, error)
}

// ChallengeHandler is implemented by handlers that participate in
// server challenge round trips.
type ChallengeHandler interface {
	// HandleChallenge answers a parsed server challenge.
	HandleChallenge(ctx context.Context, req *http.Request, challenge *Challenge) (map[string]string, error)
}

// Token is an access token issued by an OAuth2 provider.
type Token struct {
	// AccessToken is the token value.
	AccessToken string

	// TokenType is the header token type, defaulting to Bearer.
	TokenType string

	// ExpiresAt is the token expiry, zero for none.
	ExpiresAt time.Time

	// RefreshToken supports provider-side refresh.
	RefreshToken string

	// Scope is the granted scope string.
	Scope string
}

// OAuth2Provider is the external OAuth2 collaborator boundary. Full
// grant flows live outside this module; the dispatcher only consumes
// issued tokens.
type OAuth2Provider interface {
	// Token obtains an access token for the configuration.
	Token(ctx context.Context, cfg *OAuth2Config) (*Token, error)
}
