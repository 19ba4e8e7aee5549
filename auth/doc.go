// Package auth routes outbound requests through one of eleven
// authentication strategies: Basic, Bearer, API key, OAuth2 delegate,
// certificate delegate, NTLM, cloud-signature delegate, Digest, Hawk,
// JWT, and caller-supplied custom handlers.
//
// The dispatcher validates the scheme configuration, enforces
// per-scheme rate limits and security policies, dispatches to the
// strategy, and records metrics and audit events. Token and session
// state is cached with lazy expiry plus a background sweep; Digest and
// NTLM round trips are fed through HandleChallengeResponse.
package auth
