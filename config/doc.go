// Package config loads and validates the toolkit's YAML configuration.
// The file describes engine tunables only: cache backends and TTLs,
// token refresh buffers, rate limit quotas, security policies, and
// revocation settings. Credentials themselves never live here; they
// arrive per request or through the environment.
package config
