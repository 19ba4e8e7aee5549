// Package awssign implements the cloud request signing engine:
// credential resolution through an ordered provider chain, the v4
// header signature with its legacy v2 and object-storage variants,
// presigned URLs, and rolling chunk signatures for streaming uploads.
//
// The credential chain walks explicit configuration, the environment,
// the shared ini-style credentials file (with nested role assumption,
// web-identity federation, and external credential processes), the
// container credential endpoint, the instance metadata service (v2
// token flow with v1 fallback), and an external process, caching the
// first success until expiry. Derived v4 signing keys are cached by
// (secret digest, date, region, service).
package awssign
