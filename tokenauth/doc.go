// Package tokenauth verifies bearer tokens issued by the Microsoft identity
// platform and maps them to a CallerIdentity.
//
// This package implements:
//   - JWKS retrieval with endpoint fallback and retry/backoff (HTTPKeySource)
//   - A shared key-set cache refreshed on unknown kid (CachingKeySource)
//   - Ordered audience/issuer validation strategies (Sequencer)
//   - Explicit expiry checking and claim-to-identity mapping (Evaluator)
//   - The per-request orchestrator (Verifier)
//
// The demo bypass token and degraded (unverified) mode are both off unless
// enabled in VerifierConfig.
package tokenauth
