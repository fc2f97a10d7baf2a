// Package token digests server-side secrets (recovery passkeys) for storage.
//
// Digests are SHA-256 by default and HMAC-SHA256 when DUO_SECRET_HMAC_KEY is set.
// Output is always 64 hex characters so stored values compare in constant time.
package token
