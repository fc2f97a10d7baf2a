// Package session issues and verifies duo's bearer access tokens.
//
// Tokens are PASETO v4.public, signed with an Ed25519 key from DUO_PASETO_V4_SECRET_KEY_HEX.
// They carry the user id and a token id and are not stored server side.
package session
