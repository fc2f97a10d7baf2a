// Package identity owns duo accounts: registration, credential checks,
// recovery passkeys, activity stamping and presence.
//
// Storage is behind Store with in-memory and Postgres implementations.
package identity
