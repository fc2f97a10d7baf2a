// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes are stored in PHC string format so parameters can be raised later
// without invalidating existing rows. NeedsRehash reports when a stored hash
// was produced with weaker settings than the current Hasher.
package password
