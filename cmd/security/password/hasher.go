package password

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Hasher produces and checks Argon2id PHC strings under one Config.
type Hasher struct {
	cfg Config
}

func New(cfg Config) *Hasher { return &Hasher{cfg: cfg} }

// NewFromEnv builds a Hasher from FromEnv.
func NewFromEnv() (*Hasher, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

func (h *Hasher) Policy() Policy { return h.cfg.Policy }

// Hash checks pw against the policy and returns its PHC encoding.
func (h *Hasher) Hash(pw string) (string, error) {
	if err := h.cfg.Policy.Check(pw); err != nil {
		return "", err
	}
	p := h.cfg.Params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(pw), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return encodePHC(p, salt, key), nil
}

// Verify reports whether pw matches encoded. Malformed hashes, and hashes whose
// cost exceeds twice the configured cost, return ErrInvalidHash.
func (h *Hasher) Verify(encoded, pw string) (bool, error) {
	p, salt, want, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !h.acceptable(p) {
		return false, ErrInvalidHash
	}
	got := argon2.IDKey([]byte(pw), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker params than h.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, _, _, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	c := h.cfg.Params
	return p.MemoryKiB < c.MemoryKiB || p.Iterations < c.Iterations || p.KeyLength < c.KeyLength
}

func (h *Hasher) acceptable(p Params) bool {
	c := h.cfg.Params
	return p.MemoryKiB <= c.MemoryKiB*2 &&
		p.Iterations <= c.Iterations*2 &&
		p.Parallelism <= c.Parallelism*2 &&
		p.SaltLength >= 8 && p.SaltLength <= 64 &&
		p.KeyLength >= 16 && p.KeyLength <= 128
}
