package token

import "testing"

func TestHashSecretHex_SwitchesOnKey(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	plain := HashSecretHex("ABCD1234")
	if plain != HashSHA256Hex("ABCD1234") {
		t.Fatalf("unkeyed digest should be SHA-256")
	}

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	keyed := HashSecretHex("ABCD1234")
	if keyed == plain {
		t.Fatalf("keyed digest should differ from SHA-256")
	}
	if len(keyed) != 64 {
		t.Fatalf("len(keyed)=%d want=64", len(keyed))
	}
}

func TestMatchSecretHex(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	stored := HashSecretHex("passkey-1")
	if !MatchSecretHex("passkey-1", stored) {
		t.Fatalf("expected match")
	}
	if MatchSecretHex("passkey-2", stored) {
		t.Fatalf("unexpected match")
	}
	if MatchSecretHex("passkey-1", "short") {
		t.Fatalf("malformed digest must not match")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("err=%v want=%v", err, ErrHMACKeyMissing)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("err=%v want=%v", err, ErrHMACKeyTooShort)
	}
}
