package identity

import (
	"strings"
	"testing"
)

func TestRandomCode_Alphabet(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := RandomCode(8)
		if err != nil {
			t.Fatalf("RandomCode(): %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("len=%d want=8", len(code))
		}
		if strings.Trim(code, passkeyAlphabet) != "" {
			t.Fatalf("code %q outside alphabet", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Fatalf("too many collisions: %d unique of 200", len(seen))
	}
}

func TestNormalizeAndValidate(t *testing.T) {
	t.Parallel()

	if got := NormalizeUsername("  MiXeD "); got != "mixed" {
		t.Fatalf("NormalizeUsername()=%q", got)
	}
	if !validUsername("ok_name.1") || validUsername("ab") || validUsername("has space") {
		t.Fatalf("validUsername mismatch")
	}
	if !validEmail("a@b.co") || validEmail("Name <a@b.co>") {
		t.Fatalf("validEmail mismatch")
	}
}
