package security

import (
	"testing"
)

func TestHashToken_Consistent(t *testing.T) {
	token := "test-refresh-token-123"
	hash1 := HashToken(token)
	hash2 := HashToken(token)

	if hash1 != hash2 {
		t.Errorf("HashToken not consistent: hash1 = %q, hash2 = %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
}

func TestHashToken_DifferentTokens(t *testing.T) {
	if HashToken("token-1") == HashToken("token-2") {
		t.Error("HashToken produced same hash for different tokens")
	}
}

func TestTokenFingerprint(t *testing.T) {
	token := "test-refresh-token-456"
	fp := TokenFingerprint(token)
	if len(fp) != 16 {
		t.Fatalf("fingerprint length = %d, want 16", len(fp))
	}
	if fp != HashToken(token)[:16] {
		t.Errorf("fingerprint = %q, want prefix of hash", fp)
	}
	if TokenFingerprint("") != "" {
		t.Error("fingerprint of empty token should be empty")
	}
}
