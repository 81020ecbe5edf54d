package internal

import (
	"testing"
	"time"
)

func TestResetTokenRoundTrip(t *testing.T) {
	token, err := NewResetToken()
	if err != nil {
		t.Fatalf("NewResetToken failed: %v", err)
	}

	encoded := token.String()
	if len(encoded) != 43 {
		t.Fatalf("expected 43 char token, got %d", len(encoded))
	}

	parsed, err := ParseResetToken(encoded)
	if err != nil {
		t.Fatalf("ParseResetToken failed: %v", err)
	}
	if parsed != token {
		t.Fatal("parsed token differs from original")
	}
	if parsed.Hash() != token.Hash() {
		t.Fatal("hash mismatch for identical tokens")
	}
}

func TestResetTokensAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		token, err := NewResetToken()
		if err != nil {
			t.Fatalf("NewResetToken failed: %v", err)
		}
		if _, ok := seen[token.String()]; ok {
			t.Fatal("duplicate reset token generated")
		}
		seen[token.String()] = struct{}{}
	}
}

func TestParseResetTokenRejectsMalformed(t *testing.T) {
	token, _ := NewResetToken()
	valid := token.String()

	cases := []string{
		"",
		"abc",
		valid + "A",
		valid[:len(valid)-1],
		"!!" + valid[2:],
		valid + "=",
	}
	for _, in := range cases {
		if _, err := ParseResetToken(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestParseSessionID(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("ParseSessionID failed: %v", err)
	}
	if parsed != sid {
		t.Fatal("session id roundtrip mismatch")
	}
	if _, err := ParseSessionID("not a session"); err == nil {
		t.Fatal("expected malformed session id to fail")
	}
}

func TestNewTemporaryPassword(t *testing.T) {
	a, err := NewTemporaryPassword()
	if err != nil {
		t.Fatalf("NewTemporaryPassword failed: %v", err)
	}
	b, _ := NewTemporaryPassword()
	if len(a) != 24 {
		t.Fatalf("expected 24 chars, got %d", len(a))
	}
	if a == b {
		t.Fatal("temporary passwords must differ")
	}
}

func TestRandomDurationBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := RandomDuration(10 * time.Millisecond)
		if d < 0 || d >= 10*time.Millisecond {
			t.Fatalf("duration out of range: %v", d)
		}
	}
	if RandomDuration(0) != 0 {
		t.Fatal("zero max must yield zero")
	}
}

// FuzzParseResetToken exercises reset token parsing with arbitrary strings.
func FuzzParseResetToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("!!!not-base64!!!")
	if token, err := NewResetToken(); err == nil {
		f.Add(token.String())
	}

	f.Fuzz(func(t *testing.T, input string) {
		token, err := ParseResetToken(input)
		if err != nil {
			return
		}
		if token.String() != input {
			t.Fatalf("non-canonical token accepted: %q", input)
		}
	})
}
