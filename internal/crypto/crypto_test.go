package crypto

import "testing"

func TestHashTokenStable(t *testing.T) {
	a := HashToken("sk-secret")
	b := HashToken("sk-secret")
	if a != b {
		t.Error("same token must hash to the same digest")
	}
	if a == HashToken("sk-other") {
		t.Error("different tokens must not collide")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}

func TestSealerRoundTrip(t *testing.T) {
	s := NewSealer("test-secret")

	sealed, err := s.Seal("sk-provider-key")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "sk-provider-key" {
		t.Error("sealed value must differ from plaintext")
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "sk-provider-key" {
		t.Errorf("opened = %q", opened)
	}
}

func TestSealerWrongKey(t *testing.T) {
	sealed, err := NewSealer("key-a").Seal("value")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := NewSealer("key-b").Open(sealed); err == nil {
		t.Error("opening with the wrong key must fail")
	}
}

func TestSealerInvalidCiphertext(t *testing.T) {
	s := NewSealer("secret")
	if _, err := s.Open("not-base64!!!"); err == nil {
		t.Error("garbage input must fail")
	}
	if _, err := s.Open("QQ=="); err != ErrInvalidCiphertext {
		t.Errorf("short ciphertext err = %v, want ErrInvalidCiphertext", err)
	}
}
