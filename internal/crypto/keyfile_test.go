package crypto

import (
	"strings"
	"testing"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("round trip mismatch: %s", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("expected failure with wrong password")
	}
}

func TestSignerDeterministicAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if !strings.HasPrefix(s.Address().Hex(), "0x") {
		t.Fatalf("unexpected address %s", s.Address().Hex())
	}

	sig1, err := s.SignAuthMessage(1_700_000_000, 0)
	if err != nil {
		t.Fatalf("sign auth: %v", err)
	}
	sig2, err := s.SignAuthMessage(1_700_000_000, 0)
	if err != nil {
		t.Fatalf("sign auth: %v", err)
	}
	if sig1 != sig2 {
		t.Fatal("signature not deterministic for identical input")
	}
	if len(sig1) != 2+65*2 {
		t.Fatalf("signature length = %d, want 132", len(sig1))
	}
}

func TestSignOrderRejectsBadNumbers(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	_, err = s.SignOrder(OrderPayload{Salt: "not-a-number"})
	if err == nil {
		t.Fatal("expected error for invalid salt")
	}
}

func TestL2HeadersAtDeterministic(t *testing.T) {
	h := &HMACAuth{Key: "key", Secret: "c2VjcmV0", Passphrase: "pass"}
	a := h.L2HeadersAt("0xabc", "POST", "/order", "{}", 1_700_000_000)
	b := h.L2HeadersAt("0xabc", "POST", "/order", "{}", 1_700_000_000)
	if a["POLY_SIGNATURE"] != b["POLY_SIGNATURE"] {
		t.Fatal("signatures differ for identical input")
	}
	if a["POLY_TIMESTAMP"] != "1700000000" {
		t.Fatalf("timestamp header = %s", a["POLY_TIMESTAMP"])
	}
}
