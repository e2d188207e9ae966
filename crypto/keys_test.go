package crypto

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	var addr Address
	for i := range addr {
		addr[i] = byte(i + 1)
	}
	encoded := addr.String()
	if !strings.HasPrefix(encoded, AddressPrefix+"1") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}
	decoded, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if decoded != addr {
		t.Fatalf("bech32 mismatch: got %x want %x", decoded, addr)
	}
	fromHex, err := ParseAddress(addr.Hex())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != addr {
		t.Fatalf("hex mismatch: got %x want %x", fromHex, addr)
	}
}

func TestParseAddressRejectsShortHex(t *testing.T) {
	if _, err := ParseAddress("0x0102"); err == nil {
		t.Fatalf("expected error for short hex address")
	}
	if _, err := ParseAddress("   "); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if loaded.PubKey().Address() != key.PubKey().Address() {
		t.Fatalf("address mismatch after keystore round trip")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
