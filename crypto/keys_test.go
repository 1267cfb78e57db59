package crypto

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, AddressLength)
	addr := MustNewAddress(TokenPrefix, raw)

	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("expected %s, got %s", addr, decoded)
	}
	if decoded.Prefix() != TokenPrefix {
		t.Fatalf("expected prefix %q, got %q", TokenPrefix, decoded.Prefix())
	}
}

func TestNewAddressRejectsBadLength(t *testing.T) {
	if _, err := NewAddress(ParticipantPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := NewAddress("", make([]byte, AddressLength)); err == nil {
		t.Fatalf("expected prefix error")
	}
}

func TestAddressTextMarshalling(t *testing.T) {
	addr := MustNewAddress(ParticipantPrefix, bytes.Repeat([]byte{0x07}, AddressLength))
	payload, err := json.Marshal(map[string]Address{"owner": addr})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]Address
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["owner"] != addr {
		t.Fatalf("expected %s, got %s", addr, out["owner"])
	}

	var zero Address
	if err := zero.UnmarshalText([]byte("  ")); err != nil {
		t.Fatalf("empty text: %v", err)
	}
	if !zero.IsZero() {
		t.Fatalf("expected zero address")
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := Digest([]byte("lend"), []byte("1000"))
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != key.PubKey().Address() {
		t.Fatalf("expected %s, got %s", key.PubKey().Address(), recovered)
	}

	other := Digest([]byte("borrow"))
	recovered, err = RecoverAddress(other, sig)
	if err == nil && recovered == key.PubKey().Address() {
		t.Fatalf("signature must not verify against a different digest")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "participant.keystore")
	if err := SaveToKeystoreWithParams(path, key, "secret", LightKeystore); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected owner-only keystore, got %v", info.Mode().Perm())
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key differs from original")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
