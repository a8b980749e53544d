package blockchain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestGetAddressFromPrivateKeyECDSA(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	addr := GetAddressFromPrivateKeyECDSA(priv)
	if addr == nil {
		t.Fatal("expected non-nil address")
	}
	want := crypto.PubkeyToAddress(priv.PublicKey)
	if *addr != want {
		t.Fatalf("unexpected address: got %s want %s", addr.Hex(), want.Hex())
	}

	if GetAddressFromPrivateKeyECDSA(nil) != nil {
		t.Fatal("expected nil for nil key")
	}
}

func TestParsePrivateKeyECDSA(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	hexKey := hex.EncodeToString(crypto.FromECDSA(priv))

	addr, parsedKey, err := ParsePrivateKeyECDSA(hexKey)
	if err != nil {
		t.Fatalf("ParsePrivateKeyECDSA: %v", err)
	}
	if addr != crypto.PubkeyToAddress(priv.PublicKey) {
		t.Fatalf("unexpected address: %s", addr.Hex())
	}
	if parsedKey.D.Cmp(priv.D) != 0 {
		t.Fatal("parsed key mismatch")
	}

	if _, _, err := ParsePrivateKeyECDSA("zz"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestBigIntToBytes(t *testing.T) {
	got := BigIntToBytes(big.NewInt(1))
	if len(got) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(got))
	}
	if got[31] != 1 {
		t.Fatalf("unexpected bytes: %x", got)
	}
}

func TestStringToBytes32RoundTrips(t *testing.T) {
	b32 := StringToBytes32("usd-stable")
	got := Bytes32ArrayToStrings([][32]byte{b32})
	if len(got) != 1 || got[0] != "usd-stable" {
		t.Fatalf("round trip mismatch: %v", got)
	}
}

func TestStringToBytes32Truncates(t *testing.T) {
	long := "this-string-is-definitely-longer-than-thirty-two-bytes"
	b32 := StringToBytes32(long)
	got := Bytes32ArrayToStrings([][32]byte{b32})[0]
	if got != long[:32] {
		t.Fatalf("expected truncation to 32 bytes, got %q", got)
	}
}

func TestGetSignatureProducesRecoverableSignature(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	message := []byte("subrav canonical bytes")

	sig := GetSignature(message, priv)
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}

	hash := crypto.Keccak256(HashPrefix32Bytes, crypto.Keccak256(message))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != crypto.PubkeyToAddress(priv.PublicKey) {
		t.Fatal("recovered address does not match signer")
	}
}
