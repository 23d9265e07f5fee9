package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	hash := PayloadHash([]byte("encrypted order payload"))
	sig, err := signer.Sign(hash.Bytes())
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	if !VerifySignature(signer.Address(), hash.Bytes(), sig) {
		t.Error("signature should verify for the signing address")
	}

	other, _ := GenerateKey()
	if VerifySignature(other.Address(), hash.Bytes(), sig) {
		t.Error("signature must not verify for a different address")
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	// Well-known hardhat dev key; address is deterministic.
	key := "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	for _, hexKey := range []string{key, "0x" + key} {
		signer, err := FromPrivateKeyHex(hexKey)
		if err != nil {
			t.Fatalf("failed to parse %q: %v", hexKey, err)
		}
		if signer.Address() != want {
			t.Errorf("address = %s, want %s", signer.Address().Hex(), want.Hex())
		}
	}

	if _, err := FromPrivateKeyHex("not-a-key"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignRejectsBadHashLength(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte hash")
	}
}
