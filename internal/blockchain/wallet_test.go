package blockchain

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
)

func testWallet(t *testing.T) (*Wallet, ed25519.PublicKey) {
	t.Helper()
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet, err := NewWallet(base58.Encode(privKey))
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return wallet, pubKey
}

func TestSignTransaction_NoExistingSignatures(t *testing.T) {
	wallet, pubKey := testWallet(t)

	message := []byte("fake transaction message bytes")
	unsigned := append([]byte{0}, message...)

	signedB64, err := wallet.SignTransaction(unsigned)
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	signed, err := base64.StdEncoding.DecodeString(signedB64)
	if err != nil {
		t.Fatalf("decode signed tx: %v", err)
	}

	if signed[0] != 1 {
		t.Fatalf("sig count = %d, want 1", signed[0])
	}
	sig := signed[1:65]
	gotMessage := signed[65:]
	if string(gotMessage) != string(message) {
		t.Errorf("message corrupted: got %q, want %q", gotMessage, message)
	}
	if !ed25519.Verify(pubKey, message, sig) {
		t.Error("signature does not verify against the wallet's public key")
	}
}

func TestSignTransaction_FillsReservedSlot(t *testing.T) {
	wallet, pubKey := testWallet(t)

	message := []byte("another fake transaction message")
	// Jupiter-style transaction: sig count 1, a zeroed 64-byte placeholder slot, then the message.
	tx := make([]byte, 1+64+len(message))
	tx[0] = 1
	copy(tx[65:], message)

	signedB64, err := wallet.SignTransaction(tx)
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	signed, err := base64.StdEncoding.DecodeString(signedB64)
	if err != nil {
		t.Fatalf("decode signed tx: %v", err)
	}

	if len(signed) != len(tx) {
		t.Fatalf("signed length = %d, want %d (slot filled in place, not grown)", len(signed), len(tx))
	}
	if signed[0] != 1 {
		t.Fatalf("sig count = %d, want 1", signed[0])
	}
	sig := signed[1:65]
	gotMessage := signed[65:]
	if string(gotMessage) != string(message) {
		t.Errorf("message corrupted: got %q, want %q", gotMessage, message)
	}
	if !ed25519.Verify(pubKey, message, sig) {
		t.Error("signature does not verify against the wallet's public key")
	}
}

func TestSignTransaction_EmptyInput(t *testing.T) {
	wallet, _ := testWallet(t)
	if _, err := wallet.SignTransaction(nil); err == nil {
		t.Error("expected error signing an empty transaction")
	}
}

func TestBalanceTracker_SetBalance(t *testing.T) {
	wallet, _ := testWallet(t)
	tracker := NewBalanceTracker(wallet, nil)

	tracker.SetBalance(5_000_000_000)
	if got := tracker.BalanceLamports(); got != 5_000_000_000 {
		t.Errorf("BalanceLamports = %d, want 5000000000", got)
	}
	if got := tracker.BalanceSOL(); got != 5.0 {
		t.Errorf("BalanceSOL = %v, want 5.0", got)
	}
	if !tracker.HasSufficientBalance(4_000_000_000, 5000) {
		t.Error("expected sufficient balance for 4 SOL trade against a 5 SOL wallet")
	}
	if tracker.HasSufficientBalance(6_000_000_000, 0) {
		t.Error("expected insufficient balance for 6 SOL trade against a 5 SOL wallet")
	}
}
