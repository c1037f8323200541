package wallet

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/sbtc-gateway/warden/core"
)

// signRSV signs hash with key and reorders btcec's compact V|R|S output
// into the R|S|V hex layout wallets submit.
func signRSV(t *testing.T, key *btcec.PrivateKey, hash []byte) string {
	t.Helper()
	compact := btcecdsa.SignCompact(key, hash, true)
	rsv := make([]byte, 65)
	copy(rsv[0:32], compact[1:33])
	copy(rsv[32:64], compact[33:65])
	rsv[64] = compact[0]
	return hex.EncodeToString(rsv)
}

func newChallenge(address, message string) *core.Challenge {
	now := time.Now()
	return &core.Challenge{
		ID:        "ch-1",
		Subject:   core.ChallengeConnection,
		Address:   address,
		Message:   message,
		IssuedAt:  now,
		ExpiresAt: now.Add(core.ConnectionChallengeTTL),
	}
}

func TestVerifyStacksRoundTrip(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	address := StacksAddressFromPubKey(key.PubKey())
	message := "Connect wallet " + address
	sig := signRSV(t, key, stacksMessageHash(message))
	pubHex := hex.EncodeToString(key.PubKey().SerializeCompressed())

	v := NewVerifier()
	got := v.Verify(newChallenge(address, message), sig, address, pubHex, TypeStacks)
	if !got.Verified {
		t.Fatalf("expected verified, got reason %q", got.Reason)
	}
}

func TestVerifyBitcoinRoundTrip(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	address := BitcoinAddressFromPubKey(key.PubKey())
	message := "Connect wallet " + address
	sig := signRSV(t, key, bitcoinMessageHash(message))

	v := NewVerifier()
	got := v.Verify(newChallenge(address, message), sig, address, "", TypeBitcoin)
	if !got.Verified {
		t.Fatalf("expected verified, got reason %q", got.Reason)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	address := StacksAddressFromPubKey(key.PubKey())
	message := "Connect wallet " + address
	sig := signRSV(t, key, stacksMessageHash(message))

	// Flip one bit in R
	raw, _ := hex.DecodeString(sig)
	raw[5] ^= 0x01
	tampered := hex.EncodeToString(raw)

	v := NewVerifier()
	if got := v.Verify(newChallenge(address, message), tampered, address, "", TypeStacks); got.Verified {
		t.Fatal("tampered signature must not verify")
	}
}

func TestVerifyRejectsCrossChallengeReplay(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	address := StacksAddressFromPubKey(key.PubKey())
	sig := signRSV(t, key, stacksMessageHash("challenge A"))

	// Same address, different challenge message
	v := NewVerifier()
	if got := v.Verify(newChallenge(address, "challenge B"), sig, address, "", TypeStacks); got.Verified {
		t.Fatal("signature over challenge A must not verify against challenge B")
	}
}

func TestVerifyRejectsWrongAddress(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	other, _ := btcec.NewPrivateKey()
	address := StacksAddressFromPubKey(key.PubKey())
	otherAddr := StacksAddressFromPubKey(other.PubKey())
	message := "Connect wallet " + address
	sig := signRSV(t, key, stacksMessageHash(message))

	v := NewVerifier()
	ch := newChallenge(otherAddr, message)
	if got := v.Verify(ch, sig, otherAddr, "", TypeStacks); got.Verified {
		t.Fatal("signature must not verify against a different address")
	}
}

func TestVerifyRejectsMismatchedPublicKey(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	other, _ := btcec.NewPrivateKey()
	address := StacksAddressFromPubKey(key.PubKey())
	message := "Connect wallet " + address
	sig := signRSV(t, key, stacksMessageHash(message))
	wrongPub := hex.EncodeToString(other.PubKey().SerializeCompressed())

	v := NewVerifier()
	if got := v.Verify(newChallenge(address, message), sig, address, wrongPub, TypeStacks); got.Verified {
		t.Fatal("mismatched public key must not verify")
	}
}

func TestVerifyFailsClosedOnBadInput(t *testing.T) {
	v := NewVerifier()

	tests := []struct {
		name      string
		challenge *core.Challenge
		signature string
		address   string
		walletTyp string
	}{
		{"nil challenge", nil, "00", "SP1", TypeStacks},
		{"empty signature", newChallenge("SP1", "msg"), "", "SP1", TypeStacks},
		{"not hex", newChallenge("SP1", "msg"), "zzzz", "SP1", TypeStacks},
		{"short signature", newChallenge("SP1", "msg"), "deadbeef", "SP1", TypeStacks},
		{"unknown wallet type", newChallenge("SP1", "msg"), "00", "SP1", "solana"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Verify(tt.challenge, tt.signature, tt.address, "", tt.walletTyp)
			if got.Verified {
				t.Fatal("expected verification failure")
			}
			if got.Reason == "" {
				t.Fatal("expected a failure reason")
			}
		})
	}
}

func TestStacksAddressShape(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	addr := StacksAddressFromPubKey(key.PubKey())
	if len(addr) < 3 || addr[:2] != "SP" {
		t.Fatalf("mainnet address should start with SP, got %s", addr)
	}
}

func TestBitcoinAddressShape(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	addr := BitcoinAddressFromPubKey(key.PubKey())
	if len(addr) == 0 || addr[0] != '1' {
		t.Fatalf("mainnet P2PKH address should start with 1, got %s", addr)
	}
}
