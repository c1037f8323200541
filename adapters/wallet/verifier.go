package wallet

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

// WalletType identifies the signing scheme a client used.
const (
	TypeStacks  = "stacks"
	TypeBitcoin = "bitcoin"
)

// Verifier dispatches signature verification by wallet type. Unknown
// types fail closed.
type Verifier struct{}

// NewVerifier creates a wallet signature verifier supporting Stacks and
// Bitcoin signing schemes.
func NewVerifier() *Verifier {
	return &Verifier{}
}

func (v *Verifier) Verify(challenge *core.Challenge, signature, address, publicKey, walletType string) ports.WalletVerification {
	if challenge == nil || challenge.Message == "" {
		return fail("missing challenge")
	}
	if signature == "" || address == "" {
		return fail("missing signature or address")
	}
	if !strings.EqualFold(challenge.Address, address) {
		return fail("address does not match challenge")
	}

	switch walletType {
	case TypeStacks, "":
		return verifyStacks(challenge.Message, signature, address, publicKey)
	case TypeBitcoin:
		return verifyBitcoin(challenge.Message, signature, address, publicKey)
	default:
		return fail("unsupported wallet type: " + walletType)
	}
}

func fail(reason string) ports.WalletVerification {
	return ports.WalletVerification{Verified: false, Reason: reason}
}

func ok() ports.WalletVerification {
	return ports.WalletVerification{Verified: true}
}

// recoverPubKey recovers the signing public key from a 65-byte RSV
// signature over hash.
func recoverPubKey(sigHex string, hash []byte) (*btcec.PublicKey, error) {
	sig, err := decodeHexSignature(sigHex)
	if err != nil {
		return nil, err
	}

	// Extract R, S, V. Wallets emit the recovery id raw (0-3), legacy
	// (27/28) or with the compressed-key flag (31/32); normalize to 0-3.
	r := sig[0:32]
	s := sig[32:64]
	rv := sig[64]
	switch {
	case rv >= 31:
		rv -= 31
	case rv >= 27:
		rv -= 27
	}
	if rv > 3 {
		return nil, core.ErrInvalidSignature
	}

	pubKey, _, err := btcecdsa.RecoverCompact(makeCompactSig(r, s, rv), hash)
	if err != nil {
		return nil, err
	}
	return pubKey, nil
}

// makeCompactSig builds the signature layout btcec recovery expects:
// [V (1 byte, 27+id)] + [R (32 bytes)] + [S (32 bytes)]
func makeCompactSig(r, s []byte, v byte) []byte {
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:33], r)
	copy(compact[33:65], s)
	return compact
}

// matchesClaimedKey compares a recovered key against the hex public key
// the client claimed, accepting compressed or uncompressed encoding.
func matchesClaimedKey(pubKey *btcec.PublicKey, claimedHex string) bool {
	claimed := strings.ToLower(strings.TrimPrefix(claimedHex, "0x"))
	compressed := hex.EncodeToString(pubKey.SerializeCompressed())
	uncompressed := hex.EncodeToString(pubKey.SerializeUncompressed())
	return claimed == compressed || claimed == uncompressed
}

func decodeHexSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")
	sig = strings.TrimPrefix(sig, "0X")
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return nil, err
	}
	if len(raw) != 65 {
		return nil, core.ErrInvalidSignature
	}
	return raw, nil
}

// varintPrefix encodes a length in Bitcoin varint format for signed
// message hashing.
func varintPrefix(n int) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		return []byte{0xfd, byte(n), byte(n >> 8)}
	default:
		return []byte{0xfe, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	}
}
