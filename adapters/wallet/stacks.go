package wallet

import (
	"crypto/sha256"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160"

	"github.com/sbtc-gateway/warden/ports"
)

// stacksMessagePrefix is the SIP-018 structured prefix for plain
// message signing ("\x17" is the prefix length byte).
const stacksMessagePrefix = "\x17Stacks Signed Message:\n"

// stacksMainnetVersion is the c32check version byte for mainnet
// single-sig addresses (leading "SP").
const stacksMainnetVersion = 22

func verifyStacks(message, signature, address, publicKey string) ports.WalletVerification {
	hash := stacksMessageHash(message)

	pubKey, err := recoverPubKey(signature, hash)
	if err != nil {
		return fail("signature recovery failed")
	}

	if publicKey != "" && !matchesClaimedKey(pubKey, publicKey) {
		return fail("recovered key does not match supplied public key")
	}

	derived := StacksAddressFromPubKey(pubKey)
	if !strings.EqualFold(derived, address) {
		return fail("recovered key does not match address")
	}

	return ok()
}

// stacksMessageHash hashes a message the way Stacks wallets sign it:
// sha256 over the prefixed, length-delimited message.
func stacksMessageHash(message string) []byte {
	buf := make([]byte, 0, len(stacksMessagePrefix)+5+len(message))
	buf = append(buf, stacksMessagePrefix...)
	buf = append(buf, varintPrefix(len(message))...)
	buf = append(buf, message...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// StacksAddressFromPubKey derives the mainnet c32check address for a
// secp256k1 public key.
func StacksAddressFromPubKey(pubKey *btcec.PublicKey) string {
	return c32CheckEncode(stacksMainnetVersion, hash160(pubKey.SerializeCompressed()))
}

// hash160 is ripemd160(sha256(data)), the address payload hash shared
// by Stacks and Bitcoin.
func hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}
