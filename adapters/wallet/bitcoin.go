package wallet

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"

	"github.com/sbtc-gateway/warden/ports"
)

// bitcoinMessagePrefix is the standard signed-message prefix ("\x18" is
// the prefix length byte).
const bitcoinMessagePrefix = "\x18Bitcoin Signed Message:\n"

// bitcoinP2PKHVersion is the mainnet pay-to-pubkey-hash version byte.
const bitcoinP2PKHVersion = 0x00

func verifyBitcoin(message, signature, address, publicKey string) ports.WalletVerification {
	hash := bitcoinMessageHash(message)

	pubKey, err := recoverPubKey(signature, hash)
	if err != nil {
		return fail("signature recovery failed")
	}

	if publicKey != "" && !matchesClaimedKey(pubKey, publicKey) {
		return fail("recovered key does not match supplied public key")
	}

	if BitcoinAddressFromPubKey(pubKey) != address {
		return fail("recovered key does not match address")
	}

	return ok()
}

// bitcoinMessageHash is sha256d over the prefixed, length-delimited
// message, per the signmessage convention.
func bitcoinMessageHash(message string) []byte {
	buf := make([]byte, 0, len(bitcoinMessagePrefix)+5+len(message))
	buf = append(buf, bitcoinMessagePrefix...)
	buf = append(buf, varintPrefix(len(message))...)
	buf = append(buf, message...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second[:]
}

// BitcoinAddressFromPubKey derives the mainnet P2PKH base58check
// address for a secp256k1 public key.
func BitcoinAddressFromPubKey(pubKey *btcec.PublicKey) string {
	payload := append([]byte{bitcoinP2PKHVersion}, hash160(pubKey.SerializeCompressed())...)
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return base58.Encode(append(payload, second[:4]...))
}
