package wallet

import (
	"crypto/sha256"
	"math/big"
)

// c32Alphabet is the Crockford base32 alphabet used by Stacks addresses.
const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// c32CheckEncode produces a Stacks address: 'S' + version character +
// c32(payload || checksum), where the checksum is the first four bytes
// of sha256d over version byte plus payload.
func c32CheckEncode(version byte, payload []byte) string {
	check := c32Checksum(version, payload)
	body := make([]byte, 0, len(payload)+4)
	body = append(body, payload...)
	body = append(body, check...)
	return "S" + string(c32Alphabet[version]) + c32Encode(body)
}

func c32Checksum(version byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, version)
	buf = append(buf, payload...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// c32Encode encodes bytes as Crockford base32, preserving leading zero
// bytes as '0' characters.
func c32Encode(data []byte) string {
	n := new(big.Int).SetBytes(data)
	base := big.NewInt(32)
	mod := new(big.Int)

	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, c32Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, '0')
	}

	// digits were produced least significant first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
