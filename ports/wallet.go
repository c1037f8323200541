package ports

import "github.com/sbtc-gateway/warden/core"

// WalletVerification is the outcome of a signature check. Verification
// fails closed: any malformed input yields Verified=false with a
// reason, never a panic or a bypassed failure path.
type WalletVerification struct {
	Verified bool
	Reason   string
}

// WalletVerifier validates a signed challenge against a claimed
// address/public key pair. Pure and side-effect free; consuming a
// challenge as used is the caller's responsibility.
type WalletVerifier interface {
	Verify(challenge *core.Challenge, signature, address, publicKey, walletType string) WalletVerification
}
