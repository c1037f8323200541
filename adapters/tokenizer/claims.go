package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ChallengeClaims combines standard claims with challenge-specific ones
type ChallengeClaims struct {
	jwt.RegisteredClaims
	ChallengeType string `json:"cht"`
	Nonce         string `json:"nonce"`
	Message       string `json:"msg"`
	PaymentID     string `json:"pid,omitempty"`
	AmountSats    int64  `json:"sats,omitempty"`
}

// AccessClaims combines standard claims with session-specific ones
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// RefreshClaims carry the session id and the remember-me flag so the
// rotated token keeps its extended lifetime
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID  string `json:"sid"`
	RememberMe bool   `json:"rem,omitempty"`
}
