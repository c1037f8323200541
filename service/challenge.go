package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

var satsPerBTC = decimal.NewFromInt(100_000_000)

// ChallengeIssuer generates time-bound, single-purpose signing
// challenges for wallet authentication and payment intents.
type ChallengeIssuer struct {
	tokenizer ports.Tokenizer
	now       func() time.Time

	connectionTTL time.Duration
	paymentTTL    time.Duration
}

// NewChallengeIssuer creates a challenge issuer with the default TTLs.
func NewChallengeIssuer(tokenizer ports.Tokenizer) *ChallengeIssuer {
	return &ChallengeIssuer{
		tokenizer:     tokenizer,
		now:           time.Now,
		connectionTTL: core.ConnectionChallengeTTL,
		paymentTTL:    core.PaymentChallengeTTL,
	}
}

// IssueConnectionChallenge produces a wallet connection/login challenge
// for the given address. Each challenge embeds a fresh nonce and
// timestamp so no two are interchangeable.
func (ci *ChallengeIssuer) IssueConnectionChallenge(address string) (*core.Challenge, string, error) {
	if address == "" {
		return nil, "", fmt.Errorf("%w: address is required", core.ErrInvalidRequest)
	}

	nonce, err := generateNonce(16)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := ci.now()
	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		Subject:   core.ChallengeConnection,
		Address:   address,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(ci.connectionTTL),
	}
	challenge.Message = fmt.Sprintf(
		"sBTC Gateway wants you to sign in with your wallet\nAddress: %s\nIssued At: %s\nNonce: %s",
		address, now.UTC().Format(time.RFC3339), nonce,
	)

	token, err := ci.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create challenge token: %w", err)
	}
	return challenge, token, nil
}

// IssuePaymentChallenge produces a payment authorization challenge. The
// message embeds the payment id and amount so a signature cannot be
// replayed against a different payment or amount.
func (ci *ChallengeIssuer) IssuePaymentChallenge(address, paymentID string, amountSats int64) (*core.Challenge, string, error) {
	if address == "" {
		return nil, "", fmt.Errorf("%w: address is required", core.ErrInvalidRequest)
	}
	if paymentID == "" || amountSats <= 0 {
		return nil, "", fmt.Errorf("%w: paymentId and amount are required for payment challenges", core.ErrInvalidRequest)
	}

	nonce, err := generateNonce(16)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := ci.now()
	btc := decimal.NewFromInt(amountSats).Div(satsPerBTC)
	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		Subject:   core.ChallengePayment,
		Address:   address,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(ci.paymentTTL),
		Payment:   &core.PaymentContext{PaymentID: paymentID, AmountSats: amountSats},
	}
	challenge.Message = fmt.Sprintf(
		"sBTC Gateway payment authorization\nPayment: %s\nAmount: %d sats (%s BTC)\nAddress: %s\nIssued At: %s\nNonce: %s",
		paymentID, amountSats, btc.StringFixed(8), address, now.UTC().Format(time.RFC3339), nonce,
	)

	token, err := ci.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create challenge token: %w", err)
	}
	return challenge, token, nil
}

// generateNonce generates a secure random nonce of length bytes
func generateNonce(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
