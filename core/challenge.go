package core

import "time"

// ChallengeSubject distinguishes what a signed challenge may prove.
// Subjects are never interchangeable: a payment challenge cannot
// authenticate a login.
type ChallengeSubject string

const (
	ChallengeConnection ChallengeSubject = "connection"
	ChallengePayment    ChallengeSubject = "payment"
)

const (
	// ConnectionChallengeTTL bounds wallet connection/login challenges.
	ConnectionChallengeTTL = 10 * time.Minute
	// PaymentChallengeTTL bounds payment intent challenges.
	PaymentChallengeTTL = 5 * time.Minute
)

// PaymentContext binds a payment challenge to one payment and amount so
// a signature cannot be replayed against a different payment.
type PaymentContext struct {
	PaymentID  string
	AmountSats int64
}

// Challenge is a time-bound, single-purpose message for wallet signing.
type Challenge struct {
	ID        string
	Subject   ChallengeSubject
	Address   string
	Nonce     string
	Message   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Payment   *PaymentContext
}

// Expired reports whether the challenge TTL has elapsed.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
