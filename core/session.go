package core

import "time"

const (
	// AccessTokenTTL is the session-validation window for access tokens.
	AccessTokenTTL = 15 * time.Minute
	// SessionTTL is the default session lifetime.
	SessionTTL = 24 * time.Hour
	// RememberMeSessionTTL applies when the merchant opts to stay signed in.
	RememberMeSessionTTL = 30 * 24 * time.Hour
)

// Session is one authenticated device context for a merchant. Merchants
// may hold many concurrent sessions; destroying one leaves siblings alive.
type Session struct {
	ID                string
	MerchantID        string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	RememberMe        bool
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the session lifetime has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// TokenPair is the bearer credential set minted for a session. Tokens
// are derived from the session, never stored; revocation happens by
// destroying the session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
