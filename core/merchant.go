package core

import "time"

// AuthMethod records how a merchant account was originally created.
type AuthMethod string

const (
	AuthMethodEmail  AuthMethod = "email"
	AuthMethodWallet AuthMethod = "wallet"
	AuthMethodOAuth  AuthMethod = "oauth"
)

// PlaceholderEmailDomain marks system-generated emails for wallet-only
// accounts. Such emails are not considered claimed by the merchant.
const PlaceholderEmailDomain = "wallet.local"

// Merchant is the identity record the access core operates on. Business
// profile fields beyond what the core mutates live elsewhere.
type Merchant struct {
	ID            string
	Name          string
	Email         string
	EmailVerified bool
	BusinessType  string

	StacksAddress  string
	BitcoinAddress string

	AuthMethod   AuthMethod
	PasswordHash string

	// GeneratedPassword holds the system-generated password of a
	// wallet-registered account until the merchant retrieves it or sets
	// their own. Cleared after first read.
	GeneratedPassword string

	ProfileComplete bool

	// LinkedAccountIDs are mutual references to other merchant records
	// confirmed as the same real-world identity.
	LinkedAccountIDs []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPlaceholderEmail reports whether the merchant's email was
// system-generated rather than supplied by the merchant.
func (m *Merchant) HasPlaceholderEmail() bool {
	n := len(PlaceholderEmailDomain)
	if len(m.Email) <= n+1 {
		return false
	}
	return m.Email[len(m.Email)-n-1:] == "@"+PlaceholderEmailDomain
}

// IsLinkedTo reports whether other is among the merchant's confirmed links.
func (m *Merchant) IsLinkedTo(otherID string) bool {
	for _, id := range m.LinkedAccountIDs {
		if id == otherID {
			return true
		}
	}
	return false
}
