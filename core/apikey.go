package core

import "time"

// Permission tags what an API key may do. Not an RBAC evaluator: keys
// carry tags, endpoints check for the tag they need.
type Permission string

const (
	PermissionRead     Permission = "read"
	PermissionWrite    Permission = "write"
	PermissionWebhooks Permission = "webhooks"
)

// Environment separates test and live credentials.
type Environment string

const (
	EnvTest Environment = "test"
	EnvLive Environment = "live"
)

// DefaultGracePeriod is the overlap window after key rotation during
// which the superseded key still authenticates.
const DefaultGracePeriod = 24 * time.Hour

// ValidPermissions reports whether perms is a non-empty set drawn from
// the known permission tags.
func ValidPermissions(perms []Permission) bool {
	if len(perms) == 0 {
		return false
	}
	for _, p := range perms {
		switch p {
		case PermissionRead, PermissionWrite, PermissionWebhooks:
		default:
			return false
		}
	}
	return true
}

// ValidEnvironment reports whether env is a known environment.
func ValidEnvironment(env Environment) bool {
	return env == EnvTest || env == EnvLive
}

// APIKey is a long-lived programmatic credential. The raw secret is
// returned to the caller exactly once at creation or rotation; only the
// hash and the preview are persisted.
type APIKey struct {
	ID         string
	MerchantID string
	Name       string

	// SecretHash is the bcrypt hash of the raw secret.
	SecretHash string
	// Fingerprint is the SHA-256 hex of the raw secret, used for lookup.
	Fingerprint string
	// Preview is the truncated, non-secret representation shown in lists.
	Preview string

	Permissions    []Permission
	Environment    Environment
	IPRestrictions []string
	RateLimit      int

	CreatedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time

	// GraceExpiresAt is set on the old key by rotation; the key keeps
	// authenticating until it passes, then fails closed.
	GraceExpiresAt *time.Time
	// SupersededBy references the replacement key created by rotation.
	SupersededBy string
}

// HasPermission checks a single permission tag.
func (k *APIKey) HasPermission(p Permission) bool {
	for _, have := range k.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Usable reports whether the key authenticates at the given instant,
// honoring revocation, expiry and the rotation grace window.
func (k *APIKey) Usable(now time.Time) error {
	if k.RevokedAt != nil && !now.Before(*k.RevokedAt) {
		return ErrAPIKeyRevoked
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return ErrAPIKeyExpired
	}
	if k.GraceExpiresAt != nil && now.After(*k.GraceExpiresAt) {
		return ErrAPIKeyExpired
	}
	return nil
}

// AllowsIP checks the key's IP restriction list. An empty list allows
// any source address.
func (k *APIKey) AllowsIP(ip string) bool {
	if len(k.IPRestrictions) == 0 {
		return true
	}
	for _, allowed := range k.IPRestrictions {
		if allowed == ip {
			return true
		}
	}
	return false
}
