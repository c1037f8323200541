package ports

import (
	"context"
	"time"

	"github.com/sbtc-gateway/warden/core"
)

// MerchantStore persists merchant identity records. Implementations
// must enforce wallet-address and claimed-email uniqueness at write
// time; service-level pre-checks are an early exit, not the safety
// mechanism.
type MerchantStore interface {
	Create(ctx context.Context, m *core.Merchant) error
	Update(ctx context.Context, m *core.Merchant) error
	GetByID(ctx context.Context, id string) (*core.Merchant, error)
	GetByEmail(ctx context.Context, email string) (*core.Merchant, error)
	GetByWalletAddress(ctx context.Context, address string) (*core.Merchant, error)
	// BindWallet atomically claims address for the merchant, failing
	// with core.ErrWalletTaken if any other merchant holds it.
	BindWallet(ctx context.Context, merchantID, stacksAddress, bitcoinAddress string) error
	// Search returns merchants whose email or name resembles the given
	// values, for linking candidate detection. Exact-match lookups
	// should use GetByEmail/GetByWalletAddress instead.
	Search(ctx context.Context, email, name string) ([]*core.Merchant, error)
}

// SessionStore is the process-wide registry of live sessions.
type SessionStore interface {
	Put(ctx context.Context, s *core.Session) error
	Get(ctx context.Context, sessionID string) (*core.Session, error)
	// Delete removes one session. Returns core.ErrSessionNotFound when
	// the session does not exist or belongs to another merchant, so
	// callers can distinguish no-op from success.
	Delete(ctx context.Context, merchantID, sessionID string) error
	ListByMerchant(ctx context.Context, merchantID string) ([]*core.Session, error)
}

// APIKeyStore persists API key records. Raw secrets never reach the
// store; only hashes, fingerprints and previews do.
type APIKeyStore interface {
	Create(ctx context.Context, k *core.APIKey) error
	Update(ctx context.Context, k *core.APIKey) error
	GetByID(ctx context.Context, merchantID, keyID string) (*core.APIKey, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*core.APIKey, error)
	ListByMerchant(ctx context.Context, merchantID string) ([]*core.APIKey, error)
}

// LinkStore persists pending linking requests and redeems their tokens.
type LinkStore interface {
	Put(ctx context.Context, r *core.LinkingRequest) error
	Get(ctx context.Context, token string) (*core.LinkingRequest, error)
	// Consume marks the token redeemed at the given instant. It must be
	// atomic under concurrent redemption: exactly one caller wins,
	// later callers get core.ErrLinkTokenConsumed.
	Consume(ctx context.Context, token string, at time.Time) (*core.LinkingRequest, error)
}
