package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

// apiKeySecretBytes is the entropy of a raw key secret.
const apiKeySecretBytes = 24

// APIKeyService issues, lists, rotates and revokes long-lived API
// credentials. Raw secrets are returned exactly once; only hashes,
// fingerprints and previews persist.
type APIKeyService struct {
	keys   ports.APIKeyStore
	events ports.EventPublisher
	logger *logrus.Logger
	now    func() time.Time
}

// NewAPIKeyService creates an API key service.
func NewAPIKeyService(keys ports.APIKeyStore, events ports.EventPublisher, logger *logrus.Logger) *APIKeyService {
	return &APIKeyService{
		keys:   keys,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// GenerateParams are the caller-supplied attributes of a new key.
type GenerateParams struct {
	Name           string
	Permissions    []core.Permission
	Environment    core.Environment
	IPRestrictions []string
	RateLimit      int
	ExpiresAt      *time.Time
}

// GeneratedKey is the one-time response to key creation or rotation.
// RawKey is never retrievable again.
type GeneratedKey struct {
	Key    *core.APIKey
	RawKey string
}

// RotatedKey is the result of a key rotation.
type RotatedKey struct {
	New             *GeneratedKey
	OldKeyExpiresAt time.Time
	GracePeriod     time.Duration
}

// Generate mints a new API key for the merchant. The raw secret is
// returned once; afterwards only the preview is visible.
func (s *APIKeyService) Generate(ctx context.Context, merchantID string, params GenerateParams) (*GeneratedKey, error) {
	if !core.ValidPermissions(params.Permissions) {
		return nil, fmt.Errorf("%w: permissions must be a non-empty set of read, write, webhooks", core.ErrInvalidRequest)
	}
	if !core.ValidEnvironment(params.Environment) {
		return nil, fmt.Errorf("%w: environment must be test or live", core.ErrInvalidRequest)
	}

	raw, fingerprint, preview, err := mintSecret(params.Environment)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}

	key := &core.APIKey{
		ID:             uuid.New().String(),
		MerchantID:     merchantID,
		Name:           params.Name,
		SecretHash:     string(hash),
		Fingerprint:    fingerprint,
		Preview:        preview,
		Permissions:    params.Permissions,
		Environment:    params.Environment,
		IPRestrictions: params.IPRestrictions,
		RateLimit:      params.RateLimit,
		CreatedAt:      s.now(),
		ExpiresAt:      params.ExpiresAt,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"merchant_id": merchantID,
		"key_id":      key.ID,
		"environment": key.Environment,
	}).Info("api key created")

	return &GeneratedKey{Key: key, RawKey: raw}, nil
}

// List returns the merchant's keys with secret material redacted.
func (s *APIKeyService) List(ctx context.Context, merchantID string) ([]*core.APIKey, error) {
	keys, err := s.keys.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	out := make([]*core.APIKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, redact(k))
	}
	return out, nil
}

// Revoke makes the key unusable immediately. Revoking an
// already-revoked key reports core.ErrAPIKeyRevoked so callers can
// decide the response shape.
func (s *APIKeyService) Revoke(ctx context.Context, merchantID, keyID string) error {
	key, err := s.keys.GetByID(ctx, merchantID, keyID)
	if err != nil {
		return err
	}
	if key.RevokedAt != nil {
		return core.ErrAPIKeyRevoked
	}

	now := s.now()
	key.RevokedAt = &now
	if err := s.keys.Update(ctx, key); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"merchant_id": merchantID,
		"key_id":      keyID,
	}).Info("api key revoked")
	return nil
}

// Rotate atomically creates a replacement with identical permissions
// and environment and schedules the old key's deactivation after the
// grace period. Both keys authenticate during the overlap window.
//
// Retrying a rotation is safe: a key that was already superseded
// returns its existing replacement (without the raw secret, which was
// surfaced by the first successful call) instead of minting another.
func (s *APIKeyService) Rotate(ctx context.Context, merchantID, keyID string, gracePeriod time.Duration) (*RotatedKey, error) {
	if gracePeriod <= 0 {
		gracePeriod = core.DefaultGracePeriod
	}

	old, err := s.keys.GetByID(ctx, merchantID, keyID)
	if err != nil {
		return nil, err
	}
	if old.RevokedAt != nil {
		return nil, core.ErrAPIKeyRevoked
	}

	if old.SupersededBy != "" {
		replacement, err := s.keys.GetByID(ctx, merchantID, old.SupersededBy)
		if err != nil {
			return nil, fmt.Errorf("superseding key missing: %w", err)
		}
		var oldExpiry time.Time
		if old.GraceExpiresAt != nil {
			oldExpiry = *old.GraceExpiresAt
		}
		return &RotatedKey{
			New:             &GeneratedKey{Key: redact(replacement)},
			OldKeyExpiresAt: oldExpiry,
			GracePeriod:     gracePeriod,
		}, nil
	}

	raw, fingerprint, preview, err := mintSecret(old.Environment)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}

	now := s.now()
	replacement := &core.APIKey{
		ID:             uuid.New().String(),
		MerchantID:     old.MerchantID,
		Name:           old.Name,
		SecretHash:     string(hash),
		Fingerprint:    fingerprint,
		Preview:        preview,
		Permissions:    old.Permissions,
		Environment:    old.Environment,
		IPRestrictions: old.IPRestrictions,
		RateLimit:      old.RateLimit,
		CreatedAt:      now,
		ExpiresAt:      old.ExpiresAt,
	}

	// Create the replacement before touching the old key. A failure
	// between the two steps leaves the old key fully valid, never
	// silently dead; the retry path above picks up from SupersededBy.
	if err := s.keys.Create(ctx, replacement); err != nil {
		return nil, fmt.Errorf("failed to store replacement key: %w", err)
	}

	graceExpiry := now.Add(gracePeriod)
	old.GraceExpiresAt = &graceExpiry
	old.SupersededBy = replacement.ID
	if err := s.keys.Update(ctx, old); err != nil {
		return nil, fmt.Errorf("failed to schedule old key expiry: %w", err)
	}

	if err := s.events.PublishKeyRotated(ctx, merchantID, old.ID, replacement.ID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_id": merchantID,
			"operation":   "rotate_api_key",
		}).Warn("failed to publish apikey.rotated event")
	}

	s.logger.WithFields(logrus.Fields{
		"merchant_id": merchantID,
		"old_key_id":  old.ID,
		"new_key_id":  replacement.ID,
		"grace_hours": gracePeriod.Hours(),
	}).Info("api key rotated")

	return &RotatedKey{
		New:             &GeneratedKey{Key: replacement, RawKey: raw},
		OldKeyExpiresAt: graceExpiry,
		GracePeriod:     gracePeriod,
	}, nil
}

// Authenticate resolves a raw key to its record, honoring revocation,
// expiry, rotation grace windows and IP restrictions. All failures map
// to 401 at the boundary.
func (s *APIKeyService) Authenticate(ctx context.Context, rawKey, sourceIP string) (*core.APIKey, error) {
	if rawKey == "" {
		return nil, core.ErrInvalidAPIKey
	}

	sum := sha256.Sum256([]byte(rawKey))
	key, err := s.keys.GetByFingerprint(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, core.ErrInvalidAPIKey
	}

	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(rawKey)) != nil {
		return nil, core.ErrInvalidAPIKey
	}
	if err := key.Usable(s.now()); err != nil {
		return nil, err
	}
	if sourceIP != "" && !key.AllowsIP(sourceIP) {
		return nil, core.ErrIPNotAllowed
	}
	return key, nil
}

// mintSecret generates a raw key of the form sk_{env}_{48 hex chars}
// along with its SHA-256 fingerprint and display preview.
func mintSecret(env core.Environment) (raw, fingerprint, preview string, err error) {
	buf := make([]byte, apiKeySecretBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("failed to generate api key secret: %w", err)
	}
	raw = fmt.Sprintf("sk_%s_%s", env, hex.EncodeToString(buf))
	sum := sha256.Sum256([]byte(raw))
	fingerprint = hex.EncodeToString(sum[:])
	preview = raw[:12] + "..." + raw[len(raw)-4:]
	return raw, fingerprint, preview, nil
}

// redact strips secret material before a key leaves the service.
func redact(k *core.APIKey) *core.APIKey {
	out := *k
	out.SecretHash = ""
	out.Fingerprint = ""
	return &out
}
