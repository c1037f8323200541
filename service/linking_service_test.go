package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbtc-gateway/warden/adapters/email"
	"github.com/sbtc-gateway/warden/adapters/events"
	"github.com/sbtc-gateway/warden/adapters/store"
	"github.com/sbtc-gateway/warden/core"
)

type linkFixture struct {
	svc       *LinkingService
	merchants *store.MemoryMerchantStore
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	merchants := store.NewMemoryMerchantStore()
	svc := NewLinkingService(merchants, store.NewMemoryLinkStore(), email.NopSender{}, events.NopPublisher{}, testLogger())
	return &linkFixture{svc: svc, merchants: merchants}
}

func (f *linkFixture) addMerchant(t *testing.T, m *core.Merchant) *core.Merchant {
	t.Helper()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	require.NoError(t, f.merchants.Create(context.Background(), m))
	return m
}

func TestDetectLinkableAccounts(t *testing.T) {
	f := newLinkFixture(t)
	ctx := context.Background()

	self := f.addMerchant(t, &core.Merchant{Email: "acme@wallet.local", Name: "Wallet User ABC123"})
	walletMatch := f.addMerchant(t, &core.Merchant{
		Email:         "acme-wallet@wallet.local",
		StacksAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		Name:          "Acme Corp",
	})
	emailMatch := f.addMerchant(t, &core.Merchant{Email: "founder@acme.io", Name: "Acme"})
	unrelated := f.addMerchant(t, &core.Merchant{Email: "zoe@other.io", Name: "Zoe's Bakery"})

	candidates, err := f.svc.DetectLinkableAccounts(ctx, self.ID, "founder@acme.io", "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7", "Acme Corp")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// Strongest first; the probing account itself never appears.
	ids := []string{candidates[0].ID, candidates[1].ID}
	assert.Contains(t, ids, walletMatch.ID)
	assert.Contains(t, ids, emailMatch.ID)
	assert.NotContains(t, ids, self.ID)
	assert.NotContains(t, ids, unrelated.ID)
	assert.Equal(t, core.ConfidenceHigh, candidates[0].Confidence)
}

func TestLinkingRoundTrip(t *testing.T) {
	f := newLinkFixture(t)
	ctx := context.Background()

	source := f.addMerchant(t, &core.Merchant{Email: "one@example.com", Name: "One"})
	target := f.addMerchant(t, &core.Merchant{Email: "two@example.com", Name: "Two"})

	token, expiresAt, err := f.svc.InitiateLinking(ctx, source.ID, target.ID, "source")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(core.LinkingTokenTTL), expiresAt, 5*time.Second)

	linked, err := f.svc.ConfirmLinking(ctx, token, target.ID)
	require.NoError(t, err)
	assert.Equal(t, source.ID, linked.ID)

	// Both sides see the link, and each record survives independently.
	fromSource, err := f.svc.GetLinkedAccounts(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, fromSource, 1)
	assert.Equal(t, target.ID, fromSource[0].ID)

	fromTarget, err := f.svc.GetLinkedAccounts(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, fromTarget, 1)
	assert.Equal(t, source.ID, fromTarget[0].ID)
}

func TestLinkingTokenSingleUse(t *testing.T) {
	f := newLinkFixture(t)
	ctx := context.Background()

	source := f.addMerchant(t, &core.Merchant{Email: "one@example.com"})
	target := f.addMerchant(t, &core.Merchant{Email: "two@example.com"})

	token, _, err := f.svc.InitiateLinking(ctx, source.ID, target.ID, "")
	require.NoError(t, err)

	_, err = f.svc.ConfirmLinking(ctx, token, target.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmLinking(ctx, token, target.ID)
	assert.ErrorIs(t, err, core.ErrLinkTokenConsumed)
}

func TestLinkingTokenGuards(t *testing.T) {
	f := newLinkFixture(t)
	ctx := context.Background()

	source := f.addMerchant(t, &core.Merchant{Email: "one@example.com"})
	target := f.addMerchant(t, &core.Merchant{Email: "two@example.com"})
	stranger := f.addMerchant(t, &core.Merchant{Email: "three@example.com"})

	token, _, err := f.svc.InitiateLinking(ctx, source.ID, target.ID, "")
	require.NoError(t, err)

	// Only the designated target may confirm.
	_, err = f.svc.ConfirmLinking(ctx, token, stranger.ID)
	assert.ErrorIs(t, err, core.ErrLinkWrongMerchant)

	_, err = f.svc.ConfirmLinking(ctx, "no-such-token", target.ID)
	assert.ErrorIs(t, err, core.ErrLinkNotFound)

	// Expired tokens are dead even for the right merchant.
	f.svc.now = func() time.Time { return time.Now().Add(core.LinkingTokenTTL + time.Minute) }
	_, err = f.svc.ConfirmLinking(ctx, token, target.ID)
	assert.ErrorIs(t, err, core.ErrLinkTokenExpired)
}

func TestInitiateLinkingValidation(t *testing.T) {
	f := newLinkFixture(t)
	ctx := context.Background()

	source := f.addMerchant(t, &core.Merchant{Email: "one@example.com"})
	target := f.addMerchant(t, &core.Merchant{Email: "two@example.com"})

	_, _, err := f.svc.InitiateLinking(ctx, source.ID, source.ID, "")
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	_, _, err = f.svc.InitiateLinking(ctx, source.ID, "missing", "")
	assert.ErrorIs(t, err, core.ErrMerchantNotFound)

	token, _, err := f.svc.InitiateLinking(ctx, source.ID, target.ID, "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmLinking(ctx, token, target.ID)
	require.NoError(t, err)

	// Already-linked pairs cannot start another round.
	_, _, err = f.svc.InitiateLinking(ctx, source.ID, target.ID, "")
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestUnlinkAccounts(t *testing.T) {
	f := newLinkFixture(t)
	ctx := context.Background()

	source := f.addMerchant(t, &core.Merchant{Email: "one@example.com"})
	target := f.addMerchant(t, &core.Merchant{Email: "two@example.com"})

	token, _, err := f.svc.InitiateLinking(ctx, source.ID, target.ID, "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmLinking(ctx, token, target.ID)
	require.NoError(t, err)

	// Either side may unlink; the reference goes from both.
	require.NoError(t, f.svc.UnlinkAccounts(ctx, target.ID, source.ID))

	fromSource, err := f.svc.GetLinkedAccounts(ctx, source.ID)
	require.NoError(t, err)
	assert.Empty(t, fromSource)
	fromTarget, err := f.svc.GetLinkedAccounts(ctx, target.ID)
	require.NoError(t, err)
	assert.Empty(t, fromTarget)

	err = f.svc.UnlinkAccounts(ctx, target.ID, source.ID)
	assert.ErrorIs(t, err, core.ErrNotLinked)
}
