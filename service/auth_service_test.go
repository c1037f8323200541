package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbtc-gateway/warden/adapters/email"
	"github.com/sbtc-gateway/warden/adapters/events"
	"github.com/sbtc-gateway/warden/adapters/store"
	"github.com/sbtc-gateway/warden/adapters/tokenizer"
	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

// stubVerifier accepts or rejects every signature. Signature crypto has
// its own tests; these exercise the orchestration around it.
type stubVerifier struct {
	ok     bool
	reason string
}

func (v stubVerifier) Verify(*core.Challenge, string, string, string, string) ports.WalletVerification {
	return ports.WalletVerification{Verified: v.ok, Reason: v.reason}
}

type authFixture struct {
	svc        *AuthService
	merchants  *store.MemoryMerchantStore
	sessions   *store.MemorySessionStore
	challenges *ChallengeIssuer
}

func newAuthFixture(t *testing.T, verifier ports.WalletVerifier) *authFixture {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tok := tokenizer.NewJWTTokenizer(key)

	merchants := store.NewMemoryMerchantStore()
	sessions := store.NewMemorySessionStore()
	logger := testLogger()
	linking := NewLinkingService(merchants, store.NewMemoryLinkStore(), email.NopSender{}, events.NopPublisher{}, logger)
	svc := NewAuthService(merchants, sessions, tok, verifier, linking, email.NopSender{}, events.NopPublisher{}, logger)

	return &authFixture{
		svc:        svc,
		merchants:  merchants,
		sessions:   sessions,
		challenges: NewChallengeIssuer(tok),
	}
}

func (f *authFixture) connectionToken(t *testing.T, address string) string {
	t.Helper()
	_, token, err := f.challenges.IssueConnectionChallenge(address)
	require.NoError(t, err)
	return token
}

const testStacksAddress = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"

func TestRegisterEmail(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{
		Email:        "Alice@Example.com",
		Password:     "correct horse battery",
		BusinessName: "Alice's Shop",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", result.Merchant.Email)
	assert.Equal(t, core.AuthMethodEmail, result.Merchant.AuthMethod)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	// The issued token resolves back to the live session.
	session, err := f.svc.ValidateAccessToken(ctx, result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, session.ID)
	assert.Equal(t, result.Merchant.ID, session.MerchantID)

	_, err = f.svc.RegisterEmail(ctx, RegisterEmailParams{
		Email:    "alice@example.com",
		Password: "another password",
	})
	assert.ErrorIs(t, err, core.ErrEmailTaken)
}

func TestRegisterEmailValidation(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	_, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "not-an-email", Password: "long enough"})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "a@b.co", Password: "short"})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestRegisterWalletFillsPlaceholders(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterWallet(ctx, RegisterWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, testStacksAddress),
	})
	require.NoError(t, err)

	m := result.Merchant
	assert.Equal(t, "Wallet User "+testStacksAddress[len(testStacksAddress)-6:], m.Name)
	assert.Equal(t, "other", m.BusinessType)
	assert.Equal(t, strings.ToLower(testStacksAddress)+"@wallet.local", m.Email)
	assert.True(t, m.HasPlaceholderEmail())
	assert.Equal(t, testStacksAddress, m.StacksAddress)
	assert.Equal(t, core.AuthMethodWallet, m.AuthMethod)
	assert.False(t, m.ProfileComplete)
	assert.NotEmpty(t, m.PasswordHash)

	// The generated password is fetchable exactly once.
	password, err := f.svc.RetrieveGeneratedPassword(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, password)
	_, err = f.svc.RetrieveGeneratedPassword(ctx, m.ID)
	assert.Error(t, err)

	// And it works as an email credential against the placeholder email.
	_, err = f.svc.LoginEmail(ctx, LoginEmailParams{Email: m.Email, Password: password})
	assert.NoError(t, err)
}

func TestRegisterWalletConflicts(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	_, err := f.svc.RegisterWallet(ctx, RegisterWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, testStacksAddress),
	})
	require.NoError(t, err)

	_, err = f.svc.RegisterWallet(ctx, RegisterWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, testStacksAddress),
	})
	assert.ErrorIs(t, err, core.ErrWalletTaken)
}

func TestRegisterWalletRejectsBadSignature(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: false, reason: "signature does not match"})
	ctx := context.Background()

	_, err := f.svc.RegisterWallet(ctx, RegisterWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, testStacksAddress),
	})
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestRegisterWalletRejectsPaymentChallenge(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	_, token, err := f.challenges.IssuePaymentChallenge(testStacksAddress, "pay_123", 50_000)
	require.NoError(t, err)

	_, err = f.svc.RegisterWallet(ctx, RegisterWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: token,
	})
	assert.ErrorIs(t, err, core.ErrChallengeMismatch)
}

func TestRegisterWalletRejectsExpiredChallenge(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	token := f.connectionToken(t, testStacksAddress)
	f.svc.now = func() time.Time { return time.Now().Add(core.ConnectionChallengeTTL + time.Minute) }

	_, err := f.svc.RegisterWallet(ctx, RegisterWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: token,
	})
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestLoginEmailUniformFailure(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	_, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "bob@example.com", Password: "a strong password"})
	require.NoError(t, err)

	// Wrong password and unknown account are indistinguishable.
	_, err = f.svc.LoginEmail(ctx, LoginEmailParams{Email: "bob@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
	_, err = f.svc.LoginEmail(ctx, LoginEmailParams{Email: "nobody@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)

	result, err := f.svc.LoginEmail(ctx, LoginEmailParams{Email: "BOB@example.com", Password: "a strong password"})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", result.Merchant.Email)
}

func TestLoginWalletUniformFailure(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	// Valid signature but unregistered address must not be
	// distinguishable from a bad signature.
	_, err := f.svc.LoginWallet(ctx, LoginWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, testStacksAddress),
	})
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)

	rejecting := newAuthFixture(t, stubVerifier{ok: false})
	_, err = rejecting.svc.LoginWallet(ctx, LoginWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: rejecting.connectionToken(t, testStacksAddress),
	})
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestConnectWallet(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "carol@example.com", Password: "a strong password"})
	require.NoError(t, err)

	merchant, err := f.svc.ConnectWallet(ctx, ConnectWalletParams{
		MerchantID:     result.Merchant.ID,
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, testStacksAddress),
	})
	require.NoError(t, err)
	assert.Equal(t, testStacksAddress, merchant.StacksAddress)

	// A second stacks wallet on the same account is rejected.
	_, err = f.svc.ConnectWallet(ctx, ConnectWalletParams{
		MerchantID:     result.Merchant.ID,
		Address:        "SP000000000000000000002Q6VF78",
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, "SP000000000000000000002Q6VF78"),
	})
	assert.ErrorIs(t, err, core.ErrWalletConnected)

	// Another account cannot claim the same address.
	other, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "dave@example.com", Password: "a strong password"})
	require.NoError(t, err)
	_, err = f.svc.ConnectWallet(ctx, ConnectWalletParams{
		MerchantID:     other.Merchant.ID,
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, testStacksAddress),
	})
	assert.ErrorIs(t, err, core.ErrWalletTaken)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "erin@example.com", Password: "a strong password"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, result.Merchant.ID, result.Session.ID))

	// The token is cryptographically valid but its session is gone.
	_, err = f.svc.ValidateAccessToken(ctx, result.Tokens.AccessToken)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)

	err = f.svc.Logout(ctx, result.Merchant.ID, result.Session.ID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestRefresh(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "frank@example.com", Password: "a strong password"})
	require.NoError(t, err)

	refreshed, err := f.svc.Refresh(ctx, result.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, refreshed.Session.ID)

	session, err := f.svc.ValidateAccessToken(ctx, refreshed.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, session.ID)

	// A refresh token stops working once the session is destroyed.
	require.NoError(t, f.svc.Logout(ctx, result.Merchant.ID, result.Session.ID))
	_, err = f.svc.Refresh(ctx, result.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)
}

func TestRefreshExpiredSession(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "grace@example.com", Password: "a strong password"})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(core.SessionTTL + time.Minute) }
	_, err = f.svc.Refresh(ctx, result.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestRememberMeExtendsSession(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{
		Email:    "heidi@example.com",
		Password: "a strong password",
		Client:   ClientContext{RememberMe: true},
	})
	require.NoError(t, err)

	lifetime := result.Session.ExpiresAt.Sub(result.Session.CreatedAt)
	assert.Equal(t, core.RememberMeSessionTTL, lifetime)
}

func TestUpdateEmail(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "ivan@example.com", Password: "a strong password"})
	require.NoError(t, err)

	suggestion, err := f.svc.UpdateEmail(ctx, result.Merchant.ID, "ivan@newdomain.com")
	require.NoError(t, err)
	assert.Nil(t, suggestion)

	updated, err := f.merchants.GetByID(ctx, result.Merchant.ID)
	require.NoError(t, err)
	assert.Equal(t, "ivan@newdomain.com", updated.Email)
	assert.False(t, updated.EmailVerified)
}

func TestUpdateEmailCollisionSuggestsLinking(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	existing, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "judy@example.com", Password: "a strong password"})
	require.NoError(t, err)

	wallet, err := f.svc.RegisterWallet(ctx, RegisterWalletParams{
		Address:        testStacksAddress,
		Signature:      "sig",
		ChallengeToken: f.connectionToken(t, testStacksAddress),
	})
	require.NoError(t, err)

	// Exact collision with a real (non-placeholder) email scores high,
	// so the conflict carries a linking suggestion.
	suggestion, err := f.svc.UpdateEmail(ctx, wallet.Merchant.ID, "judy@example.com")
	assert.ErrorIs(t, err, core.ErrEmailTaken)
	require.NotNil(t, suggestion)
	assert.True(t, suggestion.CanLink)
	assert.Equal(t, existing.Merchant.ID, suggestion.TargetAccount.ID)
	assert.Equal(t, core.ConfidenceHigh, suggestion.TargetAccount.Confidence)
	assert.Contains(t, suggestion.TargetAccount.MatchingFields, "email")
}

func TestUpdateEmailValidation(t *testing.T) {
	f := newAuthFixture(t, stubVerifier{ok: true})
	ctx := context.Background()

	result, err := f.svc.RegisterEmail(ctx, RegisterEmailParams{Email: "kim@example.com", Password: "a strong password"})
	require.NoError(t, err)

	_, err = f.svc.UpdateEmail(ctx, result.Merchant.ID, "not-an-email")
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = f.svc.UpdateEmail(ctx, result.Merchant.ID, "KIM@example.com")
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}
