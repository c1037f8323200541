package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

// dummyPasswordHash keeps login timing uniform when the account does
// not exist: the compare still runs against this hash.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuthService is the identity core orchestrator: registration, login,
// logout, wallet binding and email updates with linking detection.
type AuthService struct {
	merchants ports.MerchantStore
	sessions  ports.SessionStore
	tokenizer ports.Tokenizer
	verifier  ports.WalletVerifier
	linking   *LinkingService
	email     ports.EmailSender
	events    ports.EventPublisher
	passwords PasswordPolicy
	logger    *logrus.Logger
	now       func() time.Time

	// suggestLinkAt is the minimum confidence at which an email
	// collision surfaces a linking suggestion instead of a bare
	// conflict. Configurable because the underlying precedence rule is
	// a product decision, not a protocol one.
	suggestLinkAt core.Confidence
}

// NewAuthService wires the identity core orchestrator.
func NewAuthService(
	merchants ports.MerchantStore,
	sessions ports.SessionStore,
	tokenizer ports.Tokenizer,
	verifier ports.WalletVerifier,
	linking *LinkingService,
	email ports.EmailSender,
	events ports.EventPublisher,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		merchants:     merchants,
		sessions:      sessions,
		tokenizer:     tokenizer,
		verifier:      verifier,
		linking:       linking,
		email:         email,
		events:        events,
		passwords:     DefaultPasswordPolicy(),
		logger:        logger,
		now:           time.Now,
		suggestLinkAt: core.ConfidenceHigh,
	}
}

// ClientContext carries the request attributes every session records.
type ClientContext struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	RememberMe        bool
}

// AuthResult is the outcome of any successful authentication.
type AuthResult struct {
	Merchant *core.Merchant
	Session  *core.Session
	Tokens   core.TokenPair
}

// RegisterEmailParams are the inputs for email registration.
type RegisterEmailParams struct {
	Email        string
	Password     string
	BusinessName string
	Client       ClientContext
}

// RegisterEmail creates a merchant account with email credentials and
// opens its first session.
func (s *AuthService) RegisterEmail(ctx context.Context, params RegisterEmailParams) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", core.ErrInvalidRequest)
	}
	if len(params.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", core.ErrInvalidRequest)
	}

	// Early exit; the store's uniqueness constraint is the real gate.
	if _, err := s.merchants.GetByEmail(ctx, email); err == nil {
		return nil, core.ErrEmailTaken
	}

	hash, err := s.passwords.Hash(params.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	merchant := &core.Merchant{
		ID:           uuid.New().String(),
		Name:         params.BusinessName,
		Email:        email,
		BusinessType: "other",
		AuthMethod:   core.AuthMethodEmail,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if merchant.Name == "" {
		merchant.Name = emailLocalPart(email)
	}
	if err := s.merchants.Create(ctx, merchant); err != nil {
		return nil, err
	}

	return s.openSession(ctx, merchant, params.Client)
}

// RegisterWalletParams are the inputs for wallet-signature registration.
type RegisterWalletParams struct {
	Address        string
	PublicKey      string
	Signature      string
	ChallengeToken string
	WalletType     string
	BusinessName   string
	Email          string
	Client         ClientContext
}

// RegisterWallet creates a merchant account authenticated by wallet
// signature. Missing profile fields get placeholders, and a strong
// random password is generated so the account has valid credentials.
func (s *AuthService) RegisterWallet(ctx context.Context, params RegisterWalletParams) (*AuthResult, error) {
	challenge, err := s.connectionChallenge(params.ChallengeToken)
	if err != nil {
		return nil, err
	}

	// Conflict check first so callers holding a registered wallet are
	// told to log in before paying the verification cost. Verification
	// still happens before any state mutation.
	if _, err := s.merchants.GetByWalletAddress(ctx, params.Address); err == nil {
		return nil, core.ErrWalletTaken
	}

	if v := s.verifier.Verify(challenge, params.Signature, params.Address, params.PublicKey, params.WalletType); !v.Verified {
		s.logger.WithFields(logrus.Fields{
			"operation": "register_wallet",
			"reason":    v.Reason,
		}).Info("wallet signature rejected")
		return nil, core.ErrInvalidSignature
	}

	password, err := s.passwords.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	merchant := &core.Merchant{
		ID:                uuid.New().String(),
		Name:              params.BusinessName,
		Email:             strings.ToLower(strings.TrimSpace(params.Email)),
		BusinessType:      "other",
		StacksAddress:     params.Address,
		AuthMethod:        core.AuthMethodWallet,
		PasswordHash:      hash,
		GeneratedPassword: password,
		ProfileComplete:   false,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if merchant.Name == "" {
		merchant.Name = placeholderWalletName(params.Address)
	}
	if merchant.Email == "" {
		merchant.Email = strings.ToLower(params.Address) + "@" + core.PlaceholderEmailDomain
	}
	if params.WalletType == "bitcoin" {
		merchant.StacksAddress = ""
		merchant.BitcoinAddress = params.Address
	}

	if err := s.merchants.Create(ctx, merchant); err != nil {
		return nil, err
	}

	if !merchant.HasPlaceholderEmail() {
		if err := s.email.SendGeneratedPasswordNotice(ctx, merchant.Email); err != nil {
			s.logger.WithError(err).WithField("merchant_id", merchant.ID).Warn("failed to send password notice")
		}
	}

	return s.openSession(ctx, merchant, params.Client)
}

// LoginEmailParams are the inputs for email login.
type LoginEmailParams struct {
	Email    string
	Password string
	Client   ClientContext
}

// LoginEmail authenticates with email and password. Unknown accounts
// and wrong passwords produce the same failure.
func (s *AuthService) LoginEmail(ctx context.Context, params LoginEmailParams) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" || params.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", core.ErrInvalidRequest)
	}

	merchant, err := s.merchants.GetByEmail(ctx, email)
	if err != nil {
		// Burn a compare anyway so the miss is not observable by timing.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(params.Password))
		return nil, core.ErrInvalidCredentials
	}
	if !s.passwords.Check(params.Password, merchant.PasswordHash) {
		return nil, core.ErrInvalidCredentials
	}

	return s.openSession(ctx, merchant, params.Client)
}

// LoginWalletParams are the inputs for wallet login.
type LoginWalletParams struct {
	Address        string
	PublicKey      string
	Signature      string
	ChallengeToken string
	WalletType     string
	Client         ClientContext
}

// LoginWallet authenticates an existing merchant by wallet signature.
func (s *AuthService) LoginWallet(ctx context.Context, params LoginWalletParams) (*AuthResult, error) {
	challenge, err := s.connectionChallenge(params.ChallengeToken)
	if err != nil {
		return nil, err
	}

	if v := s.verifier.Verify(challenge, params.Signature, params.Address, params.PublicKey, params.WalletType); !v.Verified {
		return nil, core.ErrInvalidCredentials
	}

	merchant, err := s.merchants.GetByWalletAddress(ctx, params.Address)
	if err != nil {
		// Same failure as a bad signature; login must not reveal
		// whether the address is registered.
		return nil, core.ErrInvalidCredentials
	}

	return s.openSession(ctx, merchant, params.Client)
}

// ConnectWalletParams bind a wallet to an authenticated account.
type ConnectWalletParams struct {
	MerchantID     string
	Address        string
	PublicKey      string
	Signature      string
	ChallengeToken string
	WalletType     string
}

// ConnectWallet binds a verified wallet address to an existing account.
func (s *AuthService) ConnectWallet(ctx context.Context, params ConnectWalletParams) (*core.Merchant, error) {
	challenge, err := s.connectionChallenge(params.ChallengeToken)
	if err != nil {
		return nil, err
	}
	if v := s.verifier.Verify(challenge, params.Signature, params.Address, params.PublicKey, params.WalletType); !v.Verified {
		return nil, core.ErrInvalidSignature
	}

	merchant, err := s.merchants.GetByID(ctx, params.MerchantID)
	if err != nil {
		return nil, err
	}

	stacks, bitcoin := params.Address, ""
	if params.WalletType == "bitcoin" {
		stacks, bitcoin = "", params.Address
		if merchant.BitcoinAddress != "" {
			return nil, core.ErrWalletConnected
		}
	} else if merchant.StacksAddress != "" {
		return nil, core.ErrWalletConnected
	}

	// The store's uniqueness constraint decides concurrent claims.
	if err := s.merchants.BindWallet(ctx, merchant.ID, stacks, bitcoin); err != nil {
		return nil, err
	}

	return s.merchants.GetByID(ctx, merchant.ID)
}

// Logout destroys one session. Destroying a missing session returns
// core.ErrSessionNotFound so the caller can pick its response shape.
func (s *AuthService) Logout(ctx context.Context, merchantID, sessionID string) error {
	if err := s.sessions.Delete(ctx, merchantID, sessionID); err != nil {
		return err
	}
	if err := s.events.PublishLogout(ctx, merchantID, sessionID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_id": merchantID,
			"operation":   "logout",
		}).Warn("failed to publish logout event")
	}
	return nil
}

// ListSessions returns the merchant's sessions that have not yet
// expired, most recent first.
func (s *AuthService) ListSessions(ctx context.Context, merchantID string) ([]*core.Session, error) {
	sessions, err := s.sessions.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	live := sessions[:0]
	for _, sess := range sessions {
		if !sess.Expired(now) {
			live = append(live, sess)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.After(live[j].CreatedAt) })
	return live, nil
}

// ValidateAccessToken checks an access token and its session liveness.
// Token claims alone are never trusted: the session must still exist.
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*core.Session, error) {
	claimed, err := s.tokenizer.AccessTokenToSession(token)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Get(ctx, claimed.ID)
	if err != nil {
		return nil, core.ErrTokenInvalidated
	}
	if session.MerchantID != claimed.MerchantID {
		return nil, core.ErrInvalidToken
	}
	if session.Expired(s.now()) {
		return nil, core.ErrTokenExpired
	}
	return session, nil
}

// Refresh mints a fresh token pair for a live session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claimed, err := s.tokenizer.RefreshTokenToSession(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Get(ctx, claimed.ID)
	if err != nil {
		return nil, core.ErrTokenInvalidated
	}
	if session.MerchantID != claimed.MerchantID {
		return nil, core.ErrInvalidToken
	}
	if session.Expired(s.now()) {
		return nil, core.ErrTokenExpired
	}

	merchant, err := s.merchants.GetByID(ctx, session.MerchantID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.issueTokens(session)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Merchant: merchant, Session: session, Tokens: tokens}, nil
}

// LinkingSuggestion is returned when an email update collides with an
// account that looks like the same identity.
type LinkingSuggestion struct {
	CanLink       bool
	TargetAccount core.LinkCandidate
}

// UpdateEmail changes the merchant's email. A collision with a
// high-confidence linking candidate surfaces a suggestion instead of a
// bare conflict; any other collision is a conflict.
func (s *AuthService) UpdateEmail(ctx context.Context, merchantID, newEmail string) (*LinkingSuggestion, error) {
	email := strings.ToLower(strings.TrimSpace(newEmail))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", core.ErrInvalidRequest)
	}

	merchant, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(merchant.Email, email) {
		return nil, fmt.Errorf("%w: email is unchanged", core.ErrInvalidRequest)
	}

	existing, err := s.merchants.GetByEmail(ctx, email)
	if err == nil && existing.ID != merchantID {
		confidence, fields := s.linking.scorer.Score(existing, email, merchant.StacksAddress, merchant.Name)
		if len(fields) > 0 && !stronger(s.suggestLinkAt, confidence) {
			return &LinkingSuggestion{
				CanLink: true,
				TargetAccount: core.LinkCandidate{
					ID:             existing.ID,
					Name:           existing.Name,
					Email:          existing.Email,
					AuthMethod:     existing.AuthMethod,
					Confidence:     confidence,
					MatchingFields: fields,
				},
			}, core.ErrEmailTaken
		}
		return nil, core.ErrEmailTaken
	}

	merchant.Email = email
	merchant.EmailVerified = false
	merchant.UpdatedAt = s.now()
	if err := s.merchants.Update(ctx, merchant); err != nil {
		return nil, err
	}

	if err := s.email.SendEmailChangeVerification(ctx, email, ""); err != nil {
		s.logger.WithError(err).WithField("merchant_id", merchantID).Warn("failed to send verification email")
	}
	return nil, nil
}

// RetrieveGeneratedPassword returns the system-generated password of a
// wallet-registered account exactly once, then clears it.
func (s *AuthService) RetrieveGeneratedPassword(ctx context.Context, merchantID string) (string, error) {
	merchant, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return "", err
	}
	if merchant.GeneratedPassword == "" {
		return "", core.ErrMerchantNotFound
	}

	password := merchant.GeneratedPassword
	merchant.GeneratedPassword = ""
	merchant.UpdatedAt = s.now()
	if err := s.merchants.Update(ctx, merchant); err != nil {
		return "", err
	}
	return password, nil
}

// VerifyWalletSignature checks a signed challenge without touching any
// account state.
func (s *AuthService) VerifyWalletSignature(challengeToken, signature, address, publicKey, walletType string) ports.WalletVerification {
	challenge, err := s.tokenizer.TokenToChallenge(challengeToken)
	if err != nil {
		return ports.WalletVerification{Verified: false, Reason: "invalid challenge token"}
	}
	if challenge.Expired(s.now()) {
		return ports.WalletVerification{Verified: false, Reason: "challenge expired"}
	}
	return s.verifier.Verify(challenge, signature, address, publicKey, walletType)
}

// connectionChallenge parses and gates a challenge for authentication
// use. Payment challenges never authenticate a login.
func (s *AuthService) connectionChallenge(token string) (*core.Challenge, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: challenge is required", core.ErrInvalidRequest)
	}
	challenge, err := s.tokenizer.TokenToChallenge(token)
	if err != nil {
		return nil, err
	}
	if challenge.Subject != core.ChallengeConnection {
		return nil, core.ErrChallengeMismatch
	}
	if challenge.Expired(s.now()) {
		return nil, core.ErrChallengeExpired
	}
	return challenge, nil
}

// openSession creates the session and then mints its tokens. Session
// creation happens-before token issuance, always.
func (s *AuthService) openSession(ctx context.Context, merchant *core.Merchant, client ClientContext) (*AuthResult, error) {
	now := s.now()
	ttl := core.SessionTTL
	if client.RememberMe {
		ttl = core.RememberMeSessionTTL
	}

	session := &core.Session{
		ID:                uuid.New().String(),
		MerchantID:        merchant.ID,
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: client.DeviceFingerprint,
		RememberMe:        client.RememberMe,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	tokens, err := s.issueTokens(session)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"merchant_id": merchant.ID,
		"session_id":  session.ID,
	}).Info("session created")

	return &AuthResult{Merchant: merchant, Session: session, Tokens: tokens}, nil
}

func (s *AuthService) issueTokens(session *core.Session) (core.TokenPair, error) {
	access, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to create access token: %w", err)
	}
	refresh, err := s.tokenizer.SessionToRefreshToken(session)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to create refresh token: %w", err)
	}
	return core.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// placeholderWalletName builds the default display name for a
// wallet-only registration from the trailing address characters.
func placeholderWalletName(address string) string {
	tail := address
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	return "Wallet User " + tail
}
