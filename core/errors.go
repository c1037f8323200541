package core

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")

	ErrChallengeExpired  = errors.New("challenge has expired")
	ErrChallengeMismatch = errors.New("challenge does not match request")

	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrMerchantNotFound = errors.New("merchant not found")
	ErrWalletTaken      = errors.New("wallet address already registered")
	ErrEmailTaken       = errors.New("email already registered")
	ErrWalletConnected  = errors.New("merchant already has a connected wallet")

	ErrSessionNotFound = errors.New("session not found")

	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrAPIKeyRevoked  = errors.New("api key has been revoked")
	ErrAPIKeyExpired  = errors.New("api key has expired")
	ErrIPNotAllowed   = errors.New("request ip not allowed for this api key")
	ErrInvalidAPIKey  = errors.New("invalid api key")

	ErrLinkNotFound      = errors.New("linking request not found")
	ErrLinkTokenExpired  = errors.New("linking token has expired")
	ErrLinkTokenConsumed = errors.New("linking token already consumed")
	ErrLinkWrongMerchant = errors.New("linking token was issued for a different merchant")
	ErrNotLinked         = errors.New("accounts are not linked")

	ErrStoreUnavailable = errors.New("store operation failed")
)
