package ports

import "github.com/sbtc-gateway/warden/core"

// Tokenizer converts between domain objects and signed bearer tokens.
type Tokenizer interface {
	// Challenge token operations
	ChallengeToToken(challenge *core.Challenge) (string, error)
	TokenToChallenge(token string) (*core.Challenge, error)

	// Session token operations. Access and refresh tokens encode the
	// session and merchant ids; validation still checks the session
	// store for revocation before trusting them.
	SessionToAccessToken(session *core.Session) (string, error)
	AccessTokenToSession(token string) (*core.Session, error)
	SessionToRefreshToken(session *core.Session) (string, error)
	RefreshTokenToSession(token string) (*core.Session, error)
}
