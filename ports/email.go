package ports

import "context"

// EmailSender delivers identity-related notifications. Internals are
// out of scope for the access core; failures are logged, not fatal.
type EmailSender interface {
	SendLinkingInvite(ctx context.Context, to, sourceName, token string) error
	SendGeneratedPasswordNotice(ctx context.Context, to string) error
	SendEmailChangeVerification(ctx context.Context, to, verificationURL string) error
}
