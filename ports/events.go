package ports

import "context"

// EventPublisher notifies other instances about identity state changes.
type EventPublisher interface {
	PublishLogout(ctx context.Context, merchantID, sessionID string) error
	PublishKeyRotated(ctx context.Context, merchantID, oldKeyID, newKeyID string) error
	PublishAccountsLinked(ctx context.Context, merchantID, otherID string) error
}
