package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/sbtc-gateway/warden/ports"
)

const (
	TopicLogout         = "warden.auth.logout"
	TopicKeyRotated     = "warden.apikey.rotated"
	TopicAccountsLinked = "warden.accounts.linked"
)

// LogoutEvent notifies other instances that a session was destroyed.
type LogoutEvent struct {
	MerchantID string `json:"merchant_id"`
	SessionID  string `json:"session_id"`
}

// KeyRotatedEvent notifies consumers that an API key entered its grace
// window.
type KeyRotatedEvent struct {
	MerchantID string `json:"merchant_id"`
	OldKeyID   string `json:"old_key_id"`
	NewKeyID   string `json:"new_key_id"`
}

// AccountsLinkedEvent records a confirmed account link.
type AccountsLinkedEvent struct {
	MerchantID string `json:"merchant_id"`
	OtherID    string `json:"other_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) PublishLogout(ctx context.Context, merchantID, sessionID string) error {
	return p.publish(TopicLogout, LogoutEvent{MerchantID: merchantID, SessionID: sessionID})
}

func (p *WatermillPublisher) PublishKeyRotated(ctx context.Context, merchantID, oldKeyID, newKeyID string) error {
	return p.publish(TopicKeyRotated, KeyRotatedEvent{MerchantID: merchantID, OldKeyID: oldKeyID, NewKeyID: newKeyID})
}

func (p *WatermillPublisher) PublishAccountsLinked(ctx context.Context, merchantID, otherID string) error {
	return p.publish(TopicAccountsLinked, AccountsLinkedEvent{MerchantID: merchantID, OtherID: otherID})
}

func (p *WatermillPublisher) publish(topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NopPublisher discards events. Used in tests and when no broker is
// configured.
type NopPublisher struct{}

func (NopPublisher) PublishLogout(context.Context, string, string) error             { return nil }
func (NopPublisher) PublishKeyRotated(context.Context, string, string, string) error { return nil }
func (NopPublisher) PublishAccountsLinked(context.Context, string, string) error     { return nil }
