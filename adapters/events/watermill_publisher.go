package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/sigauth/internal/clock"
	"github.com/layer-3/sigauth/ports"
)

// Topics session lifecycle events are published on
const (
	TopicLogin   = "auth.login"
	TopicRefresh = "auth.refresh"
	TopicLogout  = "auth.logout"
)

// SessionEvent is the payload of every session lifecycle event
type SessionEvent struct {
	Type   string    `json:"type"`
	Wallet string    `json:"wallet"`
	Role   string    `json:"role,omitempty"`
	At     time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	clock     clock.Clock
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher, clk clock.Clock) ports.EventPublisher {
	if clk == nil {
		clk = clock.Real()
	}
	return &WatermillPublisher{
		publisher: publisher,
		clock:     clk,
	}
}

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, wallet, role string) error {
	return p.publish(ctx, TopicLogin, SessionEvent{Type: "login", Wallet: wallet, Role: role})
}

// PublishRefresh publishes a refresh event
func (p *WatermillPublisher) PublishRefresh(ctx context.Context, wallet, role string) error {
	return p.publish(ctx, TopicRefresh, SessionEvent{Type: "refresh", Wallet: wallet, Role: role})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, wallet string) error {
	return p.publish(ctx, TopicLogout, SessionEvent{Type: "logout", Wallet: wallet})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event SessionEvent) error {
	event.At = p.clock.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("event_type", event.Type)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishLogin(context.Context, string, string) error   { return nil }
func (NopPublisher) PublishRefresh(context.Context, string, string) error { return nil }
func (NopPublisher) PublishLogout(context.Context, string) error          { return nil }
