// Package events publishes paywall lifecycle events to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Topics.
const (
	TopicPaymentVerified = "paywall.payment.verified"
	TopicSessionIssued   = "paywall.session.issued"
	TopicAgentPayment    = "paywall.agent.payment"
)

// PaymentVerified is published after a signature is verified and claimed.
type PaymentVerified struct {
	Signature  string    `json:"signature"`
	Network    string    `json:"network"`
	ResourceID string    `json:"resource_id"`
	Payer      string    `json:"payer"`
	Recipient  string    `json:"recipient"`
	Amount     uint64    `json:"amount"`
	Mint       string    `json:"mint,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}

// SessionIssued is published when a session token is created or extended.
type SessionIssued struct {
	SessionID  string    `json:"session_id"`
	Wallet     string    `json:"wallet"`
	ResourceID string    `json:"resource_id"`
	SiteWide   bool      `json:"site_wide"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AgentPayment is published after the agent executor finishes a payment.
type AgentPayment struct {
	Success        bool   `json:"success"`
	Signature      string `json:"signature,omitempty"`
	Recipient      string `json:"recipient"`
	AmountLamports uint64 `json:"amount_lamports"`
	Error          string `json:"error,omitempty"`
}

// Publisher publishes paywall events.
type Publisher interface {
	PublishPaymentVerified(ctx context.Context, e PaymentVerified) error
	PublishSessionIssued(ctx context.Context, e SessionIssued) error
	PublishAgentPayment(ctx context.Context, e AgentPayment) error
}

// WatermillPublisher publishes JSON events through a watermill publisher.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher wraps publisher. Closing it is up to the caller.
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) PublishPaymentVerified(ctx context.Context, e PaymentVerified) error {
	return p.publish(ctx, TopicPaymentVerified, e.Signature, e)
}

func (p *WatermillPublisher) PublishSessionIssued(ctx context.Context, e SessionIssued) error {
	return p.publish(ctx, TopicSessionIssued, "", e)
}

func (p *WatermillPublisher) PublishAgentPayment(ctx context.Context, e AgentPayment) error {
	return p.publish(ctx, TopicAgentPayment, e.Signature, e)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if id == "" {
		id = uuid.NewString()
	}
	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Noop discards every event.
type Noop struct{}

func (Noop) PublishPaymentVerified(context.Context, PaymentVerified) error { return nil }
func (Noop) PublishSessionIssued(context.Context, SessionIssued) error     { return nil }
func (Noop) PublishAgentPayment(context.Context, AgentPayment) error       { return nil }

var (
	_ Publisher = (*WatermillPublisher)(nil)
	_ Publisher = Noop{}
)
