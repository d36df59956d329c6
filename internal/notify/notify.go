// Package notify delivers notifications to a hosted notification service.
// Delivery is fire-and-forget: publishers never see provider failures.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Recipient identifies a user to notify. UserID doubles as the provider's
// subscriber id.
type Recipient struct {
	UserID    string `json:"subscriberId"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Notification is the content of one message.
type Notification struct {
	Title   string         `json:"title"`
	Body    string         `json:"body,omitempty"`
	URL     string         `json:"url,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`

	// Roles selects the recipients of a tenant-wide send. Empty means every member.
	Roles []string `json:"-"`
}

// Provider sends notifications through one channel (a provider workflow id).
type Provider interface {
	Send(ctx context.Context, channel string, to Recipient, n Notification) error
	SendToRoles(ctx context.Context, channel, tenantID string, n Notification) error
}

// Message is one queued delivery. A nil Recipient sends to the tenant's
// users holding Notification.Roles.
type Message struct {
	Channel      string
	TenantID     string
	Recipient    *Recipient
	Notification Notification
}

// Publisher accepts messages without blocking. It reports whether the
// message was accepted for delivery.
type Publisher interface {
	Publish(msg Message) bool
}

// LogProvider writes notifications to the log instead of sending them.
// Used when no provider API key is configured.
type LogProvider struct {
	logger *zap.Logger
}

func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger.Named("notify")}
}

func (p *LogProvider) Send(_ context.Context, channel string, to Recipient, n Notification) error {
	p.logger.Info("notification",
		zap.String("channel", channel),
		zap.String("to", to.UserID),
		zap.String("title", n.Title))
	return nil
}

func (p *LogProvider) SendToRoles(_ context.Context, channel, tenantID string, n Notification) error {
	p.logger.Info("notification",
		zap.String("channel", channel),
		zap.String("tenant", tenantID),
		zap.Strings("roles", n.Roles),
		zap.String("title", n.Title))
	return nil
}
