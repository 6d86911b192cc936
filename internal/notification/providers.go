package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Provider delivers notifications over one channel
type Provider interface {
	Send(ctx context.Context, notification *Notification) error
	Channel() Channel
}

// ConsoleProvider writes notifications to the structured log. It is the
// default egress in local development.
type ConsoleProvider struct {
	log zerolog.Logger
}

// NewConsoleProvider creates a console logging provider
func NewConsoleProvider(log zerolog.Logger) *ConsoleProvider {
	return &ConsoleProvider{log: log.With().Str("component", "notification").Logger()}
}

// Send logs the notification
func (p *ConsoleProvider) Send(ctx context.Context, n *Notification) error {
	p.log.Info().
		Str("alert_id", n.AlertID).
		Str("rule", n.RuleID).
		Str("entity", n.EntityKey).
		Str("severity", string(n.Severity)).
		Str("action", n.Action).
		Str("subject", n.Subject).
		Msg("alert notification")
	return nil
}

// Channel names the delivery channel
func (p *ConsoleProvider) Channel() Channel { return ChannelConsole }

// WebhookProvider posts notifications as JSON to an external endpoint,
// typically a paging or chat integration.
type WebhookProvider struct {
	url    string
	client *http.Client
}

// NewWebhookProvider creates a webhook provider for the given endpoint
func NewWebhookProvider(url string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the notification
func (p *WebhookProvider) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Channel names the delivery channel
func (p *WebhookProvider) Channel() Channel { return ChannelWebhook }

// MemoryProvider captures notifications for tests
type MemoryProvider struct {
	mu         sync.Mutex
	sent       []*Notification
	failOnSend bool
}

// NewMemoryProvider creates a capturing provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

// Send records the notification, or fails when configured to
func (p *MemoryProvider) Send(ctx context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOnSend {
		return fmt.Errorf("send failure")
	}
	p.sent = append(p.sent, n)
	return nil
}

// Channel names the delivery channel
func (p *MemoryProvider) Channel() Channel { return ChannelConsole }

// SetFailOnSend makes subsequent sends fail
func (p *MemoryProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// Sent returns a copy of everything delivered so far
func (p *MemoryProvider) Sent() []*Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Notification, len(p.sent))
	copy(out, p.sent)
	return out
}
