package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/events"
)

// Route binds a provider to a minimum severity. An alert transition is
// delivered on every route whose threshold it meets, so a critical alert can
// page while a low one only hits the log.
type Route struct {
	Provider    Provider
	MinSeverity rules.Severity
}

// Config holds dispatcher tuning
type Config struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Workers:       2,
		BufferSize:    256,
		RetryAttempts: 3,
		RetryDelay:    30 * time.Second,
	}
}

type delivery struct {
	notification *Notification
	provider     Provider
}

// Dispatcher turns alert lifecycle events into outbound notifications. It
// subscribes to the event bus, fans deliveries out over a worker pool and
// retries transient provider failures.
type Dispatcher struct {
	routes []Route
	config Config
	log    zerolog.Logger

	ch     chan delivery
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stats   Stats
}

// NewDispatcher creates a dispatcher over the given routes
func NewDispatcher(routes []Route, config Config, log zerolog.Logger) *Dispatcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Dispatcher{
		routes: routes,
		config: config,
		log:    log.With().Str("component", "notification").Logger(),
		ch:     make(chan delivery, config.BufferSize),
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to alert events and launches the delivery workers
func (d *Dispatcher) Start(ctx context.Context, bus events.EventBus) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	if err := bus.Subscribe(ctx, "alert.*", "notification-dispatcher", d.HandleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to alert events: %w", err)
	}

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	d.log.Info().Int("routes", len(d.routes)).Msg("notification dispatcher started")
	return nil
}

// Stop halts the workers, letting in-flight deliveries finish
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
	d.log.Info().Msg("notification dispatcher stopped")
}

// HandleEvent enqueues deliveries for one alert lifecycle event. Events whose
// severity meets no route threshold are dropped silently.
func (d *Dispatcher) HandleEvent(ctx context.Context, event events.Event) error {
	payload, err := decodePayload(event)
	if err != nil {
		return err
	}

	severity := rules.Severity(payload.Severity)
	for _, route := range d.routes {
		if !meetsMinSeverity(severity, route.MinSeverity) {
			continue
		}

		n := &Notification{
			ID:        uuid.New().String(),
			Channel:   route.Provider.Channel(),
			Severity:  severity,
			Status:    StatusPending,
			Subject:   subject(payload),
			Body:      body(payload),
			AlertID:   payload.AlertID,
			RuleID:    payload.RuleID,
			EntityKey: payload.EntityKey,
			Action:    payload.Action,
			EventID:   event.ID,
			CreatedAt: time.Now().UTC(),
		}

		select {
		case d.ch <- delivery{notification: n, provider: route.Provider}:
		default:
			d.log.Warn().Str("alert_id", n.AlertID).Msg("notification buffer full, dropping")
		}
	}
	return nil
}

// Stats returns a snapshot of dispatcher counters
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := Stats{
		TotalSent:   d.stats.TotalSent,
		TotalFailed: d.stats.TotalFailed,
		ByChannel:   make(map[Channel]int64, len(d.stats.ByChannel)),
		BySeverity:  make(map[rules.Severity]int64, len(d.stats.BySeverity)),
	}
	for k, v := range d.stats.ByChannel {
		out.ByChannel[k] = v
	}
	for k, v := range d.stats.BySeverity {
		out.BySeverity[k] = v
	}
	return out
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case del := <-d.ch:
			d.process(ctx, del)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, del delivery) {
	n := del.notification

	if err := del.provider.Send(ctx, n); err != nil {
		n.RetryCount++
		n.ErrorMessage = err.Error()

		if n.RetryCount >= d.config.RetryAttempts {
			n.Status = StatusFailed
			d.record(n, false)
			d.log.Error().Err(err).
				Str("alert_id", n.AlertID).
				Str("channel", string(n.Channel)).
				Msg("notification abandoned")
			return
		}

		d.log.Warn().Err(err).
			Str("alert_id", n.AlertID).
			Int("attempt", n.RetryCount).
			Msg("notification delivery failed, retrying")

		go func() {
			select {
			case <-time.After(d.config.RetryDelay):
			case <-d.stopCh:
				return
			}
			select {
			case d.ch <- del:
			default:
			}
		}()
		return
	}

	now := time.Now().UTC()
	n.SentAt = &now
	n.Status = StatusSent
	d.record(n, true)
}

func (d *Dispatcher) record(n *Notification, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stats.ByChannel == nil {
		d.stats.ByChannel = make(map[Channel]int64)
	}
	if d.stats.BySeverity == nil {
		d.stats.BySeverity = make(map[rules.Severity]int64)
	}

	if success {
		d.stats.TotalSent++
		d.stats.ByChannel[n.Channel]++
		d.stats.BySeverity[n.Severity]++
	} else {
		d.stats.TotalFailed++
	}
}

// decodePayload recovers the notification payload from an event. In-process
// events carry the struct directly; events replayed off the wire arrive as
// decoded JSON.
func decodePayload(event events.Event) (events.NotificationPayload, error) {
	if p, ok := event.Data.(events.NotificationPayload); ok {
		return p, nil
	}

	raw, err := json.Marshal(event.Data)
	if err != nil {
		return events.NotificationPayload{}, fmt.Errorf("failed to re-encode event data: %w", err)
	}
	var p events.NotificationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return events.NotificationPayload{}, fmt.Errorf("failed to decode notification payload: %w", err)
	}
	return p, nil
}

func subject(p events.NotificationPayload) string {
	return fmt.Sprintf("[%s] %s %s on %s", strings.ToUpper(p.Severity), p.RuleID, p.Action, p.EntityKey)
}

func body(p events.NotificationPayload) string {
	return fmt.Sprintf(
		"Alert %s (rule %s, severity %s) was %s for entity %s at %s.",
		p.AlertID, p.RuleID, p.Severity, strings.ToLower(p.Action), p.EntityKey,
		p.Timestamp.Format(time.RFC3339),
	)
}
