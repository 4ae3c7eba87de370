package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sony/gobreaker"

	"github.com/approvals/approvalsd/internal/notify"
)

// Sender delivers one notification event to its channel (mail, webhook).
type Sender interface {
	Send(ctx context.Context, event notify.EventPayload) error
}

// LogSender writes notifications to the application log. It stands in when no
// delivery channel is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the event.
func (s LogSender) Send(ctx context.Context, event notify.EventPayload) error {
	s.Logger.Info("notification delivered",
		slog.String("event", event.EventKind),
		slog.String("account_id", event.AccountID.String()))
	return nil
}

// NotifyDelivery processes notify:event tasks behind a circuit breaker so a
// dead downstream channel sheds load instead of piling retries on it.
type NotifyDelivery struct {
	sender  Sender
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewNotifyDelivery constructs the delivery handler.
func NewNotifyDelivery(sender Sender, logger *slog.Logger) *NotifyDelivery {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notify-delivery",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notification breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &NotifyDelivery{sender: sender, breaker: breaker, logger: logger}
}

// Handle delivers one event. An open breaker fails fast and lets asynq retry
// with backoff.
func (d *NotifyDelivery) Handle(ctx context.Context, t *asynq.Task) error {
	var event notify.EventPayload
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		d.logger.Error("malformed notification payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.sender.Send(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("deliver %s: %w", event.EventKind, err)
	}
	return nil
}
