// Package notify enqueues outbound notifications after a transition commits.
// Dispatch is fire-and-forget: a failed enqueue is logged and never rolls the
// transition back.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Event kinds emitted by the core.
const (
	EventDocumentCreated   = "document.created"
	EventDocumentClaimed   = "document.claimed"
	EventDocumentAccepted  = "document.accepted"
	EventDocumentRejected  = "document.rejected"
	EventDocumentReReview  = "document.re_review"
	EventDocumentOverride  = "document.admin_override"
	EventDocumentSettled   = "document.settled"
	EventDocumentDeleted   = "document.deleted"
	EventCorrectionCreated = "document.correction_created"
)

// TaskTypeEvent is the asynq task type for notification delivery.
const TaskTypeEvent = "notify:event"

// EventPayload is the task payload handed to the worker.
type EventPayload struct {
	AccountID uuid.UUID      `json:"account_id"`
	EventKind string         `json:"event_kind"`
	Payload   map[string]any `json:"payload"`
}

// Dispatcher enqueues notification tasks on the asynq queue.
type Dispatcher struct {
	client  *asynq.Client
	logger  *slog.Logger
	printer *message.Printer
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client *asynq.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:  client,
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// Notify enqueues one event. Errors are swallowed after logging.
func (d *Dispatcher) Notify(ctx context.Context, accountID uuid.UUID, eventKind string, payload map[string]any) {
	if d == nil || d.client == nil {
		return
	}
	data, err := json.Marshal(EventPayload{AccountID: accountID, EventKind: eventKind, Payload: d.format(payload)})
	if err != nil {
		d.logger.Error("marshal notification", slog.Any("error", err))
		return
	}
	task := asynq.NewTask(TaskTypeEvent, data)
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		d.logger.Warn("enqueue notification",
			slog.String("event", eventKind),
			slog.String("account_id", accountID.String()),
			slog.Any("error", err))
	}
}

// format renders decimal amounts as grouped human-readable strings so the
// delivery channel does not need to know the money type.
func (d *Dispatcher) format(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if dec, ok := v.(decimal.Decimal); ok {
			f, _ := dec.Float64()
			out[k] = d.printer.Sprintf("%.2f", f)
			continue
		}
		out[k] = v
	}
	return out
}
