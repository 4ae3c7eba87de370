package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/approvals/approvalsd/internal/ledger"
)

// LedgerIntegrity verifies every account's balance chain. It runs nightly via
// the scheduler and can also be enqueued by hand after an incident.
type LedgerIntegrity struct {
	ledger *ledger.Service
	logger *slog.Logger
}

// NewLedgerIntegrity constructs the integrity check handler.
func NewLedgerIntegrity(svc *ledger.Service, logger *slog.Logger) *LedgerIntegrity {
	return &LedgerIntegrity{ledger: svc, logger: logger}
}

// Handle walks all accounts and verifies snapshot linkage. One broken account
// does not stop the sweep; the task fails at the end so the run is visible in
// the queue history.
func (j *LedgerIntegrity) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	ids, err := j.ledger.ListAccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	broken := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.ledger.VerifyChain(ctx, id); err != nil {
			broken++
			j.logger.Error("ledger integrity violation",
				slog.String("account_id", id.String()),
				slog.Any("error", err))
		}
	}

	j.logger.Info("ledger integrity sweep finished",
		slog.Int("accounts", len(ids)),
		slog.Int("broken", broken))
	if broken > 0 {
		return asynq.SkipRetry
	}
	return nil
}
