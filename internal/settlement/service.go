// Package settlement owns correction creation and the numbering scheme that
// ties corrections to their originals.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/document"
	"github.com/approvals/approvalsd/internal/ledger"
	"github.com/approvals/approvalsd/internal/notify"
	"github.com/approvals/approvalsd/internal/observability"
	"github.com/approvals/approvalsd/internal/shared"
)

// Service creates corrections against accepted documents.
type Service struct {
	docs     document.Repository
	notifier document.Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService constructs the settlement service.
func NewService(docs document.Repository, notifier document.Notifier, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{docs: docs, notifier: notifier, logger: logger, metrics: metrics}
}

// CorrectionNumber derives the deterministic number of the seq-th correction
// of a document.
func CorrectionNumber(originalNumber string, seq int) string {
	return fmt.Sprintf("%s-KOREKTA-%d", originalNumber, seq)
}

// CreateCorrection inserts a new correction document directly in ACCEPTED
// state, with no lease ever taken, and credits the originator by amount — all
// as one atomic unit. The correction sequence is counted and consumed within
// the same unit of work; a unique constraint closes the remaining race window
// and the loser retries the numbering once before surfacing Conflict.
func (s *Service) CreateCorrection(ctx context.Context, actor shared.Identity, originalID uuid.UUID, amount decimal.Decimal, justification string) (document.Document, error) {
	if !actor.Role.AnyOf(shared.RoleReviewer, shared.RoleAdmin) {
		return document.Document{}, fmt.Errorf("settlement: corrections require reviewer capability: %w", shared.ErrForbidden)
	}
	if amount.IsZero() || amount.IsNegative() {
		return document.Document{}, fmt.Errorf("settlement: correction amount must be positive: %w", shared.ErrBadRequest)
	}
	if justification == "" {
		return document.Document{}, fmt.Errorf("settlement: justification required: %w", shared.ErrBadRequest)
	}

	corr, err := s.createOnce(ctx, actor, originalID, amount, justification)
	if errors.Is(err, document.ErrDuplicateCorrection) {
		// A concurrent correction took our number; re-count and try once more.
		s.metrics.CountConflict("correction_number")
		corr, err = s.createOnce(ctx, actor, originalID, amount, justification)
	}
	if err != nil {
		return document.Document{}, err
	}

	s.notifier.Notify(ctx, corr.OwnerID, notify.EventCorrectionCreated, map[string]any{
		"document_id": corr.ID.String(),
		"number":      corr.Number,
		"amount":      amount,
	})
	return corr, nil
}

func (s *Service) createOnce(ctx context.Context, actor shared.Identity, originalID uuid.UUID, amount decimal.Decimal, justification string) (document.Document, error) {
	var corr document.Document
	err := s.docs.WithTx(ctx, func(ctx context.Context, tx document.TxRepository) error {
		original, err := tx.Get(ctx, originalID)
		if err != nil {
			return err
		}
		if original.Kind == document.KindCorrection {
			return fmt.Errorf("settlement: cannot correct a correction: %w", shared.ErrBadRequest)
		}
		if original.Status != document.StatusAccepted && original.Status != document.StatusSettled {
			return fmt.Errorf("settlement: original must be accepted, got %s: %w", original.Status, shared.ErrConflict)
		}

		count, err := tx.CountCorrections(ctx, originalID)
		if err != nil {
			return err
		}
		seq := count + 1
		now := time.Now()

		corr, err = tx.Insert(ctx, document.Document{
			ID:               uuid.New(),
			Number:           CorrectionNumber(original.Number, seq),
			OrgID:            original.OrgID,
			Kind:             document.KindCorrection,
			OwnerID:          original.OwnerID,
			Status:           document.StatusAccepted,
			DecidedBy:        &actor.AccountID,
			DecidedAt:        &now,
			DecisionReason:   justification,
			OriginalID:       &originalID,
			CorrectionSeq:    seq,
			CorrectionAmount: decimal.NewNullDecimal(amount),
		})
		if err != nil {
			return err
		}

		if _, err := tx.LedgerAdjust(ctx, ledger.AdjustInput{
			AccountID:  original.OwnerID,
			Amount:     amount,
			Kind:       ledger.KindCorrectionCredit,
			Note:       "correction " + corr.Number,
			ActorID:    actor.AccountID,
			DocumentID: &corr.ID,
		}); err != nil {
			return err
		}

		return tx.AppendHistory(ctx, document.HistoryEntry{
			DocumentID: corr.ID,
			EditorID:   actor.AccountID,
			Action:     document.ActionCorrection,
			Deltas: map[string]any{
				"original_id":   originalID.String(),
				"number":        corr.Number,
				"amount":        amount.String(),
				"justification": justification,
			},
		})
	})
	if err != nil {
		return document.Document{}, err
	}
	return corr, nil
}
