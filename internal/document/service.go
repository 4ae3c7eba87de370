package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/ledger"
	"github.com/approvals/approvalsd/internal/notify"
	"github.com/approvals/approvalsd/internal/observability"
	"github.com/approvals/approvalsd/internal/shared"
	"github.com/approvals/approvalsd/internal/storage"
)

// Notifier is the outbound notification collaborator. Implementations must be
// fire-and-forget; the service never inspects a result.
type Notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, eventKind string, payload map[string]any)
}

// Service drives the document workflow: creation, the review decision surface
// and the transitions' monetary side effects.
type Service struct {
	repo     Repository
	lease    *LeaseManager
	store    storage.Store
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService constructs the document service.
func NewService(repo Repository, lease *LeaseManager, store storage.Store, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, lease: lease, store: store, notifier: notifier, logger: logger, metrics: metrics}
}

// Lease exposes the lease manager for handler wiring.
func (s *Service) Lease() *LeaseManager {
	return s.lease
}

// CreateInput describes a new standard or receipt document.
type CreateInput struct {
	OrgID           uuid.UUID
	OwnerID         uuid.UUID // defaults to the actor's account
	Kind            Kind
	Amount          decimal.NullDecimal
	AdvanceID       *uuid.UUID
	BudgetRequestID *uuid.UUID
	Attachment      []byte
}

// Create inserts a new PENDING document. When an amount is present the owner
// account is charged in the same unit of work; when an attachment is present
// and the unit of work fails, the already-stored object is deleted again.
func (s *Service) Create(ctx context.Context, actor shared.Identity, input CreateInput) (Document, error) {
	if input.Kind == "" {
		input.Kind = KindStandard
	}
	if input.Kind == KindCorrection {
		return Document{}, fmt.Errorf("document: corrections are created through settlement: %w", shared.ErrBadRequest)
	}
	if input.Kind != KindStandard && input.Kind != KindReceipt {
		return Document{}, fmt.Errorf("document: unknown kind %q: %w", input.Kind, shared.ErrBadRequest)
	}
	if input.Amount.Valid && input.Amount.Decimal.IsNegative() {
		return Document{}, fmt.Errorf("document: amount must not be negative: %w", shared.ErrBadRequest)
	}
	ownerID := input.OwnerID
	if ownerID == uuid.Nil {
		ownerID = actor.AccountID
	}
	if ownerID != actor.AccountID && actor.Role != shared.RoleAdmin {
		return Document{}, fmt.Errorf("document: only admins create documents for other owners: %w", shared.ErrForbidden)
	}

	var attachmentKey *string
	if len(input.Attachment) > 0 {
		key, err := s.store.Put(ctx, input.Attachment)
		if err != nil {
			return Document{}, err
		}
		attachmentKey = &key
	}

	var created Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, input.Kind)
		if err != nil {
			return err
		}
		doc := Document{
			ID:              uuid.New(),
			Number:          number,
			OrgID:           input.OrgID,
			Kind:            input.Kind,
			OwnerID:         ownerID,
			Amount:          input.Amount,
			Status:          StatusPending,
			AdvanceID:       input.AdvanceID,
			BudgetRequestID: input.BudgetRequestID,
			AttachmentKey:   attachmentKey,
		}
		created, err = tx.Insert(ctx, doc)
		if err != nil {
			return err
		}
		if input.Amount.Valid && !input.Amount.Decimal.IsZero() {
			if _, err := tx.LedgerAdjust(ctx, ledger.AdjustInput{
				AccountID:  ownerID,
				Amount:     input.Amount.Decimal.Neg(),
				Kind:       ledger.KindDocumentCharge,
				Note:       "document " + number,
				ActorID:    actor.AccountID,
				DocumentID: &created.ID,
			}); err != nil {
				return err
			}
		}
		return tx.AppendHistory(ctx, HistoryEntry{
			DocumentID: created.ID,
			EditorID:   actor.AccountID,
			Action:     ActionCreate,
			Deltas:     map[string]any{"number": number, "status": string(StatusPending)},
		})
	})
	if err != nil {
		// Compensating deletion: never leave an orphaned object behind a
		// failed unit of work.
		if attachmentKey != nil {
			if delErr := s.store.Delete(ctx, *attachmentKey); delErr != nil {
				s.logger.Error("compensating attachment delete", slog.Any("error", delErr))
			}
		}
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.CountConflict("create")
		}
		return Document{}, err
	}

	s.notifier.Notify(ctx, ownerID, notify.EventDocumentCreated, map[string]any{
		"document_id": created.ID.String(),
		"number":      created.Number,
	})
	return created, nil
}

// ViewOptions controls implicit claiming on reads.
type ViewOptions struct {
	// NoClaim opts out of the implicit claim, used for read-only views.
	NoClaim bool
}

// View returns the document, implicitly attempting a claim when the caller is
// a reviewer, the document is pending and not a correction, and the caller did
// not opt out. When the implicit claim loses a race the fresh state is
// returned unclaimed; only the explicit Claim surface reports Conflict.
func (s *Service) View(ctx context.Context, actor shared.Identity, id uuid.UUID, opts ViewOptions) (Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if opts.NoClaim || doc.Kind == KindCorrection || doc.Status != StatusPending ||
		!actor.Role.AnyOf(shared.RoleReviewer, shared.RoleAdmin) {
		return doc, nil
	}
	claimed, err := s.lease.Claim(ctx, id, actor)
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			return s.repo.Get(ctx, id)
		}
		return Document{}, err
	}
	s.notifier.Notify(ctx, doc.OwnerID, notify.EventDocumentClaimed, map[string]any{
		"document_id": id.String(),
		"reviewer_id": actor.AccountID.String(),
	})
	return claimed, nil
}

// List returns documents matching the filter. Every list of pending or
// in-review documents first sweeps stale leases, which is the only mechanism
// that reclaims abandoned reviews.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	if filter.Status == "" || filter.Status == StatusPending || filter.Status == StatusInReview {
		if _, err := s.lease.ReclaimStale(ctx); err != nil {
			return nil, err
		}
	}
	return s.repo.List(ctx, filter)
}

// History returns the append-only edit history, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

// Finalize records the reviewer's decision. The conditional write re-checks
// status and reviewer at write time, so a second finalize racing in after a
// timeout reclaim cannot apply. On acceptance of an instrument-linked document
// whose instrument is already settled, the document cascades to SETTLED in the
// same transaction.
func (s *Service) Finalize(ctx context.Context, actor shared.Identity, id uuid.UUID, decision Status, reason string) (Document, error) {
	if !actor.Role.AnyOf(shared.RoleReviewer, shared.RoleAdmin) {
		return Document{}, fmt.Errorf("document: finalize requires reviewer capability: %w", shared.ErrForbidden)
	}
	if decision != StatusAccepted && decision != StatusRejected {
		return Document{}, fmt.Errorf("document: finalize decision must be ACCEPTED or REJECTED: %w", shared.ErrBadRequest)
	}
	if decision == StatusRejected && reason == "" {
		return Document{}, fmt.Errorf("document: rejection requires a reason: %w", shared.ErrBadRequest)
	}

	var final Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.Finalize(ctx, id, actor.AccountID, decision, reason)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, HistoryEntry{
			DocumentID: id,
			EditorID:   actor.AccountID,
			Action:     ActionFinalize,
			Deltas:     map[string]any{"status": string(decision), "reason": reason},
		}); err != nil {
			return err
		}
		final = doc
		if decision != StatusAccepted {
			return nil
		}
		instrumentID := doc.AdvanceID
		if instrumentID == nil {
			instrumentID = doc.BudgetRequestID
		}
		if instrumentID == nil {
			return nil
		}
		settled, err := tx.InstrumentSettled(ctx, *instrumentID)
		if err != nil {
			return err
		}
		if !settled {
			return nil
		}
		// Derived, same-transaction follow-up, not an asynchronous job.
		final, err = tx.MarkSettled(ctx, id, actor.AccountID)
		if err != nil {
			return err
		}
		return tx.AppendHistory(ctx, HistoryEntry{
			DocumentID: id,
			EditorID:   actor.AccountID,
			Action:     ActionSettle,
			Deltas:     map[string]any{"status": string(StatusSettled), "instrument_id": instrumentID.String()},
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.CountConflict("finalize")
		}
		return Document{}, err
	}

	event := notify.EventDocumentAccepted
	if decision == StatusRejected {
		event = notify.EventDocumentRejected
	}
	s.notifier.Notify(ctx, final.OwnerID, event, map[string]any{
		"document_id": id.String(),
		"number":      final.Number,
		"reason":      reason,
	})
	if final.Status == StatusSettled {
		s.notifier.Notify(ctx, final.OwnerID, notify.EventDocumentSettled, map[string]any{
			"document_id": id.String(),
			"number":      final.Number,
		})
	}
	return final, nil
}

// RequestReReview sends an accepted or rejected document back for a second
// look. Only the original decider may ask; the conditional write re-checks the
// source status at write time to avoid overwriting a concurrent administrative
// change.
func (s *Service) RequestReReview(ctx context.Context, actor shared.Identity, id uuid.UUID, reason string) (Document, error) {
	if reason == "" {
		return Document{}, fmt.Errorf("document: re-review requires a reason: %w", shared.ErrBadRequest)
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.DecidedBy == nil || *doc.DecidedBy != actor.AccountID {
		return Document{}, fmt.Errorf("document: only the original decider may request re-review: %w", shared.ErrForbidden)
	}
	if !canTransition(doc.Status, StatusReReview) {
		return Document{}, fmt.Errorf("document: %s is not decided: %w", id, shared.ErrConflict)
	}

	var updated Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.SetReReview(ctx, id, actor.AccountID, reason)
		if err != nil {
			return err
		}
		return tx.AppendHistory(ctx, HistoryEntry{
			DocumentID: id,
			EditorID:   actor.AccountID,
			Action:     ActionReReview,
			Deltas:     map[string]any{"status": string(StatusReReview), "reason": reason},
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.CountConflict("re_review")
		}
		return Document{}, err
	}
	s.notifier.Notify(ctx, updated.OwnerID, notify.EventDocumentReReview, map[string]any{
		"document_id": id.String(),
		"reason":      reason,
	})
	return updated, nil
}

// AdminOverride forces a non-terminal document to PENDING, ACCEPTED or
// REJECTED. It bypasses lease ownership entirely — admin wins even over a
// fresh lease, and the interrupted reviewer finds out through a failed
// heartbeat. The history entry distinguishes the override from an ordinary
// decision. An override to REJECTED of a previously accepted document with an
// amount posts the equal-and-opposite refund.
func (s *Service) AdminOverride(ctx context.Context, actor shared.Identity, id uuid.UUID, newStatus Status, reason string) (Document, error) {
	if actor.Role != shared.RoleAdmin {
		return Document{}, fmt.Errorf("document: override requires admin: %w", shared.ErrForbidden)
	}
	if newStatus != StatusPending && newStatus != StatusAccepted && newStatus != StatusRejected {
		return Document{}, fmt.Errorf("document: override target must be PENDING, ACCEPTED or REJECTED: %w", shared.ErrBadRequest)
	}

	var updated Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return fmt.Errorf("document: %s is terminal: %w", doc.Status, shared.ErrConflict)
		}
		clearReason := doc.Status == StatusReReview && newStatus == StatusPending
		updated, err = tx.AdminSetStatus(ctx, id, newStatus, clearReason, doc.UpdatedAt)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, HistoryEntry{
			DocumentID: id,
			EditorID:   actor.AccountID,
			Action:     ActionAdminOverride,
			Deltas:     map[string]any{"status": string(newStatus), "from": string(doc.Status), "reason": reason},
		}); err != nil {
			return err
		}
		if newStatus == StatusRejected && doc.Amount.Valid && !doc.ChargeRefunded &&
			(doc.Status == StatusAccepted || doc.Status == StatusSettled) {
			if _, err := tx.LedgerAdjust(ctx, ledger.AdjustInput{
				AccountID:  doc.OwnerID,
				Amount:     doc.Amount.Decimal,
				Kind:       ledger.KindDocumentRefund,
				Note:       "reject after acceptance " + doc.Number,
				ActorID:    actor.AccountID,
				DocumentID: &doc.ID,
			}); err != nil {
				return err
			}
			if err := tx.MarkChargeRefunded(ctx, doc.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.CountConflict("admin_override")
		}
		return Document{}, err
	}
	s.notifier.Notify(ctx, updated.OwnerID, notify.EventDocumentOverride, map[string]any{
		"document_id": id.String(),
		"status":      string(newStatus),
		"reason":      reason,
	})
	return updated, nil
}

// Transfer moves a settled document to the terminal TRANSFERRED state.
func (s *Service) Transfer(ctx context.Context, actor shared.Identity, id uuid.UUID) (Document, error) {
	if actor.Role != shared.RoleAdmin {
		return Document{}, fmt.Errorf("document: transfer requires admin: %w", shared.ErrForbidden)
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusSettled {
		return Document{}, fmt.Errorf("document: transfer requires SETTLED, got %s: %w", doc.Status, shared.ErrConflict)
	}
	var updated Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.MarkTransferred(ctx, id, doc.UpdatedAt)
		if err != nil {
			return err
		}
		return tx.AppendHistory(ctx, HistoryEntry{
			DocumentID: id,
			EditorID:   actor.AccountID,
			Action:     ActionTransfer,
			Deltas:     map[string]any{"status": string(StatusTransferred)},
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.CountConflict("transfer")
		}
		return Document{}, err
	}
	return updated, nil
}

// Delete removes a document. Owners may delete their own pending or rejected
// documents; admins may delete any non-terminal one. A non-null amount is
// refunded with an equal-and-opposite transaction so the balance returns to
// its pre-document value exactly; a charge already reversed by an
// administrative reject is not refunded again. Corrections cannot be deleted:
// their credit posted at creation and removing the document would orphan it.
func (s *Service) Delete(ctx context.Context, actor shared.Identity, id uuid.UUID) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.Kind == KindCorrection {
		return fmt.Errorf("document: corrections are permanent ledger records: %w", shared.ErrBadRequest)
	}
	switch {
	case actor.Role == shared.RoleAdmin:
		if doc.Status.Terminal() {
			return fmt.Errorf("document: %s is terminal: %w", doc.Status, shared.ErrConflict)
		}
	case doc.OwnerID == actor.AccountID:
		if doc.Status != StatusPending && doc.Status != StatusRejected {
			return fmt.Errorf("document: owners may delete only pending or rejected documents: %w", shared.ErrForbidden)
		}
	default:
		return fmt.Errorf("document: not the owner: %w", shared.ErrForbidden)
	}

	refund := doc.Amount.Valid && !doc.Amount.Decimal.IsZero() && !doc.ChargeRefunded

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Delete(ctx, id, doc.UpdatedAt); err != nil {
			return err
		}
		if refund {
			if _, err := tx.LedgerAdjust(ctx, ledger.AdjustInput{
				AccountID:  doc.OwnerID,
				Amount:     doc.Amount.Decimal,
				Kind:       ledger.KindDocumentRefund,
				Note:       "delete " + doc.Number,
				ActorID:    actor.AccountID,
				DocumentID: &doc.ID,
			}); err != nil {
				return err
			}
		}
		return tx.AppendHistory(ctx, HistoryEntry{
			DocumentID: id,
			EditorID:   actor.AccountID,
			Action:     ActionDelete,
			Deltas:     map[string]any{"number": doc.Number},
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.CountConflict("delete")
		}
		return err
	}

	if doc.AttachmentKey != nil {
		if err := s.store.Delete(ctx, *doc.AttachmentKey); err != nil {
			s.logger.Error("delete attachment", slog.String("key", *doc.AttachmentKey), slog.Any("error", err))
		}
	}
	s.notifier.Notify(ctx, doc.OwnerID, notify.EventDocumentDeleted, map[string]any{
		"document_id": id.String(),
		"number":      doc.Number,
	})
	return nil
}
