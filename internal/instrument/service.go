package instrument

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/shared"
)

// Service manages advances and budget requests.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs the instrument service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create opens a new OPEN instrument.
func (s *Service) Create(ctx context.Context, kind Kind, ownerID, orgID uuid.UUID, amount decimal.Decimal) (Instrument, error) {
	if kind != KindAdvance && kind != KindBudgetRequest {
		return Instrument{}, fmt.Errorf("instrument: unknown kind %q: %w", kind, shared.ErrBadRequest)
	}
	if amount.IsNegative() || amount.IsZero() {
		return Instrument{}, fmt.Errorf("instrument: amount must be positive: %w", shared.ErrBadRequest)
	}
	return s.repo.Create(ctx, kind, ownerID, orgID, amount)
}

// Get fetches one instrument.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Instrument, error) {
	return s.repo.Get(ctx, id)
}

// List returns the organization's instruments.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]Instrument, error) {
	return s.repo.List(ctx, orgID)
}

// Settle marks the instrument settled. Admin capability is enforced at the
// handler boundary. Documents already accepted against the instrument are not
// retro-cascaded; the cascade fires only when a linked document is finalized.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, actor shared.Identity) error {
	if actor.Role != shared.RoleAdmin {
		return fmt.Errorf("instrument: settle requires admin: %w", shared.ErrForbidden)
	}
	inst, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status == StatusSettled {
		return fmt.Errorf("instrument %s already settled: %w", id, shared.ErrConflict)
	}
	return s.repo.Settle(ctx, id, actor.AccountID, inst.UpdatedAt)
}
