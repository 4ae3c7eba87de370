package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/observability"
	"github.com/approvals/approvalsd/internal/shared"
)

// Service owns the money-moving invariants.
type Service struct {
	repo    Repository
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService constructs the ledger service.
func NewService(repo Repository, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, logger: logger, metrics: metrics}
}

// Adjust moves money on one account. Concurrency is optimistic: no lock is
// held across the read-compute-write, the conditional write is rejected when
// the balance marker moved, and the caller decides whether to retry. The core
// never retries silently.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Transaction, error) {
	if input.Amount.IsZero() {
		return Transaction{}, fmt.Errorf("ledger: zero adjustment: %w", shared.ErrBadRequest)
	}
	if input.Kind == "" {
		input.Kind = KindManual
	}
	txn, err := s.repo.Adjust(ctx, input)
	if err != nil {
		s.metrics.CountLedgerAdjust("error")
		return Transaction{}, err
	}
	s.metrics.CountLedgerAdjust("ok")
	return txn, nil
}

// GetAccount returns the account with its cached balance.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ListAccounts returns the accounts of one organization.
func (s *Service) ListAccounts(ctx context.Context, orgID uuid.UUID) ([]Account, error) {
	return s.repo.ListAccounts(ctx, orgID)
}

// ListAccountIDs returns every account id, oldest first.
func (s *Service) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListAccountIDs(ctx)
}

// CreateAccount opens a zero-balance account.
func (s *Service) CreateAccount(ctx context.Context, name string, orgID uuid.UUID) (Account, error) {
	if name == "" {
		return Account{}, fmt.Errorf("ledger: account name required: %w", shared.ErrBadRequest)
	}
	return s.repo.CreateAccount(ctx, name, orgID)
}

// ListTransactions returns an account's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]Transaction, error) {
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, accountID, limit)
}

// VerifyChain walks an account's transaction log oldest-first and checks that
// adjacent balance snapshots link up and that the cached balance equals the
// newest balance_after. Zero drift is an invariant, not a target.
func (s *Service) VerifyChain(ctx context.Context, accountID uuid.UUID) error {
	acc, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	txns, err := s.repo.ListTransactions(ctx, accountID, 500)
	if err != nil {
		return err
	}
	// ListTransactions is newest-first; walk backwards.
	for i := len(txns) - 1; i > 0; i-- {
		older, newer := txns[i], txns[i-1]
		if !older.BalanceAfter.Equal(newer.BalanceBefore) {
			return fmt.Errorf("ledger: chain break on account %s between %s and %s", accountID, older.ID, newer.ID)
		}
		if !older.BalanceBefore.Add(older.Amount).Equal(older.BalanceAfter) {
			return fmt.Errorf("ledger: bad snapshot on transaction %s", older.ID)
		}
	}
	if len(txns) > 0 && !acc.Balance.Equal(txns[0].BalanceAfter) {
		return fmt.Errorf("ledger: cached balance %s drifted from chain head %s on account %s",
			acc.Balance, txns[0].BalanceAfter, accountID)
	}
	if len(txns) == 0 && !acc.Balance.Equal(decimal.Zero) {
		return fmt.Errorf("ledger: nonzero balance %s with empty chain on account %s", acc.Balance, accountID)
	}
	return nil
}
