package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approvals/approvalsd/internal/platform/db"
	"github.com/approvals/approvalsd/internal/shared"
)

// Repository defines ledger data access.
type Repository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	ListAccounts(ctx context.Context, orgID uuid.UUID) ([]Account, error)
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]Transaction, error)
	CreateAccount(ctx context.Context, name string, orgID uuid.UUID) (Account, error)
	// Adjust runs the full read-compute-conditional-write protocol in its own
	// transaction.
	Adjust(ctx context.Context, input AdjustInput) (Transaction, error)
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return getAccount(ctx, r.pool, id)
}

func getAccount(ctx context.Context, q db.Querier, id uuid.UUID) (Account, error) {
	var acc Account
	err := q.QueryRow(ctx, `SELECT id, name, org_id, balance, created_at, updated_at
FROM accounts WHERE id=$1`, id).Scan(&acc.ID, &acc.Name, &acc.OrgID, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("ledger: account %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (r *pgRepository) ListAccounts(ctx context.Context, orgID uuid.UUID) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, org_id, balance, created_at, updated_at
FROM accounts WHERE org_id=$1 ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var acc Account
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.OrgID, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (r *pgRepository) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgRepository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, account_id, amount, balance_before, balance_after, kind, document_id, note, actor_id, created_at
FROM ledger_transactions WHERE account_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txns []Transaction
	for rows.Next() {
		var txn Transaction
		var kind string
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Amount, &txn.BalanceBefore, &txn.BalanceAfter, &kind, &txn.DocumentID, &txn.Note, &txn.ActorID, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txn.Kind = Kind(kind)
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (r *pgRepository) CreateAccount(ctx context.Context, name string, orgID uuid.UUID) (Account, error) {
	var acc Account
	err := r.pool.QueryRow(ctx, `INSERT INTO accounts (id, name, org_id, balance, created_at, updated_at)
VALUES ($1, $2, $3, 0, NOW(), NOW())
RETURNING id, name, org_id, balance, created_at, updated_at`, uuid.New(), name, orgID).
		Scan(&acc.ID, &acc.Name, &acc.OrgID, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (r *pgRepository) Adjust(ctx context.Context, input AdjustInput) (Transaction, error) {
	var txn Transaction
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		txn, err = AdjustExec(ctx, tx, input)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

// AdjustExec applies one balance adjustment against q: read the cached balance
// and its marker, compute balance_after, conditionally update the account,
// then append the transaction row carrying the same before/after snapshot.
// A marker mismatch aborts the whole operation with ErrConflict and no
// transaction row is written. Callers embedding this in a larger unit of work
// pass their open pgx.Tx; the conflict then rolls the entire unit back.
func AdjustExec(ctx context.Context, q db.Querier, input AdjustInput) (Transaction, error) {
	acc, err := getAccount(ctx, q, input.AccountID)
	if err != nil {
		return Transaction{}, err
	}

	before := acc.Balance
	after := before.Add(input.Amount)

	tag, err := q.Exec(ctx, `UPDATE accounts SET balance=$1, updated_at=NOW()
WHERE id=$2 AND updated_at=$3`, after, acc.ID, acc.UpdatedAt)
	if err != nil {
		return Transaction{}, err
	}
	if tag.RowsAffected() == 0 {
		return Transaction{}, fmt.Errorf("ledger: account %s balance moved: %w", acc.ID, shared.ErrConflict)
	}

	txn := Transaction{
		ID:            uuid.New(),
		AccountID:     acc.ID,
		Amount:        input.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Kind:          input.Kind,
		DocumentID:    input.DocumentID,
		Note:          input.Note,
		ActorID:       input.ActorID,
	}
	err = q.QueryRow(ctx, `INSERT INTO ledger_transactions (id, account_id, amount, balance_before, balance_after, kind, document_id, note, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
RETURNING created_at`, txn.ID, txn.AccountID, txn.Amount, txn.BalanceBefore, txn.BalanceAfter, string(txn.Kind), txn.DocumentID, txn.Note, txn.ActorID).Scan(&txn.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}
