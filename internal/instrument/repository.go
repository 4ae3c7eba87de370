package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/platform/db"
	"github.com/approvals/approvalsd/internal/shared"
)

// Repository defines instrument data access.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Instrument, error)
	List(ctx context.Context, orgID uuid.UUID) ([]Instrument, error)
	Create(ctx context.Context, kind Kind, ownerID, orgID uuid.UUID, amount decimal.Decimal) (Instrument, error)
	// Settle flips the aggregate status to SETTLED, conditionally on the
	// optimistic marker.
	Settle(ctx context.Context, id uuid.UUID, actorID uuid.UUID, expectedUpdatedAt time.Time) error
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const columns = `id, kind, owner_id, org_id, amount, status, settled_by, settled_at, created_at, updated_at`

func scanInstrument(row pgx.Row) (Instrument, error) {
	var inst Instrument
	var kind, status string
	err := row.Scan(&inst.ID, &kind, &inst.OwnerID, &inst.OrgID, &inst.Amount, &status,
		&inst.SettledBy, &inst.SettledAt, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Instrument{}, fmt.Errorf("instrument: %w", shared.ErrNotFound)
	}
	if err != nil {
		return Instrument{}, err
	}
	inst.Kind = Kind(kind)
	inst.Status = Status(status)
	return inst, nil
}

func (r *pgRepository) Get(ctx context.Context, id uuid.UUID) (Instrument, error) {
	return scanInstrument(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM instruments WHERE id=$1`, id))
}

func (r *pgRepository) List(ctx context.Context, orgID uuid.UUID) ([]Instrument, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM instruments WHERE org_id=$1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (r *pgRepository) Create(ctx context.Context, kind Kind, ownerID, orgID uuid.UUID, amount decimal.Decimal) (Instrument, error) {
	return scanInstrument(r.pool.QueryRow(ctx, `INSERT INTO instruments (id, kind, owner_id, org_id, amount, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'OPEN', NOW(), NOW())
RETURNING `+columns, uuid.New(), string(kind), ownerID, orgID, amount))
}

func (r *pgRepository) Settle(ctx context.Context, id uuid.UUID, actorID uuid.UUID, expectedUpdatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE instruments SET status='SETTLED', settled_by=$1, settled_at=NOW(), updated_at=NOW()
WHERE id=$2 AND status='OPEN' AND updated_at=$3`, actorID, id, expectedUpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("instrument %s changed or already settled: %w", id, shared.ErrConflict)
	}
	return nil
}

// SettledExec reports whether the instrument's aggregate status is SETTLED.
// It takes a Querier so the settlement cascade can ask inside the finalize
// transaction.
func SettledExec(ctx context.Context, q db.Querier, id uuid.UUID) (bool, error) {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM instruments WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("instrument %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	return Status(status) == StatusSettled, nil
}
