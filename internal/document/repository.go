package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approvals/approvalsd/internal/instrument"
	"github.com/approvals/approvalsd/internal/ledger"
	"github.com/approvals/approvalsd/internal/platform/db"
	"github.com/approvals/approvalsd/internal/shared"
)

// Repository defines document data access. Single-statement lease operations
// run directly on the pool; everything that touches more than one record goes
// through WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, id uuid.UUID) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	ListHistory(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error)

	// ClaimLease conditionally moves PENDING -> IN_REVIEW, guarded by the
	// last-modified marker.
	ClaimLease(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, expectedUpdatedAt time.Time) (Document, error)
	// Heartbeat refreshes the lease. False means the caller no longer holds it.
	Heartbeat(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID) (bool, error)
	// ReleaseLease moves IN_REVIEW -> PENDING for the owning reviewer.
	// Idempotent: a miss is a no-op, not an error.
	ReleaseLease(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID) (bool, error)
	// ReclaimStale forces every IN_REVIEW document whose heartbeat is null or
	// older than the threshold back to PENDING. Unconditional: a stale lease
	// has no active owner contesting it. Returns the number reclaimed.
	ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// TxRepository is the unit-of-work surface. Ledger and instrument operations
// are exposed here so that a document mutation and its monetary side effect
// commit or roll back together.
type TxRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Document, error)
	Insert(ctx context.Context, doc Document) (Document, error)
	Delete(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time) error

	// Finalize is guarded on status still being IN_REVIEW and the reviewer
	// still matching at write time, not just at read time.
	Finalize(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, decision Status, reason string) (Document, error)
	// SetReReview is guarded on status still being ACCEPTED or REJECTED and
	// decided_by matching at write time.
	SetReReview(ctx context.Context, id uuid.UUID, deciderID uuid.UUID, reason string) (Document, error)
	// AdminSetStatus bypasses lease ownership, guarded by the marker only.
	AdminSetStatus(ctx context.Context, id uuid.UUID, newStatus Status, clearReason bool, expectedUpdatedAt time.Time) (Document, error)
	// MarkSettled cascades ACCEPTED -> SETTLED within the same unit of work.
	MarkSettled(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (Document, error)
	// MarkTransferred moves SETTLED -> TRANSFERRED.
	MarkTransferred(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time) (Document, error)
	// MarkChargeRefunded records that the creation charge has been reversed.
	MarkChargeRefunded(ctx context.Context, id uuid.UUID) error

	CountCorrections(ctx context.Context, originalID uuid.UUID) (int, error)
	NextNumber(ctx context.Context, kind Kind) (string, error)
	AppendHistory(ctx context.Context, entry HistoryEntry) error

	LedgerAdjust(ctx context.Context, input ledger.AdjustInput) (ledger.Transaction, error)
	InstrumentSettled(ctx context.Context, id uuid.UUID) (bool, error)
}

// ErrDuplicateCorrection surfaces a correction-number collision; the
// settlement service retries the numbering once before giving up.
var ErrDuplicateCorrection = errors.New("document: duplicate correction number")

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const docColumns = `id, number, org_id, kind, owner_id, amount, charge_refunded, status,
reviewer_id, lease_started_at, last_heartbeat_at,
decided_by, decided_at, decision_reason,
original_id, correction_seq, correction_amount,
advance_id, budget_request_id,
settled_by, settled_at, attachment_key, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var kind, status string
	err := row.Scan(&d.ID, &d.Number, &d.OrgID, &kind, &d.OwnerID, &d.Amount, &d.ChargeRefunded, &status,
		&d.ReviewerID, &d.LeaseStartedAt, &d.LastHeartbeatAt,
		&d.DecidedBy, &d.DecidedAt, &d.DecisionReason,
		&d.OriginalID, &d.CorrectionSeq, &d.CorrectionAmount,
		&d.AdvanceID, &d.BudgetRequestID,
		&d.SettledBy, &d.SettledAt, &d.AttachmentKey, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("document: %w", shared.ErrNotFound)
	}
	if err != nil {
		return Document{}, err
	}
	d.Kind = Kind(kind)
	d.Status = Status(status)
	return d, nil
}

func getDocument(ctx context.Context, q db.Querier, id uuid.UUID) (Document, error) {
	return scanDocument(q.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE id=$1`, id))
}

// conflictOrNotFound classifies a zero-row conditional update: a missing row
// is NotFound, a present row that no longer matches the guard is Conflict.
func conflictOrNotFound(ctx context.Context, q db.Querier, id uuid.UUID, op string) error {
	if _, err := getDocument(ctx, q, id); err != nil {
		return err
	}
	return fmt.Errorf("document: %s on %s: %w", op, id, shared.ErrConflict)
}

func (r *pgRepository) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	return getDocument(ctx, r.pool, id)
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+docColumns+` FROM documents
WHERE ($1 = '' OR status = $1)
  AND ($2::uuid IS NULL OR owner_id = $2)
ORDER BY created_at DESC
LIMIT $3`, string(filter.Status), nilUUID(filter.OwnerID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func nilUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func (r *pgRepository) ListHistory(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, editor_id, action, deltas, at
FROM document_history WHERE document_id=$1 ORDER BY at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var deltas []byte
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.EditorID, &e.Action, &deltas, &e.At); err != nil {
			return nil, err
		}
		if len(deltas) > 0 {
			if err := json.Unmarshal(deltas, &e.Deltas); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *pgRepository) ClaimLease(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, expectedUpdatedAt time.Time) (Document, error) {
	var doc Document
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		doc, err = scanDocument(tx.QueryRow(ctx, `UPDATE documents
SET status='IN_REVIEW', reviewer_id=$1, lease_started_at=NOW(), last_heartbeat_at=NOW(), updated_at=NOW()
WHERE id=$2 AND status='PENDING' AND updated_at=$3
RETURNING `+docColumns, reviewerID, id, expectedUpdatedAt))
		if errors.Is(err, shared.ErrNotFound) {
			return conflictOrNotFound(ctx, tx, id, "claim")
		}
		if err != nil {
			return err
		}
		return appendHistory(ctx, tx, HistoryEntry{
			DocumentID: id,
			EditorID:   reviewerID,
			Action:     ActionClaim,
			Deltas:     map[string]any{"status": string(StatusInReview), "reviewer_id": reviewerID.String()},
		})
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (r *pgRepository) Heartbeat(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE documents SET last_heartbeat_at=NOW(), updated_at=NOW()
WHERE id=$1 AND status='IN_REVIEW' AND reviewer_id=$2`, id, reviewerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) ReleaseLease(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID) (bool, error) {
	var released bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE documents
SET status='PENDING', reviewer_id=NULL, lease_started_at=NULL, last_heartbeat_at=NULL, updated_at=NOW()
WHERE id=$1 AND status='IN_REVIEW' AND reviewer_id=$2`, id, reviewerID)
		if err != nil {
			return err
		}
		released = tag.RowsAffected() == 1
		if !released {
			return nil
		}
		return appendHistory(ctx, tx, HistoryEntry{
			DocumentID: id,
			EditorID:   reviewerID,
			Action:     ActionRelease,
			Deltas:     map[string]any{"status": string(StatusPending)},
		})
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

func (r *pgRepository) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	var reclaimed int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `UPDATE documents
SET status='PENDING', reviewer_id=NULL, lease_started_at=NULL, last_heartbeat_at=NULL, updated_at=NOW()
WHERE status='IN_REVIEW'
  AND (last_heartbeat_at IS NULL OR last_heartbeat_at < NOW() - $1::interval)
RETURNING id`, staleAfter.String())
		if err != nil {
			return err
		}
		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if err := appendHistory(ctx, tx, HistoryEntry{
				DocumentID: id,
				EditorID:   uuid.Nil,
				Action:     ActionReclaim,
				Deltas:     map[string]any{"status": string(StatusPending), "reason": "stale lease"},
			}); err != nil {
				return err
			}
		}
		reclaimed = int64(len(ids))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	return getDocument(ctx, r.tx, id)
}

func (r *pgTxRepository) Insert(ctx context.Context, doc Document) (Document, error) {
	inserted, err := scanDocument(r.tx.QueryRow(ctx, `INSERT INTO documents
(id, number, org_id, kind, owner_id, amount, status,
 reviewer_id, lease_started_at, last_heartbeat_at,
 decided_by, decided_at, decision_reason,
 original_id, correction_seq, correction_amount,
 advance_id, budget_request_id,
 settled_by, settled_at, attachment_key, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,NOW(),NOW())
RETURNING `+docColumns,
		doc.ID, doc.Number, doc.OrgID, string(doc.Kind), doc.OwnerID, doc.Amount,
		string(doc.Status),
		doc.ReviewerID, doc.LeaseStartedAt, doc.LastHeartbeatAt,
		doc.DecidedBy, doc.DecidedAt, doc.DecisionReason,
		doc.OriginalID, doc.CorrectionSeq, doc.CorrectionAmount,
		doc.AdvanceID, doc.BudgetRequestID,
		doc.SettledBy, doc.SettledAt, doc.AttachmentKey))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Document{}, fmt.Errorf("%w: %w", ErrDuplicateCorrection, shared.ErrConflict)
		}
		return Document{}, err
	}
	return inserted, nil
}

func (r *pgTxRepository) Delete(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM documents WHERE id=$1 AND updated_at=$2`, id, expectedUpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return conflictOrNotFound(ctx, r.tx, id, "delete")
	}
	return nil
}

func (r *pgTxRepository) Finalize(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, decision Status, reason string) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `UPDATE documents
SET status=$1, decided_by=$2, decided_at=NOW(), decision_reason=$3,
    reviewer_id=NULL, lease_started_at=NULL, last_heartbeat_at=NULL, updated_at=NOW()
WHERE id=$4 AND status='IN_REVIEW' AND reviewer_id=$2
RETURNING `+docColumns, string(decision), reviewerID, reason, id))
	if errors.Is(err, shared.ErrNotFound) {
		return Document{}, conflictOrNotFound(ctx, r.tx, id, "finalize")
	}
	return doc, err
}

func (r *pgTxRepository) SetReReview(ctx context.Context, id uuid.UUID, deciderID uuid.UUID, reason string) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `UPDATE documents
SET status='RE_REVIEW', decision_reason=$1, updated_at=NOW()
WHERE id=$2 AND status IN ('ACCEPTED','REJECTED') AND decided_by=$3
RETURNING `+docColumns, reason, id, deciderID))
	if errors.Is(err, shared.ErrNotFound) {
		return Document{}, conflictOrNotFound(ctx, r.tx, id, "re-review")
	}
	return doc, err
}

func (r *pgTxRepository) AdminSetStatus(ctx context.Context, id uuid.UUID, newStatus Status, clearReason bool, expectedUpdatedAt time.Time) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `UPDATE documents
SET status=$1,
    decision_reason=CASE WHEN $2 THEN '' ELSE decision_reason END,
    reviewer_id=NULL, lease_started_at=NULL, last_heartbeat_at=NULL, updated_at=NOW()
WHERE id=$3 AND updated_at=$4
RETURNING `+docColumns, string(newStatus), clearReason, id, expectedUpdatedAt))
	if errors.Is(err, shared.ErrNotFound) {
		return Document{}, conflictOrNotFound(ctx, r.tx, id, "admin override")
	}
	return doc, err
}

func (r *pgTxRepository) MarkSettled(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `UPDATE documents
SET status='SETTLED', settled_by=$1, settled_at=NOW(), updated_at=NOW()
WHERE id=$2 AND status='ACCEPTED'
RETURNING `+docColumns, actorID, id))
	if errors.Is(err, shared.ErrNotFound) {
		return Document{}, conflictOrNotFound(ctx, r.tx, id, "settle")
	}
	return doc, err
}

func (r *pgTxRepository) MarkTransferred(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `UPDATE documents
SET status='TRANSFERRED', updated_at=NOW()
WHERE id=$1 AND status='SETTLED' AND updated_at=$2
RETURNING `+docColumns, id, expectedUpdatedAt))
	if errors.Is(err, shared.ErrNotFound) {
		return Document{}, conflictOrNotFound(ctx, r.tx, id, "transfer")
	}
	return doc, err
}

func (r *pgTxRepository) MarkChargeRefunded(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE documents SET charge_refunded=TRUE WHERE id=$1`, id)
	return err
}

func (r *pgTxRepository) CountCorrections(ctx context.Context, originalID uuid.UUID) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE original_id=$1`, originalID).Scan(&count)
	return count, err
}

func (r *pgTxRepository) NextNumber(ctx context.Context, kind Kind) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('document_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	prefix := "FV"
	if kind == KindReceipt {
		prefix = "RC"
	}
	return fmt.Sprintf("%s-%06d", prefix, seq), nil
}

func appendHistory(ctx context.Context, q db.Querier, entry HistoryEntry) error {
	deltas, err := json.Marshal(entry.Deltas)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO document_history (document_id, editor_id, action, deltas, at)
VALUES ($1, $2, $3, $4, NOW())`, entry.DocumentID, entry.EditorID, entry.Action, deltas)
	return err
}

func (r *pgTxRepository) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	return appendHistory(ctx, r.tx, entry)
}

func (r *pgTxRepository) LedgerAdjust(ctx context.Context, input ledger.AdjustInput) (ledger.Transaction, error) {
	return ledger.AdjustExec(ctx, r.tx, input)
}

func (r *pgTxRepository) InstrumentSettled(ctx context.Context, id uuid.UUID) (bool, error) {
	return instrument.SettledExec(ctx, r.tx, id)
}
