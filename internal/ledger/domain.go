package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind enumerates transaction kinds.
type Kind string

const (
	// KindDocumentCharge is the debit posted when a document with an amount is created.
	KindDocumentCharge Kind = "DOCUMENT_CHARGE"
	// KindDocumentRefund is the equal-and-opposite credit posted on delete or
	// reject-after-acceptance.
	KindDocumentRefund Kind = "DOCUMENT_REFUND"
	// KindCorrectionCredit is the credit posted when a correction is created.
	KindCorrectionCredit Kind = "CORRECTION_CREDIT"
	// KindManual is an administrative adjustment.
	KindManual Kind = "MANUAL"
)

// Account carries the cached running balance. Balance is derived state: it
// must always equal the balance_after of the account's most recent
// transaction. UpdatedAt is the optimistic-concurrency marker for Adjust.
type Account struct {
	ID        uuid.UUID
	Name      string
	OrgID     uuid.UUID
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is one immutable row of the append-only log. Corrections and
// refunds are new transactions, never edits of old ones.
type Transaction struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Kind          Kind
	DocumentID    *uuid.UUID
	Note          string
	ActorID       uuid.UUID
	CreatedAt     time.Time
}

// AdjustInput describes one balance adjustment.
type AdjustInput struct {
	AccountID  uuid.UUID
	Amount     decimal.Decimal
	Kind       Kind
	Note       string
	ActorID    uuid.UUID
	DocumentID *uuid.UUID
}
