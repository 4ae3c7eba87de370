package document

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind enumerates document kinds.
type Kind string

const (
	// KindStandard is an ordinary invoice-style document.
	KindStandard Kind = "STANDARD"
	// KindReceipt carries no review workflow differences but no balance effect by default.
	KindReceipt Kind = "RECEIPT"
	// KindCorrection adjusts an already-accepted original. Corrections are born
	// accepted and are never claimed for review.
	KindCorrection Kind = "CORRECTION"
)

// Status enumerates document workflow statuses.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusInReview    Status = "IN_REVIEW"
	StatusAccepted    Status = "ACCEPTED"
	StatusRejected    Status = "REJECTED"
	StatusReReview    Status = "RE_REVIEW"
	StatusSettled     Status = "SETTLED"
	StatusTransferred Status = "TRANSFERRED"
)

// Document is the central workflow entity. UpdatedAt doubles as the
// optimistic-concurrency version: it changes on every mutation and every
// conditional update checks it (or the status/owner columns it protects).
type Document struct {
	ID     uuid.UUID
	Number string
	OrgID  uuid.UUID
	Kind   Kind

	OwnerID uuid.UUID
	Amount  decimal.NullDecimal
	// ChargeRefunded is set once the creation charge has been reversed, so a
	// later delete does not post a second refund.
	ChargeRefunded bool

	Status Status

	// Lease fields. ReviewerID is non-nil iff Status == IN_REVIEW.
	ReviewerID      *uuid.UUID
	LeaseStartedAt  *time.Time
	LastHeartbeatAt *time.Time

	// Finalization fields.
	DecidedBy      *uuid.UUID
	DecidedAt      *time.Time
	DecisionReason string

	// Correction linkage, set only on KindCorrection.
	OriginalID       *uuid.UUID
	CorrectionSeq    int
	CorrectionAmount decimal.NullDecimal

	// Linked financial instruments.
	AdvanceID       *uuid.UUID
	BudgetRequestID *uuid.UUID

	// Settlement fields.
	SettledBy *uuid.UUID
	SettledAt *time.Time

	AttachmentKey *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is one append-only edit-history record for a document.
type HistoryEntry struct {
	ID         int64
	DocumentID uuid.UUID
	EditorID   uuid.UUID
	Action     string
	// Deltas maps field name to its new value.
	Deltas map[string]any
	At     time.Time
}

// History actions.
const (
	ActionCreate        = "CREATE"
	ActionClaim         = "CLAIM"
	ActionRelease       = "RELEASE"
	ActionReclaim       = "RECLAIM"
	ActionFinalize      = "FINALIZE"
	ActionReReview      = "RE_REVIEW"
	ActionAdminOverride = "ADMIN_OVERRIDE"
	ActionSettle        = "SETTLE"
	ActionTransfer      = "TRANSFER"
	ActionDelete        = "DELETE"
	ActionCorrection    = "CORRECTION"
)

// ListFilter narrows List queries.
type ListFilter struct {
	Status  Status
	OwnerID uuid.UUID
	Limit   int
}
