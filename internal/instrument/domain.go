package instrument

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind enumerates linked financial instruments.
type Kind string

const (
	// KindAdvance is a cash advance settled by later documents.
	KindAdvance Kind = "ADVANCE"
	// KindBudgetRequest is an approved budget envelope settled by later documents.
	KindBudgetRequest Kind = "BUDGET_REQUEST"
)

// Status is the aggregate settlement state of an instrument.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusSettled Status = "SETTLED"
)

// Instrument is an advance or budget request that documents may link to.
// When its aggregate status is SETTLED, accepting a linked document cascades
// the document itself to SETTLED in the same transaction.
type Instrument struct {
	ID        uuid.UUID
	Kind      Kind
	OwnerID   uuid.UUID
	OrgID     uuid.UUID
	Amount    decimal.Decimal
	Status    Status
	SettledBy *uuid.UUID
	SettledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
