package document

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/shared"
)

// CreateRequest is the JSON body for document creation.
type CreateRequest struct {
	OrgID            string  `json:"org_id" validate:"required,uuid"`
	OwnerID          string  `json:"owner_id" validate:"omitempty,uuid"`
	Kind             string  `json:"kind" validate:"omitempty,oneof=STANDARD RECEIPT"`
	Amount           *string `json:"amount" validate:"omitempty"`
	AdvanceID        string  `json:"advance_id" validate:"omitempty,uuid"`
	BudgetRequestID  string  `json:"budget_request_id" validate:"omitempty,uuid"`
	AttachmentBase64 string  `json:"attachment_base64" validate:"omitempty,base64"`
}

// ToInput converts the request after validation.
func (r CreateRequest) ToInput() (CreateInput, error) {
	input := CreateInput{Kind: Kind(r.Kind)}
	var err error
	if input.OrgID, err = uuid.Parse(r.OrgID); err != nil {
		return CreateInput{}, fmt.Errorf("document: bad org_id: %w", shared.ErrBadRequest)
	}
	if r.OwnerID != "" {
		if input.OwnerID, err = uuid.Parse(r.OwnerID); err != nil {
			return CreateInput{}, fmt.Errorf("document: bad owner_id: %w", shared.ErrBadRequest)
		}
	}
	if r.Amount != nil {
		amount, err := decimal.NewFromString(*r.Amount)
		if err != nil {
			return CreateInput{}, fmt.Errorf("document: bad amount %q: %w", *r.Amount, shared.ErrBadRequest)
		}
		input.Amount = decimal.NewNullDecimal(amount.Round(2))
	}
	if r.AdvanceID != "" {
		id, err := uuid.Parse(r.AdvanceID)
		if err != nil {
			return CreateInput{}, fmt.Errorf("document: bad advance_id: %w", shared.ErrBadRequest)
		}
		input.AdvanceID = &id
	}
	if r.BudgetRequestID != "" {
		id, err := uuid.Parse(r.BudgetRequestID)
		if err != nil {
			return CreateInput{}, fmt.Errorf("document: bad budget_request_id: %w", shared.ErrBadRequest)
		}
		input.BudgetRequestID = &id
	}
	if input.AdvanceID != nil && input.BudgetRequestID != nil {
		return CreateInput{}, fmt.Errorf("document: link at most one instrument: %w", shared.ErrBadRequest)
	}
	if r.AttachmentBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(r.AttachmentBase64)
		if err != nil {
			return CreateInput{}, fmt.Errorf("document: bad attachment: %w", shared.ErrBadRequest)
		}
		input.Attachment = data
	}
	return input, nil
}

// FinalizeRequest is the JSON body for a reviewer decision.
type FinalizeRequest struct {
	Decision string `json:"decision" validate:"required,oneof=ACCEPTED REJECTED"`
	Reason   string `json:"reason"`
}

// ReasonRequest carries the reason for re-review and override operations.
type ReasonRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=PENDING ACCEPTED REJECTED"`
	Reason string `json:"reason"`
}

// Response is the JSON shape of a document.
type Response struct {
	ID               string     `json:"id"`
	Number           string     `json:"number"`
	OrgID            string     `json:"org_id"`
	Kind             string     `json:"kind"`
	OwnerID          string     `json:"owner_id"`
	Amount           *string    `json:"amount,omitempty"`
	Status           string     `json:"status"`
	ReviewerID       *string    `json:"reviewer_id,omitempty"`
	LeaseStartedAt   *time.Time `json:"lease_started_at,omitempty"`
	LastHeartbeatAt  *time.Time `json:"last_heartbeat_at,omitempty"`
	DecidedBy        *string    `json:"decided_by,omitempty"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
	DecisionReason   string     `json:"decision_reason,omitempty"`
	OriginalID       *string    `json:"original_id,omitempty"`
	CorrectionAmount *string    `json:"correction_amount,omitempty"`
	AdvanceID        *string    `json:"advance_id,omitempty"`
	BudgetRequestID  *string    `json:"budget_request_id,omitempty"`
	SettledBy        *string    `json:"settled_by,omitempty"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
	AttachmentKey    *string    `json:"attachment_key,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewResponse maps a Document to its JSON shape.
func NewResponse(d Document) Response {
	resp := Response{
		ID:              d.ID.String(),
		Number:          d.Number,
		OrgID:           d.OrgID.String(),
		Kind:            string(d.Kind),
		OwnerID:         d.OwnerID.String(),
		Status:          string(d.Status),
		LeaseStartedAt:  d.LeaseStartedAt,
		LastHeartbeatAt: d.LastHeartbeatAt,
		DecidedAt:       d.DecidedAt,
		DecisionReason:  d.DecisionReason,
		SettledAt:       d.SettledAt,
		AttachmentKey:   d.AttachmentKey,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.Amount.Valid {
		s := d.Amount.Decimal.StringFixed(2)
		resp.Amount = &s
	}
	if d.CorrectionAmount.Valid {
		s := d.CorrectionAmount.Decimal.StringFixed(2)
		resp.CorrectionAmount = &s
	}
	resp.ReviewerID = uuidString(d.ReviewerID)
	resp.DecidedBy = uuidString(d.DecidedBy)
	resp.OriginalID = uuidString(d.OriginalID)
	resp.AdvanceID = uuidString(d.AdvanceID)
	resp.BudgetRequestID = uuidString(d.BudgetRequestID)
	resp.SettledBy = uuidString(d.SettledBy)
	return resp
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
