package document

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/ledger"
	"github.com/approvals/approvalsd/internal/shared"
)

// memRepository is the in-memory Repository used across the package tests.
// Time is simulated with a millisecond tick so two mutations never share an
// updated_at marker.
type memRepository struct {
	mu sync.Mutex

	docs     map[uuid.UUID]Document
	history  []HistoryEntry
	accounts map[uuid.UUID]*memAccount
	settled  map[uuid.UUID]bool

	numberSeq  int64
	historySeq int64
	tick       int64
	base       time.Time

	// Error injection.
	txErr         error
	ledgerErr     error
	insertDupOnce bool
}

type memAccount struct {
	balance   decimal.Decimal
	updatedAt time.Time
	txns      []ledger.Transaction
}

func newMemRepository() *memRepository {
	return &memRepository{
		docs:     make(map[uuid.UUID]Document),
		accounts: make(map[uuid.UUID]*memAccount),
		settled:  make(map[uuid.UUID]bool),
		base:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memRepository) now() time.Time {
	m.tick++
	return m.base.Add(time.Duration(m.tick) * time.Millisecond)
}

func (m *memRepository) addAccount(id uuid.UUID) {
	m.accounts[id] = &memAccount{balance: decimal.Zero, updatedAt: m.base}
}

func (m *memRepository) balance(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].balance
}

func (m *memRepository) put(doc Document) Document {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = m.now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	m.docs[doc.ID] = doc
	return doc
}

func (m *memRepository) historyFor(id uuid.UUID) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, e := range m.history {
		if e.DocumentID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *memRepository) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *memRepository) getLocked(id uuid.UUID) (Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("document: %w", shared.ErrNotFound)
	}
	return doc, nil
}

func (m *memRepository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, doc := range m.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.OwnerID != uuid.Nil && doc.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (m *memRepository) ListHistory(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	return m.historyFor(id), nil
}

func (m *memRepository) ClaimLease(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, expectedUpdatedAt time.Time) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.getLocked(id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusPending || !doc.UpdatedAt.Equal(expectedUpdatedAt) {
		return Document{}, fmt.Errorf("document: claim on %s: %w", id, shared.ErrConflict)
	}
	now := m.now()
	doc.Status = StatusInReview
	doc.ReviewerID = &reviewerID
	doc.LeaseStartedAt = &now
	doc.LastHeartbeatAt = &now
	doc.UpdatedAt = now
	m.docs[id] = doc
	m.appendHistoryLocked(HistoryEntry{DocumentID: id, EditorID: reviewerID, Action: ActionClaim})
	return doc, nil
}

func (m *memRepository) Heartbeat(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.Status != StatusInReview || doc.ReviewerID == nil || *doc.ReviewerID != reviewerID {
		return false, nil
	}
	now := m.now()
	doc.LastHeartbeatAt = &now
	doc.UpdatedAt = now
	m.docs[id] = doc
	return true, nil
}

func (m *memRepository) ReleaseLease(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.Status != StatusInReview || doc.ReviewerID == nil || *doc.ReviewerID != reviewerID {
		return false, nil
	}
	doc.Status = StatusPending
	doc.ReviewerID = nil
	doc.LeaseStartedAt = nil
	doc.LastHeartbeatAt = nil
	doc.UpdatedAt = m.now()
	m.docs[id] = doc
	m.appendHistoryLocked(HistoryEntry{DocumentID: id, EditorID: reviewerID, Action: ActionRelease})
	return true, nil
}

func (m *memRepository) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.base.Add(time.Duration(m.tick) * time.Millisecond).Add(-staleAfter)
	var reclaimed int64
	for id, doc := range m.docs {
		if doc.Status != StatusInReview {
			continue
		}
		if doc.LastHeartbeatAt != nil && !doc.LastHeartbeatAt.Before(cutoff) {
			continue
		}
		doc.Status = StatusPending
		doc.ReviewerID = nil
		doc.LeaseStartedAt = nil
		doc.LastHeartbeatAt = nil
		doc.UpdatedAt = m.now()
		m.docs[id] = doc
		m.appendHistoryLocked(HistoryEntry{DocumentID: id, EditorID: uuid.Nil, Action: ActionReclaim})
		reclaimed++
	}
	return reclaimed, nil
}

// expireLease backdates the heartbeat far enough for the sweep to take it.
func (m *memRepository) expireLease(id uuid.UUID, staleAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[id]
	past := m.base.Add(-2 * staleAfter)
	doc.LastHeartbeatAt = &past
	m.docs[id] = doc
}

func (m *memRepository) appendHistoryLocked(entry HistoryEntry) {
	m.historySeq++
	entry.ID = m.historySeq
	entry.At = m.base.Add(time.Duration(m.tick) * time.Millisecond)
	m.history = append(m.history, entry)
}

func (m *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapDocs := make(map[uuid.UUID]Document, len(m.docs))
	for k, v := range m.docs {
		snapDocs[k] = v
	}
	snapHistory := append([]HistoryEntry(nil), m.history...)
	snapAccounts := make(map[uuid.UUID]*memAccount, len(m.accounts))
	for k, v := range m.accounts {
		cp := *v
		cp.txns = append([]ledger.Transaction(nil), v.txns...)
		snapAccounts[k] = &cp
	}
	snapNumber, snapHistorySeq := m.numberSeq, m.historySeq

	err := fn(ctx, &memTx{repo: m})
	if err != nil {
		m.docs = snapDocs
		m.history = snapHistory
		m.accounts = snapAccounts
		m.numberSeq, m.historySeq = snapNumber, snapHistorySeq
	}
	return err
}

type memTx struct {
	repo *memRepository
}

func (t *memTx) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	return t.repo.getLocked(id)
}

func (t *memTx) Insert(ctx context.Context, doc Document) (Document, error) {
	m := t.repo
	if m.insertDupOnce {
		m.insertDupOnce = false
		return Document{}, fmt.Errorf("%w: %w", ErrDuplicateCorrection, shared.ErrConflict)
	}
	if doc.OriginalID != nil {
		for _, existing := range m.docs {
			if existing.OriginalID != nil && *existing.OriginalID == *doc.OriginalID &&
				existing.CorrectionSeq == doc.CorrectionSeq {
				return Document{}, fmt.Errorf("%w: %w", ErrDuplicateCorrection, shared.ErrConflict)
			}
		}
	}
	now := m.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	m.docs[doc.ID] = doc
	return doc, nil
}

func (t *memTx) MarkChargeRefunded(ctx context.Context, id uuid.UUID) error {
	m := t.repo
	doc, err := m.getLocked(id)
	if err != nil {
		return err
	}
	doc.ChargeRefunded = true
	m.docs[id] = doc
	return nil
}

func (t *memTx) Delete(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time) error {
	m := t.repo
	doc, err := m.getLocked(id)
	if err != nil {
		return err
	}
	if !doc.UpdatedAt.Equal(expectedUpdatedAt) {
		return fmt.Errorf("document: delete on %s: %w", id, shared.ErrConflict)
	}
	delete(m.docs, id)
	return nil
}

func (t *memTx) Finalize(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, decision Status, reason string) (Document, error) {
	m := t.repo
	doc, err := m.getLocked(id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusInReview || doc.ReviewerID == nil || *doc.ReviewerID != reviewerID {
		return Document{}, fmt.Errorf("document: finalize on %s: %w", id, shared.ErrConflict)
	}
	now := m.now()
	doc.Status = decision
	doc.DecidedBy = &reviewerID
	doc.DecidedAt = &now
	doc.DecisionReason = reason
	doc.ReviewerID = nil
	doc.LeaseStartedAt = nil
	doc.LastHeartbeatAt = nil
	doc.UpdatedAt = now
	m.docs[id] = doc
	return doc, nil
}

func (t *memTx) SetReReview(ctx context.Context, id uuid.UUID, deciderID uuid.UUID, reason string) (Document, error) {
	m := t.repo
	doc, err := m.getLocked(id)
	if err != nil {
		return Document{}, err
	}
	if (doc.Status != StatusAccepted && doc.Status != StatusRejected) ||
		doc.DecidedBy == nil || *doc.DecidedBy != deciderID {
		return Document{}, fmt.Errorf("document: re-review on %s: %w", id, shared.ErrConflict)
	}
	doc.Status = StatusReReview
	doc.DecisionReason = reason
	doc.UpdatedAt = m.now()
	m.docs[id] = doc
	return doc, nil
}

func (t *memTx) AdminSetStatus(ctx context.Context, id uuid.UUID, newStatus Status, clearReason bool, expectedUpdatedAt time.Time) (Document, error) {
	m := t.repo
	doc, err := m.getLocked(id)
	if err != nil {
		return Document{}, err
	}
	if !doc.UpdatedAt.Equal(expectedUpdatedAt) {
		return Document{}, fmt.Errorf("document: admin override on %s: %w", id, shared.ErrConflict)
	}
	doc.Status = newStatus
	if clearReason {
		doc.DecisionReason = ""
	}
	doc.ReviewerID = nil
	doc.LeaseStartedAt = nil
	doc.LastHeartbeatAt = nil
	doc.UpdatedAt = m.now()
	m.docs[id] = doc
	return doc, nil
}

func (t *memTx) MarkSettled(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (Document, error) {
	m := t.repo
	doc, err := m.getLocked(id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusAccepted {
		return Document{}, fmt.Errorf("document: settle on %s: %w", id, shared.ErrConflict)
	}
	now := m.now()
	doc.Status = StatusSettled
	doc.SettledBy = &actorID
	doc.SettledAt = &now
	doc.UpdatedAt = now
	m.docs[id] = doc
	return doc, nil
}

func (t *memTx) MarkTransferred(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time) (Document, error) {
	m := t.repo
	doc, err := m.getLocked(id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusSettled || !doc.UpdatedAt.Equal(expectedUpdatedAt) {
		return Document{}, fmt.Errorf("document: transfer on %s: %w", id, shared.ErrConflict)
	}
	doc.Status = StatusTransferred
	doc.UpdatedAt = m.now()
	m.docs[id] = doc
	return doc, nil
}

func (t *memTx) CountCorrections(ctx context.Context, originalID uuid.UUID) (int, error) {
	count := 0
	for _, doc := range t.repo.docs {
		if doc.OriginalID != nil && *doc.OriginalID == originalID {
			count++
		}
	}
	return count, nil
}

func (t *memTx) NextNumber(ctx context.Context, kind Kind) (string, error) {
	t.repo.numberSeq++
	prefix := "FV"
	if kind == KindReceipt {
		prefix = "RC"
	}
	return fmt.Sprintf("%s-%06d", prefix, t.repo.numberSeq), nil
}

func (t *memTx) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	t.repo.appendHistoryLocked(entry)
	return nil
}

func (t *memTx) LedgerAdjust(ctx context.Context, input ledger.AdjustInput) (ledger.Transaction, error) {
	m := t.repo
	if m.ledgerErr != nil {
		return ledger.Transaction{}, m.ledgerErr
	}
	acc, ok := m.accounts[input.AccountID]
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("ledger: account %s: %w", input.AccountID, shared.ErrNotFound)
	}
	before := acc.balance
	after := before.Add(input.Amount)
	txn := ledger.Transaction{
		ID:            uuid.New(),
		AccountID:     input.AccountID,
		Amount:        input.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Kind:          input.Kind,
		DocumentID:    input.DocumentID,
		Note:          input.Note,
		ActorID:       input.ActorID,
		CreatedAt:     m.now(),
	}
	acc.balance = after
	acc.updatedAt = txn.CreatedAt
	acc.txns = append(acc.txns, txn)
	return txn, nil
}

func (t *memTx) InstrumentSettled(ctx context.Context, id uuid.UUID) (bool, error) {
	settled, ok := t.repo.settled[id]
	if !ok {
		return false, fmt.Errorf("instrument: %s: %w", id, shared.ErrNotFound)
	}
	return settled, nil
}
