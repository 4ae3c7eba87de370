package document

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvals/approvalsd/internal/notify"
	"github.com/approvals/approvalsd/internal/observability"
	"github.com/approvals/approvalsd/internal/shared"
)

type memStore struct {
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, data []byte) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	key := uuid.NewString()
	s.objects[key] = data
	return key, nil
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Notify(ctx context.Context, accountID uuid.UUID, eventKind string, payload map[string]any) {
	n.events = append(n.events, eventKind)
}

type fixture struct {
	repo     *memRepository
	store    *memStore
	notifier *recordingNotifier
	lease    *LeaseManager
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepository()
	store := newMemStore()
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	lease := NewLeaseManager(repo, logger, metrics, DefaultStaleAfter)
	service := NewService(repo, lease, store, notifier, logger, metrics)
	return &fixture{repo: repo, store: store, notifier: notifier, lease: lease, service: service}
}

func ident(role shared.Role) shared.Identity {
	return shared.Identity{AccountID: uuid.New(), Role: role}
}

func money(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestCreateChargesOwnerAccount(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)

	doc, err := f.service.Create(context.Background(), owner, CreateInput{
		OrgID:  uuid.New(),
		Amount: money("100.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, doc.Status)
	assert.Equal(t, KindStandard, doc.Kind)
	assert.Regexp(t, `^FV-\d{6}$`, doc.Number)
	assert.True(t, f.repo.balance(owner.AccountID).Equal(decimal.RequireFromString("-100.00")),
		"creation must charge the owner by the full amount")
	assert.Equal(t, []string{notify.EventDocumentCreated}, f.notifier.events)

	history := f.repo.historyFor(doc.ID)
	require.Len(t, history, 1)
	assert.Equal(t, ActionCreate, history[0].Action)
}

func TestCreateRejectsCorrectionsAndNegativeAmounts(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)

	_, err := f.service.Create(context.Background(), owner, CreateInput{Kind: KindCorrection})
	assert.ErrorIs(t, err, shared.ErrBadRequest)

	_, err = f.service.Create(context.Background(), owner, CreateInput{
		Amount: decimal.NewNullDecimal(decimal.RequireFromString("-5")),
	})
	assert.ErrorIs(t, err, shared.ErrBadRequest)
}

func TestCreateForOtherOwnerRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	originator := ident(shared.RoleOriginator)
	other := uuid.New()
	f.repo.addAccount(other)

	_, err := f.service.Create(context.Background(), originator, CreateInput{OwnerID: other})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	admin := ident(shared.RoleAdmin)
	_, err = f.service.Create(context.Background(), admin, CreateInput{OwnerID: other})
	assert.NoError(t, err)
}

func TestCreateRollsBackAttachmentOnLedgerFailure(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	// No account registered: the ledger step fails inside the unit of work.

	_, err := f.service.Create(context.Background(), owner, CreateInput{
		Amount:     money("10.00"),
		Attachment: []byte("scan.pdf"),
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, f.store.objects, "failed create must not leave an orphaned object")
	assert.Empty(t, f.repo.docs, "failed create must not leave a document")
}

func TestClaimRaceHasOneWinner(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	first := ident(shared.RoleReviewer)
	second := ident(shared.RoleReviewer)

	claimed, err := f.lease.Claim(context.Background(), doc.ID, first)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, claimed.Status)
	require.NotNil(t, claimed.ReviewerID)
	assert.Equal(t, first.AccountID, *claimed.ReviewerID)

	_, err = f.lease.Claim(context.Background(), doc.ID, second)
	assert.ErrorIs(t, err, shared.ErrConflict, "the loser must see Conflict, not a silent steal")
}

func TestClaimRequiresReviewerRole(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	_, err = f.lease.Claim(context.Background(), doc.ID, owner)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestHeartbeatReportsLeaseLoss(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)

	ok, err := f.lease.Heartbeat(context.Background(), doc.ID, reviewer.AccountID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Sweep takes the lease away, the next heartbeat returns false.
	f.repo.expireLease(doc.ID, DefaultStaleAfter)
	_, err = f.lease.ReclaimStale(context.Background())
	require.NoError(t, err)

	ok, err = f.lease.Heartbeat(context.Background(), doc.ID, reviewer.AccountID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)

	require.NoError(t, f.lease.Release(context.Background(), doc.ID, reviewer.AccountID))
	require.NoError(t, f.lease.Release(context.Background(), doc.ID, reviewer.AccountID))

	got, err := f.repo.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.ReviewerID)
}

func TestStaleLeaseIsReclaimedAndReclaimable(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	crashed := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, crashed)
	require.NoError(t, err)

	f.repo.expireLease(doc.ID, DefaultStaleAfter)
	reclaimed, err := f.lease.ReclaimStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	// A second reviewer can now claim and finalize.
	next := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, next)
	require.NoError(t, err)

	final, err := f.service.Finalize(context.Background(), next, doc.ID, StatusAccepted, "")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, final.Status)

	// The crashed reviewer's late finalize must not apply.
	_, err = f.service.Finalize(context.Background(), crashed, doc.ID, StatusRejected, "late")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestListSweepsStaleLeases(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	f.repo.expireLease(doc.ID, DefaultStaleAfter)

	docs, err := f.service.List(context.Background(), ListFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, StatusPending, docs[0].Status)
}

func TestViewClaimsImplicitly(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	viewed, err := f.service.View(context.Background(), reviewer, doc.ID, ViewOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, viewed.Status)
	require.NotNil(t, viewed.ReviewerID)
	assert.Equal(t, reviewer.AccountID, *viewed.ReviewerID)
}

func TestViewNoClaimLeavesDocumentPending(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	viewed, err := f.service.View(context.Background(), reviewer, doc.ID, ViewOptions{NoClaim: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, viewed.Status)

	// Originators never claim either.
	viewed, err = f.service.View(context.Background(), owner, doc.ID, ViewOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, viewed.Status)
}

func TestFinalizeValidation(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)

	_, err = f.service.Finalize(context.Background(), owner, doc.ID, StatusAccepted, "")
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.service.Finalize(context.Background(), reviewer, doc.ID, StatusSettled, "")
	assert.ErrorIs(t, err, shared.ErrBadRequest)

	_, err = f.service.Finalize(context.Background(), reviewer, doc.ID, StatusRejected, "")
	assert.ErrorIs(t, err, shared.ErrBadRequest, "rejection without a reason must not pass")
}

func TestFinalizeByNonHolderConflicts(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	holder := ident(shared.RoleReviewer)
	intruder := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, holder)
	require.NoError(t, err)

	_, err = f.service.Finalize(context.Background(), intruder, doc.ID, StatusAccepted, "")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestFinalizeCascadesSettlementOnSettledInstrument(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)

	advanceID := uuid.New()
	f.repo.settled[advanceID] = true

	doc, err := f.service.Create(context.Background(), owner, CreateInput{AdvanceID: &advanceID})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)

	final, err := f.service.Finalize(context.Background(), reviewer, doc.ID, StatusAccepted, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, final.Status)
	require.NotNil(t, final.SettledBy)
	assert.Equal(t, reviewer.AccountID, *final.SettledBy)
	assert.Contains(t, f.notifier.events, notify.EventDocumentSettled)

	actions := make([]string, 0, 4)
	for _, e := range f.repo.historyFor(doc.ID) {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{ActionCreate, ActionClaim, ActionFinalize, ActionSettle}, actions)
}

func TestFinalizeDoesNotCascadeOnOpenInstrument(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)

	advanceID := uuid.New()
	f.repo.settled[advanceID] = false

	doc, err := f.service.Create(context.Background(), owner, CreateInput{AdvanceID: &advanceID})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)

	final, err := f.service.Finalize(context.Background(), reviewer, doc.ID, StatusAccepted, "")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, final.Status)
}

func TestReReviewRoundTrip(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	_, err = f.service.Finalize(context.Background(), reviewer, doc.ID, StatusRejected, "missing receipt")
	require.NoError(t, err)

	_, err = f.service.RequestReReview(context.Background(), reviewer, doc.ID, "")
	assert.ErrorIs(t, err, shared.ErrBadRequest)

	other := ident(shared.RoleReviewer)
	_, err = f.service.RequestReReview(context.Background(), other, doc.ID, "second look")
	assert.ErrorIs(t, err, shared.ErrForbidden, "only the original decider may request re-review")

	updated, err := f.service.RequestReReview(context.Background(), reviewer, doc.ID, "second look")
	require.NoError(t, err)
	assert.Equal(t, StatusReReview, updated.Status)

	// From RE_REVIEW an admin returns it to the pool, clearing the verdict.
	admin := ident(shared.RoleAdmin)
	back, err := f.service.AdminOverride(context.Background(), admin, doc.ID, StatusPending, "requeue")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, back.Status)
	assert.Empty(t, back.DecisionReason)
}

func TestAdminOverrideWinsOverLiveLease(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)

	admin := ident(shared.RoleAdmin)
	updated, err := f.service.AdminOverride(context.Background(), admin, doc.ID, StatusAccepted, "escalated")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.Status)
	assert.Nil(t, updated.ReviewerID)

	// The interrupted reviewer discovers the loss through the heartbeat.
	ok, err := f.lease.Heartbeat(context.Background(), doc.ID, reviewer.AccountID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminOverrideRefundsRejectAfterAcceptance(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{Amount: money("250.00")})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	_, err = f.service.Finalize(context.Background(), reviewer, doc.ID, StatusAccepted, "")
	require.NoError(t, err)
	require.True(t, f.repo.balance(owner.AccountID).Equal(decimal.RequireFromString("-250.00")))

	admin := ident(shared.RoleAdmin)
	updated, err := f.service.AdminOverride(context.Background(), admin, doc.ID, StatusRejected, "audit finding")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, updated.Status)
	assert.True(t, f.repo.balance(owner.AccountID).IsZero(),
		"reject after acceptance must refund the full amount")
}

func TestAdminOverrideRejectsTerminalAndBadTargets(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	admin := ident(shared.RoleAdmin)

	doc := f.repo.put(Document{ID: uuid.New(), Number: "FV-000042", OwnerID: owner.AccountID, Kind: KindStandard, Status: StatusTransferred})

	_, err := f.service.AdminOverride(context.Background(), admin, doc.ID, StatusPending, "x")
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.service.AdminOverride(context.Background(), admin, doc.ID, StatusSettled, "x")
	assert.ErrorIs(t, err, shared.ErrBadRequest)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.service.AdminOverride(context.Background(), reviewer, doc.ID, StatusPending, "x")
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestTransferRequiresSettled(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	admin := ident(shared.RoleAdmin)

	doc := f.repo.put(Document{ID: uuid.New(), Number: "FV-000043", OwnerID: owner.AccountID, Kind: KindStandard, Status: StatusAccepted})
	_, err := f.service.Transfer(context.Background(), admin, doc.ID)
	assert.ErrorIs(t, err, shared.ErrConflict)

	settled := f.repo.put(Document{ID: uuid.New(), Number: "FV-000044", OwnerID: owner.AccountID, Kind: KindStandard, Status: StatusSettled})
	updated, err := f.service.Transfer(context.Background(), admin, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTransferred, updated.Status)

	_, err = f.service.Transfer(context.Background(), owner, settled.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDeleteRefundRoundTrip(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)

	doc, err := f.service.Create(context.Background(), owner, CreateInput{
		Amount:     money("75.50"),
		Attachment: []byte("receipt"),
	})
	require.NoError(t, err)
	require.True(t, f.repo.balance(owner.AccountID).Equal(decimal.RequireFromString("-75.50")))
	require.Len(t, f.store.objects, 1)

	require.NoError(t, f.service.Delete(context.Background(), owner, doc.ID))

	assert.True(t, f.repo.balance(owner.AccountID).IsZero(),
		"delete must return the balance to its pre-document value exactly")
	assert.Empty(t, f.store.objects, "delete must remove the attachment")

	// History survives the document.
	history := f.repo.historyFor(doc.ID)
	require.NotEmpty(t, history)
	assert.Equal(t, ActionDelete, history[len(history)-1].Action)
}

func TestDeleteAfterOverrideRefundDoesNotRefundAgain(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)

	doc, err := f.service.Create(context.Background(), owner, CreateInput{Amount: money("100.00")})
	require.NoError(t, err)

	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	_, err = f.service.Finalize(context.Background(), reviewer, doc.ID, StatusAccepted, "")
	require.NoError(t, err)

	admin := ident(shared.RoleAdmin)
	_, err = f.service.AdminOverride(context.Background(), admin, doc.ID, StatusRejected, "audit finding")
	require.NoError(t, err)
	require.True(t, f.repo.balance(owner.AccountID).IsZero())

	got, err := f.repo.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.True(t, got.ChargeRefunded, "override reject must mark the charge reversed")

	// The charge was already reversed; deleting the rejected document must
	// not credit the owner a second time.
	require.NoError(t, f.service.Delete(context.Background(), owner, doc.ID))
	assert.True(t, f.repo.balance(owner.AccountID).IsZero(),
		"balance after delete = %s, want 0.00", f.repo.balance(owner.AccountID))
}

func TestDeleteRejectsCorrections(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	admin := ident(shared.RoleAdmin)
	f.repo.addAccount(owner.AccountID)

	originalID := uuid.New()
	correction := f.repo.put(Document{
		ID:               uuid.New(),
		Number:           "FV-000042-KOREKTA-1",
		OwnerID:          owner.AccountID,
		Kind:             KindCorrection,
		Status:           StatusAccepted,
		OriginalID:       &originalID,
		CorrectionSeq:    1,
		CorrectionAmount: money("30.00"),
	})

	err := f.service.Delete(context.Background(), admin, correction.ID)
	assert.ErrorIs(t, err, shared.ErrBadRequest)

	_, err = f.repo.Get(context.Background(), correction.ID)
	assert.NoError(t, err, "the correction must survive the attempt")
}

func TestDeletePermissions(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	stranger := ident(shared.RoleOriginator)
	admin := ident(shared.RoleAdmin)
	f.repo.addAccount(owner.AccountID)

	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	err = f.service.Delete(context.Background(), stranger, doc.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	// Owner cannot delete once accepted.
	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	_, err = f.service.Finalize(context.Background(), reviewer, doc.ID, StatusAccepted, "")
	require.NoError(t, err)
	err = f.service.Delete(context.Background(), owner, doc.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	// Admin can, while it is not terminal.
	require.NoError(t, f.service.Delete(context.Background(), admin, doc.ID))

	terminal := f.repo.put(Document{ID: uuid.New(), Number: "FV-000045", OwnerID: owner.AccountID, Kind: KindStandard, Status: StatusTransferred})
	err = f.service.Delete(context.Background(), admin, terminal.ID)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestReviewerAndStatusStayConsistent(t *testing.T) {
	f := newFixture(t)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	doc, err := f.service.Create(context.Background(), owner, CreateInput{})
	require.NoError(t, err)

	check := func() {
		got, err := f.repo.Get(context.Background(), doc.ID)
		require.NoError(t, err)
		if got.Status == StatusInReview {
			assert.NotNil(t, got.ReviewerID)
		} else {
			assert.Nil(t, got.ReviewerID)
		}
	}

	check()
	reviewer := ident(shared.RoleReviewer)
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	check()
	require.NoError(t, f.lease.Release(context.Background(), doc.ID, reviewer.AccountID))
	check()
	_, err = f.lease.Claim(context.Background(), doc.ID, reviewer)
	require.NoError(t, err)
	_, err = f.service.Finalize(context.Background(), reviewer, doc.ID, StatusAccepted, "")
	require.NoError(t, err)
	check()
}
