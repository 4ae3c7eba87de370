package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/approvals/approvalsd/internal/observability"
	"github.com/approvals/approvalsd/internal/shared"
)

// DefaultStaleAfter is the reference lease threshold. Client heartbeats are
// expected every ~800ms, well under it, so a live session is never falsely
// reclaimed while an abandoned document becomes available within seconds.
const DefaultStaleAfter = 5 * time.Second

// LeaseManager grants, renews and revokes the exclusive right to edit or
// decide a pending document. Client-side release calls are a latency
// optimization only; correctness rests entirely on the heartbeat-timeout
// sweep.
type LeaseManager struct {
	repo       Repository
	logger     *slog.Logger
	metrics    *observability.Metrics
	staleAfter time.Duration
}

// NewLeaseManager constructs a LeaseManager. staleAfter <= 0 selects
// DefaultStaleAfter.
func NewLeaseManager(repo Repository, logger *slog.Logger, metrics *observability.Metrics, staleAfter time.Duration) *LeaseManager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &LeaseManager{repo: repo, logger: logger, metrics: metrics, staleAfter: staleAfter}
}

// StaleAfter returns the configured reclaim threshold.
func (m *LeaseManager) StaleAfter() time.Duration {
	return m.staleAfter
}

// Claim attempts to take the review lease on a pending document. A marker
// mismatch (another reviewer claimed first, or any other mutation slipped in
// between read and write) fails with Conflict and the caller must re-fetch.
func (m *LeaseManager) Claim(ctx context.Context, documentID uuid.UUID, reviewer shared.Identity) (Document, error) {
	if !reviewer.Role.AnyOf(shared.RoleReviewer, shared.RoleAdmin) {
		return Document{}, fmt.Errorf("lease: claim requires reviewer capability: %w", shared.ErrForbidden)
	}
	doc, err := m.repo.Get(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if doc.Kind == KindCorrection {
		return Document{}, fmt.Errorf("lease: corrections are never claimed: %w", shared.ErrBadRequest)
	}
	if doc.Status != StatusPending {
		m.metrics.CountClaim("conflict")
		return Document{}, fmt.Errorf("lease: document %s is %s, not PENDING: %w", documentID, doc.Status, shared.ErrConflict)
	}
	claimed, err := m.repo.ClaimLease(ctx, documentID, reviewer.AccountID, doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			m.metrics.CountClaim("conflict")
			m.metrics.CountConflict("claim")
		} else {
			m.metrics.CountClaim("error")
		}
		return Document{}, err
	}
	m.metrics.CountClaim("ok")
	return claimed, nil
}

// Heartbeat refreshes the caller's lease. Heartbeats are advisory: calling
// redundantly or too late returns false, never an error.
func (m *LeaseManager) Heartbeat(ctx context.Context, documentID uuid.UUID, reviewerID uuid.UUID) (bool, error) {
	return m.repo.Heartbeat(ctx, documentID, reviewerID)
}

// Release gives the lease back explicitly. Idempotent: releasing twice, or
// after the lease already expired, is a no-op.
func (m *LeaseManager) Release(ctx context.Context, documentID uuid.UUID, reviewerID uuid.UUID) error {
	released, err := m.repo.ReleaseLease(ctx, documentID, reviewerID)
	if err != nil {
		return err
	}
	if !released {
		m.logger.Debug("release was a no-op", slog.String("document_id", documentID.String()))
	}
	return nil
}

// ReclaimStale sweeps expired leases back to PENDING. It runs opportunistically
// on every pending/in-review list query rather than as a background process.
func (m *LeaseManager) ReclaimStale(ctx context.Context) (int64, error) {
	reclaimed, err := m.repo.ReclaimStale(ctx, m.staleAfter)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		m.metrics.CountReclaims(reclaimed)
		m.logger.Info("reclaimed stale leases", slog.Int64("count", reclaimed))
	}
	return reclaimed, nil
}
