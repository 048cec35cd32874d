package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraudlens/fraudlens/internal/adapter/otel"
	"github.com/fraudlens/fraudlens/internal/adapter/ws"
	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/domain/hitl"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
	"github.com/fraudlens/fraudlens/internal/port/broadcast"
	"github.com/fraudlens/fraudlens/internal/port/cache"
	"github.com/fraudlens/fraudlens/internal/port/database"
	"github.com/fraudlens/fraudlens/internal/port/messagequeue"
)

// HITLService serves the human-in-the-loop review queue and applies reviewer
// decisions to escalated transactions.
type HITLService struct {
	store   database.Store
	cache   cache.Cache
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewHITLService creates a HITLService. cache, queue, hub and metrics may be
// nil; the service then skips the corresponding side effects.
func NewHITLService(
	store database.Store,
	c cache.Cache,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	log *slog.Logger,
) *HITLService {
	return &HITLService{
		store:   store,
		cache:   c,
		queue:   queue,
		hub:     hub,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Pending returns the transaction IDs awaiting review, oldest first, along
// with the queue length.
func (s *HITLService) Pending(ctx context.Context) ([]string, int, error) {
	ids, err := s.store.PendingReviews(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending reviews: %w", err)
	}
	return ids, len(ids), nil
}

// PendingRecord returns the full decision record for a transaction currently
// in the review queue. Transactions outside the queue yield
// domain.ErrNotFound even when a historical record exists.
func (s *HITLService) PendingRecord(ctx context.Context, transactionID string) (*transaction.Record, error) {
	queued, err := s.store.InReviewQueue(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("check review queue for %s: %w", transactionID, err)
	}
	if !queued {
		return nil, fmt.Errorf("transaction %s not pending review: %w", transactionID, domain.ErrNotFound)
	}
	rec, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get pending transaction %s: %w", transactionID, err)
	}
	return rec, nil
}

// Review applies a human decision to an escalated transaction. Only APPROVE
// and BLOCK are accepted; the record gains a last_decision, a review audit
// entry, and leaves the queue atomically.
func (s *HITLService) Review(ctx context.Context, transactionID string, decision transaction.DecisionValue, notes string) (*transaction.Record, error) {
	if !decision.ReviewerDecision() {
		if s.metrics != nil {
			s.metrics.ReviewsRejected.Add(ctx, 1)
		}
		return nil, fmt.Errorf("decision %q: %w", decision, hitl.ErrInvalidReviewDecision)
	}

	last := transaction.LastDecision{
		Value:         decision,
		DecidedBy:     "human",
		ReviewerNotes: notes,
		ReviewedAt:    s.now().UTC(),
	}

	rec, err := s.store.ApplyReview(ctx, transactionID, last)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ReviewsRejected.Add(ctx, 1)
		}
		return nil, fmt.Errorf("apply review for %s: %w", transactionID, err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, transactionID); err != nil {
			s.log.Warn("invalidate record cache", "transaction_id", transactionID, "error", err)
		}
	}

	s.announceReview(ctx, rec, notes)

	if s.metrics != nil {
		s.metrics.ReviewsSubmitted.Add(ctx, 1)
	}
	s.log.Info("review applied",
		"transaction_id", transactionID,
		"decision", decision,
	)
	return rec, nil
}

func (s *HITLService) announceReview(ctx context.Context, rec *transaction.Record, notes string) {
	if s.queue != nil {
		payload, err := json.Marshal(messagequeue.ReviewedPayload{
			TransactionID: rec.TransactionID,
			Decision:      string(rec.LastDecision.Value),
			ReviewerNotes: notes,
		})
		if err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectReviewed, payload); err != nil {
				s.log.Warn("publish review event", "error", err)
			}
		}
	}

	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventTransactionReviewed, ws.TransactionReviewedEvent{
		TransactionID: rec.TransactionID,
		Decision:      string(rec.LastDecision.Value),
	})
	length, err := s.store.QueueLength(ctx)
	if err != nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventQueueChanged, ws.QueueChangedEvent{
		TransactionID: rec.TransactionID,
		QueueLength:   length,
	})
}
