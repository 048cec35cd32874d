// Package service implements the application services that sit between the
// HTTP surface and the ports.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraudlens/fraudlens/internal/adapter/otel"
	"github.com/fraudlens/fraudlens/internal/adapter/ws"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
	"github.com/fraudlens/fraudlens/internal/port/analyzer"
	"github.com/fraudlens/fraudlens/internal/port/broadcast"
	"github.com/fraudlens/fraudlens/internal/port/database"
	"github.com/fraudlens/fraudlens/internal/port/messagequeue"
)

// AnalysisService runs a transaction through the analyzer, persists the
// decision record and escalates it to the HITL queue when required.
type AnalysisService struct {
	store    database.Store
	analyzer analyzer.Analyzer
	queue    messagequeue.Queue
	hub      broadcast.Broadcaster
	metrics  *otel.Metrics
	log      *slog.Logger
}

// NewAnalysisService creates an AnalysisService. queue, hub and metrics may
// be nil; the service then skips the corresponding side effects.
func NewAnalysisService(
	store database.Store,
	a analyzer.Analyzer,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	log *slog.Logger,
) *AnalysisService {
	return &AnalysisService{
		store:    store,
		analyzer: a,
		queue:    queue,
		hub:      hub,
		metrics:  metrics,
		log:      log,
	}
}

// Analyze produces, persists and (when escalated) enqueues the decision
// record for the given transaction.
func (s *AnalysisService) Analyze(ctx context.Context, req transaction.Request) (*transaction.Record, error) {
	started := time.Now()

	rec, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("analyze transaction %s: %w", req.TransactionID, err)
	}
	if err := rec.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("analyzer produced inconsistent record for %s: %w", req.TransactionID, err)
	}

	if err := s.store.SaveTransaction(ctx, rec); err != nil {
		return nil, fmt.Errorf("save transaction %s: %w", rec.TransactionID, err)
	}

	if rec.NeedHumanReview {
		if err := s.escalate(ctx, rec); err != nil {
			return nil, err
		}
	}

	s.publishAnalyzed(ctx, rec)

	if s.metrics != nil {
		s.metrics.TransactionsAnalyzed.Add(ctx, 1)
		s.metrics.AnalysisDuration.Record(ctx, time.Since(started).Seconds())
	}
	s.log.Info("transaction analyzed",
		"transaction_id", rec.TransactionID,
		"decision", rec.Decision.Value,
		"need_human_review", rec.NeedHumanReview,
	)
	return rec, nil
}

func (s *AnalysisService) escalate(ctx context.Context, rec *transaction.Record) error {
	if err := s.store.EnqueueForReview(ctx, rec.TransactionID); err != nil {
		return fmt.Errorf("enqueue %s for review: %w", rec.TransactionID, err)
	}

	length, err := s.store.QueueLength(ctx)
	if err != nil {
		s.log.Warn("queue length after escalation", "error", err)
		length = 0
	}

	if s.queue != nil {
		s.publish(ctx, messagequeue.SubjectEscalated, messagequeue.EscalatedPayload{
			TransactionID: rec.TransactionID,
			QueueLength:   length,
		})
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventQueueChanged, ws.QueueChangedEvent{
			TransactionID: rec.TransactionID,
			QueueLength:   length,
		})
	}
	if s.metrics != nil {
		s.metrics.TransactionsEscalated.Add(ctx, 1)
	}
	return nil
}

func (s *AnalysisService) publishAnalyzed(ctx context.Context, rec *transaction.Record) {
	if s.queue == nil {
		return
	}
	var confidence float64
	if rec.Decision.Confidence != nil {
		confidence = *rec.Decision.Confidence
	}
	s.publish(ctx, messagequeue.SubjectAnalyzed, messagequeue.AnalyzedPayload{
		TransactionID:   rec.TransactionID,
		CustomerID:      rec.Request.CustomerID,
		Decision:        string(rec.Decision.Value),
		Confidence:      confidence,
		NeedHumanReview: rec.NeedHumanReview,
	})
}

// publish marshals and publishes a payload, logging instead of failing the
// request when the broker is unreachable.
func (s *AnalysisService) publish(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal event payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.log.Warn("publish event", "subject", subject, "error", err)
	}
}
