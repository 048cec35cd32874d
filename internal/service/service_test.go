package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/domain/hitl"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
	"github.com/fraudlens/fraudlens/internal/port/messagequeue"
)

// fakeStore is an in-memory database.Store for service tests.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*transaction.Record
	queue   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*transaction.Record)}
}

func (f *fakeStore) SaveTransaction(_ context.Context, rec *transaction.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.TransactionID] = &cp
	return nil
}

func (f *fakeStore) GetTransaction(_ context.Context, id string) (*transaction.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) ListTransactions(_ context.Context, limit int) ([]*transaction.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*transaction.Record, 0, len(f.records))
	for _, rec := range f.records {
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) EnqueueForReview(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queue {
		if q == id {
			return nil
		}
	}
	f.queue = append(f.queue, id)
	return nil
}

func (f *fakeStore) PendingReviews(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queue))
	copy(out, f.queue)
	return out, nil
}

func (f *fakeStore) QueueLength(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue), nil
}

func (f *fakeStore) InReviewQueue(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queue {
		if q == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ApplyReview(_ context.Context, id string, last transaction.LastDecision) (*transaction.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := -1
	for i, q := range f.queue {
		if q == id {
			idx = i
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	if rec.ReviewedByHuman {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrConflict)
	}
	rec.LastDecision = &last
	rec.ReviewedByHuman = true
	rec.AgentAudit = append(rec.AgentAudit, transaction.AuditEntry{
		AgentName:     "human_review",
		Status:        "completed",
		ExecutionTime: last.ReviewedAt,
		Decision:      last.Value,
		ReviewerNotes: last.ReviewerNotes,
	})
	f.queue = append(f.queue[:idx], f.queue[idx+1:]...)
	cp := *rec
	return &cp, nil
}

// fakeQueue records published subjects.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][][]byte)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

// fakeHub records broadcast event types.
type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

// fakeCache is a TTL-less in-memory cache.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// fakeAnalyzer returns a canned record per decision value.
type fakeAnalyzer struct {
	decision transaction.DecisionValue
}

func (a *fakeAnalyzer) Analyze(_ context.Context, req transaction.Request) (*transaction.Record, error) {
	confidence := 0.5
	rec := &transaction.Record{
		TransactionID: req.TransactionID,
		Request:       req,
		Decision: transaction.Decision{
			Value:      a.decision,
			Confidence: &confidence,
		},
		Signals:         []string{},
		NeedHumanReview: a.decision == transaction.DecisionEscalateToHuman,
	}
	return rec, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func analysisRequest(id string) transaction.Request {
	return transaction.Request{
		TransactionID: id,
		CustomerID:    "cus_001",
		Amount:        100,
		Currency:      "ARS",
		Country:       "AR",
		Channel:       "web",
		DeviceID:      "dev_abc",
		Timestamp:     time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeApprovedSkipsQueue(t *testing.T) {
	store := newFakeStore()
	queue := newFakeQueue()
	hub := &fakeHub{}
	svc := NewAnalysisService(store, &fakeAnalyzer{decision: transaction.DecisionApprove}, queue, hub, nil, testLogger())

	rec, err := svc.Analyze(context.Background(), analysisRequest("txn_a1"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.NeedHumanReview {
		t.Fatal("approved transaction should not need review")
	}
	if n, _ := store.QueueLength(context.Background()); n != 0 {
		t.Fatalf("queue length = %d, want 0", n)
	}
	if queue.count("fraud.analyzed") != 1 {
		t.Fatal("expected one fraud.analyzed event")
	}
	if queue.count("fraud.escalated") != 0 {
		t.Fatal("expected no fraud.escalated event")
	}
}

func TestAnalyzeEscalationEnqueuesAndAnnounces(t *testing.T) {
	store := newFakeStore()
	queue := newFakeQueue()
	hub := &fakeHub{}
	svc := NewAnalysisService(store, &fakeAnalyzer{decision: transaction.DecisionEscalateToHuman}, queue, hub, nil, testLogger())

	if _, err := svc.Analyze(context.Background(), analysisRequest("txn_e1")); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if n, _ := store.QueueLength(context.Background()); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	if queue.count("fraud.escalated") != 1 {
		t.Fatal("expected one fraud.escalated event")
	}
	if len(hub.events) != 1 || hub.events[0] != "hitl.queue" {
		t.Fatalf("hub events = %v, want [hitl.queue]", hub.events)
	}
}

func TestPendingRecordOutsideQueue(t *testing.T) {
	store := newFakeStore()
	svc := NewHITLService(store, nil, nil, nil, nil, testLogger())

	rec, _ := (&fakeAnalyzer{decision: transaction.DecisionApprove}).Analyze(context.Background(), analysisRequest("txn_h1"))
	_ = store.SaveTransaction(context.Background(), rec)

	// The record exists in history but was never escalated.
	if _, err := svc.PendingRecord(context.Background(), "txn_h1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReviewRejectsNonReviewerDecision(t *testing.T) {
	svc := NewHITLService(newFakeStore(), nil, nil, nil, nil, testLogger())

	_, err := svc.Review(context.Background(), "txn_x", transaction.DecisionChallenge, "")
	if !errors.Is(err, hitl.ErrInvalidReviewDecision) {
		t.Fatalf("expected ErrInvalidReviewDecision, got %v", err)
	}
}

func TestReviewAppliesDecisionAndInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	queue := newFakeQueue()
	hub := &fakeHub{}
	recCache := newFakeCache()

	analysis := NewAnalysisService(store, &fakeAnalyzer{decision: transaction.DecisionEscalateToHuman}, nil, nil, nil, testLogger())
	if _, err := analysis.Analyze(ctx, analysisRequest("txn_r1")); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	_ = recCache.Set(ctx, "txn_r1", []byte("stale"), 0)

	svc := NewHITLService(store, recCache, queue, hub, nil, testLogger())
	rec, err := svc.Review(ctx, "txn_r1", transaction.DecisionBlock, "card reported stolen")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}

	if rec.LastDecision == nil || rec.LastDecision.Value != transaction.DecisionBlock {
		t.Fatalf("last_decision = %+v, want BLOCK", rec.LastDecision)
	}
	if rec.LastDecision.DecidedBy != "human" {
		t.Fatalf("decided_by = %q, want human", rec.LastDecision.DecidedBy)
	}
	if !rec.ReviewedByHuman {
		t.Fatal("reviewed_by_human should be true")
	}
	if err := rec.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if n, _ := store.QueueLength(ctx); n != 0 {
		t.Fatalf("queue length = %d, want 0 after review", n)
	}
	if _, ok, _ := recCache.Get(ctx, "txn_r1"); ok {
		t.Fatal("cache entry should be invalidated after review")
	}
	if queue.count("fraud.reviewed") != 1 {
		t.Fatal("expected one fraud.reviewed event")
	}
	if len(hub.events) != 2 {
		t.Fatalf("hub events = %v, want reviewed + queue update", hub.events)
	}
}

func TestReviewTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	analysis := NewAnalysisService(store, &fakeAnalyzer{decision: transaction.DecisionEscalateToHuman}, nil, nil, nil, testLogger())
	if _, err := analysis.Analyze(ctx, analysisRequest("txn_r2")); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	svc := NewHITLService(store, nil, nil, nil, nil, testLogger())
	if _, err := svc.Review(ctx, "txn_r2", transaction.DecisionApprove, ""); err != nil {
		t.Fatalf("first review: %v", err)
	}
	// The queue entry is gone, so the second attempt misses.
	if _, err := svc.Review(ctx, "txn_r2", transaction.DecisionBlock, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on re-review, got %v", err)
	}
}

func TestHistoryGetCachesRecord(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	recCache := newFakeCache()

	rec, _ := (&fakeAnalyzer{decision: transaction.DecisionApprove}).Analyze(ctx, analysisRequest("txn_c1"))
	_ = store.SaveTransaction(ctx, rec)

	svc := NewHistoryService(store, recCache, time.Minute, testLogger())

	got, err := svc.Get(ctx, "txn_c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TransactionID != "txn_c1" {
		t.Fatalf("transaction_id = %s", got.TransactionID)
	}

	data, ok, _ := recCache.Get(ctx, "txn_c1")
	if !ok {
		t.Fatal("expected record cached after first read")
	}
	var cached transaction.Record
	if err := json.Unmarshal(data, &cached); err != nil {
		t.Fatalf("cached record unmarshal: %v", err)
	}

	// A second read is served from the cache even if the store loses the row.
	store.mu.Lock()
	delete(store.records, "txn_c1")
	store.mu.Unlock()

	if _, err := svc.Get(ctx, "txn_c1"); err != nil {
		t.Fatalf("cached Get: %v", err)
	}
}

func TestHistoryGetMissing(t *testing.T) {
	svc := NewHistoryService(newFakeStore(), nil, time.Minute, testLogger())
	if _, err := svc.Get(context.Background(), "txn_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
