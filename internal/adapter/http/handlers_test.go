package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
	"github.com/fraudlens/fraudlens/internal/service"
)

// memStore is a minimal in-memory database.Store for handler tests.
type memStore struct {
	records map[string]*transaction.Record
	queue   []string
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*transaction.Record)}
}

func (m *memStore) SaveTransaction(_ context.Context, rec *transaction.Record) error {
	cp := *rec
	m.records[rec.TransactionID] = &cp
	return nil
}

func (m *memStore) GetTransaction(_ context.Context, id string) (*transaction.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) ListTransactions(_ context.Context, limit int) ([]*transaction.Record, error) {
	out := make([]*transaction.Record, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) EnqueueForReview(_ context.Context, id string) error {
	for _, q := range m.queue {
		if q == id {
			return nil
		}
	}
	m.queue = append(m.queue, id)
	return nil
}

func (m *memStore) PendingReviews(_ context.Context) ([]string, error) {
	out := make([]string, len(m.queue))
	copy(out, m.queue)
	return out, nil
}

func (m *memStore) QueueLength(_ context.Context) (int, error) {
	return len(m.queue), nil
}

func (m *memStore) InReviewQueue(_ context.Context, id string) (bool, error) {
	for _, q := range m.queue {
		if q == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ApplyReview(_ context.Context, id string, last transaction.LastDecision) (*transaction.Record, error) {
	idx := -1
	for i, q := range m.queue {
		if q == id {
			idx = i
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	rec := m.records[id]
	if rec.ReviewedByHuman {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrConflict)
	}
	rec.LastDecision = &last
	rec.ReviewedByHuman = true
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	cp := *rec
	return &cp, nil
}

// escalatingAnalyzer escalates every transaction it sees.
type escalatingAnalyzer struct{}

func (escalatingAnalyzer) Analyze(_ context.Context, req transaction.Request) (*transaction.Record, error) {
	confidence := 0.0
	return &transaction.Record{
		TransactionID:   req.TransactionID,
		Request:         req,
		Decision:        transaction.Decision{Value: transaction.DecisionEscalateToHuman, Confidence: &confidence},
		Signals:         []string{"device unusual", "country unusual"},
		NeedHumanReview: true,
	}, nil
}

func newTestServer(t *testing.T, store *memStore) *httptest.Server {
	t.Helper()
	log := slog.New(slog.DiscardHandler)

	h := &Handlers{
		Analysis: service.NewAnalysisService(store, escalatingAnalyzer{}, nil, nil, nil, log),
		HITL:     service.NewHITLService(store, nil, nil, nil, nil, log),
		History:  service.NewHistoryService(store, nil, time.Minute, log),
	}

	r := chi.NewRouter()
	MountRoutes(r, h)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type testEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, method, url string, body any) (int, testEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var env testEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp.StatusCode, env
}

func sampleRequest(id string) transaction.Request {
	return transaction.Request{
		TransactionID: id,
		CustomerID:    "cus_001",
		Amount:        980,
		Currency:      "ARS",
		Country:       "BR",
		Channel:       "web",
		DeviceID:      "dev_new",
		Timestamp:     time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	// Success returns the record directly, without the envelope.
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(sampleRequest("txn_1")); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	resp, err := http.Post(srv.URL+"/analize", "application/json", &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rec transaction.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.TransactionID != "txn_1" || !rec.NeedHumanReview {
		t.Fatalf("record = %+v, want escalated txn_1", rec)
	}
}

func TestAnalyzeEndpointValidation(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	req := sampleRequest("")
	status, env := doRequest(t, http.MethodPost, srv.URL+"/analize", req)
	if status != http.StatusBadRequest || env.Status != "error" {
		t.Fatalf("status = %d/%s, want 400/error", status, env.Status)
	}
	if env.Message == "" {
		t.Fatal("expected error message")
	}
}

func TestPendingQueueEndpoints(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	// Empty queue first.
	status, env := doRequest(t, http.MethodGet, srv.URL+"/hitl/pending", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var queue pendingQueueResponse
	if err := json.Unmarshal(env.Data, &queue); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if queue.QueueLength != 0 || queue.PendingTransactions == nil {
		t.Fatalf("queue = %+v, want empty list and length 0", queue)
	}

	doRequest(t, http.MethodPost, srv.URL+"/analize", sampleRequest("txn_q1"))

	status, env = doRequest(t, http.MethodGet, srv.URL+"/hitl/pending", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if err := json.Unmarshal(env.Data, &queue); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if queue.QueueLength != 1 || len(queue.PendingTransactions) != 1 {
		t.Fatalf("queue = %+v, want one pending transaction", queue)
	}

	// Detail for a queued transaction.
	status, env = doRequest(t, http.MethodGet, srv.URL+"/hitl/txn_q1", nil)
	if status != http.StatusOK || env.Status != "success" {
		t.Fatalf("status = %d/%s, want 200/success", status, env.Status)
	}

	// Unknown ID misses.
	status, env = doRequest(t, http.MethodGet, srv.URL+"/hitl/txn_missing", nil)
	if status != http.StatusNotFound || env.Status != "error" {
		t.Fatalf("status = %d/%s, want 404/error", status, env.Status)
	}
}

func TestReviewEndpoint(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	doRequest(t, http.MethodPost, srv.URL+"/analize", sampleRequest("txn_r1"))

	// CHALLENGE is a pipeline decision, not a reviewer one.
	status, env := doRequest(t, http.MethodPost, srv.URL+"/hitl/txn_r1/review",
		map[string]string{"decision": "CHALLENGE"})
	if status != http.StatusBadRequest || env.Status != "error" {
		t.Fatalf("status = %d/%s, want 400/error", status, env.Status)
	}

	status, env = doRequest(t, http.MethodPost, srv.URL+"/hitl/txn_r1/review",
		map[string]string{"decision": "BLOCK", "reviewer_notes": "confirmed fraud"})
	if status != http.StatusOK || env.Status != "success" {
		t.Fatalf("status = %d/%s, want 200/success", status, env.Status)
	}

	var rec transaction.Record
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.LastDecision == nil || rec.LastDecision.Value != transaction.DecisionBlock {
		t.Fatalf("last_decision = %+v, want BLOCK", rec.LastDecision)
	}
	if rec.LastDecision.DecidedBy != "human" || rec.LastDecision.ReviewerNotes != "confirmed fraud" {
		t.Fatalf("last_decision = %+v, want human reviewer fields", rec.LastDecision)
	}

	// A second review misses: the queue entry is gone.
	status, env = doRequest(t, http.MethodPost, srv.URL+"/hitl/txn_r1/review",
		map[string]string{"decision": "APPROVE"})
	if status != http.StatusNotFound || env.Status != "error" {
		t.Fatalf("status = %d/%s, want 404/error on re-review", status, env.Status)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	doRequest(t, http.MethodPost, srv.URL+"/analize", sampleRequest("txn_h1"))

	status, env := doRequest(t, http.MethodGet, srv.URL+"/transaction/txn_h1", nil)
	if status != http.StatusOK || env.Status != "success" {
		t.Fatalf("status = %d/%s, want 200/success", status, env.Status)
	}

	status, env = doRequest(t, http.MethodGet, srv.URL+"/transaction/txn_missing", nil)
	if status != http.StatusNotFound || env.Status != "error" {
		t.Fatalf("status = %d/%s, want 404/error", status, env.Status)
	}

	status, env = doRequest(t, http.MethodGet, srv.URL+"/transactions?limit=10", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var recs []*transaction.Record
	if err := json.Unmarshal(env.Data, &recs); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}

	status, env = doRequest(t, http.MethodGet, srv.URL+"/transactions?limit=abc", nil)
	if status != http.StatusBadRequest || env.Status != "error" {
		t.Fatalf("status = %d/%s, want 400/error for bad limit", status, env.Status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	status, env := doRequest(t, http.MethodGet, srv.URL+"/health", nil)
	if status != http.StatusOK || env.Status != "success" {
		t.Fatalf("status = %d/%s, want 200/success", status, env.Status)
	}
}
