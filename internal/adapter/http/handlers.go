package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fraudlens/fraudlens/internal/adapter/ws"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
	"github.com/fraudlens/fraudlens/internal/service"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	Analysis *service.AnalysisService
	HITL     *service.HITLService
	History  *service.HistoryService
	Hub      *ws.Hub
}

// AnalyzeTransaction handles POST /analize.
func (h *Handlers) AnalyzeTransaction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[transaction.Request](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.Analysis.Analyze(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "transaction not found")
		return
	}
	// The analysis endpoint returns the record directly; only failures use
	// the envelope. Query endpoints always wrap.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		slog.Error("failed to write analysis response", "error", err)
	}
}

// pendingQueueResponse is the payload of GET /hitl/pending.
type pendingQueueResponse struct {
	PendingTransactions []string `json:"pending_transactions"`
	QueueLength         int      `json:"queue_length"`
}

// ListPending handles GET /hitl/pending.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	ids, length, err := h.HITL.Pending(r.Context())
	if err != nil {
		writeDomainError(w, err, "pending reviews unavailable")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeSuccess(w, http.StatusOK, pendingQueueResponse{
		PendingTransactions: ids,
		QueueLength:         length,
	})
}

// GetPending handles GET /hitl/{transactionID}.
func (h *Handlers) GetPending(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "transactionID")

	rec, err := h.HITL.PendingRecord(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "transaction not pending review")
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

// reviewRequest is the body of POST /hitl/{transactionID}/review.
type reviewRequest struct {
	Decision      string `json:"decision"`
	ReviewerNotes string `json:"reviewer_notes"`
}

// SubmitReview handles POST /hitl/{transactionID}/review.
func (h *Handlers) SubmitReview(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "transactionID")

	req, ok := readJSON[reviewRequest](w, r)
	if !ok {
		return
	}

	rec, err := h.HITL.Review(r.Context(), id, transaction.DecisionValue(req.Decision), req.ReviewerNotes)
	if err != nil {
		writeDomainError(w, err, "transaction not pending review")
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

// GetTransaction handles GET /transaction/{transactionID}.
func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "transactionID")

	rec, err := h.History.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "transaction not found")
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

// ListTransactions handles GET /transactions?limit=N.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeFailure(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := h.History.List(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err, "transactions unavailable")
		return
	}
	if recs == nil {
		recs = []*transaction.Record{}
	}
	writeSuccess(w, http.StatusOK, recs)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"service": "fraudlens", "state": "ok"})
}
