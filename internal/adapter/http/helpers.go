package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/domain/hitl"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// envelope is the response wrapper every endpoint shares. Success responses
// carry data; error responses carry a message.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeFailure(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeFailure(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "success", Data: data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Status: "error", Message: message})
}

func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	var malformed *transaction.MalformedRecordError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeFailure(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeFailure(w, http.StatusConflict, "transaction was already reviewed")
	case errors.Is(err, hitl.ErrInvalidReviewDecision):
		writeFailure(w, http.StatusBadRequest, "decision must be APPROVE or BLOCK")
	case errors.As(err, &malformed):
		writeFailure(w, http.StatusUnprocessableEntity, err.Error())
	case isValidationError(err):
		writeFailure(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("unhandled domain error", "error", err)
		writeFailure(w, http.StatusInternalServerError, "internal server error")
	}
}

// isValidationError reports whether err is one of the request validation
// sentinels.
func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, transaction.ErrTransactionIDRequired) ||
		errors.Is(err, transaction.ErrCustomerIDRequired) ||
		errors.Is(err, transaction.ErrNegativeAmount) ||
		errors.Is(err, transaction.ErrCurrencyRequired)
}
