// Package transaction defines the canonical decision record for analyzed
// transactions and the normalization boundary that produces it from the
// heterogeneous payload shapes the pipeline emits.
package transaction

import (
	"errors"
	"fmt"
	"time"
)

// DecisionValue is the categorical outcome the pipeline (or a human reviewer)
// assigns to a transaction.
type DecisionValue string

const (
	DecisionApprove         DecisionValue = "APPROVE"
	DecisionBlock           DecisionValue = "BLOCK"
	DecisionChallenge       DecisionValue = "CHALLENGE"
	DecisionEscalateToHuman DecisionValue = "ESCALATE_TO_HUMAN"
)

// Valid reports whether v is one of the four pipeline decision values.
func (v DecisionValue) Valid() bool {
	switch v {
	case DecisionApprove, DecisionBlock, DecisionChallenge, DecisionEscalateToHuman:
		return true
	}
	return false
}

// ReviewerDecision reports whether v may be submitted by a human reviewer.
// CHALLENGE and ESCALATE_TO_HUMAN are pipeline-only outputs.
func (v DecisionValue) ReviewerDecision() bool {
	return v == DecisionApprove || v == DecisionBlock
}

// DebateAgent identifies a side in the pipeline's adversarial deliberation.
type DebateAgent string

const (
	DebateProFraud DebateAgent = "pro_fraud"
	DebateProLegit DebateAgent = "pro_legit"
)

// Request is the immutable transaction submitted for analysis.
type Request struct {
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Country       string    `json:"country"`
	Channel       string    `json:"channel"`
	DeviceID      string    `json:"device_id"`
	Timestamp     time.Time `json:"timestamp"`
}

var (
	ErrTransactionIDRequired = errors.New("transaction_id is required")
	ErrCustomerIDRequired    = errors.New("customer_id is required")
	ErrNegativeAmount        = errors.New("amount must be >= 0")
	ErrCurrencyRequired      = errors.New("currency is required")
)

// Validate checks the request for correctness before submission.
func (r *Request) Validate() error {
	if r.TransactionID == "" {
		return ErrTransactionIDRequired
	}
	if r.CustomerID == "" {
		return ErrCustomerIDRequired
	}
	if r.Amount < 0 {
		return ErrNegativeAmount
	}
	if r.Currency == "" {
		return ErrCurrencyRequired
	}
	return nil
}

// Decision is the canonical decision shape. Legacy payloads carry a bare enum
// string; normalization always widens it to this struct, with Confidence nil
// when the source did not provide one.
type Decision struct {
	Value          DecisionValue `json:"value"`
	Confidence     *float64      `json:"confidence"`
	ChainOfThought string        `json:"chain_of_thought"`
}

// LastDecision is the human override recorded when a reviewer resolves an
// escalated transaction.
type LastDecision struct {
	Value         DecisionValue `json:"value"`
	DecidedBy     string        `json:"decided_by"`
	ReviewerNotes string        `json:"reviewer_notes"`
	ReviewedAt    time.Time     `json:"reviewed_at"`
}

// AnomalySignal is a single named detector output. The set of signal names is
// pipeline-defined and open-ended.
type AnomalySignal struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// BehavioralAnalysis summarizes deviation from the customer's usual behavior.
type BehavioralAnalysis struct {
	PatternDeviation string  `json:"pattern_deviation"`
	DeviationScore   float64 `json:"deviation_score"`
}

// PolicyEvidence is an internal policy fragment retrieved in support of the
// decision.
type PolicyEvidence struct {
	PolicyID        string  `json:"policy_id"`
	Rule            string  `json:"rule"`
	Version         string  `json:"version"`
	SimilarityScore float64 `json:"similarity_score"`
}

// ThreatEvidence is external threat intelligence attached to the decision.
type ThreatEvidence struct {
	FraudType string `json:"fraud_type"`
	Summary   string `json:"summary"`
	URL       string `json:"url"`
}

// DebateEntry is one argument in the recorded deliberation, ordered by round.
type DebateEntry struct {
	Agent    DebateAgent `json:"agent"`
	Round    int         `json:"round"`
	Argument string      `json:"argument"`
}

// AuditEntry records one agent's execution during analysis. Fields beyond the
// identification trio are agent-specific and optional; entries without an
// agent name are invalid and dropped at the normalization boundary.
type AuditEntry struct {
	AgentName       string        `json:"agent_name"`
	Status          string        `json:"status,omitempty"`
	ExecutionTime   time.Time     `json:"execution_time,omitzero"`
	DurationSeconds float64       `json:"duration_seconds,omitempty"`
	AnomalyScore    *float64      `json:"anomaly_score,omitempty"`
	DeviationScore  *float64      `json:"deviation_score,omitempty"`
	SearchQuery     string        `json:"search_query,omitempty"`
	Rounds          int           `json:"rounds,omitempty"`
	Decision        DecisionValue `json:"decision,omitempty"`
	Explanations    bool          `json:"explanations_generated,omitempty"`
	ReviewerNotes   string        `json:"reviewer_notes,omitempty"`
}

// AnomalySignals is a name-keyed mapping that preserves the insertion order
// of the source payload for display.
type AnomalySignals struct {
	keys   []string
	values map[string]AnomalySignal
}

// Set adds or replaces a signal, recording insertion order for new names.
func (s *AnomalySignals) Set(name string, sig AnomalySignal) {
	if s.values == nil {
		s.values = make(map[string]AnomalySignal)
	}
	if _, ok := s.values[name]; !ok {
		s.keys = append(s.keys, name)
	}
	s.values[name] = sig
}

// Get returns the signal for name.
func (s *AnomalySignals) Get(name string) (AnomalySignal, bool) {
	sig, ok := s.values[name]
	return sig, ok
}

// Names returns signal names in source insertion order.
func (s *AnomalySignals) Names() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len returns the number of signals.
func (s *AnomalySignals) Len() int { return len(s.keys) }

// Record is the aggregate decision record for one analyzed transaction.
// TransactionID is the sole join key across the queue, history and detail
// views and is never mutated.
type Record struct {
	TransactionID      string             `json:"transaction_id"`
	Request            Request            `json:"transaction_request"`
	Decision           Decision           `json:"decision"`
	Signals            []string           `json:"signals"`
	AnomalySignals     AnomalySignals     `json:"anomaly_signals"`
	BehavioralAnalysis BehavioralAnalysis `json:"behavioral_analysis"`
	RAGEvidence        []PolicyEvidence   `json:"rag_evidence"`
	SearchEvidence     []ThreatEvidence   `json:"search_evidence"`
	Debate             []DebateEntry      `json:"debate"`
	AgentAudit         []AuditEntry       `json:"agent_audit"`
	Explanations       string             `json:"explanations"`
	NeedHumanReview    bool               `json:"need_human_review"`
	ReviewedByHuman    bool               `json:"reviewed_by_human"`
	LastDecision       *LastDecision      `json:"last_decision,omitempty"`
	SavedAt            time.Time          `json:"saved_at,omitzero"`
}

// CheckInvariants verifies the record-level consistency rules: a human review
// is recorded iff its decision is present, and confidence stays in [0,1].
func (r *Record) CheckInvariants() error {
	if r.ReviewedByHuman != (r.LastDecision != nil) {
		return fmt.Errorf("reviewed_by_human=%v but last_decision presence=%v",
			r.ReviewedByHuman, r.LastDecision != nil)
	}
	if c := r.Decision.Confidence; c != nil && (*c < 0 || *c > 1) {
		return fmt.Errorf("decision.confidence %v outside [0,1]", *c)
	}
	return nil
}
