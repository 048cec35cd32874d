// Package analyzer implements a deterministic rule-based reference analyzer
// for the analysis port. It scores a transaction against the customer's
// usual behavior (amount, hour window, device, country) and derives the
// decision from the number of anomalous dimensions. The production pipeline
// sits behind the same port; this implementation exists so the service runs
// end to end without it.
package analyzer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fraudlens/fraudlens/internal/domain/transaction"
)

// amountThreshold is the multiple of the usual average amount above which
// the amount dimension is anomalous.
const amountThreshold = 2.0

// UsualBehavior is the customer's historical profile.
type UsualBehavior struct {
	CustomerID     string
	UsualAmountAvg float64
	UsualHours     string // "08-20"
	UsualCountries string // comma-separated ISO codes
	UsualDevices   string // comma-separated device ids
}

// BehaviorSource resolves a customer's usual behavior profile.
type BehaviorSource interface {
	Lookup(ctx context.Context, customerID string) (*UsualBehavior, error)
}

// StaticBehaviors is a BehaviorSource over a fixed in-memory profile set.
type StaticBehaviors map[string]UsualBehavior

// Lookup returns the profile for customerID, or nil when unknown.
func (s StaticBehaviors) Lookup(_ context.Context, customerID string) (*UsualBehavior, error) {
	b, ok := s[customerID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// Rules is the rule-based analyzer.
type Rules struct {
	behaviors BehaviorSource
	now       func() time.Time
}

// New creates a rule-based analyzer over the given behavior source.
func New(behaviors BehaviorSource) *Rules {
	return &Rules{behaviors: behaviors, now: time.Now}
}

// Analyze scores the transaction and assembles the full decision record.
func (r *Rules) Analyze(ctx context.Context, req transaction.Request) (*transaction.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	behavior, err := r.behaviors.Lookup(ctx, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("lookup behavior for %s: %w", req.CustomerID, err)
	}

	started := r.now().UTC()

	rec := &transaction.Record{
		TransactionID: req.TransactionID,
		Request:       req,
	}

	// Signal order is fixed so the detail view is stable across runs.
	checks := []struct {
		name string
		sig  transaction.AnomalySignal
	}{
		{"amount_anomaly", checkAmount(req, behavior)},
		{"time_anomaly", checkTime(req, behavior)},
		{"device_anomaly", checkDevice(req, behavior)},
		{"country_anomaly", checkCountry(req, behavior)},
	}

	anomalies := 0
	maxScore := 0.0
	for _, c := range checks {
		rec.AnomalySignals.Set(c.name, c.sig)
		if c.sig.IsAnomaly {
			anomalies++
			rec.Signals = append(rec.Signals, strings.TrimSuffix(c.name, "_anomaly")+" unusual")
		}
		if c.sig.Score > maxScore {
			maxScore = c.sig.Score
		}
	}
	if rec.Signals == nil {
		rec.Signals = []string{}
	}

	rec.BehavioralAnalysis = transaction.BehavioralAnalysis{
		PatternDeviation: deviationSummary(anomalies),
		DeviationScore:   maxScore,
	}

	// Distance from the two-anomaly neutral point, as the upstream
	// composite-risk formula defines it.
	confidence := float64(abs(anomalies-2)) / 2.0
	value := decisionFor(anomalies)

	rec.Decision = transaction.Decision{
		Value:          value,
		Confidence:     &confidence,
		ChainOfThought: chainOfThought(anomalies, rec.Signals),
	}
	rec.NeedHumanReview = value == transaction.DecisionEscalateToHuman
	rec.Debate = debateFor(anomalies, rec.Signals)
	rec.RAGEvidence = []transaction.PolicyEvidence{}
	rec.SearchEvidence = []transaction.ThreatEvidence{}
	rec.Explanations = explanationFor(value, anomalies, rec.Signals)

	anomalyScore := confidence
	deviation := maxScore
	rec.AgentAudit = []transaction.AuditEntry{
		{
			AgentName:     "transaction_context_agent",
			Status:        "completed",
			ExecutionTime: started,
			AnomalyScore:  &anomalyScore,
		},
		{
			AgentName:      "behavioral_agent",
			Status:         "completed",
			ExecutionTime:  started,
			DeviationScore: &deviation,
		},
		{
			AgentName:     "debate_agents",
			Status:        "completed",
			ExecutionTime: started,
			Rounds:        len(rec.Debate) / 2,
		},
		{
			AgentName:     "decision_arbiter",
			Status:        "completed",
			ExecutionTime: started,
			Decision:      value,
		},
		{
			AgentName:     "explainability_agent",
			Status:        "completed",
			ExecutionTime: started,
			Explanations:  true,
		},
	}

	return rec, nil
}

func checkAmount(req transaction.Request, b *UsualBehavior) transaction.AnomalySignal {
	if b == nil || b.UsualAmountAvg <= 0 {
		return transaction.AnomalySignal{Reason: "no behavior data available"}
	}
	ratio := req.Amount / b.UsualAmountAvg
	if ratio > amountThreshold {
		return transaction.AnomalySignal{
			IsAnomaly: true,
			Score:     min(ratio/amountThreshold*0.95, 1.0),
			Reason:    fmt.Sprintf("amount is %.1fx the usual average", ratio),
		}
	}
	return transaction.AnomalySignal{
		Score:  ratio / amountThreshold * 0.3,
		Reason: fmt.Sprintf("amount within normal range (%.1fx average)", ratio),
	}
}

func checkTime(req transaction.Request, b *UsualBehavior) transaction.AnomalySignal {
	if b == nil {
		return transaction.AnomalySignal{Reason: "no behavior data available"}
	}
	start, end, err := parseHourRange(b.UsualHours)
	if err != nil {
		return transaction.AnomalySignal{Reason: fmt.Sprintf("invalid hours format: %v", err)}
	}
	hour := req.Timestamp.Hour()
	if start <= hour && hour <= end {
		return transaction.AnomalySignal{
			Score:  0.1,
			Reason: fmt.Sprintf("transaction at %02d:00 is within usual hours", hour),
		}
	}
	return transaction.AnomalySignal{
		IsAnomaly: true,
		Score:     0.85,
		Reason:    fmt.Sprintf("transaction at %02d:00 is outside %02d:00-%02d:00", hour, start, end),
	}
}

func checkDevice(req transaction.Request, b *UsualBehavior) transaction.AnomalySignal {
	if b == nil {
		return transaction.AnomalySignal{Reason: "no behavior data available"}
	}
	if containsField(b.UsualDevices, req.DeviceID) {
		return transaction.AnomalySignal{
			Score:  0.05,
			Reason: fmt.Sprintf("device %s is known and trusted", req.DeviceID),
		}
	}
	return transaction.AnomalySignal{
		IsAnomaly: true,
		Score:     0.85,
		Reason:    fmt.Sprintf("device %s is new or unknown", req.DeviceID),
	}
}

func checkCountry(req transaction.Request, b *UsualBehavior) transaction.AnomalySignal {
	if b == nil {
		return transaction.AnomalySignal{Reason: "no behavior data available"}
	}
	if containsField(b.UsualCountries, req.Country) {
		return transaction.AnomalySignal{
			Score:  0.05,
			Reason: fmt.Sprintf("country %s is among usual countries", req.Country),
		}
	}
	return transaction.AnomalySignal{
		IsAnomaly: true,
		Score:     0.75,
		Reason:    fmt.Sprintf("country %s is unusual", req.Country),
	}
}

func decisionFor(anomalies int) transaction.DecisionValue {
	switch {
	case anomalies == 0:
		return transaction.DecisionApprove
	case anomalies == 1:
		return transaction.DecisionChallenge
	case anomalies == 2:
		return transaction.DecisionEscalateToHuman
	default:
		return transaction.DecisionBlock
	}
}

func deviationSummary(anomalies int) string {
	switch {
	case anomalies == 0:
		return "consistent with historical pattern"
	case anomalies < 3:
		return "partially deviates from historical pattern"
	default:
		return "strongly deviates from historical pattern"
	}
}

func chainOfThought(anomalies int, signals []string) string {
	if anomalies == 0 {
		return "All monitored dimensions match the customer's usual behavior."
	}
	return fmt.Sprintf("%d of 4 dimensions deviate from the usual pattern: %s.",
		anomalies, strings.Join(signals, ", "))
}

func debateFor(anomalies int, signals []string) []transaction.DebateEntry {
	fraudArg := "No deviation detected; nothing supports a fraud hypothesis."
	if anomalies > 0 {
		fraudArg = fmt.Sprintf("Deviations (%s) are consistent with account takeover.",
			strings.Join(signals, ", "))
	}
	legitArg := "The transaction matches the customer's established profile."
	if anomalies > 0 {
		legitArg = fmt.Sprintf("%d deviation(s) alone are weak evidence; legitimate travel or a new device explains them.", anomalies)
	}
	return []transaction.DebateEntry{
		{Agent: transaction.DebateProFraud, Round: 1, Argument: fraudArg},
		{Agent: transaction.DebateProLegit, Round: 1, Argument: legitArg},
	}
}

func explanationFor(value transaction.DecisionValue, anomalies int, signals []string) string {
	base := fmt.Sprintf("Decision %s: %d of 4 behavioral dimensions flagged", value, anomalies)
	if len(signals) == 0 {
		return base + "."
	}
	return base + " (" + strings.Join(signals, ", ") + ")."
}

func parseHourRange(s string) (start, end int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH-HH, got %q", s)
	}
	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func containsField(csv, want string) bool {
	for _, f := range strings.Split(csv, ",") {
		if strings.TrimSpace(f) == want {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
