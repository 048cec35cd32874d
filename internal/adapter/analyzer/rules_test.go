package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/fraudlens/fraudlens/internal/domain/transaction"
)

func testBehaviors() StaticBehaviors {
	return StaticBehaviors{
		"cus_001": {
			CustomerID:     "cus_001",
			UsualAmountAvg: 100,
			UsualHours:     "08-20",
			UsualCountries: "AR, UY",
			UsualDevices:   "dev_abc, dev_def",
		},
	}
}

func baseRequest() transaction.Request {
	return transaction.Request{
		TransactionID: "txn_rules_1",
		CustomerID:    "cus_001",
		Amount:        120,
		Currency:      "ARS",
		Country:       "AR",
		Channel:       "web",
		DeviceID:      "dev_abc",
		Timestamp:     time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeNoAnomalies(t *testing.T) {
	a := New(testBehaviors())
	rec, err := a.Analyze(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.Decision.Value != transaction.DecisionApprove {
		t.Fatalf("decision = %s, want APPROVE", rec.Decision.Value)
	}
	if rec.NeedHumanReview {
		t.Fatal("need_human_review should be false")
	}
	if got := rec.AnomalySignals.Names(); len(got) != 4 {
		t.Fatalf("signals = %v, want 4 entries", got)
	}
	if err := rec.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestAnalyzeSignalOrderIsStable(t *testing.T) {
	a := New(testBehaviors())
	rec, err := a.Analyze(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := []string{"amount_anomaly", "time_anomaly", "device_anomaly", "country_anomaly"}
	got := rec.AnomalySignals.Names()
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("signal order = %v, want %v", got, want)
		}
	}
}

func TestAnalyzeEscalatesOnTwoAnomalies(t *testing.T) {
	a := New(testBehaviors())
	req := baseRequest()
	req.Country = "RU"
	req.DeviceID = "dev_unknown"

	rec, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.Decision.Value != transaction.DecisionEscalateToHuman {
		t.Fatalf("decision = %s, want ESCALATE_TO_HUMAN", rec.Decision.Value)
	}
	if !rec.NeedHumanReview {
		t.Fatal("need_human_review should be true")
	}
	if c := rec.Decision.Confidence; c == nil || *c != 0 {
		t.Fatalf("confidence = %v, want 0 at the neutral point", c)
	}
}

func TestAnalyzeBlocksOnHeavyDeviation(t *testing.T) {
	a := New(testBehaviors())
	req := baseRequest()
	req.Amount = 5000
	req.Country = "RU"
	req.DeviceID = "dev_unknown"
	req.Timestamp = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	rec, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.Decision.Value != transaction.DecisionBlock {
		t.Fatalf("decision = %s, want BLOCK", rec.Decision.Value)
	}
	if len(rec.Signals) != 4 {
		t.Fatalf("signals = %v, want all four dimensions flagged", rec.Signals)
	}
	if c := rec.Decision.Confidence; c == nil || *c != 1 {
		t.Fatalf("confidence = %v, want 1 at full deviation", c)
	}
}

func TestAnalyzeAmountScoreCapped(t *testing.T) {
	a := New(testBehaviors())
	req := baseRequest()
	req.Amount = 100000

	rec, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	sig, ok := rec.AnomalySignals.Get("amount_anomaly")
	if !ok {
		t.Fatal("amount_anomaly signal missing")
	}
	if !sig.IsAnomaly || sig.Score != 1.0 {
		t.Fatalf("amount signal = %+v, want anomaly with score capped at 1.0", sig)
	}
}

func TestAnalyzeUnknownCustomer(t *testing.T) {
	a := New(testBehaviors())
	req := baseRequest()
	req.CustomerID = "cus_unknown"

	rec, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// Without a profile no dimension can be anomalous, so the record approves.
	if rec.Decision.Value != transaction.DecisionApprove {
		t.Fatalf("decision = %s, want APPROVE", rec.Decision.Value)
	}
	sig, _ := rec.AnomalySignals.Get("amount_anomaly")
	if sig.IsAnomaly || sig.Score != 0 {
		t.Fatalf("amount signal = %+v, want neutral", sig)
	}
}

func TestAnalyzeRejectsInvalidRequest(t *testing.T) {
	a := New(testBehaviors())
	req := baseRequest()
	req.TransactionID = ""

	if _, err := a.Analyze(context.Background(), req); err == nil {
		t.Fatal("expected validation error")
	}
}
