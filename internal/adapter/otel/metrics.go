package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fraudlens"

// Metrics holds all fraudlens metric instruments.
type Metrics struct {
	TransactionsAnalyzed  metric.Int64Counter
	TransactionsEscalated metric.Int64Counter
	ReviewsSubmitted      metric.Int64Counter
	ReviewsRejected       metric.Int64Counter
	AnalysisDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TransactionsAnalyzed, err = meter.Int64Counter("fraudlens.transactions.analyzed",
		metric.WithDescription("Number of transactions analyzed"))
	if err != nil {
		return nil, err
	}

	m.TransactionsEscalated, err = meter.Int64Counter("fraudlens.transactions.escalated",
		metric.WithDescription("Number of transactions escalated to human review"))
	if err != nil {
		return nil, err
	}

	m.ReviewsSubmitted, err = meter.Int64Counter("fraudlens.reviews.submitted",
		metric.WithDescription("Number of human reviews applied"))
	if err != nil {
		return nil, err
	}

	m.ReviewsRejected, err = meter.Int64Counter("fraudlens.reviews.rejected",
		metric.WithDescription("Number of review submissions rejected"))
	if err != nil {
		return nil, err
	}

	m.AnalysisDuration, err = meter.Float64Histogram("fraudlens.analysis.duration_seconds",
		metric.WithDescription("Analysis duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
