// Package view derives display projections from normalized decision records.
// Everything here is a pure function of its input; no state is held.
package view

import "github.com/fraudlens/fraudlens/internal/domain/transaction"

// Badge is the icon/color pair a list row shows for a decision.
type Badge struct {
	Icon  string
	Color string
}

// DecisionBadge maps a decision value to its badge. Unknown or absent
// decisions get the neutral badge.
func DecisionBadge(v transaction.DecisionValue) Badge {
	switch v {
	case transaction.DecisionApprove:
		return Badge{Icon: "check-circle", Color: "green"}
	case transaction.DecisionBlock:
		return Badge{Icon: "x-circle", Color: "red"}
	case transaction.DecisionChallenge:
		return Badge{Icon: "alert-circle", Color: "yellow"}
	case transaction.DecisionEscalateToHuman:
		return Badge{Icon: "alert-circle", Color: "blue"}
	default:
		return Badge{Icon: "circle", Color: "gray"}
	}
}

// ReviewStatus is the per-row human-review column value.
type ReviewStatus string

const (
	ReviewStatusReviewed      ReviewStatus = "Reviewed"
	ReviewStatusPending       ReviewStatus = "Pending"
	ReviewStatusNotApplicable ReviewStatus = "N/A"
)

// RecordReviewStatus derives the review column from the record's flags.
// Reviewed wins over Pending when both flags are set (a record mid-transition).
func RecordReviewStatus(rec *transaction.Record) ReviewStatus {
	switch {
	case rec.ReviewedByHuman:
		return ReviewStatusReviewed
	case rec.NeedHumanReview:
		return ReviewStatusPending
	default:
		return ReviewStatusNotApplicable
	}
}

// FinalDecision returns the decision a list row should display: the human
// override when one exists, otherwise the pipeline decision.
func FinalDecision(rec *transaction.Record) transaction.DecisionValue {
	if rec.ReviewedByHuman && rec.LastDecision != nil {
		return rec.LastDecision.Value
	}
	return rec.Decision.Value
}

// QueueStats is the summary block at the top of the pending-review screen.
type QueueStats struct {
	QueueLength    int
	PendingCount   int
	EscalationRate int // percent
}

// SummarizeQueue derives the queue summary. The escalation rate reproduces
// the upstream display heuristic (100 when the queue is non-empty, else 0);
// it is not a computed reviewed/escalated ratio.
func SummarizeQueue(queueLength int, pending []string) QueueStats {
	rate := 0
	if queueLength > 0 {
		rate = 100
	}
	return QueueStats{
		QueueLength:    queueLength,
		PendingCount:   len(pending),
		EscalationRate: rate,
	}
}
