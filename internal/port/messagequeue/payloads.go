package messagequeue

// AnalyzedPayload is the schema for fraud.analyzed messages.
type AnalyzedPayload struct {
	TransactionID   string  `json:"transaction_id"`
	CustomerID      string  `json:"customer_id"`
	Decision        string  `json:"decision"`
	Confidence      float64 `json:"confidence"`
	NeedHumanReview bool    `json:"need_human_review"`
}

// EscalatedPayload is the schema for fraud.escalated messages.
type EscalatedPayload struct {
	TransactionID string `json:"transaction_id"`
	QueueLength   int    `json:"queue_length"`
}

// ReviewedPayload is the schema for fraud.reviewed messages.
type ReviewedPayload struct {
	TransactionID string `json:"transaction_id"`
	Decision      string `json:"decision"`
	ReviewerNotes string `json:"reviewer_notes"`
}
