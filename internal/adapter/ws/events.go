package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventQueueChanged        = "hitl.queue"
	EventTransactionReviewed = "transaction.reviewed"
)

// QueueChangedEvent is broadcast when the pending-review queue changes.
type QueueChangedEvent struct {
	TransactionID string `json:"transaction_id"`
	QueueLength   int    `json:"queue_length"`
}

// TransactionReviewedEvent is broadcast when a human resolves a transaction.
type TransactionReviewedEvent struct {
	TransactionID string `json:"transaction_id"`
	Decision      string `json:"decision"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
