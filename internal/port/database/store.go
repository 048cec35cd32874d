// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/fraudlens/fraudlens/internal/domain/transaction"
)

// Store is the port interface for transaction persistence and the HITL
// pending queue.
type Store interface {
	// Transactions
	SaveTransaction(ctx context.Context, rec *transaction.Record) error
	GetTransaction(ctx context.Context, transactionID string) (*transaction.Record, error)
	ListTransactions(ctx context.Context, limit int) ([]*transaction.Record, error)

	// HITL queue
	EnqueueForReview(ctx context.Context, transactionID string) error
	PendingReviews(ctx context.Context) ([]string, error)
	QueueLength(ctx context.Context) (int, error)
	InReviewQueue(ctx context.Context, transactionID string) (bool, error)

	// ApplyReview records the human decision, appends the review audit
	// entry and removes the transaction from the queue in one transaction.
	// A transaction not in the queue yields domain.ErrNotFound; one already
	// reviewed yields domain.ErrConflict.
	ApplyReview(ctx context.Context, transactionID string, last transaction.LastDecision) (*transaction.Record, error)
}
