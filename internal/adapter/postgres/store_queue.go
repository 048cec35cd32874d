package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
)

// EnqueueForReview adds a transaction to the HITL pending queue. Re-queueing
// a transaction already present is a no-op.
func (s *Store) EnqueueForReview(ctx context.Context, transactionID string) error {
	const q = `INSERT INTO hitl_queue (transaction_id) VALUES ($1)
		ON CONFLICT (transaction_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, transactionID)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", transactionID, err)
	}
	return nil
}

// PendingReviews returns the ids awaiting review, oldest first.
func (s *Store) PendingReviews(ctx context.Context) ([]string, error) {
	const q = `SELECT transaction_id FROM hitl_queue ORDER BY enqueued_at`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pending reviews: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// QueueLength returns the number of transactions awaiting review.
func (s *Store) QueueLength(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM hitl_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// InReviewQueue reports whether the transaction is awaiting review.
func (s *Store) InReviewQueue(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM hitl_queue WHERE transaction_id = $1)`,
		transactionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("queue membership %s: %w", transactionID, err)
	}
	return exists, nil
}

// ApplyReview records the human decision for a pending transaction: it
// writes last_decision, flips reviewed_by_human, appends the human_review
// audit entry, and removes the queue row inside one transaction so a partial
// failure cannot leave the record and the queue disagreeing. A second review
// of the same id fails with domain.ErrConflict.
func (s *Store) ApplyReview(ctx context.Context, transactionID string, last transaction.LastDecision) (*transaction.Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin review tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var body []byte
	var reviewed bool
	err = tx.QueryRow(ctx,
		`SELECT record, reviewed_by_human FROM transactions WHERE transaction_id = $1 FOR UPDATE`,
		transactionID,
	).Scan(&body, &reviewed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock transaction %s: %w", transactionID, err)
	}
	if reviewed {
		return nil, fmt.Errorf("transaction %s already reviewed: %w", transactionID, domain.ErrConflict)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM hitl_queue WHERE transaction_id = $1`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", transactionID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("transaction %s not in review queue: %w", transactionID, domain.ErrNotFound)
	}

	rec, err := decodeRecord(body, transactionID)
	if err != nil {
		return nil, err
	}

	if last.ReviewedAt.IsZero() {
		last.ReviewedAt = time.Now().UTC()
	}
	rec.LastDecision = &last
	rec.ReviewedByHuman = true
	rec.AgentAudit = append(rec.AgentAudit, transaction.AuditEntry{
		AgentName:     "human_review",
		Status:        "completed",
		ExecutionTime: last.ReviewedAt,
		Decision:      last.Value,
		ReviewerNotes: last.ReviewerNotes,
	})

	updated, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal reviewed record %s: %w", transactionID, err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE transactions SET record = $2, reviewed_by_human = TRUE, updated_at = now()
		 WHERE transaction_id = $1`,
		transactionID, updated,
	)
	if err != nil {
		return nil, fmt.Errorf("update reviewed record %s: %w", transactionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit review %s: %w", transactionID, err)
	}
	return rec, nil
}
