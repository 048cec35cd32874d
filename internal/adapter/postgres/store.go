package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
)

// Store implements the database port on top of a pgx connection pool. The
// full decision record lives in a JSONB column; the columns used for
// filtering and ordering are extracted at write time.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveTransaction inserts or replaces the decision record for a transaction.
func (s *Store) SaveTransaction(ctx context.Context, rec *transaction.Record) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.TransactionID, err)
	}

	const q = `INSERT INTO transactions
		(transaction_id, customer_id, record, need_human_review, reviewed_by_human, saved_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (transaction_id) DO UPDATE SET
			record = EXCLUDED.record,
			need_human_review = EXCLUDED.need_human_review,
			reviewed_by_human = EXCLUDED.reviewed_by_human,
			updated_at = EXCLUDED.updated_at`
	_, err = s.pool.Exec(ctx, q,
		rec.TransactionID, rec.Request.CustomerID, body,
		rec.NeedHumanReview, rec.ReviewedByHuman, rec.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", rec.TransactionID, err)
	}
	return nil
}

// GetTransaction retrieves one decision record by id.
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*transaction.Record, error) {
	const q = `SELECT record FROM transactions WHERE transaction_id = $1`

	var body []byte
	err := s.pool.QueryRow(ctx, q, transactionID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", transactionID, err)
	}
	return decodeRecord(body, transactionID)
}

// ListTransactions returns records most recent first. A limit <= 0 means
// the server default page size.
func (s *Store) ListTransactions(ctx context.Context, limit int) ([]*transaction.Record, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	const q = `SELECT record FROM transactions ORDER BY saved_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	records := []*transaction.Record{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(body, "")
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const defaultHistoryLimit = 50

func decodeRecord(body []byte, transactionID string) (*transaction.Record, error) {
	rec, err := transaction.Normalize(body)
	if err != nil {
		return nil, fmt.Errorf("decode stored record %s: %w", transactionID, err)
	}
	return rec, nil
}
