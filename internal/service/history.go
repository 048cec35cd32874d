package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraudlens/fraudlens/internal/domain/transaction"
	"github.com/fraudlens/fraudlens/internal/port/cache"
	"github.com/fraudlens/fraudlens/internal/port/database"
)

// HistoryService serves historical decision records, with a read-through
// cache in front of the store for single-record lookups.
type HistoryService struct {
	store    database.Store
	cache    cache.Cache
	cacheTTL time.Duration
	log      *slog.Logger
}

// NewHistoryService creates a HistoryService. cache may be nil, in which
// case every lookup goes to the store.
func NewHistoryService(store database.Store, c cache.Cache, ttl time.Duration, log *slog.Logger) *HistoryService {
	return &HistoryService{
		store:    store,
		cache:    c,
		cacheTTL: ttl,
		log:      log,
	}
}

// Get returns the decision record for a transaction, regardless of review
// state.
func (s *HistoryService) Get(ctx context.Context, transactionID string) (*transaction.Record, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, transactionID); err == nil && ok {
			var rec transaction.Record
			if err := json.Unmarshal(data, &rec); err == nil {
				return &rec, nil
			}
			// Corrupt entry; fall through to the store.
			_ = s.cache.Delete(ctx, transactionID)
		}
	}

	rec, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", transactionID, err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(rec); err == nil {
			if err := s.cache.Set(ctx, transactionID, data, s.cacheTTL); err != nil {
				s.log.Warn("cache record", "transaction_id", transactionID, "error", err)
			}
		}
	}
	return rec, nil
}

// List returns the most recent decision records, newest first. A limit of
// zero or less applies the store default.
func (s *HistoryService) List(ctx context.Context, limit int) ([]*transaction.Record, error) {
	recs, err := s.store.ListTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return recs, nil
}
