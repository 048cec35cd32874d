// Package analyzer defines the port to the fraud-analysis pipeline. The
// pipeline's internals (agents, retrieval, scoring) are not modeled here;
// the service only depends on this boundary.
package analyzer

import (
	"context"

	"github.com/fraudlens/fraudlens/internal/domain/transaction"
)

// Analyzer produces a decision record for a submitted transaction.
type Analyzer interface {
	Analyze(ctx context.Context, req transaction.Request) (*transaction.Record, error)
}
