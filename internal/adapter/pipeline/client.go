// Package pipeline provides the typed HTTP client for the fraud-analysis
// pipeline service: the four read operations, analysis submission, and the
// HITL review write.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fraudlens/fraudlens/internal/domain/hitl"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
	"github.com/fraudlens/fraudlens/internal/resilience"
)

// Sentinel errors for the client's failure taxonomy. Transport failures wrap
// ErrNetwork; application-level non-success responses wrap the operation's
// sentinel with the service's message attached. Nothing here retries.
var (
	ErrNetwork        = errors.New("network failure")
	ErrAnalysisFailed = errors.New("analysis failed")
	ErrQueryFailed    = errors.New("query failed")
	ErrReviewRejected = errors.New("review rejected")
	ErrNotFound       = errors.New("transaction not found")
)

// Config carries the explicit client configuration. No ambient globals: the
// base URL and timeout are threaded in at construction.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the pipeline/persistence HTTP boundary.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a pipeline client from an explicit Config.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// envelope is the response wrapper every endpoint shares. A status other
// than "success" is an application-level failure even on HTTP 200.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// PendingQueue is the result of ListPendingReviews.
type PendingQueue struct {
	QueueLength         int      `json:"queue_length"`
	PendingTransactions []string `json:"pending_transactions"`
}

// SubmitForAnalysis sends a transaction through the pipeline and returns the
// normalized analysis result.
func (c *Client) SubmitForAnalysis(ctx context.Context, req transaction.Request) (*transaction.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("submit for analysis: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction request: %w", err)
	}

	_, data, err := c.doRequest(ctx, http.MethodPost, "/analize", body)
	if err != nil {
		return nil, fmt.Errorf("submit for analysis: %w", err)
	}

	// The analysis endpoint returns the result object directly on success
	// and the error envelope on failure.
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrAnalysisFailed, err)
	}
	if env.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrAnalysisFailed, env.Message)
	}

	rec, err := transaction.Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	return rec, nil
}

// ListPendingReviews returns the HITL queue snapshot.
func (c *Client) ListPendingReviews(ctx context.Context) (*PendingQueue, error) {
	_, data, err := c.doRequest(ctx, http.MethodGet, "/hitl/pending", nil)
	if err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}

	var resp struct {
		Status              string   `json:"status"`
		Message             string   `json:"message"`
		QueueLength         int      `json:"queue_length"`
		PendingTransactions []string `json:"pending_transactions"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrQueryFailed, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, resp.Message)
	}
	if resp.PendingTransactions == nil {
		resp.PendingTransactions = []string{}
	}
	return &PendingQueue{
		QueueLength:         resp.QueueLength,
		PendingTransactions: resp.PendingTransactions,
	}, nil
}

// FetchPendingRecord fetches one record from the pending queue. A
// transaction absent from the queue yields ErrNotFound.
func (c *Client) FetchPendingRecord(ctx context.Context, transactionID string) (*transaction.Record, error) {
	return c.fetchRecord(ctx, "/hitl/"+url.PathEscape(transactionID), transactionID)
}

// FetchHistoricalRecord fetches one record from transaction history,
// reviewed or not.
func (c *Client) FetchHistoricalRecord(ctx context.Context, transactionID string) (*transaction.Record, error) {
	return c.fetchRecord(ctx, "/transaction/"+url.PathEscape(transactionID), transactionID)
}

func (c *Client) fetchRecord(ctx context.Context, path, transactionID string) (*transaction.Record, error) {
	status, data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch record %s: %w", transactionID, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrQueryFailed, err)
	}
	if env.Status != "success" {
		// Only a 404 means the transaction is absent; any other failing
		// envelope is a query fault and must not masquerade as missing data.
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s: %s", ErrNotFound, transactionID, env.Message)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrQueryFailed, transactionID, env.Message)
	}

	rec, err := transaction.Normalize(env.Data)
	if err != nil {
		return nil, fmt.Errorf("fetch record %s: %w", transactionID, err)
	}
	return rec, nil
}

// ListHistory returns the transaction history, most recent first. A limit
// <= 0 leaves the page size to the server.
func (c *Client) ListHistory(ctx context.Context, limit int) ([]*transaction.Record, error) {
	path := "/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	_, data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrQueryFailed, err)
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, env.Message)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, fmt.Errorf("%w: malformed history data: %v", ErrQueryFailed, err)
	}

	records := make([]*transaction.Record, 0, len(items))
	for i, item := range items {
		rec, err := transaction.Normalize(item)
		if err != nil {
			return nil, fmt.Errorf("list history [%d]: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// SubmitReview submits the human decision for a pending transaction and
// returns the updated record the service sends back. Only APPROVE and BLOCK
// are accepted from a reviewer; anything else is a contract violation caught
// before the network is touched.
func (c *Client) SubmitReview(ctx context.Context, transactionID string, decision transaction.DecisionValue, notes string) (*transaction.Record, error) {
	if !decision.ReviewerDecision() {
		return nil, fmt.Errorf("%w: got %q", hitl.ErrInvalidReviewDecision, decision)
	}

	body, err := json.Marshal(map[string]string{
		"decision":       string(decision),
		"reviewer_notes": notes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal review: %w", err)
	}

	_, data, err := c.doRequest(ctx, http.MethodPost, "/hitl/"+url.PathEscape(transactionID)+"/review", body)
	if err != nil {
		return nil, fmt.Errorf("submit review %s: %w", transactionID, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrReviewRejected, err)
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrReviewRejected, env.Message)
	}

	rec, err := transaction.Normalize(env.Data)
	if err != nil {
		return nil, fmt.Errorf("submit review %s: %w", transactionID, err)
	}
	return rec, nil
}

// doRequest performs one HTTP round trip and returns the status code and
// response body. Non-2xx responses still return the body when it parses as
// the error envelope, so callers can surface the service's message and pick
// a sentinel by status; a transport failure wraps ErrNetwork. There is no
// retry at this layer.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var status int
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %v", ErrNetwork, err)
		}

		if resp.StatusCode >= 400 && !looksLikeEnvelope(data) {
			return fmt.Errorf("%w: pipeline API error %d: %s", ErrNetwork, resp.StatusCode, string(data))
		}

		status = resp.StatusCode
		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return 0, nil, err
		}
		return status, result, nil
	}

	if err := call(); err != nil {
		return 0, nil, err
	}
	return status, result, nil
}

// looksLikeEnvelope reports whether an error response carries the JSON
// status envelope and should be handed to the caller as an application
// failure rather than a transport one.
func looksLikeEnvelope(data []byte) bool {
	var env envelope
	return json.Unmarshal(data, &env) == nil && env.Status != ""
}
