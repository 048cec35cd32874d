// Package hitl implements the review lifecycle for a single escalated
// transaction: the state machine a review surface drives, independent of any
// UI framework, so the at-most-one-in-flight guarantee holds even under
// programmatic misuse.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fraudlens/fraudlens/internal/domain/transaction"
)

// State is the lifecycle state of one review workflow instance.
type State string

const (
	StateUnreviewed     State = "unreviewed"
	StateConfirmPending State = "confirm_pending"
	StateSubmitting     State = "submitting"
	StateReviewed       State = "reviewed"
)

var (
	// ErrInvalidReviewDecision means a caller tried to submit a decision a
	// human reviewer is not allowed to make. This is a programming-contract
	// violation, not a network failure.
	ErrInvalidReviewDecision = errors.New("reviewer decision must be APPROVE or BLOCK")

	// ErrSubmissionInFlight means a confirmation arrived while a previous
	// submission for the same transaction was still outstanding.
	ErrSubmissionInFlight = errors.New("review submission already in flight")

	// ErrAlreadyReviewed means the workflow instance reached its terminal
	// state and cannot accept further transitions.
	ErrAlreadyReviewed = errors.New("transaction already reviewed")

	// ErrNoPendingDecision means Confirm was called without a prior Choose.
	ErrNoPendingDecision = errors.New("no decision pending confirmation")
)

// Submitter delivers a confirmed review to the pipeline service. It is the
// write half of the query client; the machine never retries it.
type Submitter interface {
	SubmitReview(ctx context.Context, transactionID string, decision transaction.DecisionValue, notes string) error
}

// Machine governs the review lifecycle of a single transaction:
// Unreviewed -> ConfirmPending -> Submitting -> Reviewed, falling back to
// Unreviewed when submission fails so the reviewer can retry without
// retyping. All methods are safe for concurrent use.
type Machine struct {
	mu            sync.Mutex
	transactionID string
	state         State
	decision      transaction.DecisionValue
	notes         string
	submitter     Submitter
}

// NewMachine creates a review machine for the given pending transaction.
func NewMachine(transactionID string, submitter Submitter) *Machine {
	return &Machine{
		transactionID: transactionID,
		state:         StateUnreviewed,
		submitter:     submitter,
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TransactionID returns the transaction this machine governs.
func (m *Machine) TransactionID() string { return m.transactionID }

// Decision returns the currently chosen decision, if any.
func (m *Machine) Decision() transaction.DecisionValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decision
}

// Notes returns the accumulated reviewer notes.
func (m *Machine) Notes() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notes
}

// SetNotes replaces the reviewer notes. Notes survive a failed submission and
// a cancelled confirmation; they are only consumed by a successful review.
func (m *Machine) SetNotes(notes string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = notes
}

// Choose moves Unreviewed -> ConfirmPending with the reviewer's decision.
// No side effect occurs; the network is not contacted until Confirm.
func (m *Machine) Choose(decision transaction.DecisionValue) error {
	if !decision.ReviewerDecision() {
		return fmt.Errorf("%w: got %q", ErrInvalidReviewDecision, decision)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateReviewed:
		return ErrAlreadyReviewed
	case StateSubmitting:
		return ErrSubmissionInFlight
	}
	m.decision = decision
	m.state = StateConfirmPending
	return nil
}

// Cancel moves ConfirmPending -> Unreviewed without side effects. The chosen
// decision and notes are preserved.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConfirmPending {
		return fmt.Errorf("cancel: invalid in state %q", m.state)
	}
	m.state = StateUnreviewed
	return nil
}

// Confirm moves ConfirmPending -> Submitting, invokes the submitter, and on
// success reaches Reviewed. On failure the machine rolls back to Unreviewed
// with decision and notes intact and returns the submitter's error. A second
// Confirm while one is outstanding is rejected with ErrSubmissionInFlight.
func (m *Machine) Confirm(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateSubmitting:
		m.mu.Unlock()
		return ErrSubmissionInFlight
	case StateReviewed:
		m.mu.Unlock()
		return ErrAlreadyReviewed
	case StateUnreviewed:
		m.mu.Unlock()
		return ErrNoPendingDecision
	}
	decision, notes := m.decision, m.notes
	m.state = StateSubmitting
	m.mu.Unlock()

	// The single suspend point of the workflow.
	err := m.submitter.SubmitReview(ctx, m.transactionID, decision, notes)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateUnreviewed
		return fmt.Errorf("submit review %s: %w", m.transactionID, err)
	}
	m.state = StateReviewed
	return nil
}
