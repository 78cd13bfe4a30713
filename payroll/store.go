/*
store.go - Persistence interfaces for the payout engine

PURPOSE:
  Defines the boundary between the engine and the database. The Service
  only talks to these interfaces; SQLite and the in-memory store implement
  them.

KEY INTERFACES:
  PayeeStore:   Roster and compensation adjustments (read-only to runs)
  RunStore:     Schedule runs, payouts, validation issues
  AdvanceStore: Advances, planned allocations, realized repayments
  AdhocStore:   One-off payments
  TxStore:      All of the above plus WithTx for atomic multi-table writes

LOOKUPS:
  Get* methods return (nil, nil) when the record does not exist. The
  Service turns that into the matching Err*NotFound.

ORDERING CONTRACTS:
  ListPayees:    creation order
  ListPayouts:   (pay date, seq)
  ListAdvances:  creation order (FIFO)
  ListIssues:    (row, severity)

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - payroll/store/memory.go: In-memory for testing

SEE ALSO:
  - service.go: Uses TxStore for every write path
*/
package payroll

import (
	"context"
	"time"
)

// PayeeStore persists the roster.
type PayeeStore interface {
	ListPayees(ctx context.Context) ([]Payee, error)
	GetPayee(ctx context.Context, id string) (*Payee, error)
	GetPayeeByCode(ctx context.Context, code string) (*Payee, error)

	// SavePayee inserts or updates. Returns ErrDuplicateCode when another
	// payee holds the code (case-insensitive).
	SavePayee(ctx context.Context, p Payee) error
	DeletePayee(ctx context.Context, id string) error

	// SaveAdjustment upserts on (payee, effective date).
	SaveAdjustment(ctx context.Context, adj CompensationAdjustment) error
	DeleteAdjustment(ctx context.Context, id string) error
}

// RunStore persists schedule runs and their payouts and issues.
type RunStore interface {
	FindRun(ctx context.Context, year int, month time.Month) (*ScheduleRun, error)
	GetRun(ctx context.Context, id string) (*ScheduleRun, error)
	ListRuns(ctx context.Context) ([]ScheduleRun, error)

	// CreateRun returns ErrRunExists if the period already has a run.
	CreateRun(ctx context.Context, run ScheduleRun) error
	UpdateRun(ctx context.Context, run ScheduleRun) error

	// ClearRun deletes the run's allocations, payouts and issues.
	ClearRun(ctx context.Context, runID string) error
	DeleteRun(ctx context.Context, runID string) error

	InsertPayouts(ctx context.Context, payouts []Payout) error
	ListPayouts(ctx context.Context, runID string) ([]Payout, error)
	GetPayout(ctx context.Context, id string) (*Payout, error)

	// UpdatePayout writes amount, status and notes.
	UpdatePayout(ctx context.Context, p Payout) error

	InsertIssues(ctx context.Context, issues []ValidationIssue) error
	ListIssues(ctx context.Context, runID string) ([]ValidationIssue, error)
}

// AdvanceStore persists advances and their deductions.
type AdvanceStore interface {
	SaveAdvance(ctx context.Context, a Advance) error
	GetAdvance(ctx context.Context, id string) (*Advance, error)

	// ListAdvances filters by payee and status; empty values match all.
	ListAdvances(ctx context.Context, payeeID string, status AdvanceStatus) ([]Advance, error)
	DeleteAdvance(ctx context.Context, id string) error

	InsertAllocations(ctx context.Context, allocs []AdvanceAllocation) error
	ListAllocationsForPayout(ctx context.Context, payoutID string) ([]AdvanceAllocation, error)
	ListAllocationsForRun(ctx context.Context, runID string) ([]AdvanceAllocation, error)
	DeleteAllocation(ctx context.Context, id string) error
	DeleteAllocationsForAdvance(ctx context.Context, advanceID string) error

	InsertRepayment(ctx context.Context, r AdvanceRepayment) error
	ListRepayments(ctx context.Context, advanceID string) ([]AdvanceRepayment, error)
	ListRepaymentsForPayout(ctx context.Context, payoutID string) ([]AdvanceRepayment, error)
}

// AdhocStore persists one-off payments.
type AdhocStore interface {
	SaveAdhocPayment(ctx context.Context, p AdhocPayment) error
	GetAdhocPayment(ctx context.Context, id string) (*AdhocPayment, error)

	// ListAdhocPayments filters by payee (empty = all) and by pay date in
	// [from, to] when both are non-zero.
	ListAdhocPayments(ctx context.Context, payeeID string, from, to time.Time) ([]AdhocPayment, error)
	DeleteAdhocPayment(ctx context.Context, id string) error
}

// Store is everything the engine persists.
type Store interface {
	PayeeStore
	RunStore
	AdvanceStore
	AdhocStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
