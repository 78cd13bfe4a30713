/*
Package sqlite provides a SQLite-backed implementation of the payroll store.

PURPOSE:
  Implements payroll.TxStore using SQLite. Every query lives on `queries`,
  which runs against either the pool or an open *sql.Tx, so the same code
  serves direct calls and WithTx callbacks.

KEY TABLES:
  payees:                   Roster (code unique, case-insensitive)
  compensation_adjustments: Effective-dated monthly amounts
  schedule_runs:            One row per (year, month)
  payouts:                  Line items of a run
  validation_issues:        Per-run validation report
  advances:                 Cash advances with remaining balance
  advance_allocations:      Planned deductions (per run)
  advance_repayments:       Realized deductions (auto and manual)
  adhoc_payments:           One-off payments

CASCADES:
  Deleting a run removes its payouts, issues and allocations. Deleting a
  payee removes its adjustments, advances and ad-hoc payments and nulls the
  payee link on payouts and issues. advance_repayments.payout_id is a plain
  column: repayments outlive the payout rows a refresh recreates.

MONEY & DATES:
  Decimals are stored as TEXT (exact). Calendar dates as YYYY-MM-DD,
  timestamps as fixed-width UTC RFC3339 with nanoseconds.

CONCURRENCY:
  The pool is capped at one connection, so SQLite sees a single writer and
  ":memory:" databases are not split across connections. WithTx also holds
  a mutex for the life of the transaction.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := payroll.NewService(store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/payroll"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// Store implements payroll.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS payees (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL COLLATE NOCASE UNIQUE,
		real_name TEXT NOT NULL DEFAULT '',
		working_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL,
		base_monthly_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS compensation_adjustments (
		id TEXT PRIMARY KEY,
		payee_id TEXT NOT NULL REFERENCES payees(id) ON DELETE CASCADE,
		effective_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (payee_id, effective_date)
	);

	CREATE TABLE IF NOT EXISTS schedule_runs (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		currency TEXT NOT NULL,
		include_inactive INTEGER NOT NULL DEFAULT 0,
		models_paid INTEGER NOT NULL DEFAULT 0,
		total_payout TEXT NOT NULL DEFAULT '0',
		frequency_counts_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (year, month)
	);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES schedule_runs(id) ON DELETE CASCADE,
		payee_id TEXT REFERENCES payees(id) ON DELETE SET NULL,
		seq INTEGER NOT NULL,
		pay_date TEXT NOT NULL,
		code TEXT NOT NULL,
		real_name TEXT NOT NULL DEFAULT '',
		working_name TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL,
		gross TEXT NOT NULL,
		amount TEXT NOT NULL,
		rounding_adjusted INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'not_paid',
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_run_date
		ON payouts(run_id, pay_date, seq);

	CREATE TABLE IF NOT EXISTS validation_issues (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES schedule_runs(id) ON DELETE CASCADE,
		payee_id TEXT REFERENCES payees(id) ON DELETE SET NULL,
		row_number INTEGER NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_run
		ON validation_issues(run_id, row_number);

	CREATE TABLE IF NOT EXISTS advances (
		id TEXT PRIMARY KEY,
		payee_id TEXT NOT NULL REFERENCES payees(id) ON DELETE CASCADE,
		amount_total TEXT NOT NULL,
		amount_remaining TEXT NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT NOT NULL,
		fixed_amount TEXT,
		percent_rate TEXT,
		min_net_floor TEXT NOT NULL,
		max_per_run TEXT NOT NULL,
		cap_multiplier TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		activated_at TEXT
	);

	-- FIFO lookups of a payee's advances
	CREATE INDEX IF NOT EXISTS idx_advances_payee_status
		ON advances(payee_id, status, created_at);

	CREATE TABLE IF NOT EXISTS advance_allocations (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES schedule_runs(id) ON DELETE CASCADE,
		payout_id TEXT NOT NULL REFERENCES payouts(id) ON DELETE CASCADE,
		payee_id TEXT NOT NULL,
		advance_id TEXT NOT NULL REFERENCES advances(id) ON DELETE CASCADE,
		planned_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_payout
		ON advance_allocations(payout_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_run
		ON advance_allocations(run_id);

	CREATE TABLE IF NOT EXISTS advance_repayments (
		id TEXT PRIMARY KEY,
		advance_id TEXT NOT NULL REFERENCES advances(id) ON DELETE CASCADE,
		payout_id TEXT,
		amount TEXT NOT NULL,
		source TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	-- Realization idempotency check
	CREATE INDEX IF NOT EXISTS idx_repayments_payout
		ON advance_repayments(payout_id) WHERE payout_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS adhoc_payments (
		id TEXT PRIMARY KEY,
		payee_id TEXT NOT NULL REFERENCES payees(id) ON DELETE CASCADE,
		pay_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		notes TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'paid', 'cancelled')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adhoc_pay_date
		ON adhoc_payments(pay_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tables := []string{
		"advance_repayments", "advance_allocations", "validation_issues", "payouts",
		"schedule_runs", "adhoc_payments", "advances", "compensation_adjustments", "payees",
	}
	for _, t := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("reset %s: %w", t, err)
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// PAYEES
// =============================================================================

const payeeColumns = `id, code, real_name, working_name, status, start_date,
	payment_method, frequency, base_monthly_amount, created_at`

func (q *queries) ListPayees(ctx context.Context) ([]payroll.Payee, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+payeeColumns+" FROM payees ORDER BY created_at, rowid")
	if err != nil {
		return nil, err
	}
	var payees []payroll.Payee
	for rows.Next() {
		p, err := scanPayee(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		payees = append(payees, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	adjustments, err := q.listAdjustments(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range payees {
		payees[i].Adjustments = adjustments[payees[i].ID]
	}
	return payees, nil
}

func (q *queries) GetPayee(ctx context.Context, id string) (*payroll.Payee, error) {
	return q.getPayee(ctx, "id = ?", id)
}

func (q *queries) GetPayeeByCode(ctx context.Context, code string) (*payroll.Payee, error) {
	return q.getPayee(ctx, "code = ?", code)
}

func (q *queries) getPayee(ctx context.Context, where string, arg any) (*payroll.Payee, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+payeeColumns+" FROM payees WHERE "+where, arg)
	p, err := scanPayee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	adjustments, err := q.listAdjustments(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Adjustments = adjustments[p.ID]
	return &p, nil
}

func (q *queries) SavePayee(ctx context.Context, p payroll.Payee) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO payees (`+payeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			real_name = excluded.real_name,
			working_name = excluded.working_name,
			status = excluded.status,
			start_date = excluded.start_date,
			payment_method = excluded.payment_method,
			frequency = excluded.frequency,
			base_monthly_amount = excluded.base_monthly_amount
	`,
		p.ID, p.Code, p.RealName, p.WorkingName, string(p.Status), formatDate(p.StartDate),
		p.PaymentMethod, string(p.Frequency), p.BaseMonthlyAmount.String(), formatTime(p.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s", payroll.ErrDuplicateCode, p.Code)
	}
	return err
}

func (q *queries) DeletePayee(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM payees WHERE id = ?", id)
	return err
}

func (q *queries) SaveAdjustment(ctx context.Context, adj payroll.CompensationAdjustment) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO compensation_adjustments (id, payee_id, effective_date, amount, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payee_id, effective_date) DO UPDATE SET
			amount = excluded.amount,
			notes = excluded.notes
	`,
		adj.ID, adj.PayeeID, formatDate(adj.EffectiveDate), adj.Amount.String(),
		nullString(adj.Notes), formatTime(adj.CreatedAt),
	)
	return err
}

func (q *queries) DeleteAdjustment(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM compensation_adjustments WHERE id = ?", id)
	return err
}

// listAdjustments groups adjustments by payee, ascending by date.
// An empty payeeID loads all of them.
func (q *queries) listAdjustments(ctx context.Context, payeeID string) (map[string][]payroll.CompensationAdjustment, error) {
	query := `SELECT id, payee_id, effective_date, amount, notes, created_at
		FROM compensation_adjustments`
	var args []any
	if payeeID != "" {
		query += " WHERE payee_id = ?"
		args = append(args, payeeID)
	}
	query += " ORDER BY payee_id, effective_date"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]payroll.CompensationAdjustment)
	for rows.Next() {
		var adj payroll.CompensationAdjustment
		var effective, amount, createdAt string
		var notes sql.NullString
		if err := rows.Scan(&adj.ID, &adj.PayeeID, &effective, &amount, &notes, &createdAt); err != nil {
			return nil, err
		}
		if adj.EffectiveDate, err = parseDate(effective); err != nil {
			return nil, err
		}
		if adj.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		adj.Notes = stringPtr(notes)
		adj.CreatedAt = parseTime(createdAt)
		out[adj.PayeeID] = append(out[adj.PayeeID], adj)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayee(row scanner) (payroll.Payee, error) {
	var p payroll.Payee
	var status, startDate, frequency, base, createdAt string
	if err := row.Scan(&p.ID, &p.Code, &p.RealName, &p.WorkingName, &status, &startDate,
		&p.PaymentMethod, &frequency, &base, &createdAt); err != nil {
		return p, err
	}
	var err error
	p.Status = payroll.PayeeStatus(status)
	p.Frequency = payroll.Frequency(frequency)
	if p.StartDate, err = parseDate(startDate); err != nil {
		return p, err
	}
	if p.BaseMonthlyAmount, err = decimal.NewFromString(base); err != nil {
		return p, err
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// RUNS
// =============================================================================

const runColumns = `id, year, month, currency, include_inactive, models_paid,
	total_payout, frequency_counts_json, created_at, updated_at`

func (q *queries) FindRun(ctx context.Context, year int, month time.Month) (*payroll.ScheduleRun, error) {
	return q.getRun(ctx, "year = ? AND month = ?", year, int(month))
}

func (q *queries) GetRun(ctx context.Context, id string) (*payroll.ScheduleRun, error) {
	return q.getRun(ctx, "id = ?", id)
}

func (q *queries) getRun(ctx context.Context, where string, args ...any) (*payroll.ScheduleRun, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+runColumns+" FROM schedule_runs WHERE "+where, args...)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (q *queries) ListRuns(ctx context.Context) ([]payroll.ScheduleRun, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+runColumns+" FROM schedule_runs ORDER BY year DESC, month DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []payroll.ScheduleRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (q *queries) CreateRun(ctx context.Context, run payroll.ScheduleRun) error {
	counts, err := json.Marshal(run.Summary.FrequencyCounts)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO schedule_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Year, int(run.Month), run.Currency, run.IncludeInactive,
		run.Summary.ModelsPaid, run.Summary.TotalPayout.String(), string(counts),
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %04d-%02d", payroll.ErrRunExists, run.Year, int(run.Month))
	}
	return err
}

func (q *queries) UpdateRun(ctx context.Context, run payroll.ScheduleRun) error {
	counts, err := json.Marshal(run.Summary.FrequencyCounts)
	if err != nil {
		return err
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE schedule_runs SET
			currency = ?, include_inactive = ?, models_paid = ?,
			total_payout = ?, frequency_counts_json = ?, updated_at = ?
		WHERE id = ?
	`,
		run.Currency, run.IncludeInactive, run.Summary.ModelsPaid,
		run.Summary.TotalPayout.String(), string(counts), formatTime(run.UpdatedAt), run.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", payroll.ErrRunNotFound, run.ID)
	}
	return nil
}

func (q *queries) ClearRun(ctx context.Context, runID string) error {
	for _, stmt := range []string{
		"DELETE FROM advance_allocations WHERE run_id = ?",
		"DELETE FROM payouts WHERE run_id = ?",
		"DELETE FROM validation_issues WHERE run_id = ?",
	} {
		if _, err := q.q.ExecContext(ctx, stmt, runID); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) DeleteRun(ctx context.Context, runID string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM schedule_runs WHERE id = ?", runID)
	return err
}

func scanRun(row scanner) (payroll.ScheduleRun, error) {
	var run payroll.ScheduleRun
	var month int
	var total, counts, createdAt, updatedAt string
	if err := row.Scan(&run.ID, &run.Year, &month, &run.Currency, &run.IncludeInactive,
		&run.Summary.ModelsPaid, &total, &counts, &createdAt, &updatedAt); err != nil {
		return run, err
	}
	run.Month = time.Month(month)
	var err error
	if run.Summary.TotalPayout, err = decimal.NewFromString(total); err != nil {
		return run, err
	}
	run.Summary.FrequencyCounts = map[string]int{}
	if err := json.Unmarshal([]byte(counts), &run.Summary.FrequencyCounts); err != nil {
		return run, err
	}
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return run, nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

const payoutColumns = `id, run_id, payee_id, seq, pay_date, code, real_name, working_name,
	payment_method, frequency, gross, amount, rounding_adjusted, status, notes`

func (q *queries) InsertPayouts(ctx context.Context, payouts []payroll.Payout) error {
	for _, p := range payouts {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO payouts (`+payoutColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.ID, p.RunID, nullID(p.PayeeID), p.Seq, formatDate(p.PayDate), p.Code, p.RealName,
			p.WorkingName, p.PaymentMethod, string(p.Frequency), p.Gross.String(), p.Amount.String(),
			p.RoundingAdjusted, string(p.Status), nullString(p.Notes),
		)
		if err != nil {
			return fmt.Errorf("insert payout %s %s: %w", p.Code, formatDate(p.PayDate), err)
		}
	}
	return nil
}

func (q *queries) ListPayouts(ctx context.Context, runID string) ([]payroll.Payout, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+payoutColumns+" FROM payouts WHERE run_id = ? ORDER BY pay_date, seq", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []payroll.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (q *queries) GetPayout(ctx context.Context, id string) (*payroll.Payout, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE id = ?", id)
	p, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) UpdatePayout(ctx context.Context, p payroll.Payout) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE payouts SET amount = ?, status = ?, notes = ? WHERE id = ?",
		p.Amount.String(), string(p.Status), nullString(p.Notes), p.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", payroll.ErrPayoutNotFound, p.ID)
	}
	return nil
}

func scanPayout(row scanner) (payroll.Payout, error) {
	var p payroll.Payout
	var payeeID, notes sql.NullString
	var payDate, frequency, gross, amount, status string
	if err := row.Scan(&p.ID, &p.RunID, &payeeID, &p.Seq, &payDate, &p.Code, &p.RealName,
		&p.WorkingName, &p.PaymentMethod, &frequency, &gross, &amount, &p.RoundingAdjusted,
		&status, &notes); err != nil {
		return p, err
	}
	var err error
	p.PayeeID = payeeID.String
	if p.PayDate, err = parseDate(payDate); err != nil {
		return p, err
	}
	p.Frequency = payroll.Frequency(frequency)
	if p.Gross, err = decimal.NewFromString(gross); err != nil {
		return p, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, err
	}
	p.Status = payroll.PayoutStatus(status)
	p.Notes = stringPtr(notes)
	return p, nil
}

// =============================================================================
// VALIDATION ISSUES
// =============================================================================

func (q *queries) InsertIssues(ctx context.Context, issues []payroll.ValidationIssue) error {
	for _, is := range issues {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO validation_issues (id, run_id, payee_id, row_number, code, severity, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, is.ID, is.RunID, nullID(is.PayeeID), is.Row, is.Code, string(is.Severity), is.Message)
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) ListIssues(ctx context.Context, runID string) ([]payroll.ValidationIssue, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, run_id, payee_id, row_number, code, severity, message
		FROM validation_issues WHERE run_id = ?
		ORDER BY row_number, severity, rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []payroll.ValidationIssue
	for rows.Next() {
		var is payroll.ValidationIssue
		var payeeID sql.NullString
		var severity string
		if err := rows.Scan(&is.ID, &is.RunID, &payeeID, &is.Row, &is.Code, &severity, &is.Message); err != nil {
			return nil, err
		}
		is.PayeeID = payeeID.String
		is.Severity = payroll.Severity(severity)
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// =============================================================================
// ADVANCES
// =============================================================================

const advanceColumns = `id, payee_id, amount_total, amount_remaining, status, strategy,
	fixed_amount, percent_rate, min_net_floor, max_per_run, cap_multiplier, notes,
	created_at, activated_at`

func (q *queries) SaveAdvance(ctx context.Context, a payroll.Advance) error {
	var activatedAt sql.NullString
	if a.ActivatedAt != nil {
		activatedAt = sql.NullString{String: formatTime(*a.ActivatedAt), Valid: true}
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO advances (`+advanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_remaining = excluded.amount_remaining,
			status = excluded.status,
			strategy = excluded.strategy,
			fixed_amount = excluded.fixed_amount,
			percent_rate = excluded.percent_rate,
			notes = excluded.notes,
			activated_at = excluded.activated_at
	`,
		a.ID, a.PayeeID, a.AmountTotal.String(), a.AmountRemaining.String(), string(a.Status),
		string(a.Strategy), nullDecimal(a.FixedAmount), nullDecimal(a.PercentRate),
		a.MinNetFloor.String(), a.MaxPerRun.String(), a.CapMultiplier.String(),
		nullString(a.Notes), formatTime(a.CreatedAt), activatedAt,
	)
	return err
}

func (q *queries) GetAdvance(ctx context.Context, id string) (*payroll.Advance, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+advanceColumns+" FROM advances WHERE id = ?", id)
	a, err := scanAdvance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) ListAdvances(ctx context.Context, payeeID string, status payroll.AdvanceStatus) ([]payroll.Advance, error) {
	query := "SELECT " + advanceColumns + " FROM advances WHERE 1 = 1"
	var args []any
	if payeeID != "" {
		query += " AND payee_id = ?"
		args = append(args, payeeID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at, rowid"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var advances []payroll.Advance
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		advances = append(advances, a)
	}
	return advances, rows.Err()
}

func (q *queries) DeleteAdvance(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM advances WHERE id = ?", id)
	return err
}

func scanAdvance(row scanner) (payroll.Advance, error) {
	var a payroll.Advance
	var total, remaining, status, strategy, floor, maxPerRun, capMul, createdAt string
	var fixed, rate, notes, activatedAt sql.NullString
	if err := row.Scan(&a.ID, &a.PayeeID, &total, &remaining, &status, &strategy,
		&fixed, &rate, &floor, &maxPerRun, &capMul, &notes, &createdAt, &activatedAt); err != nil {
		return a, err
	}
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&a.AmountTotal, total},
		{&a.AmountRemaining, remaining},
		{&a.MinNetFloor, floor},
		{&a.MaxPerRun, maxPerRun},
		{&a.CapMultiplier, capMul},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return a, err
		}
	}
	if a.FixedAmount, err = decimalPtr(fixed); err != nil {
		return a, err
	}
	if a.PercentRate, err = decimalPtr(rate); err != nil {
		return a, err
	}
	a.Status = payroll.AdvanceStatus(status)
	a.Strategy = payroll.Strategy(strategy)
	a.Notes = stringPtr(notes)
	a.CreatedAt = parseTime(createdAt)
	if activatedAt.Valid {
		t := parseTime(activatedAt.String)
		a.ActivatedAt = &t
	}
	return a, nil
}

// =============================================================================
// ALLOCATIONS & REPAYMENTS
// =============================================================================

const allocationColumns = `id, run_id, payout_id, payee_id, advance_id, planned_amount, created_at`

func (q *queries) InsertAllocations(ctx context.Context, allocs []payroll.AdvanceAllocation) error {
	for _, a := range allocs {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO advance_allocations (`+allocationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.RunID, a.PayoutID, a.PayeeID, a.AdvanceID, a.PlannedAmount.String(), formatTime(a.CreatedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) ListAllocationsForPayout(ctx context.Context, payoutID string) ([]payroll.AdvanceAllocation, error) {
	return q.listAllocations(ctx, "payout_id = ?", payoutID)
}

func (q *queries) ListAllocationsForRun(ctx context.Context, runID string) ([]payroll.AdvanceAllocation, error) {
	return q.listAllocations(ctx, "run_id = ?", runID)
}

func (q *queries) listAllocations(ctx context.Context, where string, arg any) ([]payroll.AdvanceAllocation, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+allocationColumns+" FROM advance_allocations WHERE "+where+" ORDER BY created_at, rowid", arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocs []payroll.AdvanceAllocation
	for rows.Next() {
		var a payroll.AdvanceAllocation
		var amount, createdAt string
		if err := rows.Scan(&a.ID, &a.RunID, &a.PayoutID, &a.PayeeID, &a.AdvanceID, &amount, &createdAt); err != nil {
			return nil, err
		}
		if a.PlannedAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func (q *queries) DeleteAllocation(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM advance_allocations WHERE id = ?", id)
	return err
}

func (q *queries) DeleteAllocationsForAdvance(ctx context.Context, advanceID string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM advance_allocations WHERE advance_id = ?", advanceID)
	return err
}

const repaymentColumns = `id, advance_id, payout_id, amount, source, notes, created_at`

func (q *queries) InsertRepayment(ctx context.Context, r payroll.AdvanceRepayment) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO advance_repayments (`+repaymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.AdvanceID, nullID(r.PayoutID), r.Amount.String(), string(r.Source),
		nullString(r.Notes), formatTime(r.CreatedAt))
	return err
}

func (q *queries) ListRepayments(ctx context.Context, advanceID string) ([]payroll.AdvanceRepayment, error) {
	return q.listRepayments(ctx, "advance_id = ?", advanceID)
}

func (q *queries) ListRepaymentsForPayout(ctx context.Context, payoutID string) ([]payroll.AdvanceRepayment, error) {
	if payoutID == "" {
		return nil, nil
	}
	return q.listRepayments(ctx, "payout_id = ?", payoutID)
}

func (q *queries) listRepayments(ctx context.Context, where string, arg any) ([]payroll.AdvanceRepayment, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+repaymentColumns+" FROM advance_repayments WHERE "+where+" ORDER BY created_at, rowid", arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.AdvanceRepayment
	for rows.Next() {
		var r payroll.AdvanceRepayment
		var payoutID, notes sql.NullString
		var amount, source, createdAt string
		if err := rows.Scan(&r.ID, &r.AdvanceID, &payoutID, &amount, &source, &notes, &createdAt); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		r.PayoutID = payoutID.String
		r.Source = payroll.RepaymentSource(source)
		r.Notes = stringPtr(notes)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// AD-HOC PAYMENTS
// =============================================================================

const adhocColumns = `id, payee_id, pay_date, amount, description, notes, status, created_at, updated_at`

func (q *queries) SaveAdhocPayment(ctx context.Context, p payroll.AdhocPayment) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO adhoc_payments (`+adhocColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pay_date = excluded.pay_date,
			amount = excluded.amount,
			description = excluded.description,
			notes = excluded.notes,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		p.ID, p.PayeeID, formatDate(p.PayDate), p.Amount.String(), nullString(p.Description),
		nullString(p.Notes), string(p.Status), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return err
}

func (q *queries) GetAdhocPayment(ctx context.Context, id string) (*payroll.AdhocPayment, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+adhocColumns+" FROM adhoc_payments WHERE id = ?", id)
	p, err := scanAdhoc(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) ListAdhocPayments(ctx context.Context, payeeID string, from, to time.Time) ([]payroll.AdhocPayment, error) {
	query := "SELECT " + adhocColumns + " FROM adhoc_payments WHERE 1 = 1"
	var args []any
	if payeeID != "" {
		query += " AND payee_id = ?"
		args = append(args, payeeID)
	}
	if !from.IsZero() && !to.IsZero() {
		query += " AND pay_date BETWEEN ? AND ?"
		args = append(args, formatDate(from), formatDate(to))
	}
	query += " ORDER BY pay_date, rowid"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.AdhocPayment
	for rows.Next() {
		p, err := scanAdhoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) DeleteAdhocPayment(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM adhoc_payments WHERE id = ?", id)
	return err
}

func scanAdhoc(row scanner) (payroll.AdhocPayment, error) {
	var p payroll.AdhocPayment
	var payDate, amount, status, createdAt, updatedAt string
	var description, notes sql.NullString
	if err := row.Scan(&p.ID, &p.PayeeID, &payDate, &amount, &description, &notes,
		&status, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	var err error
	if p.PayDate, err = parseDate(payDate); err != nil {
		return p, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, err
	}
	p.Description = stringPtr(description)
	p.Notes = stringPtr(notes)
	p.Status = payroll.AdhocStatus(status)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDate(t time.Time) string {
	return t.Format(payroll.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(payroll.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored date %q: %w", s, err)
	}
	return t, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullID(id string) sql.NullString {
	if id == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: id, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decimalPtr(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var _ payroll.TxStore = (*Store)(nil)
