/*
sqlite_test.go - Tests for the SQLite store

Tests for:
- Payee persistence, case-insensitive codes and adjustments
- Run uniqueness per period and transaction rollback
- Timestamp encoding order
- A full payroll cycle through the Service on SQLite
*/
package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/payroll"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testPayee(id, code string) payroll.Payee {
	return payroll.Payee{
		ID:                id,
		Code:              code,
		RealName:          "Real " + code,
		WorkingName:       "Work " + code,
		Status:            payroll.PayeeActive,
		StartDate:         day(2025, 1, 1),
		PaymentMethod:     "Bank transfer",
		Frequency:         payroll.FrequencyWeekly,
		BaseMonthlyAmount: decimal.RequireFromString("1000.10"),
		CreatedAt:         time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// PAYEES
// =============================================================================

func TestPayee_RoundTrip(t *testing.T) {
	// GIVEN: A payee with an adjustment
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SavePayee(ctx, testPayee("p1", "Alpha")); err != nil {
		t.Fatalf("Failed to save payee: %v", err)
	}
	notes := "raise"
	err := store.SaveAdjustment(ctx, payroll.CompensationAdjustment{
		ID: "adj1", PayeeID: "p1", EffectiveDate: day(2025, 10, 10),
		Amount: decimal.RequireFromString("2000"), Notes: &notes, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	// WHEN: Reading it back by ID and by code in another case
	got, err := store.GetPayee(ctx, "p1")
	require.NoError(t, err)
	byCode, err := store.GetPayeeByCode(ctx, "ALPHA")
	require.NoError(t, err)

	// THEN: Fields and adjustments survive
	require.NotNil(t, got)
	require.NotNil(t, byCode)
	assert.Equal(t, "p1", byCode.ID)
	assert.True(t, got.BaseMonthlyAmount.Equal(decimal.RequireFromString("1000.10")))
	assert.True(t, got.StartDate.Equal(day(2025, 1, 1)))
	assert.Equal(t, payroll.FrequencyWeekly, got.Frequency)
	require.Len(t, got.Adjustments, 1)
	assert.Equal(t, "raise", *got.Adjustments[0].Notes)

	missing, err := store.GetPayee(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSavePayee_DuplicateCodeIsCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePayee(ctx, testPayee("p1", "Alpha")))
	err := store.SavePayee(ctx, testPayee("p2", "alpha"))
	if !errors.Is(err, payroll.ErrDuplicateCode) {
		t.Fatalf("Expected ErrDuplicateCode, got %v", err)
	}

	// Updating the same payee keeps its code
	p := testPayee("p1", "Alpha")
	p.WorkingName = "Renamed"
	require.NoError(t, store.SavePayee(ctx, p))
}

func TestSaveAdjustment_SameDateReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePayee(ctx, testPayee("p1", "Alpha")))

	for i, amount := range []string{"1500", "1750"} {
		err := store.SaveAdjustment(ctx, payroll.CompensationAdjustment{
			ID: []string{"a", "b"}[i], PayeeID: "p1", EffectiveDate: day(2025, 10, 1),
			Amount: decimal.RequireFromString(amount), CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	got, err := store.GetPayee(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got.Adjustments, 1)
	assert.True(t, got.Adjustments[0].Amount.Equal(decimal.RequireFromString("1750")))
}

func TestListPayees_CreationOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	late := testPayee("p-late", "Late")
	late.CreatedAt = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	early := testPayee("p-early", "Early")
	early.CreatedAt = time.Date(2025, 2, 1, 0, 0, 0, 500_000_000, time.UTC)
	earliest := testPayee("p-earliest", "Earliest")
	earliest.CreatedAt = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	for _, p := range []payroll.Payee{late, early, earliest} {
		require.NoError(t, store.SavePayee(ctx, p))
	}

	payees, err := store.ListPayees(ctx)
	require.NoError(t, err)
	var ids []string
	for _, p := range payees {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"p-earliest", "p-early", "p-late"}, ids)
}

func TestFormatTime_SortsLexically(t *testing.T) {
	base := time.Date(2025, 10, 1, 9, 0, 5, 0, time.UTC)
	times := []time.Time{
		base.Add(500 * time.Millisecond),
		base,
		base.Add(time.Nanosecond),
		base.Add(-time.Second),
	}
	encoded := make([]string, len(times))
	for i, ts := range times {
		encoded[i] = formatTime(ts)
	}
	sort.Strings(encoded)

	for i := 1; i < len(encoded); i++ {
		prev, cur := parseTime(encoded[i-1]), parseTime(encoded[i])
		if !prev.Before(cur) {
			t.Errorf("Expected %s before %s", encoded[i-1], encoded[i])
		}
	}
	assert.True(t, parseTime(formatTime(base)).Equal(base))
}

// =============================================================================
// RUNS & TRANSACTIONS
// =============================================================================

func TestCreateRun_OnePerPeriod(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := payroll.ScheduleRun{
		ID: "r1", Year: 2025, Month: time.October, Currency: "USD",
		Summary:   payroll.RunSummary{TotalPayout: decimal.Zero, FrequencyCounts: map[string]int{}},
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRun(ctx, run))

	run.ID = "r2"
	err := store.CreateRun(ctx, run)
	if !errors.Is(err, payroll.ErrRunExists) {
		t.Fatalf("Expected ErrRunExists, got %v", err)
	}

	found, err := store.FindRun(ctx, 2025, time.October)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "r1", found.ID)

	none, err := store.FindRun(ctx, 2025, time.November)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that saves a payee and then fails
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	// WHEN: Running it
	err := store.WithTx(ctx, func(tx payroll.Store) error {
		if err := tx.SavePayee(ctx, testPayee("p1", "Alpha")); err != nil {
			return err
		}
		return boom
	})

	// THEN: The error is returned and nothing was written
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	payees, err := store.ListPayees(ctx)
	require.NoError(t, err)
	assert.Empty(t, payees)
}

func TestReset_ClearsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	svc := newService(store)

	_, err := svc.SavePayee(ctx, testPayee("", "Alpha"))
	require.NoError(t, err)
	_, err = svc.RunPayroll(ctx, payroll.RunRequest{Year: 2025, Month: time.October})
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	payees, err := store.ListPayees(ctx)
	require.NoError(t, err)
	assert.Empty(t, payees)
	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestListAdhocPayments_DateRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePayee(ctx, testPayee("p1", "Alpha")))

	for i, d := range []time.Time{day(2025, 9, 30), day(2025, 10, 1), day(2025, 10, 31), day(2025, 11, 1)} {
		err := store.SaveAdhocPayment(ctx, payroll.AdhocPayment{
			ID: []string{"a", "b", "c", "d"}[i], PayeeID: "p1", PayDate: d,
			Amount: decimal.NewFromInt(10), Status: payroll.AdhocPending,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	october, err := store.ListAdhocPayments(ctx, "", day(2025, 10, 1), day(2025, 10, 31))
	require.NoError(t, err)
	require.Len(t, october, 2)
	assert.Equal(t, "b", october[0].ID)
	assert.Equal(t, "c", october[1].ID)

	all, err := store.ListAdhocPayments(ctx, "p1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

// =============================================================================
// SERVICE OVER SQLITE
// =============================================================================

func newService(store *Store) *payroll.Service {
	svc := payroll.NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	return svc
}

func TestService_FullCycle(t *testing.T) {
	// GIVEN: A monthly payee with two fixed advances
	store := newTestStore(t)
	ctx := context.Background()
	svc := newService(store)

	p := testPayee("", "Alpha")
	p.Frequency = payroll.FrequencyMonthly
	p.BaseMonthlyAmount = decimal.NewFromInt(500)
	payee, err := svc.SavePayee(ctx, p)
	require.NoError(t, err)

	var advanceIDs []string
	for i := 0; i < 2; i++ {
		fixed := decimal.NewFromInt(300)
		adv, err := svc.CreateAdvance(ctx, payroll.NewAdvance{
			PayeeID: payee.ID, Amount: decimal.NewFromInt(300), Strategy: payroll.StrategyFixed, FixedAmount: &fixed,
		})
		require.NoError(t, err)
		_, err = svc.ApproveAdvance(ctx, adv.ID, true)
		require.NoError(t, err)
		advanceIDs = append(advanceIDs, adv.ID)
	}

	// WHEN: Running October, paying the payout and refreshing the run
	result, err := svc.RunPayroll(ctx, payroll.RunRequest{Year: 2025, Month: time.October})
	require.NoError(t, err)
	require.Len(t, result.Payouts, 1)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, advanceIDs[0], result.Allocations[0].AdvanceID)

	payoutID := result.Payouts[0].ID
	_, err = svc.MarkPayoutPaid(ctx, payoutID)
	require.NoError(t, err)
	_, err = svc.MarkPayoutPaid(ctx, payoutID)
	require.NoError(t, err)

	refreshed, err := svc.RunPayroll(ctx, payroll.RunRequest{Year: 2025, Month: time.October})
	require.NoError(t, err)

	// THEN: One run, the payout kept its ID and paid status, realized once
	assert.False(t, refreshed.Created)
	assert.Equal(t, result.Run.ID, refreshed.Run.ID)
	require.Len(t, refreshed.Payouts, 1)
	assert.Equal(t, payoutID, refreshed.Payouts[0].ID)
	assert.Equal(t, payroll.PayoutPaid, refreshed.Payouts[0].Status)
	assert.True(t, refreshed.Payouts[0].Amount.IsZero())
	assert.Empty(t, refreshed.Allocations)

	repayments, err := store.ListRepaymentsForPayout(ctx, payoutID)
	require.NoError(t, err)
	assert.Len(t, repayments, 2)

	first, err := store.GetAdvance(ctx, advanceIDs[0])
	require.NoError(t, err)
	assert.Equal(t, payroll.AdvanceClosed, first.Status)
	second, err := store.GetAdvance(ctx, advanceIDs[1])
	require.NoError(t, err)
	assert.True(t, second.AmountRemaining.Equal(decimal.NewFromInt(100)))

	lines, err := svc.Reconciliation(ctx, refreshed.Run.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Gross.Equal(decimal.NewFromInt(500)))
	assert.True(t, lines[0].Deducted.Equal(decimal.NewFromInt(500)))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Summary.ModelsPaid)
	assert.Equal(t, map[string]int{"Monthly": 1}, runs[0].Summary.FrequencyCounts)
}

func TestService_DeletePayeeKeepsPayouts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	svc := newService(store)

	payee, err := svc.SavePayee(ctx, testPayee("", "Gone"))
	require.NoError(t, err)
	result, err := svc.RunPayroll(ctx, payroll.RunRequest{Year: 2025, Month: time.October})
	require.NoError(t, err)
	require.Len(t, result.Payouts, 4)

	require.NoError(t, svc.DeletePayee(ctx, payee.ID))

	payouts, err := store.ListPayouts(ctx, result.Run.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 4)
	for _, p := range payouts {
		assert.Equal(t, "Gone", p.Code)
		assert.Empty(t, p.PayeeID)
	}
	assert.True(t, payouts[3].Amount.Equal(decimal.RequireFromString("250.01")))
	assert.True(t, payouts[3].RoundingAdjusted)
}

func TestService_AdjustmentUpsertReturnsStoredID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	svc := newService(store)
	payee, err := svc.SavePayee(ctx, testPayee("", "Alpha"))
	require.NoError(t, err)

	first, err := svc.AddCompensationAdjustment(ctx, payee.ID, day(2025, 10, 15), decimal.NewFromInt(1200), nil)
	require.NoError(t, err)
	second, err := svc.AddCompensationAdjustment(ctx, payee.ID, day(2025, 10, 15), decimal.NewFromInt(1300), nil)
	require.NoError(t, err)

	got, err := store.GetPayee(ctx, payee.ID)
	require.NoError(t, err)
	require.Len(t, got.Adjustments, 1)
	if second.ID != got.Adjustments[0].ID {
		t.Fatalf("Expected returned ID %s to match stored %s", second.ID, got.Adjustments[0].ID)
	}
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, got.Adjustments[0].Amount.Equal(decimal.NewFromInt(1300)))

	require.NoError(t, svc.DeleteCompensationAdjustment(ctx, payee.ID, second.ID))
	got, err = store.GetPayee(ctx, payee.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Adjustments)
}

var errIssuesDown = errors.New("issues table unavailable")

// failingIssueStore fails InsertIssues inside transactions while fail is set.
type failingIssueStore struct {
	*Store
	fail bool
}

func (s *failingIssueStore) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	return s.Store.WithTx(ctx, func(tx payroll.Store) error {
		if s.fail {
			return fn(issueFailer{tx})
		}
		return fn(tx)
	})
}

type issueFailer struct{ payroll.Store }

func (issueFailer) InsertIssues(context.Context, []payroll.ValidationIssue) error {
	return errIssuesDown
}

func TestService_FailedRefreshLeavesPriorRun(t *testing.T) {
	// GIVEN: An October run with a planned deduction and an on-hold payout
	store := newTestStore(t)
	ctx := context.Background()
	wrapped := &failingIssueStore{Store: store}
	svc := newService(store)
	svc.Store = wrapped

	p := testPayee("", "Alpha")
	p.Frequency = payroll.FrequencyMonthly
	p.BaseMonthlyAmount = decimal.NewFromInt(500)
	payee, err := svc.SavePayee(ctx, p)
	require.NoError(t, err)
	fixed := decimal.NewFromInt(300)
	adv, err := svc.CreateAdvance(ctx, payroll.NewAdvance{
		PayeeID: payee.ID, Amount: fixed, Strategy: payroll.StrategyFixed, FixedAmount: &fixed,
	})
	require.NoError(t, err)
	_, err = svc.ApproveAdvance(ctx, adv.ID, true)
	require.NoError(t, err)

	first, err := svc.RunPayroll(ctx, payroll.RunRequest{Year: 2025, Month: time.October})
	require.NoError(t, err)
	require.Len(t, first.Payouts, 1)
	notes := "hold for bank check"
	_, err = svc.UpdatePayout(ctx, first.Payouts[0].ID, payroll.PayoutUpdate{Status: payroll.PayoutOnHold, Notes: &notes})
	require.NoError(t, err)

	beforePayouts, err := store.ListPayouts(ctx, first.Run.ID)
	require.NoError(t, err)
	beforeAllocs, err := store.ListAllocationsForRun(ctx, first.Run.ID)
	require.NoError(t, err)
	require.Len(t, beforeAllocs, 1)
	beforeIssues, err := store.ListIssues(ctx, first.Run.ID)
	require.NoError(t, err)
	beforeRun, err := store.GetRun(ctx, first.Run.ID)
	require.NoError(t, err)

	// WHEN: The refresh fails while writing the report
	_, err = svc.SavePayee(ctx, testPayee("", "Beta"))
	require.NoError(t, err)
	wrapped.fail = true
	_, err = svc.RunPayroll(ctx, payroll.RunRequest{Year: 2025, Month: time.October, Currency: "EUR"})

	// THEN: Payouts, statuses, notes, allocations and the run are untouched
	if !errors.Is(err, errIssuesDown) {
		t.Fatalf("Expected errIssuesDown, got %v", err)
	}
	afterPayouts, err := store.ListPayouts(ctx, first.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, beforePayouts, afterPayouts)
	require.Len(t, afterPayouts, 1)
	assert.Equal(t, payroll.PayoutOnHold, afterPayouts[0].Status)
	require.NotNil(t, afterPayouts[0].Notes)
	assert.Equal(t, notes, *afterPayouts[0].Notes)

	afterAllocs, err := store.ListAllocationsForRun(ctx, first.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, beforeAllocs, afterAllocs)
	afterIssues, err := store.ListIssues(ctx, first.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, beforeIssues, afterIssues)
	afterRun, err := store.GetRun(ctx, first.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, beforeRun, afterRun)
	assert.Equal(t, payroll.DefaultCurrency, afterRun.Currency)
}
