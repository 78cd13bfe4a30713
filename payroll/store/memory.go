// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/payout-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements payroll.TxStore in process memory.
// Transactions are serialized and rolled back by restoring a snapshot.
type Memory struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data memoryData
}

type seqPayee struct {
	payee payroll.Payee
	seq   int
}

type seqAdvance struct {
	advance payroll.Advance
	seq     int
}

type seqAdhoc struct {
	payment payroll.AdhocPayment
	seq     int
}

type memoryData struct {
	seq         int
	payees      map[string]seqPayee
	adjustments map[string]payroll.CompensationAdjustment
	runs        map[string]payroll.ScheduleRun
	payouts     map[string]payroll.Payout
	issues      map[string][]payroll.ValidationIssue // by run
	advances    map[string]seqAdvance
	allocations map[string]payroll.AdvanceAllocation
	repayments  []payroll.AdvanceRepayment
	adhoc       map[string]seqAdhoc
}

func newMemoryData() memoryData {
	return memoryData{
		payees:      make(map[string]seqPayee),
		adjustments: make(map[string]payroll.CompensationAdjustment),
		runs:        make(map[string]payroll.ScheduleRun),
		payouts:     make(map[string]payroll.Payout),
		issues:      make(map[string][]payroll.ValidationIssue),
		advances:    make(map[string]seqAdvance),
		allocations: make(map[string]payroll.AdvanceAllocation),
		adhoc:       make(map[string]seqAdhoc),
	}
}

func (d memoryData) clone() memoryData {
	c := newMemoryData()
	c.seq = d.seq
	for k, v := range d.payees {
		c.payees[k] = v
	}
	for k, v := range d.adjustments {
		c.adjustments[k] = v
	}
	for k, v := range d.runs {
		c.runs[k] = v
	}
	for k, v := range d.payouts {
		c.payouts[k] = v
	}
	for k, v := range d.issues {
		c.issues[k] = append([]payroll.ValidationIssue{}, v...)
	}
	for k, v := range d.advances {
		c.advances[k] = v
	}
	for k, v := range d.allocations {
		c.allocations[k] = v
	}
	c.repayments = append([]payroll.AdvanceRepayment{}, d.repayments...)
	for k, v := range d.adhoc {
		c.adhoc[k] = v
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

func (m *Memory) nextSeq() int {
	m.data.seq++
	return m.data.seq
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.data = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// =============================================================================
// PAYEES
// =============================================================================

func (m *Memory) ListPayees(_ context.Context) ([]payroll.Payee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]seqPayee, 0, len(m.data.payees))
	for _, r := range m.data.payees {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].payee.CreatedAt.Equal(recs[j].payee.CreatedAt) {
			return recs[i].payee.CreatedAt.Before(recs[j].payee.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]payroll.Payee, len(recs))
	for i, r := range recs {
		out[i] = m.withAdjustments(r.payee)
	}
	return out, nil
}

func (m *Memory) withAdjustments(p payroll.Payee) payroll.Payee {
	var adjs []payroll.CompensationAdjustment
	for _, a := range m.data.adjustments {
		if a.PayeeID == p.ID {
			adjs = append(adjs, a)
		}
	}
	sort.Slice(adjs, func(i, j int) bool { return adjs[i].EffectiveDate.Before(adjs[j].EffectiveDate) })
	p.Adjustments = adjs
	return p
}

func (m *Memory) GetPayee(_ context.Context, id string) (*payroll.Payee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data.payees[id]
	if !ok {
		return nil, nil
	}
	p := m.withAdjustments(r.payee)
	return &p, nil
}

func (m *Memory) GetPayeeByCode(_ context.Context, code string) (*payroll.Payee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.data.payees {
		if strings.EqualFold(r.payee.Code, code) {
			p := m.withAdjustments(r.payee)
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Memory) SavePayee(_ context.Context, p payroll.Payee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.data.payees {
		if id != p.ID && strings.EqualFold(r.payee.Code, p.Code) {
			return payroll.ErrDuplicateCode
		}
	}
	p.Adjustments = nil
	rec, ok := m.data.payees[p.ID]
	if !ok {
		rec.seq = m.nextSeq()
	}
	rec.payee = p
	m.data.payees[p.ID] = rec
	return nil
}

func (m *Memory) DeletePayee(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.payees, id)
	for k, a := range m.data.adjustments {
		if a.PayeeID == id {
			delete(m.data.adjustments, k)
		}
	}
	for k, p := range m.data.payouts {
		if p.PayeeID == id {
			p.PayeeID = ""
			m.data.payouts[k] = p
		}
	}
	for run, issues := range m.data.issues {
		for i := range issues {
			if issues[i].PayeeID == id {
				issues[i].PayeeID = ""
			}
		}
		m.data.issues[run] = issues
	}
	for k, a := range m.data.advances {
		if a.advance.PayeeID == id {
			m.deleteAdvanceLocked(k)
		}
	}
	for k, a := range m.data.adhoc {
		if a.payment.PayeeID == id {
			delete(m.data.adhoc, k)
		}
	}
	return nil
}

func (m *Memory) SaveAdjustment(_ context.Context, adj payroll.CompensationAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, a := range m.data.adjustments {
		if a.PayeeID == adj.PayeeID && a.EffectiveDate.Equal(adj.EffectiveDate) {
			adj.ID = a.ID
			adj.CreatedAt = a.CreatedAt
			m.data.adjustments[k] = adj
			return nil
		}
	}
	m.data.adjustments[adj.ID] = adj
	return nil
}

func (m *Memory) DeleteAdjustment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.adjustments, id)
	return nil
}

// =============================================================================
// RUNS, PAYOUTS, ISSUES
// =============================================================================

func (m *Memory) FindRun(_ context.Context, year int, month time.Month) (*payroll.ScheduleRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.data.runs {
		if r.Year == year && r.Month == month {
			run := r
			return &run, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*payroll.ScheduleRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data.runs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListRuns(_ context.Context) ([]payroll.ScheduleRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.ScheduleRun, 0, len(m.data.runs))
	for _, r := range m.data.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out, nil
}

func (m *Memory) CreateRun(_ context.Context, run payroll.ScheduleRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.data.runs {
		if r.Year == run.Year && r.Month == run.Month {
			return payroll.ErrRunExists
		}
	}
	m.data.runs[run.ID] = run
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, run payroll.ScheduleRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.runs[run.ID]; !ok {
		return payroll.ErrRunNotFound
	}
	m.data.runs[run.ID] = run
	return nil
}

func (m *Memory) ClearRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearRunLocked(runID)
	return nil
}

func (m *Memory) clearRunLocked(runID string) {
	for k, a := range m.data.allocations {
		if a.RunID == runID {
			delete(m.data.allocations, k)
		}
	}
	for k, p := range m.data.payouts {
		if p.RunID == runID {
			delete(m.data.payouts, k)
		}
	}
	delete(m.data.issues, runID)
}

func (m *Memory) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearRunLocked(runID)
	delete(m.data.runs, runID)
	return nil
}

func (m *Memory) InsertPayouts(_ context.Context, payouts []payroll.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range payouts {
		m.data.payouts[p.ID] = p
	}
	return nil
}

func (m *Memory) ListPayouts(_ context.Context, runID string) ([]payroll.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.Payout
	for _, p := range m.data.payouts {
		if p.RunID == runID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PayDate.Equal(out[j].PayDate) {
			return out[i].PayDate.Before(out[j].PayDate)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *Memory) GetPayout(_ context.Context, id string) (*payroll.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data.payouts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) UpdatePayout(_ context.Context, p payroll.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data.payouts[p.ID]
	if !ok {
		return payroll.ErrPayoutNotFound
	}
	cur.Amount = p.Amount
	cur.Status = p.Status
	cur.Notes = p.Notes
	m.data.payouts[p.ID] = cur
	return nil
}

func (m *Memory) InsertIssues(_ context.Context, issues []payroll.ValidationIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, is := range issues {
		m.data.issues[is.RunID] = append(m.data.issues[is.RunID], is)
	}
	return nil
}

func (m *Memory) ListIssues(_ context.Context, runID string) ([]payroll.ValidationIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]payroll.ValidationIssue{}, m.data.issues[runID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Severity < out[j].Severity
	})
	return out, nil
}

// =============================================================================
// ADVANCES
// =============================================================================

func (m *Memory) SaveAdvance(_ context.Context, a payroll.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data.advances[a.ID]
	if !ok {
		rec.seq = m.nextSeq()
	}
	rec.advance = a
	m.data.advances[a.ID] = rec
	return nil
}

func (m *Memory) GetAdvance(_ context.Context, id string) (*payroll.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data.advances[id]
	if !ok {
		return nil, nil
	}
	a := rec.advance
	return &a, nil
}

func (m *Memory) ListAdvances(_ context.Context, payeeID string, status payroll.AdvanceStatus) ([]payroll.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []seqAdvance
	for _, r := range m.data.advances {
		if payeeID != "" && r.advance.PayeeID != payeeID {
			continue
		}
		if status != "" && r.advance.Status != status {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].advance.CreatedAt.Equal(recs[j].advance.CreatedAt) {
			return recs[i].advance.CreatedAt.Before(recs[j].advance.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]payroll.Advance, len(recs))
	for i, r := range recs {
		out[i] = r.advance
	}
	return out, nil
}

func (m *Memory) DeleteAdvance(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteAdvanceLocked(id)
	return nil
}

func (m *Memory) deleteAdvanceLocked(id string) {
	delete(m.data.advances, id)
	for k, a := range m.data.allocations {
		if a.AdvanceID == id {
			delete(m.data.allocations, k)
		}
	}
	kept := m.data.repayments[:0]
	for _, r := range m.data.repayments {
		if r.AdvanceID != id {
			kept = append(kept, r)
		}
	}
	m.data.repayments = kept
}

func (m *Memory) InsertAllocations(_ context.Context, allocs []payroll.AdvanceAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range allocs {
		m.data.allocations[a.ID] = a
	}
	return nil
}

func (m *Memory) listAllocations(match func(payroll.AdvanceAllocation) bool) []payroll.AdvanceAllocation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.AdvanceAllocation
	for _, a := range m.data.allocations {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) ListAllocationsForPayout(_ context.Context, payoutID string) ([]payroll.AdvanceAllocation, error) {
	return m.listAllocations(func(a payroll.AdvanceAllocation) bool { return a.PayoutID == payoutID }), nil
}

func (m *Memory) ListAllocationsForRun(_ context.Context, runID string) ([]payroll.AdvanceAllocation, error) {
	return m.listAllocations(func(a payroll.AdvanceAllocation) bool { return a.RunID == runID }), nil
}

func (m *Memory) DeleteAllocation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.allocations, id)
	return nil
}

func (m *Memory) DeleteAllocationsForAdvance(_ context.Context, advanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, a := range m.data.allocations {
		if a.AdvanceID == advanceID {
			delete(m.data.allocations, k)
		}
	}
	return nil
}

func (m *Memory) InsertRepayment(_ context.Context, r payroll.AdvanceRepayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.repayments = append(m.data.repayments, r)
	return nil
}

func (m *Memory) ListRepayments(_ context.Context, advanceID string) ([]payroll.AdvanceRepayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.AdvanceRepayment
	for _, r := range m.data.repayments {
		if r.AdvanceID == advanceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ListRepaymentsForPayout(_ context.Context, payoutID string) ([]payroll.AdvanceRepayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.AdvanceRepayment
	for _, r := range m.data.repayments {
		if payoutID != "" && r.PayoutID == payoutID {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// AD-HOC PAYMENTS
// =============================================================================

func (m *Memory) SaveAdhocPayment(_ context.Context, p payroll.AdhocPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data.adhoc[p.ID]
	if !ok {
		rec.seq = m.nextSeq()
	}
	rec.payment = p
	m.data.adhoc[p.ID] = rec
	return nil
}

func (m *Memory) GetAdhocPayment(_ context.Context, id string) (*payroll.AdhocPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data.adhoc[id]
	if !ok {
		return nil, nil
	}
	p := rec.payment
	return &p, nil
}

func (m *Memory) ListAdhocPayments(_ context.Context, payeeID string, from, to time.Time) ([]payroll.AdhocPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranged := !from.IsZero() && !to.IsZero()
	var recs []seqAdhoc
	for _, r := range m.data.adhoc {
		if payeeID != "" && r.payment.PayeeID != payeeID {
			continue
		}
		if ranged && (r.payment.PayDate.Before(from) || r.payment.PayDate.After(to)) {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].payment.PayDate.Equal(recs[j].payment.PayDate) {
			return recs[i].payment.PayDate.Before(recs[j].payment.PayDate)
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]payroll.AdhocPayment, len(recs))
	for i, r := range recs {
		out[i] = r.payment
	}
	return out, nil
}

func (m *Memory) DeleteAdhocPayment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.adhoc, id)
	return nil
}

var _ payroll.TxStore = (*Memory)(nil)
