package lending

import (
	"lendpool/crypto"
)

// LedgerEntry is a single row of an ordered upsert table.
type LedgerEntry[K comparable] struct {
	Key    K      `json:"key"`
	Amount uint64 `json:"amount"`
}

// ledger is an insertion-ordered table keyed by K. Lookups resolve to the
// first row recorded for a key and rows are never removed, so a zeroed row
// keeps absorbing later upserts against the same key.
type ledger[K comparable] struct {
	rows  []LedgerEntry[K]
	index map[K]int
}

func newLedger[K comparable]() *ledger[K] {
	return &ledger[K]{index: make(map[K]int)}
}

// Find returns the amount of the first row matching key.
func (l *ledger[K]) Find(key K) (uint64, bool) {
	i, ok := l.index[key]
	if !ok {
		return 0, false
	}
	return l.rows[i].Amount, true
}

// Add credits delta to the row for key, appending it when absent.
func (l *ledger[K]) Add(key K, delta uint64) error {
	i, ok := l.index[key]
	if !ok {
		l.index[key] = len(l.rows)
		l.rows = append(l.rows, LedgerEntry[K]{Key: key, Amount: delta})
		return nil
	}
	sum, err := addAmounts(l.rows[i].Amount, delta)
	if err != nil {
		return err
	}
	l.rows[i].Amount = sum
	return nil
}

// CanAdd reports whether Add(key, delta) would succeed.
func (l *ledger[K]) CanAdd(key K, delta uint64) error {
	current, _ := l.Find(key)
	_, err := addAmounts(current, delta)
	return err
}

// Sub debits delta from the row for key. Callers validate sufficiency
// beforehand; the check here only keeps the row from wrapping.
func (l *ledger[K]) Sub(key K, delta uint64) error {
	i, ok := l.index[key]
	if !ok {
		if delta == 0 {
			return nil
		}
		return ErrAmountOverflow
	}
	if l.rows[i].Amount < delta {
		return ErrAmountOverflow
	}
	l.rows[i].Amount -= delta
	return nil
}

// Set overwrites the amount of an existing row.
func (l *ledger[K]) Set(key K, amount uint64) {
	i, ok := l.index[key]
	if !ok {
		l.index[key] = len(l.rows)
		l.rows = append(l.rows, LedgerEntry[K]{Key: key, Amount: amount})
		return
	}
	l.rows[i].Amount = amount
}

func (l *ledger[K]) Len() int { return len(l.rows) }

// Entries returns a copy of the rows in insertion order.
func (l *ledger[K]) Entries() []LedgerEntry[K] {
	out := make([]LedgerEntry[K], len(l.rows))
	copy(out, l.rows)
	return out
}

func (l *ledger[K]) clone() *ledger[K] {
	out := &ledger[K]{
		rows:  make([]LedgerEntry[K], len(l.rows)),
		index: make(map[K]int, len(l.index)),
	}
	copy(out.rows, l.rows)
	for k, v := range l.index {
		out.index[k] = v
	}
	return out
}

func (l *ledger[K]) load(rows []LedgerEntry[K]) {
	l.rows = nil
	l.index = make(map[K]int, len(rows))
	for _, row := range rows {
		if _, ok := l.index[row.Key]; ok {
			// Later duplicates are unreachable through lookups but kept in order.
			l.rows = append(l.rows, row)
			continue
		}
		l.index[row.Key] = len(l.rows)
		l.rows = append(l.rows, row)
	}
}

// LenderLedger maps (participant, token) to collateral available to that
// participant.
type LenderLedger struct{ *ledger[LenderKey] }

func NewLenderLedger() *LenderLedger { return &LenderLedger{newLedger[LenderKey]()} }

func (l *LenderLedger) Clone() *LenderLedger { return &LenderLedger{l.ledger.clone()} }

// LiquidityLedger maps token to the amount the pool custodies for it.
type LiquidityLedger struct{ *ledger[crypto.Address] }

func NewLiquidityLedger() *LiquidityLedger {
	return &LiquidityLedger{newLedger[crypto.Address]()}
}

func (l *LiquidityLedger) Clone() *LiquidityLedger { return &LiquidityLedger{l.ledger.clone()} }

// LoanLedger stores loans in insertion order. A key may own several records:
// repaid loans stay in place when the borrower opens a new one.
type LoanLedger struct {
	rows  []LoanEntry
	index map[LoanKey][]int
}

func NewLoanLedger() *LoanLedger {
	return &LoanLedger{index: make(map[LoanKey][]int)}
}

// First returns the position and record of the earliest loan recorded for key.
func (l *LoanLedger) First(key LoanKey) (int, *LoanRecord, bool) {
	positions := l.index[key]
	if len(positions) == 0 {
		return -1, nil, false
	}
	i := positions[0]
	return i, &l.rows[i].Record, true
}

// HasActive reports whether any loan recorded for key is still outstanding.
func (l *LoanLedger) HasActive(key LoanKey) bool {
	for _, i := range l.index[key] {
		if !l.rows[i].Record.Repaid {
			return true
		}
	}
	return false
}

// Append records a new loan after any existing ones for the same key.
func (l *LoanLedger) Append(key LoanKey, rec LoanRecord) {
	l.index[key] = append(l.index[key], len(l.rows))
	l.rows = append(l.rows, LoanEntry{Borrower: key.Borrower, BorrowToken: key.BorrowToken, Record: rec})
}

// MarkRepaid flips the repaid flag of the loan at position i.
func (l *LoanLedger) MarkRepaid(i int) {
	if i < 0 || i >= len(l.rows) {
		return
	}
	l.rows[i].Record.Repaid = true
}

func (l *LoanLedger) Len() int { return len(l.rows) }

// Entries returns a copy of every loan in insertion order.
func (l *LoanLedger) Entries() []LoanEntry {
	out := make([]LoanEntry, len(l.rows))
	copy(out, l.rows)
	return out
}

func (l *LoanLedger) Clone() *LoanLedger {
	out := &LoanLedger{
		rows:  make([]LoanEntry, len(l.rows)),
		index: make(map[LoanKey][]int, len(l.index)),
	}
	copy(out.rows, l.rows)
	for k, positions := range l.index {
		out.index[k] = append([]int(nil), positions...)
	}
	return out
}

func (l *LoanLedger) load(rows []LoanEntry) {
	l.rows = nil
	l.index = make(map[LoanKey][]int)
	for _, row := range rows {
		l.Append(LoanKey{Borrower: row.Borrower, BorrowToken: row.BorrowToken}, row.Record)
	}
}
