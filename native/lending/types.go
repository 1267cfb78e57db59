package lending

import (
	"lendpool/crypto"
)

// LoanRecord tracks a single borrow against reserved collateral.
type LoanRecord struct {
	// AmountBorrowed is the quantity of the borrow token sent to the borrower.
	AmountBorrowed uint64 `json:"amountBorrowed"`
	// CollateralAmount is the quantity reserved from the borrower's lender
	// entry when the loan was opened.
	CollateralAmount uint64 `json:"collateralAmount"`
	// CollateralToken identifies the token backing the loan.
	CollateralToken crypto.Address `json:"collateralToken"`
	// Repaid is set once and never cleared.
	Repaid bool `json:"repaid"`
}

// Active reports whether the loan still counts against its borrower.
func (l LoanRecord) Active() bool { return !l.Repaid }

// LoanEntry is a loan together with the key it was recorded under.
type LoanEntry struct {
	Borrower    crypto.Address `json:"borrower"`
	BorrowToken crypto.Address `json:"borrowToken"`
	Record      LoanRecord     `json:"record"`
}

// LenderKey identifies a deposit position.
type LenderKey struct {
	Participant crypto.Address `json:"participant"`
	Token       crypto.Address `json:"token"`
}

// LoanKey identifies the loans a participant holds in a borrow token.
type LoanKey struct {
	Borrower    crypto.Address
	BorrowToken crypto.Address
}

// Pool is the single aggregate mutated by the engine. It is created once by
// Initialize and handed to every operation explicitly.
type Pool struct {
	Initialized bool
	// CustodyAccount is the pool's custody wallet. Deposits and repayments are
	// sent to it and borrows and withdrawals are paid out of it.
	CustodyAccount   crypto.Address
	CollateralTokens TokenSet
	BorrowTokens     TokenSet

	lenders   *LenderLedger
	loans     *LoanLedger
	liquidity *LiquidityLedger
}

// NewPool returns an uninitialised pool with empty ledgers.
func NewPool() *Pool {
	return &Pool{
		lenders:   NewLenderLedger(),
		loans:     NewLoanLedger(),
		liquidity: NewLiquidityLedger(),
	}
}

func (p *Pool) ensureLedgers() {
	if p.lenders == nil {
		p.lenders = NewLenderLedger()
	}
	if p.loans == nil {
		p.loans = NewLoanLedger()
	}
	if p.liquidity == nil {
		p.liquidity = NewLiquidityLedger()
	}
}

// Clone returns a deep copy of the pool. The host runs each call against a
// clone and only swaps it in when the call succeeds.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	p.ensureLedgers()
	return &Pool{
		Initialized:      p.Initialized,
		CustodyAccount:   p.CustodyAccount,
		CollateralTokens: p.CollateralTokens.Clone(),
		BorrowTokens:     p.BorrowTokens.Clone(),
		lenders:          p.lenders.Clone(),
		loans:            p.loans.Clone(),
		liquidity:        p.liquidity.Clone(),
	}
}

// Lent returns the collateral a participant has available for token.
func (p *Pool) Lent(participant, token crypto.Address) (uint64, bool) {
	p.ensureLedgers()
	return p.lenders.Find(LenderKey{Participant: participant, Token: token})
}

// Liquidity returns the pool's tracked custody for token.
func (p *Pool) Liquidity(token crypto.Address) (uint64, bool) {
	p.ensureLedgers()
	return p.liquidity.Find(token)
}

// Loan returns the first loan recorded for borrower in borrowToken.
func (p *Pool) Loan(borrower, borrowToken crypto.Address) (LoanRecord, bool) {
	p.ensureLedgers()
	_, rec, ok := p.loans.First(LoanKey{Borrower: borrower, BorrowToken: borrowToken})
	if !ok {
		return LoanRecord{}, false
	}
	return *rec, true
}

// LoansOf returns every loan recorded for borrower in insertion order.
func (p *Pool) LoansOf(borrower crypto.Address) []LoanEntry {
	p.ensureLedgers()
	var out []LoanEntry
	for _, entry := range p.loans.Entries() {
		if entry.Borrower == borrower {
			out = append(out, entry)
		}
	}
	return out
}

// Lenders returns every lender entry in insertion order, zeroed ones included.
func (p *Pool) Lenders() []LedgerEntry[LenderKey] {
	p.ensureLedgers()
	return p.lenders.Entries()
}

// LiquidityEntries returns the per-token liquidity in insertion order.
func (p *Pool) LiquidityEntries() []LedgerEntry[crypto.Address] {
	p.ensureLedgers()
	return p.liquidity.Entries()
}

// Loans returns every loan in insertion order.
func (p *Pool) Loans() []LoanEntry {
	p.ensureLedgers()
	return p.loans.Entries()
}

// PoolStats summarises the ledgers for monitoring.
type PoolStats struct {
	Lenders      int
	Loans        int
	ActiveLoans  int
	Tokens       int
	OpenBorrowed map[crypto.Address]uint64
}

// Stats aggregates the pool ledgers.
func (p *Pool) Stats() PoolStats {
	p.ensureLedgers()
	stats := PoolStats{
		Lenders:      p.lenders.Len(),
		Loans:        p.loans.Len(),
		Tokens:       p.liquidity.Len(),
		OpenBorrowed: make(map[crypto.Address]uint64),
	}
	for _, entry := range p.loans.Entries() {
		if entry.Record.Repaid {
			continue
		}
		stats.ActiveLoans++
		stats.OpenBorrowed[entry.BorrowToken] += entry.Record.AmountBorrowed
	}
	return stats
}

// TokenSet is an insertion-ordered set of token identifiers.
type TokenSet struct {
	order []crypto.Address
	index map[crypto.Address]struct{}
}

// NewTokenSet builds a set, dropping duplicates and zero addresses.
func NewTokenSet(tokens ...crypto.Address) TokenSet {
	set := TokenSet{index: make(map[crypto.Address]struct{}, len(tokens))}
	for _, token := range tokens {
		if token.IsZero() {
			continue
		}
		if _, ok := set.index[token]; ok {
			continue
		}
		set.index[token] = struct{}{}
		set.order = append(set.order, token)
	}
	return set
}

// Contains reports whether token is a member.
func (s TokenSet) Contains(token crypto.Address) bool {
	_, ok := s.index[token]
	return ok
}

// Tokens returns the members in insertion order.
func (s TokenSet) Tokens() []crypto.Address {
	out := make([]crypto.Address, len(s.order))
	copy(out, s.order)
	return out
}

func (s TokenSet) Len() int { return len(s.order) }

func (s TokenSet) Clone() TokenSet { return NewTokenSet(s.order...) }
