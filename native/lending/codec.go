package lending

import (
	"encoding/json"

	"lendpool/crypto"
)

// poolSnapshot is the persisted layout of a Pool. Ledgers are stored as
// ordered arrays so first-match resolution survives a reload.
type poolSnapshot struct {
	Initialized      bool                          `json:"initialized"`
	CustodyAccount   crypto.Address                `json:"custodyAccount"`
	CollateralTokens []crypto.Address              `json:"collateralTokens"`
	BorrowTokens     []crypto.Address              `json:"borrowTokens"`
	Lenders          []LedgerEntry[LenderKey]      `json:"lenders"`
	Loans            []LoanEntry                   `json:"loans"`
	Liquidity        []LedgerEntry[crypto.Address] `json:"poolLiquidity"`
}

// MarshalJSON encodes the pool with every ledger in insertion order.
func (p *Pool) MarshalJSON() ([]byte, error) {
	p.ensureLedgers()
	return json.Marshal(poolSnapshot{
		Initialized:      p.Initialized,
		CustodyAccount:   p.CustodyAccount,
		CollateralTokens: p.CollateralTokens.Tokens(),
		BorrowTokens:     p.BorrowTokens.Tokens(),
		Lenders:          p.lenders.Entries(),
		Loans:            p.loans.Entries(),
		Liquidity:        p.liquidity.Entries(),
	})
}

// UnmarshalJSON restores a pool written by MarshalJSON.
func (p *Pool) UnmarshalJSON(data []byte) error {
	var snap poolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	p.Initialized = snap.Initialized
	p.CustodyAccount = snap.CustodyAccount
	p.CollateralTokens = NewTokenSet(snap.CollateralTokens...)
	p.BorrowTokens = NewTokenSet(snap.BorrowTokens...)
	p.lenders = NewLenderLedger()
	p.lenders.load(snap.Lenders)
	p.loans = NewLoanLedger()
	p.loans.load(snap.Loans)
	p.liquidity = NewLiquidityLedger()
	p.liquidity.load(snap.Liquidity)
	return nil
}
