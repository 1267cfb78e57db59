package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"lendpool/crypto"
	"lendpool/native/lending"
)

// Error is a custody failure with a stable code.
type Error struct {
	code string
	msg  string
}

func (e *Error) Error() string { return "bank: " + e.msg }

func (e *Error) Code() string { return e.code }

var (
	ErrUnknownWallet       = &Error{code: "UnknownWallet", msg: "wallet not found"}
	ErrWalletExists        = &Error{code: "WalletExists", msg: "wallet already exists"}
	ErrUnauthorized        = &Error{code: "Unauthorized", msg: "authority does not own source wallet"}
	ErrTokenAccountMissing = &Error{code: "TokenAccountMissing", msg: "token account not opened"}
	ErrInsufficientFunds   = &Error{code: "InsufficientFunds", msg: "insufficient funds"}
	ErrBalanceOverflow     = &Error{code: "BalanceOverflow", msg: "balance overflow"}
	ErrInvalidTransfer     = &Error{code: "InvalidTransfer", msg: "invalid transfer"}
	errNilWallet           = errors.New("bank: wallet address required")
)

type wallet struct {
	owner    crypto.Address
	balances map[crypto.Address]uint64
}

// Ledger is an in-memory custody implementation. Each wallet has an owner
// whose authority is required to move funds out of it, and per-token
// accounts that must be opened before they can hold a balance.
type Ledger struct {
	mu      sync.RWMutex
	wallets map[crypto.Address]*wallet
}

var _ lending.Custody = (*Ledger)(nil)

// NewLedger returns an empty custody ledger.
func NewLedger() *Ledger {
	return &Ledger{wallets: make(map[crypto.Address]*wallet)}
}

// OpenWallet registers a wallet controlled by owner.
func (l *Ledger) OpenWallet(account, owner crypto.Address) error {
	if account.IsZero() || owner.IsZero() {
		return errNilWallet
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.wallets[account]; ok {
		return fmt.Errorf("%w: %s", ErrWalletExists, account)
	}
	l.wallets[account] = &wallet{owner: owner, balances: make(map[crypto.Address]uint64)}
	return nil
}

// OpenTokenAccount enables account to hold token. Opening twice is a no-op.
func (l *Ledger) OpenTokenAccount(account, token crypto.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, account)
	}
	if _, ok := w.balances[token]; !ok {
		w.balances[token] = 0
	}
	return nil
}

// Mint credits amount of token to account out of thin air. Used for genesis
// seeding and operator funding.
func (l *Ledger) Mint(account, token crypto.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, account)
	}
	current, ok := w.balances[token]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrTokenAccountMissing, account, token)
	}
	sum, carry := bits.Add64(current, amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	w.balances[token] = sum
	return nil
}

// Holds reports whether account has a token account opened for token.
func (l *Ledger) Holds(account, token crypto.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wallets[account]
	if !ok {
		return false
	}
	_, ok = w.balances[token]
	return ok
}

// Owner returns the controlling identity of account.
func (l *Ledger) Owner(account crypto.Address) (crypto.Address, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wallets[account]
	if !ok {
		return crypto.Address{}, false
	}
	return w.owner, true
}

// Balance returns the amount of token held by account.
func (l *Ledger) Balance(account, token crypto.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wallets[account]
	if !ok {
		return 0
	}
	return w.balances[token]
}

// Total sums the balance of token across every wallet. It fails with
// ErrBalanceOverflow when the supply does not fit in a uint64.
func (l *Ledger) Total(token crypto.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for _, w := range l.wallets {
		sum, carry := bits.Add64(total, w.balances[token], 0)
		if carry != 0 {
			return 0, ErrBalanceOverflow
		}
		total = sum
	}
	return total, nil
}

// Transfer moves funds between wallets. Nothing changes unless every check
// passes.
func (l *Ledger) Transfer(ctx context.Context, t lending.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Amount == 0 || t.From == t.To {
		return ErrInvalidTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	from, ok := l.wallets[t.From]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, t.From)
	}
	to, ok := l.wallets[t.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, t.To)
	}
	if from.owner != t.Authority.Address {
		return fmt.Errorf("%w: %s", ErrUnauthorized, t.From)
	}
	src, ok := from.balances[t.Token]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrTokenAccountMissing, t.From, t.Token)
	}
	dst, ok := to.balances[t.Token]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrTokenAccountMissing, t.To, t.Token)
	}
	if src < t.Amount {
		return fmt.Errorf("%w: have %d need %d", ErrInsufficientFunds, src, t.Amount)
	}
	sum, carry := bits.Add64(dst, t.Amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	from.balances[t.Token] = src - t.Amount
	to.balances[t.Token] = sum
	return nil
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := NewLedger()
	for addr, w := range l.wallets {
		balances := make(map[crypto.Address]uint64, len(w.balances))
		for token, amount := range w.balances {
			balances[token] = amount
		}
		out.wallets[addr] = &wallet{owner: w.owner, balances: balances}
	}
	return out
}

// TokenBalance is one token account in a snapshot.
type TokenBalance struct {
	Token  crypto.Address `json:"token"`
	Amount uint64         `json:"amount"`
}

// WalletSnapshot is the persisted form of a wallet.
type WalletSnapshot struct {
	Account  crypto.Address `json:"account"`
	Owner    crypto.Address `json:"owner"`
	Balances []TokenBalance `json:"balances"`
}

// Snapshot returns every wallet sorted by address.
func (l *Ledger) Snapshot() []WalletSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]WalletSnapshot, 0, len(l.wallets))
	for addr, w := range l.wallets {
		snap := WalletSnapshot{Account: addr, Owner: w.owner}
		for token, amount := range w.balances {
			snap.Balances = append(snap.Balances, TokenBalance{Token: token, Amount: amount})
		}
		sort.Slice(snap.Balances, func(i, j int) bool {
			return snap.Balances[i].Token.Compare(snap.Balances[j].Token) < 0
		})
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Compare(out[j].Account) < 0 })
	return out
}

// Restore builds a ledger from a snapshot.
func Restore(wallets []WalletSnapshot) (*Ledger, error) {
	l := NewLedger()
	for _, snap := range wallets {
		if err := l.OpenWallet(snap.Account, snap.Owner); err != nil {
			return nil, err
		}
		for _, bal := range snap.Balances {
			if err := l.OpenTokenAccount(snap.Account, bal.Token); err != nil {
				return nil, err
			}
			if bal.Amount == 0 {
				continue
			}
			if err := l.Mint(snap.Account, bal.Token, bal.Amount); err != nil {
				return nil, err
			}
		}
	}
	return l, nil
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Snapshot())
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	var wallets []WalletSnapshot
	if err := json.Unmarshal(data, &wallets); err != nil {
		return err
	}
	restored, err := Restore(wallets)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallets = restored.wallets
	return nil
}
