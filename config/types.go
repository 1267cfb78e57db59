package config

import (
	"lendpool/crypto"
)

// Genesis captures the one-time pool setup and the custody wallets seeded
// alongside it.
type Genesis struct {
	PoolAuthority         crypto.Address   `toml:"PoolAuthority"`
	PoolAuthorityKeystore string           `toml:"PoolAuthorityKeystore"`
	CustodyAccount        crypto.Address   `toml:"CustodyAccount"`
	CollateralTokens      []crypto.Address `toml:"CollateralTokens"`
	BorrowTokens          []crypto.Address `toml:"BorrowTokens"`
	Wallets               []Wallet         `toml:"Wallets"`
	Pauses                Pauses           `toml:"Pauses"`
}

// Wallet seeds a custody wallet with opened token accounts and balances.
type Wallet struct {
	Account  crypto.Address   `toml:"Account"`
	Owner    crypto.Address   `toml:"Owner,omitempty"`
	Tokens   []crypto.Address `toml:"Tokens"`
	Balances []Balance        `toml:"Balances,omitempty"`
}

// Balance is an initial token balance for a seeded wallet.
type Balance struct {
	Token  crypto.Address `toml:"Token"`
	Amount uint64         `toml:"Amount"`
}

type Pauses struct {
	Lending bool `toml:"Lending"`
}

// OwnerOrSelf returns the wallet owner, defaulting to the account itself.
func (w Wallet) OwnerOrSelf() crypto.Address {
	if w.Owner.IsZero() {
		return w.Account
	}
	return w.Owner
}
