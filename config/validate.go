package config

import (
	"fmt"

	"lendpool/crypto"
	"lendpool/native/lending"
)

// InitParams returns the engine initialisation parameters.
func (g *Genesis) InitParams() lending.InitParams {
	return lending.InitParams{
		CustodyAccount:   g.CustodyAccount,
		CollateralTokens: append([]crypto.Address(nil), g.CollateralTokens...),
		BorrowTokens:     append([]crypto.Address(nil), g.BorrowTokens...),
	}
}

// UnfundedBorrowTokens lists borrow tokens missing from the collateral
// allow-list. Lend only accepts collateral tokens, so the pool can never hold
// liquidity for them.
func (g *Genesis) UnfundedBorrowTokens() []crypto.Address {
	collateral := make(map[crypto.Address]struct{}, len(g.CollateralTokens))
	for _, token := range g.CollateralTokens {
		collateral[token] = struct{}{}
	}
	var out []crypto.Address
	for _, token := range g.BorrowTokens {
		if _, ok := collateral[token]; !ok {
			out = append(out, token)
		}
	}
	return out
}

// AllTokens returns the union of both allow-lists in declaration order.
func (g *Genesis) AllTokens() []crypto.Address {
	seen := make(map[crypto.Address]struct{})
	var out []crypto.Address
	for _, list := range [][]crypto.Address{g.CollateralTokens, g.BorrowTokens} {
		for _, token := range list {
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
		}
	}
	return out
}

func ValidateGenesis(g *Genesis) error {
	if g == nil {
		return fmt.Errorf("genesis: missing")
	}
	if g.PoolAuthority.IsZero() {
		return fmt.Errorf("genesis: PoolAuthority required")
	}
	if g.PoolAuthority.Prefix() != crypto.ParticipantPrefix {
		return fmt.Errorf("genesis: PoolAuthority must use the %q prefix", crypto.ParticipantPrefix)
	}
	if g.CustodyAccount == g.PoolAuthority {
		return fmt.Errorf("genesis: CustodyAccount must differ from PoolAuthority")
	}
	if err := g.InitParams().Validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if unfunded := g.UnfundedBorrowTokens(); len(unfunded) > 0 {
		return fmt.Errorf("genesis: borrow token %s is not a collateral token and can never be lent", unfunded[0])
	}
	accounts := map[crypto.Address]struct{}{g.CustodyAccount: {}}
	for i, w := range g.Wallets {
		if w.Account.IsZero() {
			return fmt.Errorf("genesis: wallets[%d]: Account required", i)
		}
		if _, dup := accounts[w.Account]; dup {
			return fmt.Errorf("genesis: wallets[%d]: duplicate account %s", i, w.Account)
		}
		accounts[w.Account] = struct{}{}
		opened := make(map[crypto.Address]struct{}, len(w.Tokens))
		for _, token := range w.Tokens {
			opened[token] = struct{}{}
		}
		for _, bal := range w.Balances {
			if _, ok := opened[bal.Token]; !ok {
				return fmt.Errorf("genesis: wallets[%d]: balance for %s without an opened token account", i, bal.Token)
			}
		}
	}
	return nil
}
