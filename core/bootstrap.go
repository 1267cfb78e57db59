package core

import (
	"context"
	"fmt"

	"lendpool/config"
)

// OpBootstrap names the genesis transaction in receipts.
const OpBootstrap = "bootstrap"

// Bootstrap applies genesis in one transaction: it opens the custody wallet
// under the pool authority, seeds the listed wallets and initialises the pool.
// It is a no-op returning ok=false once the pool is initialised.
func (h *Host) Bootstrap(ctx context.Context, g *config.Genesis) (Receipt, bool, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, false, err
	}
	if err := config.ValidateGenesis(g); err != nil {
		return Receipt{}, false, err
	}
	if g.PoolAuthority != h.poolAuthority.Address {
		return Receipt{}, false, fmt.Errorf("core: genesis authority %s does not match host authority %s", g.PoolAuthority, h.poolAuthority.Address)
	}
	if h.Pool().Initialized {
		return Receipt{}, false, nil
	}
	receipt, err := h.apply(OpBootstrap, g.PoolAuthority, func(tx *txn) (Receipt, error) {
		if _, exists := tx.custody.Owner(g.CustodyAccount); !exists {
			if err := tx.custody.OpenWallet(g.CustodyAccount, g.PoolAuthority); err != nil {
				return Receipt{}, fmt.Errorf("core: open custody wallet: %w", err)
			}
		}
		for _, token := range g.AllTokens() {
			if err := tx.custody.OpenTokenAccount(g.CustodyAccount, token); err != nil {
				return Receipt{}, fmt.Errorf("core: open custody token account: %w", err)
			}
		}
		for _, w := range g.Wallets {
			if _, exists := tx.custody.Owner(w.Account); !exists {
				if err := tx.custody.OpenWallet(w.Account, w.OwnerOrSelf()); err != nil {
					return Receipt{}, fmt.Errorf("core: open wallet %s: %w", w.Account, err)
				}
			}
			for _, token := range w.Tokens {
				if err := tx.custody.OpenTokenAccount(w.Account, token); err != nil {
					return Receipt{}, fmt.Errorf("core: open token account for %s: %w", w.Account, err)
				}
			}
			for _, bal := range w.Balances {
				if bal.Amount == 0 {
					continue
				}
				if err := tx.custody.Mint(w.Account, bal.Token, bal.Amount); err != nil {
					return Receipt{}, fmt.Errorf("core: seed %s: %w", w.Account, err)
				}
			}
		}
		if err := tx.engine.Initialize(tx.pool, g.InitParams()); err != nil {
			return Receipt{}, err
		}
		return Receipt{}, nil
	})
	if err != nil {
		return Receipt{}, false, err
	}
	return receipt, true, nil
}
