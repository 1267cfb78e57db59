package lending

import (
	"fmt"

	"lendpool/crypto"
)

// InitParams captures the one-time pool configuration.
type InitParams struct {
	CustodyAccount   crypto.Address
	CollateralTokens []crypto.Address
	BorrowTokens     []crypto.Address
}

// Validate checks the parameters before they are applied to a pool.
func (p InitParams) Validate() error {
	if p.CustodyAccount.IsZero() {
		return fmt.Errorf("%w: custody account required", ErrInvalidPoolConfig)
	}
	if len(p.CollateralTokens) == 0 {
		return fmt.Errorf("%w: at least one collateral token required", ErrInvalidPoolConfig)
	}
	if len(p.BorrowTokens) == 0 {
		return fmt.Errorf("%w: at least one borrow token required", ErrInvalidPoolConfig)
	}
	for _, list := range [][]crypto.Address{p.CollateralTokens, p.BorrowTokens} {
		seen := make(map[crypto.Address]struct{}, len(list))
		for _, token := range list {
			if token.IsZero() {
				return fmt.Errorf("%w: empty token identifier", ErrInvalidPoolConfig)
			}
			if token.Prefix() != crypto.TokenPrefix {
				return fmt.Errorf("%w: token %s must use the %q prefix", ErrInvalidPoolConfig, token, crypto.TokenPrefix)
			}
			if _, dup := seen[token]; dup {
				return fmt.Errorf("%w: duplicate token %s", ErrInvalidPoolConfig, token)
			}
			seen[token] = struct{}{}
		}
	}
	return nil
}

// BorrowRequest carries the borrow call arguments.
type BorrowRequest struct {
	BorrowToken      crypto.Address
	BorrowAmount     uint64
	CollateralToken  crypto.Address
	CollateralAmount uint64
}
