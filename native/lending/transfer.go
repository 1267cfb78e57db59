package lending

import (
	"context"

	"lendpool/crypto"
)

// Authority names the identity authorising a call. The host authenticates the
// signer before the engine sees it.
type Authority struct {
	Address crypto.Address
}

func (a Authority) IsZero() bool { return a.Address.IsZero() }

// Transfer describes a single asset movement between custody accounts.
type Transfer struct {
	From      crypto.Address
	To        crypto.Address
	Token     crypto.Address
	Amount    uint64
	Authority Authority
}

// Custody moves tokens between custody accounts. Transfers are all-or-nothing:
// a returned error means no balance changed.
type Custody interface {
	Transfer(ctx context.Context, t Transfer) error
	// Holds reports whether account has a token account opened for token.
	Holds(account, token crypto.Address) bool
}
