package bank

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"lendpool/crypto"
	"lendpool/native/lending"
)

func addr(prefix crypto.AddressPrefix, fill byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.MustNewAddress(prefix, raw)
}

func setup(t *testing.T) (*Ledger, crypto.Address, crypto.Address, crypto.Address) {
	t.Helper()
	l := NewLedger()
	alice := addr(crypto.ParticipantPrefix, 1)
	bob := addr(crypto.ParticipantPrefix, 2)
	token := addr(crypto.TokenPrefix, 9)
	for _, a := range []crypto.Address{alice, bob} {
		if err := l.OpenWallet(a, a); err != nil {
			t.Fatalf("open wallet: %v", err)
		}
		if err := l.OpenTokenAccount(a, token); err != nil {
			t.Fatalf("open token account: %v", err)
		}
	}
	if err := l.Mint(alice, token, 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return l, alice, bob, token
}

func TestTransferMovesFunds(t *testing.T) {
	l, alice, bob, token := setup(t)
	err := l.Transfer(context.Background(), lending.Transfer{
		From: alice, To: bob, Token: token, Amount: 40,
		Authority: lending.Authority{Address: alice},
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if l.Balance(alice, token) != 60 || l.Balance(bob, token) != 40 {
		t.Fatalf("unexpected balances alice=%d bob=%d", l.Balance(alice, token), l.Balance(bob, token))
	}
	if total, err := l.Total(token); err != nil || total != 100 {
		t.Fatalf("expected supply conserved, got %d (%v)", total, err)
	}
}

func TestTransferRejections(t *testing.T) {
	l, alice, bob, token := setup(t)
	other := addr(crypto.TokenPrefix, 7)
	stranger := addr(crypto.ParticipantPrefix, 3)
	ctx := context.Background()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	cases := []struct {
		name string
		ctx  context.Context
		tr   lending.Transfer
		want error
	}{
		{"cancelled", cancelled, lending.Transfer{From: alice, To: bob, Token: token, Amount: 1, Authority: lending.Authority{Address: alice}}, context.Canceled},
		{"zero amount", ctx, lending.Transfer{From: alice, To: bob, Token: token, Authority: lending.Authority{Address: alice}}, ErrInvalidTransfer},
		{"unknown source", ctx, lending.Transfer{From: stranger, To: bob, Token: token, Amount: 1, Authority: lending.Authority{Address: stranger}}, ErrUnknownWallet},
		{"wrong authority", ctx, lending.Transfer{From: alice, To: bob, Token: token, Amount: 1, Authority: lending.Authority{Address: bob}}, ErrUnauthorized},
		{"unopened token", ctx, lending.Transfer{From: alice, To: bob, Token: other, Amount: 1, Authority: lending.Authority{Address: alice}}, ErrTokenAccountMissing},
		{"insufficient", ctx, lending.Transfer{From: alice, To: bob, Token: token, Amount: 101, Authority: lending.Authority{Address: alice}}, ErrInsufficientFunds},
	}
	for _, tc := range cases {
		if err := l.Transfer(tc.ctx, tc.tr); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if l.Balance(alice, token) != 100 || l.Balance(bob, token) != 0 {
		t.Fatalf("rejected transfers must not move funds")
	}
	if lending.CodeOf(ErrUnauthorized) != "Unauthorized" || lending.ClassOf(ErrUnauthorized) != lending.ClassTransfer {
		t.Fatalf("bank errors should classify as transfer failures")
	}
}

func TestTransferOverflow(t *testing.T) {
	l, alice, bob, token := setup(t)
	if err := l.Mint(bob, token, math.MaxUint64); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := l.Transfer(context.Background(), lending.Transfer{
		From: alice, To: bob, Token: token, Amount: 1,
		Authority: lending.Authority{Address: alice},
	})
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}

func TestTotalReportsSupplyOverflow(t *testing.T) {
	l, alice, bob, token := setup(t)
	if err := l.Mint(alice, token, math.MaxUint64-100); err != nil {
		t.Fatalf("mint alice: %v", err)
	}
	if total, err := l.Total(token); err != nil || total != math.MaxUint64 {
		t.Fatalf("expected full supply %d, got %d (%v)", uint64(math.MaxUint64), total, err)
	}
	if err := l.Mint(bob, token, math.MaxUint64); err != nil {
		t.Fatalf("mint bob: %v", err)
	}
	if total, err := l.Total(token); !errors.Is(err, ErrBalanceOverflow) || total != 0 {
		t.Fatalf("expected ErrBalanceOverflow, got %d (%v)", total, err)
	}
}

func TestCloneAndSnapshot(t *testing.T) {
	l, alice, bob, token := setup(t)
	clone := l.Clone()
	if err := clone.Mint(bob, token, 5); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if l.Balance(bob, token) != 0 {
		t.Fatalf("expected original unaffected by clone")
	}

	raw, err := json.Marshal(clone)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewLedger()
	if err := json.Unmarshal(raw, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.Balance(alice, token) != 100 || restored.Balance(bob, token) != 5 {
		t.Fatalf("unexpected restored balances")
	}
	if !restored.Holds(bob, token) {
		t.Fatalf("expected token account to survive restore")
	}
	if owner, ok := restored.Owner(alice); !ok || owner != alice {
		t.Fatalf("unexpected owner %s", owner)
	}
	if err := restored.OpenWallet(alice, alice); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
}
