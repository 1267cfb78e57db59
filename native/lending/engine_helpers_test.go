package lending

import (
	"context"
	"errors"
	"testing"

	"lendpool/core/events"
	"lendpool/crypto"
)

var errMockTransfer = errors.New("mock custody: transfer rejected")

type balanceKey struct {
	account crypto.Address
	token   crypto.Address
}

type mockCustody struct {
	owners    map[crypto.Address]crypto.Address
	opened    map[balanceKey]bool
	balances  map[balanceKey]uint64
	transfers []Transfer
	failNext  bool
}

func newMockCustody() *mockCustody {
	return &mockCustody{
		owners:   make(map[crypto.Address]crypto.Address),
		opened:   make(map[balanceKey]bool),
		balances: make(map[balanceKey]uint64),
	}
}

func (m *mockCustody) open(account, owner crypto.Address, tokens ...crypto.Address) {
	m.owners[account] = owner
	for _, token := range tokens {
		m.opened[balanceKey{account, token}] = true
	}
}

func (m *mockCustody) fund(account, token crypto.Address, amount uint64) {
	m.opened[balanceKey{account, token}] = true
	m.balances[balanceKey{account, token}] += amount
}

func (m *mockCustody) balance(account, token crypto.Address) uint64 {
	return m.balances[balanceKey{account, token}]
}

func (m *mockCustody) Holds(account, token crypto.Address) bool {
	return m.opened[balanceKey{account, token}]
}

func (m *mockCustody) Transfer(_ context.Context, t Transfer) error {
	if m.failNext {
		m.failNext = false
		return errMockTransfer
	}
	if m.owners[t.From] != t.Authority.Address {
		return errMockTransfer
	}
	from := balanceKey{t.From, t.Token}
	to := balanceKey{t.To, t.Token}
	if !m.opened[from] || !m.opened[to] || m.balances[from] < t.Amount {
		return errMockTransfer
	}
	m.balances[from] -= t.Amount
	m.balances[to] += t.Amount
	m.transfers = append(m.transfers, t)
	return nil
}

func (m *mockCustody) clone() *mockCustody {
	out := newMockCustody()
	for k, v := range m.owners {
		out.owners[k] = v
	}
	for k, v := range m.opened {
		out.opened[k] = v
	}
	for k, v := range m.balances {
		out.balances[k] = v
	}
	out.transfers = append([]Transfer(nil), m.transfers...)
	return out
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func makeAddress(prefix crypto.AddressPrefix, fill byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.MustNewAddress(prefix, raw)
}

// fixture is a pool initialised with collateral token C and borrow token B.
// Token B is pre-funded into pool custody as borrowable liquidity by a
// dedicated liquidity provider.
type fixture struct {
	engine    *Engine
	pool      *Pool
	custody   *mockCustody
	emitted   *events.Buffer
	authority Authority
	poolAcct  crypto.Address
	tokenC    crypto.Address
	tokenB    crypto.Address
	alice     Authority
	bob       Authority
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		custody:   newMockCustody(),
		emitted:   &events.Buffer{},
		authority: Authority{Address: makeAddress(crypto.ParticipantPrefix, 0xA0)},
		poolAcct:  makeAddress(crypto.ParticipantPrefix, 0xA1),
		tokenC:    makeAddress(crypto.TokenPrefix, 0xC0),
		tokenB:    makeAddress(crypto.TokenPrefix, 0xB0),
		alice:     Authority{Address: makeAddress(crypto.ParticipantPrefix, 0x01)},
		bob:       Authority{Address: makeAddress(crypto.ParticipantPrefix, 0x02)},
	}
	f.custody.open(f.poolAcct, f.authority.Address, f.tokenC, f.tokenB)
	f.custody.open(f.alice.Address, f.alice.Address, f.tokenC, f.tokenB)
	f.custody.open(f.bob.Address, f.bob.Address, f.tokenC, f.tokenB)
	f.custody.fund(f.alice.Address, f.tokenC, 10_000)
	f.custody.fund(f.bob.Address, f.tokenC, 10_000)
	f.custody.fund(f.bob.Address, f.tokenB, 10_000)

	f.engine = NewEngine(f.custody)
	f.engine.SetEmitter(f.emitted)
	f.pool = NewPool()
	params := InitParams{
		CustodyAccount:   f.poolAcct,
		CollateralTokens: []crypto.Address{f.tokenC, f.tokenB},
		BorrowTokens:     []crypto.Address{f.tokenB},
	}
	if err := f.engine.Initialize(f.pool, params); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return f
}

// seedBorrowLiquidity has bob lend token B so the pool can lend it out.
func (f *fixture) seedBorrowLiquidity(t *testing.T, amount uint64) {
	t.Helper()
	if err := f.engine.Lend(context.Background(), f.pool, f.bob, f.tokenB, amount); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
}

// atomically runs fn against scratch copies of the pool and custody and keeps
// them only when fn succeeds, mirroring the host's transaction boundary.
func (f *fixture) atomically(fn func(e *Engine, p *Pool) error) error {
	scratchPool := f.pool.Clone()
	scratchCustody := f.custody.clone()
	err := fn(f.engine.WithCustody(scratchCustody, f.emitted), scratchPool)
	if err != nil {
		return err
	}
	f.pool = scratchPool
	f.custody = scratchCustody
	f.engine.SetCustody(scratchCustody)
	return nil
}
