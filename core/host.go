package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"lendpool/core/events"
	"lendpool/crypto"
	"lendpool/native/bank"
	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
)

// Operation names used in receipts, logs and metrics.
const (
	OpInitialize = "initialize"
	OpLend       = "lend"
	OpBorrow     = "borrow"
	OpWithdraw   = "withdraw"
	OpRepay      = "repay"
	OpOpenWallet = "open_wallet"
	OpMint       = "mint"
)

var errHostNotLoaded = errors.New("core: host not loaded")

// Receipt describes a committed call.
type Receipt struct {
	ID          string              `json:"id"`
	Op          string              `json:"op"`
	Participant crypto.Address      `json:"participant"`
	Token       crypto.Address      `json:"token"`
	Amount      uint64              `json:"amount"`
	Loan        *lending.LoanRecord `json:"loan,omitempty"`
	Events      []events.Event      `json:"events"`
	StateHash   string              `json:"stateHash"`
	Time        time.Time           `json:"time"`
}

// Observer receives per-call outcomes and the committed pool state.
type Observer interface {
	ObserveOperation(op string, duration time.Duration, err error)
	ObservePool(pool *lending.Pool)
}

// HostConfig wires the host collaborators.
type HostConfig struct {
	Store         *StateStore
	Emitter       events.Emitter
	Pauses        nativecommon.PauseView
	Observer      Observer
	Logger        *slog.Logger
	PoolAuthority crypto.Address
	Now           func() time.Time
}

// Host owns the pool and custody ledger and runs every call as an atomic
// transaction: the engine works on clones which replace the live state only
// after the call succeeded and was persisted.
type Host struct {
	mu            sync.Mutex
	pool          *lending.Pool
	custody       *bank.Ledger
	engine        *lending.Engine
	store         *StateStore
	emitter       events.Emitter
	observer      Observer
	logger        *slog.Logger
	poolAuthority lending.Authority
	now           func() time.Time
}

// NewHost loads persisted state from cfg.Store, falling back to an empty
// pool and custody ledger.
func NewHost(cfg HostConfig) (*Host, error) {
	h := &Host{
		store:         cfg.Store,
		emitter:       cfg.Emitter,
		observer:      cfg.Observer,
		logger:        cfg.Logger,
		poolAuthority: lending.Authority{Address: cfg.PoolAuthority},
		now:           cfg.Now,
	}
	if h.emitter == nil {
		h.emitter = events.NoopEmitter{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	state, ok, err := h.store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		h.pool, h.custody = state.Pool, state.Custody
	} else {
		h.pool, h.custody = lending.NewPool(), bank.NewLedger()
	}
	h.engine = lending.NewEngine(h.custody)
	h.engine.SetPauses(cfg.Pauses)
	if h.observer != nil {
		h.observer.ObservePool(h.pool.Clone())
	}
	return h, nil
}

// PoolAuthority returns the identity that controls pool custody.
func (h *Host) PoolAuthority() crypto.Address { return h.poolAuthority.Address }

type txn struct {
	pool    *lending.Pool
	custody *bank.Ledger
	engine  *lending.Engine
	events  *events.Buffer
}

// apply runs fn against scratch state and commits it when fn succeeds.
func (h *Host) apply(op string, participant crypto.Address, fn func(tx *txn) (Receipt, error)) (Receipt, error) {
	start := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool == nil || h.custody == nil {
		return Receipt{}, errHostNotLoaded
	}

	buf := &events.Buffer{}
	tx := &txn{pool: h.pool.Clone(), custody: h.custody.Clone(), events: buf}
	tx.engine = h.engine.WithCustody(tx.custody, buf)

	receipt, err := fn(tx)
	if err == nil {
		state := State{Pool: tx.pool, Custody: tx.custody}
		if receipt.StateHash, err = h.store.Save(state); err != nil {
			err = fmt.Errorf("core: persist state: %w", err)
		}
	}
	h.observe(op, start, err)
	if err != nil {
		h.logger.Warn("lending call rejected",
			slog.String("op", op),
			slog.String("participant", participant.String()),
			slog.String("code", lending.CodeOf(err)),
			slog.String("class", string(lending.ClassOf(err))),
			slog.Any("error", err))
		return Receipt{}, err
	}

	h.pool, h.custody = tx.pool, tx.custody
	h.engine.SetCustody(h.custody)

	receipt.ID = uuid.NewString()
	receipt.Op = op
	receipt.Participant = participant
	receipt.Time = h.now().UTC()
	receipt.Events = buf.Events()
	buf.Flush(h.emitter)
	if h.observer != nil {
		h.observer.ObservePool(h.pool.Clone())
	}
	h.logger.Info("lending call committed",
		slog.String("op", op),
		slog.String("receipt", receipt.ID),
		slog.String("participant", participant.String()),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (h *Host) observe(op string, start time.Time, err error) {
	if h.observer == nil {
		return
	}
	h.observer.ObserveOperation(op, h.now().Sub(start), err)
}

// Initialize fixes the pool configuration. The pool custody wallet must
// already exist and be owned by the pool authority.
func (h *Host) Initialize(ctx context.Context, params lending.InitParams) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	return h.apply(OpInitialize, h.poolAuthority.Address, func(tx *txn) (Receipt, error) {
		owner, ok := tx.custody.Owner(params.CustodyAccount)
		if !ok {
			return Receipt{}, fmt.Errorf("%w: custody wallet %s not opened", lending.ErrInvalidPoolConfig, params.CustodyAccount)
		}
		if owner != h.poolAuthority.Address {
			return Receipt{}, fmt.Errorf("%w: custody wallet is not controlled by the pool authority", lending.ErrInvalidPoolConfig)
		}
		if err := tx.engine.Initialize(tx.pool, params); err != nil {
			return Receipt{}, err
		}
		return Receipt{}, nil
	})
}

// OpenWallet registers a custody wallet with the given token accounts.
func (h *Host) OpenWallet(ctx context.Context, account, owner crypto.Address, tokens ...crypto.Address) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	return h.apply(OpOpenWallet, account, func(tx *txn) (Receipt, error) {
		if _, exists := tx.custody.Owner(account); !exists {
			if err := tx.custody.OpenWallet(account, owner); err != nil {
				return Receipt{}, err
			}
		}
		for _, token := range tokens {
			if err := tx.custody.OpenTokenAccount(account, token); err != nil {
				return Receipt{}, err
			}
		}
		return Receipt{}, nil
	})
}

// Mint credits custody funds to account.
func (h *Host) Mint(ctx context.Context, account, token crypto.Address, amount uint64) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	return h.apply(OpMint, account, func(tx *txn) (Receipt, error) {
		if err := tx.custody.Mint(account, token, amount); err != nil {
			return Receipt{}, err
		}
		tx.events.Emit(events.Event{
			Type: "bank.minted",
			Attributes: map[string]string{
				"account": account.String(),
				"token":   token.String(),
				"amount":  strconv.FormatUint(amount, 10),
			},
		})
		return Receipt{Token: token, Amount: amount}, nil
	})
}

// Lend deposits collateral on behalf of the authenticated participant.
func (h *Host) Lend(ctx context.Context, participant, token crypto.Address, amount uint64) (Receipt, error) {
	return h.apply(OpLend, participant, func(tx *txn) (Receipt, error) {
		if err := tx.engine.Lend(ctx, tx.pool, lending.Authority{Address: participant}, token, amount); err != nil {
			return Receipt{}, err
		}
		return Receipt{Token: token, Amount: amount}, nil
	})
}

// Borrow opens a loan for the authenticated participant.
func (h *Host) Borrow(ctx context.Context, participant crypto.Address, req lending.BorrowRequest) (Receipt, error) {
	return h.apply(OpBorrow, participant, func(tx *txn) (Receipt, error) {
		if err := tx.engine.Borrow(ctx, tx.pool, lending.Authority{Address: participant}, h.poolAuthority, req); err != nil {
			return Receipt{}, err
		}
		loan := lending.LoanRecord{
			AmountBorrowed:   req.BorrowAmount,
			CollateralAmount: req.CollateralAmount,
			CollateralToken:  req.CollateralToken,
		}
		return Receipt{Token: req.BorrowToken, Amount: req.BorrowAmount, Loan: &loan}, nil
	})
}

// Withdraw returns the participant's entire deposit of token.
func (h *Host) Withdraw(ctx context.Context, participant, token crypto.Address) (Receipt, error) {
	return h.apply(OpWithdraw, participant, func(tx *txn) (Receipt, error) {
		amount, err := tx.engine.Withdraw(ctx, tx.pool, lending.Authority{Address: participant}, h.poolAuthority, token)
		if err != nil {
			return Receipt{}, err
		}
		return Receipt{Token: token, Amount: amount}, nil
	})
}

// Repay settles the participant's loan in borrowToken.
func (h *Host) Repay(ctx context.Context, participant, borrowToken crypto.Address) (Receipt, error) {
	return h.apply(OpRepay, participant, func(tx *txn) (Receipt, error) {
		loan, err := tx.engine.Repay(ctx, tx.pool, lending.Authority{Address: participant}, h.poolAuthority, borrowToken)
		if err != nil {
			return Receipt{}, err
		}
		return Receipt{Token: borrowToken, Amount: loan.AmountBorrowed, Loan: &loan}, nil
	})
}

// Pool returns a snapshot of the committed pool.
func (h *Host) Pool() *lending.Pool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pool.Clone()
}

// Balance returns the committed custody balance of account for token.
func (h *Host) Balance(account, token crypto.Address) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.custody.Balance(account, token)
}

// Wallets returns the committed custody snapshot.
func (h *Host) Wallets() []bank.WalletSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.custody.Snapshot()
}
