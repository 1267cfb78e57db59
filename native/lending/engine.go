package lending

import (
	"context"
	"errors"

	"lendpool/core/events"
	"lendpool/crypto"
	nativecommon "lendpool/native/common"
)

var (
	errNilPool   = errors.New("lending engine: pool not provided")
	errNilEngine = errors.New("lending engine: engine not configured")
)

const moduleName = "lending"

// ModuleName is the pause key guarding every mutating call.
const ModuleName = moduleName

// Engine applies lend, borrow, withdraw and repay to a Pool. It holds no pool
// state of its own; callers pass the aggregate into each call.
type Engine struct {
	custody Custody
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewEngine constructs an engine moving assets through custody.
func NewEngine(custody Custody) *Engine {
	return &Engine{custody: custody, emitter: events.NoopEmitter{}}
}

// SetCustody wires the asset transfer collaborator.
func (e *Engine) SetCustody(c Custody) {
	if e == nil {
		return
	}
	e.custody = c
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// WithCustody returns a copy of the engine bound to another custody and event
// sink. The host uses it to run a call against scratch state.
func (e *Engine) WithCustody(c Custody, emitter events.Emitter) *Engine {
	if e == nil {
		return nil
	}
	clone := *e
	clone.custody = c
	if emitter != nil {
		clone.emitter = emitter
	}
	return &clone
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

// ready runs the checks shared by every mutating call on an initialised pool.
func (e *Engine) ready(pool *Pool, participant Authority) error {
	if e == nil {
		return errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.custody == nil {
		return ErrCustodyNotConfigured
	}
	if pool == nil {
		return errNilPool
	}
	if !pool.Initialized {
		return ErrPoolNotInitialized
	}
	pool.ensureLedgers()
	if participant.IsZero() {
		return ErrInvalidParticipant
	}
	return nil
}

// Initialize fixes the pool custody account and allow-lists. It may only run
// once per pool.
func (e *Engine) Initialize(pool *Pool, params InitParams) error {
	if e == nil {
		return errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if pool == nil {
		return errNilPool
	}
	if pool.Initialized {
		return ErrPoolAlreadyInitialized
	}
	if err := params.Validate(); err != nil {
		return err
	}
	pool.ensureLedgers()
	pool.CustodyAccount = params.CustodyAccount
	pool.CollateralTokens = NewTokenSet(params.CollateralTokens...)
	pool.BorrowTokens = NewTokenSet(params.BorrowTokens...)
	pool.Initialized = true
	e.emit(NewInitializedEvent(pool))
	return nil
}

// Lend deposits amount of token from the lender's custody account into the
// pool and credits it as collateral.
func (e *Engine) Lend(ctx context.Context, pool *Pool, lender Authority, token crypto.Address, amount uint64) error {
	if err := e.ready(pool, lender); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if !pool.CollateralTokens.Contains(token) {
		return ErrInvalidCollateralToken
	}
	key := LenderKey{Participant: lender.Address, Token: token}
	if err := pool.lenders.CanAdd(key, amount); err != nil {
		return err
	}
	if err := pool.liquidity.CanAdd(token, amount); err != nil {
		return err
	}
	if err := e.custody.Transfer(ctx, Transfer{
		From:      lender.Address,
		To:        pool.CustodyAccount,
		Token:     token,
		Amount:    amount,
		Authority: lender,
	}); err != nil {
		return err
	}
	if err := pool.lenders.Add(key, amount); err != nil {
		return err
	}
	if err := pool.liquidity.Add(token, amount); err != nil {
		return err
	}
	balance, _ := pool.lenders.Find(key)
	e.emit(NewLentEvent(lender.Address, token, amount, balance))
	return nil
}

// Borrow reserves collateral from the borrower's lender entry and pays out
// the borrow token from pool custody under the pool authority.
func (e *Engine) Borrow(ctx context.Context, pool *Pool, borrower, poolAuthority Authority, req BorrowRequest) error {
	if err := e.ready(pool, borrower); err != nil {
		return err
	}
	if req.BorrowAmount == 0 {
		return ErrInvalidAmount
	}
	if !pool.BorrowTokens.Contains(req.BorrowToken) {
		return ErrInvalidBorrowToken
	}
	if !pool.CollateralTokens.Contains(req.CollateralToken) {
		return ErrInvalidCollateralToken
	}

	collateralKey := LenderKey{Participant: borrower.Address, Token: req.CollateralToken}
	lent, ok := pool.lenders.Find(collateralKey)
	if !ok || lent < req.CollateralAmount {
		return ErrInsufficientCollateralLent
	}
	// Reservation happens before the ratio check; the host discards the
	// scratch pool when a later step fails.
	if err := pool.lenders.Sub(collateralKey, req.CollateralAmount); err != nil {
		return err
	}

	if !meetsCollateralRatio(req.CollateralAmount, req.BorrowAmount) {
		return ErrCollateralRatio
	}

	loanKey := LoanKey{Borrower: borrower.Address, BorrowToken: req.BorrowToken}
	if pool.loans.HasActive(loanKey) {
		return ErrLoanAlreadyExists
	}

	available, ok := pool.liquidity.Find(req.BorrowToken)
	if !ok || available < req.BorrowAmount {
		return ErrNotEnoughLiquidity
	}
	if err := pool.liquidity.Sub(req.BorrowToken, req.BorrowAmount); err != nil {
		return err
	}

	if err := e.custody.Transfer(ctx, Transfer{
		From:      pool.CustodyAccount,
		To:        borrower.Address,
		Token:     req.BorrowToken,
		Amount:    req.BorrowAmount,
		Authority: poolAuthority,
	}); err != nil {
		return err
	}

	loan := LoanRecord{
		AmountBorrowed:   req.BorrowAmount,
		CollateralAmount: req.CollateralAmount,
		CollateralToken:  req.CollateralToken,
	}
	pool.loans.Append(loanKey, loan)
	e.emit(NewBorrowedEvent(borrower.Address, req.BorrowToken, loan))
	return nil
}

// Withdraw returns the lender's entire recorded balance of token and zeroes
// the entry. Partial withdrawals are not supported.
func (e *Engine) Withdraw(ctx context.Context, pool *Pool, lender, poolAuthority Authority, token crypto.Address) (uint64, error) {
	if err := e.ready(pool, lender); err != nil {
		return 0, err
	}
	key := LenderKey{Participant: lender.Address, Token: token}
	amountLent, ok := pool.lenders.Find(key)
	if !ok || amountLent == 0 {
		return 0, ErrNoAssetsToWithdraw
	}
	poolBalance, ok := pool.liquidity.Find(token)
	if !ok || poolBalance < amountLent {
		return 0, ErrInsufficientPoolBalance
	}
	if !e.custody.Holds(pool.CustodyAccount, token) {
		return 0, ErrCollateralMismatch
	}
	if err := e.custody.Transfer(ctx, Transfer{
		From:      pool.CustodyAccount,
		To:        lender.Address,
		Token:     token,
		Amount:    amountLent,
		Authority: poolAuthority,
	}); err != nil {
		return 0, err
	}
	pool.lenders.Set(key, 0)
	if err := pool.liquidity.Sub(token, amountLent); err != nil {
		return 0, err
	}
	e.emit(NewWithdrawnEvent(lender.Address, token, amountLent))
	return amountLent, nil
}

// Repay settles the first loan recorded for (borrower, borrowToken): the
// borrowed amount is paid into pool custody and the reserved collateral is
// sent back to the borrower. The loan is then marked repaid.
func (e *Engine) Repay(ctx context.Context, pool *Pool, borrower, poolAuthority Authority, borrowToken crypto.Address) (LoanRecord, error) {
	if err := e.ready(pool, borrower); err != nil {
		return LoanRecord{}, err
	}
	pos, loan, ok := pool.loans.First(LoanKey{Borrower: borrower.Address, BorrowToken: borrowToken})
	if !ok {
		return LoanRecord{}, ErrNoLoanToRepay
	}
	if loan.Repaid {
		return LoanRecord{}, ErrLoanAlreadyRepaid
	}
	if err := pool.liquidity.CanAdd(borrowToken, loan.AmountBorrowed); err != nil {
		return LoanRecord{}, err
	}
	if err := e.custody.Transfer(ctx, Transfer{
		From:      borrower.Address,
		To:        pool.CustodyAccount,
		Token:     borrowToken,
		Amount:    loan.AmountBorrowed,
		Authority: borrower,
	}); err != nil {
		return LoanRecord{}, err
	}
	if !e.custody.Holds(pool.CustodyAccount, loan.CollateralToken) {
		return LoanRecord{}, ErrCollateralMismatch
	}
	if err := e.custody.Transfer(ctx, Transfer{
		From:      pool.CustodyAccount,
		To:        borrower.Address,
		Token:     loan.CollateralToken,
		Amount:    loan.CollateralAmount,
		Authority: poolAuthority,
	}); err != nil {
		return LoanRecord{}, err
	}
	if err := pool.liquidity.Add(borrowToken, loan.AmountBorrowed); err != nil {
		return LoanRecord{}, err
	}
	pool.loans.MarkRepaid(pos)
	settled := *loan
	settled.Repaid = true
	e.emit(NewRepaidEvent(borrower.Address, borrowToken, settled))
	return settled, nil
}

// MaxBorrow returns the largest amount that collateral of the given size can
// back under the collateral ratio.
func MaxBorrow(collateral uint64) uint64 { return maxBorrowFor(collateral) }
