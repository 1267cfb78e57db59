package lending

import (
	"errors"
)

// Class groups engine failures by what went wrong.
type Class string

const (
	ClassConfiguration      Class = "configuration"
	ClassInput              Class = "input"
	ClassInsufficiency      Class = "insufficiency"
	ClassPolicy             Class = "policy"
	ClassCollateralMismatch Class = "collateral_mismatch"
	ClassTransfer           Class = "transfer"
	ClassInternal           Class = "internal"
)

// Error is a sentinel carrying a stable code that clients can switch on.
type Error struct {
	code  string
	class Class
	msg   string
}

func newError(code string, class Class, msg string) *Error {
	return &Error{code: code, class: class, msg: msg}
}

func (e *Error) Error() string { return "lending engine: " + e.msg }

// Code returns the stable identifier of the failure.
func (e *Error) Code() string { return e.code }

// Class returns the failure class.
func (e *Error) Class() Class { return e.class }

var (
	ErrPoolAlreadyInitialized = newError("PoolAlreadyInitialized", ClassConfiguration, "pool already initialised")
	ErrPoolNotInitialized     = newError("PoolNotInitialized", ClassConfiguration, "pool not initialised")
	ErrCustodyNotConfigured   = newError("CustodyNotConfigured", ClassConfiguration, "custody not configured")
	ErrInvalidPoolConfig      = newError("InvalidPoolConfig", ClassConfiguration, "invalid pool configuration")

	ErrInvalidAmount          = newError("InvalidAmount", ClassInput, "amount must be positive")
	ErrInvalidCollateralToken = newError("InvalidCollateralToken", ClassInput, "token is not an accepted collateral token")
	ErrInvalidBorrowToken     = newError("InvalidBorrowToken", ClassInput, "token is not an accepted borrow token")
	ErrInvalidParticipant     = newError("InvalidParticipant", ClassInput, "participant address required")
	ErrAmountOverflow         = newError("AmountOverflow", ClassInput, "amount overflows ledger")

	ErrInsufficientCollateralLent = newError("InsufficientCollateralLent", ClassInsufficiency, "insufficient collateral lent")
	ErrNotEnoughLiquidity         = newError("NotEnoughLiquidity", ClassInsufficiency, "not enough liquidity in pool")
	ErrInsufficientPoolBalance    = newError("InsufficientPoolBalance", ClassInsufficiency, "insufficient pool balance")

	ErrCollateralRatio    = newError("CollateralMustBe2xBorrowAmount", ClassPolicy, "collateral must exceed twice the borrow amount")
	ErrLoanAlreadyExists  = newError("LoanAlreadyExists", ClassPolicy, "active loan already exists")
	ErrLoanAlreadyRepaid  = newError("LoanAlreadyRepaid", ClassPolicy, "loan already repaid")
	ErrNoLoanToRepay      = newError("NoLoanToRepay", ClassPolicy, "no loan to repay")
	ErrNoAssetsToWithdraw = newError("NoAssetsToWithdraw", ClassPolicy, "no assets to withdraw")

	// ErrCollateralMismatch shares its code with ErrInvalidCollateralToken:
	// clients see the same kind whether the allow-list or custody rejected it.
	ErrCollateralMismatch = newError("InvalidCollateralToken", ClassCollateralMismatch, "pool custody does not hold collateral token")
)

// coder is implemented by collaborator errors that expose a stable code,
// such as custody transfer failures.
type coder interface {
	Code() string
}

// CodeOf extracts the code carried by err, or "" when err carries none.
func CodeOf(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// ClassOf reports the class of err. Coded errors raised outside the engine
// are transfer failures; anything else is internal.
func ClassOf(err error) Class {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Class()
	}
	var c coder
	if errors.As(err, &c) {
		return ClassTransfer
	}
	return ClassInternal
}
