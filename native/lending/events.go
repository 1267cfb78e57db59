package lending

import (
	"strconv"
	"strings"

	"lendpool/core/events"
	"lendpool/crypto"
)

const (
	EventTypeInitialized = "lending.initialized"
	EventTypeLent        = "lending.lent"
	EventTypeBorrowed    = "lending.borrowed"
	EventTypeWithdrawn   = "lending.withdrawn"
	EventTypeRepaid      = "lending.repaid"
)

// NewInitializedEvent describes the allow-lists fixed at initialisation.
func NewInitializedEvent(p *Pool) events.Event {
	return events.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"custody":          p.CustodyAccount.String(),
			"collateralTokens": joinTokens(p.CollateralTokens.Tokens()),
			"borrowTokens":     joinTokens(p.BorrowTokens.Tokens()),
		},
	}
}

// NewLentEvent is emitted after a deposit is credited.
func NewLentEvent(participant, token crypto.Address, amount, balance uint64) events.Event {
	return events.Event{
		Type: EventTypeLent,
		Attributes: map[string]string{
			"participant": participant.String(),
			"token":       token.String(),
			"amount":      formatAmount(amount),
			"balance":     formatAmount(balance),
		},
	}
}

// NewBorrowedEvent is emitted once a loan is recorded.
func NewBorrowedEvent(borrower, borrowToken crypto.Address, loan LoanRecord) events.Event {
	return events.Event{
		Type: EventTypeBorrowed,
		Attributes: map[string]string{
			"participant":      borrower.String(),
			"token":            borrowToken.String(),
			"amount":           formatAmount(loan.AmountBorrowed),
			"collateralToken":  loan.CollateralToken.String(),
			"collateralAmount": formatAmount(loan.CollateralAmount),
		},
	}
}

// NewWithdrawnEvent is emitted after a full withdrawal.
func NewWithdrawnEvent(participant, token crypto.Address, amount uint64) events.Event {
	return events.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"participant": participant.String(),
			"token":       token.String(),
			"amount":      formatAmount(amount),
		},
	}
}

// NewRepaidEvent is emitted after the loan is settled and collateral returned.
func NewRepaidEvent(borrower, borrowToken crypto.Address, loan LoanRecord) events.Event {
	return events.Event{
		Type: EventTypeRepaid,
		Attributes: map[string]string{
			"participant":      borrower.String(),
			"token":            borrowToken.String(),
			"amount":           formatAmount(loan.AmountBorrowed),
			"collateralToken":  loan.CollateralToken.String(),
			"collateralAmount": formatAmount(loan.CollateralAmount),
		},
	}
}

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func joinTokens(tokens []crypto.Address) string {
	parts := make([]string, len(tokens))
	for i, token := range tokens {
		parts[i] = token.String()
	}
	return strings.Join(parts, ",")
}
