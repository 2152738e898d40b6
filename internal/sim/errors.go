package sim

import "errors"

// RejectError is a business-rule rejection. Orders failing admission return
// one of these; the API layer maps the stable Tag onto the wire (the bot
// order path reports it as status=rejected rather than an HTTP error).
type RejectError struct {
	Tag     string
	Message string
}

func (e *RejectError) Error() string { return e.Tag + ": " + e.Message }

var (
	ErrInvalidQuantity      = &RejectError{Tag: "Validation", Message: "quantity must be a positive integer"}
	ErrSymbolUnknown        = &RejectError{Tag: "SymbolUnknown", Message: "symbol not in catalog"}
	ErrInsufficientCash     = &RejectError{Tag: "InsufficientCash", Message: "order cost exceeds available cash"}
	ErrInsufficientShares   = &RejectError{Tag: "InsufficientShares", Message: "position smaller than sell quantity"}
	ErrDayTradeLimit        = &RejectError{Tag: "DayTradeLimitExceeded", Message: "day-trader mode allows 3 trades per simulated day"}
	ErrConflictingLong      = &RejectError{Tag: "ConflictingLongPosition", Message: "cannot open a short while holding a long position"}
	ErrConflictingShort     = &RejectError{Tag: "ConflictingShortPosition", Message: "cannot buy while holding a short position"}
	ErrNoShortPosition      = &RejectError{Tag: "NoShortPosition", Message: "no open short for symbol"}
	ErrQuantityExceedsShort = &RejectError{Tag: "QuantityExceedsShort", Message: "close quantity exceeds open short"}
	ErrWeekBudgetExhausted  = &RejectError{Tag: "WeekBudgetExhausted", Message: "custom-mode week budget consumed"}
)

// AsReject unwraps err into a RejectError if it is one.
func AsReject(err error) (*RejectError, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
