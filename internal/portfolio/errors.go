package portfolio

import "errors"

// ErrInsufficientFunds is returned when a buy would push cash negative.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInsufficientPosition is returned when a sell exceeds the held quantity.
var ErrInsufficientPosition = errors.New("insufficient position")

// ErrInvalidTrade is returned when a trade fails basic validation
// (non-positive quantity or price, unknown side).
var ErrInvalidTrade = errors.New("invalid trade")
