package market

import "errors"

var (
	// ErrMarketClosed is returned when trading on a graduated market.
	ErrMarketClosed = errors.New("market has graduated; curve trading is closed")

	// ErrSupplyExceeded is returned when a buy would push supply past the cap.
	ErrSupplyExceeded = errors.New("buy would exceed total supply cap")

	// ErrInsufficientRaisedBalance is returned when a sell refund would
	// draw more than the curve has actually collected net of fees.
	ErrInsufficientRaisedBalance = errors.New("insufficient raised balance for refund")

	// ErrInsufficientTokenBalance is returned when a seller does not hold
	// the tokens being sold.
	ErrInsufficientTokenBalance = errors.New("insufficient token balance")

	// ErrNonPositiveAmount is returned for zero or negative trade amounts.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrAmountTooSmall is returned when a buy is too small to mint a
	// single token base unit.
	ErrAmountTooSmall = errors.New("amount too small to mint tokens")

	// ErrInvalidFeeSplit is returned when a market's fee shares do not
	// sum to the basis-point denominator.
	ErrInvalidFeeSplit = errors.New("fee split must sum to 10000 bps")

	// ErrNotGraduated is returned when migrating a market that has not
	// crossed its graduation threshold.
	ErrNotGraduated = errors.New("market has not graduated")
)
