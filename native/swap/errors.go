package swap

import "errors"

var (
	// ErrUnauthorized indicates the caller is not the pair administrator.
	ErrUnauthorized = errors.New("swap: caller is not the pair administrator")
	// ErrOutputTooSmall indicates the computed output fell below the caller's minimum.
	ErrOutputTooSmall = errors.New("swap: output below minimum")
	// ErrInputTooLarge indicates the required input exceeded the caller's maximum.
	ErrInputTooLarge = errors.New("swap: required input above maximum")
	// ErrUserInsufficientBalance indicates the trader cannot fund the input leg.
	ErrUserInsufficientBalance = errors.New("swap: insufficient user balance")
	// ErrExpired indicates the swap took longer than the pair's expiration window.
	ErrExpired = errors.New("swap: execution exceeded expiration window")
	// ErrArithmeticOverflow indicates a scaled intermediate did not fit the result type.
	ErrArithmeticOverflow = errors.New("swap: arithmetic overflow")
	// ErrPairNotInitialized indicates the pair is unknown or its price is zero.
	ErrPairNotInitialized = errors.New("swap: pair not initialized")

	ErrPairExists            = errors.New("swap: pair already initialized")
	ErrInvalidPair           = errors.New("swap: invalid pair")
	ErrInvalidSpread         = errors.New("swap: spread must be below 10000 bps")
	ErrInvalidWindow         = errors.New("swap: expiration window must not be negative")
	ErrInvalidAmount         = errors.New("swap: amount must be positive")
	ErrInvalidDirection      = errors.New("swap: invalid direction")
	ErrInsufficientLiquidity = errors.New("swap: vault cannot cover output")

	// ErrInsufficientFunds is returned by a TransferDelegate when the source
	// record cannot cover a move.
	ErrInsufficientFunds = errors.New("swap: insufficient funds")
	// ErrTransferUnauthorized is returned by a TransferDelegate when the
	// supplied authority does not own the source record.
	ErrTransferUnauthorized = errors.New("swap: transfer not authorized")
)

// Class groups errors by the kind of decision a client has to make.
type Class int

const (
	ClassInternal Class = iota
	// ClassAuthorization: the caller is not allowed to do this.
	ClassAuthorization
	// ClassGuard: the trade parameters were not met; resubmitting with
	// different bounds may succeed.
	ClassGuard
	// ClassArithmetic: the amounts cannot be priced.
	ClassArithmetic
	// ClassState: the pair or its parameters are not in a usable state.
	ClassState
	// ClassInvalid: the request itself is malformed.
	ClassInvalid
)

func (c Class) String() string {
	switch c {
	case ClassAuthorization:
		return "authorization"
	case ClassGuard:
		return "guard"
	case ClassArithmetic:
		return "arithmetic"
	case ClassState:
		return "state"
	case ClassInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

type errorInfo struct {
	err   error
	code  string
	class Class
}

var errorTable = []errorInfo{
	{ErrUnauthorized, "unauthorized", ClassAuthorization},
	{ErrTransferUnauthorized, "transfer_unauthorized", ClassAuthorization},
	{ErrOutputTooSmall, "output_too_small", ClassGuard},
	{ErrInputTooLarge, "input_too_large", ClassGuard},
	{ErrUserInsufficientBalance, "user_insufficient_balance", ClassGuard},
	{ErrExpired, "expired", ClassGuard},
	{ErrInsufficientLiquidity, "insufficient_liquidity", ClassGuard},
	{ErrInsufficientFunds, "insufficient_funds", ClassGuard},
	{ErrArithmeticOverflow, "arithmetic_overflow", ClassArithmetic},
	{ErrPairNotInitialized, "pair_not_initialized", ClassState},
	{ErrPairExists, "pair_exists", ClassState},
	{ErrInvalidPair, "invalid_pair", ClassInvalid},
	{ErrInvalidSpread, "invalid_spread", ClassInvalid},
	{ErrInvalidWindow, "invalid_window", ClassInvalid},
	{ErrInvalidAmount, "invalid_amount", ClassInvalid},
	{ErrInvalidDirection, "invalid_direction", ClassInvalid},
}

func lookupError(err error) (errorInfo, bool) {
	if err == nil {
		return errorInfo{}, false
	}
	for _, info := range errorTable {
		if errors.Is(err, info.err) {
			return info, true
		}
	}
	return errorInfo{}, false
}

// Classify reports the class of err. Unknown errors are ClassInternal.
func Classify(err error) Class {
	if info, ok := lookupError(err); ok {
		return info.class
	}
	return ClassInternal
}

// Code returns a stable snake_case identifier for err, "ok" for nil and
// "internal" for errors outside the swap taxonomy.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	if info, ok := lookupError(err); ok {
		return info.code
	}
	return "internal"
}
