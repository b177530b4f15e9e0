package domain

import "errors"

// Sentinel errors surfaced to callers. Handlers dispatch on these with
// errors.Is; internal callers wrap them with fmt.Errorf("<pkg>: <op>: %w",
// err) so the chain survives up to the HTTP boundary.
var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrBadSignature          = errors.New("bad signature")
	ErrConflict              = errors.New("conflict")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeds max")
	ErrSettlementRejected    = errors.New("settlement rejected")
	ErrSettlementDisabled    = errors.New("settlement disabled")
	ErrLockHeld              = errors.New("lock already held")
	ErrAlreadySettled        = errors.New("trade already settled")
)
