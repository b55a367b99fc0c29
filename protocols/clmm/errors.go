package clmm

import (
	"errors"

	"github.com/defistate/clmm-core/protocols/clmm/position"
)

var (
	ErrInvalidPoolConfig             = errors.New("invalid pool configuration")
	ErrPriceLimitAlreadyReached      = errors.New("sqrt price limit already reached")
	ErrInvalidProtocolFeeDenominator = errors.New("protocol fee denominator must be between 2 and 10")
	ErrTooLittleOutputReceived       = errors.New("too little output received")
	ErrTooMuchInputPaid              = errors.New("too much input paid")
	ErrTokenNotInPool                = errors.New("token is not part of the pool")
	ErrLiquidityUnavailable          = errors.New("active liquidity out of bounds")
	ErrInsufficientVaultBalance      = errors.New("insufficient vault balance")

	ErrZeroLiquidityDelta    = position.ErrZeroLiquidityDelta
	ErrInsufficientLiquidity = position.ErrInsufficientLiquidity
)
