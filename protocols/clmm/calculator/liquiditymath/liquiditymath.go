package liquiditymath

import (
	"errors"
	"math"
)

var (
	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta adds a signed liquidity delta to an unsigned liquidity value,
// returning an error if the operation results in an overflow or underflow.
func AddDelta(x uint64, y int64) (uint64, error) {
	if y < 0 {
		// -math.MinInt64 does not fit in an int64, so negate in unsigned space.
		abs := uint64(-(y + 1)) + 1
		if abs > x {
			return 0, ErrLiquidityUnderflow
		}
		return x - abs, nil
	}

	if uint64(y) > math.MaxUint64-x {
		return 0, ErrLiquidityOverflow
	}
	return x + uint64(y), nil
}
