package tickmath

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

const (
	// MIN_TICK is the minimum tick that may be passed to GetSqrtRatioAtTick.
	// Its sqrt price is roughly 2^-16.
	MIN_TICK = int32(-221818)
	// MAX_TICK is the maximum tick that may be passed to GetSqrtRatioAtTick.
	MAX_TICK = -MIN_TICK

	// MIN_SQRT_RATIO is the value returned from GetSqrtRatioAtTick(MIN_TICK).
	MIN_SQRT_RATIO = uint64(65537)
	// MAX_SQRT_RATIO is the value returned from GetSqrtRatioAtTick(MAX_TICK).
	MAX_SQRT_RATIO = uint64(281472331704915)
)

var (
	ErrTickOutOfRange      = errors.New("tick out of range")
	ErrSqrtPriceOutOfRange = fmt.Errorf("%w: sqrt price out of range", ErrTickOutOfRange)
	ErrTickLowerOverflow   = errors.New("tick below MIN_TICK")
	ErrTickUpperOverflow   = errors.New("tick above MAX_TICK")
	ErrTickSpacingMismatch = errors.New("tick is not a multiple of tick spacing")
	ErrTickOrderInvalid    = errors.New("tick lower must be less than tick upper")

	maxUint256 = uint256.MustFromBig(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))
	// mask96 keeps the bits dropped when moving from Q128.128 to Q32.32.
	mask96 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 96), 1)

	// ratioConstants[0] is sqrt(1.0001^-1) and ratioConstants[1] is 1, both in UQ128.128.
	// ratioConstants[i] for i >= 2 is sqrt(1.0001^-(2^(i-1))).
	ratioConstants = [19]*uint256.Int{
		uint256.MustFromBig(fromHex("0xfffcb933bd6fad37aa2d162d1a594001")),  // 2^0
		uint256.MustFromBig(fromHex("0x100000000000000000000000000000000")), // 1 in UQ128.128
		uint256.MustFromBig(fromHex("0xfff97272373d413259a46990580e213a")),  // 2^1
		uint256.MustFromBig(fromHex("0xfff2e50f5f656932ef12357cf3c7fdcc")),  // 2^2
		uint256.MustFromBig(fromHex("0xffe5caca7e10e4e61c3624eaa0941cd0")),  // 2^3
		uint256.MustFromBig(fromHex("0xffcb9843d60f6159c9db58835c926644")),  // 2^4
		uint256.MustFromBig(fromHex("0xff973b41fa98c081472e6896dfb254c0")),  // 2^5
		uint256.MustFromBig(fromHex("0xff2ea16466c96a3843ec78b326b52861")),  // 2^6
		uint256.MustFromBig(fromHex("0xfe5dee046a99a2a811c461f1969c3053")),  // 2^7
		uint256.MustFromBig(fromHex("0xfcbe86c7900a88aedcffc83b479aa3a4")),  // 2^8
		uint256.MustFromBig(fromHex("0xf987a7253ac413176f2b074cf7815e54")),  // 2^9
		uint256.MustFromBig(fromHex("0xf3392b0822b70005940c7a398e4b70f3")),  // 2^10
		uint256.MustFromBig(fromHex("0xe7159475a2c29b7443b29c7fa6e889d9")),  // 2^11
		uint256.MustFromBig(fromHex("0xd097f3bdfd2022b8845ad8f792aa5825")),  // 2^12
		uint256.MustFromBig(fromHex("0xa9f746462d870fdf8a65dc1f90e061e5")),  // 2^13
		uint256.MustFromBig(fromHex("0x70d869a156d2a1b890bb3df62baf32f7")),  // 2^14
		uint256.MustFromBig(fromHex("0x31be135f97d08fd981231505542fcfa6")),  // 2^15
		uint256.MustFromBig(fromHex("0x9aa508b5b7a84e1c677de54f3e99bc9")),   // 2^16
		uint256.MustFromBig(fromHex("0x5d6af8dedb81196699c329225ee604")),    // 2^17
	}
)

// tickMath holds reusable uint256 objects to avoid memory allocations.
type tickMath struct {
	ratio *uint256.Int
	rem   *uint256.Int
}

// pool manages a pool of tickMath objects for safe concurrent use.
var pool = sync.Pool{
	New: func() any {
		return &tickMath{
			ratio: new(uint256.Int),
			rem:   new(uint256.Int),
		}
	},
}

// GetSqrtRatioAtTick calculates sqrt(1.0001^tick) * 2^32.
// The product is formed in UQ128.128 and rounded up into Q32.32, so the
// result is strictly increasing in tick across the whole range.
func GetSqrtRatioAtTick(tick int32) (uint64, error) {
	if tick < MIN_TICK || tick > MAX_TICK {
		return 0, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}

	tm := pool.Get().(*tickMath)
	defer pool.Put(tm)

	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}

	if (absTick & 0x1) != 0 {
		tm.ratio.Set(ratioConstants[0])
	} else {
		tm.ratio.Set(ratioConstants[1])
	}

	for i := 2; i < len(ratioConstants); i++ {
		if (absTick & (1 << (i - 1))) != 0 {
			tm.ratio.Mul(tm.ratio, ratioConstants[i]).Rsh(tm.ratio, 128)
		}
	}

	if tick > 0 {
		tm.ratio.Div(maxUint256, tm.ratio)
	}

	// Divide by 2^96 and round up.
	tm.rem.And(tm.ratio, mask96)
	tm.ratio.Rsh(tm.ratio, 96)
	if !tm.rem.IsZero() {
		tm.ratio.AddUint64(tm.ratio, 1)
	}

	return tm.ratio.Uint64(), nil
}

// GetTickAtSqrtRatio calculates the greatest tick value such that GetSqrtRatioAtTick(tick) <= sqrtPriceX32.
// It uses a binary search over the full tick range.
func GetTickAtSqrtRatio(sqrtPriceX32 uint64) (int32, error) {
	if sqrtPriceX32 < MIN_SQRT_RATIO || sqrtPriceX32 > MAX_SQRT_RATIO {
		return 0, fmt.Errorf("%w: %d", ErrSqrtPriceOutOfRange, sqrtPriceX32)
	}

	low := MIN_TICK
	high := MAX_TICK
	var tick int32

	for low <= high {
		mid := low + (high-low)/2
		sqrtRatio, err := GetSqrtRatioAtTick(mid)
		if err != nil {
			return 0, err // Should not happen within the valid range
		}

		if sqrtRatio <= sqrtPriceX32 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	return tick, nil
}

// CheckTick validates that a tick is inside the global bounds and aligned to tickSpacing.
func CheckTick(tick, tickSpacing int32) error {
	if tick < MIN_TICK {
		return fmt.Errorf("%w: %d", ErrTickLowerOverflow, tick)
	}
	if tick > MAX_TICK {
		return fmt.Errorf("%w: %d", ErrTickUpperOverflow, tick)
	}
	if tickSpacing <= 0 || tick%tickSpacing != 0 {
		return fmt.Errorf("%w: tick %d, spacing %d", ErrTickSpacingMismatch, tick, tickSpacing)
	}
	return nil
}

// CheckTicks validates a position range.
func CheckTicks(tickLower, tickUpper, tickSpacing int32) error {
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: [%d, %d]", ErrTickOrderInvalid, tickLower, tickUpper)
	}
	if err := CheckTick(tickLower, tickSpacing); err != nil {
		return err
	}
	return CheckTick(tickUpper, tickSpacing)
}

// TickSpacingToMaxLiquidityPerTick derives the maximum gross liquidity a single
// tick may reference, so the sum over every usable tick still fits in a uint64.
func TickSpacingToMaxLiquidityPerTick(tickSpacing int32) uint64 {
	minTick := (MIN_TICK / tickSpacing) * tickSpacing
	maxTick := (MAX_TICK / tickSpacing) * tickSpacing
	numTicks := uint64((maxTick-minTick)/tickSpacing) + 1
	return math.MaxUint64 / numTicks
}

// Helper to create a big.Int from a hex string.
func fromHex(s string) *big.Int {
	n, _ := new(big.Int).SetString(s[2:], 16)
	return n
}
