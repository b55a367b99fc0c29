package sqrtpricemath

import (
	"errors"
	"fmt"
	"sync"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
	"github.com/holiman/uint256"
)

var (
	ErrLiquidityZero = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")
)

// SqrtPriceMath holds reusable uint256 objects to avoid memory allocations.
// Instances are managed by a sync.Pool for safe concurrent use.
type SqrtPriceMath struct {
	numerator1  *uint256.Int
	numerator2  *uint256.Int
	product     *uint256.Int
	denominator *uint256.Int
	term        *uint256.Int
	rem         *uint256.Int
	price       *uint256.Int
}

// pool manages a pool of SqrtPriceMath objects.
var pool = sync.Pool{
	New: func() any {
		return &SqrtPriceMath{
			numerator1:  new(uint256.Int),
			numerator2:  new(uint256.Int),
			product:     new(uint256.Int),
			denominator: new(uint256.Int),
			term:        new(uint256.Int),
			rem:         new(uint256.Int),
			price:       new(uint256.Int),
		}
	},
}

// GetNextSqrtPriceFromAmount0RoundingUp calculates the next sqrt price given a delta of token0.
// The result is always rounded up so the price never moves further than the amount allows.
func GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX32, liquidity, amount uint64, add bool) (uint64, error) {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getNextSqrtPriceFromAmount0RoundingUp(sqrtPX32, liquidity, amount, add)
}

// GetNextSqrtPriceFromAmount1RoundingDown calculates the next sqrt price given a delta of token1.
func GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX32, liquidity, amount uint64, add bool) (uint64, error) {
	if add {
		quotient, err := fixedpoint.DivShl(amount, liquidity, fixedpoint.Resolution)
		if err != nil {
			return 0, err
		}
		return fixedpoint.CheckedAdd(sqrtPX32, quotient)
	}

	quotient, err := fixedpoint.DivShlRoundingUp(amount, liquidity, fixedpoint.Resolution)
	if err != nil {
		return 0, err
	}
	if sqrtPX32 <= quotient {
		return 0, fmt.Errorf("%w: sqrt price %d does not cover quotient %d", fixedpoint.ErrUnderflow, sqrtPX32, quotient)
	}
	return sqrtPX32 - quotient, nil
}

// GetNextSqrtPriceFromInput calculates the next sqrt price given an input amount.
func GetNextSqrtPriceFromInput(sqrtPX32, liquidity, amountIn uint64, zeroForOne bool) (uint64, error) {
	if sqrtPX32 == 0 {
		return 0, ErrSqrtPriceZero
	}
	if liquidity == 0 {
		return 0, ErrLiquidityZero
	}

	if zeroForOne {
		return GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX32, liquidity, amountIn, true)
	}
	return GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX32, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput calculates the next sqrt price given an output amount.
func GetNextSqrtPriceFromOutput(sqrtPX32, liquidity, amountOut uint64, zeroForOne bool) (uint64, error) {
	if sqrtPX32 == 0 {
		return 0, ErrSqrtPriceZero
	}
	if liquidity == 0 {
		return 0, ErrLiquidityZero
	}

	if zeroForOne {
		return GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX32, liquidity, amountOut, false)
	}
	return GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX32, liquidity, amountOut, false)
}

// GetAmount0Delta calculates liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB), the token0
// amount between two prices.
func GetAmount0Delta(sqrtRatioAX32, sqrtRatioBX32, liquidity uint64, roundUp bool) (uint64, error) {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getAmount0Delta(sqrtRatioAX32, sqrtRatioBX32, liquidity, roundUp)
}

// GetAmount1Delta calculates liquidity * (sqrtB - sqrtA), the token1 amount between two prices.
func GetAmount1Delta(sqrtRatioAX32, sqrtRatioBX32, liquidity uint64, roundUp bool) (uint64, error) {
	if sqrtRatioAX32 > sqrtRatioBX32 {
		sqrtRatioAX32, sqrtRatioBX32 = sqrtRatioBX32, sqrtRatioAX32
	}

	diff := sqrtRatioBX32 - sqrtRatioAX32
	if roundUp {
		return fixedpoint.MulShrRoundingUp(liquidity, diff, fixedpoint.Resolution)
	}
	return fixedpoint.MulShr(liquidity, diff, fixedpoint.Resolution)
}

// GetAmount0DeltaSigned returns the token0 owed for a signed liquidity change. Added
// liquidity rounds up, removed liquidity rounds down.
func GetAmount0DeltaSigned(sqrtRatioAX32, sqrtRatioBX32 uint64, liquidity int64) (uint64, error) {
	if liquidity < 0 {
		return GetAmount0Delta(sqrtRatioAX32, sqrtRatioBX32, absInt64(liquidity), false)
	}
	return GetAmount0Delta(sqrtRatioAX32, sqrtRatioBX32, uint64(liquidity), true)
}

// GetAmount1DeltaSigned returns the token1 owed for a signed liquidity change.
func GetAmount1DeltaSigned(sqrtRatioAX32, sqrtRatioBX32 uint64, liquidity int64) (uint64, error) {
	if liquidity < 0 {
		return GetAmount1Delta(sqrtRatioAX32, sqrtRatioBX32, absInt64(liquidity), false)
	}
	return GetAmount1Delta(sqrtRatioAX32, sqrtRatioBX32, uint64(liquidity), true)
}

func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

func (s *SqrtPriceMath) getNextSqrtPriceFromAmount0RoundingUp(sqrtPX32, liquidity, amount uint64, add bool) (uint64, error) {
	if amount == 0 {
		return sqrtPX32, nil
	}

	s.numerator1.SetUint64(liquidity).Lsh(s.numerator1, fixedpoint.Resolution)
	s.price.SetUint64(sqrtPX32)
	s.product.SetUint64(amount).Mul(s.product, s.price)

	if add {
		// numerator1 < 2^96 and product < 2^112, so the sum cannot overflow 256 bits.
		s.denominator.Add(s.numerator1, s.product)
		return fixedpoint.MulDivWide(s.numerator1, s.price, s.denominator, true)
	}

	if s.numerator1.Cmp(s.product) <= 0 {
		return 0, fmt.Errorf("%w: amount %d exceeds token0 reserves", fixedpoint.ErrUnderflow, amount)
	}
	s.denominator.Sub(s.numerator1, s.product)
	return fixedpoint.MulDivWide(s.numerator1, s.price, s.denominator, true)
}

func (s *SqrtPriceMath) getAmount0Delta(sqrtRatioAX32, sqrtRatioBX32, liquidity uint64, roundUp bool) (uint64, error) {
	if sqrtRatioAX32 > sqrtRatioBX32 {
		sqrtRatioAX32, sqrtRatioBX32 = sqrtRatioBX32, sqrtRatioAX32
	}
	if sqrtRatioAX32 == 0 {
		return 0, ErrSqrtPriceZero
	}

	s.numerator1.SetUint64(liquidity).Lsh(s.numerator1, fixedpoint.Resolution)
	s.numerator2.SetUint64(sqrtRatioBX32 - sqrtRatioAX32)
	s.denominator.SetUint64(sqrtRatioBX32)

	s.product.Mul(s.numerator1, s.numerator2)
	s.term.DivMod(s.product, s.denominator, s.rem)
	if roundUp && !s.rem.IsZero() {
		s.term.AddUint64(s.term, 1)
	}

	s.denominator.SetUint64(sqrtRatioAX32)
	s.product.DivMod(s.term, s.denominator, s.rem)
	if roundUp && !s.rem.IsZero() {
		s.product.AddUint64(s.product, 1)
	}

	if !s.product.IsUint64() {
		return 0, fmt.Errorf("%w: amount0 delta", fixedpoint.ErrOverflow)
	}
	return s.product.Uint64(), nil
}
