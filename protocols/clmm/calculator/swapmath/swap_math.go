package swapmath

import (
	"errors"
	"fmt"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/sqrtpricemath"
)

// FeeDenominator is the denominator for fee calculations, representing 100% or 1,000,000 ppm.
const FeeDenominator = uint64(1_000_000)

var ErrInvalidFee = errors.New("fee must be below 1,000,000 pips")

// Step is the result of a swap within a single tick range.
type Step struct {
	SqrtRatioNextX32 uint64
	AmountIn         uint64
	AmountOut        uint64
	FeeAmount        uint64
}

// ComputeSwapStep calculates the result of a swap within a single tick range.
// It determines the next price, the amounts swapped, and the fee taken.
// A positive amountRemaining is an exact input, a negative one an exact output.
func ComputeSwapStep(
	sqrtRatioCurrentX32 uint64,
	sqrtRatioTargetX32 uint64,
	liquidity uint64,
	amountRemaining int64,
	feePips uint32,
) (Step, error) {
	if uint64(feePips) >= FeeDenominator {
		return Step{}, fmt.Errorf("%w: %d", ErrInvalidFee, feePips)
	}

	var (
		step       Step
		err        error
		zeroForOne = sqrtRatioCurrentX32 >= sqrtRatioTargetX32
		exactIn    = amountRemaining >= 0
		feeComp    = FeeDenominator - uint64(feePips)
		remaining  = absInt64(amountRemaining)
		reachable  = true
	)

	if exactIn {
		amountRemainingLessFee, err := fixedpoint.MulDiv(remaining, feeComp, FeeDenominator)
		if err != nil {
			return Step{}, err
		}

		if zeroForOne {
			step.AmountIn, err = sqrtpricemath.GetAmount0Delta(sqrtRatioTargetX32, sqrtRatioCurrentX32, liquidity, true)
		} else {
			step.AmountIn, err = sqrtpricemath.GetAmount1Delta(sqrtRatioCurrentX32, sqrtRatioTargetX32, liquidity, true)
		}
		if err != nil {
			// No uint64 amount can reach the target, so the step ends short of it.
			if !errors.Is(err, fixedpoint.ErrOverflow) {
				return Step{}, err
			}
			reachable = false
		}

		if reachable && amountRemainingLessFee >= step.AmountIn {
			step.SqrtRatioNextX32 = sqrtRatioTargetX32
		} else {
			step.SqrtRatioNextX32, err = sqrtpricemath.GetNextSqrtPriceFromInput(sqrtRatioCurrentX32, liquidity, amountRemainingLessFee, zeroForOne)
			if err != nil {
				return Step{}, err
			}
		}
	} else {
		if zeroForOne {
			step.AmountOut, err = sqrtpricemath.GetAmount1Delta(sqrtRatioTargetX32, sqrtRatioCurrentX32, liquidity, false)
		} else {
			step.AmountOut, err = sqrtpricemath.GetAmount0Delta(sqrtRatioCurrentX32, sqrtRatioTargetX32, liquidity, false)
		}
		if err != nil {
			if !errors.Is(err, fixedpoint.ErrOverflow) {
				return Step{}, err
			}
			reachable = false
		}

		if reachable && remaining >= step.AmountOut {
			step.SqrtRatioNextX32 = sqrtRatioTargetX32
		} else {
			step.SqrtRatioNextX32, err = sqrtpricemath.GetNextSqrtPriceFromOutput(sqrtRatioCurrentX32, liquidity, remaining, zeroForOne)
			if err != nil {
				return Step{}, err
			}
		}
	}

	max := reachable && sqrtRatioTargetX32 == step.SqrtRatioNextX32

	// Recalculate amounts based on the actual price movement.
	if zeroForOne {
		if !(max && exactIn) {
			step.AmountIn, err = sqrtpricemath.GetAmount0Delta(step.SqrtRatioNextX32, sqrtRatioCurrentX32, liquidity, true)
			if err != nil {
				return Step{}, err
			}
		}
		if !(max && !exactIn) {
			step.AmountOut, err = sqrtpricemath.GetAmount1Delta(step.SqrtRatioNextX32, sqrtRatioCurrentX32, liquidity, false)
			if err != nil {
				return Step{}, err
			}
		}
	} else {
		if !(max && exactIn) {
			step.AmountIn, err = sqrtpricemath.GetAmount1Delta(sqrtRatioCurrentX32, step.SqrtRatioNextX32, liquidity, true)
			if err != nil {
				return Step{}, err
			}
		}
		if !(max && !exactIn) {
			step.AmountOut, err = sqrtpricemath.GetAmount0Delta(sqrtRatioCurrentX32, step.SqrtRatioNextX32, liquidity, false)
			if err != nil {
				return Step{}, err
			}
		}
	}

	// Cap the output amount to not exceed the remaining output amount.
	if !exactIn && step.AmountOut > remaining {
		step.AmountOut = remaining
	}

	if exactIn && !max {
		// If we didn't reach the target, the fee is the leftover input amount.
		step.FeeAmount = remaining - step.AmountIn
	} else {
		step.FeeAmount, err = fixedpoint.MulDivRoundingUp(step.AmountIn, uint64(feePips), feeComp)
		if err != nil {
			return Step{}, err
		}
	}

	return step, nil
}

func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
