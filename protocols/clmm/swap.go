package clmm

import (
	"errors"
	"fmt"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/swapmath"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/tickmath"
	"github.com/ethereum/go-ethereum/common"
)

const (
	MinProtocolFeeDenominator = uint8(2)
	MaxProtocolFeeDenominator = uint8(10)
)

// SwapParams describes a swap through a single pool, addressed by the token paid in.
type SwapParams struct {
	TokenIn common.Address
	// Amount is the exact input when IsBaseInput is set, the exact output otherwise.
	Amount uint64
	// OtherAmountThreshold is the minimum output for exact-input swaps and the
	// maximum input for exact-output swaps.
	OtherAmountThreshold uint64
	// SqrtPriceLimitX32 bounds the price after the swap; zero means no limit.
	SqrtPriceLimitX32 uint64
	IsBaseInput       bool
}

// SwapResult reports a completed swap.
type SwapResult struct {
	ZeroForOne bool
	AmountIn   uint64
	AmountOut  uint64
	// Realized is the output of an exact-input swap or the input of an
	// exact-output swap, measured from the vault balances.
	Realized     uint64
	SqrtPriceX32 uint64
	Tick         int32
	Liquidity    uint64
	TicksCrossed int
}

// ValidateProtocolFeeDenominator checks that the protocol share 1/denominator is allowed.
func ValidateProtocolFeeDenominator(denominator uint8) error {
	if denominator < MinProtocolFeeDenominator || denominator > MaxProtocolFeeDenominator {
		return fmt.Errorf("%w: %d", ErrInvalidProtocolFeeDenominator, denominator)
	}
	return nil
}

// Swap swaps token0 for token1 (zeroForOne) or token1 for token0. A positive
// amountSpecified is an exact input, a negative one an exact output. A zero
// amount returns a zero result without touching the pool.
func (p *Pool) Swap(c Custodian, amountSpecified int64, sqrtPriceLimitX32 uint64, zeroForOne bool, protocolFeeDenominator uint8) (SwapResult, error) {
	pending, err := p.StageSwap(c, amountSpecified, sqrtPriceLimitX32, zeroForOne, protocolFeeDenominator)
	if err != nil {
		return SwapResult{}, err
	}
	pending.Commit()
	return pending.Result, nil
}

// PendingSwap is a computed swap whose pool changes and vault transfer are
// staged but not final. Exactly one of Commit or Discard must be called, and
// no other operation may run on the pool in between.
type PendingSwap struct {
	Result SwapResult

	pool      *Pool
	tx        *txn
	custodian Custodian
}

// StageSwap computes a swap like Swap and stages its transfer with the
// custodian, leaving the pool unchanged until Commit.
func (p *Pool) StageSwap(c Custodian, amountSpecified int64, sqrtPriceLimitX32 uint64, zeroForOne bool, protocolFeeDenominator uint8) (*PendingSwap, error) {
	res, tx, err := p.swap(c, amountSpecified, sqrtPriceLimitX32, zeroForOne, protocolFeeDenominator)
	if err != nil {
		return nil, err
	}
	return &PendingSwap{Result: res, pool: p, tx: tx, custodian: c}, nil
}

// Commit applies the swap to the pool and makes the vault transfer final.
func (s *PendingSwap) Commit() {
	if s.tx == nil {
		return
	}
	s.pool.commit(s.tx)
	s.custodian.Commit()
	s.tx = nil
}

// Discard drops the swap and its staged transfer.
func (s *PendingSwap) Discard() {
	if s.tx == nil {
		return
	}
	s.custodian.Rollback()
	s.tx = nil
}

// SwapSingle runs an exact-input or exact-output swap and enforces the
// caller's slippage threshold before anything is committed.
func (p *Pool) SwapSingle(c Custodian, params SwapParams, protocolFeeDenominator uint8) (SwapResult, error) {
	zeroForOne, err := p.direction(params.TokenIn)
	if err != nil {
		return SwapResult{}, err
	}

	amountSpecified, err := fixedpoint.ToInt64(params.Amount)
	if err != nil {
		return SwapResult{}, fmt.Errorf("amount %d: %w", params.Amount, err)
	}
	if !params.IsBaseInput {
		amountSpecified = -amountSpecified
	}

	pending, err := p.StageSwap(c, amountSpecified, params.SqrtPriceLimitX32, zeroForOne, protocolFeeDenominator)
	if err != nil {
		return SwapResult{}, err
	}

	res := pending.Result
	if params.IsBaseInput && res.Realized < params.OtherAmountThreshold {
		pending.Discard()
		return SwapResult{}, fmt.Errorf("%w: got %d, want at least %d", ErrTooLittleOutputReceived, res.Realized, params.OtherAmountThreshold)
	}
	if !params.IsBaseInput && res.Realized > params.OtherAmountThreshold {
		pending.Discard()
		return SwapResult{}, fmt.Errorf("%w: paid %d, want at most %d", ErrTooMuchInputPaid, res.Realized, params.OtherAmountThreshold)
	}

	pending.Commit()
	return res, nil
}

// direction returns whether paying tokenIn swaps token0 for token1.
func (p *Pool) direction(tokenIn common.Address) (zeroForOne bool, err error) {
	switch tokenIn {
	case p.cfg.Token0:
		return true, nil
	case p.cfg.Token1:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrTokenNotInPool, tokenIn.Hex())
	}
}

// swapState is the top level state of the swap, the results of which are recorded at the end.
type swapState struct {
	// the amount remaining to be swapped in/out of the input/output asset
	amountSpecifiedRemaining int64
	amountIn                 uint64
	amountOut                uint64
	sqrtPriceX32             uint64
	tick                     int32
	// the global fee growth of the input token
	feeGrowthGlobalX32 uint64
	// amount of input token paid as protocol fee
	protocolFee  uint64
	liquidity    uint64
	ticksCrossed int
}

// swap computes a swap and stages its transfer with the custodian. The caller
// decides whether to commit the returned txn; a nil txn means nothing to commit.
func (p *Pool) swap(c Custodian, amountSpecified int64, sqrtPriceLimitX32 uint64, zeroForOne bool, protocolFeeDenominator uint8) (SwapResult, *txn, error) {
	if err := ValidateProtocolFeeDenominator(protocolFeeDenominator); err != nil {
		return SwapResult{}, nil, err
	}

	current := p.state
	if amountSpecified == 0 {
		return SwapResult{
			ZeroForOne:   zeroForOne,
			SqrtPriceX32: current.SqrtPriceX32,
			Tick:         current.Tick,
			Liquidity:    current.Liquidity,
		}, nil, nil
	}

	if sqrtPriceLimitX32 == 0 {
		if zeroForOne {
			sqrtPriceLimitX32 = tickmath.MIN_SQRT_RATIO + 1
		} else {
			sqrtPriceLimitX32 = tickmath.MAX_SQRT_RATIO - 1
		}
	}

	if zeroForOne {
		if sqrtPriceLimitX32 >= current.SqrtPriceX32 || sqrtPriceLimitX32 <= tickmath.MIN_SQRT_RATIO {
			return SwapResult{}, nil, fmt.Errorf("%w: limit %d, price %d", ErrPriceLimitAlreadyReached, sqrtPriceLimitX32, current.SqrtPriceX32)
		}
	} else {
		if sqrtPriceLimitX32 <= current.SqrtPriceX32 || sqrtPriceLimitX32 >= tickmath.MAX_SQRT_RATIO {
			return SwapResult{}, nil, fmt.Errorf("%w: limit %d, price %d", ErrPriceLimitAlreadyReached, sqrtPriceLimitX32, current.SqrtPriceX32)
		}
	}

	tx := p.begin()
	exactInput := amountSpecified > 0

	state := swapState{
		amountSpecifiedRemaining: amountSpecified,
		sqrtPriceX32:             current.SqrtPriceX32,
		tick:                     current.Tick,
		liquidity:                current.Liquidity,
	}
	if zeroForOne {
		state.feeGrowthGlobalX32 = current.FeeGrowthGlobal0X32
	} else {
		state.feeGrowthGlobalX32 = current.FeeGrowthGlobal1X32
	}

	// continue swapping as long as we haven't used the entire input/output and haven't reached the price limit
	for state.amountSpecifiedRemaining != 0 && state.sqrtPriceX32 != sqrtPriceLimitX32 {
		sqrtPriceStartX32 := state.sqrtPriceX32

		tickNext, initialized := tx.bitmap.NextInitializedTickWithinOneWord(state.tick, p.cfg.TickSpacing, zeroForOne)

		// ensure that we do not overshoot the min/max tick, as the tick bitmap is not aware of these bounds
		tickNext = max(tickmath.MIN_TICK, min(tickmath.MAX_TICK, tickNext))

		sqrtPriceNextX32, err := tickmath.GetSqrtRatioAtTick(tickNext)
		if err != nil {
			return SwapResult{}, nil, err
		}

		target := sqrtPriceNextX32
		if (zeroForOne && sqrtPriceNextX32 < sqrtPriceLimitX32) || (!zeroForOne && sqrtPriceNextX32 > sqrtPriceLimitX32) {
			target = sqrtPriceLimitX32
		}

		step, err := swapmath.ComputeSwapStep(state.sqrtPriceX32, target, state.liquidity, state.amountSpecifiedRemaining, p.cfg.Fee)
		if err != nil {
			return SwapResult{}, nil, fmt.Errorf("swap step at tick %d: %w", state.tick, err)
		}
		state.sqrtPriceX32 = step.SqrtRatioNextX32

		if err := state.consume(step, exactInput); err != nil {
			return SwapResult{}, nil, err
		}

		// the protocol takes its share out of the LP fee
		feeAmount := step.FeeAmount
		if delta := feeAmount / uint64(protocolFeeDenominator); delta > 0 {
			feeAmount -= delta
			if state.protocolFee, err = fixedpoint.CheckedAdd(state.protocolFee, delta); err != nil {
				return SwapResult{}, nil, fmt.Errorf("protocol fee: %w", err)
			}
		}

		// update global fee tracker
		if state.liquidity > 0 {
			growth, err := fixedpoint.MulDiv(feeAmount, fixedpoint.Q32, state.liquidity)
			if err != nil {
				return SwapResult{}, nil, fmt.Errorf("fee growth: %w", err)
			}
			if state.feeGrowthGlobalX32, err = fixedpoint.CheckedAdd(state.feeGrowthGlobalX32, growth); err != nil {
				return SwapResult{}, nil, fmt.Errorf("fee growth global: %w", err)
			}
		}

		// shift tick if we reached the next price
		if state.sqrtPriceX32 == sqrtPriceNextX32 {
			// if the tick is initialized, run the tick transition
			if initialized {
				fg0, fg1 := current.FeeGrowthGlobal0X32, state.feeGrowthGlobalX32
				if zeroForOne {
					fg0, fg1 = state.feeGrowthGlobalX32, current.FeeGrowthGlobal1X32
				}
				liquidityNet := tx.registry.Cross(tickNext, fg0, fg1, zeroForOne)

				state.liquidity, err = liquiditymath.AddDelta(state.liquidity, liquidityNet)
				if err != nil {
					if errors.Is(err, liquiditymath.ErrLiquidityOverflow) {
						return SwapResult{}, nil, fmt.Errorf("%w: crossing tick %d: %w", ErrLiquidityUnavailable, tickNext, err)
					}
					return SwapResult{}, nil, fmt.Errorf("crossing tick %d: %w", tickNext, err)
				}
				state.ticksCrossed++
			}

			if zeroForOne {
				state.tick = tickNext - 1
			} else {
				state.tick = tickNext
			}
		} else if state.sqrtPriceX32 != sqrtPriceStartX32 {
			// recompute unless we're on a lower tick boundary (i.e. already transitioned ticks), and haven't moved
			if state.tick, err = tickmath.GetTickAtSqrtRatio(state.sqrtPriceX32); err != nil {
				return SwapResult{}, nil, err
			}
		}
	}

	tx.state.SqrtPriceX32 = state.sqrtPriceX32
	tx.state.Tick = state.tick
	tx.state.Liquidity = state.liquidity
	var transfer Transfer
	var err error
	if zeroForOne {
		tx.state.FeeGrowthGlobal0X32 = state.feeGrowthGlobalX32
		if tx.state.ProtocolFees0, err = fixedpoint.CheckedAdd(tx.state.ProtocolFees0, state.protocolFee); err != nil {
			return SwapResult{}, nil, fmt.Errorf("protocol fees token0: %w", err)
		}
		transfer = Transfer{In0: state.amountIn, Out1: state.amountOut}
	} else {
		tx.state.FeeGrowthGlobal1X32 = state.feeGrowthGlobalX32
		if tx.state.ProtocolFees1, err = fixedpoint.CheckedAdd(tx.state.ProtocolFees1, state.protocolFee); err != nil {
			return SwapResult{}, nil, fmt.Errorf("protocol fees token1: %w", err)
		}
		transfer = Transfer{In1: state.amountIn, Out0: state.amountOut}
	}

	before0, before1 := c.Balances()
	if err := c.Stage(transfer); err != nil {
		c.Rollback()
		return SwapResult{}, nil, err
	}
	after0, after1 := c.Balances()

	res := SwapResult{
		ZeroForOne:   zeroForOne,
		SqrtPriceX32: state.sqrtPriceX32,
		Tick:         state.tick,
		Liquidity:    state.liquidity,
		TicksCrossed: state.ticksCrossed,
	}
	if zeroForOne {
		res.AmountIn, res.AmountOut = after0-before0, before1-after1
	} else {
		res.AmountIn, res.AmountOut = after1-before1, before0-after0
	}
	if exactInput {
		res.Realized = res.AmountOut
	} else {
		res.Realized = res.AmountIn
	}
	return res, tx, nil
}

// consume records the amounts of one step against the remaining amount.
func (s *swapState) consume(step swapmath.Step, exactInput bool) error {
	paid, err := fixedpoint.CheckedAdd(step.AmountIn, step.FeeAmount)
	if err != nil {
		return fmt.Errorf("step input: %w", err)
	}
	if s.amountIn, err = fixedpoint.CheckedAdd(s.amountIn, paid); err != nil {
		return fmt.Errorf("swap input: %w", err)
	}
	if s.amountOut, err = fixedpoint.CheckedAdd(s.amountOut, step.AmountOut); err != nil {
		return fmt.Errorf("swap output: %w", err)
	}

	// each step is bounded by the remaining amount, so the conversions cannot overflow
	if exactInput {
		s.amountSpecifiedRemaining -= int64(paid)
	} else {
		s.amountSpecifiedRemaining += int64(step.AmountOut)
	}
	return nil
}
