package clmm

import (
	"fmt"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/sqrtpricemath"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/tickmath"
	"github.com/defistate/clmm-core/protocols/clmm/position"
	"github.com/ethereum/go-ethereum/common"
)

// Mint adds liquidity to the position (owner, tickLower, tickUpper) and stages
// the token amounts owed to the pool, rounded up.
func (p *Pool) Mint(c Custodian, owner common.Address, tickLower, tickUpper int32, amount uint64) (amount0, amount1 uint64, err error) {
	if amount == 0 {
		return 0, 0, ErrZeroLiquidityDelta
	}
	delta, err := fixedpoint.ToInt64(amount)
	if err != nil {
		return 0, 0, fmt.Errorf("liquidity %d: %w", amount, err)
	}

	tx := p.begin()
	key := position.Key{Owner: owner, TickLower: tickLower, TickUpper: tickUpper}
	amount0, amount1, err = tx.modifyPosition(p.cfg.TickSpacing, key, delta)
	if err != nil {
		return 0, 0, err
	}

	if err := c.Stage(Transfer{In0: amount0, In1: amount1}); err != nil {
		c.Rollback()
		return 0, 0, err
	}
	p.commit(tx)
	c.Commit()
	return amount0, amount1, nil
}

// Burn removes liquidity from a position and credits the released amounts,
// rounded down, to the tokens it is owed. Burning zero settles fees only.
func (p *Pool) Burn(owner common.Address, tickLower, tickUpper int32, amount uint64) (amount0, amount1 uint64, err error) {
	key := position.Key{Owner: owner, TickLower: tickLower, TickUpper: tickUpper}
	delta, err := fixedpoint.ToInt64(amount)
	if err != nil {
		// no position can hold more than a tick may reference
		return 0, 0, fmt.Errorf("position %s: %w: burn %d", key, ErrInsufficientLiquidity, amount)
	}

	tx := p.begin()
	amount0, amount1, err = tx.modifyPosition(p.cfg.TickSpacing, key, -delta)
	if err != nil {
		return 0, 0, err
	}

	if amount0 > 0 || amount1 > 0 {
		if err := tx.ledger.Credit(key, amount0, amount1); err != nil {
			return 0, 0, err
		}
	}
	p.commit(tx)
	return amount0, amount1, nil
}

// Collect pays out up to the requested amounts owed to a position.
func (p *Pool) Collect(c Custodian, owner common.Address, tickLower, tickUpper int32, amount0Requested, amount1Requested uint64) (amount0, amount1 uint64, err error) {
	tx := p.begin()
	key := position.Key{Owner: owner, TickLower: tickLower, TickUpper: tickUpper}
	amount0, amount1 = tx.ledger.Collect(key, amount0Requested, amount1Requested)
	if amount0 == 0 && amount1 == 0 {
		return 0, 0, nil
	}

	if err := c.Stage(Transfer{Out0: amount0, Out1: amount1}); err != nil {
		c.Rollback()
		return 0, 0, err
	}
	p.commit(tx)
	c.Commit()
	return amount0, amount1, nil
}

// CollectProtocol pays out up to the requested amounts of accrued protocol fees.
func (p *Pool) CollectProtocol(c Custodian, amount0Requested, amount1Requested uint64) (amount0, amount1 uint64, err error) {
	tx := p.begin()
	amount0 = min(amount0Requested, tx.state.ProtocolFees0)
	amount1 = min(amount1Requested, tx.state.ProtocolFees1)
	if amount0 == 0 && amount1 == 0 {
		return 0, 0, nil
	}
	tx.state.ProtocolFees0 -= amount0
	tx.state.ProtocolFees1 -= amount1

	if err := c.Stage(Transfer{Out0: amount0, Out1: amount1}); err != nil {
		c.Rollback()
		return 0, 0, err
	}
	p.commit(tx)
	c.Commit()
	return amount0, amount1, nil
}

// modifyPosition applies a liquidity delta to a position and returns the token
// amounts that change hands. Positive deltas round up, negative deltas round down.
func (tx *txn) modifyPosition(tickSpacing int32, key position.Key, liquidityDelta int64) (amount0, amount1 uint64, err error) {
	if err := tickmath.CheckTicks(key.TickLower, key.TickUpper, tickSpacing); err != nil {
		return 0, 0, err
	}

	if err := tx.updatePosition(tickSpacing, key, liquidityDelta); err != nil {
		return 0, 0, err
	}
	if liquidityDelta == 0 {
		return 0, 0, nil
	}

	sqrtLower, err := tickmath.GetSqrtRatioAtTick(key.TickLower)
	if err != nil {
		return 0, 0, err
	}
	sqrtUpper, err := tickmath.GetSqrtRatioAtTick(key.TickUpper)
	if err != nil {
		return 0, 0, err
	}

	switch {
	case tx.state.Tick < key.TickLower:
		// current tick is below the passed range; liquidity can only become in range by crossing from left to
		// right, when we'll need _more_ token0 (it's becoming more valuable) so user must provide it
		amount0, err = sqrtpricemath.GetAmount0DeltaSigned(sqrtLower, sqrtUpper, liquidityDelta)
		if err != nil {
			return 0, 0, err
		}
	case tx.state.Tick < key.TickUpper:
		// current tick is inside the passed range
		amount0, err = sqrtpricemath.GetAmount0DeltaSigned(tx.state.SqrtPriceX32, sqrtUpper, liquidityDelta)
		if err != nil {
			return 0, 0, err
		}
		amount1, err = sqrtpricemath.GetAmount1DeltaSigned(sqrtLower, tx.state.SqrtPriceX32, liquidityDelta)
		if err != nil {
			return 0, 0, err
		}
		tx.state.Liquidity, err = liquiditymath.AddDelta(tx.state.Liquidity, liquidityDelta)
		if err != nil {
			return 0, 0, fmt.Errorf("pool liquidity: %w", err)
		}
	default:
		// current tick is above the passed range; liquidity can only become in range by crossing from right to
		// left, when we'll need _more_ token1 (it's becoming more valuable) so user must provide it
		amount1, err = sqrtpricemath.GetAmount1DeltaSigned(sqrtLower, sqrtUpper, liquidityDelta)
		if err != nil {
			return 0, 0, err
		}
	}
	return amount0, amount1, nil
}

// updatePosition updates both boundary ticks and then the position, settling
// fees against the fee growth inside the range before liquidity changes.
func (tx *txn) updatePosition(tickSpacing int32, key position.Key, liquidityDelta int64) error {
	if liquidityDelta < 0 {
		if have := tx.ledger.Get(key).Liquidity; have < uint64(-liquidityDelta) {
			return fmt.Errorf("position %s: %w: have %d, delta %d", key, ErrInsufficientLiquidity, have, liquidityDelta)
		}
	}

	var flippedLower, flippedUpper bool
	if liquidityDelta != 0 {
		var err error
		flippedLower, err = tx.registry.Update(key.TickLower, tx.state.Tick, liquidityDelta,
			tx.state.FeeGrowthGlobal0X32, tx.state.FeeGrowthGlobal1X32, false)
		if err != nil {
			return err
		}
		flippedUpper, err = tx.registry.Update(key.TickUpper, tx.state.Tick, liquidityDelta,
			tx.state.FeeGrowthGlobal0X32, tx.state.FeeGrowthGlobal1X32, true)
		if err != nil {
			return err
		}

		if flippedLower {
			if err := tx.bitmap.Flip(key.TickLower, tickSpacing); err != nil {
				return err
			}
		}
		if flippedUpper {
			if err := tx.bitmap.Flip(key.TickUpper, tickSpacing); err != nil {
				return err
			}
		}
	}

	inside0, inside1 := tx.registry.FeeGrowthInside(key.TickLower, key.TickUpper, tx.state.Tick,
		tx.state.FeeGrowthGlobal0X32, tx.state.FeeGrowthGlobal1X32)

	if _, err := tx.ledger.Update(key, liquidityDelta, inside0, inside1); err != nil {
		return err
	}

	// clear any tick data that is no longer needed
	if liquidityDelta < 0 {
		if flippedLower {
			tx.registry.Clear(key.TickLower)
		}
		if flippedUpper {
			tx.registry.Clear(key.TickUpper)
		}
	}
	return nil
}
