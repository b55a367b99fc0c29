package tick

import (
	"fmt"
	"math"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/clmm-core/storage"
)

// Info is the state stored for each initialized tick.
type Info struct {
	// LiquidityGross is the total position liquidity that references this tick.
	LiquidityGross uint64
	// LiquidityNet is the amount of liquidity added when the tick is crossed left to right.
	LiquidityNet int64
	// FeeGrowthOutside{0,1}X32 is the fee growth per unit of liquidity on the other side
	// of this tick, relative to the current tick. Only relative values are meaningful.
	FeeGrowthOutside0X32 uint64
	FeeGrowthOutside1X32 uint64
}

// Initialized reports whether any position references the tick.
func (i Info) Initialized() bool {
	return i.LiquidityGross != 0
}

// Registry keeps tick state for a single pool.
type Registry struct {
	ticks               storage.Store[int32, Info]
	maxLiquidityPerTick uint64
}

// NewRegistry creates a registry over the given tick store.
func NewRegistry(ticks storage.Store[int32, Info], maxLiquidityPerTick uint64) *Registry {
	return &Registry{ticks: ticks, maxLiquidityPerTick: maxLiquidityPerTick}
}

// Get returns the state of a tick. Ticks never written are zero.
func (r *Registry) Get(tick int32) (Info, bool) {
	return r.ticks.Get(tick)
}

// FeeGrowthInside returns the all-time fee growth per unit of liquidity inside
// [tickLower, tickUpper]. Values wrap like the accumulators they are derived from.
func (r *Registry) FeeGrowthInside(
	tickLower, tickUpper, tickCurrent int32,
	feeGrowthGlobal0X32, feeGrowthGlobal1X32 uint64,
) (feeGrowthInside0X32, feeGrowthInside1X32 uint64) {
	lower, _ := r.ticks.Get(tickLower)
	upper, _ := r.ticks.Get(tickUpper)

	// calculate fee growth below
	var below0, below1 uint64
	if tickCurrent >= tickLower {
		below0 = lower.FeeGrowthOutside0X32
		below1 = lower.FeeGrowthOutside1X32
	} else {
		below0 = feeGrowthGlobal0X32 - lower.FeeGrowthOutside0X32
		below1 = feeGrowthGlobal1X32 - lower.FeeGrowthOutside1X32
	}

	// calculate fee growth above
	var above0, above1 uint64
	if tickCurrent < tickUpper {
		above0 = upper.FeeGrowthOutside0X32
		above1 = upper.FeeGrowthOutside1X32
	} else {
		above0 = feeGrowthGlobal0X32 - upper.FeeGrowthOutside0X32
		above1 = feeGrowthGlobal1X32 - upper.FeeGrowthOutside1X32
	}

	return feeGrowthGlobal0X32 - below0 - above0, feeGrowthGlobal1X32 - below1 - above1
}

// Update applies a position's liquidity change at one of its boundary ticks and
// reports whether the tick flipped between initialized and uninitialized.
func (r *Registry) Update(
	tick, tickCurrent int32,
	liquidityDelta int64,
	feeGrowthGlobal0X32, feeGrowthGlobal1X32 uint64,
	upper bool,
) (flipped bool, err error) {
	info, _ := r.ticks.Get(tick)

	liquidityGrossBefore := info.LiquidityGross
	liquidityGrossAfter, err := liquiditymath.AddDelta(liquidityGrossBefore, liquidityDelta)
	if err != nil {
		return false, fmt.Errorf("tick %d gross liquidity: %w", tick, err)
	}
	if liquidityGrossAfter > r.maxLiquidityPerTick {
		return false, fmt.Errorf("%w: tick %d gross %d exceeds %d",
			liquiditymath.ErrLiquidityOverflow, tick, liquidityGrossAfter, r.maxLiquidityPerTick)
	}

	flipped = (liquidityGrossAfter == 0) != (liquidityGrossBefore == 0)

	if liquidityGrossBefore == 0 {
		// by convention, we assume that all growth before a tick was initialized happened below the tick
		if tick <= tickCurrent {
			info.FeeGrowthOutside0X32 = feeGrowthGlobal0X32
			info.FeeGrowthOutside1X32 = feeGrowthGlobal1X32
		}
	}

	info.LiquidityGross = liquidityGrossAfter

	// when the lower (upper) tick is crossed left to right (right to left), liquidity must be added (removed)
	if upper {
		info.LiquidityNet, err = subNet(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet, err = addNet(info.LiquidityNet, liquidityDelta)
	}
	if err != nil {
		return false, fmt.Errorf("tick %d net liquidity: %w", tick, err)
	}

	r.ticks.Put(tick, info)
	return flipped, nil
}

// Clear deletes the state of a tick that no position references any more.
func (r *Registry) Clear(tick int32) {
	r.ticks.Delete(tick)
}

// Cross transitions to the next tick as needed by price movement and returns
// the liquidity delta to apply to the active liquidity, already negated when
// the price is moving down.
func (r *Registry) Cross(tick int32, feeGrowthGlobal0X32, feeGrowthGlobal1X32 uint64, zeroForOne bool) int64 {
	info, _ := r.ticks.Get(tick)
	info.FeeGrowthOutside0X32 = feeGrowthGlobal0X32 - info.FeeGrowthOutside0X32
	info.FeeGrowthOutside1X32 = feeGrowthGlobal1X32 - info.FeeGrowthOutside1X32
	r.ticks.Put(tick, info)

	if zeroForOne {
		return -info.LiquidityNet
	}
	return info.LiquidityNet
}

func addNet(x, y int64) (int64, error) {
	if (y > 0 && x > math.MaxInt64-y) || (y < 0 && x < math.MinInt64-y) {
		return 0, liquiditymath.ErrLiquidityOverflow
	}
	return x + y, nil
}

func subNet(x, y int64) (int64, error) {
	if (y < 0 && x > math.MaxInt64+y) || (y > 0 && x < math.MinInt64+y) {
		return 0, liquiditymath.ErrLiquidityOverflow
	}
	return x - y, nil
}
