package position

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/clmm-core/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrZeroLiquidityDelta    = errors.New("liquidity delta must be nonzero")
	ErrInsufficientLiquidity = errors.New("insufficient position liquidity")
)

// Key identifies a position by owner and range.
type Key struct {
	Owner     common.Address
	TickLower int32
	TickUpper int32
}

// Hash returns keccak256(owner ++ tickLower ++ tickUpper), with ticks encoded big-endian.
func (k Key) Hash() common.Hash {
	var ticks [8]byte
	binary.BigEndian.PutUint32(ticks[:4], uint32(k.TickLower))
	binary.BigEndian.PutUint32(ticks[4:], uint32(k.TickUpper))
	return crypto.Keccak256Hash(k.Owner.Bytes(), ticks[:])
}

func (k Key) String() string {
	return fmt.Sprintf("%s[%d,%d]", k.Owner.Hex(), k.TickLower, k.TickUpper)
}

// Info holds the state of one position.
type Info struct {
	// Liquidity is the amount of liquidity owned by this position.
	Liquidity uint64
	// FeeGrowthInside{0,1}LastX32 is the fee growth per unit of liquidity as of the last update.
	FeeGrowthInside0LastX32 uint64
	FeeGrowthInside1LastX32 uint64
	// TokensOwed{0,1} are the fees and burned principal collectible by the owner.
	TokensOwed0 uint64
	TokensOwed1 uint64
}

// Update credits accumulated fees to a position against its current liquidity
// and then applies the liquidity delta.
func (i *Info) Update(liquidityDelta int64, feeGrowthInside0X32, feeGrowthInside1X32 uint64) error {
	if liquidityDelta == 0 && i.Liquidity == 0 {
		// disallow pokes for 0 liquidity positions
		return ErrZeroLiquidityDelta
	}

	liquidityNext, err := liquiditymath.AddDelta(i.Liquidity, liquidityDelta)
	if err != nil {
		if errors.Is(err, liquiditymath.ErrLiquidityUnderflow) {
			return fmt.Errorf("%w: have %d, delta %d", ErrInsufficientLiquidity, i.Liquidity, liquidityDelta)
		}
		return err
	}

	// calculate accumulated fees; the growth difference wraps like the accumulators
	tokensOwed0, err := fixedpoint.MulShr(feeGrowthInside0X32-i.FeeGrowthInside0LastX32, i.Liquidity, fixedpoint.Resolution)
	if err != nil {
		return fmt.Errorf("token0 fees: %w", err)
	}
	tokensOwed1, err := fixedpoint.MulShr(feeGrowthInside1X32-i.FeeGrowthInside1LastX32, i.Liquidity, fixedpoint.Resolution)
	if err != nil {
		return fmt.Errorf("token1 fees: %w", err)
	}

	owed0, err := fixedpoint.CheckedAdd(i.TokensOwed0, tokensOwed0)
	if err != nil {
		return fmt.Errorf("token0 owed: %w", err)
	}
	owed1, err := fixedpoint.CheckedAdd(i.TokensOwed1, tokensOwed1)
	if err != nil {
		return fmt.Errorf("token1 owed: %w", err)
	}

	i.Liquidity = liquidityNext
	i.FeeGrowthInside0LastX32 = feeGrowthInside0X32
	i.FeeGrowthInside1LastX32 = feeGrowthInside1X32
	i.TokensOwed0 = owed0
	i.TokensOwed1 = owed1
	return nil
}

// Ledger stores positions keyed by Key.Hash.
type Ledger struct {
	positions storage.Store[common.Hash, Info]
}

// NewLedger creates a ledger over the given position store.
func NewLedger(positions storage.Store[common.Hash, Info]) *Ledger {
	return &Ledger{positions: positions}
}

// Get returns a position; positions never written are zero.
func (l *Ledger) Get(key Key) Info {
	info, _ := l.positions.Get(key.Hash())
	return info
}

// Update settles fees and applies a liquidity delta to the position at key.
// Nothing is written on error.
func (l *Ledger) Update(key Key, liquidityDelta int64, feeGrowthInside0X32, feeGrowthInside1X32 uint64) (Info, error) {
	info := l.Get(key)
	if err := info.Update(liquidityDelta, feeGrowthInside0X32, feeGrowthInside1X32); err != nil {
		return Info{}, fmt.Errorf("position %s: %w", key, err)
	}
	l.positions.Put(key.Hash(), info)
	return info, nil
}

// Credit adds burned principal to what the position is owed.
func (l *Ledger) Credit(key Key, amount0, amount1 uint64) error {
	info := l.Get(key)
	owed0, err := fixedpoint.CheckedAdd(info.TokensOwed0, amount0)
	if err != nil {
		return fmt.Errorf("position %s token0 owed: %w", key, err)
	}
	owed1, err := fixedpoint.CheckedAdd(info.TokensOwed1, amount1)
	if err != nil {
		return fmt.Errorf("position %s token1 owed: %w", key, err)
	}
	info.TokensOwed0, info.TokensOwed1 = owed0, owed1
	l.positions.Put(key.Hash(), info)
	return nil
}

// Collect pays out up to the requested amounts from what the position is owed.
func (l *Ledger) Collect(key Key, amount0Requested, amount1Requested uint64) (amount0, amount1 uint64) {
	info := l.Get(key)
	amount0 = min(amount0Requested, info.TokensOwed0)
	amount1 = min(amount1Requested, info.TokensOwed1)
	if amount0 == 0 && amount1 == 0 {
		return 0, 0
	}

	info.TokensOwed0 -= amount0
	info.TokensOwed1 -= amount1
	l.positions.Put(key.Hash(), info)
	return amount0, amount1
}
