package clmm

import (
	"crypto/rand"
	"math"
	"math/big"
	"testing"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/tickmath"
	"github.com/defistate/clmm-core/protocols/clmm/position"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randInt64(t *testing.T, n int64) int64 {
	t.Helper()
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	require.NoError(t, err)
	return v.Int64()
}

func assertEmptyWord(t *testing.T, p *Pool, wordPos int16) {
	t.Helper()
	word := p.BitmapWord(wordPos)
	assert.True(t, word.IsZero(), "word %d", wordPos)
}

func TestMint(t *testing.T) {
	t.Run("in range takes both tokens and activates liquidity", func(t *testing.T) {
		p, vaults := newTestPool(t)

		b0, b1 := vaults.Balances()
		assert.Equal(t, uint64(4988), b0)
		assert.Equal(t, uint64(4988), b1)
		assert.Equal(t, uint64(1_000_000), p.State().Liquidity)
	})

	t.Run("above the price takes only token0", func(t *testing.T) {
		p, err := NewPool(testConfig(), fixedpoint.Q32)
		require.NoError(t, err)

		amount0, amount1, err := p.Mint(NewVaults(0, 0), alice, 100, 200, 1_000_000)
		require.NoError(t, err)
		assert.Positive(t, amount0)
		assert.Zero(t, amount1)
		assert.Zero(t, p.State().Liquidity)
	})

	t.Run("below the price takes only token1", func(t *testing.T) {
		p, err := NewPool(testConfig(), fixedpoint.Q32)
		require.NoError(t, err)

		amount0, amount1, err := p.Mint(NewVaults(0, 0), alice, -200, -100, 1_000_000)
		require.NoError(t, err)
		assert.Zero(t, amount0)
		assert.Positive(t, amount1)
		assert.Zero(t, p.State().Liquidity)
	})

	t.Run("lower tick at the current tick is in range", func(t *testing.T) {
		p, err := NewPool(testConfig(), fixedpoint.Q32)
		require.NoError(t, err)

		amount0, amount1, err := p.Mint(NewVaults(0, 0), alice, 0, 100, 1_000_000)
		require.NoError(t, err)
		assert.Positive(t, amount0)
		assert.Zero(t, amount1)
		assert.Equal(t, uint64(1_000_000), p.State().Liquidity)
	})

	testCases := []struct {
		name       string
		lower      int32
		upper      int32
		amount     uint64
		errorCheck error
	}{
		{"zero liquidity", -100, 100, 0, ErrZeroLiquidityDelta},
		{"lower not below upper", 100, 100, 1, tickmath.ErrTickOrderInvalid},
		{"inverted range", 100, -100, 1, tickmath.ErrTickOrderInvalid},
		{"misaligned lower", -105, 100, 1, tickmath.ErrTickSpacingMismatch},
		{"misaligned upper", -100, 105, 1, tickmath.ErrTickSpacingMismatch},
		{"lower below min tick", -221820, 100, 1, tickmath.ErrTickLowerOverflow},
		{"upper above max tick", -100, 221820, 1, tickmath.ErrTickUpperOverflow},
		{"amount above int64", -100, 100, math.MaxInt64 + 1, fixedpoint.ErrOverflow},
		{"amount above max liquidity per tick", -100, 100, tickmath.TickSpacingToMaxLiquidityPerTick(10) + 1, liquiditymath.ErrLiquidityOverflow},
	}
	for _, tc := range testCases {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			p, vaults := newTestPool(t)
			before := p.State()
			ticks := p.Ticks()

			_, _, err := p.Mint(vaults, bob, tc.lower, tc.upper, tc.amount)
			assert.ErrorIs(t, err, tc.errorCheck)

			assert.Equal(t, before, p.State())
			assert.Equal(t, ticks, p.Ticks())
			b0, b1 := vaults.Balances()
			assert.Equal(t, uint64(4988), b0)
			assert.Equal(t, uint64(4988), b1)
		})
	}

	t.Run("custody failure leaves the pool untouched", func(t *testing.T) {
		p, err := NewPool(testConfig(), fixedpoint.Q32)
		require.NoError(t, err)

		custodian := &failingCustodian{}
		_, _, err = p.Mint(custodian, alice, -100, 100, 1_000_000)
		assert.ErrorIs(t, err, errCustodyUnavailable)
		assert.Equal(t, 1, custodian.rollbacks)

		assert.Zero(t, p.State().Liquidity)
		assert.Empty(t, p.Ticks())
		assertEmptyWord(t, p, -1)
		assert.Equal(t, position.Info{}, p.Position(position.Key{Owner: alice, TickLower: -100, TickUpper: 100}))
	})
}

func TestBurn(t *testing.T) {
	key := position.Key{Owner: alice, TickLower: -100, TickUpper: 100}

	t.Run("mint then burn round trips", func(t *testing.T) {
		p, vaults := newTestPool(t)

		amount0, amount1, err := p.Burn(alice, -100, 100, 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(4987), amount0)
		assert.Equal(t, uint64(4987), amount1)

		assert.Equal(t, State{SqrtPriceX32: fixedpoint.Q32, Tick: 0}, p.State())
		assert.Empty(t, p.Ticks(), "ticks no position references are cleared")
		assertEmptyWord(t, p, -1)
		assertEmptyWord(t, p, 0)

		info := p.Position(key)
		assert.Zero(t, info.Liquidity)
		assert.Equal(t, uint64(4987), info.TokensOwed0)
		assert.Equal(t, uint64(4987), info.TokensOwed1)

		// burning does not move tokens by itself
		b0, b1 := vaults.Balances()
		assert.Equal(t, uint64(4988), b0)
		assert.Equal(t, uint64(4988), b1)
	})

	t.Run("partial burn keeps the ticks", func(t *testing.T) {
		p, _ := newTestPool(t)

		_, _, err := p.Burn(alice, -100, 100, 400_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(600_000), p.State().Liquidity)

		lower, ok := p.Tick(-100)
		require.True(t, ok)
		assert.Equal(t, uint64(600_000), lower.LiquidityGross)
		assert.Equal(t, uint64(600_000), p.Position(key).Liquidity)
	})

	t.Run("rejects burning more than the position holds", func(t *testing.T) {
		p, _ := newTestPool(t)
		before := p.State()
		ticks := p.Ticks()

		_, _, err := p.Burn(alice, -100, 100, 1_000_001)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
		assert.Equal(t, before, p.State())
		assert.Equal(t, ticks, p.Ticks())
		assert.Equal(t, uint64(1_000_000), p.Position(key).Liquidity)
	})

	t.Run("rejects burning a position that was never minted", func(t *testing.T) {
		p, _ := newTestPool(t)
		_, _, err := p.Burn(bob, -100, 100, 1)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})

	t.Run("rejects burning more than any position can hold", func(t *testing.T) {
		p, _ := newTestPool(t)
		_, _, err := p.Burn(alice, -100, 100, math.MaxUint64)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
		assert.Equal(t, uint64(1_000_000), p.Position(key).Liquidity)
	})

	t.Run("poke on an empty position fails", func(t *testing.T) {
		p, _ := newTestPool(t)
		_, _, err := p.Burn(bob, -100, 100, 0)
		assert.ErrorIs(t, err, ErrZeroLiquidityDelta)
	})

	t.Run("poke settles fees without touching liquidity", func(t *testing.T) {
		p, vaults := newTestPool(t)
		_, err := p.Swap(vaults, 1000, 0, true, 10)
		require.NoError(t, err)

		amount0, amount1, err := p.Burn(alice, -100, 100, 0)
		require.NoError(t, err)
		assert.Zero(t, amount0)
		assert.Zero(t, amount1)

		info := p.Position(key)
		assert.Equal(t, uint64(1_000_000), info.Liquidity)
		// 3 units of token0 fee over 1e6 liquidity
		assert.Equal(t, uint64(12884), info.FeeGrowthInside0LastX32)
		assert.Equal(t, uint64(2), info.TokensOwed0)
		assert.Zero(t, info.TokensOwed1)
	})
}

func TestCollect(t *testing.T) {
	t.Run("pays out what the position is owed", func(t *testing.T) {
		p, vaults := newTestPool(t)
		_, _, err := p.Burn(alice, -100, 100, 1_000_000)
		require.NoError(t, err)

		amount0, amount1, err := p.Collect(vaults, alice, -100, 100, 1000, math.MaxUint64)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), amount0)
		assert.Equal(t, uint64(4987), amount1)

		b0, b1 := vaults.Balances()
		assert.Equal(t, uint64(3988), b0)
		assert.Equal(t, uint64(1), b1)

		info := p.Position(position.Key{Owner: alice, TickLower: -100, TickUpper: 100})
		assert.Equal(t, uint64(3987), info.TokensOwed0)
		assert.Zero(t, info.TokensOwed1)
	})

	t.Run("nothing owed returns zero without custody", func(t *testing.T) {
		p, _ := newTestPool(t)
		custodian := &failingCustodian{}

		amount0, amount1, err := p.Collect(custodian, bob, -100, 100, 10, 10)
		require.NoError(t, err)
		assert.Zero(t, amount0)
		assert.Zero(t, amount1)
		assert.Zero(t, custodian.rollbacks)
	})

	t.Run("custody failure keeps the amounts owed", func(t *testing.T) {
		p, _ := newTestPool(t)
		_, _, err := p.Burn(alice, -100, 100, 1_000_000)
		require.NoError(t, err)

		_, _, err = p.Collect(&failingCustodian{}, alice, -100, 100, math.MaxUint64, math.MaxUint64)
		assert.ErrorIs(t, err, errCustodyUnavailable)

		info := p.Position(position.Key{Owner: alice, TickLower: -100, TickUpper: 100})
		assert.Equal(t, uint64(4987), info.TokensOwed0)
		assert.Equal(t, uint64(4987), info.TokensOwed1)
	})
}

// TestLiquidityInvariants mints and burns random ranges and checks that the
// net liquidity of all ticks cancels out and that the active liquidity equals
// the sum of the positions in range.
func TestLiquidityInvariants(t *testing.T) {
	p, err := NewPool(testConfig(), fixedpoint.Q32)
	require.NoError(t, err)
	vaults := NewVaults(0, 0)

	owners := []position.Key{}
	for i := 0; i < 200; i++ {
		if len(owners) > 0 && randInt64(t, 3) == 0 {
			idx := int(randInt64(t, int64(len(owners))))
			key := owners[idx]
			have := p.Position(key).Liquidity
			amount := uint64(randInt64(t, int64(have))) + 1
			_, _, err := p.Burn(key.Owner, key.TickLower, key.TickUpper, amount)
			require.NoError(t, err)
			if amount == have {
				owners = append(owners[:idx], owners[idx+1:]...)
			}
		} else {
			lower := int32(randInt64(t, 200)-100) * 10
			upper := lower + int32(randInt64(t, 50)+1)*10
			amount := uint64(randInt64(t, 1_000_000_000)) + 1
			key := position.Key{Owner: alice, TickLower: lower, TickUpper: upper}
			if p.Position(key).Liquidity == 0 {
				owners = append(owners, key)
			}
			_, _, err := p.Mint(vaults, alice, lower, upper, amount)
			require.NoError(t, err)
		}

		var net int64
		for _, info := range p.Ticks() {
			assert.True(t, info.Initialized())
			net += info.LiquidityNet
		}
		require.Zero(t, net, "iteration %d", i)

		var active uint64
		current := p.State().Tick
		for _, key := range owners {
			if key.TickLower <= current && current < key.TickUpper {
				active += p.Position(key).Liquidity
			}
		}
		require.Equal(t, active, p.State().Liquidity, "iteration %d", i)
	}
}
