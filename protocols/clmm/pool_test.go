package clmm

import (
	"testing"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/tickmath"
	"github.com/defistate/clmm-core/protocols/clmm/position"
	"github.com/defistate/clmm-core/protocols/clmm/tick"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token0 = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token1 = common.HexToAddress("0x2000000000000000000000000000000000000002")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func testConfig() Config {
	return Config{ID: 1, Token0: token0, Token1: token1, Fee: 3000, TickSpacing: 10}
}

// newTestPool returns a pool at price 1.0 with alice holding 1e6 liquidity on [-100, 100].
func newTestPool(t *testing.T) (*Pool, *Vaults) {
	t.Helper()
	p, err := NewPool(testConfig(), fixedpoint.Q32)
	require.NoError(t, err)

	vaults := NewVaults(0, 0)
	amount0, amount1, err := p.Mint(vaults, alice, -100, 100, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(4988), amount0)
	require.Equal(t, uint64(4988), amount1)
	return p, vaults
}

func TestNewPool(t *testing.T) {
	t.Run("initializes the tick from the price", func(t *testing.T) {
		p, err := NewPool(testConfig(), fixedpoint.Q32)
		require.NoError(t, err)
		assert.Equal(t, State{SqrtPriceX32: fixedpoint.Q32, Tick: 0}, p.State())
		assert.Equal(t, testConfig(), p.Config())
		assert.Equal(t, tickmath.TickSpacingToMaxLiquidityPerTick(10), p.MaxLiquidityPerTick())
		assert.Empty(t, p.Ticks())
	})

	t.Run("accepts the price bounds", func(t *testing.T) {
		p, err := NewPool(testConfig(), tickmath.MIN_SQRT_RATIO)
		require.NoError(t, err)
		assert.Equal(t, tickmath.MIN_TICK, p.State().Tick)

		p, err = NewPool(testConfig(), tickmath.MAX_SQRT_RATIO)
		require.NoError(t, err)
		assert.Equal(t, tickmath.MAX_TICK, p.State().Tick)
	})

	t.Run("rejects prices out of range", func(t *testing.T) {
		_, err := NewPool(testConfig(), tickmath.MIN_SQRT_RATIO-1)
		assert.ErrorIs(t, err, tickmath.ErrSqrtPriceOutOfRange)

		_, err = NewPool(testConfig(), tickmath.MAX_SQRT_RATIO+1)
		assert.ErrorIs(t, err, tickmath.ErrSqrtPriceOutOfRange)
	})

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsorted tokens", func(c *Config) { c.Token0, c.Token1 = c.Token1, c.Token0 }},
		{"identical tokens", func(c *Config) { c.Token1 = c.Token0 }},
		{"fee at denominator", func(c *Config) { c.Fee = 1_000_000 }},
		{"zero tick spacing", func(c *Config) { c.TickSpacing = 0 }},
		{"negative tick spacing", func(c *Config) { c.TickSpacing = -10 }},
		{"tick spacing too large", func(c *Config) { c.TickSpacing = MaxTickSpacing }},
	}
	for _, tc := range testCases {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := NewPool(cfg, fixedpoint.Q32)
			assert.ErrorIs(t, err, ErrInvalidPoolConfig)
		})
	}
}

func TestPoolAccessors(t *testing.T) {
	p, _ := newTestPool(t)

	lower, ok := p.Tick(-100)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), lower.LiquidityGross)
	assert.Equal(t, int64(1_000_000), lower.LiquidityNet)

	upper, ok := p.Tick(100)
	require.True(t, ok)
	assert.Equal(t, int64(-1_000_000), upper.LiquidityNet)

	_, ok = p.Tick(0)
	assert.False(t, ok)

	ticks := p.Ticks()
	assert.Len(t, ticks, 2)
	delete(ticks, 100)
	_, ok = p.Tick(100)
	assert.True(t, ok, "Ticks returns a copy")

	// -100 compresses to -10, bit 246 of word -1; 100 compresses to 10, bit 10 of word 0.
	below := p.BitmapWord(-1)
	assert.Equal(t, uint64(1), below.Rsh(&below, 246).Uint64())
	above := p.BitmapWord(0)
	assert.Equal(t, uint64(1<<10), above.Uint64())

	info := p.Position(position.Key{Owner: alice, TickLower: -100, TickUpper: 100})
	assert.Equal(t, uint64(1_000_000), info.Liquidity)
	assert.Equal(t, position.Info{}, p.Position(position.Key{Owner: bob, TickLower: -100, TickUpper: 100}))

	assert.Equal(t, uint64(1_000_000), p.State().Liquidity)
}

// countingStore is a host store that counts the writes reaching it and cannot
// be enumerated.
type countingStore[K comparable, V any] struct {
	entries map[K]V
	puts    int
	deletes int
}

func newCountingStore[K comparable, V any]() *countingStore[K, V] {
	return &countingStore[K, V]{entries: make(map[K]V)}
}

func (s *countingStore[K, V]) Get(key K) (V, bool) {
	v, ok := s.entries[key]
	return v, ok
}

func (s *countingStore[K, V]) Put(key K, value V) {
	s.puts++
	s.entries[key] = value
}

func (s *countingStore[K, V]) Delete(key K) {
	s.deletes++
	delete(s.entries, key)
}

func TestNewPoolWithStores(t *testing.T) {
	ticks := newCountingStore[int32, tick.Info]()
	words := newCountingStore[int16, uint256.Int]()
	positions := newCountingStore[common.Hash, position.Info]()
	p, err := NewPoolWithStores(testConfig(), fixedpoint.Q32, Stores{Ticks: ticks, Words: words, Positions: positions})
	require.NoError(t, err)

	_, _, err = p.Mint(&failingCustodian{}, alice, -100, 100, 1_000_000)
	require.ErrorIs(t, err, errCustodyUnavailable)
	assert.Zero(t, ticks.puts+words.puts+positions.puts, "failed operations never reach the stores")

	vaults := NewVaults(0, 0)
	_, _, err = p.Mint(vaults, alice, -100, 100, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 2, ticks.puts)
	assert.Equal(t, 2, words.puts)
	assert.Equal(t, 1, positions.puts)

	lower, ok := p.Tick(-100)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), lower.LiquidityGross)
	assert.Empty(t, p.Ticks(), "a store without snapshots is not enumerated")

	_, _, err = p.Burn(alice, -100, 100, 2_000_000)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
	assert.Zero(t, ticks.deletes+words.deletes)

	_, _, err = p.Burn(alice, -100, 100, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 2, ticks.deletes)
	assert.Equal(t, 2, words.deletes)
	assert.Empty(t, ticks.entries, "unreferenced ticks are reclaimed")
	assert.Empty(t, words.entries, "empty bitmap words are reclaimed")
	assert.Equal(t, 2, positions.puts)
	assert.Equal(t, uint64(4987), p.Position(position.Key{Owner: alice, TickLower: -100, TickUpper: 100}).TokensOwed0)
}
