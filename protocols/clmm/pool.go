package clmm

import (
	"bytes"
	"fmt"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/swapmath"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/tickbitmap"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/tickmath"
	"github.com/defistate/clmm-core/protocols/clmm/position"
	"github.com/defistate/clmm-core/protocols/clmm/tick"
	"github.com/defistate/clmm-core/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxTickSpacing bounds the spacing a pool may use.
const MaxTickSpacing = int32(16384)

// Config is the immutable configuration of a pool.
type Config struct {
	ID          uint64
	Token0      common.Address
	Token1      common.Address
	Fee         uint32 // hundredths of a bip
	TickSpacing int32
}

func (c *Config) validate() error {
	if bytes.Compare(c.Token0.Bytes(), c.Token1.Bytes()) >= 0 {
		return fmt.Errorf("%w: token0 %s must sort before token1 %s", ErrInvalidPoolConfig, c.Token0.Hex(), c.Token1.Hex())
	}
	if uint64(c.Fee) >= swapmath.FeeDenominator {
		return fmt.Errorf("%w: fee %d", ErrInvalidPoolConfig, c.Fee)
	}
	if c.TickSpacing <= 0 || c.TickSpacing >= MaxTickSpacing {
		return fmt.Errorf("%w: tick spacing %d", ErrInvalidPoolConfig, c.TickSpacing)
	}
	return nil
}

// State is the mutable aggregate state of a pool.
type State struct {
	SqrtPriceX32        uint64
	Tick                int32
	Liquidity           uint64
	FeeGrowthGlobal0X32 uint64
	FeeGrowthGlobal1X32 uint64
	ProtocolFees0       uint64
	ProtocolFees1       uint64
}

// Pool is a single concentrated-liquidity pool. It is not safe for concurrent
// use; callers serialize operations per pool.
type Pool struct {
	cfg                 Config
	state               State
	maxLiquidityPerTick uint64

	ticks     storage.Store[int32, tick.Info]
	words     storage.Store[int16, uint256.Int]
	positions storage.Store[common.Hash, position.Info]
}

// Stores are the backing stores of a pool, keyed by tick index, bitmap word
// position and position key hash. Entries are written lazily and deleted once
// they return to their zero state. A nil store is replaced by a MemStore.
type Stores struct {
	Ticks     storage.Store[int32, tick.Info]
	Words     storage.Store[int16, uint256.Int]
	Positions storage.Store[common.Hash, position.Info]
}

func (s *Stores) setDefaults() {
	if s.Ticks == nil {
		s.Ticks = storage.NewMemStore[int32, tick.Info]()
	}
	if s.Words == nil {
		s.Words = storage.NewMemStore[int16, uint256.Int]()
	}
	if s.Positions == nil {
		s.Positions = storage.NewMemStore[common.Hash, position.Info]()
	}
}

// NewPool creates a pool with the given configuration at the initial sqrt
// price, backed by in-memory stores.
func NewPool(cfg Config, sqrtPriceX32 uint64) (*Pool, error) {
	return NewPoolWithStores(cfg, sqrtPriceX32, Stores{})
}

// NewPoolWithStores creates a pool whose ticks, bitmap words and positions live
// in the given stores. The stores must be empty; only committed changes reach them.
func NewPoolWithStores(cfg Config, sqrtPriceX32 uint64, stores Stores) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	currentTick, err := tickmath.GetTickAtSqrtRatio(sqrtPriceX32)
	if err != nil {
		return nil, fmt.Errorf("initial price: %w", err)
	}

	stores.setDefaults()
	return &Pool{
		cfg: cfg,
		state: State{
			SqrtPriceX32: sqrtPriceX32,
			Tick:         currentTick,
		},
		maxLiquidityPerTick: tickmath.TickSpacingToMaxLiquidityPerTick(cfg.TickSpacing),
		ticks:               stores.Ticks,
		words:               stores.Words,
		positions:           stores.Positions,
	}, nil
}

// Config returns the immutable pool configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// State returns a copy of the current pool state.
func (p *Pool) State() State {
	return p.state
}

// MaxLiquidityPerTick is the largest gross liquidity any single tick may reference.
func (p *Pool) MaxLiquidityPerTick() uint64 {
	return p.maxLiquidityPerTick
}

// Tick returns the state of an initialized tick.
func (p *Pool) Tick(index int32) (tick.Info, bool) {
	return p.ticks.Get(index)
}

// Ticks returns a copy of every initialized tick. It is empty when the tick
// store cannot be enumerated.
func (p *Pool) Ticks() map[int32]tick.Info {
	if s, ok := p.ticks.(storage.Snapshotter[int32, tick.Info]); ok {
		return s.Snapshot()
	}
	return map[int32]tick.Info{}
}

// BitmapWord returns the tick bitmap word at wordPos.
func (p *Pool) BitmapWord(wordPos int16) uint256.Int {
	return tickbitmap.NewBitmap(p.words).Word(wordPos)
}

// Position returns the state of a position; unknown positions are zero.
func (p *Pool) Position(key position.Key) position.Info {
	return position.NewLedger(p.positions).Get(key)
}

// txn stages one operation. Every write lands in an overlay and the state is a
// copy, so dropping a txn leaves the pool untouched.
type txn struct {
	state     State
	ticks     *storage.Batch[int32, tick.Info]
	words     *storage.Batch[int16, uint256.Int]
	positions *storage.Batch[common.Hash, position.Info]

	registry *tick.Registry
	bitmap   *tickbitmap.Bitmap
	ledger   *position.Ledger
}

func (p *Pool) begin() *txn {
	tx := &txn{
		state:     p.state,
		ticks:     storage.NewBatch[int32, tick.Info](p.ticks),
		words:     storage.NewBatch[int16, uint256.Int](p.words),
		positions: storage.NewBatch[common.Hash, position.Info](p.positions),
	}
	tx.registry = tick.NewRegistry(tx.ticks, p.maxLiquidityPerTick)
	tx.bitmap = tickbitmap.NewBitmap(tx.words)
	tx.ledger = position.NewLedger(tx.positions)
	return tx
}

func (p *Pool) commit(tx *txn) {
	tx.ticks.Commit()
	tx.words.Commit()
	tx.positions.Commit()
	p.state = tx.state
}
