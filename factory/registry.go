package factory

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/defistate/clmm-core/protocols/clmm"
	"github.com/ethereum/go-ethereum/common"
)

// poolKey identifies a pool by its sorted token pair and fee.
type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    uint32
}

// entry serializes every operation on one pool and its custodian.
type entry struct {
	mu        sync.Mutex
	pool      *clmm.Pool
	custodian clmm.Custodian
}

// registry is a simple, non-thread-safe index of fee tiers and pools.
// The System guards it.
type registry struct {
	feeTiers map[uint32]int32
	pools    map[uint64]*entry
	byKey    map[poolKey]uint64
	nextID   uint64
}

func newRegistry() *registry {
	return &registry{
		feeTiers: make(map[uint32]int32),
		pools:    make(map[uint64]*entry),
		byKey:    make(map[poolKey]uint64),
		nextID:   1,
	}
}

// enableFeeTier adds a fee tier. Tiers are never removed or changed.
func (r *registry) enableFeeTier(fee uint32, tickSpacing int32) error {
	if fee >= 1_000_000 {
		return fmt.Errorf("%w: fee %d", ErrInvalidFeeTier, fee)
	}
	if tickSpacing <= 0 || tickSpacing >= clmm.MaxTickSpacing {
		return fmt.Errorf("%w: tick spacing %d", ErrInvalidFeeTier, tickSpacing)
	}
	if existing, ok := r.feeTiers[fee]; ok {
		return fmt.Errorf("%w: fee %d has tick spacing %d", ErrFeeTierExists, fee, existing)
	}
	r.feeTiers[fee] = tickSpacing
	return nil
}

func sortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) < 0 {
		return tokenA, tokenB
	}
	return tokenB, tokenA
}

// add creates a pool for the token pair at the given fee and initial price.
func (r *registry) add(tokenA, tokenB common.Address, fee uint32, sqrtPriceX32 uint64, newCustodian NewCustodianFunc, newStores NewStoresFunc) (uint64, error) {
	if tokenA == tokenB {
		return 0, fmt.Errorf("%w: %s", ErrIdenticalTokens, tokenA.Hex())
	}
	tickSpacing, ok := r.feeTiers[fee]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrFeeTierNotEnabled, fee)
	}

	token0, token1 := sortTokens(tokenA, tokenB)
	key := poolKey{token0: token0, token1: token1, fee: fee}
	if id, exists := r.byKey[key]; exists {
		return 0, fmt.Errorf("%w: id %d", ErrPoolExists, id)
	}

	cfg := clmm.Config{
		ID:          r.nextID,
		Token0:      token0,
		Token1:      token1,
		Fee:         fee,
		TickSpacing: tickSpacing,
	}
	pool, err := clmm.NewPoolWithStores(cfg, sqrtPriceX32, newStores(cfg))
	if err != nil {
		return 0, err
	}

	r.pools[cfg.ID] = &entry{pool: pool, custodian: newCustodian(cfg)}
	r.byKey[key] = cfg.ID
	r.nextID++
	return cfg.ID, nil
}

func (r *registry) get(id uint64) (*entry, error) {
	e, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrPoolNotFound, id)
	}
	return e, nil
}

func (r *registry) lookup(tokenA, tokenB common.Address, fee uint32) (uint64, bool) {
	token0, token1 := sortTokens(tokenA, tokenB)
	id, ok := r.byKey[poolKey{token0: token0, token1: token1, fee: fee}]
	return id, ok
}

// view returns the configurations of every pool ordered by ID.
func (r *registry) view() []clmm.Config {
	configs := make([]clmm.Config, 0, len(r.pools))
	for _, e := range r.pools {
		configs = append(configs, e.pool.Config())
	}
	slices.SortFunc(configs, func(a, b clmm.Config) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return configs
}
