package factory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defistate/clmm-core/config"
	"github.com/defistate/clmm-core/protocols/clmm"
	"github.com/defistate/clmm-core/protocols/clmm/position"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewCustodianFunc creates the custodian holding a new pool's vaults.
type NewCustodianFunc func(cfg clmm.Config) clmm.Custodian

// NewStoresFunc creates the stores backing a new pool.
type NewStoresFunc func(cfg clmm.Config) clmm.Stores

// Config holds the dependencies and settings of a System.
type Config struct {
	SystemName    string
	PrometheusReg prometheus.Registerer
	Logger        Logger
	// FeeProtocol is the initial protocol fee denominator.
	FeeProtocol uint8
	// FeeTiers are enabled when the system is created.
	FeeTiers []config.FeeTier
	// NewCustodian defaults to empty in-memory vaults.
	NewCustodian NewCustodianFunc
	// NewStores defaults to in-memory stores.
	NewStores NewStoresFunc
}

func (c *Config) validate() error {
	if c.SystemName == "" {
		return errors.New("system name is required")
	}
	if c.PrometheusReg == nil {
		return errors.New("prometheus registerer is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if err := clmm.ValidateProtocolFeeDenominator(c.FeeProtocol); err != nil {
		return err
	}
	return nil
}

// PoolView is a point-in-time snapshot of a pool and its vaults.
type PoolView struct {
	Config   clmm.Config
	State    clmm.State
	Balance0 uint64
	Balance1 uint64
}

// System owns the fee tiers, the protocol fee setting and every pool.
// Registry changes take the system lock; operations on a pool take only that
// pool's lock, so different pools proceed in parallel.
type System struct {
	systemName   string
	mu           sync.RWMutex
	registry     *registry
	feeProtocol  uint8
	newCustodian NewCustodianFunc
	newStores    NewStoresFunc
	cachedView   atomic.Pointer[[]clmm.Config]
	errorHandler func(op string, poolID uint64, err error)
	metrics      *Metrics
	logger       Logger
}

// NewSystem creates a System and enables the configured fee tiers.
func NewSystem(cfg *Config) (*System, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid clmm system configuration: %w", err)
	}

	metrics := NewMetrics(cfg.PrometheusReg, cfg.SystemName)
	newCustodian := cfg.NewCustodian
	if newCustodian == nil {
		newCustodian = func(clmm.Config) clmm.Custodian { return clmm.NewVaults(0, 0) }
	}
	newStores := cfg.NewStores
	if newStores == nil {
		newStores = func(clmm.Config) clmm.Stores { return clmm.Stores{} }
	}

	s := &System{
		systemName:   cfg.SystemName,
		registry:     newRegistry(),
		feeProtocol:  cfg.FeeProtocol,
		newCustodian: newCustodian,
		newStores:    newStores,
		errorHandler: func(op string, poolID uint64, err error) {
			cfg.Logger.Debug("clmm operation failed", "system", cfg.SystemName, "op", op, "pool", poolID, "error", err)
			metrics.ErrorsTotal.WithLabelValues(op).Inc()
		},
		metrics: metrics,
		logger:  cfg.Logger,
	}

	for _, tier := range cfg.FeeTiers {
		if err := s.registry.enableFeeTier(tier.Fee, tier.TickSpacing); err != nil {
			return nil, fmt.Errorf("invalid clmm system configuration: %w", err)
		}
	}
	s.metrics.FeeTiersTotal.WithLabelValues().Set(float64(len(s.registry.feeTiers)))
	s.updateCachedView()
	return s, nil
}

// NewSystemFromConfig creates a System from a loaded configuration file.
func NewSystemFromConfig(fileCfg *config.Config, systemName string, reg prometheus.Registerer, logger Logger) (*System, error) {
	return NewSystem(&Config{
		SystemName:    systemName,
		PrometheusReg: reg,
		Logger:        logger,
		FeeProtocol:   fileCfg.FeeProtocol,
		FeeTiers:      fileCfg.FeeTiers,
	})
}

// updateCachedView MUST be called from within a write lock (s.mu.Lock).
func (s *System) updateCachedView() {
	view := s.registry.view()
	s.cachedView.Store(&view)
}

// EnableFeeAmount enables a fee for pool creation with the given tick spacing.
func (s *System) EnableFeeAmount(fee uint32, tickSpacing int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.enableFeeTier(fee, tickSpacing); err != nil {
		return err
	}
	s.metrics.FeeTiersTotal.WithLabelValues().Set(float64(len(s.registry.feeTiers)))
	s.logger.Info("fee tier enabled", "system", s.systemName, "fee", fee, "tick_spacing", tickSpacing)
	return nil
}

// FeeTickSpacing returns the tick spacing of an enabled fee tier.
func (s *System) FeeTickSpacing(fee uint32) (int32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spacing, ok := s.registry.feeTiers[fee]
	return spacing, ok
}

// SetFeeProtocol sets the protocol fee denominator used by every later swap.
func (s *System) SetFeeProtocol(feeProtocol uint8) error {
	if err := clmm.ValidateProtocolFeeDenominator(feeProtocol); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.feeProtocol
	s.feeProtocol = feeProtocol
	s.logger.Info("fee protocol changed", "system", s.systemName, "old", old, "new", feeProtocol)
	return nil
}

// FeeProtocol returns the current protocol fee denominator.
func (s *System) FeeProtocol() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeProtocol
}

// CreatePool creates and initializes a pool for the token pair and fee. The
// tokens may be given in either order.
func (s *System) CreatePool(tokenA, tokenB common.Address, fee uint32, sqrtPriceX32 uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.registry.add(tokenA, tokenB, fee, sqrtPriceX32, s.newCustodian, s.newStores)
	if err != nil {
		s.errorHandler("create_pool", 0, err)
		return 0, err
	}
	s.updateCachedView()
	s.metrics.PoolsTotal.WithLabelValues().Set(float64(len(s.registry.pools)))
	s.logger.Info("pool created", "system", s.systemName, "pool", id, "fee", fee, "sqrt_price_x32", sqrtPriceX32)
	return id, nil
}

// GetPool returns the ID of the pool for the token pair and fee.
func (s *System) GetPool(tokenA, tokenB common.Address, fee uint32) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.lookup(tokenA, tokenB, fee)
}

// Pools returns the configuration of every pool ordered by ID without locking.
func (s *System) Pools() []clmm.Config {
	view := *s.cachedView.Load()
	return append([]clmm.Config(nil), view...)
}

// Pool returns a snapshot of a pool.
func (s *System) Pool(id uint64) (PoolView, error) {
	var view PoolView
	err := s.withPool(id, "view", func(e *entry, _ uint8) error {
		view.Config = e.pool.Config()
		view.State = e.pool.State()
		view.Balance0, view.Balance1 = e.custodian.Balances()
		return nil
	})
	return view, err
}

// Position returns a position of a pool.
func (s *System) Position(id uint64, owner common.Address, tickLower, tickUpper int32) (position.Info, error) {
	var info position.Info
	err := s.withPool(id, "position", func(e *entry, _ uint8) error {
		info = e.pool.Position(position.Key{Owner: owner, TickLower: tickLower, TickUpper: tickUpper})
		return nil
	})
	return info, err
}

// Swap swaps against a pool using the current protocol fee.
func (s *System) Swap(id uint64, amountSpecified int64, sqrtPriceLimitX32 uint64, zeroForOne bool) (clmm.SwapResult, error) {
	var res clmm.SwapResult
	err := s.withPool(id, "swap", func(e *entry, feeProtocol uint8) error {
		start := time.Now()
		var err error
		res, err = e.pool.Swap(e.custodian, amountSpecified, sqrtPriceLimitX32, zeroForOne, feeProtocol)
		if err != nil {
			return err
		}
		s.observeSwap(res, time.Since(start))
		return nil
	})
	return res, err
}

// SwapSingle runs a slippage-checked swap against a pool.
func (s *System) SwapSingle(id uint64, params clmm.SwapParams) (clmm.SwapResult, error) {
	var res clmm.SwapResult
	err := s.withPool(id, "swap", func(e *entry, feeProtocol uint8) error {
		start := time.Now()
		var err error
		res, err = e.pool.SwapSingle(e.custodian, params, feeProtocol)
		if err != nil {
			return err
		}
		s.observeSwap(res, time.Since(start))
		return nil
	})
	return res, err
}

func (s *System) observeSwap(res clmm.SwapResult, took time.Duration) {
	direction := "one_for_zero"
	if res.ZeroForOne {
		direction = "zero_for_one"
	}
	s.metrics.SwapsTotal.WithLabelValues(direction).Inc()
	s.metrics.SwapDuration.WithLabelValues().Observe(took.Seconds())
	s.metrics.TicksCrossedTotal.WithLabelValues().Add(float64(res.TicksCrossed))
}

// Mint adds liquidity to a position of a pool.
func (s *System) Mint(id uint64, owner common.Address, tickLower, tickUpper int32, amount uint64) (amount0, amount1 uint64, err error) {
	err = s.withPool(id, "mint", func(e *entry, _ uint8) error {
		var err error
		amount0, amount1, err = e.pool.Mint(e.custodian, owner, tickLower, tickUpper, amount)
		return err
	})
	return amount0, amount1, err
}

// Burn removes liquidity from a position of a pool.
func (s *System) Burn(id uint64, owner common.Address, tickLower, tickUpper int32, amount uint64) (amount0, amount1 uint64, err error) {
	err = s.withPool(id, "burn", func(e *entry, _ uint8) error {
		var err error
		amount0, amount1, err = e.pool.Burn(owner, tickLower, tickUpper, amount)
		return err
	})
	return amount0, amount1, err
}

// Collect pays out tokens owed to a position of a pool.
func (s *System) Collect(id uint64, owner common.Address, tickLower, tickUpper int32, amount0Requested, amount1Requested uint64) (amount0, amount1 uint64, err error) {
	err = s.withPool(id, "collect", func(e *entry, _ uint8) error {
		var err error
		amount0, amount1, err = e.pool.Collect(e.custodian, owner, tickLower, tickUpper, amount0Requested, amount1Requested)
		return err
	})
	return amount0, amount1, err
}

// CollectProtocol pays out protocol fees accrued by a pool.
func (s *System) CollectProtocol(id uint64, amount0Requested, amount1Requested uint64) (amount0, amount1 uint64, err error) {
	err = s.withPool(id, "collect_protocol", func(e *entry, _ uint8) error {
		var err error
		amount0, amount1, err = e.pool.CollectProtocol(e.custodian, amount0Requested, amount1Requested)
		return err
	})
	return amount0, amount1, err
}

// withPool runs fn while holding the pool's lock and records the outcome.
func (s *System) withPool(id uint64, op string, fn func(e *entry, feeProtocol uint8) error) error {
	s.mu.RLock()
	e, err := s.registry.get(id)
	feeProtocol := s.feeProtocol
	s.mu.RUnlock()
	if err != nil {
		s.errorHandler(op, id, err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e, feeProtocol); err != nil {
		s.errorHandler(op, id, err)
		return &PoolError{PoolID: id, Op: op, Err: err}
	}
	switch op {
	case "mint", "burn", "collect", "collect_protocol":
		s.metrics.LiquidityOpsTotal.WithLabelValues(op).Inc()
	}
	return nil
}
