package factory

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/defistate/clmm-core/protocols/clmm"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// Hop is one pool of a swap path, entered by paying TokenIn.
type Hop struct {
	PoolID  uint64
	TokenIn common.Address
}

// RouteResult reports a completed multi-hop swap.
type RouteResult struct {
	AmountIn  uint64
	AmountOut uint64
	// Hops holds the result of every hop in path order.
	Hops []clmm.SwapResult
}

// ExactInput swaps amountIn along path, feeding each hop's output into the
// next, and fails with clmm.ErrTooLittleOutputReceived when the final output
// is below amountOutMinimum. Either every hop is committed or none is.
func (s *System) ExactInput(path []Hop, amountIn, amountOutMinimum uint64) (RouteResult, error) {
	const op = "exact_input"

	if len(path) == 0 {
		err := fmt.Errorf("%w: empty", ErrInvalidPath)
		s.errorHandler(op, 0, err)
		return RouteResult{}, err
	}

	s.mu.RLock()
	entries := make([]*entry, len(path))
	for i, hop := range path {
		e, err := s.registry.get(hop.PoolID)
		if err != nil {
			s.mu.RUnlock()
			s.errorHandler(op, hop.PoolID, err)
			return RouteResult{}, err
		}
		if slices.Contains(entries[:i], e) {
			s.mu.RUnlock()
			err := fmt.Errorf("%w: pool %d appears more than once", ErrInvalidPath, hop.PoolID)
			s.errorHandler(op, hop.PoolID, err)
			return RouteResult{}, err
		}
		entries[i] = e
	}
	feeProtocol := s.feeProtocol
	s.mu.RUnlock()

	// lock in ID order so overlapping routes cannot deadlock
	locked := slices.Clone(entries)
	slices.SortFunc(locked, func(a, b *entry) int {
		return cmp.Compare(a.pool.Config().ID, b.pool.Config().ID)
	})
	for _, e := range locked {
		e.mu.Lock()
	}
	defer func() {
		for _, e := range locked {
			e.mu.Unlock()
		}
	}()

	start := time.Now()
	res, err := s.exactInput(path, entries, amountIn, amountOutMinimum, feeProtocol)
	if err != nil {
		poolID := path[len(path)-1].PoolID
		var poolErr *PoolError
		if errors.As(err, &poolErr) {
			poolID = poolErr.PoolID
		}
		s.errorHandler(op, poolID, err)
		return RouteResult{}, err
	}

	took := time.Since(start)
	for _, hop := range res.Hops {
		s.observeSwap(hop, took)
	}
	return res, nil
}

// exactInput stages every hop and commits them together. Callers hold the lock
// of every pool on the path.
func (s *System) exactInput(path []Hop, entries []*entry, amountIn, amountOutMinimum uint64, feeProtocol uint8) (RouteResult, error) {
	pending := make([]*clmm.PendingSwap, 0, len(path))
	discard := func() {
		for i := len(pending) - 1; i >= 0; i-- {
			pending[i].Discard()
		}
	}

	res := RouteResult{AmountIn: amountIn, Hops: make([]clmm.SwapResult, 0, len(path))}
	tokenIn := path[0].TokenIn
	amount := amountIn
	for i, hop := range path {
		e := entries[i]
		if hop.TokenIn != tokenIn {
			discard()
			return RouteResult{}, fmt.Errorf("%w: hop %d pays %s, previous hop pays out %s", ErrInvalidPath, i, hop.TokenIn.Hex(), tokenIn.Hex())
		}

		cfg := e.pool.Config()
		var zeroForOne bool
		switch tokenIn {
		case cfg.Token0:
			zeroForOne, tokenIn = true, cfg.Token1
		case cfg.Token1:
			zeroForOne, tokenIn = false, cfg.Token0
		default:
			discard()
			return RouteResult{}, &PoolError{PoolID: hop.PoolID, Op: "exact_input", Err: fmt.Errorf("%w: %s", clmm.ErrTokenNotInPool, tokenIn.Hex())}
		}

		amountSpecified, err := fixedpoint.ToInt64(amount)
		if err != nil {
			discard()
			return RouteResult{}, &PoolError{PoolID: hop.PoolID, Op: "exact_input", Err: fmt.Errorf("amount %d: %w", amount, err)}
		}

		swap, err := e.pool.StageSwap(e.custodian, amountSpecified, 0, zeroForOne, feeProtocol)
		if err != nil {
			discard()
			return RouteResult{}, &PoolError{PoolID: hop.PoolID, Op: "exact_input", Err: err}
		}
		pending = append(pending, swap)
		res.Hops = append(res.Hops, swap.Result)
		amount = swap.Result.Realized
	}

	if amount < amountOutMinimum {
		discard()
		return RouteResult{}, fmt.Errorf("%w: got %d, want at least %d", clmm.ErrTooLittleOutputReceived, amount, amountOutMinimum)
	}

	for _, swap := range pending {
		swap.Commit()
	}
	res.AmountOut = amount
	return res, nil
}
