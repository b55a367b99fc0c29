package factory

import (
	"errors"
	"fmt"
)

var (
	ErrPoolNotFound      = errors.New("pool not found")
	ErrPoolExists        = errors.New("pool already exists")
	ErrIdenticalTokens   = errors.New("pool tokens must differ")
	ErrFeeTierNotEnabled = errors.New("fee tier not enabled")
	ErrFeeTierExists     = errors.New("fee tier already enabled")
	ErrInvalidFeeTier    = errors.New("invalid fee tier")
	ErrInvalidPath       = errors.New("invalid swap path")
)

// PoolError reports a failed operation on a known pool.
type PoolError struct {
	PoolID uint64
	Op     string
	Err    error
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("pool %d: %s: %v", e.PoolID, e.Op, e.Err)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}
