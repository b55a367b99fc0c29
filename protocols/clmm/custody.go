package clmm

import (
	"fmt"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/fixedpoint"
)

// Transfer is the movement of pool tokens an operation asks the custodian to apply.
type Transfer struct {
	// In{0,1} are paid into the pool vaults.
	In0, In1 uint64
	// Out{0,1} are paid out of the pool vaults.
	Out0, Out1 uint64
}

// Custodian holds the two token vaults of a pool. The engine never moves value
// itself: it stages the transfers it computed and reads balances back.
type Custodian interface {
	// Balances returns the vault balances including staged transfers.
	Balances() (balance0, balance1 uint64)
	// Stage records a transfer without making it final.
	Stage(t Transfer) error
	// Commit makes every staged transfer final.
	Commit()
	// Rollback drops every staged transfer.
	Rollback()
}

// Vaults is an in-memory Custodian.
type Vaults struct {
	balance0, balance1 uint64
	staged0, staged1   uint64
}

// NewVaults creates vaults holding the given balances.
func NewVaults(balance0, balance1 uint64) *Vaults {
	return &Vaults{balance0: balance0, balance1: balance1, staged0: balance0, staged1: balance1}
}

func (v *Vaults) Balances() (uint64, uint64) {
	return v.staged0, v.staged1
}

func (v *Vaults) Stage(t Transfer) error {
	next0, err := applyTransfer(v.staged0, t.In0, t.Out0)
	if err != nil {
		return fmt.Errorf("vault 0: %w", err)
	}
	next1, err := applyTransfer(v.staged1, t.In1, t.Out1)
	if err != nil {
		return fmt.Errorf("vault 1: %w", err)
	}
	v.staged0, v.staged1 = next0, next1
	return nil
}

func (v *Vaults) Commit() {
	v.balance0, v.balance1 = v.staged0, v.staged1
}

func (v *Vaults) Rollback() {
	v.staged0, v.staged1 = v.balance0, v.balance1
}

func applyTransfer(balance, in, out uint64) (uint64, error) {
	next, err := fixedpoint.CheckedAdd(balance, in)
	if err != nil {
		return 0, err
	}
	if out > next {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientVaultBalance, next, out)
	}
	return next - out, nil
}
