package fixedpoint

import (
	"errors"
	"math"
	"math/bits"

	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

const (
	// Resolution is the number of fractional bits in the Q32.32 format.
	Resolution = 32
	// Q32 is the Q32.32 fixed-point number representing 1.
	Q32 = uint64(1) << Resolution
)

var (
	// ErrOverflow is returned when a result does not fit in 64 bits.
	ErrOverflow = errors.New("fixed point overflow")
	// ErrUnderflow is returned when an unsigned result would be negative.
	ErrUnderflow = errors.New("fixed point underflow")
	// ErrDivisionByZero is returned for a zero denominator.
	ErrDivisionByZero = errors.New("division by zero")
)

// MulDiv returns floor(a * b / denominator) using a 128-bit intermediate product.
func MulDiv(a, b, denominator uint64) (uint64, error) {
	q, _, err := mulDiv(a, b, denominator)
	return q, err
}

// MulDivRoundingUp returns ceil(a * b / denominator) using a 128-bit intermediate product.
func MulDivRoundingUp(a, b, denominator uint64) (uint64, error) {
	q, r, err := mulDiv(a, b, denominator)
	if err != nil {
		return 0, err
	}
	if r > 0 {
		return increment(q)
	}
	return q, nil
}

func mulDiv(a, b, denominator uint64) (q, r uint64, err error) {
	if denominator == 0 {
		return 0, 0, ErrDivisionByZero
	}
	product := uint128.From64(a).Mul64(b)
	quotient, rem := product.QuoRem64(denominator)
	if quotient.Hi != 0 {
		return 0, 0, ErrOverflow
	}
	return quotient.Lo, rem, nil
}

// MulShr returns floor((a * b) >> shift). shift must be below 64.
func MulShr(a, b uint64, shift uint) (uint64, error) {
	q, _, err := mulShr(a, b, shift)
	return q, err
}

// MulShrRoundingUp returns ceil((a * b) / 2^shift). shift must be below 64.
func MulShrRoundingUp(a, b uint64, shift uint) (uint64, error) {
	q, inexact, err := mulShr(a, b, shift)
	if err != nil {
		return 0, err
	}
	if inexact {
		return increment(q)
	}
	return q, nil
}

func mulShr(a, b uint64, shift uint) (uint64, bool, error) {
	if shift >= 64 {
		return 0, false, ErrOverflow
	}
	product := uint128.From64(a).Mul64(b)
	shifted := product.Rsh(shift)
	if shifted.Hi != 0 {
		return 0, false, ErrOverflow
	}
	inexact := product.Lo&(uint64(1)<<shift-1) != 0
	return shifted.Lo, inexact, nil
}

// DivShl returns floor((a << shift) / b). shift must not exceed 64.
func DivShl(a, b uint64, shift uint) (uint64, error) {
	q, _, err := divShl(a, b, shift)
	return q, err
}

// DivShlRoundingUp returns ceil((a << shift) / b). shift must not exceed 64.
func DivShlRoundingUp(a, b uint64, shift uint) (uint64, error) {
	q, r, err := divShl(a, b, shift)
	if err != nil {
		return 0, err
	}
	if r > 0 {
		return increment(q)
	}
	return q, nil
}

func divShl(a, b uint64, shift uint) (uint64, uint64, error) {
	if b == 0 {
		return 0, 0, ErrDivisionByZero
	}
	if shift > 64 {
		return 0, 0, ErrOverflow
	}
	quotient, rem := uint128.From64(a).Lsh(shift).QuoRem64(b)
	if quotient.Hi != 0 {
		return 0, 0, ErrOverflow
	}
	return quotient.Lo, rem, nil
}

// MulDivWide returns (x * y) / d over a 256-bit intermediate, rounding up when
// roundUp is set. The quotient must fit in 64 bits.
func MulDivWide(x, y, d *uint256.Int, roundUp bool) (uint64, error) {
	if d.IsZero() {
		return 0, ErrDivisionByZero
	}
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return 0, ErrOverflow
	}
	quotient := new(uint256.Int).Div(product, d)
	if roundUp && !new(uint256.Int).Mod(product, d).IsZero() {
		quotient.AddUint64(quotient, 1)
	}
	if !quotient.IsUint64() {
		return 0, ErrOverflow
	}
	return quotient.Uint64(), nil
}

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// ToInt64 converts an unsigned amount to a signed one or fails with ErrOverflow.
func ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(v), nil
}

func increment(q uint64) (uint64, error) {
	if q == math.MaxUint64 {
		return 0, ErrOverflow
	}
	return q + 1, nil
}
