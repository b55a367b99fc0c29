package tickbitmap

import (
	"fmt"

	"github.com/defistate/clmm-core/protocols/clmm/calculator/bitmath"
	"github.com/defistate/clmm-core/protocols/clmm/calculator/tickmath"
	"github.com/defistate/clmm-core/storage"
	"github.com/holiman/uint256"
)

// Compress divides a tick by the spacing, rounding towards negative infinity.
func Compress(tick, tickSpacing int32) int32 {
	compressed := tick / tickSpacing
	if tick < 0 && tick%tickSpacing != 0 {
		compressed--
	}
	return compressed
}

// Position returns the word and bit holding the flag for a compressed tick.
func Position(compressed int32) (wordPos int16, bitPos uint8) {
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

// WordPosition returns the word NextInitializedTickWithinOneWord will probe for
// a search starting at tick.
func WordPosition(tick, tickSpacing int32, lte bool) int16 {
	compressed := Compress(tick, tickSpacing)
	if !lte {
		compressed++
	}
	wordPos, _ := Position(compressed)
	return wordPos
}

// NextInitializedTickWithinOneWord returns the next initialized tick contained in the same
// word as the tick that is either to the left (less than or equal to) or right (greater than)
// of the given tick. word must be the bitmap word at WordPosition(tick, tickSpacing, lte).
//
// Parameters:
//   - word: The 256-bit word to scan.
//   - tick: The starting tick for the search.
//   - tickSpacing: The spacing between usable ticks.
//   - lte: A boolean indicating the search direction.
//   - If true, it finds the largest initialized tick that is less than or equal to the input `tick`.
//   - If false, it finds the smallest initialized tick that is greater than the input `tick`.
//
// Returns:
//   - next: The next initialized tick, or the boundary tick of the word if none is set.
//   - initialized: Whether next is an initialized tick.
func NextInitializedTickWithinOneWord(
	word *uint256.Int,
	tick int32,
	tickSpacing int32,
	lte bool,
) (next int32, initialized bool) {
	compressed := Compress(tick, tickSpacing)

	if lte {
		_, bitPos := Position(compressed)
		// all the 1s at or to the right of the current bitPos
		mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos)+1)
		mask.SubUint64(mask, 1)
		masked := mask.And(mask, word)

		if masked.IsZero() {
			return (compressed - int32(bitPos)) * tickSpacing, false
		}
		msb, _ := bitmath.MostSignificantBit(masked)
		return (compressed - int32(bitPos-msb)) * tickSpacing, true
	}

	// start from the word of the next tick, since the current tick state doesn't matter
	_, bitPos := Position(compressed + 1)
	// all the 1s at or to the left of the bitPos
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
	mask.SubUint64(mask, 1).Not(mask)
	masked := mask.And(mask, word)

	if masked.IsZero() {
		return (compressed + 1 + int32(255-bitPos)) * tickSpacing, false
	}
	lsb, _ := bitmath.LeastSignificantBit(masked)
	return (compressed + 1 + int32(lsb-bitPos)) * tickSpacing, true
}

// Bitmap is the tick bitmap of one pool, one 256-bit word per 256 compressed ticks.
type Bitmap struct {
	words storage.Store[int16, uint256.Int]
}

// NewBitmap creates a bitmap over the given word store.
func NewBitmap(words storage.Store[int16, uint256.Int]) *Bitmap {
	return &Bitmap{words: words}
}

// Word returns the word at wordPos; words never written are zero.
func (b *Bitmap) Word(wordPos int16) uint256.Int {
	w, _ := b.words.Get(wordPos)
	return w
}

// Flip toggles the initialized flag of tick. Words left empty are deleted.
func (b *Bitmap) Flip(tick, tickSpacing int32) error {
	if tickSpacing <= 0 || tick%tickSpacing != 0 {
		return fmt.Errorf("%w: tick %d, spacing %d", tickmath.ErrTickSpacingMismatch, tick, tickSpacing)
	}
	wordPos, bitPos := Position(tick / tickSpacing)
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))

	w := b.Word(wordPos)
	w.Xor(&w, mask)
	if w.IsZero() {
		b.words.Delete(wordPos)
		return nil
	}
	b.words.Put(wordPos, w)
	return nil
}

// IsInitialized reports whether the flag of an aligned tick is set.
func (b *Bitmap) IsInitialized(tick, tickSpacing int32) bool {
	wordPos, bitPos := Position(Compress(tick, tickSpacing))
	w := b.Word(wordPos)
	return w[bitPos/64]&(uint64(1)<<(bitPos%64)) != 0
}

// NextInitializedTickWithinOneWord pages in the single word the search needs and scans it.
func (b *Bitmap) NextInitializedTickWithinOneWord(tick, tickSpacing int32, lte bool) (int32, bool) {
	w := b.Word(WordPosition(tick, tickSpacing, lte))
	return NextInitializedTickWithinOneWord(&w, tick, tickSpacing, lte)
}
