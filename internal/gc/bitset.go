package gc

import "math/bits"

// ───────────────────────────────────────────────────────────────────────────
// Bitset — dense, word-addressed bit array
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on spec.md §4.1: a word-granular bitmap with test/set/clear/
// testSet, bulk zero/copy, and a word iterator sweep uses to skip empty
// runs via bit-scan-forward (math/bits.TrailingZeros64 here). The first
// word is reserved, so bit i lives at word 1+(i>>6), matching the spec's
// "indexing uses 1 + (i >> BITS_SHIFT)" convention — word 0 never holds a
// bit. A bitset that has not been allocated yet is a nil *Bitset.

const wordBits = 64
const wordShift = 6
const wordMask = wordBits - 1

// Bitset is a dense bit array sized in advance to hold nbits bits.
type Bitset struct {
	words []uint64
	nbits int
}

// NewBitset allocates a Bitset able to address bits [0, nbits).
func NewBitset(nbits int) *Bitset {
	nwords := 1 + (nbits+wordMask)/wordBits
	return &Bitset{words: make([]uint64, nwords), nbits: nbits}
}

func wordIndex(i int) int { return 1 + (i >> wordShift) }

// Test reports whether bit i is set.
func (b *Bitset) Test(i int) bool {
	w := b.words[wordIndex(i)]
	return w&(uint64(1)<<uint(i&wordMask)) != 0
}

// Set sets bit i.
func (b *Bitset) Set(i int) {
	wi := wordIndex(i)
	b.words[wi] |= uint64(1) << uint(i&wordMask)
}

// Clear clears bit i.
func (b *Bitset) Clear(i int) {
	wi := wordIndex(i)
	b.words[wi] &^= uint64(1) << uint(i&wordMask)
}

// TestSet sets bit i and reports whether it was already set beforehand.
// The collector is single-threaded during a cycle (spec.md §5), so no
// atomic read-modify-write is required here.
func (b *Bitset) TestSet(i int) bool {
	wi := wordIndex(i)
	mask := uint64(1) << uint(i&wordMask)
	was := b.words[wi]&mask != 0
	b.words[wi] |= mask
	return was
}

// Zero clears every bit, word at a time.
func (b *Bitset) Zero() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// CopyFrom overwrites b's bits with other's, word at a time. Both bitsets
// must have been allocated with the same nbits.
func (b *Bitset) CopyFrom(other *Bitset) {
	copy(b.words, other.words)
}

// NBits returns the addressable bit count this Bitset was constructed with.
func (b *Bitset) NBits() int { return b.nbits }

// Words exposes the raw backing words (including the reserved word 0) for
// sweep's bit-scan-forward word iteration.
func (b *Bitset) Words() []uint64 { return b.words }

// ForEachSet calls fn once for every set bit index, scanning whole words
// and using bit-scan-forward to skip zero runs — the pattern spec.md's
// sweep and iterative mark worklist both rely on.
func (b *Bitset) ForEachSet(fn func(i int)) {
	for wi := 1; wi < len(b.words); wi++ {
		w := b.words[wi]
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			bitIndex := (wi-1)<<wordShift | tz
			fn(bitIndex)
			w &= w - 1 // clear lowest set bit
		}
	}
}

// ClearWordBits clears, in the word covering bits [w*64, (w+1)*64), every
// bit named in mask — the one-write-per-word bulk clear sweep batches
// attribute clearing through.
func (b *Bitset) ClearWordBits(w int, mask uint64) {
	b.words[1+w] &^= mask
}

// AnySet reports whether any bit is set, without allocating an iterator.
func (b *Bitset) AnySet() bool {
	for _, w := range b.words {
		if w != 0 {
			return true
		}
	}
	return false
}
