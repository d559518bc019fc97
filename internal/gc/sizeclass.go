package gc

// ───────────────────────────────────────────────────────────────────────────
// Size-class dispatch table
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher pack's runtime size-class machinery
// (_examples/cloudfly-readgo/runtime/msize.go): a fixed table of class
// sizes plus a precomputed byte-size -> class lookup array, built once so
// that the hot allocation path never has to search or compute.
//
// byteToBin[n] gives the bin that should serve an allocation request of n
// bytes, for 0 <= n <= MaxSmallSize. Requests larger than MaxSmallSize
// always resolve to BPage regardless of this table.

var byteToBin [MaxSmallSize + 1]Bin

func init() {
	bin := B16
	for size := 0; size <= MaxSmallSize; size++ {
		for bin < B2048 && uint32(size) > binsize[bin] {
			bin++
		}
		byteToBin[size] = bin
	}
}

// ClassOf returns the bin that serves an allocation request of the given
// size in bytes (after any sentinel overhead has already been added by the
// caller). Sizes above MaxSmallSize resolve to BPage.
func ClassOf(size uintptr) Bin {
	if size > MaxSmallSize {
		return BPage
	}
	return byteToBin[size]
}

// SizeOfBin returns the allocation size in bytes that a small bin serves.
// For BPage it returns PageSize; for BPagePlus or BFree it panics (index out
// of range), so callers must check isSmallBin (or compare against BPage)
// first.
func SizeOfBin(b Bin) uint32 {
	return binsize[b]
}

// pagesForBytes returns the number of whole pages needed to hold n bytes.
func pagesForBytes(n uintptr) uintptr {
	return (n + PageSize - 1) / PageSize
}
