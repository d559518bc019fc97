package gc

// ───────────────────────────────────────────────────────────────────────────
// Size classes (bins)
// ───────────────────────────────────────────────────────────────────────────

// Bin identifies the size class a page (or, for small pools, a 16-byte
// granule) belongs to.
type Bin uint8

const (
	B16 Bin = iota
	B32
	B64
	B128
	B256
	B512
	B1024
	B2048
	// BPage marks the first page of a large (>2048 byte) allocation.
	BPage
	// BPagePlus marks every page after the first in a large allocation.
	BPagePlus
	// BFree marks a page or granule that is not currently allocated.
	BFree
)

// numSmallBins is the count of small, fixed-size bins (B16..B2048).
const numSmallBins = int(B2048) + 1

// PageSize is the granularity of OS-level mapping and of large-object
// accounting. All pools are a whole number of pages long.
const PageSize = 4096

// PageShift is log2(PageSize), used to convert byte offsets to page indices.
const PageShift = 12

// SmallGranule is the bit-indexing granularity for small pools: 16 bytes.
const SmallGranule = 16

// SmallGranuleShift is log2(SmallGranule).
const SmallGranuleShift = 4

// MaxSmallSize is the largest size served by a small bin; anything larger
// is a large (page-granular) allocation.
const MaxSmallSize = 2048

// binsize holds, for each bin up to and including BPage, the block size in
// bytes that bin serves. BPage's "size" is a full page; callers needing the
// size of a particular large block use bPageOffsets run-lengths instead.
var binsize = [int(BPage) + 1]uint32{
	B16:    16,
	B32:    32,
	B64:    64,
	B128:   128,
	B256:   256,
	B512:   512,
	B1024:  1024,
	B2048:  2048,
	BPage:  PageSize,
}

// String returns a human-readable bin name, used by Check/diagnostics.
func (b Bin) String() string {
	switch b {
	case B16:
		return "B16"
	case B32:
		return "B32"
	case B64:
		return "B64"
	case B128:
		return "B128"
	case B256:
		return "B256"
	case B512:
		return "B512"
	case B1024:
		return "B1024"
	case B2048:
		return "B2048"
	case BPage:
		return "BPage"
	case BPagePlus:
		return "BPagePlus"
	case BFree:
		return "BFree"
	default:
		return "BinInvalid"
	}
}

// isSmallBin reports whether b is one of the eight fixed-size small bins.
func isSmallBin(b Bin) bool {
	return b <= B2048
}
