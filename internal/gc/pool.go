package gc

import (
	"encoding/binary"
	"fmt"

	"github.com/mna/congc/internal/gc/osmap"
)

// OpFail is the sentinel returned by page-allocation routines on failure —
// spec.md's "OPFAIL": an allocation could not be satisfied, or no such page
// index exists.
const OpFail = -1

// Pool is one contiguous, page-aligned, OS-mapped region owned exclusively
// by the collector. It is either a small pool (objects tracked at 16-byte
// granularity) or a large pool (objects tracked at page granularity) —
// spec.md §3.
//
// Grounded on the teacher's pager.Pager/pager.PageBufferPool (page-indexed
// bookkeeping) and pager.FreeManager (in-memory free-page accounting),
// generalized from disk pages to OS-mapped memory pages.
type Pool struct {
	mem      []byte
	baseAddr uintptr
	topAddr  uintptr
	npages   int
	isLarge  bool
	shiftBy  uint // SmallGranuleShift for small pools, PageShift for large

	pagetable    []Bin
	freepages    int
	searchStart  int
	bPageOffsets []int32 // large pools only: run length (head) or back-offset (continuation)

	mark, scan, freebits                   *Bitset
	finals, noscan, appendable, nointerior *Bitset

	oldChanges, newChanges bool
}

// newPool maps npages pages from the OS and initializes an empty pool.
func newPool(npages int, isLarge bool) (*Pool, error) {
	if npages <= 0 {
		return nil, fmt.Errorf("gc: pool must have at least one page, got %d", npages)
	}
	mem, err := osmap.Map(npages * PageSize)
	if err != nil {
		return nil, err
	}
	base := osmap.BaseAddr(mem)

	p := &Pool{
		mem:       mem,
		baseAddr:  base,
		topAddr:   base + uintptr(npages*PageSize),
		npages:    npages,
		isLarge:   isLarge,
		pagetable: make([]Bin, npages),
	}
	for i := range p.pagetable {
		p.pagetable[i] = BFree
	}
	p.freepages = npages

	if isLarge {
		p.shiftBy = PageShift
		p.bPageOffsets = make([]int32, npages)
		nbits := npages
		p.mark = NewBitset(nbits)
		p.scan = NewBitset(nbits)
	} else {
		p.shiftBy = SmallGranuleShift
		nbits := npages * PageSize / SmallGranule
		p.mark = NewBitset(nbits)
		p.scan = NewBitset(nbits)
		p.freebits = NewBitset(nbits)
	}
	return p, nil
}

// close unmaps the pool's backing memory. The pool must not be used after
// this call.
func (p *Pool) close() error {
	return osmap.Unmap(p.mem)
}

// contains reports whether addr falls within this pool's half-open range.
func (p *Pool) contains(addr uintptr) bool {
	return addr >= p.baseAddr && addr < p.topAddr
}

// pageIndex converts an address within this pool to a page index.
func (p *Pool) pageIndex(addr uintptr) int {
	return int((addr - p.baseAddr) >> PageShift)
}

// pageAddr converts a page index back to its base address.
func (p *Pool) pageAddr(pn int) uintptr {
	return p.baseAddr + uintptr(pn)*PageSize
}

// bitIndex converts an address to this pool's granule-indexed bit index
// (16-byte granules for small pools, page granules for large pools).
func (p *Pool) bitIndex(addr uintptr) int {
	return int((addr - p.baseAddr) >> p.shiftBy)
}

// addrOfBit is the inverse of bitIndex.
func (p *Pool) addrOfBit(bi int) uintptr {
	return p.baseAddr + uintptr(bi)<<p.shiftBy
}

// bytesAt returns a slice view of n bytes at addr, for reading/writing
// object contents, free-list links, and sentinels directly in pool memory.
func (p *Pool) bytesAt(addr uintptr, n int) []byte {
	off := addr - p.baseAddr
	return p.mem[off : off+uintptr(n)]
}

func (p *Pool) readNext(addr uintptr) uintptr {
	return uintptr(binary.LittleEndian.Uint64(p.bytesAt(addr, 8)))
}

func (p *Pool) writeNext(addr uintptr, next uintptr) {
	binary.LittleEndian.PutUint64(p.bytesAt(addr, 8), uint64(next))
}

// allocPages scans from searchStart for a run of n consecutive BFree pages.
// Returns the first page index of the run, or OpFail if none is available.
// Occupied pages are stepped over one at a time in small pools and a whole
// run at a time (via bPageOffsets) in large pools. searchStart is moved to
// the first BFree page seen, or to npages if none is seen (spec.md §4.2).
func (p *Pool) allocPages(n int) int {
	pn := p.searchStart
	sawFree := false
	for pn < p.npages {
		if p.pagetable[pn] != BFree {
			if p.isLarge {
				head := p.largeHeadPage(pn)
				pn = head + int(p.bPageOffsets[head])
			} else {
				pn++
			}
			continue
		}
		if !sawFree {
			sawFree = true
			p.searchStart = pn
		}
		run := 1
		for run < n && pn+run < p.npages && p.pagetable[pn+run] == BFree {
			run++
		}
		if run >= n {
			return pn
		}
		pn += run
	}
	if !sawFree {
		p.searchStart = p.npages
	}
	return OpFail
}

// freePages marks pages [pn, pn+n) as free and reclaims searchStart/freepages
// bookkeeping.
func (p *Pool) freePages(pn, n int) {
	for i := pn; i < pn+n; i++ {
		p.pagetable[i] = BFree
		if p.isLarge {
			p.bPageOffsets[i] = 0
		}
	}
	p.freepages += n
	if pn < p.searchStart {
		p.searchStart = pn
	}
}

// updateOffsets records, after pagetable[headPage..headPage+n) has been
// classified BPage followed by (n-1) BPagePlus entries, the run length at
// the head and the back-offset at each continuation page.
func (p *Pool) updateOffsets(headPage, n int) {
	p.bPageOffsets[headPage] = int32(n)
	for k := 1; k < n; k++ {
		p.bPageOffsets[headPage+k] = int32(k)
	}
}

// claimTrailingFree attempts to grow the large block headed at headPage by
// claiming up to maxPages further BFree pages immediately following its
// current run. It claims as many pages as are contiguously free there,
// capped at maxPages; if fewer than minPages are available it claims
// nothing and returns 0. On success it reclassifies the claimed pages as
// BPagePlus, extends the run's offsets, and returns the number of pages
// claimed — spec.md §4.5's extend(p, minsize, maxsize).
func (p *Pool) claimTrailingFree(headPage, minPages, maxPages int) int {
	curRun := int(p.bPageOffsets[headPage])
	start := headPage + curRun
	avail := 0
	for avail < maxPages && start+avail < p.npages && p.pagetable[start+avail] == BFree {
		avail++
	}
	if avail < minPages {
		return 0
	}
	for k := 0; k < avail; k++ {
		p.pagetable[start+k] = BPagePlus
	}
	p.updateOffsets(headPage, curRun+avail)
	p.freepages -= avail
	return avail
}

// shrinkRun trims the large block headed at headPage down to newPages,
// returning its trailing pages to BFree and rewriting the run's offsets —
// realloc's in-place shrink (spec.md §4.5). newPages must be at least 1 and
// no larger than the current run.
func (p *Pool) shrinkRun(headPage, newPages int) {
	curPages := int(p.bPageOffsets[headPage])
	if newPages >= curPages {
		return
	}
	p.freePages(headPage+newPages, curPages-newPages)
	p.updateOffsets(headPage, newPages)
}

// largeHeadPage resolves a page index that may be a BPagePlus continuation
// back to the BPage head that owns it.
func (p *Pool) largeHeadPage(pn int) int {
	if p.pagetable[pn] == BPagePlus {
		return pn - int(p.bPageOffsets[pn])
	}
	return pn
}

// ensureBitset lazily allocates one of the four attribute bitsets sized to
// this pool's bit range.
func (p *Pool) ensureBitset(slot **Bitset) *Bitset {
	if *slot == nil {
		*slot = NewBitset(p.mark.NBits())
	}
	return *slot
}
