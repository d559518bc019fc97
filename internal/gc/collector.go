package gc

import (
	"encoding/binary"
	"unsafe"
)

// ───────────────────────────────────────────────────────────────────────────
// Collector — spec.md §4.6
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's pager.GC/walkBTree (full-tree reachability walk
// producing a GCResult) generalized from an on-disk B-tree walk to a
// conservative pointer-chasing walk over OS-mapped pool memory, and on
// spec.md §6's suspend_all/scan_all/process_marks/resume_all collaborator
// sequence, implemented here cooperatively via Mutator.Safepoint.

// fullCollectLocked runs one prep/mark/sweep/recover cycle. Callers must
// already hold h.mu. noStack skips suspending and scanning registered
// mutators, for callers that know no live reference is reachable only from
// a goroutine stack right now (spec.md's FullCollectNoStack).
func (h *Heap) fullCollectLocked(noStack bool) CycleStats {
	cs := newCycleStats(noStack)
	h.running.Store(true)
	h.collectorGoid.Store(goid())

	h.logf("cycle %s: prep (noStack=%v)", cs.ID, noStack)
	h.prepPhase()

	var windows []Range
	if !noStack {
		windows = h.suspendAll()
	}
	h.logf("cycle %s: mark", cs.ID)
	h.markRoots()
	if !noStack {
		for _, w := range windows {
			h.markRange(w.Lo, w.Hi)
		}
		h.processMarks(h.markStatusLocked)
		h.resumeAll()
	}

	h.logf("cycle %s: sweep", cs.ID)
	pagesFreed := h.sweepPhase(&cs)
	h.logf("cycle %s: recover", cs.ID)
	recoveredPages := h.recoverPhase()

	reclaimed := pagesFreed + recoveredPages
	h.lastReclaimed = reclaimed
	cs.PagesReclaimed = reclaimed
	h.stats.Cycles++
	h.stats.TotalReclaimed += uint64(reclaimed)
	if h.onCycle != nil {
		h.onCycle(cs)
	}
	h.logf("cycle %s: done, reclaimed %d pages", cs.ID, reclaimed)
	h.running.Store(false)
	return cs
}

// markStatusLocked reports the final mark status of an arbitrary address for
// the process-marks step: MarkUnknown for anything outside a pool,
// MarkYes/MarkNo for addresses resolving to an allocated object.
func (h *Heap) markStatusLocked(addr uintptr) MarkStatus {
	p := h.pools.findPool(addr)
	if p == nil {
		return MarkUnknown
	}
	pn := p.pageIndex(addr)
	bin := p.pagetable[pn]
	switch {
	case bin == BFree:
		return MarkNo
	case bin == BPage || bin == BPagePlus:
		if p.mark.Test(p.largeHeadPage(pn)) {
			return MarkYes
		}
		return MarkNo
	default:
		objSize := uintptr(SizeOfBin(bin))
		pageBase := p.pageAddr(pn)
		base := pageBase + ((addr-pageBase)/objSize)*objSize
		bi := p.bitIndex(base)
		if p.freebits.Test(bi) {
			return MarkNo
		}
		if p.mark.Test(bi) {
			return MarkYes
		}
		return MarkNo
	}
}

// prepPhase clears every pool's mark/scan bitsets, rebuilds freebits from
// the bucket free lists currently threaded through pool memory, then seeds
// each small pool's mark set from its freebits so free-listed slots are
// pre-marked and never treated as scan roots — spec.md §4.6's prep step.
func (h *Heap) prepPhase() {
	h.invalidateCaches()
	h.pools.forEach(func(p *Pool) {
		p.mark.Zero()
		p.scan.Zero()
		p.newChanges = false
		if !p.isLarge {
			p.freebits.Zero()
		}
	})
	for bin := 0; bin < numSmallBins; bin++ {
		addr := h.bucket[bin]
		for addr != 0 {
			p := h.pools.findPool(addr)
			if p == nil {
				break
			}
			p.freebits.Set(p.bitIndex(addr))
			addr = p.readNext(addr)
		}
	}
	h.pools.forEach(func(p *Pool) {
		if !p.isLarge {
			p.mark.CopyFrom(p.freebits)
		}
	})
}

// markRoots seeds marking from every registered root pointer and scan
// range, then drives the iterative worklist to a fixpoint.
func (h *Heap) markRoots() {
	h.roots.forEach(func(addr uintptr) {
		h.markConservative(addr, 0)
	})
	h.ranges.forEach(func(rg Range) {
		h.scanWords(rg.Lo, rg.Hi, 0)
	})
	h.drainScanWorklist()
}

// markRange conservatively scans one suspended mutator's registered window.
func (h *Heap) markRange(lo, hi uintptr) {
	h.scanWords(lo, hi, 0)
	h.drainScanWorklist()
}

// scanWords treats [lo, hi) as a sequence of uintptr-sized words and feeds
// each one to markConservative as a candidate pointer. The range is not
// necessarily backed by pool memory — registered ranges and mutator stack
// windows live in ordinary Go-managed memory — so this reaches past the
// type system with unsafe.Slice, the idiomatic way in modern Go to view an
// arbitrary address window as a typed slice without copying it.
func (h *Heap) scanWords(lo, hi uintptr, depth int) {
	if hi <= lo {
		return
	}
	n := int((hi - lo) / unsafe.Sizeof(uintptr(0)))
	if n == 0 {
		return
	}
	words := unsafe.Slice((*uintptr)(unsafe.Pointer(lo)), n) //nolint:govet
	for _, w := range words {
		h.markConservative(w, depth)
	}
}

// markConservative treats addr as a candidate pointer. If it resolves to the
// interior of a currently-allocated object, that object's base is marked and
// its body scheduled for scanning.
func (h *Heap) markConservative(addr uintptr, depth int) {
	p := h.pools.findPool(addr)
	if p == nil {
		return
	}
	if p.isLarge {
		h.markLarge(p, addr, depth)
		return
	}
	h.markSmall(p, addr, depth)
}

func (h *Heap) markSmall(p *Pool, addr uintptr, depth int) {
	pn := p.pageIndex(addr)
	bin := p.pagetable[pn]
	if !isSmallBin(bin) {
		return
	}
	objSize := uintptr(SizeOfBin(bin))
	pageBase := p.pageAddr(pn)
	objBase := pageBase + ((addr-pageBase)/objSize)*objSize
	bi := p.bitIndex(objBase)
	if p.freebits.Test(bi) {
		return
	}
	if p.mark.TestSet(bi) {
		return
	}
	if testAttrBitset(p.noscan, bi) {
		return
	}
	h.scanBody(p, objBase, objSize, depth)
}

func (h *Heap) markLarge(p *Pool, addr uintptr, depth int) {
	pn := p.pageIndex(addr)
	bin := p.pagetable[pn]
	if bin != BPage && bin != BPagePlus {
		return
	}
	head := p.largeHeadPage(pn)
	// pointsToBase is false whenever addr had to back-jump from a
	// continuation page; NoInterior rejects anything but an exact base hit.
	pointsToBase := addr == p.pageAddr(head)
	if !pointsToBase && testAttrBitset(p.nointerior, head) {
		return
	}
	if p.mark.TestSet(head) {
		return
	}
	if testAttrBitset(p.noscan, head) {
		return
	}
	base := p.pageAddr(head)
	size := uintptr(p.bPageOffsets[head]) * PageSize
	h.scanBody(p, base, size, depth)
}

// scanBody examines an object's contents word by word, feeding each one back
// into markConservative. Past cfg.MaxMarkRecursion levels it sets the
// object's bit in the pool's scan bitmap and flags newChanges instead of
// recursing further, deferring the rest of the walk to the iterative
// worklist in drainScanWorklist — spec.md §4.6's bounded-recursion design.
func (h *Heap) scanBody(p *Pool, base, size uintptr, depth int) {
	if depth >= h.cfg.MaxMarkRecursion {
		p.scan.Set(p.bitIndex(base))
		p.newChanges = true
		return
	}
	n := int(size / 8)
	for i := 0; i < n; i++ {
		w := binary.LittleEndian.Uint64(p.bytesAt(base+uintptr(i)*8, 8))
		h.markConservative(uintptr(w), depth+1)
	}
}

// objectAt resolves a scan-bitmap bit index back to the object it names:
// the small-bin object or large block whose base sits at that bit's
// granule/page, or ok=false if the slot was reclaimed before this bit could
// be drained (freed between being deferred and processed here).
func objectAt(p *Pool, bi int) (base, size uintptr, ok bool) {
	base = p.addrOfBit(bi)
	if base < p.baseAddr || base >= p.topAddr {
		return 0, 0, false
	}
	pn := p.pageIndex(base)
	bin := p.pagetable[pn]
	if p.isLarge {
		if bin != BPage {
			return 0, 0, false
		}
		return base, uintptr(p.bPageOffsets[pn]) * PageSize, true
	}
	if !isSmallBin(bin) {
		return 0, 0, false
	}
	return base, uintptr(SizeOfBin(bin)), true
}

// drainScanWorklist runs the multi-pass fixpoint loop spec.md §4.6
// describes: while any pool's newChanges flag is set, snapshot it to
// oldChanges, clear newChanges, and re-scan every bit the bounded-recursion
// step deferred — each re-scan starting at depth 0, which may itself defer
// further objects and set newChanges again for a later pass.
func (h *Heap) drainScanWorklist() {
	for {
		anyChanges := false
		h.pools.forEach(func(p *Pool) {
			if p.newChanges {
				anyChanges = true
			}
		})
		if !anyChanges {
			return
		}
		h.pools.forEach(func(p *Pool) {
			p.oldChanges, p.newChanges = p.newChanges, false
		})
		h.pools.forEach(func(p *Pool) {
			if !p.oldChanges {
				return
			}
			p.oldChanges = false
			p.scan.ForEachSet(func(bi int) {
				p.scan.Clear(bi)
				base, size, ok := objectAt(p, bi)
				if !ok {
					return
				}
				h.scanBody(p, base, size, 0)
			})
		})
	}
}

// sweepPhase reclaims every allocated-but-unmarked object, running
// finalizers. Large blocks are reclaimed to BFree immediately (spec.md
// §4.6 Sweep: "write B_FREE... bump freepages and the reclaimed-page
// counter"), so sweepLarge's return value is already page-granular.
// Small-bin slots are only marked free here (freebits set); a small-bin
// page is not demoted back to BFree, and the bucket free lists are not
// rebuilt, until the separate Recovery phase runs (spec.md §4.6 keeps
// Sweep and Recovery as distinct phases) — see recoverPhase.
func (h *Heap) sweepPhase(cs *CycleStats) int {
	cs.PoolsVisited = h.pools.len()
	pagesFreed := 0
	h.pools.forEach(func(p *Pool) {
		if p.isLarge {
			pagesFreed += h.sweepLarge(p)
		} else {
			h.sweepSmall(p)
		}
	})
	return pagesFreed
}

// sweepSmall marks every small-bin slot whose mark bit is clear as free,
// running its finalizer first. Attribute bits are not cleared slot by slot:
// the reclaimed slots' bit positions are accumulated into a per-word mask
// and cleared from all four attribute bitsets with one write per word
// (spec.md §4.6's clrBitsSmallSweep batching). Pagetable and bucket state
// are untouched — that is Recovery's job.
func (h *Heap) sweepSmall(p *Pool) {
	toClear := uint64(0)
	clearWord := -1
	flush := func() {
		if clearWord >= 0 && toClear != 0 {
			p.clrAttrsWordAt(clearWord, toClear)
		}
		toClear = 0
	}
	for pn := 0; pn < p.npages; pn++ {
		bin := p.pagetable[pn]
		if !isSmallBin(bin) {
			continue
		}
		objSize := uintptr(SizeOfBin(bin))
		n := int(PageSize / objSize)
		base := p.pageAddr(pn)
		for i := 0; i < n; i++ {
			addr := base + uintptr(i)*objSize
			bi := p.bitIndex(addr)
			if w := bi >> wordShift; w != clearWord {
				flush()
				clearWord = w
			}
			if p.freebits.Test(bi) || p.mark.Test(bi) {
				continue
			}
			if testAttrBitset(p.finals, bi) {
				h.finalizers.run(addr)
			}
			toClear |= uint64(1) << uint(bi&wordMask)
			p.freebits.Set(bi)
		}
	}
	flush()
}

func (h *Heap) sweepLarge(p *Pool) int {
	reclaimed := 0
	for pn := 0; pn < p.npages; pn++ {
		if p.pagetable[pn] != BPage {
			continue
		}
		if p.mark.Test(pn) {
			continue
		}
		n := int(p.bPageOffsets[pn])
		addr := p.pageAddr(pn)
		if testAttrBitset(p.finals, pn) {
			h.finalizers.run(addr)
		}
		p.clrAllAttrsAt(pn)
		p.freePages(pn, n)
		reclaimed += n
	}
	return reclaimed
}

// recoverPhase is spec.md §4.6's Recovery step: zero every bucket[] head,
// then walk every small pool's in-use pages — a page whose every slot is
// now freebits-set is demoted back to BFree (recoveredpages); every other
// page's free slots are re-threaded onto bucket[bin]. It also recomputes
// the aggregate stats GetStats exposes. Its return value, added to
// sweepPhase's pagesFreed by the caller, is the page-granular yield
// spec.md's Recovery step defines as "freedpages + recoveredpages" — the
// figure the retry ladder's yield-fraction heuristic (spec.md §4.5/§9)
// depends on being page-granular throughout.
func (h *Heap) recoverPhase() int {
	recovered := h.recoverSmallPools()
	poolSize, freePages, largePages := h.computeSizeStats()
	h.stats.PoolSize = poolSize
	h.stats.FreePages = freePages
	h.stats.LargePages = largePages
	return recovered
}

// computeSizeStats walks every pool tallying mapped bytes, free pages, and
// pages occupied by large blocks (heads and continuations). Shared by recoverPhase
// (after a cycle) and GetStats (on demand, between cycles).
func (h *Heap) computeSizeStats() (poolSize, freePages, largePages uint64) {
	h.pools.forEach(func(p *Pool) {
		poolSize += uint64(p.npages) * PageSize
		freePages += uint64(p.freepages)
		if p.isLarge {
			for pn := 0; pn < p.npages; pn++ {
				if p.pagetable[pn] == BPage {
					largePages += uint64(p.bPageOffsets[pn])
				}
			}
		}
	})
	return poolSize, freePages, largePages
}

// pageAllFree reports whether every granule on page pn (classified as bin)
// is currently on a free list, per freebits.
func pageAllFree(p *Pool, pn int, bin Bin) bool {
	objSize := uintptr(SizeOfBin(bin))
	n := int(PageSize / objSize)
	base := p.pageAddr(pn)
	for i := 0; i < n; i++ {
		bi := p.bitIndex(base + uintptr(i)*objSize)
		if !p.freebits.Test(bi) {
			return false
		}
	}
	return true
}

// recoverSmallPools is spec.md §4.6's Recovery walk, shared by an ordinary
// collection cycle (recoverPhase) and Minimize (minimizeLocked): it zeros
// every bucket free list, then walks every small pool's in-use pages. A
// page whose every granule is now freebits-set is demoted back to BFree
// (counted as a recovered page); every other in-use page has its free
// granules re-threaded onto bucket[bin]. It returns the number of pages
// demoted to BFree.
func (h *Heap) recoverSmallPools() int {
	for bin := range h.bucket {
		h.bucket[bin] = 0
	}
	recovered := 0
	h.pools.forEach(func(p *Pool) {
		if p.isLarge {
			return
		}
		for pn := 0; pn < p.npages; pn++ {
			bin := p.pagetable[pn]
			if !isSmallBin(bin) {
				continue
			}
			if pageAllFree(p, pn, bin) {
				p.freePages(pn, 1)
				recovered++
				continue
			}
			h.threadPageFreeSlots(p, pn, bin)
		}
	})
	return recovered
}

// threadPageFreeSlots re-threads every freebits-set granule on page pn
// (classified as bin) onto the front of bucket[bin].
func (h *Heap) threadPageFreeSlots(p *Pool, pn int, bin Bin) {
	objSize := uintptr(SizeOfBin(bin))
	n := int(PageSize / objSize)
	base := p.pageAddr(pn)
	for i := 0; i < n; i++ {
		addr := base + uintptr(i)*objSize
		bi := p.bitIndex(addr)
		if p.freebits.Test(bi) {
			// Skip the write when the stored link already matches, so
			// re-threading an unchanged list does not dirty its pages.
			if p.readNext(addr) != h.bucket[bin] {
				p.writeNext(addr, h.bucket[bin])
			}
			h.bucket[bin] = addr
		}
	}
}

// minimizeLocked is the Minimize public operation's core: it reruns prep
// (so freebits reflect the current bucket lists rather than last cycle's
// marks) and the Recovery walk, then unmaps pools left entirely empty.
func (h *Heap) minimizeLocked() {
	h.prepPhase()
	h.recoverSmallPools()
	h.releaseEmptyPools()
}

// releaseEmptyPools unmaps every large pool, and every small pool beyond
// cfg.InitialPools, that is entirely free.
func (h *Heap) releaseEmptyPools() {
	keep := h.cfg.InitialPools
	freeSeen := 0
	for i := 0; i < len(h.smallPools); {
		p := h.smallPools[i]
		if p.freepages != p.npages {
			i++
			continue
		}
		freeSeen++
		if freeSeen <= keep {
			i++
			continue
		}
		h.removePool(p)
		h.smallPools = append(h.smallPools[:i], h.smallPools[i+1:]...)
	}
	for i := 0; i < len(h.largePools); {
		p := h.largePools[i]
		if p.freepages != p.npages {
			i++
			continue
		}
		h.removePool(p)
		h.largePools = append(h.largePools[:i], h.largePools[i+1:]...)
	}
}

// removePool unregisters p from the address table and unmaps its memory.
func (h *Heap) removePool(p *Pool) {
	for i := 0; i < h.pools.len(); i++ {
		if h.pools.pools[i] == p {
			h.pools.removeAt(i)
			break
		}
	}
	p.close()
	h.invalidateCaches()
}
