package gc

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Allocator — spec.md §4.5
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's pager.FreeManager (in-memory free-page set,
// Alloc/Free/FlushToDisk) generalized from a single flat free-page set to
// per-size-class free lists threaded through pool memory, and on
// mcentral.go's mCentral_Grow (fetch a fresh span from the heap and carve
// it into a free list) for allocPageForBin.

// retryLadder drives the bounded state machine spec.md §4.5/§9 describes:
// collect, check yield, grow, and eventually fail with ErrOutOfMemory. It
// is parameterized over isLarge (selects the yield-fraction threshold and
// whether minimize() runs between states) and tryAlloc (attempts the
// actual allocation; called after every state transition that might have
// produced usable space).
func (h *Heap) retryLadder(isLarge bool, tryAlloc func() (uintptr, bool)) (uintptr, error) {
	state := 0
	collected := false
	for {
		switch state {
		case 0:
			if h.collectionEnabled {
				h.logf("retry ladder: collecting (isLarge=%v)", isLarge)
				h.fullCollectLocked(false)
				collected = true
			}
			if addr, ok := tryAlloc(); ok {
				return addr, nil
			}
			threshold := h.yieldThreshold(isLarge)
			if isLarge {
				h.minimizeLocked()
			}
			if uint64(h.lastReclaimed) < threshold || !h.collectionEnabled {
				h.logf("retry ladder: yield %d below threshold %d, growing", h.lastReclaimed, threshold)
				if err := h.growPool(isLarge); err != nil {
					return 0, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
				}
				state = 2
			} else {
				state = 1
			}
		case 1:
			h.logf("retry ladder: growing after productive collection")
			if err := h.growPool(isLarge); err != nil {
				return 0, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
			}
			state = 2
		case 2:
			if addr, ok := tryAlloc(); ok {
				return addr, nil
			}
			if collected {
				return 0, ErrOutOfMemory
			}
			state = 0
		}
	}
}

// yieldThreshold returns the page count the retry ladder compares a
// collection's yield against in state 0: below it the ladder grows the heap
// at once and moves to state 2; otherwise it moves to state 1, which also
// grows the heap before retrying. The ladder never collects twice for one
// request (spec.md §9 Open Question: preserved as a page-count, not
// byte-count, heuristic).
func (h *Heap) yieldThreshold(isLarge bool) uint64 {
	var npools, fraction int
	if isLarge {
		npools = len(h.largePools)
		fraction = h.cfg.LargeYieldFraction
	} else {
		npools = len(h.smallPools)
		fraction = h.cfg.SmallYieldFraction
	}
	if npools == 0 || fraction == 0 {
		return 0
	}
	return uint64(npools*h.cfg.PoolPages) / uint64(fraction)
}

// growPool maps a fresh pool of the requested kind and registers it.
func (h *Heap) growPool(isLarge bool) error {
	p, err := newPool(h.cfg.PoolPages, isLarge)
	if err != nil {
		return err
	}
	h.pools.insert(p)
	if isLarge {
		h.largePools = append(h.largePools, p)
	} else {
		h.smallPools = append(h.smallPools, p)
	}
	h.invalidateCaches()
	return nil
}

// popBucket pops the head of bucket[bin]'s global free list.
func (h *Heap) popBucket(bin Bin) (uintptr, bool) {
	head := h.bucket[bin]
	if head == 0 {
		return 0, false
	}
	p := h.pools.findPool(head)
	h.bucket[bin] = p.readNext(head)
	// Clear the stale link so a conservative scan of the new object's body
	// does not mistake it for a reference to the next free slot.
	p.writeNext(head, 0)
	p.freebits.Clear(p.bitIndex(head))
	return head, true
}

// allocPageForBin converts one BFree page of some small pool into a freshly
// threaded free list for bin, pushing every granule onto bucket[bin].
// Reports whether a page was found.
func (h *Heap) allocPageForBin(bin Bin) bool {
	size := uintptr(SizeOfBin(bin))
	for _, p := range h.smallPools {
		pn := p.allocPages(1)
		if pn == OpFail {
			continue
		}
		p.pagetable[pn] = bin
		p.freepages--
		base := p.pageAddr(pn)
		n := int(PageSize / size)
		for i := 0; i < n; i++ {
			addr := base + uintptr(i)*size
			p.writeNext(addr, h.bucket[bin])
			h.bucket[bin] = addr
			p.freebits.Set(p.bitIndex(addr))
		}
		return true
	}
	return false
}

// smallAlloc serves a request already resolved to bin, via the free list,
// the page promoter, and finally the retry ladder.
func (h *Heap) smallAlloc(bin Bin) (uintptr, error) {
	if addr, ok := h.popBucket(bin); ok {
		return addr, nil
	}
	if h.allocPageForBin(bin) {
		addr, _ := h.popBucket(bin)
		return addr, nil
	}
	return h.retryLadder(false, func() (uintptr, bool) {
		if addr, ok := h.popBucket(bin); ok {
			return addr, true
		}
		if h.allocPageForBin(bin) {
			return h.popBucket(bin)
		}
		return 0, false
	})
}

// largeAllocTry scans large pools for room for npages, classifying and
// claiming the run on success.
func (h *Heap) largeAllocTry(npages int) (uintptr, bool) {
	for _, p := range h.largePools {
		if p.freepages < npages {
			continue
		}
		pn := p.allocPages(npages)
		if pn == OpFail {
			continue
		}
		p.pagetable[pn] = BPage
		for k := 1; k < npages; k++ {
			p.pagetable[pn+k] = BPagePlus
		}
		p.updateOffsets(pn, npages)
		p.freepages -= npages
		return p.pageAddr(pn), true
	}
	return 0, false
}

// largeAlloc serves a request for npages whole pages.
func (h *Heap) largeAlloc(npages int) (uintptr, error) {
	if addr, ok := h.largeAllocTry(npages); ok {
		return addr, nil
	}
	return h.retryLadder(true, func() (uintptr, bool) {
		return h.largeAllocTry(npages)
	})
}

// freeAddr releases the block at addr, whatever its bin, and clears its
// attribute bits. Unknown (foreign) addresses are silently ignored.
func (h *Heap) freeAddr(addr uintptr) {
	p := h.pools.findPool(addr)
	if p == nil {
		return
	}
	pn := p.pageIndex(addr)
	bin := p.pagetable[pn]
	switch {
	case bin == BPage:
		h.clrAllAttrs(p, p.bitIndex(addr))
		n := int(p.bPageOffsets[pn])
		p.freePages(pn, n)
	case bin == BFree || bin == BPagePlus:
		// Foreign or already-free pointer; ignore.
		return
	default:
		bi := p.bitIndex(addr)
		if p.freebits.Test(bi) {
			// Already on a free list; ignore.
			return
		}
		h.clrAllAttrs(p, bi)
		p.freebits.Set(bi)
		p.writeNext(addr, h.bucket[bin])
		h.bucket[bin] = addr
	}
	h.invalidateCaches()
}

func (h *Heap) clrAllAttrs(p *Pool, bi int) {
	p.clrAllAttrsAt(bi)
}
