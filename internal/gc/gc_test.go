package gc

import (
	"testing"
	"unsafe"
)

func testConfig() Config {
	c := DefaultConfig()
	c.PoolPages = 4
	return c
}

func TestHeap_MallocFreeRoundTrip(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(48, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if !h.Check(addr) {
		t.Fatal("Check should report the fresh allocation live")
	}
	sz, ok := h.SizeOf(addr)
	if !ok || sz < 48 {
		t.Fatalf("SizeOf = %d, %v; want >=48, true", sz, ok)
	}
	if err := h.Free(addr); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if h.Check(addr) {
		t.Fatal("Check should report a freed address dead")
	}
}

func TestHeap_CallocZeroesMemory(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(64, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	dirty := h.pools.findPool(addr).bytesAt(addr, 64)
	for i := range dirty {
		dirty[i] = 0xFF
	}
	if err := h.Free(addr); err != nil {
		t.Fatalf("Free: %v", err)
	}

	addr2, err := h.Calloc(8, 8, 0)
	if err != nil {
		t.Fatalf("Calloc: %v", err)
	}
	info, ok := h.Query(addr2)
	if !ok {
		t.Fatal("Query failed on a live Calloc block")
	}
	if info.Size < 64 {
		t.Fatalf("info.Size = %d, want >=64", info.Size)
	}
	for i, b := range h.pools.findPool(addr2).bytesAt(addr2, 64) {
		if b != 0 {
			t.Fatalf("Calloc byte %d = %#x, want 0", i, b)
		}
	}
}

func TestHeap_QueryCacheReflectsAttrChanges(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(32, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	info, ok := h.Query(addr)
	if !ok || info.Attr&AttrAppendable != 0 {
		t.Fatalf("fresh Query should report no AttrAppendable, got %v", info.Attr)
	}
	if err := h.SetAttr(addr, AttrAppendable); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	info, ok = h.Query(addr)
	if !ok || info.Attr&AttrAppendable == 0 {
		t.Fatal("Query's one-entry cache should not mask a SetAttr that happened after the prior Query")
	}
}

func TestHeap_RootKeepsObjectAlive(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(32, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	h.AddRoot(addr)

	if _, err := h.FullCollect(); err != nil {
		t.Fatalf("FullCollect: %v", err)
	}
	if !h.Check(addr) {
		t.Fatal("rooted object should survive a collection")
	}

	if !h.RemoveRoot(addr) {
		t.Fatal("RemoveRoot should find the previously added root")
	}
	if _, err := h.FullCollect(); err != nil {
		t.Fatalf("FullCollect: %v", err)
	}
	if h.Check(addr) {
		t.Fatal("unrooted unreferenced object should be reclaimed")
	}
}

func TestHeap_AddrOfInteriorPointer(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(64, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	base, ok := h.AddrOf(addr + 10)
	if !ok || base != addr {
		t.Fatalf("AddrOf(interior) = %#x, %v; want %#x, true", base, ok, addr)
	}
}

func TestHeap_LargeAllocation(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(PageSize*2+100, 0)
	if err != nil {
		t.Fatalf("Malloc(large): %v", err)
	}
	info, ok := h.Query(addr)
	if !ok {
		t.Fatal("Query failed on large allocation")
	}
	if info.Bin != BPage {
		t.Fatalf("Bin = %s, want BPage", info.Bin)
	}
	if info.Size < PageSize*3 {
		t.Fatalf("large block capacity = %d, want >= %d", info.Size, PageSize*3)
	}
	if err := h.Free(addr); err != nil {
		t.Fatalf("Free(large): %v", err)
	}
	if h.Check(addr) {
		t.Fatal("large block should be dead after Free")
	}
}

func TestHeap_Attrs(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(32, AttrNoScan)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	attr, err := h.GetAttr(addr)
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if attr&AttrNoScan == 0 {
		t.Fatal("AttrNoScan should be set from birth")
	}
	if err := h.SetAttr(addr, AttrAppendable); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	attr, _ = h.GetAttr(addr)
	if attr&AttrAppendable == 0 {
		t.Fatal("SetAttr should have added AttrAppendable")
	}
	if err := h.ClrAttr(addr, AttrNoScan); err != nil {
		t.Fatalf("ClrAttr: %v", err)
	}
	attr, _ = h.GetAttr(addr)
	if attr&AttrNoScan != 0 {
		t.Fatal("ClrAttr should have removed AttrNoScan")
	}
}

func TestHeap_Finalizer(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(16, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	ran := false
	if err := h.SetFinalizer(addr, func(uintptr) { ran = true }); err != nil {
		t.Fatalf("SetFinalizer: %v", err)
	}
	if _, err := h.FullCollect(); err != nil {
		t.Fatalf("FullCollect: %v", err)
	}
	if !ran {
		t.Fatal("finalizer should have run for an unreachable finalizable object")
	}
}

func TestHeap_RealloGrowsAndCopies(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(16, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	p := h.pools.findPool(addr)
	buf := p.bytesAt(addr, 16)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	newAddr, err := h.Realloc(addr, 200)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	newP := h.pools.findPool(newAddr)
	got := newP.bytesAt(newAddr, 16)
	for i := range got {
		if got[i] != byte(i+1) {
			t.Fatalf("Realloc did not preserve byte %d: got %d", i, got[i])
		}
	}
}

// TestHeap_ReallocShrinksLargeBlockInPlace verifies that shrinking a
// page-spanning block keeps its base address and returns the trailing pages
// to BFree.
func TestHeap_ReallocShrinksLargeBlockInPlace(t *testing.T) {
	cfg := testConfig()
	cfg.PoolPages = 16
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	large, err := h.Malloc(5*PageSize, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	p := h.pools.findPool(large)
	headPage := p.pageIndex(large)
	freeBefore := p.freepages

	newAddr, err := h.Realloc(large, 2*PageSize)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if newAddr != large {
		t.Fatalf("shrink moved the block: got %#x, want %#x", newAddr, large)
	}
	if p.bPageOffsets[headPage] != 2 {
		t.Fatalf("run length after shrink = %d, want 2", p.bPageOffsets[headPage])
	}
	for k := 2; k < 5; k++ {
		if p.pagetable[headPage+k] != BFree {
			t.Fatalf("trailing page %d = %s, want BFree", headPage+k, p.pagetable[headPage+k])
		}
	}
	if p.freepages != freeBefore+3 {
		t.Fatalf("freepages = %d, want %d", p.freepages, freeBefore+3)
	}
	sz, ok := h.SizeOf(large)
	if !ok || sz != 2*PageSize {
		t.Fatalf("SizeOf after shrink = %d, %v; want %d, true", sz, ok, 2*PageSize)
	}
}

// TestHeap_ReallocGrowsLargeBlockInPlace verifies that growing a
// page-spanning block claims trailing BFree pages without moving the block.
func TestHeap_ReallocGrowsLargeBlockInPlace(t *testing.T) {
	cfg := testConfig()
	cfg.PoolPages = 16
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	large, err := h.Malloc(2*PageSize, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	newAddr, err := h.Realloc(large, 5*PageSize)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if newAddr != large {
		t.Fatalf("grow with free trailing pages moved the block: got %#x, want %#x", newAddr, large)
	}
	sz, ok := h.SizeOf(large)
	if !ok || sz != 5*PageSize {
		t.Fatalf("SizeOf after grow = %d, %v; want %d, true", sz, ok, 5*PageSize)
	}
}

// TestHeap_ReallocMovesWhenTrailingPagesBusy pins a second block right after
// the first so in-place growth is impossible, forcing a copying move.
func TestHeap_ReallocMovesWhenTrailingPagesBusy(t *testing.T) {
	cfg := testConfig()
	cfg.PoolPages = 16
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	first, err := h.Malloc(2*PageSize, 0)
	if err != nil {
		t.Fatalf("Malloc(first): %v", err)
	}
	blocker, err := h.Malloc(PageSize, 0)
	if err != nil {
		t.Fatalf("Malloc(blocker): %v", err)
	}
	p := h.pools.findPool(first)
	if p.pageIndex(blocker) != p.pageIndex(first)+2 {
		t.Skip("blocker did not land immediately after first; layout assumption does not hold")
	}
	buf := p.bytesAt(first, 8)
	copy(buf, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	newAddr, err := h.Realloc(first, 5*PageSize)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if newAddr == first {
		t.Fatal("Realloc should have moved the block past the blocker")
	}
	newP := h.pools.findPool(newAddr)
	got := newP.bytesAt(newAddr, 8)
	for i, want := range []byte{1, 2, 3, 4, 5, 6, 7, 8} {
		if got[i] != want {
			t.Fatalf("moved block byte %d = %d, want %d", i, got[i], want)
		}
	}
	if h.Check(first) {
		t.Fatal("old block should be freed after a moving realloc")
	}
}

// TestHeap_RootedObjectContentsSurviveCollection exercises spec.md §8
// scenario S1: a rooted 32-byte block keeps its bytes and reported size
// across a collection.
func TestHeap_RootedObjectContentsSurviveCollection(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(32, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	p := h.pools.findPool(addr)
	buf := p.bytesAt(addr, 32)
	for i := range buf {
		buf[i] = 0xAB
	}
	h.AddRoot(addr)

	if _, err := h.FullCollect(); err != nil {
		t.Fatalf("FullCollect: %v", err)
	}
	for i, b := range p.bytesAt(addr, 32) {
		if b != 0xAB {
			t.Fatalf("byte %d = %#x after collection, want 0xAB", i, b)
		}
	}
	sz, ok := h.SizeOf(addr)
	if !ok || sz != 32 {
		t.Fatalf("SizeOf = %d, %v; want 32, true", sz, ok)
	}
}

// TestHeap_ExtendClaimsTrailingFreePages exercises spec.md §8 scenario S3:
// a 3-page block followed by 4 free pages should grow in place by exactly
// those 4 pages when asked to extend by up to 4 pages, with the newly
// claimed pages classified BPagePlus with back-offsets 3,4,5,6.
func TestHeap_ExtendClaimsTrailingFreePages(t *testing.T) {
	cfg := testConfig()
	cfg.PoolPages = 16
	cfg.InitialPools = 1
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	large, err := h.Malloc(3*PageSize, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	p := h.pools.findPool(large)
	headPage := p.pageIndex(large)

	gained, err := h.Extend(large, 1, 4*PageSize)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if gained != 4*PageSize {
		t.Fatalf("Extend gained = %d, want %d", gained, 4*PageSize)
	}
	if p.bPageOffsets[headPage] != 7 {
		t.Fatalf("head page run length = %d, want 7", p.bPageOffsets[headPage])
	}
	for k := 3; k <= 6; k++ {
		if p.pagetable[headPage+k] != BPagePlus {
			t.Fatalf("page %d classified %v, want BPagePlus", headPage+k, p.pagetable[headPage+k])
		}
		if int(p.bPageOffsets[headPage+k]) != k {
			t.Fatalf("page %d back-offset = %d, want %d", headPage+k, p.bPageOffsets[headPage+k], k)
		}
	}
	sz, ok := h.SizeOf(large)
	if !ok || sz < 7*PageSize {
		t.Fatalf("SizeOf after Extend = %d, %v; want >= %d, true", sz, ok, 7*PageSize)
	}
}

// TestHeap_ExtendRejectsBelowMinimum confirms Extend leaves state untouched
// and returns 0 when fewer trailing pages are free than the requested
// minimum.
func TestHeap_ExtendRejectsBelowMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.PoolPages = 16
	cfg.InitialPools = 1
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	large, err := h.Malloc(3*PageSize, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	p := h.pools.findPool(large)
	headPage := p.pageIndex(large)
	tailPage := headPage + 3
	// Occupy the very next trailing page so fewer than minPages are free.
	p.pagetable[tailPage] = BPage
	p.bPageOffsets[tailPage] = 1
	p.freepages--

	gained, err := h.Extend(large, 2*PageSize, 4*PageSize)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if gained != 0 {
		t.Fatalf("Extend gained = %d, want 0", gained)
	}
	if p.bPageOffsets[headPage] != 3 {
		t.Fatalf("head page run length changed to %d, want unchanged 3", p.bPageOffsets[headPage])
	}
}

func TestHeap_SentinelDetectsCorruption(t *testing.T) {
	cfg := testConfig()
	cfg.Sentinel = true
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.Malloc(32, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if !h.Check(addr) {
		t.Fatal("sentinel-wrapped allocation should check out clean")
	}
	p := h.pools.findPool(sentinelBlockBase(addr))
	p.bytesAt(addr+32, 1)[0] = 0x00 // stomp the trailing sentinel byte
	if h.Check(addr) {
		t.Fatal("Check should detect a corrupted trailing sentinel")
	}
	if err := h.Free(addr); err == nil {
		t.Fatal("Free should report corruption instead of silently freeing")
	}
}

func TestHeap_RangeScanningKeepsPointeeAlive(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	target, err := h.Malloc(32, 0)
	if err != nil {
		t.Fatalf("Malloc(target): %v", err)
	}

	var holder [1]uintptr
	holder[0] = target
	lo := uintptr(unsafe.Pointer(&holder[0]))
	h.AddRange(lo, uintptr(len(holder))*8)

	if _, err := h.FullCollect(); err != nil {
		t.Fatalf("FullCollect: %v", err)
	}
	if !h.Check(target) {
		t.Fatal("object referenced only from a registered range should survive")
	}

	if !h.RemoveRange(lo) {
		t.Fatal("RemoveRange should find the previously added range")
	}
	holder[0] = 0
	if _, err := h.FullCollect(); err != nil {
		t.Fatalf("FullCollect: %v", err)
	}
	if h.Check(target) {
		t.Fatal("object should be collected once its only reference is gone")
	}
}
