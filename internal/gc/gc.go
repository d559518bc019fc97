package gc

import (
	"fmt"
	"log"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ───────────────────────────────────────────────────────────────────────────
// Heap — spec.md §4, public API
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's storage.DB (the single struct wiring together a
// pager, a catalog, and a write-ahead log behind one set of exported
// methods) generalized from a SQL engine's entry point to the allocator's:
// one Heap value replaces spec.md's package-global singleton, so a process
// can run more than one independent heap and tests never share state.

// BlkInfo is the structured result of Query — spec.md §4.9's diagnostic
// collaborator, reporting what the collector currently believes about the
// block containing an address.
type BlkInfo struct {
	Base uintptr
	Size uintptr
	Bin  Bin
	Attr Attr
}

type addrCacheEntry struct {
	valid bool
	query uintptr
	base  uintptr
	ok    bool
}

type sizeCacheEntry struct {
	valid bool
	addr  uintptr
	size  uintptr
	ok    bool
}

type infoCacheEntry struct {
	valid bool
	addr  uintptr
	info  BlkInfo
	ok    bool
}

// Heap is one independent garbage-collected memory arena: a pool table, the
// small-object free-list buckets threaded through those pools, the root and
// range sets conservative scanning walks, and the single lock serializing
// every operation against it (spec.md §5).
type Heap struct {
	mu            sync.Mutex
	running       atomic.Bool  // true while a collection cycle is in progress
	collectorGoid atomic.Int64 // goroutine driving the in-progress cycle

	collectionEnabled bool
	cfg               Config

	pools      PoolTable
	smallPools []*Pool
	largePools []*Pool
	bucket     [numSmallBins]uintptr

	roots      *rootSet
	ranges     *rangeSet
	finalizers *finalizerTable
	mutators   *mutatorRegistry
	suspendCh  chan struct{}

	lastReclaimed int
	stats         Stats
	onCycle       func(CycleStats)

	addrCache addrCacheEntry
	szCache   sizeCacheEntry
	infoCache infoCacheEntry
}

// New creates a Heap with cfg.InitialPools small pools already mapped.
func New(cfg Config) (*Heap, error) {
	cfg = cfg.fillDefaults()
	h := &Heap{
		cfg:               cfg,
		collectionEnabled: true,
		roots:             newRootSet(),
		ranges:            newRangeSet(),
		finalizers:        newFinalizerTable(),
		mutators:          newMutatorRegistry(),
	}
	for i := 0; i < cfg.InitialPools; i++ {
		if err := h.growPool(false); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Close unmaps every pool this heap owns. The heap must not be used
// afterward.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	h.pools.forEach(func(p *Pool) {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// OnCycle registers a callback invoked with each completed collection's
// stats, used by cmd/gcstat's verbose mode and by the periodic scheduler.
func (h *Heap) OnCycle(fn func(CycleStats)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCycle = fn
}

func (h *Heap) invalidateCaches() {
	h.addrCache.valid = false
	h.szCache.valid = false
	h.infoCache.valid = false
}

// enter acquires the heap lock for a public call. A goroutine other than
// the one driving an in-progress collection simply blocks on the lock until
// the cycle completes; the collecting goroutine itself re-entering — a
// finalizer invoked from inside sweep calling back into Malloc or Free on
// the same heap — gets ErrInvalidMemoryOperation instead of deadlocking on
// the non-reentrant sync.Mutex.
func (h *Heap) enter() error {
	if h.running.Load() && goid() == h.collectorGoid.Load() {
		return ErrInvalidMemoryOperation
	}
	h.mu.Lock()
	return nil
}

func (h *Heap) leave() {
	h.mu.Unlock()
}

// goid returns the calling goroutine's id, parsed from the runtime.Stack
// header. It is only consulted while a collection is running, so the stack
// dump's cost never lands on the ordinary alloc/free path.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// logf writes a collector diagnostic when verbose tuning is enabled. It is
// never called on the hot alloc/free path.
func (h *Heap) logf(format string, args ...any) {
	if h.cfg.Verbose {
		log.Printf("gc: "+format, args...)
	}
}

// Enable turns collection back on after Disable. New allocations may still
// grow the heap while collection is disabled; they simply never trigger a
// collect-first attempt.
func (h *Heap) Enable() {
	if err := h.enter(); err != nil {
		return
	}
	defer h.leave()
	h.collectionEnabled = true
}

// Disable suspends automatic collection: the retry ladder grows the heap
// directly instead of collecting first. FullCollect and FullCollectNoStack
// still run a cycle on demand.
func (h *Heap) Disable() {
	if err := h.enter(); err != nil {
		return
	}
	defer h.leave()
	h.collectionEnabled = false
}

// ───────────────────────────────────────────────────────────────────────────
// Allocation
// ───────────────────────────────────────────────────────────────────────────

func (h *Heap) allocCore(size uintptr, attr Attr, zero bool) (uintptr, error) {
	if size == 0 {
		return 0, fmt.Errorf("gc: malloc size 0: %w", ErrInvalidMemoryOperation)
	}
	rawSize := size
	if h.cfg.Sentinel {
		rawSize = sentinelRawSize(size)
	}
	bin := ClassOf(rawSize)
	var (
		base uintptr
		err  error
	)
	if bin == BPage {
		base, err = h.largeAlloc(int(pagesForBytes(rawSize)))
	} else {
		base, err = h.smallAlloc(bin)
	}
	if err != nil {
		return 0, err
	}

	p := h.pools.findPool(base)
	userPtr := base
	if h.cfg.Sentinel {
		p.writeSentinel(base, size)
		userPtr = sentinelUserPtr(base)
	}
	if zero {
		buf := p.bytesAt(userPtr, int(size))
		for i := range buf {
			buf[i] = 0
		}
	}
	if attr != 0 {
		p.setAttrAt(p.bitIndex(base), attr)
	}
	h.invalidateCaches()
	return userPtr, nil
}

// Malloc allocates size bytes, optionally carrying the given attribute mask
// from birth (spec.md §4.5/§4.7).
func (h *Heap) Malloc(size uintptr, attr Attr) (uintptr, error) {
	if err := h.enter(); err != nil {
		return 0, err
	}
	defer h.leave()
	return h.allocCore(size, attr, false)
}

// Calloc allocates n*size zeroed bytes.
func (h *Heap) Calloc(n, size uintptr, attr Attr) (uintptr, error) {
	if err := h.enter(); err != nil {
		return 0, err
	}
	defer h.leave()
	return h.allocCore(n*size, attr, true)
}

// blockInfo resolves addr (a user-visible pointer, sentinel-aware) to its
// owning pool, raw block base, and bin, or reports it no longer/never
// belonged to a live allocation.
func (h *Heap) blockInfo(addr uintptr) (p *Pool, blockBase uintptr, bin Bin, ok bool) {
	blockBase = addr
	if h.cfg.Sentinel {
		blockBase = sentinelBlockBase(addr)
	}
	p = h.pools.findPool(blockBase)
	if p == nil {
		return nil, 0, 0, false
	}
	pn := p.pageIndex(blockBase)
	bin = p.pagetable[pn]
	if bin == BFree || bin == BPagePlus {
		return nil, 0, 0, false
	}
	if isSmallBin(bin) && p.freebits.Test(p.bitIndex(blockBase)) {
		return nil, 0, 0, false
	}
	return p, blockBase, bin, true
}

// capacityOf returns the raw bytes available to the block at blockBase,
// before any sentinel overhead is subtracted.
func capacityOf(p *Pool, blockBase uintptr, bin Bin) uintptr {
	if bin == BPage {
		pn := p.pageIndex(blockBase)
		return uintptr(p.bPageOffsets[pn]) * PageSize
	}
	return uintptr(SizeOfBin(bin))
}

// Free releases the block at addr. Unknown or already-free pointers are
// ignored, matching the tolerant semantics of rangeSet.remove and the
// teacher's free-list handling elsewhere. In sentinel mode, a corrupted
// prefix or suffix is reported instead of silently freeing the block.
func (h *Heap) Free(addr uintptr) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.leave()
	return h.freeLocked(addr)
}

// freeLocked is Free's body, callable from reallocCore (spec.md §4.5:
// "size == 0: behaves as free(p)") without re-entering the lock.
func (h *Heap) freeLocked(addr uintptr) error {
	if addr == 0 {
		return nil
	}
	blockBase := addr
	if h.cfg.Sentinel {
		blockBase = sentinelBlockBase(addr)
		p := h.pools.findPool(blockBase)
		if p != nil {
			if _, ok := p.checkSentinel(blockBase); !ok {
				return fmt.Errorf("gc: corrupted sentinel at %#x: %w", addr, ErrInvalidMemoryOperation)
			}
		}
	}
	h.finalizers.clear(blockBase)
	h.freeAddr(blockBase)
	return nil
}

// Realloc resizes the block at addr to newSize, moving it (and copying the
// overlapping prefix) if its current bin cannot hold newSize.
func (h *Heap) Realloc(addr uintptr, newSize uintptr) (uintptr, error) {
	if err := h.enter(); err != nil {
		return 0, err
	}
	defer h.leave()
	return h.reallocCore(addr, newSize, false)
}

// Reserve is like Realloc but never shrinks: it ensures the block's capacity
// is at least newSize bytes, growing it in place when the trailing pages
// allow and moving it otherwise, and leaves a block that is already large
// enough where it is; spec.md §4.7's AttrAppendable objects use this to grow
// in place when possible.
func (h *Heap) Reserve(addr uintptr, newSize uintptr) (uintptr, error) {
	if err := h.enter(); err != nil {
		return 0, err
	}
	defer h.leave()
	return h.reallocCore(addr, newSize, true)
}

func (h *Heap) reallocCore(addr uintptr, newSize uintptr, reserveOnly bool) (uintptr, error) {
	// spec.md §4.5: "p == null: behaves as alloc(size)".
	if addr == 0 {
		return h.allocCore(newSize, 0, false)
	}
	// spec.md §4.5: "size == 0: behaves as free(p), returns null".
	if newSize == 0 {
		if err := h.freeLocked(addr); err != nil {
			return 0, err
		}
		return 0, nil
	}
	p, blockBase, bin, ok := h.blockInfo(addr)
	if !ok {
		return 0, fmt.Errorf("gc: realloc of unknown pointer %#x: %w", addr, ErrInvalidMemoryOperation)
	}
	rawNew := newSize
	if h.cfg.Sentinel {
		rawNew = sentinelRawSize(newSize)
	}
	capacity := capacityOf(p, blockBase, bin)

	// When both the old and new sizes span whole pages, resize in place:
	// shrinking returns the trailing pages to BFree, growing claims trailing
	// BFree pages (spec.md §4.5). Sentinel mode takes the generic keep/copy
	// paths below instead, since in-place page surgery would strand the
	// trailing sentinel byte mid-block.
	if bin == BPage && rawNew > MaxSmallSize && !h.cfg.Sentinel {
		headPn := p.pageIndex(blockBase)
		curPages := int(p.bPageOffsets[headPn])
		newPages := int(pagesForBytes(rawNew))
		switch {
		case newPages == curPages:
			return addr, nil
		case newPages < curPages:
			if !reserveOnly {
				p.shrinkRun(headPn, newPages)
				h.invalidateCaches()
			}
			return addr, nil
		default:
			if p.claimTrailingFree(headPn, newPages-curPages, newPages-curPages) > 0 {
				h.invalidateCaches()
				return addr, nil
			}
		}
	}
	if rawNew <= capacity && (reserveOnly || capacity <= 2*rawNew) {
		// Keep the block in place unless it is more than twice the new size
		// (old > 2*new triggers a shrink-by-copy, per the grow/shrink
		// heuristic in spec.md §4.5).
		if h.cfg.Sentinel && !reserveOnly {
			p.writeSentinel(blockBase, newSize)
		}
		return addr, nil
	}

	attr := p.getAttrAt(p.bitIndex(blockBase))
	newAddr, err := h.allocCore(newSize, attr, false)
	if err != nil {
		return 0, err
	}
	newP := h.pools.findPool(h.rawBase(newAddr))
	oldUserSize := capacity
	if h.cfg.Sentinel {
		if sz, ok := p.checkSentinel(blockBase); ok {
			oldUserSize = sz
		}
	}
	n := oldUserSize
	if newSize < n {
		n = newSize
	}
	copy(newP.bytesAt(newAddr, int(n)), p.bytesAt(addr, int(n)))
	h.finalizers.clear(blockBase)
	h.freeAddr(blockBase)
	return newAddr, nil
}

func (h *Heap) rawBase(userAddr uintptr) uintptr {
	if h.cfg.Sentinel {
		return sentinelBlockBase(userAddr)
	}
	return userAddr
}

// Extend attempts to grow the large block at addr in place by claiming
// trailing B_FREE pages, without moving it (spec.md §4.5's
// extend(p, minsize, maxsize)). minSize and maxSize give the minimum and
// maximum number of additional bytes wanted; Extend probes up to
// ⌈maxSize/PageSize⌉ trailing pages and claims as many of them as are
// free, so long as at least ⌈minSize/PageSize⌉ are available. It returns
// the number of bytes actually gained, or 0 (leaving the block unchanged)
// if even the minimum could not be satisfied. Only large blocks can be
// extended; sentinel mode disables it entirely (spec.md §6).
func (h *Heap) Extend(addr uintptr, minSize, maxSize uintptr) (uintptr, error) {
	if err := h.enter(); err != nil {
		return 0, err
	}
	defer h.leave()
	if h.cfg.Sentinel {
		return 0, nil
	}
	p, blockBase, bin, ok := h.blockInfo(addr)
	if !ok {
		return 0, fmt.Errorf("gc: extend of unknown pointer %#x: %w", addr, ErrInvalidMemoryOperation)
	}
	if bin != BPage {
		return 0, nil
	}
	minPages := int(pagesForBytes(minSize))
	maxPages := int(pagesForBytes(maxSize))
	if maxPages < minPages {
		maxPages = minPages
	}
	claimed := p.claimTrailingFree(p.pageIndex(blockBase), minPages, maxPages)
	if claimed == 0 {
		return 0, nil
	}
	h.invalidateCaches()
	return uintptr(claimed) * PageSize, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Introspection
// ───────────────────────────────────────────────────────────────────────────

// AddrOf resolves interior to the base address of the allocation containing
// it, or reports false if interior does not fall inside any live block.
func (h *Heap) AddrOf(interior uintptr) (uintptr, bool) {
	if err := h.enter(); err != nil {
		return 0, false
	}
	defer h.leave()
	if h.addrCache.valid && h.addrCache.query == interior {
		return h.addrCache.base, h.addrCache.ok
	}
	base, ok := h.addrOfLocked(interior)
	h.addrCache = addrCacheEntry{valid: true, query: interior, base: base, ok: ok}
	return base, ok
}

func (h *Heap) addrOfLocked(interior uintptr) (uintptr, bool) {
	p := h.pools.findPool(interior)
	if p == nil {
		return 0, false
	}
	pn := p.pageIndex(interior)
	bin := p.pagetable[pn]
	if bin == BFree {
		return 0, false
	}
	var base uintptr
	if bin == BPage || bin == BPagePlus {
		head := p.largeHeadPage(pn)
		base = p.pageAddr(head)
	} else {
		objSize := uintptr(SizeOfBin(bin))
		pageBase := p.pageAddr(pn)
		base = pageBase + ((interior-pageBase)/objSize)*objSize
		if p.freebits.Test(p.bitIndex(base)) {
			return 0, false
		}
	}
	if h.cfg.Sentinel {
		return sentinelUserPtr(base), true
	}
	return base, true
}

// SizeOf returns the live, user-visible size of the block containing addr.
func (h *Heap) SizeOf(addr uintptr) (uintptr, bool) {
	if err := h.enter(); err != nil {
		return 0, false
	}
	defer h.leave()
	if h.szCache.valid && h.szCache.addr == addr {
		return h.szCache.size, h.szCache.ok
	}
	size, ok := h.sizeOfLocked(addr)
	h.szCache = sizeCacheEntry{valid: true, addr: addr, size: size, ok: ok}
	return size, ok
}

func (h *Heap) sizeOfLocked(addr uintptr) (uintptr, bool) {
	p, blockBase, bin, ok := h.blockInfo(addr)
	if !ok {
		return 0, false
	}
	if h.cfg.Sentinel {
		if sz, ok := p.checkSentinel(blockBase); ok {
			return sz, true
		}
		return 0, false
	}
	return capacityOf(p, blockBase, bin), true
}

// Query reports everything the collector currently knows about the block
// containing addr. Like AddrOf/SizeOf, repeated probes of the same pointer
// are short-circuited by a one-entry cache (spec.md §4.5/§9).
func (h *Heap) Query(addr uintptr) (BlkInfo, bool) {
	if err := h.enter(); err != nil {
		return BlkInfo{}, false
	}
	defer h.leave()
	if h.infoCache.valid && h.infoCache.addr == addr {
		return h.infoCache.info, h.infoCache.ok
	}
	info, ok := h.queryLocked(addr)
	h.infoCache = infoCacheEntry{valid: true, addr: addr, info: info, ok: ok}
	return info, ok
}

func (h *Heap) queryLocked(addr uintptr) (BlkInfo, bool) {
	p, blockBase, bin, ok := h.blockInfo(addr)
	if !ok {
		return BlkInfo{}, false
	}
	size := capacityOf(p, blockBase, bin)
	if h.cfg.Sentinel {
		if sz, ok := p.checkSentinel(blockBase); ok {
			size = sz
		}
	}
	userBase := blockBase
	if h.cfg.Sentinel {
		userBase = sentinelUserPtr(blockBase)
	}
	return BlkInfo{
		Base: userBase,
		Size: size,
		Bin:  bin,
		Attr: p.getAttrAt(p.bitIndex(blockBase)),
	}, true
}

// Check is Query's boolean-only counterpart: a cheap liveness/bounds probe
// for callers that only need a yes/no answer, e.g. assertions in test code.
// In sentinel mode it additionally reports corruption as "not ok".
func (h *Heap) Check(addr uintptr) bool {
	if err := h.enter(); err != nil {
		return false
	}
	defer h.leave()
	p, blockBase, _, ok := h.blockInfo(addr)
	if !ok {
		return false
	}
	if h.cfg.Sentinel {
		_, sentinelOK := p.checkSentinel(blockBase)
		return sentinelOK
	}
	return true
}

// GetAttr returns the attribute bits set on the block containing addr.
func (h *Heap) GetAttr(addr uintptr) (Attr, error) {
	if err := h.enter(); err != nil {
		return 0, err
	}
	defer h.leave()
	p, blockBase, _, ok := h.blockInfo(addr)
	if !ok {
		return 0, fmt.Errorf("gc: getattr of unknown pointer %#x: %w", addr, ErrInvalidMemoryOperation)
	}
	return p.getAttrAt(p.bitIndex(blockBase)), nil
}

// SetAttr sets every bit in mask on the block containing addr.
func (h *Heap) SetAttr(addr uintptr, mask Attr) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.leave()
	p, blockBase, _, ok := h.blockInfo(addr)
	if !ok {
		return fmt.Errorf("gc: setattr of unknown pointer %#x: %w", addr, ErrInvalidMemoryOperation)
	}
	p.setAttrAt(p.bitIndex(blockBase), mask)
	h.infoCache.valid = false
	return nil
}

// ClrAttr clears every bit in mask on the block containing addr.
func (h *Heap) ClrAttr(addr uintptr, mask Attr) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.leave()
	p, blockBase, _, ok := h.blockInfo(addr)
	if !ok {
		return fmt.Errorf("gc: clrattr of unknown pointer %#x: %w", addr, ErrInvalidMemoryOperation)
	}
	p.clrAttrAt(p.bitIndex(blockBase), mask)
	if mask&AttrFinalize != 0 {
		h.finalizers.clear(blockBase)
	}
	h.infoCache.valid = false
	return nil
}

// SetFinalizer registers fn to run when the block containing addr is
// reclaimed, and sets AttrFinalize on it.
func (h *Heap) SetFinalizer(addr uintptr, fn FinalizerFunc) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.leave()
	p, blockBase, _, ok := h.blockInfo(addr)
	if !ok {
		return fmt.Errorf("gc: setfinalizer on unknown pointer %#x: %w", addr, ErrInvalidMemoryOperation)
	}
	p.setAttrAt(p.bitIndex(blockBase), AttrFinalize)
	h.finalizers.set(blockBase, fn)
	h.infoCache.valid = false
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Roots and ranges
// ───────────────────────────────────────────────────────────────────────────

// AddRoot registers a single conservative root pointer.
func (h *Heap) AddRoot(p uintptr) {
	if err := h.enter(); err != nil {
		return
	}
	defer h.leave()
	h.roots.add(p)
}

// RemoveRoot unregisters a previously added root pointer.
func (h *Heap) RemoveRoot(p uintptr) bool {
	if err := h.enter(); err != nil {
		return false
	}
	defer h.leave()
	return h.roots.remove(p)
}

// RootIter calls fn once for every currently registered root.
func (h *Heap) RootIter(fn func(uintptr)) {
	if err := h.enter(); err != nil {
		return
	}
	defer h.leave()
	h.roots.forEach(fn)
}

// AddRange registers [p, p+sz) as a conservatively scanned memory range.
func (h *Heap) AddRange(p uintptr, sz uintptr) {
	if err := h.enter(); err != nil {
		return
	}
	defer h.leave()
	h.ranges.add(p, sz)
}

// RemoveRange unregisters the range starting at p. An unknown p is silently
// ignored (spec.md §9 Open Question).
func (h *Heap) RemoveRange(p uintptr) bool {
	if err := h.enter(); err != nil {
		return false
	}
	defer h.leave()
	return h.ranges.remove(p)
}

// RangeIter calls fn once for every currently registered range.
func (h *Heap) RangeIter(fn func(Range)) {
	if err := h.enter(); err != nil {
		return
	}
	defer h.leave()
	h.ranges.forEach(fn)
}

// ───────────────────────────────────────────────────────────────────────────
// Collection
// ───────────────────────────────────────────────────────────────────────────

// FullCollect runs prep/mark/sweep/recover, scanning every registered root,
// range, and suspended mutator stack.
func (h *Heap) FullCollect() (CycleStats, error) {
	if err := h.enter(); err != nil {
		return CycleStats{}, err
	}
	defer h.leave()
	return h.fullCollectLocked(false), nil
}

// FullCollectNoStack is FullCollect without suspending or scanning
// registered mutators, for callers certain no live reference is reachable
// only from a goroutine stack right now.
func (h *Heap) FullCollectNoStack() (CycleStats, error) {
	if err := h.enter(); err != nil {
		return CycleStats{}, err
	}
	defer h.leave()
	return h.fullCollectLocked(true), nil
}

// Minimize reclaims fully-free small-pool pages back to BFree and unmaps
// any pool left entirely empty, trading allocator throughput for a smaller
// resident footprint.
func (h *Heap) Minimize() error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.leave()
	h.minimizeLocked()
	return nil
}

// GetStats reports the heap's current shape.
func (h *Heap) GetStats() Stats {
	if err := h.enter(); err != nil {
		return Stats{}
	}
	defer h.leave()
	st := h.stats
	st.PoolSize, st.FreePages, st.LargePages = h.computeSizeStats()
	var freeListBytes uint64
	for bin := 0; bin < numSmallBins; bin++ {
		sz := uint64(SizeOfBin(Bin(bin)))
		addr := h.bucket[bin]
		for addr != 0 {
			p := h.pools.findPool(addr)
			if p == nil {
				break
			}
			freeListBytes += sz
			addr = p.readNext(addr)
		}
	}
	st.FreeListSize = freeListBytes
	var used uint64
	for _, p := range h.smallPools {
		used += uint64(p.npages-p.freepages) * PageSize
	}
	if used >= freeListBytes {
		used -= freeListBytes
	}
	st.UsedSize = used
	return st
}

// ───────────────────────────────────────────────────────────────────────────
// Consistency checking
// ───────────────────────────────────────────────────────────────────────────
//
// CheckAll is the Check-family's pool-wide counterpart, grounded on
// pager/inspect.go's InspectPage/VerifyPageCRC split: Query/Check above are
// the cheap non-mutating per-pointer probe, CheckAll is the expensive full
// walk. It never panics on a corrupted pagetable; like GCResult.Errors in
// pager/gc.go, it collects every problem found and returns them all instead
// of aborting at the first one.

// CheckAll walks every pool's page table, bitsets, and free lists looking
// for internal inconsistencies, returning a description of each one found.
// A nil/empty result means the heap's bookkeeping is self-consistent.
func (h *Heap) CheckAll() []string {
	if err := h.enter(); err != nil {
		return []string{err.Error()}
	}
	defer h.leave()

	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	h.pools.forEach(func(p *Pool) {
		freeCount := 0
		for pn := 0; pn < p.npages; pn++ {
			switch p.pagetable[pn] {
			case BFree:
				freeCount++
			case BPage:
				run := int(p.bPageOffsets[pn])
				if run <= 0 || pn+run > p.npages {
					report("pool %#x: BPage at page %d has invalid run length %d", p.baseAddr, pn, run)
					break
				}
				for k := 1; k < run; k++ {
					if p.pagetable[pn+k] != BPagePlus {
						report("pool %#x: BPage run at page %d expected BPagePlus at %d, found %v", p.baseAddr, pn, pn+k, p.pagetable[pn+k])
						continue
					}
					if int(p.bPageOffsets[pn+k]) != k {
						report("pool %#x: BPagePlus at page %d has back-offset %d, want %d", p.baseAddr, pn+k, p.bPageOffsets[pn+k], k)
					}
				}
			case BPagePlus:
				head := p.largeHeadPage(pn)
				if head < 0 || head >= pn || p.pagetable[head] != BPage {
					report("pool %#x: BPagePlus at page %d does not resolve to a BPage head", p.baseAddr, pn)
				}
			default:
				if !p.isLarge && p.freebits != nil && p.freebits.Test(p.bitIndex(p.pageAddr(pn))) {
					// a free-listed small slot living on a small-bin page is expected
				}
			}
		}
		if freeCount != p.freepages {
			report("pool %#x: freepages=%d but pagetable has %d BFree entries", p.baseAddr, p.freepages, freeCount)
		}
	})

	for bin := 0; bin < numSmallBins; bin++ {
		seen := map[uintptr]bool{}
		addr := h.bucket[bin]
		for addr != 0 {
			if seen[addr] {
				report("bucket %d: cycle detected at %#x", bin, addr)
				break
			}
			seen[addr] = true
			p := h.pools.findPool(addr)
			if p == nil {
				report("bucket %d: link %#x does not belong to any pool", bin, addr)
				break
			}
			pn := p.pageIndex(addr)
			if p.pagetable[pn] != Bin(bin) {
				report("bucket %d: link %#x sits on a page classified %v", bin, addr, p.pagetable[pn])
			}
			addr = p.readNext(addr)
		}
	}
	return problems
}
