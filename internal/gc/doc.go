// Package gc implements a conservative, stop-the-world, mark-and-sweep
// garbage collector suitable for serving as the heap manager of a
// long-running Go process that needs manual, non-Go-GC-managed storage for
// conservatively-scanned objects (e.g. an embedded interpreter's value
// heap).
//
// The heap is organized as a set of page-aligned pools (internal/gc/pool.go).
// Small allocations (<=2048 bytes) are served from size-class free lists
// threaded through pool pages; large allocations occupy whole pages
// directly. Collection runs in four phases — prep, mark, sweep, recover —
// driven synchronously from the allocation path when free lists run dry.
//
// There is no generational or incremental collection, no compaction, and no
// write barriers: every cycle scans the whole heap from the registered root
// set and mutator stacks.
package gc
