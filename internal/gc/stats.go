package gc

import "github.com/google/uuid"

// Stats reports the current heap shape — spec.md §6 "Statistics", plus the
// cumulative counters SPEC_FULL.md adds (Cycles, TotalReclaimed), the
// natural "since-start" counterparts of a single collection's GCResult
// (grounded on the teacher's pager.GCResult).
type Stats struct {
	PoolSize       uint64 // total bytes currently mapped across all pools
	UsedSize       uint64 // bytes on small-bin pages, minus free-listed bytes
	FreeListSize   uint64 // bytes currently on small free lists
	FreePages      uint64 // free pages across all pools
	LargePages     uint64 // pages occupied by large blocks (BPage heads and their BPagePlus continuations)
	Cycles         uint64 // number of completed fullCollect/fullCollectNoStack cycles
	TotalReclaimed uint64 // cumulative pages reclaimed across all cycles
}

// CycleStats describes a single completed collection, grounded on the
// teacher's pager.GCResult shape (TotalPages/ReachablePages/Reclaimed) and
// tagged with a UUID the way internal/storage/uuid_helpers.go's
// ParseUUID/UUIDToBytes helpers are used elsewhere in the teacher tree to
// hand out correlation identifiers.
type CycleStats struct {
	ID             uuid.UUID
	NoStack        bool
	PagesReclaimed int
	PoolsVisited   int
}

func newCycleStats(noStack bool) CycleStats {
	return CycleStats{ID: uuid.New(), NoStack: noStack}
}
