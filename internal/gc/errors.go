package gc

import "errors"

// ErrOutOfMemory is returned when the allocator's retry ladder cannot
// satisfy a request: either no new pool could be mapped from the OS (the
// mapper's error is wrapped alongside it), or the request still does not fit
// after a collection and a pool growth.
var ErrOutOfMemory = errors.New("gc: out of memory")

// ErrInvalidMemoryOperation is returned when an allocator, free, extend,
// reserve, or realloc entry point is reached while a collection is already
// running — including, notably, a reentrant call made from a finalizer.
var ErrInvalidMemoryOperation = errors.New("gc: invalid memory operation")
