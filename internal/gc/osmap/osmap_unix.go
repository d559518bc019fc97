//go:build unix

// Package osmap implements the OS page-mapper collaborator spec.md §6
// describes as external: os_mem_map(nbytes) -> base|null and
// os_mem_unmap(base, nbytes) -> 0 on success. There is no teacher analog
// (the teacher talks to a file, never to raw memory); this is grounded
// directly in the spec's own contract, backed by the pack's own indirect
// golang.org/x/sys dependency.
package osmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Map requests an anonymous, page-aligned, zero-filled mapping of nbytes
// bytes from the OS. nbytes must already be a multiple of the page size;
// Map does not round it.
func Map(nbytes int) ([]byte, error) {
	if nbytes <= 0 {
		return nil, fmt.Errorf("osmap: invalid size %d", nbytes)
	}
	b, err := unix.Mmap(-1, 0, nbytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("osmap: mmap %d bytes: %w", nbytes, err)
	}
	return b, nil
}

// Unmap releases a mapping previously returned by Map.
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("osmap: munmap: %w", err)
	}
	return nil
}

// BaseAddr returns the numeric address of the first byte of a mapping, for
// use in conservative-pointer range comparisons. It is only meaningful for
// the lifetime of the backing slice; callers must keep a reference to b
// alive for as long as the address is used.
func BaseAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
