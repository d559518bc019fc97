package gc

import "encoding/binary"

// Sentinel mode (spec.md §6, explicitly optional) prefixes every
// allocation with two 8-byte words {userSize, sentinelPreMagic} and
// suffixes it with one sentinelPostMagic byte, checked on Free/Check/SizeOf.
// It is a debug-time compatibility feature the spec allows implementations
// to omit; this module implements it since it's cheap relative to the rest
// of the allocator.
const (
	sentinelPreMagic  uint64 = 0xF4F4F4F4F4F4F4F4
	sentinelPostMagic byte   = 0xF5
	sentinelPreSize          = 16 // two 8-byte words
	sentinelPostSize         = 1
	sentinelOverhead         = sentinelPreSize + sentinelPostSize
)

// sentinelRawSize returns the total bytes that must actually be allocated
// to satisfy a sentinel-mode request for userSize bytes.
func sentinelRawSize(userSize uintptr) uintptr {
	return userSize + sentinelOverhead
}

// writeSentinel stamps the prefix/suffix around a userSize-byte payload
// starting at blockBase (the raw allocation's base address).
func (p *Pool) writeSentinel(blockBase uintptr, userSize uintptr) {
	hdr := p.bytesAt(blockBase, sentinelPreSize)
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(userSize))
	binary.LittleEndian.PutUint64(hdr[8:16], sentinelPreMagic)
	post := p.bytesAt(blockBase+sentinelPreSize+userSize, 1)
	post[0] = sentinelPostMagic
}

// checkSentinel validates the prefix/suffix around the payload at
// blockBase and returns the stored user size. ok is false if either magic
// value has been corrupted.
func (p *Pool) checkSentinel(blockBase uintptr) (userSize uintptr, ok bool) {
	hdr := p.bytesAt(blockBase, sentinelPreSize)
	userSize = uintptr(binary.LittleEndian.Uint64(hdr[0:8]))
	magic := binary.LittleEndian.Uint64(hdr[8:16])
	if magic != sentinelPreMagic {
		return 0, false
	}
	post := p.bytesAt(blockBase+sentinelPreSize+userSize, 1)
	if post[0] != sentinelPostMagic {
		return 0, false
	}
	return userSize, true
}

// sentinelUserPtr returns the address the caller sees for a sentinel-mode
// block whose raw base is blockBase.
func sentinelUserPtr(blockBase uintptr) uintptr { return blockBase + sentinelPreSize }

// sentinelBlockBase is the inverse of sentinelUserPtr.
func sentinelBlockBase(userPtr uintptr) uintptr { return userPtr - sentinelPreSize }
