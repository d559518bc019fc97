package gc

// Attr is a bitmask of per-object attribute bits — spec.md §4.7.
type Attr uint8

const (
	// AttrFinalize: invoke the finalizer callback at sweep before
	// reclamation.
	AttrFinalize Attr = 1 << iota
	// AttrNoScan: the object's body contains no pointers; skip mark
	// recursion into it.
	AttrNoScan
	// AttrAppendable: informational for the allocator's caller, carried
	// across realloc.
	AttrAppendable
	// AttrNoInterior: only interior-base pointers (i.e. exactly the block's
	// base address) are honored for reachability. Large pools only.
	AttrNoInterior
)

// attrBitset returns the Bitset backing a given attribute, lazily
// allocating it on first use (spec.md: "lazily allocated").
func (p *Pool) attrBitset(a Attr) *Bitset {
	switch a {
	case AttrFinalize:
		return p.ensureBitset(&p.finals)
	case AttrNoScan:
		return p.ensureBitset(&p.noscan)
	case AttrAppendable:
		return p.ensureBitset(&p.appendable)
	case AttrNoInterior:
		return p.ensureBitset(&p.nointerior)
	default:
		return nil
	}
}

// testAttrBitset reports whether bitset b (if allocated) has bi set; an
// unallocated bitset means "never set", matching the bits' zero-value
// semantics.
func testAttrBitset(b *Bitset, bi int) bool {
	return b != nil && b.Test(bi)
}

// getAttrAt returns the full attribute mask set on the object whose bit
// index is bi within pool p.
func (p *Pool) getAttrAt(bi int) Attr {
	var a Attr
	if testAttrBitset(p.finals, bi) {
		a |= AttrFinalize
	}
	if testAttrBitset(p.noscan, bi) {
		a |= AttrNoScan
	}
	if testAttrBitset(p.appendable, bi) {
		a |= AttrAppendable
	}
	if testAttrBitset(p.nointerior, bi) {
		a |= AttrNoInterior
	}
	return a
}

// setAttrAt sets every bit named in mask on the object at bit index bi.
func (p *Pool) setAttrAt(bi int, mask Attr) {
	if mask&AttrFinalize != 0 {
		p.attrBitset(AttrFinalize).Set(bi)
	}
	if mask&AttrNoScan != 0 {
		p.attrBitset(AttrNoScan).Set(bi)
	}
	if mask&AttrAppendable != 0 {
		p.attrBitset(AttrAppendable).Set(bi)
	}
	if mask&AttrNoInterior != 0 {
		p.attrBitset(AttrNoInterior).Set(bi)
	}
}

// clrAttrAt clears every bit named in mask on the object at bit index bi.
// Bitsets that were never allocated are left untouched (there is nothing to
// clear).
func (p *Pool) clrAttrAt(bi int, mask Attr) {
	if mask&AttrFinalize != 0 && p.finals != nil {
		p.finals.Clear(bi)
	}
	if mask&AttrNoScan != 0 && p.noscan != nil {
		p.noscan.Clear(bi)
	}
	if mask&AttrAppendable != 0 && p.appendable != nil {
		p.appendable.Clear(bi)
	}
	if mask&AttrNoInterior != 0 && p.nointerior != nil {
		p.nointerior.Clear(bi)
	}
}

// clrAllAttrsAt clears every attribute bit for the object at bi, used by
// free and by sweep's reclamation path.
func (p *Pool) clrAllAttrsAt(bi int) {
	p.clrAttrAt(bi, AttrFinalize|AttrNoScan|AttrAppendable|AttrNoInterior)
}

// clrAttrsWordAt clears the bits named in mask from every allocated
// attribute bitset's word w in one write per bitset, so small-pool sweep can
// batch the attribute clearing for a whole word of reclaimed slots.
func (p *Pool) clrAttrsWordAt(w int, mask uint64) {
	if p.finals != nil {
		p.finals.ClearWordBits(w, mask)
	}
	if p.noscan != nil {
		p.noscan.ClearWordBits(w, mask)
	}
	if p.appendable != nil {
		p.appendable.ClearWordBits(w, mask)
	}
	if p.nointerior != nil {
		p.nointerior.ClearWordBits(w, mask)
	}
}
