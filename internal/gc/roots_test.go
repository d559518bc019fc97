package gc

import "testing"

func TestRootSet_RemovePreservesOrder(t *testing.T) {
	r := newRootSet()
	r.add(0x1000)
	r.add(0x2000)
	r.add(0x3000)

	if !r.remove(0x2000) {
		t.Fatal("remove should report the root was found")
	}
	var got []uintptr
	r.forEach(func(p uintptr) { got = append(got, p) })
	want := []uintptr{0x1000, 0x3000}
	if len(got) != len(want) {
		t.Fatalf("after remove, %d roots remain, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("root %d = %#x, want %#x (order must be preserved)", i, got[i], want[i])
		}
	}
	if r.remove(0x2000) {
		t.Fatal("removing an absent root should report false")
	}
}

func TestRangeSet_UnknownRemoveIsIgnored(t *testing.T) {
	r := newRangeSet()
	r.add(0x1000, 64)
	if r.remove(0x9999) {
		t.Fatal("removing an unregistered range should be a silent no-op")
	}
	count := 0
	r.forEach(func(Range) { count++ })
	if count != 1 {
		t.Fatalf("range count = %d after no-op remove, want 1", count)
	}
	if !r.remove(0x1000) {
		t.Fatal("removing a registered range should report true")
	}
}
