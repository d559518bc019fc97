package gc

import (
	"testing"
	"unsafe"
)

func TestMutator_SafepointReturnsWhenNoCycleRunning(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	var window [4]uintptr
	lo := uintptr(unsafe.Pointer(&window[0]))
	m := h.AddMutator(lo, lo+uintptr(len(window))*unsafe.Sizeof(uintptr(0)))
	defer h.RemoveMutator(m)

	// No collection is in progress, so this must not block.
	m.Safepoint()
}

func TestMutator_WindowIsScannedDuringCollection(t *testing.T) {
	h, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	target, err := h.Malloc(64, 0)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	var window [1]uintptr
	window[0] = target
	lo := uintptr(unsafe.Pointer(&window[0]))
	m := h.AddMutator(lo, lo+unsafe.Sizeof(uintptr(0)))

	if _, err := h.FullCollect(); err != nil {
		t.Fatalf("FullCollect: %v", err)
	}
	if !h.Check(target) {
		t.Fatal("object referenced only from a mutator window should survive")
	}

	h.RemoveMutator(m)
	window[0] = 0
	if _, err := h.FullCollect(); err != nil {
		t.Fatalf("FullCollect (second): %v", err)
	}
	if h.Check(target) {
		t.Fatal("object should be reclaimed once its mutator window is unregistered")
	}

	// FullCollectNoStack never consults mutator windows at all.
	other, err := h.Malloc(64, 0)
	if err != nil {
		t.Fatalf("Malloc(other): %v", err)
	}
	window[0] = other
	m = h.AddMutator(lo, lo+unsafe.Sizeof(uintptr(0)))
	defer h.RemoveMutator(m)
	if _, err := h.FullCollectNoStack(); err != nil {
		t.Fatalf("FullCollectNoStack: %v", err)
	}
	if h.Check(other) {
		t.Fatal("FullCollectNoStack should skip mutator windows, reclaiming the object")
	}
}
