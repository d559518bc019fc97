package gc

import "testing"

func TestClassOf_Boundaries(t *testing.T) {
	cases := []struct {
		size uintptr
		want Bin
	}{
		{0, B16},
		{1, B16},
		{16, B16},
		{17, B32},
		{64, B64},
		{65, B128},
		{2048, B2048},
		{2049, BPage},
		{1 << 20, BPage},
	}
	for _, c := range cases {
		if got := ClassOf(c.size); got != c.want {
			t.Errorf("ClassOf(%d) = %s, want %s", c.size, got, c.want)
		}
	}
}

func TestSizeOfBin_CoversRequest(t *testing.T) {
	for size := uintptr(0); size <= MaxSmallSize; size++ {
		bin := ClassOf(size)
		if uint32(size) > SizeOfBin(bin) {
			t.Fatalf("bin %s (size %d) cannot hold request of %d bytes", bin, SizeOfBin(bin), size)
		}
	}
}

func TestPagesForBytes(t *testing.T) {
	cases := []struct {
		n    uintptr
		want uintptr
	}{
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{PageSize * 3, 3},
	}
	for _, c := range cases {
		if got := pagesForBytes(c.n); got != c.want {
			t.Errorf("pagesForBytes(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
