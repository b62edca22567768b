package occupancy_test

import (
	"testing"

	"github.com/loamdb/loam/internal/occupancy"
	"github.com/loamdb/loam/internal/pagepool"
)

func Test_FromHeaderBytes_Yields_All_Clear_When_Buffer_Zeroed(t *testing.T) {
	t.Parallel()

	bm := occupancy.FromHeaderBytes(make([]byte, pagepool.PageSize), 10)

	if got := bm.Len(); got != 10 {
		t.Fatalf("Len() = %d, want 10", got)
	}

	if got := bm.Count(); got != 0 {
		t.Fatalf("Count() = %d, want 0", got)
	}

	for i := range uint64(10) {
		if bm.Get(i) {
			t.Fatalf("Get(%d) = true on zeroed buffer", i)
		}
	}
}

func Test_Set_Get_Clear_Round_Trip(t *testing.T) {
	t.Parallel()

	const buckets = 77

	bm := occupancy.FromHeaderBytes(make([]byte, pagepool.PageSize), buckets)

	for i := uint64(0); i < buckets; i += 3 {
		bm.Set(i)
	}

	var want uint64

	for i := range uint64(buckets) {
		occupied := i%3 == 0
		if bm.Get(i) != occupied {
			t.Fatalf("Get(%d) = %v, want %v", i, bm.Get(i), occupied)
		}

		if occupied {
			want++
		}
	}

	if got := bm.Count(); got != want {
		t.Fatalf("Count() = %d, want %d", got, want)
	}

	bm.Clear(0)

	if bm.Get(0) {
		t.Fatal("Get(0) = true after Clear")
	}

	if got := bm.Count(); got != want-1 {
		t.Fatalf("Count() after Clear = %d, want %d", got, want-1)
	}
}

func Test_Count_Ignores_Padding_Bits_Beyond_Bucket_Count(t *testing.T) {
	t.Parallel()

	buf := make([]byte, pagepool.PageSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	bm := occupancy.FromHeaderBytes(buf, 10)

	if got := bm.Count(); got != 10 {
		t.Fatalf("Count() = %d, want 10 (padding bits must not count)", got)
	}
}

func Test_HeaderPage_Windows_Tile_The_Buffer(t *testing.T) {
	t.Parallel()

	// Two header pages' worth of bits.
	buf := make([]byte, 2*pagepool.PageSize)
	bm := occupancy.FromHeaderBytes(buf, 2*pagepool.PageSize*8)

	first := bm.HeaderPage(0)
	second := bm.HeaderPage(1)

	if len(first) != pagepool.PageSize || len(second) != pagepool.PageSize {
		t.Fatalf("window lengths = %d, %d, want %d", len(first), len(second), pagepool.PageSize)
	}

	// Windows alias the bitmap storage: a Set in the second page's
	// range must show up in the second window.
	bm.Set(pagepool.PageSize * 8)

	if second[0] != 1 {
		t.Fatalf("second window byte 0 = %#x, want 1", second[0])
	}

	if first[0] != 0 {
		t.Fatalf("first window byte 0 = %#x, want 0", first[0])
	}
}

func Test_Accessors_Panic_When_Index_Out_Of_Range(t *testing.T) {
	t.Parallel()

	bm := occupancy.FromHeaderBytes(make([]byte, pagepool.PageSize), 10)

	assertPanics := func(name string, fn func()) {
		t.Helper()

		defer func() {
			if recover() == nil {
				t.Fatalf("%s did not panic", name)
			}
		}()

		fn()
	}

	assertPanics("Get", func() { bm.Get(10) })
	assertPanics("Set", func() { bm.Set(10) })
	assertPanics("Clear", func() { bm.Clear(10) })
	assertPanics("HeaderPage", func() { bm.HeaderPage(1) })
}
