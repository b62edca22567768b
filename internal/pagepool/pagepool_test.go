// Deterministic tests for the page allocator.
//
// Failures mean: pages alias each other, zeroing is broken, or region
// growth does not match the one-region-per-refill contract.

package pagepool_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"unsafe"

	"github.com/loamdb/loam/internal/pagepool"
)

func newPool(t *testing.T) *pagepool.PagePool {
	t.Helper()

	pool := pagepool.NewPagePool()

	t.Cleanup(func() {
		closeErr := pool.Close()
		if closeErr != nil {
			t.Errorf("close pool: %v", closeErr)
		}
	})

	return pool
}

func pageAddr(pool *pagepool.PagePool, page pagepool.Page) uintptr {
	return uintptr(unsafe.Pointer(&pool.Bytes(page)[0]))
}

func Test_AllocZeroed_Returns_All_Zero_Bytes_When_Slot_Was_Dirty(t *testing.T) {
	t.Parallel()

	pool := newPool(t)

	page := pool.AllocZeroed()

	buf := pool.Bytes(page)
	if len(buf) != pagepool.PageSize {
		t.Fatalf("page length = %d, want %d", len(buf), pagepool.PageSize)
	}

	// Dirty the slot, release it, and allocate until the same slot
	// comes back.
	for i := range buf {
		buf[i] = 0xAB
	}

	addr := pageAddr(pool, page)
	pool.Dealloc(page)

	for {
		next := pool.AllocZeroed()
		nextBuf := pool.Bytes(next)

		for i, b := range nextBuf {
			if b != 0 {
				t.Fatalf("byte %d = 0x%02x after AllocZeroed, want 0", i, b)
			}
		}

		if pageAddr(pool, next) == addr {
			return // the dirty slot came back zeroed
		}
	}
}

func Test_Pool_Reserves_Exactly_One_Region_When_Free_List_Empties(t *testing.T) {
	t.Parallel()

	pool := newPool(t)

	if got := pool.NumRegions(); got != 0 {
		t.Fatalf("regions before first alloc = %d, want 0", got)
	}

	first := pool.AllocZeroed()

	if got := pool.NumRegions(); got != 1 {
		t.Fatalf("regions after first alloc = %d, want 1", got)
	}

	if got := pool.FreeLen(); got != pagepool.SlotsPerRegion-1 {
		t.Fatalf("free list after first alloc = %d, want %d", got, pagepool.SlotsPerRegion-1)
	}

	// Drain the region; no further growth may happen on the way.
	held := []pagepool.Page{first}
	for range pagepool.SlotsPerRegion - 1 {
		held = append(held, pool.AllocZeroed())
	}

	if got := pool.NumRegions(); got != 1 {
		t.Fatalf("regions after draining one region = %d, want 1", got)
	}

	// The next allocation crosses into a second region.
	held = append(held, pool.AllocZeroed())

	if got := pool.NumRegions(); got != 2 {
		t.Fatalf("regions after overflow alloc = %d, want 2", got)
	}

	for _, page := range held {
		pool.Dealloc(page)
	}
}

func Test_Live_Pages_Map_To_Distinct_Addresses_When_Allocated(t *testing.T) {
	t.Parallel()

	pool := newPool(t)

	const n = 10_000

	seen := make(map[uintptr]struct{}, n)
	held := make([]pagepool.Page, 0, n)

	for range n {
		page := pool.AllocZeroed()
		held = append(held, page)

		addr := pageAddr(pool, page)
		if _, dup := seen[addr]; dup {
			t.Fatalf("address %#x handed out twice while both pages live", addr)
		}

		seen[addr] = struct{}{}
	}

	for _, page := range held {
		pool.Dealloc(page)
	}
}

func Test_Dealloc_Makes_Slot_Available_For_Reuse(t *testing.T) {
	t.Parallel()

	pool := newPool(t)

	page := pool.AllocZeroed()
	free := pool.FreeLen()

	pool.Dealloc(page)

	if got := pool.FreeLen(); got != free+1 {
		t.Fatalf("free list after dealloc = %d, want %d", got, free+1)
	}
}

func Test_Bytes_Panics_When_Handle_Not_Covered_By_Pool(t *testing.T) {
	t.Parallel()

	// A fresh pool has zero regions, so any handle is out of range.
	// This models both a foreign-pool handle and a closed pool.
	pool := newPool(t)

	other := newPool(t)
	foreign := other.AllocZeroed()

	defer func() {
		if recover() == nil {
			t.Fatal("Bytes on a pool with no regions did not panic")
		}
	}()

	_ = pool.Bytes(foreign)
}

func Test_Alloc_Panics_When_Pool_Closed(t *testing.T) {
	t.Parallel()

	pool := pagepool.NewPagePool()
	_ = pool.AllocZeroed()

	closeErr := pool.Close()
	if closeErr != nil {
		t.Fatalf("close: %v", closeErr)
	}

	if closeErr = pool.Close(); closeErr != nil {
		t.Fatalf("second close: %v", closeErr)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("AllocZeroed on closed pool did not panic")
		}
	}()

	_ = pool.AllocZeroed()
}

// Seeded alloc/dealloc model: every held page keeps a distinct address
// and retains the pattern written to it until released.
func Test_Pool_Matches_Model_When_Seeded_Random_Ops_Applied(t *testing.T) {
	t.Parallel()

	seeds := 8
	if testing.Short() {
		seeds = 2
	}

	for seed := range seeds {
		rng := rand.New(rand.NewPCG(uint64(seed+1), uint64(seed+1)))

		t.Run(fmt.Sprintf("seed=%d", seed+1), func(t *testing.T) {
			t.Parallel()

			pool := newPool(t)

			type heldPage struct {
				page    pagepool.Page
				pattern byte
			}

			var held []heldPage

			const ops = 4096

			for op := range ops {
				allocate := len(held) == 0 || rng.IntN(100) < 60

				if allocate {
					page := pool.AllocZeroed()
					pattern := byte(op)

					buf := pool.Bytes(page)
					for i := range buf {
						buf[i] = pattern
					}

					held = append(held, heldPage{page: page, pattern: pattern})

					continue
				}

				// Release a random held page, verifying its pattern
				// survived every interleaved operation.
				pick := rng.IntN(len(held))
				h := held[pick]

				buf := pool.Bytes(h.page)
				for i, b := range buf {
					if b != h.pattern {
						t.Fatalf("op %d: byte %d = 0x%02x, want 0x%02x (page content changed while held)",
							op, i, b, h.pattern)
					}
				}

				pool.Dealloc(h.page)

				held[pick] = held[len(held)-1]
				held = held[:len(held)-1]
			}

			// Cross-check address uniqueness of the survivors.
			seen := make(map[uintptr]struct{}, len(held))
			for _, h := range held {
				addr := pageAddr(pool, h.page)
				if _, dup := seen[addr]; dup {
					t.Fatalf("address %#x aliased by two held pages", addr)
				}

				seen[addr] = struct{}{}
			}
		})
	}
}
