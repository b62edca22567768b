package pagepool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the size of every page handed out by the pool.
//
// The whole store agrees on this one value: it is both the unit of the
// on-disk hash-table layout and the alignment granted to I/O buffers.
const PageSize = 4096

// A region is 256 MiB. The choice is mostly arbitrary, but:
//
//  1. it is big enough that we reserve memory rarely,
//  2. it is a multiple of 2 MiB, the huge-page size on x86-64 and
//     aarch64,
//  3. it holds exactly 65536 pages, addressable with 16 bits.
//
// With 16 bits for the slot, the remaining 16 bits of a 32-bit handle
// address regions. We cap regions at 4096 for a 1 TiB ceiling, far
// beyond realistic working sets, trading address space for handle
// compactness.
const (
	regionSlotBits = 16
	regionSlotMask = 1<<regionSlotBits - 1
	slotsPerRegion = 1 << regionSlotBits
	regionByteSize = slotsPerRegion * PageSize
	maxRegions     = 4096
)

// pageIndex packs a region id and a slot id into one 32-bit value.
// High 16 bits region, low 16 bits slot.
type pageIndex uint32

func makePageIndex(region, slot uint32) pageIndex {
	if region >= maxRegions {
		panic(fmt.Sprintf("pagepool: region %d out of range", region))
	}

	if slot >= slotsPerRegion {
		panic(fmt.Sprintf("pagepool: slot %d out of range", slot))
	}

	return pageIndex(region<<regionSlotBits | slot)
}

func (ix pageIndex) region() uint32 { return uint32(ix) >> regionSlotBits }

func (ix pageIndex) slot() uint32 { return uint32(ix) & regionSlotMask }

// Page is a non-owning, copyable handle to one pool page.
//
// A Page is valid only while its originating pool is alive and the page
// has not been released. Slots are reused after release with no
// generation tag, so a stale handle aliases a reallocated page without
// any detectable signal. See the package documentation.
type Page struct {
	ix pageIndex
}

// PagePool allocates and recycles fixed-size pages.
//
// Share a single *PagePool per store instance; the zero value is not
// usable, construct with [NewPagePool].
type PagePool struct {
	// regions holds the base address of every reserved region.
	// Entries are populated lazily, published with a release-ordered
	// increment of nRegions, and immutable once set. A goroutine that
	// observes nRegions >= i+1 is guaranteed to see a fully
	// initialized pointer in regions[i], so address resolution needs
	// no lock.
	regions  [maxRegions]atomic.Pointer[byte]
	nRegions atomic.Uint32

	mu       sync.Mutex // guards free, mappings, closed
	free     []Page
	mappings [][]byte
	closed   bool
}

// NewPagePool returns a new, empty pool. No memory is reserved until
// the first allocation.
func NewPagePool() *PagePool {
	return &PagePool{
		// Enough free-list capacity for four regions' worth of pages
		// before the slice ever reallocates.
		free: make([]Page, 0, 4*slotsPerRegion),
	}
}

// AllocZeroed pops a page from the free list, reserving a new region
// first if the list is empty. The returned page's bytes are always zero
// at the moment of return; callers never need to clear pages.
//
// Failure to reserve memory is fatal and panics: exhaustion at this
// layer is unrecoverable, not reportable, because every other operation
// relies on the non-nil-region invariant.
func (p *PagePool) AllocZeroed() Page {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		panic("pagepool: allocate from closed pool")
	}

	if len(p.free) == 0 {
		p.grow()
	}

	page := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	p.mu.Unlock()

	// A fresh region is already zero, but a recycled slot is not.
	// One unconditional memset keeps a single code path.
	clear(p.Bytes(page))

	return page
}

// Dealloc returns a page to the free list.
//
// No use-after-free or double-free detection is performed. The caller
// must guarantee that no references to the page remain and that the
// same handle is not released twice.
func (p *PagePool) Dealloc(page Page) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		panic("pagepool: release into closed pool")
	}

	p.free = append(p.free, page)
}

// AllocFatPage allocates a zeroed page wrapped in an owning [FatPage].
func (p *PagePool) AllocFatPage() *FatPage {
	return &FatPage{pool: p, page: p.AllocZeroed()}
}

// Bytes resolves a page handle to its backing memory.
//
// Resolution is lock-free: an acquire load of the region count bounds
// the region id, and the base pointer at that index is immutable once
// published. Bytes panics if the region id is not covered by this
// pool, which catches handles from a different pool or a pool that was
// closed; it cannot catch a released-and-reused slot.
func (p *PagePool) Bytes(page Page) []byte {
	region := page.ix.region()

	n := p.nRegions.Load()
	if region >= n {
		panic(fmt.Sprintf("pagepool: page region %d out of range (%d regions reserved)", region, n))
	}

	base := p.regions[region].Load()

	ptr := unsafe.Add(unsafe.Pointer(base), uintptr(page.ix.slot())*PageSize)

	return unsafe.Slice((*byte)(ptr), PageSize)
}

// grow reserves exactly one new region and enqueues all of its slots.
// Called with p.mu held and an empty free list, so a single "free list
// empty" event reserves a single region even under concurrent
// allocation attempts.
func (p *PagePool) grow() {
	n := p.nRegions.Load()
	if n >= maxRegions {
		panic(fmt.Sprintf("pagepool: region limit %d reached (%d GiB reserved)", maxRegions, uint64(n)*regionByteSize>>30))
	}

	data, err := unix.Mmap(-1, 0, regionByteSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		// Resource-exhaustion fatal: continuing would break the
		// allocator's invariants for every caller.
		panic(fmt.Sprintf("pagepool: reserve region %d: %v", n, err))
	}

	p.mappings = append(p.mappings, data)

	// Publish the base pointer before bumping the count. The store
	// must be visible to any goroutine that observes the new count.
	p.regions[n].Store(&data[0])
	p.nRegions.Add(1)

	for slot := uint32(0); slot < slotsPerRegion; slot++ {
		p.free = append(p.free, Page{ix: makePageIndex(n, slot)})
	}
}

// Close unmaps every reserved region. The pool and every page handle it
// ever produced are unusable afterwards.
//
// Regions are never released before Close: once reserved they live for
// the pool's lifetime.
func (p *PagePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.free = nil

	// Dropping the count first turns any straggling Bytes call into a
	// bounds panic instead of a use-after-unmap.
	p.nRegions.Store(0)

	for i, m := range p.mappings {
		err := unix.Munmap(m)
		if err != nil {
			return fmt.Errorf("unmap region %d: %w", i, err)
		}
	}

	p.mappings = nil

	return nil
}
