// Package pagepool provides a slab allocator for fixed-size I/O pages.
//
// Memory is reserved lazily in large anonymous mappings ("regions") and
// sliced into 4 KiB pages. Pages are handed out as compact 32-bit
// handles and recycled through a free list, so a hot read/write path
// can allocate and release buffers without touching the Go heap.
//
// Because every region is an mmap'd area, every page is page-aligned,
// which makes pool buffers safe for unbuffered (O_DIRECT-style) device
// I/O that requires sector-aligned memory.
//
// # Usage
//
//	pool := pagepool.NewPagePool()
//	defer pool.Close()
//
//	page := pool.AllocFatPage()
//	defer page.Release()
//
//	copy(page.Bytes(), data)
//
// # Concurrency
//
// A PagePool is safe for concurrent use by many goroutines. Address
// resolution ([PagePool.Bytes]) is lock-free; only allocation and
// release briefly take the free-list lock.
//
// # Trust boundary
//
// Page handles carry no generation tag. Using a handle after it has
// been released, or with a pool other than the one that allocated it,
// is undefined behavior: the handle silently aliases whatever occupies
// the slot now. Callers must enforce lifetimes themselves; [FatPage]
// exists to make the single-owner case easy.
package pagepool
