package pagepool

// FatPage is an owning wrapper around one [Page] and its pool.
//
// Unlike a bare Page, a FatPage carries release responsibility: call
// [FatPage.Release] (usually via defer) on every exit path. It is
// heavier than the bare handle and must not be copied; there is at most
// one owner at a time.
type FatPage struct {
	pool *PagePool
	page Page
}

// Page returns the underlying non-owning handle.
//
// The handle is only valid until Release; see the package documentation
// for the aliasing rules.
func (fp *FatPage) Page() Page {
	return fp.page
}

// Bytes returns the page contents as a PageSize-byte slice.
//
// The slice aliases pool memory and is invalidated by Release.
func (fp *FatPage) Bytes() []byte {
	if fp.pool == nil {
		panic("pagepool: use of released FatPage")
	}

	return fp.pool.Bytes(fp.page)
}

// Release returns the page to its pool. Safe to call more than once;
// only the first call releases.
func (fp *FatPage) Release() {
	if fp.pool == nil {
		return
	}

	pool := fp.pool
	fp.pool = nil

	pool.Dealloc(fp.page)
}
