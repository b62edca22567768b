package pagepool

// Test-only accessors into pool internals.

// NumRegions reports how many regions the pool has reserved.
func (p *PagePool) NumRegions() uint32 {
	return p.nRegions.Load()
}

// FreeLen reports the current free-list length.
func (p *PagePool) FreeLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.free)
}

// Exported layout constants for tests.
const (
	SlotsPerRegion = slotsPerRegion
	MaxRegions     = maxRegions
)
