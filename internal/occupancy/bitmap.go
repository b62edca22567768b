// Package occupancy implements the one-bit-per-bucket occupancy bitmap
// stored in the hash-table file's header pages.
//
// The bitmap is constructed from the raw header bytes read off disk and
// owned by the caller thereafter. Bit i of byte b/8 (LSB first) marks
// whether bucket b holds live data.
package occupancy

import (
	"fmt"
	"math/bits"

	"github.com/loamdb/loam/internal/pagepool"
)

// Bitmap tracks which buckets of the hash-table file are occupied.
//
// Not safe for concurrent mutation; the higher-level bucket logic
// serializes updates.
type Bitmap struct {
	buf     []byte
	buckets uint64
}

// FromHeaderBytes builds a bitmap over the flat header byte buffer.
//
// The buffer is taken over by the bitmap, not copied; it must hold at
// least ceil(buckets/8) bytes. A shorter buffer is caller misuse and
// panics.
func FromHeaderBytes(buf []byte, buckets uint64) *Bitmap {
	need := (buckets + 7) / 8
	if uint64(len(buf)) < need {
		panic(fmt.Sprintf("occupancy: header buffer %d bytes, need %d for %d buckets", len(buf), need, buckets))
	}

	return &Bitmap{buf: buf, buckets: buckets}
}

// Len returns the bucket count the bitmap was built for.
func (b *Bitmap) Len() uint64 {
	return b.buckets
}

func (b *Bitmap) check(i uint64) {
	if i >= b.buckets {
		panic(fmt.Sprintf("occupancy: bucket %d out of range (%d buckets)", i, b.buckets))
	}
}

// Get reports whether bucket i is occupied.
func (b *Bitmap) Get(i uint64) bool {
	b.check(i)

	return b.buf[i/8]&(1<<(i%8)) != 0
}

// Set marks bucket i occupied.
func (b *Bitmap) Set(i uint64) {
	b.check(i)

	b.buf[i/8] |= 1 << (i % 8)
}

// Clear marks bucket i empty.
func (b *Bitmap) Clear(i uint64) {
	b.check(i)

	b.buf[i/8] &^= 1 << (i % 8)
}

// Count returns the number of occupied buckets.
//
// Bytes beyond the bucket count are ignored, so stray bits in the
// header page padding never inflate the count.
func (b *Bitmap) Count() uint64 {
	var total uint64

	whole := b.buckets / 8
	for _, by := range b.buf[:whole] {
		total += uint64(bits.OnesCount8(by))
	}

	if rem := b.buckets % 8; rem != 0 {
		mask := byte(1<<rem - 1)
		total += uint64(bits.OnesCount8(b.buf[whole] & mask))
	}

	return total
}

// HeaderPage returns the window of the underlying buffer backing the
// given header page, for writing occupancy updates back to the file.
// The window aliases the bitmap's storage.
func (b *Bitmap) HeaderPage(pageIdx uint32) []byte {
	start := uint64(pageIdx) * pagepool.PageSize
	if start >= uint64(len(b.buf)) {
		panic(fmt.Sprintf("occupancy: header page %d out of range (%d bytes of header)", pageIdx, len(b.buf)))
	}

	end := min(start+pagepool.PageSize, uint64(len(b.buf)))

	return b.buf[start:end]
}
