// Package htfile defines the physical on-disk layout of the
// bucket-addressed hash-table file.
//
// The file is a header region holding one occupancy bit per bucket,
// rounded up to whole pages, followed by exactly one data page per
// bucket:
//
//	[0, headerPages*PageSize)        occupancy bitmap
//	[headerPages*PageSize, end)      one PageSize slot per bucket
//
// The exact total length is (headerPages + buckets) * PageSize; any
// other length observed on open is corruption. Bit-level bitmap
// semantics live in [occupancy]; this package only hauls the header
// bytes and does the offset math.
package htfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loamdb/loam/internal/occupancy"
	"github.com/loamdb/loam/internal/pagepool"
)

// File names inside a store directory.
const (
	HTFileName  = "ht"
	WALFileName = "wal"
)

// bitsPerHeaderPage is the number of buckets one header page covers.
const bitsPerHeaderPage = pagepool.PageSize * 8

// Sentinel errors. Callers dispatch with errors.Is.
var (
	// ErrCorrupt indicates the file's length does not match the layout
	// derived from the configured bucket count. Either a prior partial
	// write happened or the configuration changed; the store must
	// refuse to open.
	ErrCorrupt = errors.New("htfile: corrupt")

	// ErrExists indicates Create was pointed at an existing hash-table
	// file. Creation is intentionally non-idempotent so existing state
	// is never silently overwritten.
	ErrExists = errors.New("htfile: already exists")
)

// NumHeaderPages returns how many header pages a file with the given
// bucket count carries. Zero buckets need zero header pages.
func NumHeaderPages(buckets uint32) uint32 {
	return uint32((uint64(buckets) + bitsPerHeaderPage - 1) / bitsPerHeaderPage)
}

// ExpectedFileLen returns the exact byte length of a well-formed file.
func ExpectedFileLen(buckets uint32) int64 {
	return int64(uint64(NumHeaderPages(buckets))+uint64(buckets)) * pagepool.PageSize
}

// Offsets translates logical bucket/header indices to physical file
// page numbers. Immutable; derived once from the bucket count.
type Offsets struct {
	// dataPageOffset is added to every logical data-page index to skip
	// the header pages at the front of the file.
	dataPageOffset uint64
}

// OffsetsFor derives the offsets for a file with the given bucket count.
func OffsetsFor(buckets uint32) Offsets {
	return Offsets{dataPageOffset: uint64(NumHeaderPages(buckets))}
}

// DataPage returns the physical page number of the ix-th data page.
func (o Offsets) DataPage(ix uint64) uint64 {
	return o.dataPageOffset + ix
}

// HeaderPage returns the physical page number of the ix-th header page.
// Header pages start at file position zero and are not shifted.
func (o Offsets) HeaderPage(ix uint64) uint64 {
	return ix
}

// Create lays out a fresh hash-table file of exactly
// (buckets + headerPages) zero-filled pages under dir, durably flushed,
// plus an empty sibling WAL file, also flushed.
//
// Create fails with [ErrExists] if the hash-table file is already
// present. It does not clean up after I/O errors; rolling back a
// partially created file is the caller's responsibility.
func Create(dir string, buckets uint32) error {
	htPath := filepath.Join(dir, HTFileName)

	ht, err := os.OpenFile(htPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, htPath)
		}

		return fmt.Errorf("create ht file: %w", err)
	}

	truncErr := ht.Truncate(ExpectedFileLen(buckets))
	if truncErr != nil {
		_ = ht.Close()

		return fmt.Errorf("extend ht file: %w", truncErr)
	}

	syncErr := ht.Sync()
	if syncErr != nil {
		_ = ht.Close()

		return fmt.Errorf("sync ht file: %w", syncErr)
	}

	closeErr := ht.Close()
	if closeErr != nil {
		return fmt.Errorf("close ht file: %w", closeErr)
	}

	walErr := createEmptyWAL(filepath.Join(dir, WALFileName))
	if walErr != nil {
		return walErr
	}

	// The new directory entries must survive a crash too.
	return syncDir(dir)
}

// createEmptyWAL creates and flushes the empty sibling log file. Its
// content and recovery protocol belong to the log component; only the
// empty-file creation happens here.
func createEmptyWAL(path string) error {
	wal, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create wal file: %w", err)
	}

	syncErr := wal.Sync()
	if syncErr != nil {
		_ = wal.Close()

		return fmt.Errorf("sync wal file: %w", syncErr)
	}

	closeErr := wal.Close()
	if closeErr != nil {
		return fmt.Errorf("close wal file: %w", closeErr)
	}

	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}

	syncErr := d.Sync()

	closeErr := d.Close()

	if syncErr != nil {
		return fmt.Errorf("sync dir: %w", syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close dir: %w", closeErr)
	}

	return nil
}

// Open validates the file's length against the layout implied by the
// bucket count and reads the occupancy bitmap out of the header pages.
//
// Any length mismatch returns [ErrCorrupt]; the file is never silently
// truncated or extended. Header pages are read into pool-backed
// buffers because the file may be opened for unbuffered device I/O,
// which requires sector-aligned memory, and pool pages are always
// page-aligned.
func Open(buckets uint32, f *os.File, pool *pagepool.PagePool) (Offsets, *occupancy.Bitmap, error) {
	info, err := f.Stat()
	if err != nil {
		return Offsets{}, nil, fmt.Errorf("stat ht file: %w", err)
	}

	if want := ExpectedFileLen(buckets); info.Size() != want {
		return Offsets{}, nil, fmt.Errorf(
			"%w: file is %d bytes, want %d for %d buckets", ErrCorrupt, info.Size(), want, buckets)
	}

	headerPages := NumHeaderPages(buckets)
	flat := make([]byte, uint64(headerPages)*pagepool.PageSize)

	for i := uint32(0); i < headerPages; i++ {
		readErr := readHeaderPage(f, pool, i, flat)
		if readErr != nil {
			return Offsets{}, nil, readErr
		}
	}

	return OffsetsFor(buckets), occupancy.FromHeaderBytes(flat, uint64(buckets)), nil
}

func readHeaderPage(f *os.File, pool *pagepool.PagePool, idx uint32, flat []byte) error {
	buf := pool.AllocFatPage()
	defer buf.Release()

	off := int64(idx) * pagepool.PageSize

	_, err := f.ReadAt(buf.Bytes(), off)
	if err != nil {
		return fmt.Errorf("read header page %d: %w", idx, err)
	}

	copy(flat[off:], buf.Bytes())

	return nil
}
