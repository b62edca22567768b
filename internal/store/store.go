// Package store wires the physical storage layer into a usable store
// directory: manifest, hash-table file, sibling WAL, page pool.
//
// The bucket-hash-table logic (hashing, probing, trie commitment) lives
// above this package; store exposes raw bucket page I/O at the offsets
// computed by [htfile] with buffers sourced from [pagepool].
package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/loamdb/loam/internal/htfile"
	"github.com/loamdb/loam/internal/occupancy"
	"github.com/loamdb/loam/internal/pagepool"
)

// Options configure opening a store.
type Options struct {
	// Logger receives operational events (timings, layout numbers).
	// Nil means no logging.
	Logger *zap.Logger
}

// Store is an open store directory.
//
// Reads may run concurrently with each other. Writes are not
// synchronized here: the bucket logic above owns exclusivity per
// bucket, matching the page-handle contract of the pool.
type Store struct {
	cfg     Config
	file    *os.File
	pool    *pagepool.PagePool
	offsets htfile.Offsets
	bitmap  *occupancy.Bitmap
	logger  *zap.Logger

	closed bool
}

// Create initializes a new store directory: the hash-table file, the
// empty sibling WAL, and the manifest. The directory is created if
// missing. Fails with [htfile.ErrExists] if a hash-table file is
// already present.
func Create(dir string, cfg Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	validateErr := validateConfig(cfg)
	if validateErr != nil {
		return validateErr
	}

	start := time.Now()

	mkdirErr := os.MkdirAll(dir, 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("create store dir: %w", mkdirErr)
	}

	createErr := htfile.Create(dir, cfg.Buckets)
	if createErr != nil {
		return createErr
	}

	data, encodeErr := encodeManifest(cfg)
	if encodeErr != nil {
		return encodeErr
	}

	writeErr := atomic.WriteFile(filepath.Join(dir, ManifestFileName), bytes.NewReader(data))
	if writeErr != nil {
		return fmt.Errorf("write manifest: %w", writeErr)
	}

	logger.Info("created store",
		zap.String("dir", dir),
		zap.Uint32("buckets", cfg.Buckets),
		zap.Uint32("header_pages", htfile.NumHeaderPages(cfg.Buckets)),
		zap.Int64("ht_bytes", htfile.ExpectedFileLen(cfg.Buckets)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// Open loads the manifest, validates the hash-table file's layout, and
// reads the occupancy bitmap.
func Open(dir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()

	data, readErr := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, dir)
		}

		return nil, fmt.Errorf("read manifest: %w", readErr)
	}

	cfg, parseErr := ParseManifest(data)
	if parseErr != nil {
		return nil, parseErr
	}

	file, openErr := os.OpenFile(filepath.Join(dir, htfile.HTFileName), os.O_RDWR, 0)
	if openErr != nil {
		return nil, fmt.Errorf("open ht file: %w", openErr)
	}

	pool := pagepool.NewPagePool()

	offsets, bitmap, layoutErr := htfile.Open(cfg.Buckets, file, pool)
	if layoutErr != nil {
		_ = file.Close()
		_ = pool.Close()

		return nil, layoutErr
	}

	logger.Info("opened store",
		zap.String("dir", dir),
		zap.Uint32("buckets", cfg.Buckets),
		zap.Uint64("occupied", bitmap.Count()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Store{
		cfg:     cfg,
		file:    file,
		pool:    pool,
		offsets: offsets,
		bitmap:  bitmap,
		logger:  logger,
	}, nil
}

// Config returns the store's creation-time parameters.
func (s *Store) Config() Config {
	return s.cfg
}

// Offsets returns the logical-to-physical page translation.
func (s *Store) Offsets() htfile.Offsets {
	return s.offsets
}

// Occupied returns the number of occupied buckets.
func (s *Store) Occupied() uint64 {
	return s.bitmap.Count()
}

// IsOccupied reports whether bucket ix holds live data.
func (s *Store) IsOccupied(ix uint32) (bool, error) {
	checkErr := s.checkBucket(ix)
	if checkErr != nil {
		return false, checkErr
	}

	return s.bitmap.Get(uint64(ix)), nil
}

// ReadBucket reads bucket ix's data page into a pool-backed buffer.
// The caller owns the returned page and must Release it.
func (s *Store) ReadBucket(ix uint32) (*pagepool.FatPage, error) {
	checkErr := s.checkBucket(ix)
	if checkErr != nil {
		return nil, checkErr
	}

	page := s.pool.AllocFatPage()

	_, readErr := s.file.ReadAt(page.Bytes(), s.dataPageByteOffset(ix))
	if readErr != nil {
		page.Release()

		return nil, fmt.Errorf("read bucket %d: %w", ix, readErr)
	}

	return page, nil
}

// WriteBucket writes data into bucket ix's page, zero-padded to a full
// page, and persists the occupancy bit. Durability requires a
// subsequent [Store.Sync].
func (s *Store) WriteBucket(ix uint32, data []byte) error {
	checkErr := s.checkBucket(ix)
	if checkErr != nil {
		return checkErr
	}

	if len(data) > pagepool.PageSize {
		return fmt.Errorf("%w: %d bytes", ErrPageOverflow, len(data))
	}

	page := s.pool.AllocFatPage()
	defer page.Release()

	copy(page.Bytes(), data)

	_, writeErr := s.file.WriteAt(page.Bytes(), s.dataPageByteOffset(ix))
	if writeErr != nil {
		return fmt.Errorf("write bucket %d: %w", ix, writeErr)
	}

	s.bitmap.Set(uint64(ix))

	return s.writeHeaderPageFor(ix)
}

// ClearBucket marks bucket ix empty. The stale data page is left in
// place; only the occupancy bit changes.
func (s *Store) ClearBucket(ix uint32) error {
	checkErr := s.checkBucket(ix)
	if checkErr != nil {
		return checkErr
	}

	s.bitmap.Clear(uint64(ix))

	return s.writeHeaderPageFor(ix)
}

// writeHeaderPageFor persists the header page containing bucket ix's
// occupancy bit, staging it through a pool buffer so the write is
// page-aligned.
func (s *Store) writeHeaderPageFor(ix uint32) error {
	headerIdx := ix / (pagepool.PageSize * 8)

	page := s.pool.AllocFatPage()
	defer page.Release()

	copy(page.Bytes(), s.bitmap.HeaderPage(headerIdx))

	off := int64(s.offsets.HeaderPage(uint64(headerIdx))) * pagepool.PageSize

	_, writeErr := s.file.WriteAt(page.Bytes(), off)
	if writeErr != nil {
		return fmt.Errorf("write header page %d: %w", headerIdx, writeErr)
	}

	return nil
}

// Sync flushes the hash-table file to stable storage.
func (s *Store) Sync() error {
	if s.closed {
		return ErrClosed
	}

	syncErr := s.file.Sync()
	if syncErr != nil {
		return fmt.Errorf("sync ht file: %w", syncErr)
	}

	return nil
}

// Close releases the file and the page pool. Idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	closeErr := s.file.Close()
	poolErr := s.pool.Close()

	if closeErr != nil {
		return fmt.Errorf("close ht file: %w", closeErr)
	}

	return poolErr
}

func (s *Store) checkBucket(ix uint32) error {
	if s.closed {
		return ErrClosed
	}

	if ix >= s.cfg.Buckets {
		return fmt.Errorf("%w: bucket %d, have %d", ErrBucketRange, ix, s.cfg.Buckets)
	}

	return nil
}

func (s *Store) dataPageByteOffset(ix uint32) int64 {
	return int64(s.offsets.DataPage(uint64(ix))) * pagepool.PageSize
}
