package store

import "errors"

// Sentinel errors returned by store operations.
//
// Callers should use [errors.Is]. Layout-level corruption surfaces as
// [github.com/loamdb/loam/internal/htfile.ErrCorrupt] through Open.
var (
	// ErrManifestNotFound indicates the store directory has no
	// manifest file. The directory is not a store (or Create never
	// ran).
	ErrManifestNotFound = errors.New("store: manifest not found")

	// ErrManifestInvalid indicates the manifest exists but could not
	// be parsed or failed validation.
	ErrManifestInvalid = errors.New("store: invalid manifest")

	// ErrBucketRange indicates a bucket index at or beyond the
	// configured bucket count.
	ErrBucketRange = errors.New("store: bucket out of range")

	// ErrPageOverflow indicates bucket data longer than one page.
	ErrPageOverflow = errors.New("store: data exceeds page size")

	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("store: closed")
)
