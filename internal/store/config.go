package store

import (
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"
)

// ManifestFileName is the manifest file inside a store directory.
const ManifestFileName = "loam.json"

// manifestVersion is bumped on incompatible manifest changes.
const manifestVersion = 1

// Config holds the store parameters fixed at creation time.
type Config struct {
	// Buckets is the number of hash-table buckets. Fixed for the
	// store's lifetime; opening with a different value is reported as
	// corruption by the layout layer.
	Buckets uint32 `json:"buckets"`
}

// manifest is the on-disk shape of the store manifest. The file is
// JSONC: comments and trailing commas are allowed.
type manifest struct {
	FormatVersion int    `json:"format_version"`
	Buckets       uint32 `json:"buckets"`
}

// ParseManifest parses and validates manifest bytes.
func ParseManifest(data []byte) (Config, error) {
	// Standardize JSONC to JSON.
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSONC: %w", ErrManifestInvalid, err)
	}

	var m manifest

	unmarshalErr := json.Unmarshal(standardized, &m)
	if unmarshalErr != nil {
		return Config{}, fmt.Errorf("%w: invalid JSON: %w", ErrManifestInvalid, unmarshalErr)
	}

	if m.FormatVersion != manifestVersion {
		return Config{}, fmt.Errorf("%w: format_version %d, want %d", ErrManifestInvalid, m.FormatVersion, manifestVersion)
	}

	cfg := Config{Buckets: m.Buckets}

	validateErr := validateConfig(cfg)
	if validateErr != nil {
		return Config{}, validateErr
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Buckets == 0 {
		return fmt.Errorf("%w: buckets must be >= 1", ErrManifestInvalid)
	}

	return nil
}

// encodeManifest returns the manifest bytes for a config.
func encodeManifest(cfg Config) ([]byte, error) {
	data, err := json.MarshalIndent(manifest{
		FormatVersion: manifestVersion,
		Buckets:       cfg.Buckets,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	return append(data, '\n'), nil
}
