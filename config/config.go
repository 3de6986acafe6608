// Package config loads Acropolis's process configuration: the
// consensus tree's security parameter, the snapshot reader's chunk size,
// the bootstrap dispatcher's per-subsystem acknowledgement deadline, and
// the manifest validator's minimum supported era. Loading never mutates
// global state; a Config value is passed explicitly to every component
// that needs it through constructors, rather than read from
// package-level globals.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultK is the favoured Cardano mainnet security parameter (the number
// of blocks after which a block is considered immutable).
const DefaultK = 2160

// Config is the full set of operator-tunable process settings.
type Config struct {
	// K bounds fork depth in the consensus tree. Must be >= 1.
	K uint64 `toml:"k"`

	// ChunkSizeBytes is a SnapshotReader read chunk size (see
	// snapshot.WithChunkSize). Must be >= 1 MiB. The acropolis CLI validates
	// it but opens snapshots with snapshot.DefaultChunkSize regardless.
	ChunkSizeBytes int `toml:"chunk_size_bytes"`

	// AckDeadline is the BootstrapDispatcher's per-subsystem
	// acknowledgement deadline. Must be > 0.
	AckDeadline Duration `toml:"ack_deadline"`

	// MinimumEra gates snapshot acceptance to this era or newer.
	MinimumEra string `toml:"minimum_era"`

	// UTxOBatchSize is the BootstrapDispatcher's UTxO dispatch batch size.
	UTxOBatchSize int `toml:"utxo_batch_size"`
}

// Duration wraps time.Duration with TOML (un)marshalling via its string
// form ("5s", "250ms"), since go-toml/v2 has no native duration type.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the baseline configuration used when no config file is
// present.
func Default() Config {
	return Config{
		K:              DefaultK,
		ChunkSizeBytes: 16 << 20,
		AckDeadline:    Duration{5 * time.Second},
		MinimumEra:     "conway",
		UTxOBatchSize:  10_000,
	}
}

// Load reads and parses a TOML config file at path, starting from
// Default() so any field the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the startup invariants (k >= 1, ack deadline > 0, chunk
// size >= 1 MiB, non-empty minimum era, batch size >= 1), reported before
// any tree or snapshot operation begins.
func (c Config) Validate() error {
	if c.K < 1 {
		return fmt.Errorf("config: k must be >= 1, got %d", c.K)
	}
	if c.AckDeadline.Duration <= 0 {
		return fmt.Errorf("config: ack_deadline must be > 0, got %s", c.AckDeadline.Duration)
	}
	const minChunkSize = 1 << 20
	if c.ChunkSizeBytes < minChunkSize {
		return fmt.Errorf("config: chunk_size_bytes must be >= %d (1 MiB), got %d", minChunkSize, c.ChunkSizeBytes)
	}
	if c.MinimumEra == "" {
		return fmt.Errorf("config: minimum_era must not be empty")
	}
	if c.UTxOBatchSize < 1 {
		return fmt.Errorf("config: utxo_batch_size must be >= 1, got %d", c.UTxOBatchSize)
	}
	return nil
}
