package snapshot

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// eraOrder lists Cardano eras in chronological order; ManifestValidator
// rejects any snapshot declaring an era before the configured minimum,
// generalising a Conway-boundary floor to an operator-configurable one.
var eraOrder = []string{
	"byron", "shelley", "allegra", "mary", "alonzo", "babbage", "conway",
}

func eraRank(era string) (int, bool) {
	era = strings.ToLower(era)
	for i, name := range eraOrder {
		if name == era {
			return i, true
		}
	}
	return -1, false
}

// Manifest is the parsed form of the human-readable TOML sidecar file
// that accompanies a snapshot. Field names mirror the manifest's own keys.
type Manifest struct {
	Era                      string `toml:"era"`
	BlockHeight              uint64 `toml:"block_height"`
	BlockHash                string `toml:"block_hash"`
	SHA256                   string `toml:"sha256"`
	SizeBytes                int64  `toml:"size_bytes"`
	CreatedAt                string `toml:"created_at"`
	GovernanceSectionPresent *bool  `toml:"governance_section_present"`
}

// Digest decodes the manifest's declared sha256 hex string into raw bytes.
func (m Manifest) Digest() ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(m.SHA256)
	if err != nil {
		return out, fmt.Errorf("snapshot: manifest sha256 is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("snapshot: manifest sha256 must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// CreatedAtTime parses the manifest's created_at timestamp (RFC 3339).
func (m Manifest) CreatedAtTime() (time.Time, error) {
	return time.Parse(time.RFC3339, m.CreatedAt)
}

// LoadManifest parses a manifest file from disk.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read manifest: %w", err)
	}
	var m Manifest
	if err := toml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: parse manifest: %w", err)
	}
	return m, nil
}

// filenamePattern matches the `<slot>.<hash_hex>.cbor` filename convention
// some snapshot producers use to embed the point directly in the path.
var filenamePattern = regexp.MustCompile(`^(\d+)\.([0-9a-fA-F]+)\.cbor$`)

// PointFromFilename extracts the slot and hash hex from a snapshot
// filename following the `<slot>.<hash_hex>.cbor` convention. ok is false
// if the filename does not follow the convention, in which case the
// manifest alone is authoritative.
func PointFromFilename(name string) (slot uint64, hashHex string, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return n, strings.ToLower(m[2]), true
}

// ManifestValidator performs the cheap pre-flight checks against a snapshot's
// manifest before any expensive streaming work begins.
type ManifestValidator struct {
	MinEra string
}

// NewManifestValidator returns a validator gating snapshots to minEra or
// newer.
func NewManifestValidator(minEra string) *ManifestValidator {
	return &ManifestValidator{MinEra: minEra}
}

// ValidateEra rejects manifests declaring an era older than MinEra.
func (v *ManifestValidator) ValidateEra(m Manifest) error {
	minRank, ok := eraRank(v.MinEra)
	if !ok {
		return fmt.Errorf("snapshot: configured minimum era %q is unknown", v.MinEra)
	}
	eraRankVal, ok := eraRank(m.Era)
	if !ok {
		return &EraUnsupportedError{Era: m.Era, MinEra: v.MinEra}
	}
	if eraRankVal < minRank {
		return &EraUnsupportedError{Era: m.Era, MinEra: v.MinEra, EraOrder: eraRankVal, MinOrder: minRank}
	}
	return nil
}

// ValidateFilenamePoint checks that a filename-derived point, if present,
// agrees with the manifest's declared block hash.
func (v *ManifestValidator) ValidateFilenamePoint(filename string, m Manifest) error {
	_, hashHex, ok := PointFromFilename(filename)
	if !ok {
		return nil // filename doesn't follow the convention: manifest alone is authoritative
	}
	if !strings.EqualFold(hashHex, strings.TrimPrefix(m.BlockHash, "0x")) {
		return &HashMismatchError{FromFilename: hashHex, FromManifest: m.BlockHash}
	}
	return nil
}

// ValidateSize reports a SizeMismatchError if actual disagrees with the
// manifest's declared byte length.
func (v *ManifestValidator) ValidateSize(m Manifest, actual int64) error {
	if actual != m.SizeBytes {
		return &SizeMismatchError{Declared: m.SizeBytes, Actual: actual}
	}
	return nil
}

// ValidateDigest reports an IntegrityFailedError if actual disagrees with
// the manifest's declared digest.
func (v *ManifestValidator) ValidateDigest(m Manifest, actual [32]byte) error {
	declared, err := m.Digest()
	if err != nil {
		return err
	}
	if declared != actual {
		return &IntegrityFailedError{Declared: declared, Actual: actual}
	}
	return nil
}
