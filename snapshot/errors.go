package snapshot

import (
	"errors"
	"fmt"
)

// Decoding errors: fatal to the current parse, no partial
// dispatch is ever emitted once one of these fires.
var ErrTruncated = errors.New("snapshot: truncated stream")

// MalformedRecordError names the section a decoder violation occurred in
// and why.
type MalformedRecordError struct {
	Section string
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("snapshot: malformed record in %s: %s", e.Section, e.Reason)
}

// MissingSectionError names a required section absent from the stream.
type MissingSectionError struct {
	Section string
}

func (e *MissingSectionError) Error() string {
	return fmt.Sprintf("snapshot: missing required section %q", e.Section)
}

// Integrity errors: detected before, or early into, the
// expensive pass; no state is mutated downstream once one fires.
type SizeMismatchError struct {
	Declared int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("snapshot: declared size %d does not match actual size %d", e.Declared, e.Actual)
}

type IntegrityFailedError struct {
	Declared [32]byte
	Actual   [32]byte
}

func (e *IntegrityFailedError) Error() string {
	return fmt.Sprintf("snapshot: digest mismatch: declared %x, computed %x", e.Declared, e.Actual)
}

type EraUnsupportedError struct {
	Era      string
	MinEra   string
	EraOrder int
	MinOrder int
}

func (e *EraUnsupportedError) Error() string {
	return fmt.Sprintf("snapshot: era %q is older than the minimum supported era %q", e.Era, e.MinEra)
}

// HashMismatchError fires when a filename-derived point is present but its
// hash disagrees with the manifest's declared block hash (the slot is not
// compared).
type HashMismatchError struct {
	FromFilename string
	FromManifest string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("snapshot: filename-derived hash %q does not match manifest hash %q", e.FromFilename, e.FromManifest)
}
