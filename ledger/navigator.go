package ledger

import (
	"bufio"
	"fmt"

	"github.com/blinklabs-io/acropolis/internal/cborcodec"
	"github.com/blinklabs-io/acropolis/internal/xlog"
	"github.com/blinklabs-io/acropolis/snapshot"
)

// Fixed positional step indices, in stream order, matching the ledger
// snapshot's nested record hierarchy. "open" steps read a container's
// array header; every other step consumes exactly one positional field,
// either by the default (discard) action or by the explicit extraction a
// public method performs in its place.
const (
	stepBlocksPrev = iota
	stepBlocksCur
	stepEpochStateOpen
	stepAccountState
	stepSnapshotsTriple
	stepLedgerStateOpen
	stepCertState
	stepUtxoStateOpen
	stepUtxoMap
	stepDeposits
	stepFees
	stepGovStateOpen
	stepDRepState
	stepProposals
	stepGovStateFinish
	stepDonations
	stepUtxoStateFinish
	stepParamsCurrent
	stepParamsPrevious
	stepEpochStateFinish
	stepPoolDistribution
	stepStakeDistribution
	stepExtras
	stepDone
)

// Navigator interprets a single snapshot stream's positional record
// hierarchy. It is forward-only: its methods must be called in the
// positional order documented on the package, and each may be called at
// most once.
type Navigator struct {
	r   *bufio.Reader
	log *xlog.Logger

	cursor            int
	epochStateExtra   int64
	utxoStateExtra    int64
	govStateExtra     int64
	unknownFieldCount int

	cachedDeposits uint64
	cachedFees     uint64
}

// New builds a Navigator over a stream positioned at the start of the
// top-level 7-element snapshot sequence.
func New(r *bufio.Reader, logger *xlog.Logger) *Navigator {
	if logger == nil {
		logger = xlog.New("ledgernavigator")
	}
	return &Navigator{r: r, log: logger}
}

// Metadata reads the top-level header and the epoch field only — a
// fixed, bounded prefix (well under 256 KiB) of the stream. Every other
// field is left for the subsequent Extract*/Iterate* calls.
func (n *Navigator) Metadata() (Metadata, error) {
	if n.cursor != 0 {
		return Metadata{}, fmt.Errorf("ledger: Metadata must be the first call")
	}
	if err := cborcodec.ExpectArray(n.r, 7, "snapshot"); err != nil {
		return Metadata{}, wrapDecodeErr(err, "snapshot")
	}
	epoch, err := cborcodec.DecodeUint(n.r)
	if err != nil {
		return Metadata{}, wrapDecodeErr(err, "epoch")
	}
	return Metadata{Epoch: epoch, HasRequiredSections: true, UnknownFieldCount: n.unknownFieldCount}, nil
}

// UnknownFieldCount reports the cumulative forward-compatibility counter
// across every section walked so far; it grows as later Extract*/Iterate*
// calls run, unlike the snapshot taken by Metadata().
func (n *Navigator) UnknownFieldCount() int { return n.unknownFieldCount }

// IterateUTxOs streams the UTxO map, invoking cb once per entry. Cost is
// O(|utxo|) time and O(1) navigator memory; the output slice
// passed to cb is only valid for the duration of that call.
func (n *Navigator) IterateUTxOs(cb UTxOCallback) error {
	if err := n.advanceTo(stepUtxoMap); err != nil {
		return err
	}
	length, indefinite, err := cborcodec.MapHeader(n.r)
	if err != nil {
		return wrapDecodeErr(err, "utxo_map")
	}
	for {
		if indefinite {
			done, err := cborcodec.IsBreak(n.r)
			if err != nil {
				return wrapDecodeErr(err, "utxo_map")
			}
			if done {
				break
			}
		} else {
			if length == 0 {
				break
			}
			length--
		}
		if err := cborcodec.ExpectArray(n.r, 2, "utxo_map.key"); err != nil {
			return wrapDecodeErr(err, "utxo_map.key")
		}
		txHash, err := cborcodec.DecodeFixedBytes(n.r, 32)
		if err != nil {
			return wrapDecodeErr(err, "utxo_map.key.tx_hash")
		}
		index, err := cborcodec.DecodeUint(n.r)
		if err != nil {
			return wrapDecodeErr(err, "utxo_map.key.index")
		}
		output, err := cborcodec.DecodeBytes(n.r)
		if err != nil {
			return wrapDecodeErr(err, "utxo_map.value")
		}
		var input TxInputID
		copy(input.TxHash[:], txHash)
		input.Index = uint32(index)
		if err := cb(input, output); err != nil {
			return fmt.Errorf("ledger: utxo callback: %w", err)
		}
	}
	n.cursor = stepUtxoMap + 1
	return nil
}

// ExtractDRepsBulk decodes the DRep voting-power map from inside gov_state.
func (n *Navigator) ExtractDRepsBulk() ([]DRepEntry, error) {
	if err := n.advanceTo(stepDRepState); err != nil {
		return nil, err
	}
	entries, err := decodeHashUintMap(n.r, "drep_state", 28)
	if err != nil {
		return nil, err
	}
	out := make([]DRepEntry, len(entries))
	for i, e := range entries {
		var id [28]byte
		copy(id[:], e.hash)
		out[i] = DRepEntry{DRepID: id, VotingPower: e.value}
	}
	n.cursor = stepDRepState + 1
	return out, nil
}

// ExtractProposalsBulk decodes the governance proposal list from inside
// gov_state.
func (n *Navigator) ExtractProposalsBulk() ([]ProposalEntry, error) {
	if err := n.advanceTo(stepProposals); err != nil {
		return nil, err
	}
	length, indefinite, err := cborcodec.ArrayHeader(n.r)
	if err != nil {
		return nil, wrapDecodeErr(err, "proposals")
	}
	var out []ProposalEntry
	for {
		if indefinite {
			done, err := cborcodec.IsBreak(n.r)
			if err != nil {
				return nil, wrapDecodeErr(err, "proposals")
			}
			if done {
				break
			}
		} else {
			if length == 0 {
				break
			}
			length--
		}
		if err := cborcodec.ExpectArray(n.r, 2, "proposals.entry"); err != nil {
			return nil, wrapDecodeErr(err, "proposals.entry")
		}
		id, err := cborcodec.DecodeFixedBytes(n.r, 32)
		if err != nil {
			return nil, wrapDecodeErr(err, "proposals.entry.id")
		}
		deposit, err := cborcodec.DecodeUint(n.r)
		if err != nil {
			return nil, wrapDecodeErr(err, "proposals.entry.deposit")
		}
		var pid [32]byte
		copy(pid[:], id)
		out = append(out, ProposalEntry{ProposalID: pid, Deposit: deposit})
	}
	n.cursor = stepProposals + 1
	return out, nil
}

// ExtractPots decodes the deposits/fees/donations pots. deposits and fees
// sit earlier in the stream than gov_state, so by the time ExtractPots runs
// (after extract_dreps_bulk/extract_proposals_bulk, per the mandated call
// order) they have already been consumed and cached by runDefault; only
// donations, which follows gov_state, is still read fresh here.
func (n *Navigator) ExtractPots() (Pots, error) {
	if n.cursor <= stepFees {
		if err := n.advanceTo(stepFees + 1); err != nil {
			return Pots{}, err
		}
	}
	if err := n.advanceTo(stepDonations); err != nil {
		return Pots{}, err
	}
	donations, err := cborcodec.DecodeUint(n.r)
	if err != nil {
		return Pots{}, wrapDecodeErr(err, "donations")
	}
	n.cursor = stepDonations + 1

	return Pots{Deposits: n.cachedDeposits, Fees: n.cachedFees, Donations: donations}, nil
}

// ExtractPools decodes the top-level pool_distribution map.
func (n *Navigator) ExtractPools() ([]PoolEntry, error) {
	if err := n.advanceTo(stepPoolDistribution); err != nil {
		return nil, err
	}
	entries, err := decodeHashUintMap(n.r, "pool_distribution", 28)
	if err != nil {
		return nil, err
	}
	out := make([]PoolEntry, len(entries))
	for i, e := range entries {
		var id [28]byte
		copy(id[:], e.hash)
		out[i] = PoolEntry{PoolID: id, Stake: e.value}
	}
	n.cursor = stepPoolDistribution + 1
	return out, nil
}

// ExtractAccountsBulk decodes the top-level stake_distribution map.
func (n *Navigator) ExtractAccountsBulk() ([]AccountEntry, error) {
	if err := n.advanceTo(stepStakeDistribution); err != nil {
		return nil, err
	}
	entries, err := decodeHashUintMap(n.r, "stake_distribution", 28)
	if err != nil {
		return nil, err
	}
	out := make([]AccountEntry, len(entries))
	for i, e := range entries {
		var cred [28]byte
		copy(cred[:], e.hash)
		out[i] = AccountEntry{Credential: cred, Lovelace: e.value}
	}
	n.cursor = stepStakeDistribution + 1
	return out, nil
}

// Finish walks the remaining steps (the trailing extras slot), so the
// stream ends cleanly positioned for SnapshotReader.Finish's size check.
func (n *Navigator) Finish() error {
	return n.advanceTo(stepDone)
}

type hashUintEntry struct {
	hash  []byte
	value uint64
}

// decodeHashUintMap decodes a definite-length map of fixed-width hash keys
// to uint64 values, the shape shared by pool_distribution,
// stake_distribution and drep_state.
func decodeHashUintMap(r *bufio.Reader, section string, hashWidth int) ([]hashUintEntry, error) {
	length, indefinite, err := cborcodec.MapHeader(r)
	if err != nil {
		return nil, wrapDecodeErr(err, section)
	}
	var out []hashUintEntry
	for {
		if indefinite {
			done, err := cborcodec.IsBreak(r)
			if err != nil {
				return nil, wrapDecodeErr(err, section)
			}
			if done {
				break
			}
		} else {
			if length == 0 {
				break
			}
			length--
		}
		key, err := cborcodec.DecodeFixedBytes(r, hashWidth)
		if err != nil {
			return nil, wrapDecodeErr(err, section+".key")
		}
		value, err := cborcodec.DecodeUint(r)
		if err != nil {
			return nil, wrapDecodeErr(err, section+".value")
		}
		out = append(out, hashUintEntry{hash: key, value: value})
	}
	return out, nil
}

// advanceTo runs the default (discard) action for every step from the
// current cursor up to, but not including, target, leaving the stream
// positioned to read target's payload explicitly. Returns an error if
// target has already been passed.
func (n *Navigator) advanceTo(target int) error {
	if n.cursor > target {
		return fmt.Errorf("ledger: section already past in this forward-only read (at step %d, wanted %d)", n.cursor, target)
	}
	for n.cursor < target {
		if err := n.runDefault(n.cursor); err != nil {
			return err
		}
		n.cursor++
	}
	return nil
}

// runDefault performs step i's action when the caller has not explicitly
// requested it: opening a container records its element count and tracks
// forward-compatibility slack; deposits and fees are decoded and cached for
// ExtractPots; every other step is skipped wholesale.
func (n *Navigator) runDefault(i int) error {
	switch i {
	case stepDeposits:
		v, err := cborcodec.DecodeUint(n.r)
		if err != nil {
			return wrapDecodeErr(err, "deposits")
		}
		n.cachedDeposits = v
		return nil
	case stepFees:
		v, err := cborcodec.DecodeUint(n.r)
		if err != nil {
			return wrapDecodeErr(err, "fees")
		}
		n.cachedFees = v
		return nil
	case stepEpochStateOpen:
		extra, err := openRecord(n.r, 5, "epoch_state")
		if err != nil {
			return err
		}
		n.epochStateExtra = extra
		return nil
	case stepLedgerStateOpen:
		if err := cborcodec.ExpectArray(n.r, 2, "ledger_state"); err != nil {
			return wrapDecodeErr(err, "ledger_state")
		}
		return nil
	case stepUtxoStateOpen:
		extra, err := openRecord(n.r, 5, "utxo_state")
		if err != nil {
			return err
		}
		n.utxoStateExtra = extra
		return nil
	case stepGovStateOpen:
		extra, err := openRecord(n.r, 2, "gov_state")
		if err != nil {
			return err
		}
		n.govStateExtra = extra
		return nil
	case stepGovStateFinish:
		n.unknownFieldCount += int(n.govStateExtra)
		return skipN(n.r, n.govStateExtra)
	case stepUtxoStateFinish:
		n.unknownFieldCount += int(n.utxoStateExtra)
		return skipN(n.r, n.utxoStateExtra)
	case stepEpochStateFinish:
		n.unknownFieldCount += int(n.epochStateExtra)
		return skipN(n.r, n.epochStateExtra)
	case stepUtxoMap:
		// Default-skip path: caller never called IterateUTxOs.
		return cborcodec.Skip(n.r)
	default:
		return cborcodec.Skip(n.r)
	}
}

// openRecord reads a definite-length array header and requires at least
// expected elements, returning how many extra trailing elements follow
// so a later ledger format can add fields without breaking older readers.
func openRecord(r *bufio.Reader, expected int, section string) (int64, error) {
	n, indefinite, err := cborcodec.ArrayHeader(r)
	if err != nil {
		return 0, wrapDecodeErr(err, section)
	}
	if indefinite {
		return 0, &snapshot.MalformedRecordError{Section: section, Reason: "expected definite-length array"}
	}
	if n < int64(expected) {
		return 0, &snapshot.MalformedRecordError{
			Section: section,
			Reason:  fmt.Sprintf("expected at least %d elements, got %d", expected, n),
		}
	}
	return n - int64(expected), nil
}

func skipN(r *bufio.Reader, n int64) error {
	for i := int64(0); i < n; i++ {
		if err := cborcodec.Skip(r); err != nil {
			return err
		}
	}
	return nil
}

func wrapDecodeErr(err error, section string) error {
	if err == cborcodec.ErrTruncated {
		return snapshot.ErrTruncated
	}
	if me, ok := err.(*cborcodec.MalformedError); ok {
		return &snapshot.MalformedRecordError{Section: section, Reason: me.Reason}
	}
	return fmt.Errorf("ledger: %s: %w", section, err)
}
