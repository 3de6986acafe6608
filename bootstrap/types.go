// Package bootstrap drives the fixed, topologically-ordered dispatch of a
// fully parsed snapshot out to the surrounding node's subsystems: protocol
// parameters first (everything else depends on them), then the UTxO
// stream, pool set, accounts, DReps, governance proposals and epoch
// metadata, each step a barrier that every registered subsystem must
// acknowledge before the next begins. Any timeout or rejection halts the
// whole bootstrap; there is no partial-ready state.
package bootstrap

import (
	"github.com/blinklabs-io/acropolis/ledger"
)

// StepKind identifies one of the dispatcher's fixed topological steps.
type StepKind int

const (
	StepStartup StepKind = iota
	StepProtocolParams
	StepUTxOStream
	StepPoolSet
	StepAccounts
	StepDReps
	StepProposals
	StepEpochMetadata
	StepComplete
)

func (s StepKind) String() string {
	switch s {
	case StepStartup:
		return "startup"
	case StepProtocolParams:
		return "protocol_params"
	case StepUTxOStream:
		return "utxo_stream"
	case StepPoolSet:
		return "pool_set"
	case StepAccounts:
		return "accounts"
	case StepDReps:
		return "dreps"
	case StepProposals:
		return "proposals"
	case StepEpochMetadata:
		return "epoch_metadata"
	case StepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ProtocolParams is the protocol-parameters step payload. The navigator
// treats params_current/params_previous as opaque leaves (see the ledger
// package doc), so only the epoch they apply to is carried here; a future
// revision that names a concrete protocol-parameter shape would extend
// this struct rather than replace the step.
type ProtocolParams struct {
	Epoch uint64
}

// UTxOEntry pairs a UTxO input with its output bytes for dispatch. Output
// is copied out of the navigator's short-lived decode buffer so it
// survives past the callback that produced it.
type UTxOEntry struct {
	Input  ledger.TxInputID
	Output []byte
}

// EpochMetadata is the epoch-metadata step payload: epoch number and the
// pots bookkeeping extracted from utxo_state (nonces are carried inside
// the opaque params leaves and are not further decoded here, consistent
// with the navigator's opaque-leaf policy).
type EpochMetadata struct {
	Epoch uint64
	Pots  ledger.Pots
}

// Bundle supplies every step's payload. UTxOs is a streaming source rather
// than a slice: the dispatcher drives it directly so the full UTxO set
// never needs to be buffered in memory at once, mirroring
// ledger.Navigator.IterateUTxOs's own forward-only contract.
//
// Pools, Accounts, DReps, Proposals and EpochMetadata are lazy getters
// rather than plain values for the same reason: the navigator they read
// from is a single forward-only stream, and each of these sections sits
// further into that stream than the UTxO set, so none of them can be
// materialised before the UTxO stream step has actually been drained.
// Dispatcher.Run calls each getter exactly once, in the snapshot's own
// on-disk order, but buffers the results so it can fan them out to
// subsystems in StepKind's declared order instead: on-disk order is an
// implementation detail of how the navigator streams bytes, while
// dispatch order is a contract subsystems are entitled to rely on.
//
// Finish is called once every other step has been dispatched and
// acknowledged, and must succeed before Run will dispatch StepComplete.
// It is the hook the caller uses to drive the underlying reader to EOF
// and validate the snapshot's declared size and digest, so that
// StepComplete — the signal subsystems use to start serving traffic —
// is never sent for a snapshot whose integrity hasn't actually been
// confirmed. A nil Finish is treated as trivially successful.
type Bundle struct {
	ProtocolParams ProtocolParams
	UTxOs          func(cb ledger.UTxOCallback) error
	Pools          func() ([]ledger.PoolEntry, error)
	Accounts       func() ([]ledger.AccountEntry, error)
	DReps          func() ([]ledger.DRepEntry, error)
	Proposals      func() ([]ledger.ProposalEntry, error)
	EpochMetadata  func() (EpochMetadata, error)
	Finish         func() error
}
