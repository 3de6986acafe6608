// Package ledger interprets the positional nested-record hierarchy inside
// a decoded snapshot stream: a top-level 7-element
// sequence `[epoch, blocks_prev, blocks_cur, epoch_state,
// pool_distribution, stake_distribution, extras]`, with epoch_state,
// ledger_state and utxo_state nested further inside. Sections with no
// named extraction operation (blocks_prev, blocks_cur, account_state,
// snapshots_triple, cert_state, params_current, params_previous, extras)
// are treated as opaque leaves and skipped wholesale: each leaf is an
// opaque byte-range interpreted by the Navigator only when a caller asks
// for it.
//
// gov_state (inside utxo_state) is modelled as a 2-element
// [drep_state, proposals] record. This is the natural home for both
// DRep and proposal extraction in a Conway-era ledger state and is
// recorded as an Open Question resolution in DESIGN.md.
//
// Because SnapshotReader exposes a forward-only stream, the Navigator's
// methods must be called in positional order: metadata(), then (within
// the utxo_state region) iterate_utxos(), extract_dreps_bulk(),
// extract_proposals_bulk(), extract_pots(), then extract_pools(),
// extract_accounts_bulk(). Calling a method out of order returns an
// error rather than silently reading the wrong bytes.
package ledger

// TxInputID identifies a UTxO entry's spending key.
type TxInputID struct {
	TxHash [32]byte
	Index  uint32
}

// UTxOCallback is invoked once per UTxO entry by IterateUTxOs. output is a
// short-lived slice valid only for the duration of the call.
type UTxOCallback func(input TxInputID, output []byte) error

// Metadata is the bounded-read summary Metadata() returns: the stream's
// first fixed prefix only, well under 256 KiB.
type Metadata struct {
	Epoch               uint64
	HasRequiredSections bool
	UnknownFieldCount   int
}

// PoolEntry is one pool_distribution record: a pool's identifier and its
// active stake.
type PoolEntry struct {
	PoolID [28]byte
	Stake  uint64
}

// AccountEntry is one stake_distribution record: a stake credential and
// its delegated lovelace balance.
type AccountEntry struct {
	Credential [28]byte
	Lovelace   uint64
}

// DRepEntry is one drep_state record: a DRep identifier and its voting
// power.
type DRepEntry struct {
	DRepID      [28]byte
	VotingPower uint64
}

// ProposalEntry is one governance proposal record.
type ProposalEntry struct {
	ProposalID [32]byte
	Deposit    uint64
}

// Pots is the treasury/reserves bookkeeping carried alongside the UTxO
// set: deposits currently locked, fees collected this epoch, and
// donations to the treasury.
type Pots struct {
	Deposits  uint64
	Fees      uint64
	Donations uint64
}
