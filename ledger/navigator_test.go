package ledger

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// cborWriter builds a minimal well-formed CBOR stream for driving the
// Navigator in tests; it only needs to emit the handful of shapes the
// snapshot format actually uses.
type cborWriter struct {
	buf bytes.Buffer
}

func (w *cborWriter) head(major byte, arg uint64) {
	switch {
	case arg < 24:
		w.buf.WriteByte(major<<5 | byte(arg))
	case arg <= 0xFF:
		w.buf.WriteByte(major<<5 | 24)
		w.buf.WriteByte(byte(arg))
	case arg <= 0xFFFF:
		w.buf.WriteByte(major<<5 | 25)
		w.buf.WriteByte(byte(arg >> 8))
		w.buf.WriteByte(byte(arg))
	default:
		w.buf.WriteByte(major<<5 | 26)
		for i := 3; i >= 0; i-- {
			w.buf.WriteByte(byte(arg >> (8 * uint(i))))
		}
	}
}

func (w *cborWriter) uint(v uint64)           { w.head(0, v) }
func (w *cborWriter) array(n int)             { w.head(4, uint64(n)) }
func (w *cborWriter) mapHeader(n int)         { w.head(5, uint64(n)) }
func (w *cborWriter) bytes(b []byte)          { w.head(2, uint64(len(b))); w.buf.Write(b) }
func (w *cborWriter) fixed(n int, fill byte) []byte {
	b := bytes.Repeat([]byte{fill}, n)
	w.bytes(b)
	return b
}

// buildSnapshot encodes one synthetic snapshot stream matching the
// top-level [epoch, blocks_prev, blocks_cur, epoch_state,
// pool_distribution, stake_distribution, extras] shape, with one UTxO
// entry, one DRep, one proposal and a nonzero pots triple inside
// utxo_state, so every Navigator method has something real to read.
func buildSnapshot(t *testing.T) ([]byte, struct {
	epoch    uint64
	txHash   []byte
	poolID   []byte
	acctCred []byte
	drepID   []byte
	propID   []byte
}) {
	t.Helper()
	w := &cborWriter{}

	var want struct {
		epoch    uint64
		txHash   []byte
		poolID   []byte
		acctCred []byte
		drepID   []byte
		propID   []byte
	}
	want.epoch = 512

	w.array(7) // top level

	w.uint(want.epoch)  // epoch
	w.array(0)          // blocks_prev (opaque, empty)
	w.array(0)          // blocks_cur (opaque, empty)

	w.array(5) // epoch_state
	w.array(0) // account_state
	w.array(0) // snapshots_triple
	w.array(2) // ledger_state
	w.array(0) // cert_state

	w.array(5) // utxo_state
	w.mapHeader(1)
	w.array(2) // utxo_map.key
	want.txHash = w.fixed(32, 0xAA)
	w.uint(7) // index
	w.bytes([]byte("output-bytes"))
	w.uint(1000) // deposits
	w.uint(2000) // fees
	w.array(2)   // gov_state
	w.mapHeader(1)
	want.drepID = w.fixed(28, 0xBB)
	w.uint(42) // drep voting power
	w.array(1) // proposals
	w.array(2)
	want.propID = w.fixed(32, 0xCC)
	w.uint(5000) // proposal deposit
	w.uint(3000) // donations

	w.array(0) // params_current
	w.array(0) // params_previous

	w.mapHeader(1) // pool_distribution
	want.poolID = w.fixed(28, 0xDD)
	w.uint(9_000_000) // pool stake

	w.mapHeader(1) // stake_distribution
	want.acctCred = w.fixed(28, 0xEE)
	w.uint(123_456) // account lovelace

	w.array(0) // extras

	return w.buf.Bytes(), want
}

func TestNavigatorFullWalk(t *testing.T) {
	raw, want := buildSnapshot(t)
	nav := New(bufio.NewReader(bytes.NewReader(raw)), nil)

	meta, err := nav.Metadata()
	require.NoError(t, err)
	require.Equal(t, want.epoch, meta.Epoch)
	require.True(t, meta.HasRequiredSections)

	var gotInputs []TxInputID
	var gotOutputs [][]byte
	err = nav.IterateUTxOs(func(input TxInputID, output []byte) error {
		gotInputs = append(gotInputs, input)
		gotOutputs = append(gotOutputs, append([]byte(nil), output...))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, gotInputs, 1)
	require.Equal(t, want.txHash, gotInputs[0].TxHash[:])
	require.EqualValues(t, 7, gotInputs[0].Index)
	require.Equal(t, []byte("output-bytes"), gotOutputs[0])

	dreps, err := nav.ExtractDRepsBulk()
	require.NoError(t, err)
	require.Len(t, dreps, 1)
	require.Equal(t, want.drepID, dreps[0].DRepID[:])
	require.EqualValues(t, 42, dreps[0].VotingPower)

	proposals, err := nav.ExtractProposalsBulk()
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	require.Equal(t, want.propID, proposals[0].ProposalID[:])
	require.EqualValues(t, 5000, proposals[0].Deposit)

	pots, err := nav.ExtractPots()
	require.NoError(t, err)
	require.EqualValues(t, 1000, pots.Deposits)
	require.EqualValues(t, 2000, pots.Fees)
	require.EqualValues(t, 3000, pots.Donations)

	pools, err := nav.ExtractPools()
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, want.poolID, pools[0].PoolID[:])
	require.EqualValues(t, 9_000_000, pools[0].Stake)

	accounts, err := nav.ExtractAccountsBulk()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, want.acctCred, accounts[0].Credential[:])
	require.EqualValues(t, 123_456, accounts[0].Lovelace)

	require.NoError(t, nav.Finish())
}

func TestNavigatorSkipsUnwantedSections(t *testing.T) {
	raw, want := buildSnapshot(t)
	nav := New(bufio.NewReader(bytes.NewReader(raw)), nil)

	meta, err := nav.Metadata()
	require.NoError(t, err)
	require.Equal(t, want.epoch, meta.Epoch)

	// Skip straight to the top-level pool/account maps without ever
	// calling IterateUTxOs/ExtractDRepsBulk/ExtractProposalsBulk/
	// ExtractPots; the default-skip path must carry the cursor through
	// utxo_state and gov_state correctly.
	pools, err := nav.ExtractPools()
	require.NoError(t, err)
	require.Len(t, pools, 1)

	accounts, err := nav.ExtractAccountsBulk()
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	require.NoError(t, nav.Finish())
}

func TestNavigatorOutOfOrderCallErrors(t *testing.T) {
	raw, _ := buildSnapshot(t)
	nav := New(bufio.NewReader(bytes.NewReader(raw)), nil)

	_, err := nav.Metadata()
	require.NoError(t, err)

	_, err = nav.ExtractPools()
	require.NoError(t, err)

	// utxo_map comes before pool_distribution in stream order; calling
	// IterateUTxOs now must fail rather than silently reading garbage.
	err = nav.IterateUTxOs(func(TxInputID, []byte) error { return nil })
	require.Error(t, err)
}

func TestNavigatorForwardCompatibleExtraFields(t *testing.T) {
	w := &cborWriter{}
	w.array(7)
	w.uint(99)
	w.array(0)
	w.array(0)

	w.array(6) // epoch_state: one extra trailing field beyond the 5 named
	w.array(0) // account_state
	w.array(0) // snapshots_triple
	w.array(2) // ledger_state
	w.array(0) // cert_state

	w.array(5) // utxo_state
	w.mapHeader(0)
	w.uint(0) // deposits
	w.uint(0) // fees
	w.array(2)
	w.mapHeader(0)
	w.array(0)
	w.uint(0) // donations

	w.array(0) // params_current
	w.array(0) // params_previous
	w.uint(7)  // epoch_state's unrecognised trailing field

	w.mapHeader(0) // pool_distribution
	w.mapHeader(0) // stake_distribution
	w.array(0)     // extras

	nav := New(bufio.NewReader(bytes.NewReader(w.buf.Bytes())), nil)
	_, err := nav.Metadata()
	require.NoError(t, err)

	_, err = nav.ExtractAccountsBulk()
	require.NoError(t, err)
	require.NoError(t, nav.Finish())
	require.Equal(t, 1, nav.UnknownFieldCount())
}
