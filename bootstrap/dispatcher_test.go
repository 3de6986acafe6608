package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/acropolis/ledger"
)

// recordingSubsystem acknowledges every step immediately and records the
// order it observed them in, for asserting strict inter-step ordering.
type recordingSubsystem struct {
	name string

	mu    sync.Mutex
	steps []StepKind

	rejectStep  StepKind
	rejectFor   bool
	hangForever bool
}

func (s *recordingSubsystem) Name() string { return s.name }

func (s *recordingSubsystem) Dispatch(ctx context.Context, step StepKind, payload any) error {
	if s.hangForever {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.rejectFor && step == s.rejectStep {
		return errors.New("synthetic rejection")
	}
	s.mu.Lock()
	s.steps = append(s.steps, step)
	s.mu.Unlock()
	return nil
}

func (s *recordingSubsystem) seen() []StepKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StepKind(nil), s.steps...)
}

func sampleBundle() Bundle {
	entries := []struct {
		input  ledger.TxInputID
		output []byte
	}{
		{input: ledger.TxInputID{Index: 0}, output: []byte("a")},
		{input: ledger.TxInputID{Index: 1}, output: []byte("b")},
		{input: ledger.TxInputID{Index: 2}, output: []byte("c")},
	}
	return Bundle{
		ProtocolParams: ProtocolParams{Epoch: 512},
		UTxOs: func(cb ledger.UTxOCallback) error {
			for _, e := range entries {
				if err := cb(e.input, e.output); err != nil {
					return err
				}
			}
			return nil
		},
		Pools: func() ([]ledger.PoolEntry, error) {
			return []ledger.PoolEntry{{Stake: 1}}, nil
		},
		Accounts: func() ([]ledger.AccountEntry, error) {
			return []ledger.AccountEntry{{Lovelace: 2}}, nil
		},
		DReps: func() ([]ledger.DRepEntry, error) {
			return []ledger.DRepEntry{{VotingPower: 3}}, nil
		},
		Proposals: func() ([]ledger.ProposalEntry, error) {
			return []ledger.ProposalEntry{{Deposit: 4}}, nil
		},
		EpochMetadata: func() (EpochMetadata, error) {
			return EpochMetadata{Epoch: 512, Pots: ledger.Pots{Deposits: 1, Fees: 2, Donations: 3}}, nil
		},
	}
}

func TestDispatcherRunsEveryStepInOrder(t *testing.T) {
	a := &recordingSubsystem{name: "utxo-index"}
	b := &recordingSubsystem{name: "pool-tracker"}
	d := New([]Subsystem{a, b}, nil, WithUTxOBatchSize(2))

	err := d.Run(context.Background(), sampleBundle())
	require.NoError(t, err)

	want := []StepKind{
		StepStartup,
		StepProtocolParams,
		StepUTxOStream, StepUTxOStream, // batch size 2 over 3 entries: two batches
		StepPoolSet,
		StepAccounts,
		StepDReps,
		StepProposals,
		StepEpochMetadata,
		StepComplete,
	}
	require.Equal(t, want, a.seen())
	require.Equal(t, want, b.seen())
}

func TestDispatcherEvaluatesOnDiskOrderButDispatchesStepKindOrder(t *testing.T) {
	var evalOrder []StepKind
	bundle := sampleBundle()
	bundle.DReps = func() ([]ledger.DRepEntry, error) {
		evalOrder = append(evalOrder, StepDReps)
		return []ledger.DRepEntry{{VotingPower: 3}}, nil
	}
	bundle.Proposals = func() ([]ledger.ProposalEntry, error) {
		evalOrder = append(evalOrder, StepProposals)
		return []ledger.ProposalEntry{{Deposit: 4}}, nil
	}
	bundle.EpochMetadata = func() (EpochMetadata, error) {
		evalOrder = append(evalOrder, StepEpochMetadata)
		return EpochMetadata{Epoch: 512}, nil
	}
	bundle.Pools = func() ([]ledger.PoolEntry, error) {
		evalOrder = append(evalOrder, StepPoolSet)
		return []ledger.PoolEntry{{Stake: 1}}, nil
	}
	bundle.Accounts = func() ([]ledger.AccountEntry, error) {
		evalOrder = append(evalOrder, StepAccounts)
		return []ledger.AccountEntry{{Lovelace: 2}}, nil
	}

	a := &recordingSubsystem{name: "utxo-index"}
	d := New([]Subsystem{a}, nil)
	require.NoError(t, d.Run(context.Background(), bundle))

	require.Equal(t, []StepKind{StepDReps, StepProposals, StepEpochMetadata, StepPoolSet, StepAccounts}, evalOrder)

	dispatchOrder := []StepKind{}
	for _, step := range a.seen() {
		switch step {
		case StepPoolSet, StepAccounts, StepDReps, StepProposals, StepEpochMetadata:
			dispatchOrder = append(dispatchOrder, step)
		}
	}
	require.Equal(t, []StepKind{StepPoolSet, StepAccounts, StepDReps, StepProposals, StepEpochMetadata}, dispatchOrder)
}

func TestDispatcherCallsFinishBeforeComplete(t *testing.T) {
	var finishCalled bool
	var completeSeenBeforeFinish bool
	a := &recordingSubsystem{name: "utxo-index"}
	bundle := sampleBundle()
	bundle.Finish = func() error {
		finishCalled = true
		for _, step := range a.seen() {
			if step == StepComplete {
				completeSeenBeforeFinish = true
			}
		}
		return nil
	}

	d := New([]Subsystem{a}, nil)
	require.NoError(t, d.Run(context.Background(), bundle))
	require.True(t, finishCalled)
	require.False(t, completeSeenBeforeFinish)
	require.Contains(t, a.seen(), StepComplete)
}

func TestDispatcherHaltsWhenFinishFails(t *testing.T) {
	a := &recordingSubsystem{name: "utxo-index"}
	bundle := sampleBundle()
	sentinel := errors.New("digest mismatch")
	bundle.Finish = func() error { return sentinel }

	d := New([]Subsystem{a}, nil)
	err := d.Run(context.Background(), bundle)
	require.ErrorIs(t, err, sentinel)
	require.NotContains(t, a.seen(), StepComplete)
}

func TestDispatcherHaltsOnRejectionWithoutSignalingComplete(t *testing.T) {
	a := &recordingSubsystem{name: "governance", rejectFor: true, rejectStep: StepDReps}
	b := &recordingSubsystem{name: "accounts"}
	d := New([]Subsystem{a, b}, nil)

	err := d.Run(context.Background(), sampleBundle())
	require.Error(t, err)
	var rejected *SubsystemRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "governance", rejected.Subsystem)
	require.Equal(t, StepDReps, rejected.Step)

	for _, steps := range [][]StepKind{a.seen(), b.seen()} {
		require.NotContains(t, steps, StepComplete)
	}
}

func TestDispatcherHaltsOnSubsystemTimeout(t *testing.T) {
	slow := &recordingSubsystem{name: "slow-subsystem", hangForever: true}
	d := New([]Subsystem{slow}, nil, WithAckDeadline(20*time.Millisecond))

	err := d.Run(context.Background(), sampleBundle())
	require.Error(t, err)
	var timeout *SubsystemTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, "slow-subsystem", timeout.Subsystem)
	require.Equal(t, StepStartup, timeout.Step)
}

func TestDispatcherPropagatesUTxOIterationError(t *testing.T) {
	a := &recordingSubsystem{name: "utxo-index"}
	d := New([]Subsystem{a}, nil)

	bundle := sampleBundle()
	sentinel := errors.New("source exhausted mid-stream")
	bundle.UTxOs = func(cb ledger.UTxOCallback) error {
		if err := cb(ledger.TxInputID{}, []byte("x")); err != nil {
			return err
		}
		return sentinel
	}

	err := d.Run(context.Background(), bundle)
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
}
