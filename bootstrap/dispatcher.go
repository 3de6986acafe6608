package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/acropolis/internal/xlog"
	"github.com/blinklabs-io/acropolis/ledger"
	"github.com/blinklabs-io/acropolis/snapshot"
)

// DefaultAckDeadline is the default per-subsystem acknowledgement deadline.
const DefaultAckDeadline = 5 * time.Second

// DefaultUTxOBatchSize is the default per-batch entry count the UTxO
// stream step groups entries into for throughput.
const DefaultUTxOBatchSize = 10_000

// Dispatcher drives Bundle's steps out to every registered Subsystem in a
// fixed topological order. It is the sole owner of the per-subsystem
// acknowledgement deadline and outbound fan-out; nothing else dispatches
// on a Subsystem's behalf. Run drives its own snapshot.ProgressMonitor,
// polling the count of UTxO entries dispatched, from the moment Run starts
// until it returns, so a bootstrap against a large
// snapshot still emits progress ticks even though the dispatcher itself
// has no direct view of the underlying reader.
type Dispatcher struct {
	subsystems  []Subsystem
	ackDeadline time.Duration
	batchSize   int
	log         *xlog.Logger
	metricsReg  prometheus.Registerer

	// utxoDispatched counts UTxO entries successfully fanned out to every
	// subsystem so far; it is the progress source for Run's internal
	// ProgressMonitor, polled concurrently with runUTxOStream.
	utxoDispatched int64
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithAckDeadline overrides DefaultAckDeadline.
func WithAckDeadline(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.ackDeadline = d }
}

// WithUTxOBatchSize overrides DefaultUTxOBatchSize.
func WithUTxOBatchSize(n int) Option {
	return func(disp *Dispatcher) { disp.batchSize = n }
}

// WithMetricsRegisterer registers Run's progress gauge and stall counter
// against reg instead of leaving them unregistered.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(disp *Dispatcher) { disp.metricsReg = reg }
}

// New builds a Dispatcher fanning out to subsystems, in the order given
// (dispatch order within a step is concurrent and so not observable
// downstream).
func New(subsystems []Subsystem, logger *xlog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = xlog.New("bootstrapdispatcher")
	}
	d := &Dispatcher{
		subsystems:  subsystems,
		ackDeadline: DefaultAckDeadline,
		batchSize:   DefaultUTxOBatchSize,
		log:         logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run drives every step of bundle through to Complete, or returns the
// first SubsystemTimeoutError/SubsystemRejectedError encountered. On any
// error the node must be treated as safely halted: Run never sends
// StepComplete after a failure, and does not attempt to resume a failed
// step.
//
// Bundle's non-UTxO fields are lazy getters rather than plain values
// because the ledger snapshot they read from is a single forward-only
// stream: DReps/Proposals/EpochMetadata/Pools/Accounts all sit further
// into the stream than the UTxO set, so they can only be materialised
// once the UTxO stream step has actually been drained. Run evaluates each
// getter immediately before the corresponding section becomes readable,
// in the snapshot's own on-disk order, then fans the buffered payloads
// out to subsystems in StepKind's declared order: Pools, Accounts, DReps,
// Proposals, EpochMetadata. On-disk read order and dispatch order are
// independent, and only the latter is a contract subsystems may rely on.
//
// Once every other step is acknowledged, Run calls bundle.Finish — the
// caller's hook for draining the reader to EOF and validating the
// snapshot's declared size and digest — before it dispatches StepComplete.
// A snapshot whose integrity hasn't been confirmed never reaches
// StepComplete, so no subsystem is ever told it's safe to serve traffic
// against unverified data.
func (d *Dispatcher) Run(ctx context.Context, bundle Bundle) error {
	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	monitor := snapshot.NewProgressMonitor("bootstrap_utxo_stream",
		func() int64 { return atomic.LoadInt64(&d.utxoDispatched) }, d.metricsReg, d.log)
	go monitor.Run(monitorCtx)

	d.log.Info("dispatching step", "step", StepStartup)
	if err := d.dispatchOne(ctx, StepStartup, nil); err != nil {
		d.log.Error("bootstrap halted", "step", StepStartup, "error", err)
		return err
	}

	d.log.Info("dispatching step", "step", StepProtocolParams)
	if err := d.dispatchOne(ctx, StepProtocolParams, bundle.ProtocolParams); err != nil {
		d.log.Error("bootstrap halted", "step", StepProtocolParams, "error", err)
		return err
	}

	d.log.Info("dispatching step", "step", StepUTxOStream)
	if err := d.runUTxOStream(ctx, bundle.UTxOs); err != nil {
		d.log.Error("bootstrap halted", "step", StepUTxOStream, "error", err)
		return err
	}

	// Materialise every remaining section in the order it actually
	// becomes readable in the snapshot stream, buffering each payload
	// rather than dispatching it immediately.
	dreps, err := evaluate(bundle.DReps)
	if err != nil {
		return err
	}
	proposals, err := evaluate(bundle.Proposals)
	if err != nil {
		return err
	}
	epochMetadata, err := evaluate(bundle.EpochMetadata)
	if err != nil {
		return err
	}
	pools, err := evaluate(bundle.Pools)
	if err != nil {
		return err
	}
	accounts, err := evaluate(bundle.Accounts)
	if err != nil {
		return err
	}

	// Fan the buffered payloads out in StepKind's declared order, which
	// is the order subsystems are entitled to observe regardless of how
	// the snapshot happened to lay the sections out on disk.
	dispatches := []struct {
		kind    StepKind
		payload any
		present bool
	}{
		{StepPoolSet, pools, bundle.Pools != nil},
		{StepAccounts, accounts, bundle.Accounts != nil},
		{StepDReps, dreps, bundle.DReps != nil},
		{StepProposals, proposals, bundle.Proposals != nil},
		{StepEpochMetadata, epochMetadata, bundle.EpochMetadata != nil},
	}
	for _, step := range dispatches {
		if !step.present {
			continue
		}
		d.log.Info("dispatching step", "step", step.kind)
		if err := d.dispatchOne(ctx, step.kind, step.payload); err != nil {
			d.log.Error("bootstrap halted", "step", step.kind, "error", err)
			return err
		}
	}

	if bundle.Finish != nil {
		if err := bundle.Finish(); err != nil {
			d.log.Error("bootstrap halted", "step", "finish", "error", err)
			return err
		}
	}

	d.log.Info("dispatching step", "step", StepComplete)
	if err := d.dispatchOne(ctx, StepComplete, nil); err != nil {
		d.log.Error("bootstrap halted", "step", StepComplete, "error", err)
		return err
	}
	return nil
}

// evaluate materialises a lazy Bundle field, returning the zero value if
// get is nil. Callers buffer the result themselves so that evaluation
// order (on-disk stream order) can be decoupled from dispatch order
// (StepKind declaration order).
func evaluate[T any](get func() (T, error)) (T, error) {
	var zero T
	if get == nil {
		return zero, nil
	}
	return get()
}

// dispatchOne fans payload out to every subsystem concurrently, bounded by
// the configured ack deadline, and fails the whole step on the first
// timeout or rejection: errgroup.WithContext cancels every in-flight call
// as soon as one returns an error, leaving the surrounding node in a
// safely halted state rather than a partially-dispatched one.
func (d *Dispatcher) dispatchOne(ctx context.Context, step StepKind, payload any) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range d.subsystems {
		sub := sub
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, d.ackDeadline)
			defer cancel()
			err := sub.Dispatch(callCtx, step, payload)
			if err == nil {
				return nil
			}
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return &SubsystemTimeoutError{Subsystem: sub.Name(), Step: step, Deadline: d.ackDeadline.String()}
			}
			return &SubsystemRejectedError{Subsystem: sub.Name(), Step: step, Reason: err.Error()}
		})
	}
	return g.Wait()
}

// runUTxOStream drives the snapshot's UTxO iteration directly, dispatching
// a batch to every subsystem as soon as it fills, so the full set never
// needs to be buffered in memory. Intra-batch and intra-UTxO ordering are
// both unobservable downstream.
func (d *Dispatcher) runUTxOStream(ctx context.Context, utxos func(cb ledger.UTxOCallback) error) error {
	if utxos == nil {
		return nil
	}
	batch := make([]UTxOEntry, 0, d.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		payload := append([]UTxOEntry(nil), batch...)
		if err := d.dispatchOne(ctx, StepUTxOStream, payload); err != nil {
			return err
		}
		atomic.AddInt64(&d.utxoDispatched, int64(len(payload)))
		batch = batch[:0]
		return nil
	}

	var stepErr error
	err := utxos(func(input ledger.TxInputID, output []byte) error {
		batch = append(batch, UTxOEntry{Input: input, Output: append([]byte(nil), output...)})
		if len(batch) < d.batchSize {
			return nil
		}
		if err := flush(); err != nil {
			stepErr = err
			return err
		}
		return nil
	})
	if stepErr != nil {
		return stepErr
	}
	if err != nil {
		return err
	}
	return flush()
}
