package main

import (
	"context"

	"github.com/blinklabs-io/acropolis/bootstrap"
	"github.com/blinklabs-io/acropolis/internal/xlog"
)

// loggingSubsystem acknowledges every dispatch step immediately after
// logging it. It stands in for a real node subsystem (UTxO index, pool
// tracker, governance store) until one is wired in; the CLI's job is
// only to prove the dispatch contract end to end, not to own any of the
// subsystem-side state those concerns would actually need.
type loggingSubsystem struct {
	name string
	log  *xlog.Logger
}

func (s *loggingSubsystem) Name() string { return s.name }

func (s *loggingSubsystem) Dispatch(ctx context.Context, step bootstrap.StepKind, payload any) error {
	s.log.Info("subsystem acknowledged step", "subsystem", s.name, "step", step)
	return nil
}

// defaultSubsystems returns the subsystem set the bootstrap command
// dispatches to. A future revision wiring a real node in-process would
// replace these with the node's own UTxO index, pool tracker, account
// store, governance store and epoch ledger, each implementing
// bootstrap.Subsystem directly.
func defaultSubsystems(log *xlog.Logger) []bootstrap.Subsystem {
	names := []string{"utxo-index", "pool-tracker", "account-store", "governance-store", "epoch-ledger"}
	subsystems := make([]bootstrap.Subsystem, len(names))
	for i, name := range names {
		subsystems[i] = &loggingSubsystem{name: name, log: log}
	}
	return subsystems
}
