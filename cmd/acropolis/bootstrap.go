package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/blinklabs-io/acropolis/bootstrap"
	"github.com/blinklabs-io/acropolis/config"
	"github.com/blinklabs-io/acropolis/internal/xlog"
	"github.com/blinklabs-io/acropolis/ledger"
	"github.com/blinklabs-io/acropolis/snapshot"
)

func bootstrapCommand(log *xlog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "bootstrap",
		Usage:     "parse a snapshot and dispatch it to every registered subsystem",
		ArgsUsage: "<snapshot> <manifest>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("bootstrap requires <snapshot> and <manifest> arguments", 1)
			}
			cfg := config.Default()
			if path := c.String("config"); path != "" {
				loaded, err := config.Load(path)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				cfg = loaded
			}
			return runBootstrap(c.Context, c.Args().Get(0), c.Args().Get(1), cfg, log)
		},
	}
}

func runBootstrap(ctx context.Context, snapshotPath, manifestPath string, cfg config.Config, log *xlog.Logger) error {
	lock := flock.New(snapshotPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("bootstrap: acquire snapshot lock: %w", err)
	}
	if !locked {
		return cli.Exit("bootstrap: snapshot is locked by another process", 1)
	}
	defer lock.Unlock()

	manifest, err := loadManifestAt(manifestPath)
	if err != nil {
		return err
	}

	validator := snapshot.NewManifestValidator(cfg.MinimumEra)
	if err := validator.ValidateEra(manifest); err != nil {
		return err
	}
	if err := validator.ValidateFilenamePoint(filepath.Base(snapshotPath), manifest); err != nil {
		return err
	}

	snap, err := openSnapshot(snapshotPath, log)
	if err != nil {
		return err
	}
	defer snap.Close()

	bundle, err := buildBundle(snap.nav)
	if err != nil {
		return err
	}

	// Finish is called by Dispatcher.Run itself, immediately before it
	// dispatches StepComplete: the navigator has by then been driven all
	// the way through every other step, so finishing it surfaces any
	// trailing forward-compatibility fields and leaves BytesRead/Digest
	// meaningful, and the size/digest checks below gate StepComplete
	// rather than running after subsystems have already been told the
	// bootstrap is done.
	bundle.Finish = func() error {
		if err := snap.nav.Finish(); err != nil {
			return err
		}
		if err := validator.ValidateSize(manifest, snap.reader.BytesRead()); err != nil {
			return err
		}
		return validator.ValidateDigest(manifest, snap.reader.Digest())
	}

	subsystems := defaultSubsystems(log)
	dispatcher := bootstrap.New(subsystems, log,
		bootstrap.WithAckDeadline(cfg.AckDeadline.Duration),
		bootstrap.WithUTxOBatchSize(cfg.UTxOBatchSize),
	)

	runErr := dispatcher.Run(ctx, bundle)
	printBootstrapReport(subsystems, snap.reader.BytesRead(), runErr)
	if runErr != nil {
		return cli.Exit(runErr.Error(), 1)
	}
	return nil
}

// buildBundle wraps the navigator's extraction methods as a Bundle. Only
// Metadata is read eagerly here; every other field is left as a getter
// the dispatcher calls later, in the navigator's own forward-only stream
// order, since nav can only be walked once and DReps/Proposals/pots/pools
// all sit further into the stream than the UTxO set the dispatcher reads
// first.
func buildBundle(nav *ledger.Navigator) (bootstrap.Bundle, error) {
	meta, err := nav.Metadata()
	if err != nil {
		return bootstrap.Bundle{}, err
	}

	return bootstrap.Bundle{
		ProtocolParams: bootstrap.ProtocolParams{Epoch: meta.Epoch},
		UTxOs: func(cb ledger.UTxOCallback) error {
			return nav.IterateUTxOs(cb)
		},
		DReps: func() ([]ledger.DRepEntry, error) {
			return nav.ExtractDRepsBulk()
		},
		Proposals: func() ([]ledger.ProposalEntry, error) {
			return nav.ExtractProposalsBulk()
		},
		EpochMetadata: func() (bootstrap.EpochMetadata, error) {
			pots, err := nav.ExtractPots()
			if err != nil {
				return bootstrap.EpochMetadata{}, err
			}
			return bootstrap.EpochMetadata{Epoch: meta.Epoch, Pots: pots}, nil
		},
		Pools: func() ([]ledger.PoolEntry, error) {
			return nav.ExtractPools()
		},
		Accounts: func() ([]ledger.AccountEntry, error) {
			return nav.ExtractAccountsBulk()
		},
	}, nil
}

func printBootstrapReport(subsystems []bootstrap.Subsystem, bytesRead int64, runErr error) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"subsystem", "status"})
	for _, s := range subsystems {
		status := "acknowledged"
		if runErr != nil {
			status = "unknown (bootstrap halted)"
		}
		t.AppendRow(table.Row{s.Name(), status})
	}
	fmt.Println(t.Render())
	fmt.Println("bytes read:", humanize.Bytes(uint64(bytesRead)))
	if runErr != nil {
		fmt.Println("result: halted —", runErr)
	} else {
		fmt.Println("result: complete")
	}
}
