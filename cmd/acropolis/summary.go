package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/blinklabs-io/acropolis/internal/xlog"
	"github.com/blinklabs-io/acropolis/ledger"
)

func summaryCommand(log *xlog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "summary",
		Usage:     "emit epoch, era, entity counts and the whole-snapshot digest for a snapshot (no separate parameter digest)",
		ArgsUsage: "<snapshot>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("summary requires exactly one <snapshot> argument", 1)
			}
			return runSummary(c.Context, c.Args().Get(0), log)
		},
	}
}

func runSummary(ctx context.Context, path string, log *xlog.Logger) error {
	snap, err := openSnapshot(path, log)
	if err != nil {
		return err
	}
	defer snap.Close()

	var (
		meta      ledger.Metadata
		utxoCount int
		dreps     []ledger.DRepEntry
		pools     []ledger.PoolEntry
	)
	err = withProgressMonitor(ctx, "summary", snap.reader.BytesRead, log, func() error {
		meta, err = snap.nav.Metadata()
		if err != nil {
			return err
		}

		if err := snap.nav.IterateUTxOs(func(_ ledger.TxInputID, _ []byte) error {
			utxoCount++
			return nil
		}); err != nil {
			return err
		}

		dreps, err = snap.nav.ExtractDRepsBulk()
		if err != nil {
			return err
		}
		if _, err := snap.nav.ExtractProposalsBulk(); err != nil {
			return err
		}
		if _, err := snap.nav.ExtractPots(); err != nil {
			return err
		}
		pools, err = snap.nav.ExtractPools()
		if err != nil {
			return err
		}
		if _, err := snap.nav.ExtractAccountsBulk(); err != nil {
			return err
		}
		if err := snap.nav.Finish(); err != nil {
			return err
		}
		return snap.reader.Finish()
	})
	if err != nil {
		return err
	}

	era := "unknown"
	if snap.hasManifest {
		era = snap.manifest.Era
	}
	digest := snap.reader.Digest()

	t := table.NewWriter()
	t.AppendRow(table.Row{"epoch", meta.Epoch})
	t.AppendRow(table.Row{"era", era})
	t.AppendRow(table.Row{"pools", len(pools)})
	t.AppendRow(table.Row{"dreps", len(dreps)})
	t.AppendRow(table.Row{"utxos", utxoCount})
	t.AppendRow(table.Row{"unknown_field_count", snap.nav.UnknownFieldCount()})
	t.AppendRow(table.Row{"digest", hex.EncodeToString(digest[:])})
	fmt.Println(t.Render())
	return nil
}
