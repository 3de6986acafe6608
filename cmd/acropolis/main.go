// Command acropolis is the operator CLI over the snapshot bootstrap
// pipeline: summary and sections report on a snapshot file without
// touching the surrounding node, and bootstrap drives the full
// parse-and-dispatch path.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/blinklabs-io/acropolis/internal/xlog"
	"github.com/blinklabs-io/acropolis/snapshot"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	log := xlog.New("acropolis")
	defer xlog.Sync()
	app := &cli.App{
		Name:  "acropolis",
		Usage: "operator CLI for the Acropolis snapshot bootstrap pipeline",
		Commands: []*cli.Command{
			summaryCommand(log),
			sectionsCommand(log),
			bootstrapCommand(log),
		},
		// ExitErrHandler is a no-op: urfave/cli's default handler calls
		// os.Exit itself for any cli.ExitCoder error, which would bypass
		// exitCodeFor's era-aware mapping below (and, in tests, terminate
		// the test binary). Exit codes are decided in exactly one place.
		ExitErrHandler: func(*cli.Context, error) {},
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, "acropolis:", err)
		return exitCodeFor(err)
	}
	return 0
}

// exitCodeFor maps a command error to the CLI's deterministic exit codes:
// 0 on success, 1 on any validation or I/O failure, 2 on unsupported era.
func exitCodeFor(err error) int {
	var eraErr *snapshot.EraUnsupportedError
	if errors.As(err, &eraErr) {
		return 2
	}
	return 1
}
