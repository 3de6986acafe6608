package main

import (
	"context"
	"fmt"
	"os"

	"github.com/blinklabs-io/acropolis/internal/xlog"
	"github.com/blinklabs-io/acropolis/ledger"
	"github.com/blinklabs-io/acropolis/snapshot"
)

// openedSnapshot bundles the open file handle, its SnapshotReader and a
// Navigator over the same stream, plus whatever manifest (if any) was
// found alongside it, so command handlers have one thing to defer-close.
type openedSnapshot struct {
	file        *os.File
	reader      *snapshot.SnapshotReader
	nav         *ledger.Navigator
	manifest    snapshot.Manifest
	hasManifest bool
}

func (o *openedSnapshot) Close() error {
	return o.reader.Close()
}

// openSnapshot opens path for reading, wraps it as a SnapshotReader (using
// the manifest's declared size if a manifest sidecar is found alongside
// the snapshot, following the <file>.manifest.toml convention), and
// builds a Navigator over it.
func openSnapshot(path string, logger *xlog.Logger) (*openedSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var m snapshot.Manifest
	hasManifest := false
	if manifestPath := path + ".manifest.toml"; fileExists(manifestPath) {
		m, err = snapshot.LoadManifest(manifestPath)
		if err != nil {
			f.Close()
			return nil, err
		}
		hasManifest = true
	}

	declaredSize := int64(0)
	if hasManifest {
		declaredSize = m.SizeBytes
	}

	reader, err := snapshot.Open(f, declaredSize, logger)
	if err != nil {
		f.Close()
		return nil, err
	}

	nav := ledger.New(reader.Reader(), logger)
	return &openedSnapshot{file: f, reader: reader, nav: nav, manifest: m, hasManifest: hasManifest}, nil
}

// loadManifestAt parses the manifest file at path explicitly, for
// `bootstrap <snapshot> <manifest>`'s two-argument form.
func loadManifestAt(path string) (snapshot.Manifest, error) {
	return snapshot.LoadManifest(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// withProgressMonitor runs fn with a snapshot.ProgressMonitor polling
// source in the background, so any command whose parse pass runs past a
// second gets the same at-least-once-per-second tick/stall reporting
// regardless of which navigator extraction methods it happens to call.
// The monitor is stopped as soon as fn returns, on any outcome.
func withProgressMonitor(ctx context.Context, label string, source snapshot.ProgressSource, logger *xlog.Logger, fn func() error) error {
	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	monitor := snapshot.NewProgressMonitor(label, source, nil, logger)
	go monitor.Run(monitorCtx)
	return fn()
}
