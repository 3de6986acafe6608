// Package xlog is the structured logging facade every other package in
// this module imports. Call sites look like erigon-lib/log/v3's
// key/value style (log.Info(msg, "key", val, ...)); the sink underneath is
// zap, so component code never touches the encoder directly.
package xlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a child logger carrying a fixed set of key/value context,
// mirroring erigon-lib/log/v3's New("component", name) convention.
type Logger struct {
	z    *zap.SugaredLogger
	name string
}

var (
	rootOnce sync.Once
	root     *zap.Logger
)

func rootLogger() *zap.Logger {
	rootOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			// Logging must never be the reason the node fails to start;
			// fall back to an unconfigured logger writing to stderr.
			l = zap.NewExample()
		}
		root = l
	})
	return root
}

// New creates a named child logger. component identifies the subsystem
// ("consensustree", "snapshotreader", "bootstrapdispatcher", ...) and is
// attached to every line it emits.
func New(component string) *Logger {
	return &Logger{z: rootLogger().Sugar().With("component", component), name: component}
}

// With returns a derived logger carrying additional fixed key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{z: l.z.With(kv...), name: l.name}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }

// Sync flushes any buffered log lines; callers invoke it from main before
// process exit.
func Sync() {
	if root != nil {
		_ = root.Sync()
	}
}

// discard is a logger that writes nowhere; NewTesting returns it for tests
// that don't want log noise on the test binary's stderr.
var discard = &Logger{z: zap.NewNop().Sugar()}

// NewTesting returns a logger writing to stderr only if ACROPOLIS_TEST_LOG
// is set, otherwise a discarding logger. Keeps test output quiet by default
// without losing the option to turn logging on while debugging a failure.
func NewTesting(component string) *Logger {
	if os.Getenv("ACROPOLIS_TEST_LOG") == "" {
		return discard
	}
	return New(component)
}
