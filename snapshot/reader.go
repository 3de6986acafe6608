package snapshot

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/blinklabs-io/acropolis/internal/xlog"
)

// DefaultChunkSize is the reader's fixed chunk size: the underlying byte
// source is read in 16-MiB chunks into a single reused buffer.
const DefaultChunkSize = 16 << 20

// Option configures a SnapshotReader at construction time.
type Option func(*SnapshotReader)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(s *SnapshotReader) { s.chunkSize = n }
}

// WithRateLimiter paces how fast the reader may pull bytes from its
// source: rather than a hard per-chunk I/O deadline, the reader is
// throttled to a steady rate, which bounds worst-case chunk latency the
// same way without a bespoke timeout/retry loop.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *SnapshotReader) { s.limiter = l }
}

// WithZstd wraps the source in a zstd decompressor before any other
// layer, for snapshots shipped pre-compressed.
func WithZstd(enabled bool) Option {
	return func(s *SnapshotReader) { s.zstdEnabled = enabled }
}

// SnapshotReader produces a lazy, forward-only view over a snapshot byte
// stream at bounded memory cost. It exclusively owns its
// source and read buffer for the duration of one parse.
type SnapshotReader struct {
	chunkSize    int
	declaredSize int64
	limiter      *rate.Limiter
	zstdEnabled  bool
	log          *xlog.Logger

	source    io.Closer
	zstdDec   *zstd.Decoder
	hasher    hash.Hash
	bytesRead int64 // atomic
	buf       *bufio.Reader
}

// Open wraps src (an already-opened file or other byte source) as a
// SnapshotReader. declaredSize is the manifest's size_bytes; pass 0 to
// skip the end-of-stream size check.
func Open(src io.ReadCloser, declaredSize int64, logger *xlog.Logger, opts ...Option) (*SnapshotReader, error) {
	if logger == nil {
		logger = xlog.New("snapshotreader")
	}
	s := &SnapshotReader{
		chunkSize:    DefaultChunkSize,
		declaredSize: declaredSize,
		log:          logger,
		source:       src,
		hasher:       sha256.New(),
	}
	for _, o := range opts {
		o(s)
	}

	var r io.Reader = src
	if s.zstdEnabled {
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("snapshot: open zstd stream: %w", err)
		}
		s.zstdDec = dec
		r = dec
	}

	counted := &countingReader{r: r, hasher: s.hasher, count: &s.bytesRead}
	var limited io.Reader = counted
	if s.limiter != nil {
		limited = &rateLimitedReader{r: counted, limiter: s.limiter}
	}
	s.buf = bufio.NewReaderSize(limited, s.chunkSize)
	return s, nil
}

// Reader exposes the underlying *bufio.Reader for internal/cborcodec's
// decode primitives to read from directly: every Read the codec issues is
// satisfied out of this single reused buffer, and every refill passes
// through the digest and rate-limit layers transparently.
func (s *SnapshotReader) Reader() *bufio.Reader { return s.buf }

// BytesRead reports how many bytes have been pulled from the underlying
// source so far (post-decompression), safe to call concurrently with a
// ProgressMonitor polling loop.
func (s *SnapshotReader) BytesRead() int64 { return atomic.LoadInt64(&s.bytesRead) }

// Digest returns the incrementally computed content digest. Only
// meaningful once the full stream has been consumed.
func (s *SnapshotReader) Digest() [32]byte {
	var out [32]byte
	copy(out[:], s.hasher.Sum(nil))
	return out
}

// Finish checks the declared size against what was actually read; call
// once the caller believes it has reached end-of-stream.
func (s *SnapshotReader) Finish() error {
	if s.declaredSize > 0 && s.BytesRead() != s.declaredSize {
		return &SizeMismatchError{Declared: s.declaredSize, Actual: s.BytesRead()}
	}
	return nil
}

// Close releases the zstd decoder (if any) and the underlying source.
func (s *SnapshotReader) Close() error {
	if s.zstdDec != nil {
		s.zstdDec.Close()
	}
	return s.source.Close()
}

// countingReader feeds every byte actually pulled from the source into the
// Integrity digest and an atomic running total, without holding any of it
// beyond the caller-supplied slice.
type countingReader struct {
	r      io.Reader
	hasher hash.Hash
	count  *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.hasher.Write(p[:n])
		atomic.AddInt64(c.count, int64(n))
	}
	return n, err
}

// rateLimitedReader paces Read calls against a token bucket sized to the
// caller's chosen throughput, bounding worst-case chunk latency.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	n := len(p)
	if b := rl.limiter.Burst(); b > 0 && n > b {
		n = b
	}
	if err := rl.limiter.WaitN(context.Background(), n); err != nil {
		return 0, fmt.Errorf("snapshot: rate limit: %w", err)
	}
	return rl.r.Read(p[:n])
}
