// Package pipeline is the per-file orchestrator: read, hash, compress,
// encrypt, write, for every FileTask in a Plan, with bounded parallelism
// and cooperative cancellation.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/larkspurhq/strongbox/internal/aead"
	"github.com/larkspurhq/strongbox/internal/compression"
	"github.com/larkspurhq/strongbox/internal/errs"
	"github.com/larkspurhq/strongbox/internal/integrity"
	"github.com/larkspurhq/strongbox/internal/keyderiv"
	"github.com/larkspurhq/strongbox/internal/manifest"
	"github.com/larkspurhq/strongbox/internal/pathsafe"
	"github.com/larkspurhq/strongbox/internal/planner"
	"github.com/larkspurhq/strongbox/internal/progress"
	"github.com/larkspurhq/strongbox/internal/util"
)

// DynamicParallelism implements the worker-count formula: start from
// three quarters of the CPU count clamped to [1,32], then back off for a
// small or thin job and scale up for a job made of a few very large
// files.
func DynamicParallelism(fileCount int, avgSize int64) int {
	base := clamp(runtime.NumCPU()*3/4, 1, 32)
	if fileCount > 0 && fileCount < base {
		base = fileCount
	}
	switch {
	case avgSize > 0 && avgSize < 1<<20:
		base = maxInt(1, base/2)
	case avgSize > 100<<20:
		base = minInt(32, ceilDiv(base*4, 3))
	}
	if base < 1 {
		base = 1
	}
	return base
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Options configures one pipeline run.
type Options struct {
	ChunkSize     uint32
	Compression   compression.Algorithm
	CompressLevel int
	MasterKey     *keyderiv.MasterKey // nil means no encryption
	Salt          []byte              // required when MasterKey is set
	Sink          progress.Sink
}

// fileOutcome is the result of processing one FileTask.
type fileOutcome struct {
	record     manifest.FileRecord
	storedHash string
	failed     bool
}

// Result is the aggregated outcome of Run: the records to commit to the
// manifest (deterministically ordered), matching integrity records, and
// a soft-fail list of logical paths that could not be processed.
type Result struct {
	Records          []manifest.FileRecord
	IntegrityRecords []integrity.Record
	Failures         []string
	BytesLogical     int64
	BytesStored      int64
}

// Run processes every FileTask in files into rootDir, honoring
// cooperative cancellation via ctx and backpressure via a bounded
// semaphore sized by DynamicParallelism. A per-file failure is
// recorded and processing continues. A cancelled context stops the
// scheduling of further files; every file not processed is reported in
// Failures.
func Run(ctx context.Context, rootDir string, files []planner.FileTask, opts Options) (Result, error) {
	if opts.Sink == nil {
		opts.Sink = progress.NopSink{}
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = aead.DefaultChunkSize
	}

	var avgSize int64
	if len(files) > 0 {
		var total int64
		for _, f := range files {
			total += f.Size
		}
		avgSize = total / int64(len(files))
	}
	workers := DynamicParallelism(len(files), avgSize)

	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	outcomes := make([]fileOutcome, len(files))
	var cancelled atomic.Bool

	for i, task := range files {
		i, task := i, task
		if err := sem.Acquire(gctx, 1); err != nil {
			cancelled.Store(true)
			for j := i; j < len(files); j++ {
				outcomes[j] = fileOutcome{failed: true}
			}
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			if cancelled.Load() || gctx.Err() != nil {
				outcomes[i] = fileOutcome{failed: true}
				return nil
			}

			opts.Sink.OnFileStart(task.LogicalPath)
			record, storedHash, err := processOne(rootDir, task, opts)
			if err != nil {
				outcomes[i] = fileOutcome{failed: true}
				opts.Sink.OnFileEnd(progress.FileResult{Path: task.LogicalPath, Success: false, Err: err})
				return nil // per-file errors are recovered, not fatal
			}
			outcomes[i] = fileOutcome{record: record, storedHash: storedHash}
			opts.Sink.OnFileEnd(progress.FileResult{Path: task.LogicalPath, Success: true})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var result Result
	for i, outcome := range outcomes {
		if outcome.failed {
			result.Failures = append(result.Failures, files[i].LogicalPath)
			continue
		}
		result.Records = append(result.Records, outcome.record)
		result.IntegrityRecords = append(result.IntegrityRecords, integrity.Record{
			SHA256Hex:  outcome.storedHash,
			StoredPath: outcome.record.StoredPath,
		})
		result.BytesLogical += outcome.record.OriginalSize
		result.BytesStored += outcome.record.StoredSize
	}
	sort.Slice(result.Records, func(i, j int) bool { return result.Records[i].LogicalPath < result.Records[j].LogicalPath })
	sort.Slice(result.IntegrityRecords, func(i, j int) bool { return result.IntegrityRecords[i].StoredPath < result.IntegrityRecords[j].StoredPath })

	return result, nil
}

// processOne runs one file through the path kernel, a streaming
// read/hash/compress/encrypt transform, and an atomic write into
// rootDir, returning its manifest record and the SHA-256 of the stored
// (post-transform) bytes for the integrity sidecar.
func processOne(rootDir string, task planner.FileTask, opts Options) (manifest.FileRecord, string, error) {
	if err := pathsafe.ValidateShallow(task.LogicalPath); err != nil {
		return manifest.FileRecord{}, "", err
	}
	storedAbs, err := pathsafe.Sanitize(rootDir, task.LogicalPath)
	if err != nil {
		return manifest.FileRecord{}, "", err
	}
	relToRoot, err := filepath.Rel(rootDir, storedAbs)
	if err != nil {
		return manifest.FileRecord{}, "", errs.Wrap(err, "computing stored path")
	}

	src, err := pathsafe.SafeOpenReadonly(task.SourcePath)
	if err != nil {
		return manifest.FileRecord{}, "", err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(storedAbs), 0o755); err != nil {
		return manifest.FileRecord{}, "", errs.Wrap(err, "creating stored directory")
	}

	tmpPath := storedAbs + ".partial"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return manifest.FileRecord{}, "", errs.Wrap(err, "creating stored file")
	}

	record, storedHash, transformErr := transform(src, dst, task, opts)
	closeErr := dst.Close()

	if transformErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if transformErr != nil {
			return manifest.FileRecord{}, "", transformErr
		}
		return manifest.FileRecord{}, "", errs.Wrap(closeErr, "closing stored file")
	}

	if err := os.Rename(tmpPath, storedAbs); err != nil {
		os.Remove(tmpPath)
		return manifest.FileRecord{}, "", errs.Wrap(err, "renaming stored file into place")
	}

	record.LogicalPath = task.LogicalPath
	record.TargetRoot = task.TargetRoot
	record.StoredPath = filepath.ToSlash(relToRoot)
	return record, storedHash, nil
}

// transform streams src through hashing, optional compression, and
// optional encryption into dst, returning the partial FileRecord
// (sizes, flags, original hash) and the stored-bytes SHA-256.
func transform(src io.Reader, dst io.Writer, task planner.FileTask, opts Options) (manifest.FileRecord, string, error) {
	origHasher := sha256.New()
	tee := io.TeeReader(src, origHasher)

	storedHasher := sha256.New()
	storedCounter := &countingWriter{w: io.MultiWriter(dst, storedHasher)}

	var flags manifest.FileFlags
	var finalWriter io.Writer = storedCounter
	var nonceBase []byte
	var closers []io.Closer

	if opts.MasterKey != nil {
		base, err := aead.NewNonceBase()
		if err != nil {
			return manifest.FileRecord{}, "", err
		}
		nonceBase = base
		sw, err := aead.NewStreamWriter(storedCounter, opts.MasterKey.Bytes(), opts.Salt, nonceBase, opts.ChunkSize)
		if err != nil {
			return manifest.FileRecord{}, "", err
		}
		cw := &chunkedWriter{sw: sw, chunkSize: int(opts.ChunkSize)}
		finalWriter = cw
		closers = append(closers, cw)
		flags |= manifest.FlagEncrypted
	}

	if opts.Compression != compression.None {
		enc, err := compression.NewEncoder(opts.Compression, opts.CompressLevel, finalWriter)
		if err != nil {
			closeAll(closers)
			return manifest.FileRecord{}, "", err
		}
		finalWriter = enc
		closers = append([]io.Closer{enc}, closers...)
		flags |= manifest.FlagCompressed
	}

	buf := util.GetMiBBuffer()
	defer util.PutMiBBuffer(buf)
	originalSize, err := io.CopyBuffer(finalWriter, tee, buf)
	closeErr := closeAll(closers)
	if err != nil {
		return manifest.FileRecord{}, "", errs.Wrap(err, "streaming file contents")
	}
	if closeErr != nil {
		return manifest.FileRecord{}, "", closeErr
	}

	record := manifest.FileRecord{
		OriginalSize:   originalSize,
		StoredSize:     storedCounter.n,
		SHA256Original: hex.EncodeToString(origHasher.Sum(nil)),
		Flags:          flags,
		ModifiedAt:     task.ModifiedAt,
	}
	if nonceBase != nil {
		record.NonceBase = hex.EncodeToString(nonceBase)
	}
	return record, hex.EncodeToString(storedHasher.Sum(nil)), nil
}

func closeAll(closers []io.Closer) error {
	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = errs.Wrap(err, "closing pipeline stage")
		}
	}
	return firstErr
}

// chunkedWriter adapts aead.StreamWriter, which writes whole chunks, to
// the plain io.Writer interface used upstream, buffering until a full
// chunk is ready.
type chunkedWriter struct {
	sw        *aead.StreamWriter
	chunkSize int
	buf       []byte
}

func (w *chunkedWriter) Write(p []byte) (int, error) {
	total := len(p)
	w.buf = append(w.buf, p...)
	for len(w.buf) >= w.chunkSize {
		if err := w.sw.WriteChunk(w.buf[:w.chunkSize]); err != nil {
			return 0, err
		}
		w.buf = w.buf[w.chunkSize:]
	}
	return total, nil
}

func (w *chunkedWriter) Close() error {
	if len(w.buf) > 0 {
		if err := w.sw.WriteChunk(w.buf); err != nil {
			return err
		}
		w.buf = nil
	}
	return w.sw.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
