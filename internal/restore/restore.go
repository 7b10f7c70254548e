// Package restore resolves a backup entry's predecessor chain into an
// effective file map and replays it back onto disk: decrypt, decompress,
// verify, write, one file at a time, soft-failing on any single file
// without aborting the whole run.
package restore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
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
	"github.com/larkspurhq/strongbox/internal/pipeline"
	"github.com/larkspurhq/strongbox/internal/planner"
	"github.com/larkspurhq/strongbox/internal/progress"
	"github.com/larkspurhq/strongbox/internal/util"
)

// EffectiveFile pairs a FileRecord with the entry (root_dir, codec) that
// owns the physical stored bytes for it, the newest occurrence winning.
type EffectiveFile struct {
	record      manifest.FileRecord
	rootDir     string
	compression manifest.CompressionSpec
}

// EffectiveFileMap collapses a chain (newest first, oldest Full last)
// into one FileRecord per logical path: the first occurrence found
// walking newest-to-oldest wins, matching how PlanIncremental recorded
// only files that changed relative to what came before.
func EffectiveFileMap(destination string, chain planner.Chain) map[string]EffectiveFile {
	out := make(map[string]EffectiveFile)
	for _, entry := range chain {
		rootDir := manifest.RootDir(destination, entry.Name)
		for _, f := range entry.Files {
			if _, exists := out[f.LogicalPath]; exists {
				continue
			}
			out[f.LogicalPath] = EffectiveFile{record: f, rootDir: rootDir, compression: entry.Compression}
		}
	}
	return out
}

// Options configures one restore run.
type Options struct {
	MasterKey *keyderiv.MasterKey // nil means the chain must be unencrypted
	Salt      []byte
	Sink      progress.Sink
}

// Result is the outcome of a restore run.
type Result struct {
	Restored []string
	Failures []string
}

// Run restores every file in fileMap into destDir, verifying each
// restored file's SHA-256 against its recorded original hash and, when
// available, against the entry's .integrity sidecar for the stored
// bytes. destDir is never itself followed as a symlink target: every
// write lands under a path the path kernel has sanitized.
func Run(ctx context.Context, destDir string, fileMap map[string]EffectiveFile, opts Options) (Result, error) {
	if opts.Sink == nil {
		opts.Sink = progress.NopSink{}
	}

	paths := make([]string, 0, len(fileMap))
	for p := range fileMap {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	workers := pipeline.DynamicParallelism(len(paths), averageSize(fileMap))
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	failed := make([]bool, len(paths))
	var cancelled atomic.Bool

	for i, logicalPath := range paths {
		i, logicalPath := i, logicalPath
		ef := fileMap[logicalPath]
		if err := sem.Acquire(gctx, 1); err != nil {
			cancelled.Store(true)
			for j := i; j < len(paths); j++ {
				failed[j] = true
			}
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if cancelled.Load() || gctx.Err() != nil {
				failed[i] = true
				return nil
			}

			opts.Sink.OnFileStart(logicalPath)
			err := restoreOne(destDir, ef, opts)
			if err != nil {
				failed[i] = true
				opts.Sink.OnFileEnd(progress.FileResult{Path: logicalPath, Success: false, Err: err})
				return nil
			}
			opts.Sink.OnFileEnd(progress.FileResult{Path: logicalPath, Success: true})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var result Result
	for i, p := range paths {
		if failed[i] {
			result.Failures = append(result.Failures, p)
		} else {
			result.Restored = append(result.Restored, p)
		}
	}
	return result, nil
}

func averageSize(fileMap map[string]EffectiveFile) int64 {
	if len(fileMap) == 0 {
		return 0
	}
	var total int64
	for _, ef := range fileMap {
		total += ef.record.OriginalSize
	}
	return total / int64(len(fileMap))
}

// restoreOne decrypts/decompresses one stored file into destDir,
// verifying both the stored-bytes checksum (via the entry's
// .integrity sidecar, if present) and the restored plaintext's
// recorded SHA-256 before the write is made visible via rename.
func restoreOne(destDir string, ef EffectiveFile, opts Options) error {
	rec := ef.record
	if err := pathsafe.ValidateShallow(rec.LogicalPath); err != nil {
		return err
	}
	storedAbs := filepath.Join(ef.rootDir, filepath.FromSlash(rec.StoredPath))

	if ledger, err := integrity.Read(manifest.IntegrityPath(ef.rootDir)); err == nil {
		if want, ok := ledger[rec.StoredPath]; ok {
			f, err := os.Open(storedAbs)
			if err != nil {
				return errs.Wrap(err, "opening stored file for integrity check")
			}
			verifyErr := integrity.Verify(f, want)
			f.Close()
			if verifyErr != nil {
				return verifyErr
			}
		}
	}

	src, err := os.Open(storedAbs)
	if err != nil {
		return errs.Wrap(err, "opening stored file")
	}
	defer src.Close()

	var reader io.Reader = src
	var closer io.Closer

	if rec.Flags&manifest.FlagEncrypted != 0 {
		if opts.MasterKey == nil {
			return errs.Wrap(errs.ErrPasswordRequired, "entry is encrypted but no key was supplied")
		}
		nonceBase, err := hex.DecodeString(rec.NonceBase)
		if err != nil {
			return errs.Wrap(err, "decoding stored nonce base")
		}
		sr, err := aead.NewStreamReader(src, opts.MasterKey.Bytes())
		if err != nil {
			return err
		}
		if !hmacEqual(sr.Header().NonceBase[:], nonceBase) {
			return errs.Wrap(errs.ErrAuthenticationFailed, "nonce base mismatch between manifest and stored header")
		}
		reader = &chunkReader{sr: sr}
	}

	if rec.Flags&manifest.FlagCompressed != 0 {
		algo, err := algorithmFromSpec(ef.compression.Algorithm)
		if err != nil {
			return err
		}
		dec, err := compression.NewDecoder(algo, reader, compression.BombCap(rec.OriginalSize))
		if err != nil {
			return err
		}
		closer = dec
		reader = dec
	}

	destAbs, err := pathsafe.Sanitize(destDir, rec.LogicalPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
		return errs.Wrap(err, "creating restore directory")
	}

	tmpPath := destAbs + ".restoring"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.Wrap(err, "creating restore temp file")
	}

	hashErr := verifyingCopy(dst, reader, rec.SHA256Original)
	if closer != nil {
		closer.Close()
	}
	closeErr := dst.Close()

	if hashErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if hashErr != nil {
			return hashErr
		}
		return errs.Wrap(closeErr, "closing restore temp file")
	}

	if err := os.Rename(tmpPath, destAbs); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(err, "renaming restored file into place")
	}
	return nil
}

func verifyingCopy(dst io.Writer, src io.Reader, wantSHA256Hex string) error {
	hasher := sha256.New()
	tee := io.TeeReader(src, hasher)
	buf := util.GetMiBBuffer()
	defer util.PutMiBBuffer(buf)
	if _, err := io.CopyBuffer(dst, tee, buf); err != nil {
		return errs.Wrap(err, "streaming restored contents")
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got != wantSHA256Hex {
		return errs.Wrapf(errs.ErrIntegrityFailure, "restored content sha256 mismatch: want %s got %s", wantSHA256Hex, got)
	}
	return nil
}

func algorithmFromSpec(name string) (compression.Algorithm, error) {
	switch name {
	case "zstd":
		return compression.Zstd, nil
	case "gzip":
		return compression.Gzip, nil
	case "", "none":
		return compression.None, nil
	default:
		return compression.None, errs.Wrapf(errs.ErrConfigInvalid, "unknown compression algorithm %q in manifest", name)
	}
}

// chunkReader adapts aead.StreamReader's chunked interface to io.Reader.
type chunkReader struct {
	sr  *aead.StreamReader
	buf []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		chunk, err := r.sr.ReadChunk()
		if err != nil {
			return 0, err
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
