// Package compression provides the None/Zstd/Gzip codec used between
// hashing and encryption in the processing pipeline. Codecs are streaming
// so the pipeline never has to hold a whole file in memory.
package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// Algorithm identifies a codec variant. The zero value is None.
type Algorithm uint8

const (
	None Algorithm = iota
	Zstd
	Gzip
)

func (a Algorithm) String() string {
	switch a {
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	default:
		return "none"
	}
}

const (
	// DefaultZstdLevel and the permitted range for zstd.
	DefaultZstdLevel = 3
	MinZstdLevel     = 1
	MaxZstdLevel     = 22

	// DefaultGzipLevel and the permitted range for gzip.
	DefaultGzipLevel = 6
	MinGzipLevel     = 1
	MaxGzipLevel     = 9

	// minBombCap is the floor of the decompression output cap regardless
	// of how small the declared original size is.
	minBombCap = 64 * 1024 * 1024 // 64 MiB
)

// ValidateLevel checks level against the permitted range for algo.
func ValidateLevel(algo Algorithm, level int) error {
	switch algo {
	case Zstd:
		if level < MinZstdLevel || level > MaxZstdLevel {
			return errs.Wrapf(errs.ErrConfigInvalid, "zstd level %d out of range [%d,%d]", level, MinZstdLevel, MaxZstdLevel)
		}
	case Gzip:
		if level < MinGzipLevel || level > MaxGzipLevel {
			return errs.Wrapf(errs.ErrConfigInvalid, "gzip level %d out of range [%d,%d]", level, MinGzipLevel, MaxGzipLevel)
		}
	case None:
	default:
		return errs.Wrapf(errs.ErrConfigInvalid, "unknown compression algorithm %d", algo)
	}
	return nil
}

// BombCap returns the maximum number of decompressed bytes permitted for
// a stream whose declared original size is declaredSize.
func BombCap(declaredSize int64) int64 {
	cap5pct := declaredSize + declaredSize/20
	if cap5pct < minBombCap {
		return minBombCap
	}
	return cap5pct
}

// NewEncoder wraps w so that writes to the returned WriteCloser are
// compressed under algo/level before reaching w. Closing the encoder
// flushes and finalizes the stream but does not close w.
func NewEncoder(algo Algorithm, level int, w io.Writer) (io.WriteCloser, error) {
	if err := ValidateLevel(algo, level); err != nil {
		return nil, err
	}
	switch algo {
	case None:
		return nopWriteCloser{w}, nil
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, errs.Wrap(err, "constructing zstd encoder")
		}
		return enc, nil
	case Gzip:
		gz, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, errs.Wrap(err, "constructing gzip encoder")
		}
		return gz, nil
	default:
		return nil, errs.Wrapf(errs.ErrConfigInvalid, "unknown compression algorithm %d", algo)
	}
}

// NewDecoder wraps r so reads from the returned ReadCloser yield
// decompressed bytes, with reads past cap bytes returning
// ErrResourceLimitExceeded rather than unbounded memory/disk growth.
func NewDecoder(algo Algorithm, r io.Reader, cap int64) (io.ReadCloser, error) {
	var inner io.Reader
	var closer func() error

	switch algo {
	case None:
		inner = r
		closer = func() error { return nil }
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errs.Wrap(err, "constructing zstd decoder")
		}
		inner = dec
		closer = func() error { dec.Close(); return nil }
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errs.Wrap(err, "constructing gzip decoder")
		}
		inner = gz
		closer = gz.Close
	default:
		return nil, errs.Wrapf(errs.ErrConfigInvalid, "unknown compression algorithm %d", algo)
	}

	return &cappedReader{r: inner, remaining: cap, close: closer}, nil
}

type cappedReader struct {
	r         io.Reader
	remaining int64
	close     func() error
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, errs.Wrap(errs.ErrResourceLimitExceeded, "decompression output cap exceeded")
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}

func (c *cappedReader) Close() error { return c.close() }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// CompressBuffer is a convenience one-shot helper used by the single-shot
// AEAD path: it fully compresses plaintext in memory and returns the
// result.
func CompressBuffer(algo Algorithm, level int, plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := NewEncoder(algo, level, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(plaintext); err != nil {
		return nil, errs.Wrap(err, "compressing buffer")
	}
	if err := enc.Close(); err != nil {
		return nil, errs.Wrap(err, "finalizing compressed buffer")
	}
	return buf.Bytes(), nil
}

// DecompressBuffer is the inverse of CompressBuffer, enforcing cap.
func DecompressBuffer(algo Algorithm, compressed []byte, cap int64) ([]byte, error) {
	dec, err := NewDecoder(algo, bytes.NewReader(compressed), cap)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, errs.Wrap(err, "decompressing buffer")
	}
	return out, nil
}
