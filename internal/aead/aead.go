// Package aead implements the streaming AES-256-GCM engine used to
// encrypt and decrypt entry payloads. This is AUDIT-CRITICAL code: the
// nonce discipline here is the only thing standing between this format
// and nonce reuse, which breaks GCM's authentication guarantee entirely.
//
// Wire format (MAGIC "BS1E", version 1), little-endian throughout:
//
//	MAGIC[4] "BS1E" | VERSION[1]=1 | FLAGS[1] | RESERVED[2]
//	| SALT[16] | NONCE_BASE[12] | CHUNK_SIZE[4]
//	| repeat: CHUNK_LEN[4] | CIPHERTEXT[CHUNK_LEN] | TAG[16]
//	| CHUNK_LEN[4]=0 (terminator)
package aead

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/larkspurhq/strongbox/internal/errs"
)

const (
	// Magic identifies the on-disk encrypted-file format.
	Magic = "BS1E"
	// Version1 is the only wire version this package currently emits.
	Version1 = 1

	// NonceBaseSize is the length of the per-file random nonce base.
	NonceBaseSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16

	// DefaultChunkSize is used when a caller does not specify one.
	DefaultChunkSize = 1 << 20 // 1 MiB
	// MaxChunkSize bounds configurable chunk sizes.
	MaxChunkSize = 16 << 20 // 16 MiB
	// MaxSingleShot is the largest payload handled by the one-shot API
	// before chunked streaming must be used instead.
	MaxSingleShot = 64 * 1024

	headerFixedLen = 4 + 1 + 1 + 2 + 16 + NonceBaseSize + 4
)

// NewNonceBase draws NonceBaseSize bytes from the OS CSPRNG, one per file.
func NewNonceBase() ([]byte, error) {
	b := make([]byte, NonceBaseSize)
	if _, err := rand.Read(b); err != nil {
		return nil, errs.Wrap(err, "reading nonce base from csprng")
	}
	return b, nil
}

// chunkNonce computes base[0..4] || LE64(index), the chunk's 12-byte GCM
// nonce. index must never repeat for a given base within one file; the
// streaming writer/reader below enforce that by construction.
func chunkNonce(base []byte, index uint64) []byte {
	nonce := make([]byte, NonceBaseSize)
	copy(nonce, base[:4])
	binary.LittleEndian.PutUint64(nonce[4:], index)
	return nonce
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(err, "constructing aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(err, "constructing gcm mode")
	}
	return gcm, nil
}

// Header is the fixed-size preamble of an encrypted file.
type Header struct {
	Version   uint8
	Flags     uint8
	Salt      [16]byte
	NonceBase [NonceBaseSize]byte
	ChunkSize uint32
}

func writeHeader(w io.Writer, h Header) error {
	buf := make([]byte, headerFixedLen)
	copy(buf[0:4], Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	// bytes 6:8 reserved, left zero.
	copy(buf[8:24], h.Salt[:])
	copy(buf[24:24+NonceBaseSize], h.NonceBase[:])
	binary.LittleEndian.PutUint32(buf[24+NonceBaseSize:], h.ChunkSize)
	_, err := w.Write(buf)
	return errs.Wrap(err, "writing header")
}

func readHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerFixedLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, errs.Wrap(err, "reading header")
	}
	if !bytes.Equal(buf[0:4], []byte(Magic)) {
		return Header{}, errs.Wrap(errs.ErrAuthenticationFailed, "unrecognized magic")
	}
	version := buf[4]
	if version != Version1 {
		return Header{}, errs.Wrapf(errs.ErrAuthenticationFailed, "unsupported version %d", version)
	}
	var h Header
	h.Version = version
	h.Flags = buf[5]
	copy(h.Salt[:], buf[8:24])
	copy(h.NonceBase[:], buf[24:24+NonceBaseSize])
	h.ChunkSize = binary.LittleEndian.Uint32(buf[24+NonceBaseSize:])
	return h, nil
}

// StreamWriter encrypts a sequence of plaintext chunks to w, writing the
// header on first use and the zero-length terminator on Close.
type StreamWriter struct {
	w          io.Writer
	gcm        cipher.AEAD
	nonceBase  []byte
	chunkSize  uint32
	index      uint64
	headerDone bool
	closed     bool
}

// NewStreamWriter prepares a writer for an encrypted file. salt is the
// Argon2id salt recorded for this entry (stored in the header for
// self-description; it is not used cryptographically by this package).
func NewStreamWriter(w io.Writer, key, salt, nonceBase []byte, chunkSize uint32) (*StreamWriter, error) {
	if len(salt) != 16 {
		return nil, errs.Wrapf(errs.ErrConfigInvalid, "salt must be 16 bytes, got %d", len(salt))
	}
	if len(nonceBase) != NonceBaseSize {
		return nil, errs.Wrapf(errs.ErrConfigInvalid, "nonce base must be %d bytes, got %d", NonceBaseSize, len(nonceBase))
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > MaxChunkSize {
		return nil, errs.Wrapf(errs.ErrConfigInvalid, "chunk size %d exceeds max %d", chunkSize, MaxChunkSize)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sw := &StreamWriter{w: w, gcm: gcm, nonceBase: append([]byte(nil), nonceBase...), chunkSize: chunkSize}

	var h Header
	h.Version = Version1
	copy(h.Salt[:], salt)
	copy(h.NonceBase[:], nonceBase)
	h.ChunkSize = chunkSize
	if err := writeHeader(w, h); err != nil {
		return nil, err
	}
	sw.headerDone = true
	return sw, nil
}

// WriteChunk encrypts and writes one chunk. plaintext must be no larger
// than the configured chunk size.
func (sw *StreamWriter) WriteChunk(plaintext []byte) error {
	if sw.closed {
		return errs.Wrap(errs.ErrIOError, "write on closed stream")
	}
	if uint32(len(plaintext)) > sw.chunkSize {
		return errs.Wrapf(errs.ErrConfigInvalid, "chunk length %d exceeds configured size %d", len(plaintext), sw.chunkSize)
	}
	if sw.index == ^uint64(0) {
		return errs.Wrap(errs.ErrResourceLimitExceeded, "chunk index overflow")
	}

	nonce := chunkNonce(sw.nonceBase, sw.index)
	ciphertext := sw.gcm.Seal(nil, nonce, plaintext, nil)
	sw.index++

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)-TagSize))
	if _, err := sw.w.Write(lenBuf[:]); err != nil {
		return errs.Wrap(err, "writing chunk length")
	}
	if _, err := sw.w.Write(ciphertext); err != nil {
		return errs.Wrap(err, "writing chunk ciphertext")
	}
	return nil
}

// Close writes the zero-length terminator. It does not close the
// underlying writer.
func (sw *StreamWriter) Close() error {
	if sw.closed {
		return nil
	}
	sw.closed = true
	var lenBuf [4]byte
	_, err := sw.w.Write(lenBuf[:])
	return errs.Wrap(err, "writing terminator")
}

// StreamReader decrypts a sequence of chunks previously written by
// StreamWriter, verifying each chunk's tag before returning its plaintext.
type StreamReader struct {
	r      io.Reader
	gcm    cipher.AEAD
	header Header
	index  uint64
	done   bool
}

// NewStreamReader reads and validates the header, then returns a reader
// positioned at the first chunk.
func NewStreamReader(r io.Reader, key []byte) (*StreamReader, error) {
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &StreamReader{r: r, gcm: gcm, header: header}, nil
}

// Header returns the validated header of the stream being read.
func (sr *StreamReader) Header() Header { return sr.header }

// ReadChunk returns the next chunk's verified plaintext, or io.EOF once
// the terminator has been consumed. Any tag mismatch returns
// errs.ErrAuthenticationFailed; callers MUST treat this as fatal for the
// whole file and discard any plaintext already written downstream.
func (sr *StreamReader) ReadChunk() ([]byte, error) {
	if sr.done {
		return nil, io.EOF
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(sr.r, lenBuf[:]); err != nil {
		return nil, errs.Wrap(err, "reading chunk length")
	}
	chunkLen := binary.LittleEndian.Uint32(lenBuf[:])
	if chunkLen == 0 {
		sr.done = true
		return nil, io.EOF
	}
	if chunkLen > MaxChunkSize+TagSize {
		return nil, errs.Wrapf(errs.ErrResourceLimitExceeded, "chunk length %d exceeds max", chunkLen)
	}

	ciphertext := make([]byte, int(chunkLen)+TagSize)
	if _, err := io.ReadFull(sr.r, ciphertext); err != nil {
		return nil, errs.Wrap(err, "reading chunk ciphertext")
	}

	nonce := chunkNonce(sr.header.NonceBase[:], sr.index)
	plaintext, err := sr.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAuthenticationFailed, "chunk authentication failed")
	}
	sr.index++
	return plaintext, nil
}

// SealOneShot encrypts plaintext (at most MaxSingleShot bytes) in a single
// GCM operation and returns the full wire-format encoding including
// header and terminator.
func SealOneShot(key, salt, nonceBase, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxSingleShot {
		return nil, errs.Wrapf(errs.ErrConfigInvalid, "one-shot payload %d exceeds max %d", len(plaintext), MaxSingleShot)
	}
	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, key, salt, nonceBase, DefaultChunkSize)
	if err != nil {
		return nil, err
	}
	if err := sw.WriteChunk(plaintext); err != nil {
		return nil, err
	}
	if err := sw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OpenOneShot decrypts a buffer produced by SealOneShot.
func OpenOneShot(key, wire []byte) ([]byte, error) {
	sr, err := NewStreamReader(bytes.NewReader(wire), key)
	if err != nil {
		return nil, err
	}
	chunk, err := sr.ReadChunk()
	if err != nil {
		return nil, err
	}
	if _, err := sr.ReadChunk(); err != io.EOF {
		return nil, errs.Wrap(errs.ErrAuthenticationFailed, "expected single chunk, found more data")
	}
	return chunk, nil
}

// SelfTestNonceUniqueness draws n independent nonce bases and verifies
// none collide. Intended to run once at process startup; n=10000 matches
// the required verification batch size.
func SelfTestNonceUniqueness(n int) error {
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		base, err := NewNonceBase()
		if err != nil {
			return err
		}
		key := string(base)
		if _, exists := seen[key]; exists {
			return errs.Wrapf(errs.ErrIOError, "nonce base collision detected after %d draws", i+1)
		}
		seen[key] = struct{}{}
	}
	return nil
}
