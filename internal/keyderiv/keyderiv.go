// Package keyderiv turns a user password into the 32-byte MasterKey used
// by the AEAD engine, via Argon2id. This is AUDIT-CRITICAL code: the
// parameters recorded alongside a BackupEntry MUST be the ones used to
// derive its key, or restore silently fails authentication.
package keyderiv

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"

	"github.com/larkspurhq/strongbox/internal/errs"
)

const (
	// SaltSize is the length in bytes of the Argon2id salt stored in the
	// manifest alongside each encrypted entry.
	SaltSize = 16

	// KeySize is the length in bytes of the derived master key (AES-256).
	KeySize = 32

	// MinMemoryCostKiB is the floor on memory_cost (19 MiB).
	MinMemoryCostKiB = 19 * 1024
	// DefaultMemoryCostKiB is the default Argon2id memory cost (128 MiB).
	DefaultMemoryCostKiB = 131072

	// MinTimeCost is the floor on time_cost (passes).
	MinTimeCost = 2
	// DefaultTimeCost is the default Argon2id pass count.
	DefaultTimeCost = 4

	// MinParallelism is the floor on parallelism.
	MinParallelism = 1
	// DefaultParallelism is the default Argon2id lane count.
	DefaultParallelism = 2
)

// Params holds the Argon2id tuning recorded with an encrypted entry. Zero
// value is invalid; use DefaultParams.
type Params struct {
	MemoryCostKiB uint32
	TimeCost      uint32
	Parallelism   uint8
}

// DefaultParams returns the recommended Argon2id parameters.
func DefaultParams() Params {
	return Params{
		MemoryCostKiB: DefaultMemoryCostKiB,
		TimeCost:      DefaultTimeCost,
		Parallelism:   DefaultParallelism,
	}
}

// Validate enforces the floors on Params so a weakened configuration can
// never be silently accepted from a config file.
func (p Params) Validate() error {
	if p.MemoryCostKiB < MinMemoryCostKiB {
		return errs.Wrapf(errs.ErrConfigInvalid, "argon2 memory_cost %d KiB below floor %d KiB", p.MemoryCostKiB, MinMemoryCostKiB)
	}
	if p.TimeCost < MinTimeCost {
		return errs.Wrapf(errs.ErrConfigInvalid, "argon2 time_cost %d below floor %d", p.TimeCost, MinTimeCost)
	}
	if p.Parallelism < MinParallelism {
		return errs.Wrapf(errs.ErrConfigInvalid, "argon2 parallelism %d below floor %d", p.Parallelism, MinParallelism)
	}
	return nil
}

// MasterKey wraps the 32-byte Argon2id output. The zero value is unusable;
// construct via Derive. Callers MUST call Close (typically deferred)
// exactly once the key material is no longer needed.
type MasterKey struct {
	bytes  []byte
	closed bool
}

// NewSalt draws SaltSize bytes from the OS CSPRNG.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errs.Wrap(err, "reading salt from csprng")
	}
	return salt, nil
}

// Derive runs Argon2id over password and salt under params, returning a
// MasterKey that owns its own copy of the output and must be Close()d.
func Derive(password, salt []byte, params Params) (*MasterKey, error) {
	if len(salt) != SaltSize {
		return nil, errs.Wrapf(errs.ErrConfigInvalid, "salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key := argon2.IDKey(password, salt, params.TimeCost, params.MemoryCostKiB, params.Parallelism, KeySize)

	if subtle.ConstantTimeCompare(key, make([]byte, KeySize)) == 1 {
		zero(key)
		return nil, errs.Wrap(errs.ErrIOError, "argon2id produced an all-zero key")
	}

	return &MasterKey{bytes: key}, nil
}

// Bytes returns the 32-byte key. Returns nil once Close has been called.
func (k *MasterKey) Bytes() []byte {
	if k == nil || k.closed {
		return nil
	}
	return k.bytes
}

// Close overwrites the key material with zeros. Idempotent and safe to
// call on a nil receiver.
func (k *MasterKey) Close() {
	if k == nil || k.closed {
		return
	}
	zero(k.bytes)
	k.bytes = nil
	k.closed = true
}

// zero overwrites b with zeros using a constant-time copy so the compiler
// cannot eliminate the write as dead code.
func zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
