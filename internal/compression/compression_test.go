package compression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllAlgorithms(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated.")

	for _, algo := range []Algorithm{None, Zstd, Gzip} {
		t.Run(algo.String(), func(t *testing.T) {
			level := DefaultGzipLevel
			if algo == Zstd {
				level = DefaultZstdLevel
			}
			compressed, err := CompressBuffer(algo, level, payload)
			require.NoError(t, err)

			out, err := DecompressBuffer(algo, compressed, BombCap(int64(len(payload))))
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestValidateLevelRejectsOutOfRange(t *testing.T) {
	assert.Error(t, ValidateLevel(Zstd, 0))
	assert.Error(t, ValidateLevel(Zstd, 23))
	assert.Error(t, ValidateLevel(Gzip, 0))
	assert.Error(t, ValidateLevel(Gzip, 10))
	assert.NoError(t, ValidateLevel(None, 99))
}

func TestBombCapFloor(t *testing.T) {
	assert.Equal(t, int64(minBombCap), BombCap(0))
	assert.Equal(t, int64(minBombCap), BombCap(1024))
}

func TestDecompressEnforcesCap(t *testing.T) {
	payload := make([]byte, 1<<20)
	compressed, err := CompressBuffer(Zstd, DefaultZstdLevel, payload)
	require.NoError(t, err)

	_, err = DecompressBuffer(Zstd, compressed, 1024)
	require.Error(t, err)
}
