package aead

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestStreamRoundTrip(t *testing.T) {
	key := testKey()
	salt := bytes.Repeat([]byte{0x01}, 16)
	base, err := NewNonceBase()
	require.NoError(t, err)

	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, key, salt, base, 16)
	require.NoError(t, err)

	chunks := [][]byte{
		[]byte("hello world"),
		[]byte("another chunk"),
		[]byte("last"),
	}
	for _, c := range chunks {
		require.NoError(t, sw.WriteChunk(c))
	}
	require.NoError(t, sw.Close())

	sr, err := NewStreamReader(&buf, key)
	require.NoError(t, err)

	var got [][]byte
	for {
		chunk, err := sr.ReadChunk()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}
	require.Len(t, got, len(chunks))
	for i, c := range chunks {
		assert.Equal(t, c, got[i])
	}
}

func TestStreamReaderRejectsTamperedCiphertext(t *testing.T) {
	key := testKey()
	salt := bytes.Repeat([]byte{0x01}, 16)
	base, err := NewNonceBase()
	require.NoError(t, err)

	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, key, salt, base, DefaultChunkSize)
	require.NoError(t, err)
	require.NoError(t, sw.WriteChunk([]byte("sensitive payload")))
	require.NoError(t, sw.Close())

	wire := buf.Bytes()
	wire[len(wire)-5] ^= 0xFF // flip a byte inside the tag region

	sr, err := NewStreamReader(bytes.NewReader(wire), key)
	require.NoError(t, err)
	_, err = sr.ReadChunk()
	require.Error(t, err)
}

func TestStreamReaderRejectsBadMagic(t *testing.T) {
	bad := make([]byte, headerFixedLen)
	copy(bad, "XXXX")
	_, err := NewStreamReader(bytes.NewReader(bad), testKey())
	require.Error(t, err)
}

func TestOneShotRoundTrip(t *testing.T) {
	key := testKey()
	salt := bytes.Repeat([]byte{0x09}, 16)
	base, err := NewNonceBase()
	require.NoError(t, err)

	wire, err := SealOneShot(key, salt, base, []byte("small secret"))
	require.NoError(t, err)

	plaintext, err := OpenOneShot(key, wire)
	require.NoError(t, err)
	assert.Equal(t, []byte("small secret"), plaintext)
}

func TestChunkNonceVariesByIndex(t *testing.T) {
	base := bytes.Repeat([]byte{0x01}, NonceBaseSize)
	n0 := chunkNonce(base, 0)
	n1 := chunkNonce(base, 1)
	assert.NotEqual(t, n0, n1)
	assert.Equal(t, n0[:4], n1[:4]) // shared base prefix
}

func TestSelfTestNonceUniquenessSmallBatch(t *testing.T) {
	assert.NoError(t, SelfTestNonceUniqueness(2000))
}

func TestWriteChunkRejectsOversizeChunk(t *testing.T) {
	var buf bytes.Buffer
	base, _ := NewNonceBase()
	sw, err := NewStreamWriter(&buf, testKey(), bytes.Repeat([]byte{0}, 16), base, 4)
	require.NoError(t, err)
	err = sw.WriteChunk([]byte("too long for chunk size"))
	require.Error(t, err)
}
