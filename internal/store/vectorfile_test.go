package store

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVectorFile_Roundtrip(t *testing.T) {
	vec := []float32{0.1, -0.2, 0.3, 1.5, -9.25}
	data := encodeVectorFile(vec)

	got, err := decodeVectorFile(data)
	require.NoError(t, err)
	require.Equal(t, vec, got)
}

func TestDecodeVectorFile_BadMagic(t *testing.T) {
	data := encodeVectorFile([]float32{1, 2})
	data[0] = 'X'

	_, err := decodeVectorFile(data)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestDecodeVectorFile_TruncatedChecksum(t *testing.T) {
	data := encodeVectorFile([]float32{1, 2, 3})
	corrupted := data[:len(data)-1]

	_, err := decodeVectorFile(corrupted)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestDecodeVectorFile_FlippedByteFailsChecksum(t *testing.T) {
	data := encodeVectorFile([]float32{1, 2, 3})
	data[12] ^= 0xFF

	_, err := decodeVectorFile(data)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestWriteVectorFile_RoundtripThroughDisk(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/a.vec.bin"
	vec := []float32{4, 5, 6}

	require.NoError(t, writeVectorFile(path, vec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	got, err := decodeVectorFile(data)
	require.NoError(t, err)
	require.Equal(t, vec, got)
}
