package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardPath_FourLevels(t *testing.T) {
	got := vectorPath("/collections/c1", "deadbeef0123456789")
	require.Equal(t, "/collections/c1/vectors/de/ad/be/ef/deadbeef0123456789.vec.bin", got)
}

func TestShardPath_PayloadExtension(t *testing.T) {
	got := payloadPath("/collections/c1", "deadbeef0123456789")
	require.Equal(t, "/collections/c1/payloads/de/ad/be/ef/deadbeef0123456789.json", got)
}

func TestShardPath_ShortChunkIDPadsWithZeros(t *testing.T) {
	got := vectorPath("/c", "ab")
	require.Equal(t, "/c/vectors/ab/00/00/00/ab.vec.bin", got)
}
