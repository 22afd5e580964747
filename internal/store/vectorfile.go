package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/localci/codeindexer/internal/atomicfile"
)

// vectorFileMagic identifies a chunk vector file: "CVEC".
var vectorFileMagic = [4]byte{'C', 'V', 'E', 'C'}

const vectorFileVersion uint16 = 1

// encodeVectorFile serializes vec as magic(4) + version(2, LE) +
// dimension(4, LE) + dimension*float32(LE) + crc32(4, LE) over
// everything preceding it.
func encodeVectorFile(vec []float32) []byte {
	dim := len(vec)
	size := 4 + 2 + 4 + dim*4 + 4
	buf := make([]byte, size)

	copy(buf[0:4], vectorFileMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], vectorFileVersion)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(dim))

	off := 10
	for _, f := range vec {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(f))
		off += 4
	}

	checksum := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], checksum)
	return buf
}

// decodeVectorFile validates the magic, version, and checksum of data
// and returns the embedded vector. Returns ErrCorrupt on any mismatch.
func decodeVectorFile(data []byte) ([]float32, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("%w: vector file too short", ErrCorrupt)
	}
	if string(data[0:4]) != string(vectorFileMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != vectorFileVersion {
		return nil, fmt.Errorf("%w: unsupported vector file version %d", ErrCorrupt, version)
	}
	dim := int(binary.LittleEndian.Uint32(data[6:10]))
	wantLen := 10 + dim*4 + 4
	if len(data) != wantLen {
		return nil, fmt.Errorf("%w: vector file length mismatch", ErrCorrupt)
	}

	body := data[:10+dim*4]
	want := binary.LittleEndian.Uint32(data[10+dim*4:])
	got := crc32.ChecksumIEEE(body)
	if got != want {
		return nil, fmt.Errorf("%w: crc32 mismatch", ErrCorrupt)
	}

	vec := make([]float32, dim)
	off := 10
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}
	return vec, nil
}

// writeVectorFile atomically writes vec to path.
func writeVectorFile(path string, vec []float32) error {
	return atomicfile.Write(path, encodeVectorFile(vec), 0o644)
}
