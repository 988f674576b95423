package crc32eng

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumBytesKnownVectors(t *testing.T) {
	require.Equal(t, uint32(0x00000000), ChecksumBytes(nil))
	require.Equal(t, uint32(0x00000000), ChecksumBytes([]byte{}))
	require.Equal(t, uint32(0xCBF43926), ChecksumBytes([]byte("123456789")))
}

type fakeFlash struct {
	data []byte
}

func (f *fakeFlash) ReadAt(off uint32, out []byte) error {
	copy(out, f.data[off:])
	return nil
}

func TestChecksumFlashMatchesChecksumBytes(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i * 7)
	}
	dev := &fakeFlash{data: data}

	got, err := ChecksumFlash(dev, 0, len(data))
	require.NoError(t, err)
	require.Equal(t, ChecksumBytes(data), got)
}

func TestChecksumFlashOffsetAndSubrange(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	dev := &fakeFlash{data: data}

	const off = 4
	const n = 5 // "quick"
	got, err := ChecksumFlash(dev, off, n)
	require.NoError(t, err)
	require.Equal(t, ChecksumBytes(data[off:off+n]), got)
}
