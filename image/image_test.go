package image

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synthread/go-iap-bootloader/crc32eng"
	"github.com/synthread/go-iap-bootloader/layout"
)

type fakeFlash struct {
	data []byte
}

func newFakeFlash(size int) *fakeFlash {
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xFF
	}
	return &fakeFlash{data: b}
}

func (f *fakeFlash) ReadAt(off uint32, out []byte) error {
	copy(out, f.data[off:])
	return nil
}

func (f *fakeFlash) write(off uint32, b []byte) {
	copy(f.data[off:], b)
}

func TestParseHeaderRejectsAllFF(t *testing.T) {
	fl := newFakeFlash(256)
	_, err := ParseHeader(fl, 0)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestParseHeaderRejectsAllZero(t *testing.T) {
	fl := newFakeFlash(256)
	for i := range fl.data {
		fl.data[i] = 0
	}
	_, err := ParseHeader(fl, 0)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestParseHeaderRejectsBadSize(t *testing.T) {
	for _, size := range []uint32{0, layout.PayloadMaxSize + 1} {
		fl := newFakeFlash(256)
		h := Header{Magic: FirmwareMagic, FirmwareSize: size}
		fl.write(0, Encode(h))

		_, err := ParseHeader(fl, 0)
		require.ErrorIs(t, err, ErrBadSize, "size=%d", size)
	}
}

func TestParseHeaderAcceptsValid(t *testing.T) {
	fl := newFakeFlash(256)
	h := Header{Magic: FirmwareMagic, FirmwareSize: 100, IsValid: ValidMarker}
	fl.write(0, Encode(h))

	got, err := ParseHeader(fl, 0)
	require.NoError(t, err)
	require.Equal(t, h.FirmwareSize, got.FirmwareSize)
}

func buildValidImage(payload []byte) (*fakeFlash, Header) {
	fl := newFakeFlash(int(layout.BankSize))
	fl.write(Size, payload)

	h := Header{
		Magic:         FirmwareMagic,
		FirmwareSize:  uint32(len(payload)),
		FirmwareCRC32: crc32eng.ChecksumBytes(payload),
		IsValid:       ValidMarker,
	}
	fl.write(0, Encode(h))
	return fl, h
}

func validPayload(n int) []byte {
	p := make([]byte, n)
	binary.LittleEndian.PutUint32(p[0:4], 0x20001000) // sp in RAM
	binary.LittleEndian.PutUint32(p[4:8], 0x08004009) // reset vector
	for i := 8; i < n; i++ {
		p[i] = byte(i)
	}
	return p
}

func TestVerifyAcceptsWellFormedImage(t *testing.T) {
	fl, h := buildValidImage(validPayload(4072))
	require.NoError(t, Verify(fl, 0, h))
}

func TestVerifySmallestLegalImage(t *testing.T) {
	fl, h := buildValidImage(validPayload(8))
	require.NoError(t, Verify(fl, 0, h))
}

func TestVerifyRejectsCrcMismatch(t *testing.T) {
	fl, h := buildValidImage(validPayload(64))
	h.FirmwareCRC32 ^= 0xFFFFFFFF
	err := Verify(fl, 0, h)
	require.ErrorIs(t, err, ErrCrcMismatch)
}

func TestVerifyRejectsBadStackPointer(t *testing.T) {
	payload := validPayload(64)
	binary.LittleEndian.PutUint32(payload[0:4], 0x00000000)
	fl, h := buildValidImage(payload)
	err := Verify(fl, 0, h)
	require.ErrorIs(t, err, ErrBadStackPointer)
}

func TestVerifyRejectsNotValid(t *testing.T) {
	fl, h := buildValidImage(validPayload(64))
	h.IsValid = 0
	err := Verify(fl, 0, h)
	require.Error(t, err)
}
