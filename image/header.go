// Package image implements the image verifier (C5): parsing and
// integrity checking of the 24-byte firmware header that precedes an
// application's vector table and code in a flash bank.
//
// Header also doubles as the on-disk schema for a bank's metadata
// snapshot inside the persistent config record (spec.md §3), so
// cfgstore imports this package rather than the other way around --
// image never needs to know about the config record.
package image

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/synthread/go-iap-bootloader/layout"
)

// FirmwareMagic identifies a well-formed image header.
const FirmwareMagic uint32 = 0x5AA5F00F

// ValidMarker is the value IsValid holds once a bank has been
// accepted.
const ValidMarker uint8 = 0xAA

// ramBaseMask/ramBasePattern implement the reference MCU's RAM-address
// sanity test on a candidate stack pointer: the top 16 bits must equal
// the RAM base pattern.
const (
	ramBaseMask    uint32 = 0x2FFF0000
	ramBasePattern uint32 = 0x20000000
)

// Header is the 24-byte image header schema of spec.md §3.
type Header struct {
	Magic          uint32
	VersionMajor   uint8
	VersionMinor   uint8
	VersionPatch   uint8
	Reserved1      uint8
	FirmwareSize   uint32
	FirmwareCRC32  uint32
	BuildTimestamp uint32
	IsValid        uint8
	Reserved2      [3]uint8
}

// Size is the encoded length of Header in bytes.
const Size = layout.HeaderSize

// FlashReader is the minimal read surface image needs, satisfied by
// flashdrv.Driver.
type FlashReader interface {
	ReadAt(off uint32, out []byte) error
}

// Decode parses a Header out of exactly Size bytes, little-endian, as
// laid out in spec.md §3. It performs no validation beyond having
// enough bytes -- use ParseHeader for the magic/size checks.
func Decode(buf []byte) (Header, error) {
	if len(buf) < Size {
		return Header{}, errors.Errorf("image: short header buffer (%d < %d)", len(buf), Size)
	}

	h := Header{
		Magic:          binary.LittleEndian.Uint32(buf[0:4]),
		VersionMajor:   buf[4],
		VersionMinor:   buf[5],
		VersionPatch:   buf[6],
		Reserved1:      buf[7],
		FirmwareSize:   binary.LittleEndian.Uint32(buf[8:12]),
		FirmwareCRC32:  binary.LittleEndian.Uint32(buf[12:16]),
		BuildTimestamp: binary.LittleEndian.Uint32(buf[16:20]),
		IsValid:        buf[20],
	}
	copy(h.Reserved2[:], buf[21:24])
	return h, nil
}

// Encode serializes h into exactly Size bytes, little-endian.
func Encode(h Header) []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.VersionMajor
	buf[5] = h.VersionMinor
	buf[6] = h.VersionPatch
	buf[7] = h.Reserved1
	binary.LittleEndian.PutUint32(buf[8:12], h.FirmwareSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.FirmwareCRC32)
	binary.LittleEndian.PutUint32(buf[16:20], h.BuildTimestamp)
	buf[20] = h.IsValid
	copy(buf[21:24], h.Reserved2[:])
	return buf
}

// ParseHeader reads a header from bankBase and validates its magic and
// size, per spec.md §4.5. Size is rejected if zero or greater than the
// bank's usable payload (BankSize - HeaderSize).
func ParseHeader(r FlashReader, bankBase uint32) (Header, error) {
	buf := make([]byte, Size)
	if err := r.ReadAt(bankBase, buf); err != nil {
		return Header{}, errors.Wrap(err, "image: read header")
	}

	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}

	if h.Magic != FirmwareMagic {
		return h, errors.Wrapf(ErrBadMagic, "got 0x%08X", h.Magic)
	}
	if h.FirmwareSize == 0 || h.FirmwareSize > layout.PayloadMaxSize {
		return h, errors.Wrapf(ErrBadSize, "size %d (max %d)", h.FirmwareSize, layout.PayloadMaxSize)
	}

	return h, nil
}

// stackPointerInRAM implements point 5 of Verify: the candidate SP
// must lie in RAM even though a freshly erased bank's header would
// otherwise pass a stale is_valid/CRC pair.
func stackPointerInRAM(sp uint32) bool {
	return sp&ramBaseMask == ramBasePattern
}
