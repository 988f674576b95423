package image

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/synthread/go-iap-bootloader/crc32eng"
	"github.com/synthread/go-iap-bootloader/layout"
)

// Verify checks the five conditions of spec.md §4.5 against a bank's
// metadata snapshot (info, as read from the config record by the
// caller) and the flash contents at bankBase:
//
//  1. info.Magic == FirmwareMagic
//  2. info.IsValid == ValidMarker
//  3. info.FirmwareSize in (0, BankSize - HeaderSize]
//  4. CRC-32 of [bankBase+HeaderSize, bankBase+HeaderSize+FirmwareSize)
//     equals info.FirmwareCRC32
//  5. the first payload word (candidate stack pointer) lies in RAM
//
// Verify takes info rather than reading the config record itself, so
// this package stays free of a cfgstore import -- the orchestrator
// owns the config record and passes in whatever it just read.
func Verify(r FlashReader, bankBase uint32, info Header) error {
	if info.Magic != FirmwareMagic {
		return errors.Wrapf(ErrBadMagic, "bank metadata magic 0x%08X", info.Magic)
	}
	if info.IsValid != ValidMarker {
		return errors.Errorf("image: is_valid 0x%02X, want 0x%02X", info.IsValid, ValidMarker)
	}
	if info.FirmwareSize == 0 || info.FirmwareSize > layout.PayloadMaxSize {
		return errors.Wrapf(ErrBadSize, "size %d (max %d)", info.FirmwareSize, layout.PayloadMaxSize)
	}

	payloadBase := bankBase + Size
	crc, err := crc32eng.ChecksumFlash(r, payloadBase, int(info.FirmwareSize))
	if err != nil {
		return errors.Wrap(err, "image: checksum payload")
	}
	if crc != info.FirmwareCRC32 {
		return errors.Wrapf(ErrCrcMismatch, "computed 0x%08X, header 0x%08X", crc, info.FirmwareCRC32)
	}

	var spBuf [4]byte
	if err := r.ReadAt(payloadBase, spBuf[:]); err != nil {
		return errors.Wrap(err, "image: read stack pointer")
	}
	sp := binary.LittleEndian.Uint32(spBuf[:])
	if !stackPointerInRAM(sp) {
		return errors.Wrapf(ErrBadStackPointer, "sp 0x%08X", sp)
	}

	return nil
}

// ResetVector reads the second payload word (the application's reset
// vector) from bankBase, used by the hand-off primitive after Verify
// has already established the bank is runnable.
func ResetVector(r FlashReader, bankBase uint32) (uint32, error) {
	var buf [4]byte
	if err := r.ReadAt(bankBase+Size+4, buf[:]); err != nil {
		return 0, errors.Wrap(err, "image: read reset vector")
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// StackPointer reads the first payload word (the application's
// initial stack pointer) from bankBase.
func StackPointer(r FlashReader, bankBase uint32) (uint32, error) {
	var buf [4]byte
	if err := r.ReadAt(bankBase+Size, buf[:]); err != nil {
		return 0, errors.Wrap(err, "image: read stack pointer")
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
