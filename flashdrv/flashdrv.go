// Package flashdrv implements the flash driver (C1): page-aligned
// erase, half-word program, and mapped read over the on-chip flash
// array.
//
// Flash is assumed erasable only to 0xFF and programmable only by
// clearing bits; the driver never re-erases before a write, that
// responsibility belongs to callers (ymodem and cfgstore both erase
// explicitly before their write sequences, per spec.md).
package flashdrv

import (
	"github.com/pkg/errors"

	"github.com/synthread/go-iap-bootloader/layout"
)

// Device is the raw cell array a Driver programs. It is small on
// purpose: everything about paging, alignment and byte-order lives in
// Driver, not here, so a target build only has to implement three
// primitives against its flash controller registers.
type Device interface {
	// ErasePage erases the page at the given page index (addr /
	// layout.PageSize) to all 0xFF. Returns ErrFlashBusy if the
	// controller reports the erase did not complete.
	ErasePage(page int) error
	// ProgramHalfWord writes hw at the given byte offset, which must
	// be half-word aligned. Returns ErrFlashProgramError if the write
	// does not verify.
	ProgramHalfWord(offset uint32, hw uint16) error
	// ReadAt copies len(out) bytes starting at offset into out.
	ReadAt(offset uint32, out []byte) error
}

// Driver implements the page/half-word semantics of spec.md C1 over a
// Device.
type Driver struct {
	dev Device
}

// New wraps dev in a Driver.
func New(dev Device) *Driver {
	return &Driver{dev: dev}
}

// Erase erases nPages consecutive pages starting at addr, which must
// be page-aligned. Partial erase (some pages erased, then a failure)
// is permitted; the caller treats any error as fatal for the target
// bank, per spec.md.
func (d *Driver) Erase(addr uint32, nPages int) error {
	if addr%layout.PageSize != 0 {
		return errors.Wrapf(ErrMisaligned, "erase addr 0x%X not page-aligned", addr)
	}

	firstPage := int(addr / layout.PageSize)
	for i := 0; i < nPages; i++ {
		if err := d.dev.ErasePage(firstPage + i); err != nil {
			return errors.Wrapf(ErrFlashBusy, "erase page %d (addr 0x%X): %v", firstPage+i, addr+uint32(i)*layout.PageSize, err)
		}
	}
	return nil
}

// Program writes bytes at addr, which must be half-word aligned; len(bytes)
// must be even. Odd tails, if they occur in the last frame of a
// transfer, must be padded by the caller with 0xFF before calling
// Program.
func (d *Driver) Program(addr uint32, bytes []byte) error {
	if addr%2 != 0 {
		return errors.Wrapf(ErrMisaligned, "program addr 0x%X not half-word aligned", addr)
	}
	if len(bytes)%2 != 0 {
		return errors.Wrapf(ErrOddLength, "program length %d at addr 0x%X", len(bytes), addr)
	}

	for i := 0; i < len(bytes); i += 2 {
		hw := uint16(bytes[i]) | uint16(bytes[i+1])<<8 // little-endian
		if err := d.dev.ProgramHalfWord(addr+uint32(i), hw); err != nil {
			return errors.Wrapf(ErrFlashProgramError, "program half-word at 0x%X: %v", addr+uint32(i), err)
		}
	}
	return nil
}

// Read copies len(out) bytes from addr into out via a direct memory
// copy from the flash-mapped region.
func (d *Driver) Read(addr uint32, out []byte) error {
	return d.dev.ReadAt(addr, out)
}

// ReadAt satisfies crc32eng.FlashReader and image's flash reader needs
// directly against the Driver, so callers don't have to route every
// read through the underlying Device.
func (d *Driver) ReadAt(addr uint32, out []byte) error {
	return d.Read(addr, out)
}
