// Package crc32eng computes the IEEE 802.3 CRC-32 used by every
// integrity check in the bootloader: the firmware image header's
// firmware_crc32 field and the persistent config record's trailing
// crc32 field are computed the same way.
//
// The polynomial (reflected 0xEDB88320, initial and final XOR
// 0xFFFFFFFF) is exactly Go's stdlib IEEE table, so this package is a
// thin, allocation-free wrapper rather than a hand-rolled table -- see
// DESIGN.md for why no third-party CRC library is used here.
package crc32eng

import "hash/crc32"

// FlashReader is the minimal read surface crc32eng needs from a flash
// device, satisfied by flashdrv.Device.
type FlashReader interface {
	ReadAt(off uint32, out []byte) error
}

// scratchSize bounds the chunk used to stream a flash range through the
// checksum without allocating a buffer as large as the range itself.
const scratchSize = 256

// ChecksumBytes computes the CRC-32 of a RAM buffer. It is pure and
// deterministic: the same bytes always produce the same result.
//
// ChecksumBytes(nil) == 0x00000000, and ChecksumBytes([]byte("123456789"))
// == 0xCBF43926, the standard IEEE CRC-32 check values.
func ChecksumBytes(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// ChecksumFlash computes the CRC-32 over n bytes of a flash-mapped
// range starting at addr, reading through r in fixed-size chunks so it
// never allocates a buffer proportional to n.
func ChecksumFlash(r FlashReader, addr uint32, n int) (uint32, error) {
	var scratch [scratchSize]byte
	table := crc32.IEEETable
	var crc uint32

	for remaining := n; remaining > 0; {
		chunk := scratchSize
		if remaining < chunk {
			chunk = remaining
		}
		if err := r.ReadAt(addr, scratch[:chunk]); err != nil {
			return 0, err
		}
		crc = crc32.Update(crc, table, scratch[:chunk])
		addr += uint32(chunk)
		remaining -= chunk
	}

	return crc, nil
}
