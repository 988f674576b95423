package flashdrv

import "github.com/pkg/errors"

// RAMDevice is a host/test Device backed by a plain byte slice. It
// models flash physics closely enough to exercise the driver's
// contracts: pages start erased to 0xFF, and a program that would set
// a 0 bit back to 1 without an intervening erase fails exactly like
// real flash would refuse the write.
type RAMDevice struct {
	Bytes    []byte
	pageSize int
}

// NewRAMDevice allocates size bytes, all 0xFF, with the given page
// size for ErasePage.
func NewRAMDevice(size, pageSize int) *RAMDevice {
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xFF
	}
	return &RAMDevice{Bytes: b, pageSize: pageSize}
}

func (r *RAMDevice) ErasePage(page int) error {
	start := page * r.pageSize
	end := start + r.pageSize
	if start < 0 || end > len(r.Bytes) {
		return errors.Errorf("page %d out of range", page)
	}
	for i := start; i < end; i++ {
		r.Bytes[i] = 0xFF
	}
	return nil
}

func (r *RAMDevice) ProgramHalfWord(offset uint32, hw uint16) error {
	if int(offset)+2 > len(r.Bytes) {
		return errors.Errorf("offset 0x%X out of range", offset)
	}
	lo, hi := byte(hw), byte(hw>>8)
	cur := r.Bytes[offset : offset+2]
	// Flash can only clear bits, never set them, without an erase.
	if cur[0]&lo != lo || cur[1]&hi != hi {
		return errors.Errorf("offset 0x%X: cannot set bit without erase (have %02x%02x, want %02x%02x)", offset, cur[0], cur[1], lo, hi)
	}
	r.Bytes[offset] = lo
	r.Bytes[offset+1] = hi
	return nil
}

func (r *RAMDevice) ReadAt(offset uint32, out []byte) error {
	if int(offset)+len(out) > len(r.Bytes) {
		return errors.Errorf("read at 0x%X len %d out of range", offset, len(out))
	}
	copy(out, r.Bytes[offset:])
	return nil
}
