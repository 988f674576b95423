package image

import "github.com/pkg/errors"

// ErrBadMagic is returned when a header's magic field does not match
// FirmwareMagic.
var ErrBadMagic = errors.New("image: bad magic")

// ErrBadSize is returned when a header's firmware_size field is zero
// or exceeds the bank's usable payload size.
var ErrBadSize = errors.New("image: bad firmware size")

// ErrCrcMismatch is returned when the recomputed CRC-32 over the
// payload does not match the header's firmware_crc32 field.
var ErrCrcMismatch = errors.New("image: crc mismatch")

// ErrBadStackPointer is returned when the candidate initial stack
// pointer read from the payload does not lie in RAM.
var ErrBadStackPointer = errors.New("image: bad stack pointer")
