package flashdrv

import "github.com/pkg/errors"

// ErrFlashBusy is returned when the hardware reports a non-completion
// on a page erase.
var ErrFlashBusy = errors.New("flash: erase did not complete")

// ErrFlashProgramError is returned when a half-word write does not
// verify as complete.
var ErrFlashProgramError = errors.New("flash: program did not verify")

// ErrMisaligned is returned when an address does not satisfy the
// alignment required by the requested operation.
var ErrMisaligned = errors.New("flash: address misaligned")

// ErrOddLength is returned when Program is asked to write an odd
// number of bytes; callers must pad the final frame with 0xFF.
var ErrOddLength = errors.New("flash: odd-length program buffer")
