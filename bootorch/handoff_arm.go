//go:build iap_mmio

package bootorch

import (
	"unsafe"

	"github.com/synthread/go-iap-bootloader/layout"
)

// vtorRegister is the Cortex-M Vector Table Offset Register. Relocating
// it before the branch is what makes the application's own interrupt
// vectors take effect instead of the bootloader's.
const vtorRegister = 0xE000ED08

// armBranch sets the main stack pointer to sp and branches to pc. It
// is implemented in handoff_arm.s; there is no Go body because the
// operation is inherently a raw MSP/PC write with no return.
func armBranch(sp, pc uint32)

// DefaultHandOff is the target build's HandOff: it relocates the
// vector table to the destination bank's payload and branches into it.
// Execute does not return on success.
type DefaultHandOff struct{}

// NewHandOff returns the target build's HandOff.
func NewHandOff() *DefaultHandOff {
	return &DefaultHandOff{}
}

// Execute relocates VTOR to bank's payload base and branches to
// resetVector with sp loaded into the main stack pointer. It only
// returns an error; on success control never comes back.
func (DefaultHandOff) Execute(bank layout.Bank, sp, resetVector uint32) (HandOffRecord, error) {
	payloadBase := bank.Offset() + layout.HeaderSize
	vtor := (*uint32)(unsafe.Pointer(uintptr(vtorRegister)))
	*vtor = payloadBase

	armBranch(sp, resetVector)
	// unreachable
	return HandOffRecord{Bank: bank, StackPointer: sp, ResetVector: resetVector}, nil
}
