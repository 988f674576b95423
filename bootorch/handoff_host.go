//go:build !iap_mmio

package bootorch

import "github.com/synthread/go-iap-bootloader/layout"

// DefaultHandOff is the host build's HandOff: there is no real
// application to jump to, so Execute simply records what it would
// have done, letting cmd/iapsim and bootorch's own tests observe a
// hand-off without a process-ending branch.
type DefaultHandOff struct{}

// NewHandOff returns the host build's HandOff.
func NewHandOff() *DefaultHandOff {
	return &DefaultHandOff{}
}

// Execute records the hand-off and returns normally. A target build
// (see handoff_arm.go) never returns from the equivalent call.
func (DefaultHandOff) Execute(bank layout.Bank, sp, resetVector uint32) (HandOffRecord, error) {
	return HandOffRecord{Bank: bank, StackPointer: sp, ResetVector: resetVector}, nil
}
