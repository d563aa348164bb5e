package descriptor

import (
	"gopherboot/boot"
	"gopherboot/boot/cpu"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
	"gopherboot/boot/mm/pmm"
)

const (
	// mairValue sets attribute 0 to normal write-back memory and
	// attribute 1 to device nGnRnE memory.
	mairValue = uint64(0xff)

	// TCR_EL1 fields. Both halves use 48-bit inputs, 4K granules and
	// inner-shareable write-back walks; TTBR0 and TTBR1 point to the
	// same table.
	tcrT0SZ  = 16
	tcrIRGN0 = 1 << 8
	tcrORGN0 = 1 << 10
	tcrSH0   = 3 << 12
	tcrT1SZ  = 16 << 16
	tcrIRGN1 = 1 << 24
	tcrORGN1 = 1 << 26
	tcrSH1   = 3 << 28
	tcrTG1   = 2 << 30
	tcrIPS48 = 5 << 32

	tcrValue = uint64(tcrT0SZ | tcrIRGN0 | tcrORGN0 | tcrSH0 | tcrT1SZ | tcrIRGN1 | tcrORGN1 | tcrSH1 | tcrTG1 | tcrIPS48)
)

var (
	// The following functions are mocked by tests.
	atEL1Fn     = cpu.AtEL1
	writeMAIRFn = cpu.WriteMAIR
	writeTCRFn  = cpu.WriteTCR
)

// el1State is the arm64 privilege state: memory attributes and
// translation control for EL1. It needs no memory.
type el1State struct {
	mair, tcr uint64
	built     bool
	dryRun    bool
}

// New returns the privilege state for arm64.
func New() PrivilegeState {
	return &el1State{}
}

// NewDryRun returns a state that computes the register values without
// reading or writing system registers. It backs host-side simulation.
func NewDryRun() PrivilegeState {
	return &el1State{dryRun: true}
}

// Build checks the exception level and computes the register values.
func (s *el1State) Build(_ pmm.Allocator, _ Mapper, _ mm.PhysicalMemory) *boot.Error {
	if !s.dryRun && !atEL1Fn() {
		kfmt.Printf("[descriptor] loader is not running at EL1\n")
		return ErrUnsupportedPlatform
	}

	s.mair, s.tcr, s.built = mairValue, tcrValue, true
	return nil
}

// Install writes MAIR_EL1 and TCR_EL1. The firmware tables are reinterpreted
// from this point on so it must run right before the hand-off.
func (s *el1State) Install() *boot.Error {
	if !s.built {
		return errNotBuilt
	}

	if s.dryRun {
		kfmt.Printf("[descriptor] dry run: MAIR_EL1=0x%x TCR_EL1=0x%x not written\n", s.mair, s.tcr)
		return nil
	}

	writeMAIRFn(s.mair)
	writeTCRFn(s.tcr)
	return nil
}
