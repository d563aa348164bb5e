//go:build !amd64 && !arm64

package descriptor

import (
	"gopherboot/boot"
	"gopherboot/boot/mm"
	"gopherboot/boot/mm/pmm"
)

type unsupported struct{}

// New returns a privilege state that always fails.
func New() PrivilegeState {
	return unsupported{}
}

// NewDryRun returns a privilege state that always fails.
func NewDryRun() PrivilegeState {
	return unsupported{}
}

func (unsupported) Build(_ pmm.Allocator, _ Mapper, _ mm.PhysicalMemory) *boot.Error {
	return ErrUnsupportedPlatform
}

func (unsupported) Install() *boot.Error {
	return ErrUnsupportedPlatform
}
