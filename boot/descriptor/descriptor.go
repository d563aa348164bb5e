// Package descriptor prepares the privilege state the kernel starts with:
// a flat-model GDT on amd64 and the EL1 translation registers on arm64.
// The variant is selected at build time.
package descriptor

import (
	"gopherboot/boot"
	"gopherboot/boot/mm"
	"gopherboot/boot/mm/pmm"
	"gopherboot/boot/mm/vmm"
)

var (
	// ErrUnsupportedPlatform is returned when the running CPU cannot be
	// put into the privilege state the kernel expects.
	ErrUnsupportedPlatform = &boot.Error{Kind: boot.UnsupportedPlatform, Module: "descriptor", Message: "privilege state cannot be set up on this platform"}

	errNotBuilt = &boot.Error{Kind: boot.UnsupportedPlatform, Module: "descriptor", Message: "privilege state must be built before it is installed"}
)

// Mapper identity-maps physical memory in the kernel address space.
type Mapper interface {
	IdentityMap(physAddr uintptr, size mm.Size, perm vmm.Perm) *boot.Error
}

// PrivilegeState is the architecture specific state installed before
// control reaches the kernel. Build must run while frames can still be
// allocated and mapped; Install loads the result into the CPU and must run
// right before the hand-off.
type PrivilegeState interface {
	Build(alloc pmm.Allocator, pdt Mapper, pmem mm.PhysicalMemory) *boot.Error
	Install() *boot.Error
}
