package vmm

import (
	"gopherboot/boot"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
)

const (
	// slotCount is the number of entries in the top-level table.
	slotCount = 1 << pageLevelBits

	// SlotSize is the amount of virtual memory covered by a top-level
	// table entry (512G).
	SlotSize = mm.Size(1) << 39
)

var (
	// ErrAddressSpaceExhausted is returned when no run of free top-level
	// slots is large enough for a reservation.
	ErrAddressSpaceExhausted = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "no free top-level slots left in the address space"}
)

// AddressSpace hands out virtual memory for loader-placed regions (stack,
// framebuffer, physical memory view) in whole top-level slots so they can
// never collide with kernel segments.
type AddressSpace struct {
	used [slotCount]bool
}

// NewAddressSpace returns an address space with slot 0 (null pointer
// region) and the recursive slot reserved.
func NewAddressSpace(recursiveIndex uint16) *AddressSpace {
	as := &AddressSpace{}
	as.used[0] = true
	if int(recursiveIndex) < slotCount {
		as.used[recursiveIndex] = true
	}
	return as
}

// MarkUsed reserves every slot touched by [virtAddr, virtAddr+size).
func (as *AddressSpace) MarkUsed(virtAddr uintptr, size mm.Size) {
	if size == 0 {
		return
	}

	first := pteIndex(virtAddr, 0)
	last := pteIndex(virtAddr+uintptr(size)-1, 0)
	for slot := first; slot <= last; slot++ {
		as.used[slot] = true
	}
}

// InUse returns true if slot has been reserved.
func (as *AddressSpace) InUse(slot int) bool {
	return as.used[slot]
}

// Reserve marks the lowest run of free slots that can hold size bytes as
// used and returns the virtual address of its start. Runs never cross
// from the lower into the upper half of the address space.
func (as *AddressSpace) Reserve(size mm.Size) (uintptr, *boot.Error) {
	// Round size up to the next slot
	slots := int((uint64(size) + uint64(SlotSize) - 1) / uint64(SlotSize))
	if slots == 0 {
		slots = 1
	}

	for _, half := range [2][2]int{{0, slotCount / 2}, {slotCount / 2, slotCount}} {
		runStart, runLen := half[0], 0
		for slot := half[0]; slot < half[1]; slot++ {
			if as.used[slot] {
				runStart, runLen = slot+1, 0
				continue
			}

			if runLen++; runLen == slots {
				for i := runStart; i <= slot; i++ {
					as.used[i] = true
				}
				return slotAddress(runStart), nil
			}
		}
	}

	kfmt.Printf("[vmm] cannot reserve %d top-level slot(s)\n", slots)
	return 0, ErrAddressSpaceExhausted
}
