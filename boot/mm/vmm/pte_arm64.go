package vmm

import "gopherboot/boot/mm"

const (
	// pageLevels indicates the number of lookup levels used with a 4K
	// granule and 48-bit input addresses.
	pageLevels = 4

	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. Each level holds 512 descriptors.
	pageLevelBits = 9

	// ptePhysPageMask extracts the output address (bits 12-47) of a
	// descriptor.
	ptePhysPageMask = uintptr(0x0000fffffffff000)
)

// pageLevelShifts defines the shift required to access each page table component
// of a virtual address.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

const (
	// FlagValid marks a descriptor as valid.
	FlagValid PageTableEntryFlag = 1 << 0

	// FlagTable marks a table descriptor at levels 0-2 and a page
	// descriptor at level 3. Valid descriptors without it are blocks.
	FlagTable PageTableEntryFlag = 1 << 1

	// FlagDevice selects MAIR_EL1 attribute index 1 (device nGnRnE).
	// Index 0 is normal write-back memory.
	FlagDevice PageTableEntryFlag = 1 << 2

	// FlagUser allows EL0 access.
	FlagUser PageTableEntryFlag = 1 << 6

	// FlagReadOnly is AP[2]; when set the page is not writable.
	FlagReadOnly PageTableEntryFlag = 1 << 7

	// FlagInnerShareable marks the page as inner shareable.
	FlagInnerShareable PageTableEntryFlag = 3 << 8

	// FlagAccessed is the access flag; pages without it fault on first use.
	FlagAccessed PageTableEntryFlag = 1 << 10

	// FlagPrivilegedNoExecute prevents execution at EL1.
	FlagPrivilegedNoExecute PageTableEntryFlag = 1 << 53

	// FlagUserNoExecute prevents execution at EL0.
	FlagUserNoExecute PageTableEntryFlag = 1 << 54
)

func isPresent(pte pageTableEntry) bool {
	return pte.HasFlags(FlagValid)
}

func isHugePage(level uint8, pte pageTableEntry) bool {
	return level < pageLevels-1 && pte.HasFlags(FlagValid) && !pte.HasFlags(FlagTable)
}

func tableEntry(frame mm.Frame) pageTableEntry {
	var pte pageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(FlagValid | FlagTable)
	return pte
}

func leafEntry(frame mm.Frame, perm Perm) pageTableEntry {
	var pte pageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(FlagValid | FlagTable | FlagAccessed | FlagInnerShareable | FlagUserNoExecute)
	if perm&PermWrite == 0 {
		pte.SetFlags(FlagReadOnly)
	}
	if perm&PermExecute == 0 {
		pte.SetFlags(FlagPrivilegedNoExecute)
	}
	if perm&PermUncached != 0 {
		pte.SetFlags(FlagDevice)
	}
	return pte
}

func leafPerm(pte pageTableEntry) Perm {
	var perm Perm
	if !pte.HasFlags(FlagReadOnly) {
		perm |= PermWrite
	}
	if !pte.HasFlags(FlagPrivilegedNoExecute) {
		perm |= PermExecute
	}
	if pte.HasFlags(FlagDevice) {
		perm |= PermUncached
	}
	return perm
}

// recursiveEntry doubles as a table descriptor at levels 0-2 and as a
// writable, non-executable page descriptor at level 3.
func recursiveEntry(frame mm.Frame) pageTableEntry {
	return leafEntry(frame, PermWrite)
}
