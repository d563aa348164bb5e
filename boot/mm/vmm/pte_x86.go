//go:build !arm64

package vmm

import "gopherboot/boot/mm"

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. Each level holds 512 entries.
	pageLevelBits = 9

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)
)

// pageLevelShifts defines the shift required to access each page table component
// of a virtual address.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 2Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = 1 << 63
)

func isPresent(pte pageTableEntry) bool {
	return pte.HasFlags(FlagPresent)
}

func isHugePage(level uint8, pte pageTableEntry) bool {
	return level > 0 && level < pageLevels-1 && pte.HasFlags(FlagPresent|FlagHugePage)
}

func tableEntry(frame mm.Frame) pageTableEntry {
	var pte pageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent | FlagRW)
	return pte
}

func leafEntry(frame mm.Frame, perm Perm) pageTableEntry {
	var pte pageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent)
	if perm&PermWrite != 0 {
		pte.SetFlags(FlagRW)
	}
	if perm&PermExecute == 0 {
		pte.SetFlags(FlagNoExecute)
	}
	if perm&PermUncached != 0 {
		pte.SetFlags(FlagDoNotCache | FlagWriteThroughCaching)
	}
	return pte
}

func leafPerm(pte pageTableEntry) Perm {
	var perm Perm
	if pte.HasFlags(FlagRW) {
		perm |= PermWrite
	}
	if !pte.HasFlags(FlagNoExecute) {
		perm |= PermExecute
	}
	if pte.HasFlags(FlagDoNotCache) {
		perm |= PermUncached
	}
	return perm
}

func recursiveEntry(frame mm.Frame) pageTableEntry {
	return leafEntry(frame, PermWrite)
}
