package vmm

import (
	"gopherboot/boot"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
)

var (
	// ErrMappingConflict is returned when a page in the requested range is
	// already mapped to a different frame or with different permissions.
	ErrMappingConflict = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "virtual range is already mapped to a different frame or with different permissions"}

	errNonCanonicalAddress = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "virtual range is not canonical"}
	errPageOffsetMismatch  = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "virtual and physical addresses have different page offsets"}
)

// Map establishes a mapping of size bytes from virtAddr to physAddr. The
// size is rounded up to whole pages. Pages that are already mapped to the
// same frame with the same permissions are left as they are, so repeating
// a call is harmless. If any page in the range is mapped differently the
// call fails with ErrMappingConflict before anything is modified. Missing
// intermediate tables are allocated, cleared and then linked in.
func (pdt *PageDirectoryTable) Map(virtAddr, physAddr uintptr, size mm.Size, perm Perm) *boot.Error {
	if pdt.sealed {
		return ErrTableSealed
	}

	if size == 0 {
		return nil
	}

	if PageOffset(virtAddr) != PageOffset(physAddr) {
		kfmt.Printf("[vmm] cannot map 0x%x to 0x%x: page offsets differ\n", virtAddr, physAddr)
		return errPageOffsetMismatch
	}

	var (
		startPage  = mm.PageFromAddress(virtAddr)
		startFrame = mm.FrameFromAddress(physAddr)
		pageCount  = mm.Size(PageOffset(virtAddr) + uintptr(size)).Pages()
		lastAddr   = startPage.Address() + uintptr(pageCount-1)<<mm.PageShift
	)

	if !IsCanonical(startPage.Address()) || lastAddr < startPage.Address() || uint64(startPage.Address())>>47 != uint64(lastAddr)>>47 {
		kfmt.Printf("[vmm] cannot map [0x%x - 0x%x]: range is not canonical\n", startPage.Address(), lastAddr)
		return errNonCanonicalAddress
	}

	// Validate the whole range first so a conflict leaves the hierarchy
	// untouched.
	for i := uint64(0); i < pageCount; i++ {
		page, frame := startPage+mm.Page(i), startFrame+mm.Frame(i)

		pte, err := pdt.leafFor(page.Address())
		switch {
		case err == errNoHugePageSupport:
			return err
		case err != nil:
			continue
		case pte.Frame() != frame || leafPerm(*pte) != perm:
			kfmt.Printf("[vmm] page 0x%x is mapped to 0x%x (%s); requested 0x%x (%s)\n",
				page.Address(), pte.Frame().Address(), leafPerm(*pte), frame.Address(), perm)
			return ErrMappingConflict
		}
	}

	for i := uint64(0); i < pageCount; i++ {
		if err := pdt.mapPage(startPage+mm.Page(i), startFrame+mm.Frame(i), perm); err != nil {
			return err
		}
	}

	return nil
}

// IdentityMap maps size bytes starting at physAddr to the same virtual
// address.
func (pdt *PageDirectoryTable) IdentityMap(physAddr uintptr, size mm.Size, perm Perm) *boot.Error {
	return pdt.Map(physAddr, physAddr, size, perm)
}

// mapPage installs a single leaf entry. Conflicts have already been ruled
// out by Map.
func (pdt *PageDirectoryTable) mapPage(page mm.Page, frame mm.Frame, perm Perm) *boot.Error {
	var err *boot.Error

	pdt.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place
		if pteLevel == pageLevels-1 {
			if !isPresent(*pte) {
				*pte = leafEntry(frame, perm)
			}
			return true
		}

		// Next table does not yet exist; it is cleared before the
		// entry pointing to it becomes present.
		if !isPresent(*pte) {
			var newTableFrame mm.Frame
			if newTableFrame, err = pdt.allocTable(); err != nil {
				return false
			}
			*pte = tableEntry(newTableFrame)
		}

		return true
	})

	return err
}
