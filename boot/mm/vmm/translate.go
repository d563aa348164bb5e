package vmm

import (
	"gopherboot/boot"
	"gopherboot/boot/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "huge pages are not supported"}
)

// Translate returns the physical address and permissions that correspond
// to the provided virtual address by walking the hierarchy.
func (pdt *PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, Perm, *boot.Error) {
	pte, err := pdt.leafFor(virtAddr)
	if err != nil {
		return 0, 0, err
	}

	return pte.Frame().Address() + PageOffset(virtAddr), leafPerm(*pte), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}

// leafFor returns the last-level entry for virtAddr without allocating
// anything.
func (pdt *PageDirectoryTable) leafFor(virtAddr uintptr) (*pageTableEntry, *boot.Error) {
	var (
		err  = ErrInvalidMapping
		leaf *pageTableEntry
	)

	pdt.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		switch {
		case !isPresent(*pte):
			return false
		case isHugePage(pteLevel, *pte):
			err = errNoHugePageSupport
			return false
		case pteLevel == pageLevels-1:
			leaf, err = pte, nil
		}
		return true
	})

	return leaf, err
}
