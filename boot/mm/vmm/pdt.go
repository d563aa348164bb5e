// Package vmm builds the page table hierarchy the kernel starts with.
package vmm

import (
	"gopherboot/boot"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
	"unsafe"
)

var (
	// ErrTableSealed is returned by mapping calls issued after the
	// recursive entry was installed or the table was handed to the CPU.
	ErrTableSealed = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "page table is sealed and can no longer be modified"}

	errInvalidSlot        = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "top-level slot index out of range"}
	errRecursiveSlotInUse = &boot.Error{Kind: boot.MappingConflict, Module: "vmm", Message: "recursive slot is already in use"}
)

// FrameAllocator supplies zeroable frames for new page table nodes.
type FrameAllocator interface {
	AllocFrame() (mm.Frame, *boot.Error)
}

// PageDirectoryTable describes the top-most table in a multi-level paging
// scheme that is being built for a different address space. Tables are
// accessed through PhysicalMemory since they are not mapped in the active
// address space.
type PageDirectoryTable struct {
	pdtFrame mm.Frame
	alloc    FrameAllocator
	pmem     mm.PhysicalMemory

	// tableFrames counts all frames used by the hierarchy.
	tableFrames uint64

	recursiveIndex int
	sealed         bool
}

// NewPageDirectoryTable allocates and clears the top-level table frame.
func NewPageDirectoryTable(alloc FrameAllocator, pmem mm.PhysicalMemory) (*PageDirectoryTable, *boot.Error) {
	pdt := &PageDirectoryTable{
		alloc:          alloc,
		pmem:           pmem,
		recursiveIndex: -1,
	}

	frame, err := pdt.allocTable()
	if err != nil {
		return nil, err
	}
	pdt.pdtFrame = frame

	return pdt, nil
}

// allocTable returns a cleared frame for a new table node.
func (pdt *PageDirectoryTable) allocTable() (mm.Frame, *boot.Error) {
	frame, err := pdt.alloc.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	mm.Zero(pdt.pmem, frame.Address(), mm.Size(mm.PageSize))
	pdt.tableFrames++
	return frame, nil
}

// Frame returns the physical frame holding the top-level table.
func (pdt *PageDirectoryTable) Frame() mm.Frame {
	return pdt.pdtFrame
}

// TableFrames returns the number of frames used by the hierarchy.
func (pdt *PageDirectoryTable) TableFrames() uint64 {
	return pdt.tableFrames
}

// Seal prevents any further modification of the hierarchy.
func (pdt *PageDirectoryTable) Seal() {
	pdt.sealed = true
}

// Sealed returns true once the hierarchy can no longer be modified.
func (pdt *PageDirectoryTable) Sealed() bool {
	return pdt.sealed
}

// SlotInUse returns true if the top-level entry at slot is present.
func (pdt *PageDirectoryTable) SlotInUse(slot int) bool {
	return isPresent(*pdt.entry(pdt.pdtFrame, uintptr(slot)))
}

// MapRecursive points the top-level entry at index back to the top-level
// table. It must be the last mapping operation: the table is sealed once
// it succeeds.
func (pdt *PageDirectoryTable) MapRecursive(index uint16) *boot.Error {
	if pdt.sealed {
		return ErrTableSealed
	}

	if int(index) >= 1<<pageLevelBits {
		return errInvalidSlot
	}

	pte := pdt.entry(pdt.pdtFrame, uintptr(index))
	if isPresent(*pte) {
		kfmt.Printf("[vmm] top-level slot %d is already mapped to frame 0x%x\n", index, pte.Frame())
		return errRecursiveSlotInUse
	}

	*pte = recursiveEntry(pdt.pdtFrame)
	pdt.recursiveIndex = int(index)
	pdt.sealed = true
	return nil
}

// RecursiveTableAddr returns the virtual address at which the top-level
// table is visible through the recursive entry at index.
func RecursiveTableAddr(index uint16) uintptr {
	idx := uintptr(index)
	return slotAddress(int(index)) | idx<<pageLevelShifts[1] | idx<<pageLevelShifts[2] | idx<<pageLevelShifts[3]
}

// entry returns a pointer to entry index of the table stored in frame.
func (pdt *PageDirectoryTable) entry(table mm.Frame, index uintptr) *pageTableEntry {
	b := pdt.pmem.Bytes(table.Address()+index<<mm.PointerShift, mm.Size(1<<mm.PointerShift))
	return (*pageTableEntry)(unsafe.Pointer(&b[0]))
}
