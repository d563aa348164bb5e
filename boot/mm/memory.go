package mm

import (
	"fmt"
	"sort"
	"unsafe"
)

// PhysicalMemory gives the loader byte-level access to physical memory.
// Page tables, kernel segments and the boot info block are all written
// through it.
type PhysicalMemory interface {
	// Bytes returns a slice aliasing size bytes starting at physAddr.
	Bytes(physAddr uintptr, size Size) []byte
}

// Zero clears size bytes of physical memory starting at physAddr.
func Zero(pmem PhysicalMemory, physAddr uintptr, size Size) {
	if size == 0 {
		return
	}

	// log2(size) copies instead of a byte loop
	target := pmem.Bytes(physAddr, size)
	target[0] = 0
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// IdentityMemory accesses physical memory directly. It is only valid while
// the firmware's identity mapping is active.
type IdentityMemory struct{}

// Bytes implements PhysicalMemory.
func (IdentityMemory) Bytes(physAddr uintptr, size Size) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(physAddr)), int(size))
}

// SparseMemory simulates physical memory with one Go buffer per RAM
// region. Accesses outside the registered regions panic the way a bus
// fault would stop real hardware.
type SparseMemory struct {
	regions []sparseRegion
}

type sparseRegion struct {
	start uintptr
	data  []byte
}

// NewSparseMemory returns an empty SparseMemory.
func NewSparseMemory() *SparseMemory {
	return &SparseMemory{}
}

// AddRegion backs [start, start+size) with zeroed memory. Overlapping
// regions are rejected.
func (m *SparseMemory) AddRegion(start uintptr, size Size) error {
	end := start + uintptr(size)
	for _, r := range m.regions {
		if start < r.start+uintptr(len(r.data)) && r.start < end {
			return fmt.Errorf("region [0x%x, 0x%x) overlaps [0x%x, 0x%x)", start, end, r.start, r.start+uintptr(len(r.data)))
		}
	}

	m.regions = append(m.regions, sparseRegion{start: start, data: make([]byte, size)})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].start < m.regions[j].start })
	return nil
}

// Contains returns true if the whole range is backed.
func (m *SparseMemory) Contains(physAddr uintptr, size Size) bool {
	return m.find(physAddr, size) != nil
}

// Bytes implements PhysicalMemory.
func (m *SparseMemory) Bytes(physAddr uintptr, size Size) []byte {
	r := m.find(physAddr, size)
	if r == nil {
		panic(fmt.Sprintf("physical access [0x%x, 0x%x) outside simulated RAM", physAddr, physAddr+uintptr(size)))
	}

	off := physAddr - r.start
	return r.data[off : off+uintptr(size) : off+uintptr(size)]
}

func (m *SparseMemory) find(physAddr uintptr, size Size) *sparseRegion {
	for i := range m.regions {
		r := &m.regions[i]
		if physAddr >= r.start && physAddr+uintptr(size) <= r.start+uintptr(len(r.data)) {
			return r
		}
	}
	return nil
}
