// Package pmm implements the loader's physical frame allocator.
package pmm

import (
	"gopherboot/boot"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
	"gopherboot/bootinfo"
	"sort"

	"github.com/dustin/go-humanize"
)

// DefaultMinAddress is the lowest physical address handed out by default.
// Memory below it is left to firmware and legacy structures.
const DefaultMinAddress = uintptr(0x10000)

var (
	// ErrOutOfMemory is returned when no usable region can satisfy a
	// request.
	ErrOutOfMemory = &boot.Error{Kind: boot.OutOfMemory, Module: "boot_mem_alloc", Message: "out of memory"}

	errZeroFrames = &boot.Error{Kind: boot.OutOfMemory, Module: "boot_mem_alloc", Message: "zero-length frame request"}
)

// Allocator hands out runs of contiguous physical frames tagged with the
// kind of data they will hold.
type Allocator interface {
	AllocFrames(count, alignFrames uint64, kind bootinfo.MemoryRegionKind) (mm.Frame, *boot.Error)
}

// allocation records a run of frames handed out by the allocator.
type allocation struct {
	start mm.Frame
	count uint64
	kind  bootinfo.MemoryRegionKind
}

func (a allocation) end() mm.Frame { return a.start + mm.Frame(a.count) }

// freeRange tracks the unallocated tail of one usable region.
type freeRange struct {
	next, end mm.Frame
}

// BootMemAllocator implements a rudimentary physical memory allocator which
// is used until the kernel takes over.
//
// The allocator keeps one cursor per usable region and serves requests from
// the lowest region that can fit them. Frames are never freed; every run
// handed out is recorded so the final memory map can report who owns it.
type BootMemAllocator struct {
	firmwareMap []bootinfo.MemoryRegion
	free        []freeRange
	allocs      []allocation

	// allocCount tracks the total number of allocated frames.
	allocCount uint64
}

// New creates an allocator over the supplied firmware memory map. Only
// allocatable regions are allocated from and no frame below minAddr is ever
// returned. Boot services memory is reported as Usable but never handed out.
func New(regions []bootinfo.MemoryRegion, minAddr uintptr) *BootMemAllocator {
	alloc := &BootMemAllocator{
		firmwareMap: append([]bootinfo.MemoryRegion(nil), regions...),
	}
	sort.Slice(alloc.firmwareMap, func(i, j int) bool {
		return alloc.firmwareMap[i].Start < alloc.firmwareMap[j].Start
	})

	minFrame := mm.FrameFromAddress(mm.AlignUp(minAddr))
	for _, region := range alloc.firmwareMap {
		if !region.Allocatable() {
			continue
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		start := mm.FrameFromAddress(mm.AlignUp(uintptr(region.Start)))
		end := mm.FrameFromAddress(uintptr(region.End()))
		if start < minFrame {
			start = minFrame
		}

		if start < end {
			alloc.free = append(alloc.free, freeRange{next: start, end: end})
		}
	}

	return alloc
}

// AllocFrames reserves count contiguous frames whose first frame number is
// a multiple of alignFrames. Regions are scanned in ascending address order
// and the first one that fits is used. Nothing is reserved when the request
// cannot be satisfied.
func (alloc *BootMemAllocator) AllocFrames(count, alignFrames uint64, kind bootinfo.MemoryRegionKind) (mm.Frame, *boot.Error) {
	if count == 0 {
		return mm.InvalidFrame, errZeroFrames
	}
	if alignFrames == 0 {
		alignFrames = 1
	}

	for i := range alloc.free {
		r := &alloc.free[i]
		start := mm.Frame((uint64(r.next) + alignFrames - 1) / alignFrames * alignFrames)
		if start < r.next || uint64(r.end) < uint64(start)+count {
			continue
		}

		r.next = start + mm.Frame(count)
		alloc.record(allocation{start: start, count: count, kind: kind})
		return start, nil
	}

	kfmt.Printf("[boot_mem_alloc] cannot satisfy request for %d frame(s) (align: %d, kind: %s); %d frame(s) left\n",
		count, alignFrames, kind, alloc.FreeFrames())
	return mm.InvalidFrame, ErrOutOfMemory
}

// AllocFrame reserves a single frame for a page table.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *boot.Error) {
	return alloc.AllocFrames(1, 1, bootinfo.PageTable)
}

func (alloc *BootMemAllocator) record(a allocation) {
	alloc.allocCount += a.count

	if last := len(alloc.allocs) - 1; last >= 0 {
		if prev := &alloc.allocs[last]; prev.kind == a.kind && prev.end() == a.start {
			prev.count += a.count
			return
		}
	}
	alloc.allocs = append(alloc.allocs, a)
}

// AllocatedFrames returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocatedFrames() uint64 {
	return alloc.allocCount
}

// FreeFrames returns the number of frames that can still be allocated,
// ignoring alignment.
func (alloc *BootMemAllocator) FreeFrames() uint64 {
	var total uint64
	for _, r := range alloc.free {
		total += uint64(r.end - r.next)
	}
	return total
}

// Allocations returns the number of distinct allocation records. Each
// record can split a usable region in up to three parts.
func (alloc *BootMemAllocator) Allocations() int {
	return len(alloc.allocs)
}

// FirmwareRegions returns the number of regions in the firmware map.
func (alloc *BootMemAllocator) FirmwareRegions() int {
	return len(alloc.firmwareMap)
}

// VisitFirmwareRegions invokes visitor for each firmware region in
// ascending address order until it returns false.
func (alloc *BootMemAllocator) VisitFirmwareRegions(visitor func(bootinfo.MemoryRegion) bool) {
	for _, region := range alloc.firmwareMap {
		if !visitor(region) {
			return
		}
	}
}

// MaxPhysAddr returns the end of the highest RAM-backed firmware region.
func (alloc *BootMemAllocator) MaxPhysAddr() uintptr {
	var maxAddr uint64
	for _, region := range alloc.firmwareMap {
		if region.IsRAM() && region.End() > maxAddr {
			maxAddr = region.End()
		}
	}
	return uintptr(maxAddr)
}

// MemoryMap returns the firmware map with every allocation carved out of
// its usable region under the kind it was requested with. Frames that were
// never handed out, including alignment gaps, stay Usable.
func (alloc *BootMemAllocator) MemoryMap() []bootinfo.MemoryRegion {
	allocs := append([]allocation(nil), alloc.allocs...)
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].start < allocs[j].start })

	out := make([]bootinfo.MemoryRegion, 0, len(alloc.firmwareMap)+2*len(allocs))
	emit := func(start, end uint64, kind bootinfo.MemoryRegionKind, fwType uint32) {
		if end > start {
			out = append(out, bootinfo.MemoryRegion{
				Start:        start,
				Frames:       (end - start) / bootinfo.FrameSize,
				Kind:         kind,
				FirmwareType: fwType,
			})
		}
	}

	for _, region := range alloc.firmwareMap {
		if region.Kind != bootinfo.Usable {
			out = append(out, region)
			continue
		}

		cursor, regionEnd := region.Start, region.End()
		for _, a := range allocs {
			aStart, aEnd := uint64(a.start.Address()), uint64(a.end().Address())
			if aEnd <= region.Start || aStart >= regionEnd {
				continue
			}

			emit(cursor, aStart, bootinfo.Usable, region.FirmwareType)
			emit(aStart, aEnd, a.kind, region.FirmwareType)
			cursor = aEnd
		}
		emit(cursor, regionEnd, bootinfo.Usable, region.FirmwareType)
	}

	return out
}

// PrintMemoryMap prints the firmware memory map and allocator statistics.
func (alloc *BootMemAllocator) PrintMemoryMap() {
	kfmt.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree uint64
	for _, region := range alloc.firmwareMap {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.Start, region.End(), region.End()-region.Start, region.Kind)

		if region.Kind == bootinfo.Usable {
			totalFree += region.End() - region.Start
		}
	}
	kfmt.Printf("[boot_mem_alloc] available memory: %s\n", humanize.IBytes(totalFree))
	kfmt.Printf("[boot_mem_alloc] allocated frames: %d, free frames: %d\n", alloc.allocCount, alloc.FreeFrames())
}
