package bootinfo

// FrameSize is the size of the frames counted by MemoryRegion.Frames.
const FrameSize = 4096

// MemoryRegionKind classifies a physical memory region in the final map
// handed to the kernel.
type MemoryRegionKind uint32

const (
	// Usable memory is free for the kernel to allocate.
	Usable MemoryRegionKind = iota

	// Reserved memory must not be touched by the kernel.
	Reserved

	// Bootloader memory holds the loader image and its runtime data. It
	// stays identity-mapped until the kernel reclaims it.
	Bootloader

	// KernelImage memory backs the loaded kernel segments.
	KernelImage

	// KernelStack memory backs the initial kernel stack.
	KernelStack

	// PageTable memory holds the page table hierarchy built by the loader.
	PageTable

	// DescriptorTable memory holds the CPU descriptor table.
	DescriptorTable

	// BootInfo memory holds the Info block and its arrays.
	BootInfo

	// FrameBufferMemory is the linear framebuffer.
	FrameBufferMemory

	// ACPIReclaimable memory holds ACPI tables that can be reclaimed once
	// parsed.
	ACPIReclaimable

	// ACPINVS memory must be preserved across sleep states.
	ACPINVS

	// UnknownFirmware memory carries an OEM or OS-defined firmware type
	// which is preserved in MemoryRegion.FirmwareType.
	UnknownFirmware
)

var regionKindNames = [...]string{
	Usable:            "usable",
	Reserved:          "reserved",
	Bootloader:        "bootloader",
	KernelImage:       "kernel image",
	KernelStack:       "kernel stack",
	PageTable:         "page table",
	DescriptorTable:   "descriptor table",
	BootInfo:          "boot info",
	FrameBufferMemory: "framebuffer",
	ACPIReclaimable:   "ACPI reclaimable",
	ACPINVS:           "ACPI NVS",
	UnknownFirmware:   "unknown firmware",
}

// String implements fmt.Stringer for MemoryRegionKind.
func (k MemoryRegionKind) String() string {
	if int(k) < len(regionKindNames) {
		return regionKindNames[k]
	}
	return "invalid"
}

// MemoryRegion describes a contiguous run of physical frames. Start is a
// physical address; the kernel reaches it at Info.PhysicalMemoryOffset+Start.
type MemoryRegion struct {
	Start  uint64
	Frames uint64
	Kind   MemoryRegionKind

	// FirmwareType is the raw firmware memory type the region was
	// derived from.
	FirmwareType uint32
}

// End returns the physical address right after the region.
func (r MemoryRegion) End() uint64 {
	return r.Start + r.Frames*FrameSize
}

// CountFrames returns the number of frames of the given kind in regions.
func CountFrames(regions []MemoryRegion, kind MemoryRegionKind) uint64 {
	var total uint64
	for _, r := range regions {
		if r.Kind == kind {
			total += r.Frames
		}
	}
	return total
}
