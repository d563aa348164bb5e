package bootinfo

// UEFI memory types as reported by EFI_BOOT_SERVICES.GetMemoryMap.
const (
	UEFIReservedMemoryType uint32 = iota
	UEFILoaderCode
	UEFILoaderData
	UEFIBootServicesCode
	UEFIBootServicesData
	UEFIRuntimeServicesCode
	UEFIRuntimeServicesData
	UEFIConventionalMemory
	UEFIUnusableMemory
	UEFIACPIReclaimMemory
	UEFIACPIMemoryNVS
	UEFIMemoryMappedIO
	UEFIMemoryMappedIOPortSpace
	UEFIPalCode
	UEFIPersistentMemory

	// uefiVendorTypes marks the start of the OEM and OS-defined ranges.
	uefiVendorTypes uint32 = 0x70000000
)

// FromUEFI converts a firmware memory descriptor into a MemoryRegion. It is
// only valid for maps captured by ExitBootServices: boot services memory is
// reported as usable.
func FromUEFI(memType uint32, physStart, pages uint64) MemoryRegion {
	region := MemoryRegion{
		Start:        physStart,
		Frames:       pages,
		FirmwareType: memType,
	}

	switch {
	case memType == UEFIConventionalMemory,
		memType == UEFIBootServicesCode,
		memType == UEFIBootServicesData:
		region.Kind = Usable
	case memType == UEFILoaderCode, memType == UEFILoaderData:
		region.Kind = Bootloader
	case memType == UEFIACPIReclaimMemory:
		region.Kind = ACPIReclaimable
	case memType == UEFIACPIMemoryNVS:
		region.Kind = ACPINVS
	case memType >= uefiVendorTypes:
		region.Kind = UnknownFirmware
	default:
		region.Kind = Reserved
	}

	return region
}

// Allocatable returns true for usable regions the loader may allocate
// from. Boot services memory is usable by the kernel but can still hold the
// firmware stack and data the loader runs on after ExitBootServices.
func (r MemoryRegion) Allocatable() bool {
	return r.Kind == Usable &&
		r.FirmwareType != UEFIBootServicesCode &&
		r.FirmwareType != UEFIBootServicesData
}

// IsRAM returns true for regions backed by system RAM; these are the
// regions mirrored at the physical memory offset.
func (r MemoryRegion) IsRAM() bool {
	switch r.Kind {
	case Reserved:
		return r.FirmwareType == UEFIRuntimeServicesCode || r.FirmwareType == UEFIRuntimeServicesData
	case FrameBufferMemory, UnknownFirmware:
		return false
	}
	return true
}
