package bootinfo

import (
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	const blockVirt = 0xffff900000200000

	regions := []MemoryRegion{
		{Start: 0x100000, Frames: 10, Kind: PageTable, FirmwareType: UEFIConventionalMemory},
		{Start: 0x10a000, Frames: 54, Kind: Usable, FirmwareType: UEFIConventionalMemory},
	}
	sections := []ElfSection{
		NewElfSection(".text", 0xffff800000000000, 4096, 6),
	}

	info := Info{
		PhysicalMemoryOffset: 0xffff900000000000,
		RecursiveIndex:       510,
		RSDPAddress:          0xe0000,
		HasFrameBuffer:       1,
		FrameBuffer:          FrameBuffer{Address: 0x80000000, Width: 800, Height: 600, Stride: 800, BytesPerPixel: 4, Format: BGR},
	}

	buf := make([]byte, 4096)
	n, err := Encode(buf, blockVirt, &info, regions, sections)
	if err != nil {
		t.Fatal(err)
	}

	if exp := EncodedSize(len(regions), len(sections)); n != exp || int(info.Size) != exp {
		t.Fatalf("expected encoded size %d; got %d (header says %d)", exp, n, info.Size)
	}

	if exp := uint64(blockVirt) + uint64(headerSize); info.MemoryRegions.Addr != exp {
		t.Fatalf("expected region array at 0x%x; got 0x%x", exp, info.MemoryRegions.Addr)
	}

	gotInfo, gotRegions, gotSections, err := Decode(buf, blockVirt)
	if err != nil {
		t.Fatal(err)
	}

	if *gotInfo != info {
		t.Fatalf("expected decoded header %+v; got %+v", info, *gotInfo)
	}

	if len(gotRegions) != len(regions) {
		t.Fatalf("expected %d regions; got %d", len(regions), len(gotRegions))
	}
	for i := range regions {
		if gotRegions[i] != regions[i] {
			t.Errorf("[region %d] expected %+v; got %+v", i, regions[i], gotRegions[i])
		}
	}

	if len(gotSections) != 1 || gotSections[0].SectionName() != ".text" {
		t.Fatalf("expected a single .text section; got %+v", gotSections)
	}
}

func TestEncodeBufferTooSmall(t *testing.T) {
	var info Info
	buf := make([]byte, EncodedSize(2, 0)-1)
	if _, err := Encode(buf, 0, &info, make([]MemoryRegion, 2), nil); err != errBufferTooSmall {
		t.Fatalf("expected errBufferTooSmall; got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	var info Info
	buf := make([]byte, 512)
	if _, err := Encode(buf, 0x1000, &info, make([]MemoryRegion, 1), nil); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		src    []byte
		virt   uint64
		expErr interface{}
	}{
		{buf[:8], 0x1000, errBadMagic},
		{make([]byte, 512), 0x1000, errBadMagic},
		// region array address below the block
		{buf, 0x2000, errBadSlice},
	}

	for specIndex, spec := range specs {
		if _, _, _, err := Decode(spec.src, spec.virt); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

func TestNewElfSectionTruncatesName(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}

	sec := NewElfSection(string(long), 0, 0, 0)
	if got := sec.SectionName(); len(got) != maxSectionName-1 {
		t.Fatalf("expected name to be truncated to %d bytes; got %d", maxSectionName-1, len(got))
	}
}

func TestFromUEFI(t *testing.T) {
	specs := []struct {
		memType uint32
		exp     MemoryRegionKind
		expRAM  bool
		expFree bool
	}{
		{UEFIConventionalMemory, Usable, true, true},
		{UEFIBootServicesCode, Usable, true, false},
		{UEFIBootServicesData, Usable, true, false},
		{UEFILoaderCode, Bootloader, true, false},
		{UEFILoaderData, Bootloader, true, false},
		{UEFIACPIReclaimMemory, ACPIReclaimable, true, false},
		{UEFIACPIMemoryNVS, ACPINVS, true, false},
		{UEFIRuntimeServicesData, Reserved, true, false},
		{UEFIMemoryMappedIO, Reserved, false, false},
		{UEFIReservedMemoryType, Reserved, false, false},
		{0x80000001, UnknownFirmware, false, false},
	}

	for specIndex, spec := range specs {
		region := FromUEFI(spec.memType, 0x1000, 3)
		if region.Kind != spec.exp {
			t.Errorf("[spec %d] expected kind %s; got %s", specIndex, spec.exp, region.Kind)
		}
		if region.FirmwareType != spec.memType || region.End() != 0x4000 {
			t.Errorf("[spec %d] expected firmware type and extent to be preserved; got %+v", specIndex, region)
		}
		if got := region.IsRAM(); got != spec.expRAM {
			t.Errorf("[spec %d] expected IsRAM to return %t; got %t", specIndex, spec.expRAM, got)
		}
		if got := region.Allocatable(); got != spec.expFree {
			t.Errorf("[spec %d] expected Allocatable to return %t; got %t", specIndex, spec.expFree, got)
		}
	}
}

func TestCountFrames(t *testing.T) {
	regions := []MemoryRegion{
		{Frames: 3, Kind: Usable},
		{Frames: 4, Kind: PageTable},
		{Frames: 5, Kind: Usable},
	}

	if got := CountFrames(regions, Usable); got != 8 {
		t.Fatalf("expected 8 usable frames; got %d", got)
	}

	if got := MemoryRegionKind(99).String(); got != "invalid" {
		t.Fatalf("expected invalid kind name; got %q", got)
	}
}
