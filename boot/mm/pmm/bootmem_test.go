package pmm

import (
	"bytes"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
	"gopherboot/bootinfo"
	"strings"
	"testing"
)

func testMemoryMap() []bootinfo.MemoryRegion {
	// deliberately unordered
	return []bootinfo.MemoryRegion{
		{Start: 0x100000, Frames: 64, Kind: bootinfo.Usable, FirmwareType: bootinfo.UEFIConventionalMemory},
		{Start: 0x0, Frames: 159, Kind: bootinfo.Usable, FirmwareType: bootinfo.UEFIConventionalMemory},
		{Start: 0x9f000, Frames: 97, Kind: bootinfo.Reserved},
		{Start: 0x140000, Frames: 16, Kind: bootinfo.Bootloader, FirmwareType: bootinfo.UEFILoaderCode},
	}
}

func TestBootMemAllocatorSkipsLowMemory(t *testing.T) {
	alloc := New(testMemoryMap(), DefaultMinAddress)

	// frames [0x10, 0x9f) are usable after clamping, followed by 64
	// frames starting at 0x100
	if exp, got := uint64(0x9f-0x10+64), alloc.FreeFrames(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.FrameFromAddress(DefaultMinAddress); frame != exp {
		t.Fatalf("expected first frame to be %d; got %d", exp, frame)
	}
}

func TestBootMemAllocatorFirstFit(t *testing.T) {
	specs := []struct {
		count, align uint64
		expFrame     mm.Frame
	}{
		{1, 1, 0x10},
		{4, 8, 0x18},
		// does not fit in either region
		{132, 1, mm.InvalidFrame},
		{60, 1, 0x1c},
		{40, 1, 0x58},
		// low region is left with 31 frames
		{64, 1, 0x100},
		{2, 1, 0x80},
		{1, 64, mm.InvalidFrame},
	}

	alloc := New(testMemoryMap(), DefaultMinAddress)
	for specIndex, spec := range specs {
		frame, err := alloc.AllocFrames(spec.count, spec.align, bootinfo.KernelImage)
		if spec.expFrame == mm.InvalidFrame {
			if err != ErrOutOfMemory {
				t.Errorf("[spec %d] expected ErrOutOfMemory; got %v", specIndex, err)
			}
			continue
		}

		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if frame != spec.expFrame {
			t.Errorf("[spec %d] expected frame 0x%x; got 0x%x", specIndex, spec.expFrame, frame)
		}
	}
}

func TestBootMemAllocatorNoPartialHandout(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	alloc := New(testMemoryMap(), DefaultMinAddress)
	total := alloc.FreeFrames()

	if _, err := alloc.AllocFrames(total+1, 1, bootinfo.KernelStack); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}

	if alloc.AllocatedFrames() != 0 || alloc.FreeFrames() != total || alloc.Allocations() != 0 {
		t.Fatal("expected a failed request to leave the allocator untouched")
	}

	if _, err := alloc.AllocFrames(0, 1, bootinfo.KernelStack); err != errZeroFrames {
		t.Fatalf("expected errZeroFrames; got %v", err)
	}

	if !strings.Contains(buf.String(), "cannot satisfy request") {
		t.Fatalf("expected a diagnostic to be printed; got %q", buf.String())
	}
}

func TestBootMemAllocatorNeverReturnsReservedFrames(t *testing.T) {
	regions := testMemoryMap()
	alloc := New(regions, DefaultMinAddress)

	seen := make(map[mm.Frame]bool)
	for {
		frame, err := alloc.AllocFrame()
		if err == ErrOutOfMemory {
			break
		}
		if err != nil {
			t.Fatal(err)
		}

		if seen[frame] {
			t.Fatalf("frame 0x%x returned twice", frame)
		}
		seen[frame] = true

		addr := uint64(frame.Address())
		if addr < uint64(DefaultMinAddress) {
			t.Fatalf("frame 0x%x below the minimum address", frame)
		}
		for _, region := range regions {
			if region.Kind != bootinfo.Usable && addr >= region.Start && addr < region.End() {
				t.Fatalf("frame 0x%x lies in a %s region", frame, region.Kind)
			}
		}
	}

	if exp := uint64(0x9f - 0x10 + 64); uint64(len(seen)) != exp {
		t.Fatalf("expected %d frames to be handed out; got %d", exp, len(seen))
	}
}

func TestBootMemAllocatorSkipsBootServicesMemory(t *testing.T) {
	regions := []bootinfo.MemoryRegion{
		bootinfo.FromUEFI(bootinfo.UEFIBootServicesData, 0x100000, 16),
		bootinfo.FromUEFI(bootinfo.UEFIBootServicesCode, 0x110000, 16),
		bootinfo.FromUEFI(bootinfo.UEFIConventionalMemory, 0x400000, 64),
	}
	alloc := New(regions, DefaultMinAddress)

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	if exp := uintptr(0x400000); frame.Address() != exp {
		t.Fatalf("expected first frame at 0x%x; got 0x%x", exp, frame.Address())
	}

	if exp, got := uint64(63), alloc.FreeFrames(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	// boot services memory is still reported as usable to the kernel
	got := alloc.MemoryMap()
	if len(got) != 4 {
		t.Fatalf("expected 4 regions; got %d: %+v", len(got), got)
	}
	for i, fwType := range []uint32{bootinfo.UEFIBootServicesData, bootinfo.UEFIBootServicesCode} {
		if got[i].Kind != bootinfo.Usable || got[i].Frames != 16 || got[i].FirmwareType != fwType {
			t.Errorf("[region %d] expected untouched usable boot services region; got %+v", i, got[i])
		}
	}
}

func TestMemoryMap(t *testing.T) {
	alloc := New(testMemoryMap(), DefaultMinAddress)

	// fill the low region so the next requests land at 0x100000
	if _, err := alloc.AllocFrames(0x9f-0x10, 1, bootinfo.Bootloader); err != nil {
		t.Fatal(err)
	}

	mustAlloc := func(count, align uint64, kind bootinfo.MemoryRegionKind) {
		if _, err := alloc.AllocFrames(count, align, kind); err != nil {
			t.Fatal(err)
		}
	}
	mustAlloc(1, 1, bootinfo.PageTable)
	mustAlloc(1, 1, bootinfo.PageTable)
	mustAlloc(2, 4, bootinfo.KernelImage)
	mustAlloc(3, 1, bootinfo.KernelStack)

	if exp, got := 4, alloc.Allocations(); got != exp {
		t.Fatalf("expected adjacent page table allocations to merge into %d records; got %d", exp, got)
	}

	exp := []bootinfo.MemoryRegion{
		{Start: 0x0, Frames: 0x10, Kind: bootinfo.Usable},
		{Start: 0x10000, Frames: 0x8f, Kind: bootinfo.Bootloader},
		{Start: 0x9f000, Frames: 97, Kind: bootinfo.Reserved},
		{Start: 0x100000, Frames: 2, Kind: bootinfo.PageTable},
		{Start: 0x102000, Frames: 2, Kind: bootinfo.Usable},
		{Start: 0x104000, Frames: 2, Kind: bootinfo.KernelImage},
		{Start: 0x106000, Frames: 3, Kind: bootinfo.KernelStack},
		{Start: 0x109000, Frames: 55, Kind: bootinfo.Usable},
		{Start: 0x140000, Frames: 16, Kind: bootinfo.Bootloader},
	}

	got := alloc.MemoryMap()
	if len(got) != len(exp) {
		t.Fatalf("expected %d regions; got %d: %+v", len(exp), len(got), got)
	}

	for i := range exp {
		if got[i].Start != exp[i].Start || got[i].Frames != exp[i].Frames || got[i].Kind != exp[i].Kind {
			t.Errorf("[region %d] expected %+v; got %+v", i, exp[i], got[i])
		}
	}

	var usable uint64
	for _, r := range got {
		if r.Kind == bootinfo.Usable && r.Start >= 0x100000 {
			usable += r.Frames
		}
	}
	if exp := 64 - uint64(2+2+3); usable != exp {
		t.Fatalf("expected %d usable frames in the high region; got %d", exp, usable)
	}
}

func TestMaxPhysAddrAndPrint(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	regions := append(testMemoryMap(), bootinfo.MemoryRegion{Start: 0xfee00000, Frames: 1, Kind: bootinfo.Reserved, FirmwareType: bootinfo.UEFIMemoryMappedIO})
	alloc := New(regions, DefaultMinAddress)

	if exp, got := uintptr(0x150000), alloc.MaxPhysAddr(); got != exp {
		t.Fatalf("expected max RAM address 0x%x; got 0x%x", exp, got)
	}

	var visited int
	alloc.VisitFirmwareRegions(func(bootinfo.MemoryRegion) bool {
		visited++
		return visited < 2
	})
	if visited != 2 || alloc.FirmwareRegions() != 5 {
		t.Fatalf("expected visitor to stop after 2 of 5 regions; visited %d", visited)
	}

	alloc.PrintMemoryMap()
	if !strings.Contains(buf.String(), "available memory: 892 KiB") {
		t.Fatalf("expected available memory summary; got %q", buf.String())
	}
}
