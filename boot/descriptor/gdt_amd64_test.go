package descriptor

import (
	"encoding/binary"
	"gopherboot/boot/cpu"
	"gopherboot/boot/mm"
	"gopherboot/boot/mm/pmm"
	"gopherboot/boot/mm/vmm"
	"gopherboot/bootinfo"
	"testing"
)

func newTestEnv(t *testing.T, frames uint64) (*pmm.BootMemAllocator, *vmm.PageDirectoryTable, *mm.SparseMemory) {
	pmem := mm.NewSparseMemory()
	if err := pmem.AddRegion(0x100000, mm.Size(frames)<<mm.PageShift); err != nil {
		t.Fatal(err)
	}

	alloc := pmm.New([]bootinfo.MemoryRegion{{Start: 0x100000, Frames: frames, Kind: bootinfo.Usable}}, pmm.DefaultMinAddress)
	pdt, err := vmm.NewPageDirectoryTable(alloc, pmem)
	if err != nil {
		t.Fatal(err)
	}

	return alloc, pdt, pmem
}

func TestGDTBuildAndInstall(t *testing.T) {
	defer func() {
		hasNoExecuteFn = cpu.HasNoExecute
		enableNoExecuteFn = cpu.EnableNoExecute
		loadGDTFn = cpu.LoadGDT
	}()

	var (
		nxEnabled        bool
		loadedGDTR       uintptr
		loadedCS, loadDS uint16
	)
	hasNoExecuteFn = func() bool { return true }
	enableNoExecuteFn = func() { nxEnabled = true }
	loadGDTFn = func(gdtr uintptr, cs, ds uint16) {
		loadedGDTR, loadedCS, loadDS = gdtr, cs, ds
	}

	alloc, pdt, pmem := newTestEnv(t, 16)
	state := New()

	if err := state.Install(); err != errNotBuilt {
		t.Fatalf("expected errNotBuilt; got %v", err)
	}

	if err := state.Build(alloc, pdt, pmem); err != nil {
		t.Fatal(err)
	}

	g := state.(*gdt)
	phys, perm, err := pdt.Translate(g.addr)
	if err != nil || phys != g.addr || perm != 0 {
		t.Fatalf("expected the table to be identity-mapped read-only; got 0x%x (%s), err: %v", phys, perm, err)
	}

	table := pmem.Bytes(g.addr, 48)
	specs := []uint64{0, gdtKernelCode, gdtKernelData}
	for index, exp := range specs {
		if got := binary.LittleEndian.Uint64(table[index*8:]); got != exp {
			t.Errorf("[entry %d] expected 0x%x; got 0x%x", index, exp, got)
		}
	}

	if limit := binary.LittleEndian.Uint16(table[gdtrOffset:]); limit != 23 {
		t.Errorf("expected GDTR limit 23; got %d", limit)
	}
	if base := binary.LittleEndian.Uint64(table[gdtrOffset+2:]); base != uint64(g.addr) {
		t.Errorf("expected GDTR base 0x%x; got 0x%x", g.addr, base)
	}

	if exp, got := uint64(1), bootinfo.CountFrames(alloc.MemoryMap(), bootinfo.DescriptorTable); got != exp {
		t.Errorf("expected %d descriptor table frame; got %d", exp, got)
	}

	if err := state.Install(); err != nil {
		t.Fatal(err)
	}

	if !nxEnabled || loadedGDTR != g.addr+gdtrOffset || loadedCS != CodeSelector || loadDS != DataSelector {
		t.Fatalf("unexpected install sequence: nx=%t gdtr=0x%x cs=0x%x ds=0x%x", nxEnabled, loadedGDTR, loadedCS, loadDS)
	}
}

func TestGDTRequiresNoExecute(t *testing.T) {
	defer func() {
		hasNoExecuteFn = cpu.HasNoExecute
	}()
	hasNoExecuteFn = func() bool { return false }

	alloc, pdt, pmem := newTestEnv(t, 16)
	if err := New().Build(alloc, pdt, pmem); err != ErrUnsupportedPlatform {
		t.Fatalf("expected ErrUnsupportedPlatform; got %v", err)
	}

	if alloc.AllocatedFrames() != 1 {
		t.Fatal("expected no frames to be allocated")
	}
}

func TestGDTOutOfMemory(t *testing.T) {
	defer func() {
		hasNoExecuteFn = cpu.HasNoExecute
	}()
	hasNoExecuteFn = func() bool { return true }

	alloc, pdt, pmem := newTestEnv(t, 1)
	if err := New().Build(alloc, pdt, pmem); err != pmm.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}
}

func TestGDTDryRun(t *testing.T) {
	defer func() {
		hasNoExecuteFn = cpu.HasNoExecute
		enableNoExecuteFn = cpu.EnableNoExecute
		loadGDTFn = cpu.LoadGDT
	}()

	var touched bool
	hasNoExecuteFn = func() bool { touched = true; return false }
	enableNoExecuteFn = func() { touched = true }
	loadGDTFn = func(_ uintptr, _, _ uint16) { touched = true }

	alloc, pdt, pmem := newTestEnv(t, 16)
	state := NewDryRun()

	if err := state.Build(alloc, pdt, pmem); err != nil {
		t.Fatal(err)
	}
	if err := state.Install(); err != nil {
		t.Fatal(err)
	}

	if touched {
		t.Fatal("expected dry run not to touch the CPU")
	}

	if got := binary.LittleEndian.Uint64(pmem.Bytes(state.(*gdt).addr+8, 8)); got != gdtKernelCode {
		t.Fatalf("expected kernel code descriptor 0x%x; got 0x%x", gdtKernelCode, got)
	}
}
