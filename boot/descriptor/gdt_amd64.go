package descriptor

import (
	"encoding/binary"
	"gopherboot/boot"
	"gopherboot/boot/cpu"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
	"gopherboot/boot/mm/pmm"
	"gopherboot/bootinfo"
)

const (
	// Flat 64-bit descriptors with the accessed bit preset so the CPU
	// never writes to the read-only table.
	gdtKernelCode = uint64(0x00af9b000000ffff)
	gdtKernelData = uint64(0x00cf93000000ffff)

	// CodeSelector and DataSelector index the kernel descriptors.
	CodeSelector = uint16(0x08)
	DataSelector = uint16(0x10)

	gdtEntries = 3

	// gdtrOffset is where the GDTR image (limit, base) is stored in the
	// table frame.
	gdtrOffset = gdtEntries * 8
)

var (
	// The following functions are mocked by tests.
	hasNoExecuteFn    = cpu.HasNoExecute
	enableNoExecuteFn = cpu.EnableNoExecute
	loadGDTFn         = cpu.LoadGDT

	errMisalignedTable = &boot.Error{Kind: boot.UnsupportedPlatform, Module: "descriptor", Message: "descriptor table is not 8-byte aligned"}
)

// gdt is the amd64 privilege state: a null, kernel code and kernel data
// descriptor plus no-execute page protection.
type gdt struct {
	addr   uintptr
	built  bool
	dryRun bool
}

// New returns the privilege state for amd64.
func New() PrivilegeState {
	return &gdt{}
}

// NewDryRun returns a GDT that is built in memory but never loaded and
// skips the CPU feature checks. It backs host-side simulation.
func NewDryRun() PrivilegeState {
	return &gdt{dryRun: true}
}

// Build writes the descriptor table into a new frame and identity-maps it
// so the GDTR stays valid after the address space switch.
func (g *gdt) Build(alloc pmm.Allocator, pdt Mapper, pmem mm.PhysicalMemory) *boot.Error {
	if !g.dryRun && !hasNoExecuteFn() {
		kfmt.Printf("[descriptor] CPU lacks no-execute page protection\n")
		return ErrUnsupportedPlatform
	}

	frame, err := alloc.AllocFrames(1, 1, bootinfo.DescriptorTable)
	if err != nil {
		return err
	}

	addr := frame.Address()
	if addr&7 != 0 {
		return errMisalignedTable
	}

	table := pmem.Bytes(addr, mm.Size(mm.PageSize))
	for i := range table {
		table[i] = 0
	}
	binary.LittleEndian.PutUint64(table[8:], gdtKernelCode)
	binary.LittleEndian.PutUint64(table[16:], gdtKernelData)
	binary.LittleEndian.PutUint16(table[gdtrOffset:], gdtEntries*8-1)
	binary.LittleEndian.PutUint64(table[gdtrOffset+2:], uint64(addr))

	if err = pdt.IdentityMap(addr, mm.Size(mm.PageSize), 0); err != nil {
		return err
	}

	g.addr = addr
	g.built = true
	kfmt.Printf("[descriptor] GDT at 0x%x\n", addr)
	return nil
}

// Install enables no-execute protection and loads the descriptor table.
// CS, SS, DS and ES are reloaded; FS and GS are left to the kernel.
func (g *gdt) Install() *boot.Error {
	if !g.built {
		return errNotBuilt
	}

	if g.dryRun {
		kfmt.Printf("[descriptor] dry run: GDT at 0x%x not loaded\n", g.addr)
		return nil
	}

	enableNoExecuteFn()
	loadGDTFn(g.addr+gdtrOffset, CodeSelector, DataSelector)
	return nil
}
