// Package handoff drives the loader from the firmware memory map to the
// jump into the kernel. Every step either completes or aborts the boot;
// the kernel never receives a partially built address space.
package handoff

import (
	"gopherboot/boot"
	"gopherboot/boot/acpi"
	"gopherboot/boot/cpu"
	"gopherboot/boot/descriptor"
	"gopherboot/boot/elfload"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
	"gopherboot/boot/mm/pmm"
	"gopherboot/boot/mm/vmm"
	"gopherboot/bootinfo"
	"runtime"
)

var (
	// The following functions are mocked by tests.
	newPrivilegeStateFn = descriptor.New
	trampolineAddrFn    = cpu.TrampolineAddr
	locateRSDPFn        = acpi.LocateRSDP
	readRSDPFn          = acpi.ReadRSDP

	trampolineSize uintptr = cpu.TrampolineSize

	// scanLegacyRSDP enables the BIOS area scan when the firmware did
	// not report an RSDP.
	scanLegacyRSDP = runtime.GOARCH == "amd64"

	errExitBootServices = &boot.Error{Kind: boot.FirmwareFailure, Module: "handoff", Message: "firmware failed to exit boot services"}
	errEmptyMemoryMap   = &boot.Error{Kind: boot.FirmwareFailure, Module: "handoff", Message: "firmware reported an empty memory map"}
	errNoKernelImage    = &boot.Error{Kind: boot.InvalidKernelImage, Module: "handoff", Message: "no kernel image supplied"}
)

// Firmware is the part of the boot services the sequencer relies on.
type Firmware interface {
	// ExitBootServices terminates boot services and returns the final
	// memory map. No firmware service is used afterwards.
	ExitBootServices() ([]bootinfo.MemoryRegion, error)
}

// Inputs are collected by the entry point while boot services are still
// available.
type Inputs struct {
	KernelImage []byte

	// FrameBuffer is nil when no graphics output is available.
	FrameBuffer *bootinfo.FrameBuffer

	// RSDPAddress is the physical address of the ACPI RSDP or 0.
	RSDPAddress uint64
}

// Sequencer builds the kernel address space over a view of physical
// memory.
type Sequencer struct {
	cfg  Config
	pmem mm.PhysicalMemory
	priv descriptor.PrivilegeState
}

// NewSequencer returns a sequencer that accesses physical memory through
// pmem.
func NewSequencer(cfg Config, pmem mm.PhysicalMemory) *Sequencer {
	return &Sequencer{cfg: cfg.withDefaults(), pmem: pmem}
}

// WithPrivilegeState replaces the privilege state compiled for GOARCH.
// Simulators use it to avoid touching CPU registers.
func (s *Sequencer) WithPrivilegeState(priv descriptor.PrivilegeState) *Sequencer {
	s.priv = priv
	return s
}

// Context is the fully prepared machine state. Nothing else may be
// allocated or mapped once it exists.
type Context struct {
	// Root is the physical address of the top-level page table.
	Root uintptr

	Entry       uintptr
	StackTop    uintptr
	StackBottom uintptr

	// BootInfo is the kernel-visible address of the boot info block and
	// BootInfoPhys its physical address.
	BootInfo     uintptr
	BootInfoPhys uintptr
	BootInfoSize mm.Size

	PhysicalMemoryOffset uintptr
	Kernel               *elfload.Kernel
	Regions              []bootinfo.MemoryRegion

	pdt   *vmm.PageDirectoryTable
	alloc *pmm.BootMemAllocator
}

// PageTable returns the page table hierarchy built for the kernel.
func (ctx *Context) PageTable() *vmm.PageDirectoryTable {
	return ctx.pdt
}

// Allocator returns the frame allocator used while preparing the context.
func (ctx *Context) Allocator() *pmm.BootMemAllocator {
	return ctx.alloc
}

// preparation carries the state shared by the Prepare steps.
type preparation struct {
	cfg   Config
	pmem  mm.PhysicalMemory
	alloc *pmm.BootMemAllocator
	pdt   *vmm.PageDirectoryTable
	space *vmm.AddressSpace
	priv  descriptor.PrivilegeState
	ctx   *Context

	regions     []bootinfo.MemoryRegion
	fb          *bootinfo.FrameBuffer
	rsdp        uint64
	bootInfoCap mm.Size
}

// Prepare exits the firmware boot services and builds everything the
// kernel needs. The returned Context only has to be switched to.
func (s *Sequencer) Prepare(fw Firmware, in Inputs) (*Context, *boot.Error) {
	if len(in.KernelImage) == 0 {
		return nil, errNoKernelImage
	}

	regions, ferr := fw.ExitBootServices()
	if ferr != nil {
		kfmt.Printf("[handoff] exit boot services: %s\n", ferr.Error())
		return nil, errExitBootServices
	}
	if len(regions) == 0 {
		return nil, errEmptyMemoryMap
	}

	p := &preparation{
		cfg:     s.cfg,
		pmem:    s.pmem,
		ctx:     &Context{},
		regions: regions,
		rsdp:    in.RSDPAddress,
		priv:    s.priv,
	}
	if in.FrameBuffer != nil {
		fb := *in.FrameBuffer
		p.fb = &fb
	}

	steps := []struct {
		name string
		fn   func() *boot.Error
	}{
		{"set up allocator and page tables", p.setupTables},
		{"map loader", p.mapLoader},
		{"load kernel", func() *boot.Error { return p.loadKernel(in.KernelImage) }},
		{"build descriptor tables", p.buildDescriptors},
		{"map stack", p.mapStack},
		{"map framebuffer", p.mapFrameBuffer},
		{"reserve boot info", p.reserveBootInfo},
		{"map physical memory", p.mapPhysicalMemory},
		{"map recursive entry", p.mapRecursive},
		{"write boot info", p.writeBootInfo},
		{"install privilege state", p.installPrivilegeState},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			kfmt.Printf("[handoff] %s: %s\n", step.name, err.Error())
			return nil, err
		}
	}

	kfmt.Printf("[handoff] ready: entry 0x%x, stack 0x%x, boot info 0x%x, %d frame(s) allocated\n",
		p.ctx.Entry, p.ctx.StackTop, p.ctx.BootInfo, p.alloc.AllocatedFrames())
	return p.ctx, nil
}

// setupTables creates the allocator over the final firmware map, the
// top-level table and the slot reservations.
func (p *preparation) setupTables() *boot.Error {
	p.alloc = pmm.New(p.regions, p.cfg.MinFrameAddress)
	p.alloc.PrintMemoryMap()

	pdt, err := vmm.NewPageDirectoryTable(p.alloc, p.pmem)
	if err != nil {
		return err
	}

	p.pdt = pdt
	p.space = vmm.NewAddressSpace(p.cfg.RecursiveIndex)
	if p.cfg.PhysicalMemoryOffset != 0 {
		p.space.MarkUsed(p.cfg.PhysicalMemoryOffset, mm.Size(p.alloc.MaxPhysAddr()))
	}

	p.ctx.pdt, p.ctx.alloc = pdt, p.alloc
	p.ctx.Root = pdt.Frame().Address()
	return nil
}

// mapLoader identity-maps the loader image and the pages spanned by the
// trampoline so execution can continue right after the page table switch.
func (p *preparation) mapLoader() *boot.Error {
	for _, region := range p.regions {
		if region.Kind != bootinfo.Bootloader {
			continue
		}

		start := uintptr(region.Start)
		size := mm.Size(region.Frames * bootinfo.FrameSize)
		if err := p.pdt.IdentityMap(start, size, vmm.PermWrite|vmm.PermExecute); err != nil {
			return err
		}
		p.space.MarkUsed(start, size)
	}

	tramp := trampolineAddrFn()
	last := tramp
	if trampolineSize > 0 {
		last += trampolineSize - 1
	}

	for page := mm.PageFromAddress(tramp); page <= mm.PageFromAddress(last); page++ {
		addr := page.Address()
		if _, _, err := p.pdt.Translate(addr); err == nil {
			continue
		}

		p.space.MarkUsed(addr, mm.Size(mm.PageSize))
		if err := p.pdt.IdentityMap(addr, mm.Size(mm.PageSize), vmm.PermExecute); err != nil {
			return err
		}
	}
	return nil
}

func (p *preparation) loadKernel(image []byte) *boot.Error {
	kernel, err := elfload.Load(image, p.alloc, p.pdt, p.pmem, p.space)
	if err != nil {
		return err
	}

	p.ctx.Kernel = kernel
	p.ctx.Entry = kernel.Entry
	return nil
}

func (p *preparation) buildDescriptors() *boot.Error {
	if p.priv == nil {
		p.priv = newPrivilegeStateFn()
	}
	return p.priv.Build(p.alloc, p.pdt, p.pmem)
}

// mapStack places the kernel stack in its own top-level slot. The lowest
// page stays unmapped so an overflow faults instead of corrupting memory.
func (p *preparation) mapStack() *boot.Error {
	pages := p.cfg.StackPages
	base, err := p.space.Reserve(mm.Size(pages) << mm.PageShift)
	if err != nil {
		return err
	}

	frame, err := p.alloc.AllocFrames(pages-1, 1, bootinfo.KernelStack)
	if err != nil {
		return err
	}

	bottom := base + mm.PageSize
	if err = p.pdt.Map(bottom, frame.Address(), mm.Size(pages-1)<<mm.PageShift, vmm.PermWrite); err != nil {
		return err
	}

	p.ctx.StackBottom = bottom
	p.ctx.StackTop = base + uintptr(pages)<<mm.PageShift
	kfmt.Printf("[handoff] stack 0x%x-0x%x (guard at 0x%x)\n", p.ctx.StackBottom, p.ctx.StackTop, base)
	return nil
}

func (p *preparation) mapFrameBuffer() *boot.Error {
	if p.fb == nil {
		return nil
	}

	base, err := p.space.Reserve(mm.Size(vmm.PageOffset(uintptr(p.fb.Address))) + mm.Size(p.fb.Size))
	if err != nil {
		return err
	}

	virt := base + vmm.PageOffset(uintptr(p.fb.Address))
	if err = p.pdt.Map(virt, uintptr(p.fb.Address), mm.Size(p.fb.Size), vmm.PermWrite|vmm.PermUncached); err != nil {
		return err
	}

	p.fb.VirtAddress = uint64(virt)
	kfmt.Printf("[handoff] framebuffer %dx%d (%s) at 0x%x\n", p.fb.Width, p.fb.Height, p.fb.Format, virt)
	return nil
}

// mapPhysicalMemory mirrors every RAM-backed firmware region at the
// physical memory offset.
func (p *preparation) mapPhysicalMemory() *boot.Error {
	offset := p.cfg.PhysicalMemoryOffset
	if offset == 0 {
		var err *boot.Error
		if offset, err = p.space.Reserve(mm.Size(p.alloc.MaxPhysAddr())); err != nil {
			return err
		}
	}

	var err *boot.Error
	p.alloc.VisitFirmwareRegions(func(region bootinfo.MemoryRegion) bool {
		if !region.IsRAM() || region.Frames == 0 {
			return true
		}

		start := mm.AlignDown(uintptr(region.Start))
		size := mm.Size(mm.AlignUp(uintptr(region.End())) - start)
		err = p.pdt.Map(offset+start, start, size, vmm.PermWrite)
		return err == nil
	})
	if err != nil {
		return err
	}

	p.ctx.PhysicalMemoryOffset = offset
	kfmt.Printf("[handoff] physical memory mapped at 0x%x\n", offset)
	return nil
}

func (p *preparation) mapRecursive() *boot.Error {
	return p.pdt.MapRecursive(p.cfg.RecursiveIndex)
}

func (p *preparation) installPrivilegeState() *boot.Error {
	return p.priv.Install()
}

// lookupRSDP validates the RSDP reported by the firmware or, when there is
// none, scans the legacy BIOS area for one. Failures only produce a warning
// since the kernel can boot without ACPI.
func (p *preparation) lookupRSDP() uint64 {
	if p.rsdp != 0 {
		if _, err := readRSDPFn(p.pmem, uintptr(p.rsdp)); err != nil {
			kfmt.Printf("[handoff] warning: RSDP at 0x%x: %s\n", p.rsdp, err.Error())
		}
		return p.rsdp
	}

	if !scanLegacyRSDP {
		return 0
	}

	addr, err := locateRSDPFn(p.pmem)
	if err != nil {
		kfmt.Printf("[handoff] warning: %s\n", err.Error())
		return 0
	}
	return uint64(addr)
}
