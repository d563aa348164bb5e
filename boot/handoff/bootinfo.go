package handoff

import (
	"gopherboot/boot"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
	"gopherboot/bootinfo"
	"sort"
)

// allocationSlack bounds the number of allocation records that can still
// be created after the boot info frames are reserved (page tables for the
// physical memory view, possibly spread over several regions).
const allocationSlack = 8

// reserveBootInfo allocates frames for the boot info block. The region
// list is only final after the physical memory view is mapped, so the
// block is sized for the worst case: every allocation record splitting a
// usable region in three.
func (p *preparation) reserveBootInfo() *boot.Error {
	var (
		regions  = p.alloc.FirmwareRegions() + 2*(p.alloc.Allocations()+allocationSlack)
		sections = len(p.ctx.Kernel.Sections)
	)
	if p.fb != nil {
		regions++
	}

	size := mm.Size(bootinfo.EncodedSize(regions, sections))
	frame, err := p.alloc.AllocFrames(size.Pages(), 1, bootinfo.BootInfo)
	if err != nil {
		return err
	}

	p.ctx.BootInfoPhys = frame.Address()
	p.bootInfoCap = mm.Size(size.Pages()) << mm.PageShift
	return nil
}

// writeBootInfo encodes the final memory map and the loader state into the
// reserved frames. Array addresses point into the physical memory view.
func (p *preparation) writeBootInfo() *boot.Error {
	regions := withFrameBuffer(p.alloc.MemoryMap(), p.fb)

	info := &bootinfo.Info{
		PhysicalMemoryOffset: uint64(p.ctx.PhysicalMemoryOffset),
		RecursiveIndex:       uint64(p.cfg.RecursiveIndex),
		RSDPAddress:          p.lookupRSDP(),
		StackTop:             uint64(p.ctx.StackTop),
		StackBottom:          uint64(p.ctx.StackBottom),
	}
	if p.fb != nil {
		info.HasFrameBuffer = 1
		info.FrameBuffer = *p.fb
	}

	virt := p.ctx.PhysicalMemoryOffset + p.ctx.BootInfoPhys
	dst := p.pmem.Bytes(p.ctx.BootInfoPhys, p.bootInfoCap)
	mm.Zero(p.pmem, p.ctx.BootInfoPhys, p.bootInfoCap)

	n, err := bootinfo.Encode(dst, uint64(virt), info, regions, p.ctx.Kernel.Sections)
	if err != nil {
		kfmt.Printf("[handoff] boot info needs %d bytes; %d reserved\n", bootinfo.EncodedSize(len(regions), len(p.ctx.Kernel.Sections)), p.bootInfoCap)
		return err
	}

	p.ctx.BootInfo = virt
	p.ctx.BootInfoSize = mm.Size(n)
	p.ctx.Regions = regions
	kfmt.Printf("[handoff] boot info at 0x%x: %d region(s), %d section(s)\n", virt, len(regions), len(p.ctx.Kernel.Sections))
	return nil
}

// withFrameBuffer adds a FrameBuffer region for framebuffers that the
// firmware map does not describe.
func withFrameBuffer(regions []bootinfo.MemoryRegion, fb *bootinfo.FrameBuffer) []bootinfo.MemoryRegion {
	if fb == nil || fb.Size == 0 {
		return regions
	}

	start := uint64(mm.AlignDown(uintptr(fb.Address)))
	end := uint64(mm.AlignUp(uintptr(fb.Address + fb.Size)))
	for _, region := range regions {
		if start < region.End() && region.Start < end {
			return regions
		}
	}

	regions = append(regions, bootinfo.MemoryRegion{
		Start:  start,
		Frames: (end - start) / bootinfo.FrameSize,
		Kind:   bootinfo.FrameBufferMemory,
	})
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })
	return regions
}
