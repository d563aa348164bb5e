package main

import (
	"fmt"
	"gopherboot/boot/handoff"
	"gopherboot/boot/mm"
	"gopherboot/boot/mm/vmm"
	"gopherboot/bootinfo"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// Report prints the kernel's view of the prepared machine: the final
// memory map, top-level slot usage and the state handed to the entry
// point.
func Report(w io.Writer, ctx *handoff.Context, pmem mm.PhysicalMemory) error {
	pdt := ctx.PageTable()

	info, regions, sections, err := bootinfo.Decode(pmem.Bytes(ctx.BootInfoPhys, ctx.BootInfoSize), uint64(ctx.BootInfo))
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "memory map (%d regions):\n", len(regions))
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, r := range regions {
		fmt.Fprintf(tw, "  0x%012x\t0x%012x\t%s\t%s\n", r.Start, r.End(), humanize.IBytes(r.Frames*bootinfo.FrameSize), r.Kind)
	}
	tw.Flush()

	fmt.Fprintf(w, "usable after hand-off: %s, page tables: %d frame(s)\n",
		humanize.IBytes(bootinfo.CountFrames(regions, bootinfo.Usable)*bootinfo.FrameSize), pdt.TableFrames())

	fmt.Fprintf(w, "top-level slots in use:")
	for slot := 0; slot < 512; slot++ {
		if pdt.SlotInUse(slot) {
			fmt.Fprintf(w, " %d", slot)
		}
	}
	fmt.Fprintln(w)

	phys, perm, terr := pdt.Translate(ctx.Entry)
	if terr != nil {
		return terr
	}
	fmt.Fprintf(w, "entry: 0x%x -> 0x%x (%s)\n", ctx.Entry, phys, perm)

	guard := "unmapped"
	if _, _, terr = pdt.Translate(ctx.StackBottom - mm.PageSize); terr == nil {
		guard = "MAPPED"
	}
	fmt.Fprintf(w, "stack: 0x%x-0x%x (%s), guard page %s\n", ctx.StackBottom, ctx.StackTop, humanize.IBytes(uint64(ctx.StackTop-ctx.StackBottom)), guard)

	fmt.Fprintf(w, "boot info: 0x%x (%s), physical memory offset 0x%x, recursive index %d, rsdp 0x%x\n",
		ctx.BootInfo, humanize.IBytes(uint64(info.Size)), info.PhysicalMemoryOffset, info.RecursiveIndex, info.RSDPAddress)
	if info.HasFrameBuffer != 0 {
		fb := info.FrameBuffer
		fmt.Fprintf(w, "framebuffer: %dx%d %s at 0x%x -> 0x%x\n", fb.Width, fb.Height, fb.Format, fb.VirtAddress, fb.Address)
	}

	for _, seg := range ctx.Kernel.Segments {
		fmt.Fprintf(w, "segment: 0x%x (%s) %s -> 0x%x\n", seg.VirtAddr, humanize.IBytes(uint64(seg.MemSize)), seg.Perm, seg.PhysAddr)
	}
	for i := range sections {
		fmt.Fprintf(w, "section: %-20s 0x%x %s\n", sections[i].SectionName(), sections[i].Start, humanize.IBytes(sections[i].Size))
	}

	recursive, _, terr := pdt.Translate(vmm.RecursiveTableAddr(uint16(info.RecursiveIndex)))
	if terr != nil || recursive != ctx.Root {
		return fmt.Errorf("recursive entry does not resolve to the root table")
	}
	return nil
}
