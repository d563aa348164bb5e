package handoff

import (
	"gopherboot/boot"
	"gopherboot/boot/cpu"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
)

var (
	// The following functions are mocked by tests.
	disableInterruptsFn = cpu.DisableInterrupts
	jumpFn              = cpu.JumpToKernel
	haltFn              = cpu.Halt
	panicFn             = kfmt.Panic

	errKernelReturned = &boot.Error{Module: "handoff", Message: "kernel entry point returned"}
)

// Switch activates the kernel page tables and stack and jumps to the kernel
// entry point with the boot info address as its only argument. It does not
// return.
func (ctx *Context) Switch() {
	ctx.pdt.Seal()
	kfmt.Printf("[handoff] switching to kernel: root 0x%x, entry 0x%x\n", ctx.Root, ctx.Entry)

	disableInterruptsFn()
	jumpFn(ctx.Root, ctx.StackTop, ctx.Entry, ctx.BootInfo)

	// Only reachable if the jump was intercepted.
	kfmt.Printf("[handoff] %s\n", errKernelReturned.Message)
	haltFn()
}

// Run prepares the kernel address space and switches to the kernel. Any
// failure is reported through kfmt.Panic which halts the machine.
func Run(fw Firmware, pmem mm.PhysicalMemory, in Inputs, cfg Config) {
	ctx, err := NewSequencer(cfg, pmem).Prepare(fw, in)
	if err != nil {
		panicFn(err)
		return
	}

	ctx.Switch()
}
