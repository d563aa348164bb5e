package cpu

var currentELFn = CurrentEL

// DisableInterrupts masks all exceptions (DAIF).
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry invalidates the TLB entries for a virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the active TTBR0_EL1 table.
func ActivePDT() uintptr

// CurrentEL returns the exception level the CPU is executing at.
func CurrentEL() uint8

// WriteMAIR stores value into MAIR_EL1.
func WriteMAIR(value uint64)

// WriteTCR stores value into TCR_EL1.
func WriteTCR(value uint64)

// JumpToKernel masks exceptions, installs the table at pdtPhysAddr in
// TTBR0_EL1 and TTBR1_EL1, invalidates the TLB, switches to the stack ending at stackTop
// and branches to entry with bootInfo in x0. It never returns.
func JumpToKernel(pdtPhysAddr, stackTop, entry, bootInfo uintptr)

// TrampolineSize bounds the length of the JumpToKernel code.
const TrampolineSize = 128

// TrampolineAddr returns the address of the code that performs the switch
// in JumpToKernel. The TrampolineSize bytes starting there must be
// identity-mapped in the kernel address space.
func TrampolineAddr() uintptr

// AtEL1 returns true if the loader runs at EL1.
func AtEL1() bool {
	return currentELFn() == 1
}
