// Command bootsim runs the loader pipeline against a simulated machine and
// reports the address space the kernel would start with.
package main

import (
	"errors"
	"flag"
	"fmt"
	"gopherboot/boot/descriptor"
	"gopherboot/boot/handoff"
	"gopherboot/boot/kfmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	machineFile = flag.String("machine", "", "YAML description of the simulated machine")
	kernelFile  = flag.String("kernel", "", "ELF64 kernel image")
	verbose     = flag.Bool("v", false, "log loader diagnostics")
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[bootsim] error: %s\n", err.Error())
	os.Exit(1)
}

// mapKernel maps the kernel image read-only. The returned function unmaps
// it.
func mapKernel(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if st.Size() == 0 {
		return nil, nil, fmt.Errorf("%s: empty kernel image", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: mmap: %w", path, err)
	}

	return data, func() { _ = unix.Munmap(data) }, nil
}

// run simulates a boot of kernel on machine and writes the report to w.
func run(w io.Writer, machine *Machine, kernel []byte, logger *zap.Logger) error {
	sink := newLogSink(logger)
	defer sink.Flush()
	kfmt.SetOutputSink(sink)
	defer kfmt.SetOutputSink(nil)

	pmem, err := machine.PhysicalMemory()
	if err != nil {
		return err
	}

	fw := &firmware{regions: machine.MemoryMap()}
	seq := handoff.NewSequencer(machine.Config(), pmem).WithPrivilegeState(descriptor.NewDryRun())
	ctx, berr := seq.Prepare(fw, machine.Inputs(kernel))
	if berr != nil {
		return fmt.Errorf("[%s] %s (%s)", berr.Module, berr.Message, berr.Kind)
	}

	return Report(w, ctx, pmem)
}

func main() {
	flag.Parse()
	if *machineFile == "" || *kernelFile == "" {
		exit(errors.New("both -machine and -kernel are required"))
	}

	f, err := os.Open(*machineFile)
	if err != nil {
		exit(err)
	}
	machine, err := ParseMachine(f)
	f.Close()
	if err != nil {
		exit(fmt.Errorf("%s: %w", *machineFile, err))
	}

	kernel, unmap, err := mapKernel(*kernelFile)
	if err != nil {
		exit(err)
	}
	defer unmap()

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			exit(err)
		}
	}

	if err = run(os.Stdout, machine, kernel, logger); err != nil {
		unmap()
		exit(err)
	}
}
