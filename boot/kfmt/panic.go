package kfmt

import (
	"gopherboot/boot"
	"gopherboot/boot/cpu"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &boot.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the active sink and halts
// the CPU. Calls to Panic never return.
func Panic(e interface{}) {
	var err *boot.Error

	switch t := e.(type) {
	case *boot.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		if err.Kind != 0 {
			Printf("[%s] unrecoverable error (%s): %s\n", err.Module, err.Kind, err.Message)
		} else {
			Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
		}
	}
	Printf("*** boot aborted: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
