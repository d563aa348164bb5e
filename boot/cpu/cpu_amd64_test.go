package cpu

import "testing"

func TestIsIntel(t *testing.T) {
	defer func() {
		cpuidFn = ID
	}()

	specs := []struct {
		eax, ebx, ecx, edx uint32
		exp                bool
	}{
		// CPUID output from an Intel CPU
		{0xd, 0x756e6547, 0x6c65746e, 0x49656e69, true},
		// CPUID output from an AMD Athlon CPU
		{0x1, 68747541, 0x444d4163, 0x69746e65, false},
	}

	for specIndex, spec := range specs {
		cpuidFn = func(_ uint32) (uint32, uint32, uint32, uint32) {
			return spec.eax, spec.ebx, spec.ecx, spec.edx
		}

		if got := IsIntel(); got != spec.exp {
			t.Errorf("[spec %d] expected IsIntel to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}

func TestHasNoExecute(t *testing.T) {
	defer func() {
		cpuidFn = ID
	}()

	specs := []struct {
		maxLeaf, edx uint32
		exp          bool
	}{
		{0x80000008, 1 << 20, true},
		{0x80000008, 1<<20 - 1, false},
		// extended leaves not implemented
		{0x80000000, 1 << 20, false},
	}

	for specIndex, spec := range specs {
		cpuidFn = func(leaf uint32) (uint32, uint32, uint32, uint32) {
			if leaf == 0x80000000 {
				return spec.maxLeaf, 0, 0, 0
			}
			return 0, 0, 0, spec.edx
		}

		if got := HasNoExecute(); got != spec.exp {
			t.Errorf("[spec %d] expected HasNoExecute to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}

func TestEnableNoExecute(t *testing.T) {
	defer func() {
		readMSRFn = ReadMSR
		writeMSRFn = WriteMSR
	}()

	specs := []struct {
		efer     uint64
		expWrite bool
	}{
		{0x500, true},
		{0xd00, false},
	}

	for specIndex, spec := range specs {
		var (
			writes  int
			written uint64
		)

		readMSRFn = func(msr uint32) uint64 {
			if msr != msrEFER {
				t.Errorf("[spec %d] expected EFER to be read; got msr 0x%x", specIndex, msr)
			}
			return spec.efer
		}
		writeMSRFn = func(_ uint32, value uint64) {
			writes++
			written = value
		}

		EnableNoExecute()

		if spec.expWrite {
			if writes != 1 || written != spec.efer|eferNXE {
				t.Errorf("[spec %d] expected a single EFER write of 0x%x; got %d writes, last 0x%x", specIndex, spec.efer|eferNXE, writes, written)
			}
		} else if writes != 0 {
			t.Errorf("[spec %d] expected EFER to be left untouched", specIndex)
		}
	}
}
