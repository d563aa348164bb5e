//go:build !arm64

package vmm

import (
	"gopherboot/boot/mm"
	"testing"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   pageTableEntry
		flag1 = PageTableEntryFlag(1 << 10)
		flag2 = PageTableEntryFlag(1 << 21)
	)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.ClearFlags(flag1 | flag2)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       pageTableEntry
		physFrame = mm.Frame(123)
	)

	pte.SetFrame(physFrame)
	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return %v; got %v", physFrame, got)
	}
}

func TestLeafEncoding(t *testing.T) {
	specs := []struct {
		perm     Perm
		expFlags PageTableEntryFlag
		absent   PageTableEntryFlag
	}{
		{0, FlagPresent | FlagNoExecute, FlagRW | FlagDoNotCache},
		{PermWrite, FlagPresent | FlagRW | FlagNoExecute, FlagDoNotCache},
		{PermExecute, FlagPresent, FlagRW | FlagNoExecute},
		{PermWrite | PermUncached, FlagPresent | FlagRW | FlagNoExecute | FlagDoNotCache | FlagWriteThroughCaching, 0},
	}

	for specIndex, spec := range specs {
		pte := leafEntry(mm.Frame(7), spec.perm)

		if !pte.HasFlags(spec.expFlags) || (spec.absent != 0 && pte.HasAnyFlag(spec.absent)) {
			t.Errorf("[spec %d] unexpected entry encoding 0x%x for %s", specIndex, uintptr(pte), spec.perm)
		}

		if got := leafPerm(pte); got != spec.perm {
			t.Errorf("[spec %d] expected decoded permissions %s; got %s", specIndex, spec.perm, got)
		}
	}
}

func TestHugePagesRejected(t *testing.T) {
	pdt, _, _ := newTestPDT(t, 8)

	if err := pdt.Map(0x40000000, 0x40000000, 4*mm.Kb, PermWrite); err != nil {
		t.Fatal(err)
	}

	// turn the P3 entry covering 0x40000000 into a 1G page
	p4e := pdt.entry(pdt.Frame(), 0)
	p3e := pdt.entry(p4e.Frame(), 1)
	p3e.SetFlags(FlagHugePage)

	if _, _, err := pdt.Translate(0x40000000); err != errNoHugePageSupport {
		t.Fatalf("expected errNoHugePageSupport; got %v", err)
	}

	if err := pdt.Map(0x40001000, 0x40001000, 4*mm.Kb, PermWrite); err != errNoHugePageSupport {
		t.Fatalf("expected errNoHugePageSupport; got %v", err)
	}
}
