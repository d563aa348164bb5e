package vmm

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls
// the supplied walkFn with the page table entry that corresponds to each
// page table level. The table for the next level is looked up after walkFn
// returns, so walkFn may install missing tables on the way down.
func (pdt *PageDirectoryTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	table := pdt.pdtFrame
	for level := uint8(0); level < pageLevels; level++ {
		pte := pdt.entry(table, pteIndex(virtAddr, level))
		if !walkFn(level, pte) {
			return
		}

		if !isPresent(*pte) {
			return
		}
		table = pte.Frame()
	}
}
