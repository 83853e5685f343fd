// Package vm implements the page-fault handler and the mmap/munmap
// operations built on top of the frame table and supplemental page
// table (package page), grounded on original_source's vm/page.c
// (page_fault, load_swap, load_file, grow_stack) and vm/mmap.c.
package vm

import (
	"corekern/defs"
	"corekern/fdops"
	"corekern/inode"
	"corekern/mem"
	"corekern/page"
	"corekern/swap"
)

// denyWriter is implemented by *file.File; Mmap/Munmap use it to hold
// the backing inode's deny-write count up for the mapping's lifetime
// (spec.md §4.3). Test doubles that satisfy fdops.Fdops_i without this
// method simply skip the deny-write bookkeeping.
type denyWriter interface {
	Inode() *inode.Inode_t
}

// StackGrowSlack is how far below the saved stack pointer a fault may
// land and still be treated as legitimate stack growth.
const StackGrowSlack = 32

// AddressSpace_t bundles one process's page table, SPT, and the
// stack-growth bookkeeping the fault handler needs. The scheduler and
// thread/process model that would otherwise own this are out of
// scope; callers construct and thread one of these per address space
// themselves.
type AddressSpace_t struct {
	PT       page.PageTable_i
	Spt      *page.SPT
	StackPtr int
	StackLow int
}

// MkAddressSpace wires a fresh SPT on top of pt.
func MkAddressSpace(pt page.PageTable_i, stackPtr, stackLow int) *AddressSpace_t {
	return &AddressSpace_t{PT: pt, Spt: page.MkSPT(pt), StackPtr: stackPtr, StackLow: stackLow}
}

func pground(uva int) int {
	return uva &^ (mem.PGSIZE - 1)
}

func (as *AddressSpace_t) canGrowStack(uva int) bool {
	return uva >= as.StackPtr-StackGrowSlack && uva < as.StackPtr && uva >= as.StackLow
}

// Fault handles a hardware page fault at uva. write indicates the
// access was a store. A non-zero return means the process must be
// killed (spec.md §4.8); the caller owns that policy, out of scope
// here.
func Fault(ft *page.FrameTable, sw *swap.Swap, as *AddressSpace_t, uva int, write bool) defs.Err_t {
	upage := pground(uva)

	as.Spt.Lock()
	e, ok := as.Spt.Get(upage)
	if ok && write && !e.Writable {
		as.Spt.Unlock()
		return -defs.EPERM
	}
	as.Spt.Unlock()

	if !ok {
		if !as.canGrowStack(uva) {
			return -defs.EFAULT
		}
		return as.growStack(ft, upage)
	}

	switch e.Loc {
	case page.UNINIT:
		return -defs.EFAULT
	case page.MEM:
		panic("vm: hardware fault on a resident page")
	case page.SWAP:
		return as.loadSwap(ft, sw, upage)
	case page.FILE:
		return as.loadFile(ft, upage)
	default:
		panic("vm: unreachable SPT location")
	}
}

// growStack installs a new zero-filled anonymous page for upage.
func (as *AddressSpace_t) growStack(ft *page.FrameTable, upage int) defs.Err_t {
	e := &page.Entry_t{Upage: upage, Loc: page.MEM, Writable: true}
	as.Spt.Lock()
	as.Spt.Install(e)
	as.Spt.Unlock()

	fr, err := ft.Alloc(e)
	if err != 0 {
		as.Spt.Lock()
		as.Spt.Delete(upage)
		as.Spt.Unlock()
		return err
	}
	for i := range fr.Data {
		fr.Data[i] = 0
	}

	as.Spt.Lock()
	e.Frame = fr
	as.PT.Install(upage, fr.Data, true)
	as.Spt.Unlock()
	ft.Unpin(fr)
	return 0
}

// loadSwap materializes a SWAP-resident entry: allocate a frame, swap
// the contents in (freeing the slot), install the mapping.
func (as *AddressSpace_t) loadSwap(ft *page.FrameTable, sw *swap.Swap, upage int) defs.Err_t {
	as.Spt.Lock()
	e, ok := as.Spt.Get(upage)
	as.Spt.Unlock()
	if !ok {
		panic("vm: swap entry vanished under the fault handler")
	}

	fr, err := ft.Alloc(e)
	if err != 0 {
		return err
	}
	slot := e.SwapSlot
	if err := sw.In(slot, fr.Data); err != 0 {
		ft.Free(fr)
		return err
	}

	as.Spt.Lock()
	e.Frame = fr
	e.Loc = page.MEM
	as.PT.Install(upage, fr.Data, e.Writable)
	as.Spt.Unlock()
	ft.Unpin(fr)
	return 0
}

// loadFile materializes a FILE-resident entry: allocate a frame, read
// page_read_bytes from the recorded file offset, zero-fill the rest,
// install the mapping.
func (as *AddressSpace_t) loadFile(ft *page.FrameTable, upage int) defs.Err_t {
	as.Spt.Lock()
	e, ok := as.Spt.Get(upage)
	as.Spt.Unlock()
	if !ok {
		panic("vm: file entry vanished under the fault handler")
	}

	fr, err := ft.Alloc(e)
	if err != 0 {
		return err
	}
	n, rerr := e.File.ReadAt(fr.Data[:e.ReadBytes], e.FileOff)
	if rerr != 0 {
		ft.Free(fr)
		return rerr
	}
	for i := n; i < mem.PGSIZE; i++ {
		fr.Data[i] = 0
	}

	as.Spt.Lock()
	e.Frame = fr
	e.Loc = page.MEM
	as.PT.Install(upage, fr.Data, e.Writable)
	as.Spt.Unlock()
	ft.Unpin(fr)
	return 0
}

// Mapping identifies one active mmap region.
type Mapping struct {
	Base   int
	Npages int
}

// Mmap validates addr and f, then installs one FILE-located SPT entry
// per page of f (spec.md §4.10). f must already be open; Mmap calls
// f.Reopen so the mapping holds its own reference on f (the entries
// use f itself, and Munmap's Close drops that reference), and raises the
// backing inode's deny-write count for the mapping's lifetime (spec.md
// §4.3) when f exposes one.
func Mmap(as *AddressSpace_t, f fdops.Fdops_i, addr int) (*Mapping, defs.Err_t) {
	if addr == 0 || addr%mem.PGSIZE != 0 {
		return nil, -defs.EINVAL
	}
	length, err := f.Len()
	if err != 0 {
		return nil, err
	}
	if length == 0 {
		return nil, -defs.EINVAL
	}
	npages := (length + mem.PGSIZE - 1) / mem.PGSIZE

	as.Spt.Lock()
	defer as.Spt.Unlock()
	for i := 0; i < npages; i++ {
		if _, ok := as.Spt.Get(addr + i*mem.PGSIZE); ok {
			return nil, -defs.EINVAL
		}
	}
	if err := f.Reopen(); err != 0 {
		return nil, err
	}
	if dw, ok := f.(denyWriter); ok {
		dw.Inode().DenyWrite()
	}
	for i := 0; i < npages; i++ {
		upage := addr + i*mem.PGSIZE
		off := i * mem.PGSIZE
		rb := mem.PGSIZE
		if off+rb > length {
			rb = length - off
		}
		as.Spt.Install(&page.Entry_t{
			Upage: upage, Loc: page.FILE, File: f,
			FileOff: off, ReadBytes: rb, Writable: true, IsMmap: true,
		})
	}
	return &Mapping{Base: addr, Npages: npages}, 0
}

// Munmap walks m's pages: write back MEM-resident dirty mmap pages
// and free their frames, free SWAP slots, and leave FILE-located
// entries alone (not resident: never loaded, or already evicted to the
// file). Every entry is deleted from the
// SPT and the reopened file handle is closed exactly once.
func Munmap(ft *page.FrameTable, sw *swap.Swap, as *AddressSpace_t, m *Mapping) defs.Err_t {
	var f fdops.Fdops_i

	as.Spt.Lock()
	for i := 0; i < m.Npages; i++ {
		upage := m.Base + i*mem.PGSIZE
		e, ok := as.Spt.Get(upage)
		if !ok {
			continue
		}
		if f == nil {
			f = e.File
			// Allow writes back to the backing file before
			// unwinding this mapping's pages, since the
			// write-back below goes through the same gate
			// (spec.md §4.3) that Mmap raised.
			if dw, ok := f.(denyWriter); ok {
				dw.Inode().AllowWrite()
			}
		}
		switch e.Loc {
		case page.MEM:
			if e.IsMmap && as.PT.Dirty(upage) {
				e.File.WriteAt(e.Frame.Data[:e.ReadBytes], e.FileOff)
			}
			as.PT.Clear(upage)
			ft.Free(e.Frame)
		case page.SWAP:
			sw.Free(e.SwapSlot)
		}
		as.Spt.Delete(upage)
	}
	as.Spt.Unlock()

	if f != nil {
		return f.Close()
	}
	return 0
}

// Preload resolves and pins every page spanning [addr, addr+n) so a
// subsequent file-system-locked syscall body cannot re-enter the
// fault handler (spec.md §4.10's deadlock-avoidance note). The
// returned frames must be unpinned by the caller once the syscall
// completes.
func Preload(ft *page.FrameTable, sw *swap.Swap, as *AddressSpace_t, addr, n int) ([]*page.Frame_t, defs.Err_t) {
	start := pground(addr)
	end := pground(addr + n + mem.PGSIZE - 1)
	var frames []*page.Frame_t
	for upage := start; upage < end; upage += mem.PGSIZE {
		if err := as.ensureResident(ft, sw, upage); err != 0 {
			for _, fr := range frames {
				ft.Unpin(fr)
			}
			return nil, err
		}
		as.Spt.Lock()
		e, _ := as.Spt.Get(upage)
		fr := e.Frame
		as.Spt.Unlock()
		ft.Pin(fr)
		frames = append(frames, fr)
	}
	return frames, 0
}

// ensureResident materializes upage into a frame if it is not already
// resident. A page with no SPT entry is installed as a fresh stack
// page; no stack-range check is made here.
func (as *AddressSpace_t) ensureResident(ft *page.FrameTable, sw *swap.Swap, upage int) defs.Err_t {
	as.Spt.Lock()
	e, ok := as.Spt.Get(upage)
	as.Spt.Unlock()

	if !ok {
		return as.growStack(ft, upage)
	}
	switch e.Loc {
	case page.MEM:
		return 0
	case page.SWAP:
		return as.loadSwap(ft, sw, upage)
	case page.FILE:
		return as.loadFile(ft, upage)
	default:
		return -defs.EFAULT
	}
}

// UnpinAll releases every frame a Preload call returned.
func UnpinAll(ft *page.FrameTable, frames []*page.Frame_t) {
	for _, fr := range frames {
		ft.Unpin(fr)
	}
}
