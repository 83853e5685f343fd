package vm

import (
	"testing"

	"corekern/block"
	"corekern/defs"
	"corekern/mem"
	"corekern/page"
	"corekern/swap"
)

type memFile struct {
	data []byte
}

func (m *memFile) ReadAt(dst []uint8, offset int) (int, defs.Err_t) {
	n := copy(dst, m.data[offset:])
	return n, 0
}
func (m *memFile) WriteAt(src []uint8, offset int) (int, defs.Err_t) {
	if len(m.data) < offset+len(src) {
		grown := make([]byte, offset+len(src))
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[offset:], src)
	return len(src), 0
}
func (m *memFile) Len() (int, defs.Err_t) { return len(m.data), 0 }
func (m *memFile) Reopen() defs.Err_t     { return 0 }
func (m *memFile) Close() defs.Err_t      { return 0 }

func mkEnv(t *testing.T, nframes int) (*page.FrameTable, *swap.Swap, *AddressSpace_t, *page.SoftPageTable) {
	d := block.MkMemDisk(swap.SectorsPerSlot * 16)
	sw := swap.Init(d)
	ft := page.MkFrameTable(nframes, sw)
	pt := page.MkSoftPageTable()
	as := MkAddressSpace(pt, 0x8000, 0x1000)
	return ft, sw, as, pt
}

func TestFileFaultZeroFillsTail(t *testing.T) {
	ft, _, as, pt := mkEnv(t, 4)
	mf := &memFile{data: []byte("hello")}
	upage := 0x2000
	as.Spt.Lock()
	as.Spt.Install(&page.Entry_t{Upage: upage, Loc: page.FILE, File: mf, FileOff: 0, ReadBytes: 5, Writable: true})
	as.Spt.Unlock()

	if err := Fault(ft, nil, as, upage+1, false); err != 0 {
		t.Fatalf("fault: %v", err)
	}
	data, ok := pt.Mapped(upage)
	if !ok {
		t.Fatal("expected page installed")
	}
	if string(data[0:5]) != "hello" {
		t.Fatalf("got %q", data[0:5])
	}
	for i := 5; i < mem.PGSIZE; i++ {
		if data[i] != 0 {
			t.Fatalf("expected zero-fill at %d, got %d", i, data[i])
		}
	}
}

func TestStackGrowthWithinRangeSucceeds(t *testing.T) {
	ft, sw, as, pt := mkEnv(t, 4)
	fault := as.StackPtr - 16
	if err := Fault(ft, sw, as, fault, true); err != 0 {
		t.Fatalf("expected stack growth, got %v", err)
	}
	if _, ok := pt.Mapped(pground(fault)); !ok {
		t.Fatal("expected page installed by stack growth")
	}
}

func TestStackGrowthOutOfRangeKilled(t *testing.T) {
	ft, sw, as, _ := mkEnv(t, 4)
	far := as.StackPtr - 10*mem.PGSIZE
	if err := Fault(ft, sw, as, far, true); err != -defs.EFAULT {
		t.Fatalf("expected EFAULT kill, got %v", err)
	}
}

func TestWriteToReadOnlyPageKilled(t *testing.T) {
	ft, sw, as, _ := mkEnv(t, 4)
	upage := 0x2000
	as.Spt.Lock()
	as.Spt.Install(&page.Entry_t{Upage: upage, Loc: page.MEM, Writable: false})
	as.Spt.Unlock()

	if err := Fault(ft, sw, as, upage, true); err != -defs.EPERM {
		t.Fatalf("expected EPERM kill, got %v", err)
	}
}

func TestMmapThenMunmapWritesBackDirtyPage(t *testing.T) {
	ft, sw, as, pt := mkEnv(t, 4)
	mf := &memFile{data: make([]byte, mem.PGSIZE)}
	for i := range mf.data {
		mf.data[i] = 0xAA
	}

	m, err := Mmap(as, mf, 0x4000)
	if err != 0 {
		t.Fatalf("mmap: %v", err)
	}
	if m.Npages != 1 {
		t.Fatalf("npages = %d", m.Npages)
	}

	if err := Fault(ft, sw, as, m.Base, false); err != 0 {
		t.Fatalf("fault on mmap page: %v", err)
	}
	data, _ := pt.Mapped(m.Base)
	data[0] = 0x42
	pt.SetDirty(m.Base, true)

	if err := Munmap(ft, sw, as, m); err != 0 {
		t.Fatalf("munmap: %v", err)
	}
	if mf.data[0] != 0x42 {
		t.Fatalf("expected dirty mmap page written back, got %x", mf.data[0])
	}
	if _, ok := as.Spt.Get(m.Base); ok {
		t.Fatal("expected SPT entry removed after munmap")
	}
}

func TestMmapRejectsUnalignedOrZeroAddr(t *testing.T) {
	_, _, as, _ := mkEnv(t, 4)
	mf := &memFile{data: []byte("x")}
	if _, err := Mmap(as, mf, 0); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for zero addr, got %v", err)
	}
	if _, err := Mmap(as, mf, 1); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for unaligned addr, got %v", err)
	}
}

func TestMmapRejectsOverlap(t *testing.T) {
	_, _, as, _ := mkEnv(t, 4)
	mf1 := &memFile{data: []byte("abcdef")}
	mf2 := &memFile{data: []byte("ghijkl")}
	if _, err := Mmap(as, mf1, 0x6000); err != 0 {
		t.Fatalf("first mmap: %v", err)
	}
	if _, err := Mmap(as, mf2, 0x6000); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL on overlap, got %v", err)
	}
}

func TestSwapRoundTripThroughFault(t *testing.T) {
	ft, sw, as, pt := mkEnv(t, 1)
	upage0 := 0x2000
	upage1 := 0x3000

	as.Spt.Lock()
	as.Spt.Install(&page.Entry_t{Upage: upage0, Loc: page.MEM, Writable: true})
	as.Spt.Unlock()
	fr, err := ft.Alloc(mustGet(as, upage0))
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	mustGet(as, upage0).Frame = fr
	ft.Unpin(fr)
	pt.Install(upage0, fr.Data, true)
	fr.Data[0] = 0x7

	as.Spt.Lock()
	as.Spt.Install(&page.Entry_t{Upage: upage1, Loc: page.FILE, File: &memFile{data: []byte{1, 2, 3}}, FileOff: 0, ReadBytes: 3, Writable: true})
	as.Spt.Unlock()

	if err := Fault(ft, sw, as, upage1, false); err != 0 {
		t.Fatalf("fault to force eviction: %v", err)
	}

	e0 := mustGet(as, upage0)
	if e0.Loc != page.SWAP {
		t.Fatalf("expected upage0 swapped out, got %v", e0.Loc)
	}

	if err := Fault(ft, sw, as, upage0, false); err != 0 {
		t.Fatalf("fault to swap back in: %v", err)
	}
	data, _ := pt.Mapped(upage0)
	if data[0] != 0x7 {
		t.Fatal("expected swapped-in contents preserved")
	}
}

func mustGet(as *AddressSpace_t, upage int) *page.Entry_t {
	as.Spt.Lock()
	defer as.Spt.Unlock()
	e, _ := as.Spt.Get(upage)
	return e
}
