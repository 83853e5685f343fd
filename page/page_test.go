package page

import (
	"testing"

	"corekern/block"
	"corekern/defs"
	"corekern/fdops"
	"corekern/mem"
	"corekern/swap"
)

func TestAllocEvictsLRUAndSwapsOut(t *testing.T) {
	d := block.MkMemDisk(swap.SectorsPerSlot * 8)
	sw := swap.Init(d)
	ft := MkFrameTable(2, sw)
	pt := MkSoftPageTable()
	spt := MkSPT(pt)

	e0 := &Entry_t{Upage: 0, Loc: MEM}
	e1 := &Entry_t{Upage: 1, Loc: MEM}
	spt.Install(e0)
	spt.Install(e1)

	f0, err := ft.Alloc(e0)
	if err != 0 {
		t.Fatalf("alloc e0: %v", err)
	}
	e0.Frame = f0
	ft.Unpin(f0)
	pt.Install(0, f0.Data, true)

	f1, err := ft.Alloc(e1)
	if err != 0 {
		t.Fatalf("alloc e1: %v", err)
	}
	e1.Frame = f1
	ft.Unpin(f1)
	pt.Install(1, f1.Data, true)

	// Pool is now full (capacity 2). A third allocation must evict.
	e2 := &Entry_t{Upage: 2, Loc: MEM}
	spt.Install(e2)
	f2, err := ft.Alloc(e2)
	if err != 0 {
		t.Fatalf("alloc e2: %v", err)
	}
	e2.Frame = f2
	ft.Unpin(f2)

	if e0.Loc != SWAP {
		t.Fatalf("expected e0 evicted to swap, got %v", e0.Loc)
	}
	if _, ok := pt.Mapped(0); ok {
		t.Fatal("expected e0's mapping cleared")
	}
}

func TestEvictFileBackedWritesBackWhenDirty(t *testing.T) {
	d := block.MkMemDisk(swap.SectorsPerSlot * 8)
	sw := swap.Init(d)
	ft := MkFrameTable(1, sw)
	pt := MkSoftPageTable()
	spt := MkSPT(pt)

	mf := &memFile{}
	e0 := &Entry_t{Upage: 0, Loc: MEM, File: mf, FileOff: 0, ReadBytes: mem.PGSIZE, Writable: true, IsMmap: true}
	spt.Install(e0)
	f0, err := ft.Alloc(e0)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	e0.Frame = f0
	ft.Unpin(f0)
	pt.Install(0, f0.Data, true)
	pt.SetDirty(0, true)
	for i := range f0.Data {
		f0.Data[i] = 0x42
	}

	e1 := &Entry_t{Upage: 1, Loc: MEM}
	spt.Install(e1)
	if _, err := ft.Alloc(e1); err != 0 {
		t.Fatalf("alloc e1: %v", err)
	}

	if e0.Loc != FILE {
		t.Fatalf("expected file-backed eviction, got %v", e0.Loc)
	}
	if len(mf.written) != mem.PGSIZE || mf.written[0] != 0x42 {
		t.Fatal("expected dirty page written back to file")
	}
}

func TestEvictWritableNonMmapFileBackedSwapsOut(t *testing.T) {
	d := block.MkMemDisk(swap.SectorsPerSlot * 8)
	sw := swap.Init(d)
	ft := MkFrameTable(1, sw)
	pt := MkSoftPageTable()
	spt := MkSPT(pt)

	mf := &memFile{}
	e0 := &Entry_t{Upage: 0, Loc: MEM, File: mf, FileOff: 0, ReadBytes: mem.PGSIZE, Writable: true}
	spt.Install(e0)
	f0, err := ft.Alloc(e0)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	e0.Frame = f0
	ft.Unpin(f0)
	pt.Install(0, f0.Data, true)
	pt.SetDirty(0, true)

	e1 := &Entry_t{Upage: 1, Loc: MEM}
	spt.Install(e1)
	if _, err := ft.Alloc(e1); err != 0 {
		t.Fatalf("alloc e1: %v", err)
	}

	if e0.Loc != SWAP {
		t.Fatalf("expected writable non-mmap file-backed page swapped out, got %v", e0.Loc)
	}
	if len(mf.written) != 0 {
		t.Fatal("expected no write-back for a writable non-mmap file-backed page")
	}
}

func TestFrameTableExhaustionAllPinned(t *testing.T) {
	d := block.MkMemDisk(swap.SectorsPerSlot * 4)
	sw := swap.Init(d)
	ft := MkFrameTable(1, sw)
	pt := MkSoftPageTable()
	spt := MkSPT(pt)

	e0 := &Entry_t{Upage: 0, Loc: MEM}
	spt.Install(e0)
	f0, err := ft.Alloc(e0)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	e0.Frame = f0
	// e0 stays pinned.

	e1 := &Entry_t{Upage: 1, Loc: MEM}
	spt.Install(e1)
	if _, err := ft.Alloc(e1); err != -defs.ENOMEM {
		t.Fatalf("expected ENOMEM, got %v", err)
	}
}

func TestSPTDestroyReleasesFramesAndSlots(t *testing.T) {
	d := block.MkMemDisk(swap.SectorsPerSlot * 4)
	sw := swap.Init(d)
	ft := MkFrameTable(2, sw)
	pt := MkSoftPageTable()
	spt := MkSPT(pt)

	e0 := &Entry_t{Upage: 0, Loc: MEM}
	spt.Install(e0)
	f0, _ := ft.Alloc(e0)
	e0.Frame = f0
	ft.Unpin(f0)

	spt.Destroy(ft, sw)

	e1 := &Entry_t{Upage: 1, Loc: MEM}
	e2 := &Entry_t{Upage: 2, Loc: MEM}
	if _, err := ft.Alloc(e1); err != 0 {
		t.Fatalf("alloc e1 after destroy: %v", err)
	}
	if _, err := ft.Alloc(e2); err != 0 {
		t.Fatalf("alloc e2 after destroy: %v", err)
	}
}

// memFile is a trivial fdops.Fdops_i test double recording writes.
type memFile struct {
	written []byte
}

func (m *memFile) ReadAt(dst []uint8, offset int) (int, defs.Err_t) { return 0, 0 }
func (m *memFile) WriteAt(src []uint8, offset int) (int, defs.Err_t) {
	if len(m.written) < offset+len(src) {
		grown := make([]byte, offset+len(src))
		copy(grown, m.written)
		m.written = grown
	}
	copy(m.written[offset:], src)
	return len(src), 0
}
func (m *memFile) Len() (int, defs.Err_t) { return len(m.written), 0 }
func (m *memFile) Reopen() defs.Err_t     { return 0 }
func (m *memFile) Close() defs.Err_t      { return 0 }

var _ fdops.Fdops_i = (*memFile)(nil)
