// Package page implements the frame table and the supplemental page
// table (SPT). The two are mutually referential in the original
// design (original_source's struct frame_entry holds a struct
// spt_entry *, and vice versa) — Go has no good way to split mutually
// referential types across package boundaries, so both live here,
// each behind its own mutex (FrameTable.mu is the frame lock, SPT's
// embedded mutex is the per-address-space SPT lock). See DESIGN.md
// "Open Question decisions" #2.
package page

import (
	"container/list"
	"sync"

	"corekern/defs"
	"corekern/fdops"
	"corekern/hashtable"
	"corekern/mem"
	"corekern/swap"
)

// Location is where an SPT entry's bytes currently live.
type Location int

const (
	UNINIT Location = iota
	MEM
	SWAP
	FILE
)

// PageTable_i abstracts the CPU-specific page directory (out of
// scope per spec.md §1): installing/clearing a user-page mapping and
// reading/clearing its accessed and dirty bits.
type PageTable_i interface {
	Install(upage int, data *mem.Page, writable bool) defs.Err_t
	Clear(upage int)
	Accessed(upage int) bool
	ClearAccessed(upage int)
	Dirty(upage int) bool
}

// Entry_t is one supplemental-page-table entry: the bookkeeping for
// one user page, regardless of where its bytes currently live.
type Entry_t struct {
	Upage     int
	Loc       Location
	Frame     *Frame_t // valid iff Loc == MEM
	SwapSlot  int // valid iff Loc == SWAP
	File      fdops.Fdops_i
	FileOff   int
	ReadBytes int // bytes of the page actually backed by File; the rest is zero-fill
	Writable  bool
	IsMmap    bool
	Owner     *SPT
}

// Frame_t is one frame-table entry: a pinned-or-not physical frame
// and the SPT entry it currently backs.
type Frame_t struct {
	Data  *mem.Page
	idx   int
	Pin   bool
	Owner *Entry_t
	elem  *list.Element
}

// SPT is one address space's supplemental page table.
type SPT struct {
	sync.Mutex
	ht *hashtable.Hashtable_t
	PT PageTable_i
}

// MkSPT allocates an SPT backed by the given page table.
func MkSPT(pt PageTable_i) *SPT {
	return &SPT{ht: hashtable.MkHash(64), PT: pt}
}

// Install adds e to the table keyed by e.Upage. It panics if the page
// is already mapped — callers must Get first.
func (s *SPT) Install(e *Entry_t) {
	e.Owner = s
	if _, inserted := s.ht.Set(e.Upage, e); !inserted {
		panic("spt: install of already-mapped page")
	}
}

// Get looks up the entry for upage.
func (s *SPT) Get(upage int) (*Entry_t, bool) {
	v, ok := s.ht.Get(upage)
	if !ok {
		return nil, false
	}
	return v.(*Entry_t), true
}

// Delete removes upage's entry.
func (s *SPT) Delete(upage int) {
	s.ht.Del(upage)
}

// Destroy releases every frame and swap slot this SPT still owns, for
// address-space teardown. Frames are freed through ft.freeLocked while
// holding ft.mu for the whole walk, then the SPT lock — the global
// frame-before-SPT order (spec.md §5), matching evict.
func (s *SPT) Destroy(ft *FrameTable, sw *swap.Swap) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	s.Lock()
	defer s.Unlock()
	for _, p := range s.ht.Elems() {
		e := p.Value.(*Entry_t)
		switch e.Loc {
		case MEM:
			ft.freeLocked(e.Frame)
		case SWAP:
			sw.Free(e.SwapSlot)
		}
	}
}

// FrameTable is the frame table: the pool of physical frames plus a
// FIFO list used for second-chance victim selection, grounded on
// original_source's vm/frame.c frame_alloc/select_victim.
type FrameTable struct {
	mu   sync.Mutex
	pool *mem.Pool
	lst  *list.List
	sw   *swap.Swap
}

// MkFrameTable allocates a frame table of n frames backed by sw for
// eviction.
func MkFrameTable(n int, sw *swap.Swap) *FrameTable {
	return &FrameTable{pool: mem.MkPool(n), lst: list.New(), sw: sw}
}

// Ncap reports the pool's total capacity.
func (ft *FrameTable) Ncap() int {
	return ft.pool.Ncap()
}

// Alloc returns a pinned frame backing entry, evicting a victim if
// the pool is exhausted. Victim selection is a bounded second-chance
// sweep: at most two full passes over the frame list (implements
// SPEC_FULL §F.8.1 / spec.md §9's termination note) — the first pass
// clears every frame's accessed bit, the second is guaranteed to find
// one already clear, since nothing can set a bit concurrently while
// ft.mu is held. If every frame is pinned it returns -ENOMEM.
func (ft *FrameTable) Alloc(entry *Entry_t) (*Frame_t, defs.Err_t) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	idx, data, ok := ft.pool.Alloc()
	if !ok {
		victim, err := ft.selectVictim()
		if err != 0 {
			return nil, err
		}
		ft.evict(victim)
		idx, data, ok = ft.pool.Alloc()
		if !ok {
			panic("frame: pool still exhausted after eviction")
		}
	}
	fr := &Frame_t{Data: data, idx: idx, Pin: true, Owner: entry}
	fr.elem = ft.lst.PushBack(fr)
	return fr, 0
}

// selectVictim runs the bounded second-chance sweep. Must be called
// with ft.mu held.
func (ft *FrameTable) selectVictim() (*Frame_t, defs.Err_t) {
	n := ft.lst.Len()
	if n == 0 {
		return nil, -defs.ENOMEM
	}
	for pass := 0; pass < 2; pass++ {
		e := ft.lst.Front()
		for i := 0; i < n; i++ {
			fr := e.Value.(*Frame_t)
			e = e.Next()
			if fr.Pin {
				continue
			}
			accessed := fr.Owner.Owner.PT.Accessed(fr.Owner.Upage)
			if accessed {
				fr.Owner.Owner.PT.ClearAccessed(fr.Owner.Upage)
				continue
			}
			return fr, 0
		}
	}
	return nil, -defs.ENOMEM
}

// evict runs the eviction procedure (spec.md §4.6) for victim: a
// dirty, writable mmap page is written back to its file; the
// destination becomes FILE if the page is file-backed and either
// read-only or an mmap page, otherwise the page is swapped out. Clears
// the user mapping, updates the SPT entry, frees the frame. Must be
// called with ft.mu held; it acquires victim's owning SPT's lock
// internally.
func (ft *FrameTable) evict(victim *Frame_t) {
	e := victim.Owner
	spt := e.Owner
	spt.Lock()
	defer spt.Unlock()

	if e.Loc != MEM {
		panic("frame: victim entry not resident")
	}

	toFile := e.File != nil && (!e.Writable || e.IsMmap)
	if e.File != nil && e.Writable && e.IsMmap && spt.PT.Dirty(e.Upage) {
		e.File.WriteAt(victim.Data[:e.ReadBytes], e.FileOff)
	}
	if toFile {
		spt.PT.Clear(e.Upage)
		e.Loc = FILE
		e.Frame = nil
	} else {
		slot, ok, err := ft.sw.Out(victim.Data)
		if !ok || err != 0 {
			panic("frame: swap area exhausted during eviction")
		}
		spt.PT.Clear(e.Upage)
		e.Loc = SWAP
		e.SwapSlot = slot
		e.Frame = nil
	}
	ft.freeLocked(victim)
}

// Free releases fr back to the pool.
func (ft *FrameTable) Free(fr *Frame_t) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.freeLocked(fr)
}

func (ft *FrameTable) freeLocked(fr *Frame_t) {
	ft.lst.Remove(fr.elem)
	ft.pool.Free(fr.idx)
}

// Unpin clears a frame's pin bit, making it eligible for eviction.
func (ft *FrameTable) Unpin(fr *Frame_t) {
	ft.mu.Lock()
	fr.Pin = false
	ft.mu.Unlock()
}

// Pin marks a frame as ineligible for eviction (used while a
// syscall-layer copy is in flight; spec.md §4.10's preload-and-pin).
func (ft *FrameTable) Pin(fr *Frame_t) {
	ft.mu.Lock()
	fr.Pin = true
	ft.mu.Unlock()
}
