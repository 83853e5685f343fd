// Package swap implements the swap area: a bitmap of fixed-size slots
// (8 consecutive sectors, one page) on a dedicated block device,
// grounded on original_source's vm/swap.c.
package swap

import (
	"sync"

	"corekern/block"
	"corekern/defs"
	"corekern/mem"
)

// SectorsPerSlot is the number of consecutive sectors backing one
// page's worth of swap storage.
const SectorsPerSlot = mem.PGSIZE / block.SectorSize

// Swap is the swap area: a used/free bitmap over the swap device's
// slots.
type Swap struct {
	mu   sync.Mutex
	disk block.Disk_i
	used []bool
}

// Init binds a block device and creates a bitmap sized
// device_sectors / SectorsPerSlot.
func Init(disk block.Disk_i) *Swap {
	nslots := disk.Nsectors() / SectorsPerSlot
	return &Swap{disk: disk, used: make([]bool, nslots)}
}

// Nslots reports the total slot count.
func (s *Swap) Nslots() int {
	return len(s.used)
}

// Out scans for the first free slot, flips it to used, writes page's
// SectorsPerSlot sectors to it in order, and returns the slot index.
// ok is false if the swap area is full.
func (s *Swap) Out(page *mem.Page) (slot int, ok bool, err defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, u := range s.used {
		if !u {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, false, 0
	}
	base := idx * SectorsPerSlot
	for i := 0; i < SectorsPerSlot; i++ {
		off := i * block.SectorSize
		if e := s.disk.Write(base+i, page[off:off+block.SectorSize]); e != 0 {
			return 0, false, e
		}
	}
	s.used[idx] = true
	return idx, true, 0
}

// In asserts slot is in use, reads its SectorsPerSlot sectors into
// page, and frees the slot. It panics if slot was not in use — a
// swap-in of a free slot is an invariant violation.
func (s *Swap) In(slot int, page *mem.Page) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.used) {
		return -defs.EINVAL
	}
	if !s.used[slot] {
		panic("swap: swap-in of a free slot")
	}
	base := slot * SectorsPerSlot
	for i := 0; i < SectorsPerSlot; i++ {
		off := i * block.SectorSize
		if e := s.disk.Read(base+i, page[off:off+block.SectorSize]); e != 0 {
			return e
		}
	}
	s.used[slot] = false
	return 0
}

// Free releases slot without reading it back (used when a mapping is
// torn down without needing its swapped-out contents). It panics on a
// double-free.
func (s *Swap) Free(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.used) {
		panic("swap: free of out-of-range slot")
	}
	if !s.used[slot] {
		panic("swap: double free of swap slot")
	}
	s.used[slot] = false
}
