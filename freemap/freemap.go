// Package freemap implements the free-sector bitmap, persisted
// through an inode at a fixed, well-known sector (spec.md §3/§6):
// Sector (0) is the free-map's own inode, RootDirSector (1) is
// reserved for the root directory's inode. The in-memory bitmap is
// built, with its reserved bits already set, before the inode that
// stores it is created — mirroring original_source's
// free_map_init/free_map_create split — so the allocator never needs
// itself to already be backed by disk before it can allocate its own
// extent. Allocate/Release only ever touch the in-memory copy; Flush
// is the only thing that writes it through the inode, matching
// original_source's free_map_close (there is no incremental
// per-allocation write-through, which also avoids Flush recursively
// calling back into Allocate while extending its own inode). See
// DESIGN.md "Open Question decisions" #1.
package freemap

import (
	"sync"

	"corekern/cache"
	"corekern/defs"
	"corekern/inode"
)

// Sector is the fixed sector of the free-map's own on-disk inode.
const Sector = 0

// RootDirSector is the fixed sector of the root directory's inode.
const RootDirSector = 1

// Freemap is a bitmap of nbits bits, one per sector of the file
// system's data region.
type Freemap struct {
	mu    sync.Mutex
	c     *cache.Cache
	nbits int
	bits  []uint8 // one bit per sector, LSB first within each byte
}

func bytesFor(nbits int) int {
	return (nbits + 7) / 8
}

// Load reads an existing free-map of nbits bits from its inode at
// Sector.
func Load(c *cache.Cache, nbits int) *Freemap {
	fm := &Freemap{c: c, nbits: nbits}
	fm.bits = make([]uint8, bytesFor(nbits))
	inode.ReadAt(c, Sector, fm.bits, 0)
	return fm
}

// Format builds a fresh free-map for an nbits-sector disk, marking the
// first reserved bits (at least Sector and RootDirSector) permanently
// in use, creates the free-map's own on-disk inode at Sector, and
// writes the bitmap through it.
func Format(c *cache.Cache, nbits int, reserved int) *Freemap {
	fm := &Freemap{c: c, nbits: nbits}
	fm.bits = make([]uint8, bytesFor(nbits))
	for i := 0; i < reserved; i++ {
		fm.setBit(i)
	}
	if err := inode.Create(c, fm, Sector, 0, inode.T_FILE); err != 0 {
		panic("freemap: inode create failed: " + err.String())
	}
	fm.Flush()
	return fm
}

func (fm *Freemap) bit(i int) bool {
	return fm.bits[i/8]&(1<<uint(i%8)) != 0
}

func (fm *Freemap) setBit(i int) {
	fm.bits[i/8] |= 1 << uint(i%8)
}

func (fm *Freemap) clearBit(i int) {
	fm.bits[i/8] &^= 1 << uint(i%8)
}

// Flush persists the current in-memory bitmap through the free-map's
// inode at Sector. Callers flush explicitly — Format calls it once to
// lay down the initial image, and fsys does so again after formatting
// and at shutdown — rather than on every Allocate/Release. Not safe to call
// concurrently with Allocate/Release; fsys's single entry-point mutex
// already serializes that.
func (fm *Freemap) Flush() defs.Err_t {
	_, err := inode.WriteAt(fm.c, fm, Sector, fm.bits, 0)
	return err
}

// Allocate finds the first run of n consecutive free sectors, marks
// them in use, and returns the index of the first one. ok is false if
// no such run exists.
func (fm *Freemap) Allocate(n int) (first int, ok bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	run := 0
	start := -1
	for i := 0; i < fm.nbits; i++ {
		if !fm.bit(i) {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				for j := start; j < start+n; j++ {
					fm.setBit(j)
				}
				return start, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// AllocateOne is shorthand for Allocate(1).
func (fm *Freemap) AllocateOne() (int, bool) {
	return fm.Allocate(1)
}

// Release marks n sectors starting at first as free again. It panics
// if any of them were already free — a double free is an invariant
// violation, not a recoverable error.
func (fm *Freemap) Release(first int, n int) defs.Err_t {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if first < 0 || first+n > fm.nbits {
		return -defs.EINVAL
	}
	for j := first; j < first+n; j++ {
		if !fm.bit(j) {
			panic("freemap: release of already-free sector")
		}
		fm.clearBit(j)
	}
	return 0
}

// Nfree reports the number of currently-free sectors.
func (fm *Freemap) Nfree() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	n := 0
	for i := 0; i < fm.nbits; i++ {
		if !fm.bit(i) {
			n++
		}
	}
	return n
}
