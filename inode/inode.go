// Package inode implements the on-disk inode format (direct,
// single-indirect, and double-indirect extents) and the in-memory
// open-inode table, grounded on original_source's filesys/inode.c.
package inode

import (
	"sync"

	"corekern/cache"
	"corekern/defs"
	"corekern/util"
)

// Allocator is the free-sector allocator inode extents grow through:
// satisfied by *freemap.Freemap. It is declared here, not imported
// concretely, so that the free-map itself can be persisted through an
// inode (spec.md §3/§6) without freemap and inode importing each
// other.
type Allocator interface {
	AllocateOne() (int, bool)
	Release(first int, n int) defs.Err_t
}

const (
	BSIZE     = 512
	NDIRECT   = 123
	NINDIRECT = 128
	// Magic is the sentinel written at inode creation and checked on
	// release; a mismatch indicates corruption or a programming bug.
	Magic = 0x494e4f44
	// Null is the reserved "no sector" pointer value: -1 as a 32-bit
	// on-disk word, i.e. the value util.Readn returns (zero-extended)
	// when it reads that word back.
	Null = 0xFFFFFFFF
)

// on-disk field offsets; length sits at offset 4, distinct from the
// type tag at offset 0 — do not derive this from NDIRECT, it must
// stay fixed regardless of layout changes elsewhere.
const (
	typeOff   = 0
	lengthOff = 4
	directOff = 8
	sindOff   = directOff + NDIRECT*4
	dindOff   = sindOff + 4
	magicOff  = dindOff + 4
)

// MaxFileSize is (NDIRECT + NINDIRECT + NINDIRECT*NINDIRECT) sectors,
// expressed in bytes.
const MaxFileSize = (NDIRECT + NINDIRECT + NINDIRECT*NINDIRECT) * BSIZE

// Itype_t distinguishes regular files from directories.
type Itype_t int32

const (
	T_FILE Itype_t = 1
	T_DIR  Itype_t = 2
)

// Inode_t is the in-memory half of an open inode: its sector number,
// open count, removed flag, and deny-write count. The on-disk bytes
// are never cached here — they are read fresh through the buffer
// cache on every operation, so growth by any opener is visible to all
// (spec requirement on length()).
type Inode_t struct {
	mu            sync.Mutex
	Sector        int
	Itype         Itype_t
	OpenCount     int
	Removed       bool
	denyWriteCnt  int
}

// DenyWrite increments the deny-write count (vm.Mmap raises it for the
// lifetime of each mapping of the file).
func (ip *Inode_t) DenyWrite() {
	ip.mu.Lock()
	ip.denyWriteCnt++
	ip.mu.Unlock()
}

// AllowWrite undoes one DenyWrite. It panics if called without a
// matching DenyWrite — an unbalanced call is a caller bug.
func (ip *Inode_t) AllowWrite() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.denyWriteCnt <= 0 {
		panic("inode: allow_write without matching deny_write")
	}
	ip.denyWriteCnt--
}

// Writable reports whether no opener currently denies writes.
func (ip *Inode_t) Writable() bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.denyWriteCnt == 0
}

// Table is the process-wide list of open inodes: two opens of the
// same sector return the same *Inode_t with its open count bumped.
type Table struct {
	mu   sync.Mutex
	open []*Inode_t
}

// MkTable allocates an empty open-inode table.
func MkTable() *Table {
	return &Table{}
}

// Open returns the in-memory inode for sector, allocating one on
// first open.
func (t *Table) Open(c *cache.Cache, sector int) (*Inode_t, defs.Err_t) {
	t.mu.Lock()
	for _, ip := range t.open {
		if ip.Sector == sector {
			ip.mu.Lock()
			ip.OpenCount++
			ip.mu.Unlock()
			t.mu.Unlock()
			return ip, 0
		}
	}
	t.mu.Unlock()

	hdr := make([]uint8, BSIZE)
	if err := c.Read(sector, hdr); err != 0 {
		return nil, err
	}
	if util.Readn(hdr, 4, magicOff) != Magic {
		panic("inode: bad magic on open")
	}
	ip := &Inode_t{
		Sector:    sector,
		Itype:     Itype_t(util.Readn(hdr, 4, typeOff)),
		OpenCount: 1,
	}
	t.mu.Lock()
	t.open = append(t.open, ip)
	t.mu.Unlock()
	return ip, 0
}

// IncRef bumps ip's open count for an additional independent handle
// on the same inode (e.g. a file reopened for a memory mapping).
func (t *Table) IncRef(ip *Inode_t) {
	ip.mu.Lock()
	ip.OpenCount++
	ip.mu.Unlock()
}

// MarkRemoved flags ip for release once its open count reaches zero.
func (ip *Inode_t) MarkRemoved() {
	ip.mu.Lock()
	ip.Removed = true
	ip.mu.Unlock()
}

// Close decrements ip's open count; on reaching zero it removes ip
// from the table and, if ip was marked removed, releases its sectors
// and frees its own sector back to the free-map.
func (t *Table) Close(c *cache.Cache, fm Allocator, ip *Inode_t) defs.Err_t {
	ip.mu.Lock()
	ip.OpenCount--
	last := ip.OpenCount == 0
	removed := ip.Removed
	ip.mu.Unlock()
	if !last {
		return 0
	}
	t.mu.Lock()
	for i, x := range t.open {
		if x == ip {
			t.open = append(t.open[:i], t.open[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	if !removed {
		return 0
	}
	if err := Release(c, fm, ip.Sector); err != 0 {
		return err
	}
	return fm.Release(ip.Sector, 1)
}

// Create writes a fresh on-disk inode at sector (empty, all pointers
// null) and then extends it to length bytes, zero-filling the newly
// materialized sectors.
func Create(c *cache.Cache, fm Allocator, sector int, length int, itype Itype_t) defs.Err_t {
	hdr := make([]uint8, BSIZE)
	util.Writen(hdr, 4, typeOff, int(itype))
	util.Writen(hdr, 4, lengthOff, 0)
	for i := 0; i < NDIRECT; i++ {
		util.Writen(hdr, 4, directOff+i*4, Null)
	}
	util.Writen(hdr, 4, sindOff, Null)
	util.Writen(hdr, 4, dindOff, Null)
	util.Writen(hdr, 4, magicOff, Magic)
	if err := c.Write(sector, hdr); err != 0 {
		return err
	}
	if length > 0 {
		return Extend(c, fm, sector, length)
	}
	return 0
}

// ensurePointerBlock reads the 4-byte pointer at fieldOff within
// containingSector; if null, it allocates a fresh indirect block
// (128 null-filled entries), records it in allocated for rollback,
// writes the pointer back, and returns the new block's sector.
func ensurePointerBlock(c *cache.Cache, fm Allocator, containingSector int, fieldOff int, allocated *[]int) (int, defs.Err_t) {
	buf := make([]uint8, BSIZE)
	if err := c.Read(containingSector, buf); err != 0 {
		return 0, err
	}
	cur := util.Readn(buf, 4, fieldOff)
	if cur != Null {
		return cur, 0
	}
	s, ok := fm.AllocateOne()
	if !ok {
		return 0, -defs.ENOSPC
	}
	ib := make([]uint8, BSIZE)
	for i := 0; i < NINDIRECT; i++ {
		util.Writen(ib, 4, i*4, Null)
	}
	if err := c.Write(s, ib); err != 0 {
		fm.Release(s, 1)
		return 0, err
	}
	util.Writen(buf, 4, fieldOff, s)
	if err := c.Write(containingSector, buf); err != 0 {
		fm.Release(s, 1)
		return 0, err
	}
	*allocated = append(*allocated, s)
	return s, 0
}

// ensureDataPointer is ensurePointerBlock's counterpart for a pointer
// to a data sector: allocates a bare (not null-initialized — the
// caller zero-fills data sectors) sector if the field is currently
// null.
func ensureDataPointer(c *cache.Cache, fm Allocator, containingSector int, fieldOff int, allocated *[]int) (int, defs.Err_t) {
	buf := make([]uint8, BSIZE)
	if err := c.Read(containingSector, buf); err != 0 {
		return 0, err
	}
	cur := util.Readn(buf, 4, fieldOff)
	if cur != Null {
		return cur, 0
	}
	s, ok := fm.AllocateOne()
	if !ok {
		return 0, -defs.ENOSPC
	}
	util.Writen(buf, 4, fieldOff, s)
	if err := c.Write(containingSector, buf); err != 0 {
		fm.Release(s, 1)
		return 0, err
	}
	*allocated = append(*allocated, s)
	return s, 0
}

// ensureIndex materializes (allocating as needed) the data sector
// backing the file's sector index idx, dispatching to direct / single-indirect /
// double-indirect per the index ranges spec.md §4.3 describes.
func ensureIndex(c *cache.Cache, fm Allocator, selfSector int, idx int, allocated *[]int) (int, defs.Err_t) {
	switch {
	case idx < NDIRECT:
		return ensureDataPointer(c, fm, selfSector, directOff+idx*4, allocated)
	case idx < NDIRECT+NINDIRECT:
		inner := idx - NDIRECT
		sind, err := ensurePointerBlock(c, fm, selfSector, sindOff, allocated)
		if err != 0 {
			return 0, err
		}
		return ensureDataPointer(c, fm, sind, inner*4, allocated)
	default:
		idx2 := idx - NDIRECT - NINDIRECT
		outer, inner := idx2/NINDIRECT, idx2%NINDIRECT
		dind, err := ensurePointerBlock(c, fm, selfSector, dindOff, allocated)
		if err != 0 {
			return 0, err
		}
		outerBlock, err := ensurePointerBlock(c, fm, dind, outer*4, allocated)
		if err != 0 {
			return 0, err
		}
		return ensureDataPointer(c, fm, outerBlock, inner*4, allocated)
	}
}

// lookupIndex is ensureIndex's read-only counterpart: it never
// allocates, returning ok=false on any hole (unmaterialized index).
func lookupIndex(c *cache.Cache, selfSector int, idx int) (int, bool) {
	hdr := make([]uint8, BSIZE)
	c.Read(selfSector, hdr)
	switch {
	case idx < NDIRECT:
		s := util.Readn(hdr, 4, directOff+idx*4)
		return s, s != Null
	case idx < NDIRECT+NINDIRECT:
		inner := idx - NDIRECT
		sind := util.Readn(hdr, 4, sindOff)
		if sind == Null {
			return 0, false
		}
		ib := make([]uint8, BSIZE)
		c.Read(sind, ib)
		s := util.Readn(ib, 4, inner*4)
		return s, s != Null
	default:
		idx2 := idx - NDIRECT - NINDIRECT
		outer, inner := idx2/NINDIRECT, idx2%NINDIRECT
		dind := util.Readn(hdr, 4, dindOff)
		if dind == Null {
			return 0, false
		}
		db := make([]uint8, BSIZE)
		c.Read(dind, db)
		outerSector := util.Readn(db, 4, outer*4)
		if outerSector == Null {
			return 0, false
		}
		ib2 := make([]uint8, BSIZE)
		c.Read(outerSector, ib2)
		s := util.Readn(ib2, 4, inner*4)
		return s, s != Null
	}
}

// Extend grows the inode at sector to newLength bytes, allocating and
// zero-filling every newly covered sector. If the free-map is
// exhausted partway through, every sector allocated during this call
// is released before -ENOSPC is returned — no partial extension is
// ever left dangling (spec.md §9, implemented per SPEC_FULL §F.8.2).
func Extend(c *cache.Cache, fm Allocator, sector int, newLength int) defs.Err_t {
	if newLength > MaxFileSize {
		return -defs.EINVAL
	}
	hdr := make([]uint8, BSIZE)
	if err := c.Read(sector, hdr); err != 0 {
		return err
	}
	oldLength := util.Readn(hdr, 4, lengthOff)
	if newLength <= oldLength {
		return 0
	}
	oldNSec := 0
	if oldLength > 0 {
		oldNSec = (oldLength + BSIZE - 1) / BSIZE
	}
	newNSec := (newLength + BSIZE - 1) / BSIZE

	var allocated []int
	rollback := func() {
		for _, s := range allocated {
			fm.Release(s, 1)
		}
	}

	zero := make([]uint8, BSIZE)
	for idx := oldNSec; idx < newNSec; idx++ {
		dsec, err := ensureIndex(c, fm, sector, idx, &allocated)
		if err != 0 {
			rollback()
			return err
		}
		if err := c.Write(dsec, zero); err != 0 {
			rollback()
			return err
		}
	}
	// Write only the length field: ensureIndex has already updated the
	// header's pointer fields in the cache, so hdr is stale.
	lb := make([]uint8, 4)
	util.Writen(lb, 4, 0, newLength)
	if err := c.WriteAt(sector, lb, lengthOff, 4); err != 0 {
		rollback()
		return err
	}
	return 0
}

// ReadItype reads the type tag from the on-disk image without opening
// the inode, used by directory path resolution to check that every
// non-leaf component is itself a directory.
func ReadItype(c *cache.Cache, sector int) (Itype_t, defs.Err_t) {
	hdr := make([]uint8, BSIZE)
	if err := c.Read(sector, hdr); err != 0 {
		return 0, err
	}
	return Itype_t(util.Readn(hdr, 4, typeOff)), 0
}

// Length reads the length field from the on-disk image, not from any
// in-memory cache, so growth by any opener is visible to all.
func Length(c *cache.Cache, sector int) (int, defs.Err_t) {
	hdr := make([]uint8, BSIZE)
	if err := c.Read(sector, hdr); err != 0 {
		return 0, err
	}
	return util.Readn(hdr, 4, lengthOff), 0
}

// ReadAt reads up to len(buf) bytes starting at offset; unmaterialized
// holes read as zero; reads past EOF are shortened.
func ReadAt(c *cache.Cache, sector int, buf []uint8, offset int) (int, defs.Err_t) {
	length, err := Length(c, sector)
	if err != 0 {
		return 0, err
	}
	if offset >= length {
		return 0, 0
	}
	end := offset + len(buf)
	if end > length {
		end = length
	}
	total := end - offset
	read := 0
	for read < total {
		off := offset + read
		idx := off / BSIZE
		inSec := off % BSIZE
		n := total - read
		if n > BSIZE-inSec {
			n = BSIZE - inSec
		}
		dsec, ok := lookupIndex(c, sector, idx)
		if !ok {
			for i := 0; i < n; i++ {
				buf[read+i] = 0
			}
		} else if err := c.ReadAt(dsec, buf[read:read+n], inSec, n); err != 0 {
			return read, err
		}
		read += n
	}
	return total, 0
}

// WriteAt writes len(buf) bytes starting at offset, extending the
// inode first if the write reaches past the current length.
func WriteAt(c *cache.Cache, fm Allocator, sector int, buf []uint8, offset int) (int, defs.Err_t) {
	length, err := Length(c, sector)
	if err != 0 {
		return 0, err
	}
	newEnd := offset + len(buf)
	if newEnd > length {
		if err := Extend(c, fm, sector, newEnd); err != 0 {
			return 0, err
		}
	}
	written := 0
	for written < len(buf) {
		off := offset + written
		idx := off / BSIZE
		inSec := off % BSIZE
		n := len(buf) - written
		if n > BSIZE-inSec {
			n = BSIZE - inSec
		}
		dsec, ok := lookupIndex(c, sector, idx)
		if !ok {
			panic("inode: WriteAt found a hole after Extend")
		}
		if err := c.WriteAt(dsec, buf[written:written+n], inSec, n); err != 0 {
			return written, err
		}
		written += n
	}
	return written, 0
}

// Release walks every direct, single-indirect, and double-indirect
// pointer that is not the null marker and returns the referenced
// sectors to the free-map, including the indirect/double-indirect
// index blocks themselves.
func Release(c *cache.Cache, fm Allocator, sector int) defs.Err_t {
	hdr := make([]uint8, BSIZE)
	if err := c.Read(sector, hdr); err != 0 {
		return err
	}
	if util.Readn(hdr, 4, magicOff) != Magic {
		panic("inode: bad magic on release")
	}
	length := util.Readn(hdr, 4, lengthOff)
	nsec := 0
	if length > 0 {
		nsec = (length + BSIZE - 1) / BSIZE
	}
	for idx := 0; idx < nsec; idx++ {
		if s, ok := lookupIndex(c, sector, idx); ok {
			fm.Release(s, 1)
		}
	}
	sind := util.Readn(hdr, 4, sindOff)
	if sind != Null {
		fm.Release(sind, 1)
	}
	dind := util.Readn(hdr, 4, dindOff)
	if dind != Null {
		db := make([]uint8, BSIZE)
		c.Read(dind, db)
		for outer := 0; outer < NINDIRECT; outer++ {
			s := util.Readn(db, 4, outer*4)
			if s != Null {
				fm.Release(s, 1)
			}
		}
		fm.Release(dind, 1)
	}
	return 0
}
