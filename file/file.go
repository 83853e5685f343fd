// Package file implements the open-file handle: the concrete
// fdops.Fdops_i both the file-system façade's sequential read/write/
// seek API and the VM layer's reopened mmap handles are built on.
package file

import (
	"sync"

	"corekern/cache"
	"corekern/defs"
	"corekern/freemap"
	"corekern/inode"
)

// File is an open handle on an inode: a position cursor for the
// sequential Read/Write/Seek API, plus the offset-addressed
// ReadAt/WriteAt fdops.Fdops_i implementation mmap uses directly.
type File struct {
	c   *cache.Cache
	fm  *freemap.Freemap
	tbl *inode.Table
	ip  *inode.Inode_t

	mu  sync.Mutex
	pos int
}

// Open opens sector as a File handle through tbl's open-inode table.
func Open(c *cache.Cache, fm *freemap.Freemap, tbl *inode.Table, sector int) (*File, defs.Err_t) {
	ip, err := tbl.Open(c, sector)
	if err != 0 {
		return nil, err
	}
	return &File{c: c, fm: fm, tbl: tbl, ip: ip}, 0
}

// Sector returns the inode sector this handle refers to.
func (f *File) Sector() int {
	return f.ip.Sector
}

// Itype returns the inode's file type.
func (f *File) Itype() inode.Itype_t {
	return f.ip.Itype
}

// Inode exposes the underlying in-memory inode (used by mmap to
// manage deny-write counts on the backing file).
func (f *File) Inode() *inode.Inode_t {
	return f.ip
}

// ReadAt implements fdops.Fdops_i.
func (f *File) ReadAt(dst []uint8, offset int) (int, defs.Err_t) {
	return inode.ReadAt(f.c, f.ip.Sector, dst, offset)
}

// WriteAt implements fdops.Fdops_i. While the backing inode's
// deny-write count is positive (vm.Mmap raises it while a mapping of
// the file exists, spec.md §4.3), writes are refused with -ETXTBSY.
func (f *File) WriteAt(src []uint8, offset int) (int, defs.Err_t) {
	if !f.ip.Writable() {
		return 0, -defs.ETXTBSY
	}
	return inode.WriteAt(f.c, f.fm, f.ip.Sector, src, offset)
}

// Len implements fdops.Fdops_i.
func (f *File) Len() (int, defs.Err_t) {
	return inode.Length(f.c, f.ip.Sector)
}

// Reopen implements fdops.Fdops_i: it bumps the shared inode's open
// count, since this File value and whatever dup'd it both refer to
// the same underlying inode.
func (f *File) Reopen() defs.Err_t {
	f.tbl.IncRef(f.ip)
	return 0
}

// Close implements fdops.Fdops_i.
func (f *File) Close() defs.Err_t {
	return f.tbl.Close(f.c, f.fm, f.ip)
}

// Dup returns a second, independent *File handle (its own position
// cursor) on the same inode, bumping the inode's open count, so that
// closing one handle does not affect the other.
func (f *File) Dup() *File {
	f.tbl.IncRef(f.ip)
	return &File{c: f.c, fm: f.fm, tbl: f.tbl, ip: f.ip}
}

// Read reads from the current position and advances it.
func (f *File) Read(buf []uint8) (int, defs.Err_t) {
	f.mu.Lock()
	pos := f.pos
	f.mu.Unlock()
	n, err := f.ReadAt(buf, pos)
	if err == 0 {
		f.mu.Lock()
		f.pos += n
		f.mu.Unlock()
	}
	return n, err
}

// Write writes at the current position and advances it.
func (f *File) Write(buf []uint8) (int, defs.Err_t) {
	f.mu.Lock()
	pos := f.pos
	f.mu.Unlock()
	n, err := f.WriteAt(buf, pos)
	if err == 0 {
		f.mu.Lock()
		f.pos += n
		f.mu.Unlock()
	}
	return n, err
}

// Seek repositions the cursor.
func (f *File) Seek(pos int) defs.Err_t {
	if pos < 0 {
		return -defs.EINVAL
	}
	f.mu.Lock()
	f.pos = pos
	f.mu.Unlock()
	return 0
}
