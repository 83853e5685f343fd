// Package stat holds the metadata snapshot the file-system façade
// hands back for a path: no permissions, ownership, or timestamps —
// this module tracks none of those.
package stat

import "unsafe"

// Ftype_t distinguishes regular files from directories.
type Ftype_t uint

const (
	T_FILE Ftype_t = 1
	T_DIR  Ftype_t = 2
)

// Stat_t mirrors an inode's externally visible metadata.
type Stat_t struct {
	_ino     uint
	_ftype   uint
	_size    uint
	_sectors uint
}

// Wino stores the inode number (the sector the inode's image starts at).
func (st *Stat_t) Wino(v uint) { st._ino = v }

// Wftype records the file type.
func (st *Stat_t) Wftype(v Ftype_t) { st._ftype = uint(v) }

// Wsize records the file size in bytes.
func (st *Stat_t) Wsize(v uint) { st._size = v }

// Wsectors records the number of sectors the inode occupies.
func (st *Stat_t) Wsectors(v uint) { st._sectors = v }

// Ino returns the stored inode number.
func (st *Stat_t) Ino() uint { return st._ino }

// Ftype returns the stored file type.
func (st *Stat_t) Ftype() Ftype_t { return Ftype_t(st._ftype) }

// Size returns the stored size.
func (st *Stat_t) Size() uint { return st._size }

// Sectors returns the stored sector count.
func (st *Stat_t) Sectors() uint { return st._sectors }

// Bytes exposes the raw bytes of the structure.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(&st._ino))
	return sl[:]
}
