// Package directory implements the flat directory-entry format and
// path resolution, grounded on original_source's filesys/directory.c.
package directory

import (
	"corekern/cache"
	"corekern/defs"
	"corekern/freemap"
	"corekern/inode"
	"corekern/ustr"
	"corekern/util"
)

const (
	NameMax   = 14
	entrySize = 4 + (NameMax + 1) + 1 // inode_sector:4, name:15, in_use:1
	inoOff    = 0
	nameOff   = 4
	inuseOff  = 4 + NameMax + 1
)

func encodeEntry(childSector int, name ustr.Ustr, inUse bool) []uint8 {
	buf := make([]uint8, entrySize)
	util.Writen(buf, 4, inoOff, childSector)
	copy(buf[nameOff:nameOff+NameMax+1], name)
	if inUse {
		buf[inuseOff] = 1
	}
	return buf
}

func decodeEntry(buf []uint8) (childSector int, name ustr.Ustr, inUse bool) {
	childSector = util.Readn(buf, 4, inoOff)
	name = ustr.MkUstrSlice(buf[nameOff : nameOff+NameMax+1])
	inUse = buf[inuseOff] != 0
	return
}

func numSlots(c *cache.Cache, dirSector int) (int, defs.Err_t) {
	length, err := inode.Length(c, dirSector)
	if err != 0 {
		return 0, err
	}
	return length / entrySize, 0
}

func readSlot(c *cache.Cache, dirSector int, i int) ([]uint8, defs.Err_t) {
	buf := make([]uint8, entrySize)
	if _, err := inode.ReadAt(c, dirSector, buf, i*entrySize); err != 0 {
		return nil, err
	}
	return buf, 0
}

func writeSlot(c *cache.Cache, fm *freemap.Freemap, dirSector int, i int, buf []uint8) defs.Err_t {
	_, err := inode.WriteAt(c, fm, dirSector, buf, i*entrySize)
	return err
}

// Lookup linear-scans dirSector's entries for name, returning the
// child inode sector.
func Lookup(c *cache.Cache, dirSector int, name ustr.Ustr) (int, bool) {
	n, err := numSlots(c, dirSector)
	if err != 0 {
		return 0, false
	}
	for i := 0; i < n; i++ {
		buf, err := readSlot(c, dirSector, i)
		if err != 0 {
			return 0, false
		}
		child, ename, inUse := decodeEntry(buf)
		if inUse && ename.Eq(name) {
			return child, true
		}
	}
	return 0, false
}

// Add inserts a {name -> childSector} entry into dirSector's first
// free slot, or appends one. It fails with -EEXIST if name is already
// present and -ENAMETOOLONG if name exceeds 14 bytes.
func Add(c *cache.Cache, fm *freemap.Freemap, dirSector int, name ustr.Ustr, childSector int) defs.Err_t {
	if len(name) > NameMax {
		return -defs.ENAMETOOLONG
	}
	if name.IndexByte('/') != -1 {
		return -defs.EINVAL
	}
	n, err := numSlots(c, dirSector)
	if err != 0 {
		return err
	}
	freeSlot := -1
	for i := 0; i < n; i++ {
		buf, err := readSlot(c, dirSector, i)
		if err != 0 {
			return err
		}
		_, ename, inUse := decodeEntry(buf)
		if inUse && ename.Eq(name) {
			return -defs.EEXIST
		}
		if !inUse && freeSlot == -1 {
			freeSlot = i
		}
	}
	buf := encodeEntry(childSector, name, true)
	if freeSlot != -1 {
		return writeSlot(c, fm, dirSector, freeSlot, buf)
	}
	return writeSlot(c, fm, dirSector, n, buf)
}

// isEmpty reports whether dirSector (itself a directory) has no
// in-use entries other than "." and "..".
func isEmpty(c *cache.Cache, dirSector int) (bool, defs.Err_t) {
	n, err := numSlots(c, dirSector)
	if err != 0 {
		return false, err
	}
	for i := 0; i < n; i++ {
		buf, err := readSlot(c, dirSector, i)
		if err != 0 {
			return false, err
		}
		_, ename, inUse := decodeEntry(buf)
		if inUse && !ename.Isdot() && !ename.Isdotdot() {
			return false, 0
		}
	}
	return true, 0
}

// Remove looks name up in dirSector, opens the target inode, and (if
// the target is a directory) refuses removal unless it is empty of
// everything but "."/".." (spec.md §9 / SPEC_FULL §F.8.3 — otherwise
// the target's sectors would leak). On success the containing slot is
// marked free and the target inode is marked removed in the open
// table, releasing its sectors once its open count reaches zero.
func Remove(c *cache.Cache, fm *freemap.Freemap, tbl *inode.Table, dirSector int, name ustr.Ustr) defs.Err_t {
	n, err := numSlots(c, dirSector)
	if err != 0 {
		return err
	}
	slot := -1
	var childSector int
	for i := 0; i < n; i++ {
		buf, err := readSlot(c, dirSector, i)
		if err != 0 {
			return err
		}
		cs, ename, inUse := decodeEntry(buf)
		if inUse && ename.Eq(name) {
			slot = i
			childSector = cs
			break
		}
	}
	if slot == -1 {
		return -defs.ENOENT
	}

	child, err := tbl.Open(c, childSector)
	if err != 0 {
		return err
	}
	if child.Itype == inode.T_DIR {
		empty, err := isEmpty(c, childSector)
		if err != 0 {
			tbl.Close(c, fm, child)
			return err
		}
		if !empty {
			tbl.Close(c, fm, child)
			return -defs.ENOTEMPTY
		}
	}

	buf := encodeEntry(0, ustr.MkUstr(), false)
	if err := writeSlot(c, fm, dirSector, slot, buf); err != 0 {
		tbl.Close(c, fm, child)
		return err
	}
	child.MarkRemoved()
	return tbl.Close(c, fm, child)
}

// MkRoot creates the root directory inode at rootSector, populated
// with "." and ".." both pointing at itself (the orphan root has no
// true parent).
func MkRoot(c *cache.Cache, fm *freemap.Freemap, rootSector int) defs.Err_t {
	if err := inode.Create(c, fm, rootSector, 0, inode.T_DIR); err != 0 {
		return err
	}
	if err := Add(c, fm, rootSector, ustr.MkUstrDot(), rootSector); err != 0 {
		return err
	}
	return Add(c, fm, rootSector, ustr.DotDot, rootSector)
}

// MkSubdir creates a new, empty directory inode at childSector whose
// parent is parentSector, populated with "." and "..".
func MkSubdir(c *cache.Cache, fm *freemap.Freemap, parentSector int, childSector int) defs.Err_t {
	if err := inode.Create(c, fm, childSector, 0, inode.T_DIR); err != 0 {
		return err
	}
	if err := Add(c, fm, childSector, ustr.MkUstrDot(), childSector); err != 0 {
		return err
	}
	return Add(c, fm, childSector, ustr.DotDot, parentSector)
}

// Parse resolves path against rootSector/cwdSector per spec.md §4.4:
// leading slashes select the root and advance past them; a path that
// is nothing but slashes (or empty) resolves to the starting
// directory itself with leaf "."; a trailing slash with a non-empty
// leaf is rejected; every component but the last must name an
// existing directory. It returns the containing directory's sector
// and the unresolved leaf name — the caller performs the final
// lookup/create/remove on that leaf within the returned directory.
func Parse(c *cache.Cache, rootSector int, cwdSector int, path ustr.Ustr) (int, ustr.Ustr, defs.Err_t) {
	start := cwdSector
	if path.IsAbsolute() {
		start = rootSector
	}

	trimmed := path
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if len(trimmed) == 0 {
		return start, ustr.MkUstrDot(), 0
	}
	if len(trimmed) < len(path) {
		return 0, nil, -defs.EINVAL
	}

	var comps []ustr.Ustr
	rest := trimmed
	for {
		h, r, ok := rest.Split()
		if !ok {
			break
		}
		comps = append(comps, h)
		rest = r
	}
	if len(comps) == 0 {
		return start, ustr.MkUstrDot(), 0
	}

	cur := start
	for i := 0; i < len(comps)-1; i++ {
		childSector, found := Lookup(c, cur, comps[i])
		if !found {
			return 0, nil, -defs.ENOENT
		}
		ftype, err := inode.ReadItype(c, childSector)
		if err != 0 {
			return 0, nil, err
		}
		if ftype != inode.T_DIR {
			return 0, nil, -defs.ENOTDIR
		}
		cur = childSector
	}
	return cur, comps[len(comps)-1], 0
}
