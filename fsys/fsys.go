// Package fsys is the file-system façade: init/format/mount, and the
// path-addressed operations (create, open, remove, mkdir, chdir,
// stat) every caller goes through. A single mutex serializes every
// entry point, grounded on original_source's filesys/filesys.c
// bootstrap and biscuit's fd.Cwd_t per-caller current-directory
// pattern.
package fsys

import (
	"sync"

	"corekern/block"
	"corekern/cache"
	"corekern/defs"
	"corekern/directory"
	"corekern/file"
	"corekern/freemap"
	"corekern/inode"
	"corekern/stat"
	"corekern/ustr"
)

// Cwd_t is a caller's current-directory handle: the sector of the
// directory it currently sits in, and the path used to reach it (for
// diagnostics). Every façade entry point takes one explicitly rather
// than consulting scheduler-owned thread-local state, which is out of
// scope here.
type Cwd_t struct {
	mu     sync.Mutex
	Sector int
	Path   ustr.Ustr
}

func (cw *Cwd_t) get() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.Sector
}

func (cw *Cwd_t) set(sector int, path ustr.Ustr) {
	cw.mu.Lock()
	cw.Sector = sector
	cw.Path = path
	cw.mu.Unlock()
}

// Config configures Init: the device to mount and whether to format
// it fresh.
type Config struct {
	Disk   block.Disk_i
	Format bool
}

// Fsys is the file-system façade.
type Fsys struct {
	mu         sync.Mutex
	c          *cache.Cache
	fm         *freemap.Freemap
	tbl        *inode.Table
	disk       block.Disk_i
	rootSector int
}

// Init binds a block device, initializing the buffer cache and
// free-map; if cfg.Format is set, it formats the device (a fresh
// free-map and a root directory with "."/".." populated) before
// opening the free-map for normal use. This mirrors spec.md §4.5's
// init(format).
func Init(cfg Config) (*Fsys, defs.Err_t) {
	nsectors := cfg.Disk.Nsectors()
	c := cache.MkCache(cfg.Disk)

	fsys := &Fsys{c: c, disk: cfg.Disk, tbl: inode.MkTable(), rootSector: freemap.RootDirSector}

	if cfg.Format {
		fsys.fm = freemap.Format(c, nsectors, 2)
		if err := directory.MkRoot(c, fsys.fm, freemap.RootDirSector); err != 0 {
			return nil, err
		}
		fsys.fm.Flush()
		c.Flush()
	} else {
		fsys.fm = freemap.Load(c, nsectors)
	}
	return fsys, 0
}

// RootCwd returns a Cwd_t seated at the root directory.
func (fsys *Fsys) RootCwd() *Cwd_t {
	return &Cwd_t{Sector: fsys.rootSector, Path: ustr.MkUstrRoot()}
}

// RootSector returns the root directory's inode sector.
func (fsys *Fsys) RootSector() int {
	return fsys.rootSector
}

// Cache exposes the underlying buffer cache (used by kernel's periodic
// flush task).
func (fsys *Fsys) Cache() *cache.Cache {
	return fsys.c
}

// Freemap exposes the free-map.
func (fsys *Fsys) Freemap() *freemap.Freemap {
	return fsys.fm
}

// Table exposes the open-inode table.
func (fsys *Fsys) Table() *inode.Table {
	return fsys.tbl
}

// resolve wraps directory.Parse using fsys.rootSector as the absolute
// root and cwd's current sector as the relative start.
func (fsys *Fsys) resolve(cwd *Cwd_t, path ustr.Ustr) (int, ustr.Ustr, defs.Err_t) {
	return directory.Parse(fsys.c, fsys.rootSector, cwd.get(), path)
}

// Create resolves path relative to cwd and creates a new inode of the
// given type and initial size in the containing directory. For
// directories, the new inode is also populated with "." and "..".
func (fsys *Fsys) Create(cwd *Cwd_t, path ustr.Ustr, size int, itype inode.Itype_t) (*file.File, defs.Err_t) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	containing, leaf, err := fsys.resolve(cwd, path)
	if err != 0 {
		return nil, err
	}
	if leaf.Isdot() {
		return nil, -defs.EEXIST
	}
	if _, found := directory.Lookup(fsys.c, containing, leaf); found {
		return nil, -defs.EEXIST
	}
	sector, ok := fsys.fm.AllocateOne()
	if !ok {
		return nil, -defs.ENOSPC
	}
	if err := inode.Create(fsys.c, fsys.fm, sector, size, itype); err != 0 {
		fsys.fm.Release(sector, 1)
		return nil, err
	}
	if itype == inode.T_DIR {
		if err := directory.Add(fsys.c, fsys.fm, sector, ustr.MkUstrDot(), sector); err != 0 {
			inode.Release(fsys.c, fsys.fm, sector)
			fsys.fm.Release(sector, 1)
			return nil, err
		}
		if err := directory.Add(fsys.c, fsys.fm, sector, ustr.DotDot, containing); err != 0 {
			inode.Release(fsys.c, fsys.fm, sector)
			fsys.fm.Release(sector, 1)
			return nil, err
		}
	}
	if err := directory.Add(fsys.c, fsys.fm, containing, leaf, sector); err != 0 {
		inode.Release(fsys.c, fsys.fm, sector)
		fsys.fm.Release(sector, 1)
		return nil, err
	}
	return file.Open(fsys.c, fsys.fm, fsys.tbl, sector)
}

// Mkdir is Create specialized for directories, reusing
// directory.MkSubdir for the "."/".." bootstrap.
func (fsys *Fsys) Mkdir(cwd *Cwd_t, path ustr.Ustr) defs.Err_t {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	containing, leaf, err := fsys.resolve(cwd, path)
	if err != 0 {
		return err
	}
	if leaf.Isdot() {
		return -defs.EEXIST
	}
	if _, found := directory.Lookup(fsys.c, containing, leaf); found {
		return -defs.EEXIST
	}
	sector, ok := fsys.fm.AllocateOne()
	if !ok {
		return -defs.ENOSPC
	}
	if err := directory.MkSubdir(fsys.c, fsys.fm, containing, sector); err != 0 {
		fsys.fm.Release(sector, 1)
		return err
	}
	if err := directory.Add(fsys.c, fsys.fm, containing, leaf, sector); err != 0 {
		inode.Release(fsys.c, fsys.fm, sector)
		fsys.fm.Release(sector, 1)
		return err
	}
	return 0
}

// Open resolves path relative to cwd and returns an open handle.
func (fsys *Fsys) Open(cwd *Cwd_t, path ustr.Ustr) (*file.File, defs.Err_t) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	containing, leaf, err := fsys.resolve(cwd, path)
	if err != 0 {
		return nil, err
	}
	sector := containing
	if !leaf.Isdot() {
		s, found := directory.Lookup(fsys.c, containing, leaf)
		if !found {
			return nil, -defs.ENOENT
		}
		sector = s
	}
	return file.Open(fsys.c, fsys.fm, fsys.tbl, sector)
}

// Remove resolves path relative to cwd and removes the leaf entry,
// refusing non-empty directories.
func (fsys *Fsys) Remove(cwd *Cwd_t, path ustr.Ustr) defs.Err_t {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	containing, leaf, err := fsys.resolve(cwd, path)
	if err != 0 {
		return err
	}
	if leaf.Isdot() {
		return -defs.EINVAL
	}
	return directory.Remove(fsys.c, fsys.fm, fsys.tbl, containing, leaf)
}

// Chdir resolves path relative to cwd and, if it names a directory,
// updates cwd in place.
func (fsys *Fsys) Chdir(cwd *Cwd_t, path ustr.Ustr) defs.Err_t {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	containing, leaf, err := fsys.resolve(cwd, path)
	if err != 0 {
		return err
	}
	sector := containing
	if !leaf.Isdot() {
		s, found := directory.Lookup(fsys.c, containing, leaf)
		if !found {
			return -defs.ENOENT
		}
		ftype, err := inode.ReadItype(fsys.c, s)
		if err != 0 {
			return err
		}
		if ftype != inode.T_DIR {
			return -defs.ENOTDIR
		}
		sector = s
	}
	cwd.set(sector, path)
	return 0
}

// Stat resolves path relative to cwd and returns its metadata.
func (fsys *Fsys) Stat(cwd *Cwd_t, path ustr.Ustr) (stat.Stat_t, defs.Err_t) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	var st stat.Stat_t
	containing, leaf, err := fsys.resolve(cwd, path)
	if err != 0 {
		return st, err
	}
	sector := containing
	if !leaf.Isdot() {
		s, found := directory.Lookup(fsys.c, containing, leaf)
		if !found {
			return st, -defs.ENOENT
		}
		sector = s
	}
	ftype, err := inode.ReadItype(fsys.c, sector)
	if err != 0 {
		return st, err
	}
	length, err := inode.Length(fsys.c, sector)
	if err != 0 {
		return st, err
	}
	st.Wino(uint(sector))
	if ftype == inode.T_DIR {
		st.Wftype(stat.T_DIR)
	} else {
		st.Wftype(stat.T_FILE)
	}
	st.Wsize(uint(length))
	st.Wsectors(uint((length + 511) / 512))
	return st, 0
}

// Done persists the free-map and flushes the buffer cache. Callers
// invoke this once at shutdown.
func (fsys *Fsys) Done() {
	fsys.fm.Flush()
	fsys.c.Flush()
}
