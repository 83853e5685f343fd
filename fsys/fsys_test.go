package fsys

import (
	"testing"

	"corekern/block"
	"corekern/defs"
	"corekern/inode"
	"corekern/ustr"
)

func mkfsys(t *testing.T, nsectors int) *Fsys {
	d := block.MkMemDisk(nsectors)
	fsys, err := Init(Config{Disk: d, Format: true})
	if err != 0 {
		t.Fatalf("init: %v", err)
	}
	return fsys
}

func TestSmallFileRoundTripFacade(t *testing.T) {
	fsys := mkfsys(t, 256)
	cwd := fsys.RootCwd()

	f, err := fsys.Create(cwd, ustr.Ustr("/hello"), 0, inode.T_FILE)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.Write([]byte("hi there")); err != 0 {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	f2, err := fsys.Open(cwd, ustr.Ustr("/hello"))
	if err != 0 {
		t.Fatalf("open: %v", err)
	}
	buf := make([]byte, 8)
	if _, err := f2.Read(buf); err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hi there" {
		t.Fatalf("got %q", buf)
	}
	f2.Close()
}

func TestDirectoryTreeFacade(t *testing.T) {
	fsys := mkfsys(t, 256)
	cwd := fsys.RootCwd()

	if err := fsys.Mkdir(cwd, ustr.Ustr("/d")); err != 0 {
		t.Fatalf("mkdir /d: %v", err)
	}
	if err := fsys.Mkdir(cwd, ustr.Ustr("/d/e")); err != 0 {
		t.Fatalf("mkdir /d/e: %v", err)
	}
	if err := fsys.Chdir(cwd, ustr.Ustr("/d/e")); err != 0 {
		t.Fatalf("chdir: %v", err)
	}
	f, err := fsys.Create(cwd, ustr.Ustr("../f"), 3, inode.T_FILE)
	if err != 0 {
		t.Fatalf("create ../f: %v", err)
	}
	f.Close()

	if _, err := fsys.Open(cwd, ustr.Ustr("/d/f")); err != 0 {
		t.Fatalf("open /d/f: %v", err)
	}
	if _, err := fsys.Open(cwd, ustr.Ustr("/d/e/f")); err == 0 {
		t.Fatal("expected /d/e/f to not exist")
	}
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	fsys := mkfsys(t, 256)
	cwd := fsys.RootCwd()
	fsys.Mkdir(cwd, ustr.Ustr("/d"))
	f, _ := fsys.Create(cwd, ustr.Ustr("/d/f"), 0, inode.T_FILE)
	f.Close()
	if err := fsys.Remove(cwd, ustr.Ustr("/d")); err != -defs.ENOTEMPTY {
		t.Fatalf("expected ENOTEMPTY, got %v", err)
	}
}

func TestStat(t *testing.T) {
	fsys := mkfsys(t, 256)
	cwd := fsys.RootCwd()
	f, _ := fsys.Create(cwd, ustr.Ustr("/f"), 0, inode.T_FILE)
	f.Write([]byte("0123456789"))
	f.Close()

	st, err := fsys.Stat(cwd, ustr.Ustr("/f"))
	if err != 0 {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != 10 {
		t.Fatalf("size = %d", st.Size())
	}
	if st.Ftype() != 1 {
		t.Fatalf("ftype = %v", st.Ftype())
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	fsys := mkfsys(t, 256)
	cwd := fsys.RootCwd()
	f, _ := fsys.Create(cwd, ustr.Ustr("/f"), 0, inode.T_FILE)
	f.Close()
	if _, err := fsys.Create(cwd, ustr.Ustr("/f"), 0, inode.T_FILE); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST, got %v", err)
	}
}
