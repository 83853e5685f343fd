// Package fdops defines the narrow operation set both the file-system
// façade's open files and the VM layer's reopened mmap handles
// implement, mirroring how fd.Fd_t's Fdops_i argument is used
// throughout the teacher corpus.
package fdops

import "corekern/defs"

// Fdops_i is the core operation set exposed to the user-process layer
// on an open file.
type Fdops_i interface {
	// ReadAt reads into dst starting at offset, returning the number
	// of bytes read (short on EOF).
	ReadAt(dst []uint8, offset int) (int, defs.Err_t)
	// WriteAt writes src starting at offset, extending the file if
	// necessary.
	WriteAt(src []uint8, offset int) (int, defs.Err_t)
	// Len reports the file's current length in bytes.
	Len() (int, defs.Err_t)
	// Reopen increments the handle's reference count (a second
	// independent user of the same underlying inode).
	Reopen() defs.Err_t
	// Close decrements the reference count, releasing the underlying
	// inode once it reaches zero.
	Close() defs.Err_t
}
