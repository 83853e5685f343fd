package page

import (
	"sync"

	"corekern/defs"
	"corekern/mem"
)

// SoftPageTable is an in-memory PageTable_i standing in for a real
// CPU page directory, for tests and for any caller that has no actual
// hardware mapping to install into. It tracks installed mappings plus
// software accessed/dirty bits, the same role a simulator plays for
// original_source's Pintos-derived design, which has no page-table
// unit tests of its own for the same reason.
type SoftPageTable struct {
	mu        sync.Mutex
	installed map[int]*mem.Page
	writable  map[int]bool
	accessed  map[int]bool
	dirty     map[int]bool
}

// MkSoftPageTable returns an empty simulated page table.
func MkSoftPageTable() *SoftPageTable {
	return &SoftPageTable{
		installed: make(map[int]*mem.Page),
		writable:  make(map[int]bool),
		accessed:  make(map[int]bool),
		dirty:     make(map[int]bool),
	}
}

func (s *SoftPageTable) Install(upage int, data *mem.Page, writable bool) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installed[upage] = data
	s.writable[upage] = writable
	return 0
}

func (s *SoftPageTable) Clear(upage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.installed, upage)
	delete(s.accessed, upage)
	delete(s.dirty, upage)
}

func (s *SoftPageTable) Accessed(upage int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessed[upage]
}

func (s *SoftPageTable) ClearAccessed(upage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessed[upage] = false
}

func (s *SoftPageTable) Dirty(upage int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty[upage]
}

// Mapped reports whether upage currently has an installed mapping,
// and returns the frame data backing it.
func (s *SoftPageTable) Mapped(upage int) (*mem.Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.installed[upage]
	return d, ok
}

// SetAccessed and SetDirty let test code simulate hardware setting
// these bits on a real memory access.
func (s *SoftPageTable) SetAccessed(upage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessed[upage] = true
}

func (s *SoftPageTable) SetDirty(upage int, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[upage] = v
}

var _ PageTable_i = (*SoftPageTable)(nil)
