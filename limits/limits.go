// Package limits tracks resource-accounting counters: a countdown
// from a configured capacity, claimed with Taken/Take and returned
// with Given/Give.
package limits

import "sync/atomic"

// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

// Syslimit_t holds capacity counters for the shared pools the storage
// and VM core draws from. The pools themselves do not consult these
// counters; their sizes are bounded by their own structures.
type Syslimit_t struct {
	// concurrently open inodes
	Vnodes Sysatomic_t
	// physical frames available to the frame table's user-page pool
	Frames Sysatomic_t
	// swap slots available in the swap area
	SwapSlots Sysatomic_t
	// cache slots in the buffer cache
	CacheSlots Sysatomic_t
}

// MkSysLimit returns a Syslimit_t initialized to the given capacities.
func MkSysLimit(vnodes, frames, swapSlots, cacheSlots int) *Syslimit_t {
	return &Syslimit_t{
		Vnodes:     Sysatomic_t(vnodes),
		Frames:     Sysatomic_t(frames),
		SwapSlots:  Sysatomic_t(swapSlots),
		CacheSlots: Sysatomic_t(cacheSlots),
	}
}

func (s *Sysatomic_t) aptr() *int64 {
	return (*int64)(s)
}

// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(s.aptr(), int64(n))
}

// Taken tries to decrement the limit by the provided amount. It
// returns true on success, leaving the counter unchanged on failure.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64(s.aptr(), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), int64(n))
	return false
}

// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

// Value returns the current counter value.
func (s *Sysatomic_t) Value() int64 {
	return atomic.LoadInt64(s.aptr())
}
