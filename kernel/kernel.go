// Package kernel wires the storage and memory subsystems together and
// owns their lifecycle: init, the periodic buffer-cache flush, and
// panic diagnostics. Grounded on spec.md §4.5's init/done pair and
// biscuit's boot-time "construct every subsystem from a config
// struct" shape (the boot sequence itself — device probing, SMP
// bring-up — is out of scope per spec.md §1). The diagnostic ring
// buffer is adapted from circbuf.Circbuf_t's head/tail modulo
// indexing, trimmed from its byte-oriented, page-backed TCP role down
// to a small fixed ring of formatted log lines.
package kernel

import (
	"fmt"
	"sync"
	"time"

	"corekern/block"
	"corekern/caller"
	"corekern/defs"
	"corekern/fsys"
	"corekern/limits"
	"corekern/page"
	"corekern/swap"
)

// ringSize is the number of most-recent diagnostic lines retained.
const ringSize = 64

// diagRing is a small fixed-capacity ring of formatted log lines,
// flushed to stdout when a panic is caught.
type diagRing struct {
	mu   sync.Mutex
	buf  [ringSize]string
	head int
	n    int
}

func (r *diagRing) record(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = fmt.Sprintf(format, args...)
	r.head = (r.head + 1) % ringSize
	if r.n < ringSize {
		r.n++
	}
}

// dump returns the retained lines oldest-first.
func (r *diagRing) dump() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.n)
	start := (r.head - r.n + ringSize) % ringSize
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(start+i)%ringSize]
	}
	return out
}

// Config bundles what Init needs: the two block devices (file-system
// and swap, spec.md §6's "two instances"), the user-page pool size,
// whether to format the file-system device, and the buffer-cache
// flush interval (spec.md §4.1's "50 ticks" reimagined as a
// time.Duration — there is no kernel tick counter outside a real
// timer-interrupt-driven kernel).
type Config struct {
	FsDisk        block.Disk_i
	SwapDisk      block.Disk_i
	Format        bool
	FramePoolSize int
	MaxVnodes     int
	FlushInterval time.Duration
}

// defaultMaxVnodes is used when Config.MaxVnodes is left at zero.
const defaultMaxVnodes = 128

// Kernel_t owns every subsystem instance and the background flush
// task's lifecycle.
type Kernel_t struct {
	Fsys       *fsys.Fsys
	FrameTable *page.FrameTable
	Swap       *swap.Swap
	Limits     *limits.Syslimit_t
	Distinct   caller.Distinct_caller_t

	diag      diagRing
	stopFlush chan struct{}
	flushDone chan struct{}
}

// Init constructs every subsystem and starts the periodic
// buffer-cache flush task.
func Init(cfg Config) (*Kernel_t, defs.Err_t) {
	fs, err := fsys.Init(fsys.Config{Disk: cfg.FsDisk, Format: cfg.Format})
	if err != 0 {
		return nil, err
	}
	sw := swap.Init(cfg.SwapDisk)
	ft := page.MkFrameTable(cfg.FramePoolSize, sw)
	maxVnodes := cfg.MaxVnodes
	if maxVnodes == 0 {
		maxVnodes = defaultMaxVnodes
	}
	lim := limits.MkSysLimit(maxVnodes, cfg.FramePoolSize, sw.Nslots(), 64)

	k := &Kernel_t{
		Fsys:       fs,
		FrameTable: ft,
		Swap:       sw,
		Limits:     lim,
		stopFlush:  make(chan struct{}),
		flushDone:  make(chan struct{}),
	}
	k.Distinct.Enabled = true

	go k.flushLoop(cfg.FlushInterval)
	return k, 0
}

// flushLoop periodically flushes the buffer cache until Done stops it.
func (k *Kernel_t) flushLoop(interval time.Duration) {
	defer close(k.flushDone)
	defer k.PanicHandler()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			k.Fsys.Cache().Flush()
		case <-k.stopFlush:
			return
		}
	}
}

// Done stops the flush task and performs one final flush.
func (k *Kernel_t) Done() {
	close(k.stopFlush)
	<-k.flushDone
	k.Fsys.Done()
}

// Log records a formatted diagnostic line in the ring buffer.
func (k *Kernel_t) Log(format string, args ...interface{}) {
	k.diag.record(format, args...)
}

// PanicHandler is deferred by any goroutine this kernel owns. On a
// recovered panic it prints the diagnostic ring and a stack dump,
// then re-panics — per spec.md §7, "a kernel panic prints diagnostics
// and halts" rather than silently continuing.
func (k *Kernel_t) PanicHandler() {
	r := recover()
	if r == nil {
		return
	}
	fmt.Printf("kernel panic: %v\n", r)
	for _, line := range k.diag.dump() {
		fmt.Printf("diag: %s\n", line)
	}
	caller.Callerdump(2)
	panic(r)
}
