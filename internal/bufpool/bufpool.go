// Package bufpool implements the receive-buffer pool described in
// spec.md §3/§4.4/§9: a bounded set of 64 KiB buffers shared by
// reference count between the socket domain (which owns the idle queue
// and posts receives) and zero or more in-flight forwarding sends. The
// last reference dropped recycles the buffer back to the idle queue.
//
// Generalizes the teacher's plain sync.Pool of byte slices
// (Dragon-Born-paqet/internal/pkg/buffer/buffer.go) into a refcounted
// object, since one inbound datagram here fans out to N pending sends
// instead of being consumed by exactly one reader.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// DatagramSize is the hard MTU cap from spec.md §6: UDP datagrams up to
// 64 KiB, and the fixed size of every pooled buffer.
const DatagramSize = 64 * 1024

// Buffer is a single pooled receive buffer. Callers obtain one from
// Pool.Get, fill Bytes()[:n] from a socket read, call Retain once per
// additional send that will reference it concurrently, and Release
// exactly once per Get/Retain call. The buffer returns to the pool's
// idle queue when the refcount reaches zero.
type Buffer struct {
	data [DatagramSize]byte
	pool *Pool
	refs atomic.Int32
}

// Bytes returns the full backing array as a slice. Callers slice it to
// the datagram length themselves (buf.Bytes()[:n]).
func (b *Buffer) Bytes() []byte { return b.data[:] }

// Retain adds one reference, e.g. when handing the buffer to an
// additional outbound send beyond the first.
func (b *Buffer) Retain() {
	b.refs.Add(1)
}

// Release drops one reference. When the last reference drops, the
// buffer is returned to its pool's idle queue (or, for a buffer obtained
// outside a Pool, simply discarded).
func (b *Buffer) Release() {
	if b.refs.Add(-1) == 0 && b.pool != nil {
		b.pool.put(b)
	}
}

// Pool is the bounded allocator described in spec.md §3 "Buffer pool":
// an ordered sequence of idle buffers, plus a count of all allocated
// (idle + in-flight) buffers, capped at MaxProcessQ. It grows lazily and
// never exceeds the cap.
type Pool struct {
	max       int
	mu        sync.Mutex
	idle      []*Buffer
	allocated int
}

// NewPool constructs a Pool allowing at most max simultaneously
// allocated buffers (idle + in-flight).
func NewPool(max int) *Pool {
	if max <= 0 {
		max = 1
	}
	return &Pool{max: max}
}

// Get returns an idle buffer if one exists, allocates a new one if the
// pool has not yet reached its cap, or reports ok=false if the pool is
// at capacity — the caller is expected to back off (spec.md §4.4 step 1:
// "pause the loop... and restart step 1 when it fires").
func (p *Pool) Get() (buf *Buffer, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.idle); n > 0 {
		buf = p.idle[n-1]
		p.idle = p.idle[:n-1]
		buf.refs.Store(1)
		return buf, true
	}

	if p.allocated >= p.max {
		return nil, false
	}

	p.allocated++
	buf = &Buffer{pool: p}
	buf.refs.Store(1)
	return buf, true
}

func (p *Pool) put(buf *Buffer) {
	p.mu.Lock()
	p.idle = append(p.idle, buf)
	p.mu.Unlock()
}

// Allocated reports the current count of idle+in-flight buffers, for
// diagnostics/logging ("resource pressure" logging in spec.md §7).
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Idle reports the current idle-queue depth.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// AtCapacity reports whether the pool cannot presently satisfy a Get
// without reuse of an idle buffer.
func (p *Pool) AtCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated >= p.max && len(p.idle) == 0
}
