// Package strand implements a single-consumer serial task queue: a
// "strand" in the asio sense, or an actor mailbox. Tasks posted to the
// same Strand run strictly in submission order and never overlap. Each
// Strand is drained by its own goroutine, so tasks on different Strands
// may run concurrently.
package strand

import "sync"

// Strand serializes execution of posted tasks. The zero value is not
// usable; construct one with New.
type Strand struct {
	tasks  chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// New starts a Strand with a backlog of the given depth and a single
// goroutine draining it. Depth 0 behaves as an unbuffered handoff.
func New(depth int) *Strand {
	if depth < 0 {
		depth = 0
	}
	s := &Strand{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Strand) run() {
	defer s.wg.Done()
	for {
		select {
		case fn, ok := <-s.tasks:
			if !ok {
				return
			}
			fn()
		case <-s.done:
			// Drain whatever is already queued before exiting, so work
			// posted before Close is observed is never silently dropped.
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post submits fn to run on the strand. It never blocks the caller past
// the queue depth; if the strand has been closed, Post is a no-op.
func (s *Strand) Post(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// PostWait submits fn and blocks until it has run.
func (s *Strand) PostWait(fn func()) {
	done := make(chan struct{})
	s.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Close stops accepting new tasks and waits for the drain goroutine to
// finish running whatever was already queued.
func (s *Strand) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
}
