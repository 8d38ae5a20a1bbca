// Package pipeline implements the Datagram Pipeline from spec.md §4.4:
// the receive loop that owns the UDP socket and buffer pool on the
// socket domain, and posts each received datagram to the processing
// domain for the Forwarding Engine to dispatch.
//
// Grounded on the teacher's internal/forward/udp.go receive loop
// (ReadFromUDP in a for-loop, ctx.Done()-driven shutdown via a closer
// goroutine, SetReadBuffer sizing) and internal/server/udp.go's pattern
// of a long-lived goroutine driving one net.UDPConn. Where spec.md calls
// for pausing "by waiting on socket writability" as a cheap retry
// trigger -- an asio idiom with no Go net.UDPConn equivalent -- this
// uses a short fixed backoff timer instead.
package pipeline

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"miniplex/internal/bufpool"
	"miniplex/internal/endpoint"
	"miniplex/internal/flog"
	"miniplex/internal/forwarding"
	"miniplex/internal/strand"
)

// backpressureRetry is how long the receive loop waits before retrying
// pool.Get() once MaxProcessQ in-flight buffers are outstanding.
const backpressureRetry = 2 * time.Millisecond

// readDeadlineSlice bounds each ReadFromUDP call so the loop reliably
// observes context cancellation instead of blocking forever on a
// socket with no traffic.
const readDeadlineSlice = 250 * time.Millisecond

// Pipeline owns the UDP socket and buffer pool (the socket domain) and
// drives datagrams into the Forwarding Engine on the processing domain.
type Pipeline struct {
	conn *net.UDPConn
	pool *bufpool.Pool

	socketStrand  *strand.Strand
	processStrand *strand.Strand
	engine        *forwarding.Engine

	// rxCount, if non-nil, is incremented once per successfully received
	// datagram -- used by internal/bench to report throughput the same
	// way original_source/src/MiniPlex.cpp's Benchmark() reads rx_count.
	rxCount *atomic.Uint64
}

// New constructs a Pipeline bound to an already-listening conn.
func New(conn *net.UDPConn, pool *bufpool.Pool, socketStrand, processStrand *strand.Strand, engine *forwarding.Engine) *Pipeline {
	return &Pipeline{
		conn:          conn,
		pool:          pool,
		socketStrand:  socketStrand,
		processStrand: processStrand,
		engine:        engine,
	}
}

// SetRxCounter attaches a counter incremented once per received
// datagram, read by internal/bench to report throughput.
func (p *Pipeline) SetRxCounter(counter *atomic.Uint64) {
	p.rxCount = counter
}

// Run executes the receive loop (spec.md §4.4 steps 1-4) until ctx is
// canceled. It returns nil on clean cancellation and a non-nil error
// only for an unrecoverable socket failure.
func (p *Pipeline) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		buf, ok := p.pool.Get()
		if !ok {
			flog.Debugf("pipeline: buffer pool at capacity (%d allocated), pausing receive", p.pool.Allocated())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backpressureRetry):
			}
			continue
		}

		p.conn.SetReadDeadline(time.Now().Add(readDeadlineSlice))
		n, addr, err := p.conn.ReadFromUDP(buf.Bytes())
		if err != nil {
			buf.Release()
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			flog.Errorf("pipeline: read error: %v", err)
			continue
		}
		if n == 0 {
			buf.Release()
			continue
		}
		if p.rxCount != nil {
			p.rxCount.Add(1)
		}

		sender, err := endpoint.FromUDPAddr(addr)
		if err != nil {
			flog.Errorf("pipeline: could not resolve sender endpoint: %v", err)
			buf.Release()
			continue
		}
		data := buf.Bytes()[:n]

		p.processStrand.Post(func() {
			p.handle(sender, data, buf)
		})
	}
}

func (p *Pipeline) handle(sender endpoint.Endpoint, data []byte, buf *bufpool.Buffer) {
	targets, err := p.engine.Dispatch(sender, data)
	if err != nil {
		flog.Debugf("pipeline: dropping datagram from %s: %v", sender, err)
		buf.Release()
		return
	}

	for _, target := range targets {
		target := target
		buf.Retain()
		p.socketStrand.Post(func() {
			defer buf.Release()
			if _, err := p.conn.WriteToUDP(data, target.UDPAddr()); err != nil {
				flog.Debugf("pipeline: send to %s failed: %v", target, err)
			}
		})
	}
	buf.Release()
}
