// Package bench implements the loopback throughput benchmark from
// spec.md §6 (benchmark/benchmark_duration), grounded directly on
// original_source/src/MiniPlex.cpp's Benchmark(): a pool of UDP sockets
// continuously fire fixed-size datagrams at the configured local
// endpoint, rate-limited to stay a fixed margin ahead of the observed
// receive count, for a fixed duration, then report total throughput.
package bench

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"miniplex/internal/flog"
)

// socketPoolSize mirrors Benchmark()'s sock_pool_count.
const socketPoolSize = 100

// datagramSize mirrors Benchmark()'s fixed 500-byte payload.
const datagramSize = 500

// txAheadMargin mirrors Benchmark()'s "assume os can buffer 50 packets"
// throttle: the benchmark never lets tx_count outrun rx_count by more
// than this many datagrams.
const txAheadMargin = 50

// Run fires datagrams at target for duration, tracking how many were
// received via rxCount (expected to be the Pipeline's receive counter,
// incremented by the same process under test), and logs the final
// throughput. It returns the total transmitted and received counts.
func Run(ctx context.Context, target *net.UDPAddr, duration time.Duration, rxCount *atomic.Uint64) (txTotal, rxTotal uint64) {
	sockets := make([]*net.UDPConn, 0, socketPoolSize)
	for i := 0; i < socketPoolSize; i++ {
		conn, err := net.DialUDP("udp", nil, target)
		if err != nil {
			flog.Errorf("bench: failed to open socket %d: %v", i, err)
			continue
		}
		defer conn.Close()
		sockets = append(sockets, conn)
	}
	if len(sockets) == 0 {
		flog.Errorf("bench: no sockets available, aborting benchmark")
		return 0, 0
	}

	payload := make([]byte, datagramSize)
	start := time.Now()
	var txCount uint64

	deadline := time.After(duration)
	for {
		select {
		case <-ctx.Done():
			goto done
		case <-deadline:
			goto done
		default:
		}

		if txCount < rxCount.Load()+txAheadMargin {
			sock := sockets[txCount%uint64(len(sockets))]
			txCount++
			sock.Write(payload)
		} else {
			time.Sleep(time.Millisecond)
		}
	}

done:
	elapsed := time.Since(start)
	rx := rxCount.Load()
	flog.Infof("benchmark complete: rx_count=%d tx_count=%d over %s", rx, txCount, elapsed)
	return txCount, rx
}
