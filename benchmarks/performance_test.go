//go:build unix

// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-net components.

package benchmarks

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/core/stream"
	"github.com/momentics/hioload-net/transport/tcp"
)

// BenchmarkGrowableAppendConsume measures the buffer round trip used by streams.
func BenchmarkGrowableAppendConsume(b *testing.B) {
	buf := buffer.New(0)
	chunk := make([]byte, 4096)
	b.SetBytes(int64(len(chunk)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Append(chunk)
		buf.ConsumeExactly(len(chunk))
	}
}

// BenchmarkMPSCPushDrain measures command queue throughput under contention.
func BenchmarkMPSCPushDrain(b *testing.B) {
	q := concurrency.NewMPSC[int](nil)
	done := make(chan struct{})
	go func() {
		var batch []int
		for {
			select {
			case <-done:
				return
			default:
				batch = q.Drain(batch[:0])
			}
		}
	}()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = q.Push(i)
			i++
		}
	})
	b.StopTimer()
	close(done)
}

// BenchmarkDuplexPipe measures flowing-mode delivery through a pipe.
func BenchmarkDuplexPipe(b *testing.B) {
	src, dst := stream.New(), stream.New()
	src.Pipe(dst)
	chunk := make([]byte, 1024)
	sink := make([]byte, 1024)
	b.SetBytes(int64(len(chunk)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = src.Write(chunk)
		_, _ = dst.ReadInto(sink)
	}
}

// BenchmarkLoopbackEcho measures request/response latency over the reactor.
func BenchmarkLoopbackEcho(b *testing.B) {
	pool := tcp.NewPool(tcp.WithPoolLogger(zerolog.Nop()))
	opts := []tcp.Option{tcp.WithPool(pool), tcp.WithLogger(zerolog.Nop())}

	l := tcp.NewListener("127.0.0.1:0", opts...)
	ready := make(chan struct{})
	l.OnListening(func() { close(ready) })
	l.OnConnection(func(c *tcp.Connection) { c.Pipe(c) })
	if err := l.Start(); err != nil {
		b.Fatal(err)
	}
	<-ready
	defer l.Stop()

	c := tcp.NewConnection(opts...)
	opened := make(chan struct{})
	c.OnOpen(func() { close(opened) })
	if err := c.Connect(l.Addr().String()); err != nil {
		b.Fatal(err)
	}
	select {
	case <-opened:
	case <-time.After(3 * time.Second):
		b.Fatal("connect timed out")
	}
	defer c.Terminate()

	payload := make([]byte, 512)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Write(payload); err != nil {
			b.Fatal(err)
		}
		if _, err := c.ReadExactly(len(payload)); err != nil {
			b.Fatal(err)
		}
	}
}
