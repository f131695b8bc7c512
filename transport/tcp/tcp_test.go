//go:build unix

package tcp

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sockstate"
)

const waitFor = 3 * time.Second

func testPool(opts ...PoolOption) *Pool {
	base := []PoolOption{WithPollTimeout(10 * time.Millisecond), WithPoolLogger(zerolog.Nop())}
	return NewPool(append(base, opts...)...)
}

func startServer(t *testing.T, p *Pool, opts ...Option) (*Listener, chan *Connection) {
	t.Helper()
	opts = append([]Option{WithPool(p), WithLogger(zerolog.Nop())}, opts...)
	l := NewListener("127.0.0.1:0", opts...)
	conns := make(chan *Connection, 128)
	ready := make(chan struct{})
	l.OnListening(func() { close(ready) })
	l.OnConnection(func(c *Connection) { conns <- c })
	require.NoError(t, l.Start())
	select {
	case <-ready:
	case <-time.After(waitFor):
		t.Fatal("listener did not start")
	}
	return l, conns
}

func connect(t *testing.T, p *Pool, l *Listener, opts ...Option) *Connection {
	t.Helper()
	opts = append([]Option{WithPool(p), WithLogger(zerolog.Nop())}, opts...)
	c := NewConnection(opts...)
	opened := make(chan struct{})
	c.OnOpen(func() { close(opened) })
	require.NoError(t, c.Connect(l.Addr().String()))
	select {
	case <-opened:
	case <-time.After(waitFor):
		t.Fatal("connect timed out")
	}
	return c
}

func nextConn(t *testing.T, conns chan *Connection) *Connection {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("no connection accepted")
		return nil
	}
}

func closedChan(c *Connection) chan error {
	ch := make(chan error, 1)
	c.OnClose(func(err error) { ch <- err })
	return ch
}

func awaitClose(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitFor):
		t.Fatal("connection did not close")
		return nil
	}
}

// readToEnd collects everything c receives until the peer ends the stream.
func readToEnd(c *Connection) chan []byte {
	out := make(chan []byte, 1)
	go func() {
		var got []byte
		for {
			chunk, err := c.ReadAll()
			got = append(got, chunk...)
			if err != nil {
				out <- got
				return
			}
		}
	}()
	return out
}

func awaitBytes(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(waitFor):
		t.Fatal("stream did not end")
		return nil
	}
}

func requireReclaimed(t *testing.T, p *Pool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := Stats(p)
		return s.Threads == 0 && s.Sockets == 0
	}, waitFor, 5*time.Millisecond, "pool still holds resources: %+v", Stats(p))
}

func TestEndToEndExchange(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)

	client := connect(t, p, l)
	server := nextConn(t, conns)
	received := readToEnd(server)
	ended := make(chan struct{})
	server.OnEnd(func() { close(ended) })

	for _, n := range []int{1, 10, 100} {
		_, err := client.Write(bytes.Repeat([]byte{'x'}, n))
		require.NoError(t, err)
	}
	require.NoError(t, client.End())

	got := awaitBytes(t, received)
	assert.Len(t, got, 111)
	select {
	case <-ended:
	case <-time.After(waitFor):
		t.Fatal("End event missing")
	}

	_, err := client.Write([]byte("late"))
	assert.ErrorIs(t, err, api.ErrStreamEnded)

	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestEndToEndServerToClient(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)

	client := connect(t, p, l)
	server := nextConn(t, conns)
	clientClosed, serverClosed := closedChan(client), closedChan(server)
	received := readToEnd(client)

	for _, n := range []int{1, 10, 100} {
		_, err := server.Write(bytes.Repeat([]byte{'y'}, n))
		require.NoError(t, err)
	}
	require.NoError(t, server.End())

	got := awaitBytes(t, received)
	assert.Len(t, got, 111)
	assert.True(t, client.in.Ended())

	assert.NoError(t, awaitClose(t, serverClosed))
	assert.NoError(t, awaitClose(t, clientClosed))
	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestEndWhileDrainingKeepsQueuedBytes(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)

	client := connect(t, p, l)
	server := nextConn(t, conns)
	server.OnEnd(func() { _ = server.End() })
	clientClosed, serverClosed := closedChan(client), closedChan(server)
	received := readToEnd(client)

	payload := bytes.Repeat([]byte{'z'}, 8<<20)
	_, err := server.Write(payload)
	require.NoError(t, err)
	require.NoError(t, client.End())

	got := awaitBytes(t, received)
	assert.Equal(t, len(payload), len(got))
	assert.NoError(t, awaitClose(t, serverClosed))
	assert.NoError(t, awaitClose(t, clientClosed))

	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestHalfOpenDirectionsCloseIndependently(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p, WithAllowHalfOpen(true))

	client := connect(t, p, l, WithAllowHalfOpen(true))
	server := nextConn(t, conns)
	clientClosed, serverClosed := closedChan(client), closedChan(server)
	fromClient := readToEnd(server)

	_, err := client.Write([]byte("request"))
	require.NoError(t, err)
	require.NoError(t, client.End())
	assert.Equal(t, "request", string(awaitBytes(t, fromClient)))

	require.Eventually(t, func() bool {
		return server.currentHandle().State() == sockstate.ClientReadOnly &&
			client.currentHandle().State() == sockstate.ClientWriteOnly
	}, waitFor, time.Millisecond)

	// The server can still answer after the client's FIN.
	fromServer := readToEnd(client)
	_, err = server.Write([]byte("response"))
	require.NoError(t, err)
	require.NoError(t, server.End())
	assert.Equal(t, "response", string(awaitBytes(t, fromServer)))

	assert.NoError(t, awaitClose(t, clientClosed))
	assert.NoError(t, awaitClose(t, serverClosed))

	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestHalfOpenDisabledClosesBothDirections(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)

	client := connect(t, p, l)
	server := nextConn(t, conns)
	clientClosed, serverClosed := closedChan(client), closedChan(server)
	fromServer := readToEnd(client)

	require.NoError(t, client.End())

	assert.NoError(t, awaitClose(t, serverClosed))
	assert.NoError(t, awaitClose(t, clientClosed))
	assert.Empty(t, awaitBytes(t, fromServer))
	assert.True(t, server.Closed())

	_, err := server.Write([]byte("too late"))
	assert.ErrorIs(t, err, api.ErrStreamEnded)

	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestResourcesReclaimedForManyConnections(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)

	const n = 20
	var clients []*Connection
	var waits []chan error
	for i := 0; i < n; i++ {
		c := connect(t, p, l)
		clients = append(clients, c)
		waits = append(waits, closedChan(c))
		s := nextConn(t, conns)
		s.Pipe(s) // echo
		waits = append(waits, closedChan(s))

		_, err := c.Write([]byte("ping"))
		require.NoError(t, err)
		got, err := c.ReadExactly(4)
		require.NoError(t, err)
		require.Equal(t, "ping", string(got))
	}

	s := Stats(p)
	assert.Equal(t, 2*n+1, s.Sockets)
	assert.Equal(t, 1, s.Listeners)
	assert.Equal(t, 2*n, s.Clients)

	// Half-open is off, so each client FIN closes both sides.
	for _, c := range clients {
		require.NoError(t, c.End())
	}
	requireAllEnded(t, p, waits)
	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func requireAllEnded(t *testing.T, p *Pool, waits []chan error) {
	t.Helper()
	for _, ch := range waits {
		select {
		case err := <-ch:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatalf("connection still open: %+v", Stats(p))
		}
	}
}

func TestLoadIsSpreadAcrossThreads(t *testing.T) {
	p := testPool(WithMaxSocketsPerThread(4))
	l, conns := startServer(t, p)

	var clients []*Connection
	for i := 0; i < 10; i++ {
		clients = append(clients, connect(t, p, l))
		nextConn(t, conns)
	}

	s := Stats(p)
	assert.Greater(t, s.Threads, 1)
	for _, load := range s.Loads {
		assert.LessOrEqual(t, load, 4)
	}

	for _, c := range clients {
		c.Terminate()
	}
	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestBindEndpointOnlyWhileStopped(t *testing.T) {
	p := testPool()
	l, _ := startServer(t, p)
	assert.True(t, l.Listening())
	assert.ErrorIs(t, l.BindEndpoint("127.0.0.1:0"), api.ErrAlreadyListening)
	assert.ErrorIs(t, l.Start(), api.ErrAlreadyListening)

	closed := make(chan struct{})
	l.OnClose(func(error) { close(closed) })
	require.NoError(t, l.Stop())
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("listener did not close")
	}
	assert.NoError(t, l.BindEndpoint("127.0.0.1:0"))
	requireReclaimed(t, p)
}

func TestConnectErrorReportsCode(t *testing.T) {
	p := testPool()
	l, _ := startServer(t, p)
	addr := l.Addr().String()
	require.NoError(t, l.Stop())
	requireReclaimed(t, p)

	c := NewConnection(WithPool(p), WithLogger(zerolog.Nop()))
	codes := make(chan api.ErrorCode, 1)
	c.OnError(func(code api.ErrorCode, err error) { codes <- code })
	closed := closedChan(c)
	require.NoError(t, c.Connect(addr))

	err := awaitClose(t, closed)
	require.Error(t, err)
	assert.Equal(t, api.ErrCodeSocket, <-codes)
	assert.ErrorIs(t, c.Connect(addr), api.ErrInvalidState)
	requireReclaimed(t, p)
}

func TestPauseBuffersUntilResume(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)
	client := connect(t, p, l)
	server := nextConn(t, conns)

	var got bytes.Buffer
	data := make(chan struct{}, 8)
	client.Pause()
	client.OnData(func(b []byte) {
		got.Write(b)
		data <- struct{}{}
	})

	_, err := server.Write([]byte("held"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.in.Len() == 4 }, waitFor, time.Millisecond)
	assert.Zero(t, got.Len())

	client.Resume()
	<-data
	assert.Equal(t, "held", got.String())

	client.Terminate()
	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestIdleTimeoutEvent(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)
	client := connect(t, p, l)
	nextConn(t, conns)

	fired := make(chan struct{}, 1)
	client.OnTimeout(func() { fired <- struct{}{} })
	client.TimeoutAfter(20 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(waitFor):
		t.Fatal("timeout did not fire")
	}
	assert.False(t, client.Closed(), "timeout is advisory")

	client.Terminate()
	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestDrainFiresAfterFlush(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)
	client := connect(t, p, l)
	server := nextConn(t, conns)

	drained := make(chan struct{}, 1)
	client.OnDrain(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})
	payload := bytes.Repeat([]byte("z"), 256*1024)
	_, err := client.Write(payload)
	require.NoError(t, err)

	got, err := server.ReadExactly(len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	select {
	case <-drained:
	case <-time.After(waitFor):
		t.Fatal("drain did not fire")
	}

	client.Terminate()
	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}

func TestReadAfterEndDrainsThenFails(t *testing.T) {
	p := testPool()
	l, conns := startServer(t, p)
	client := connect(t, p, l)
	server := nextConn(t, conns)

	_, err := client.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, client.End())

	ended := make(chan struct{})
	server.OnEnd(func() { close(ended) })
	<-ended
	got, err := server.ReadExactly(4)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(got))
	_, err = server.ReadAll()
	assert.True(t, errors.Is(err, api.ErrStreamEnded))

	require.NoError(t, l.Stop())
	requireReclaimed(t, p)
}
