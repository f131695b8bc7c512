//go:build unix

package reactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/reactor"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerReportsReadable(t *testing.T) {
	p, err := reactor.NewPoller(16)
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	require.NoError(t, p.Add(a, reactor.InterestRead))

	events := make([]reactor.Event, 16)
	n, err := p.Wait(events, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	n, err = p.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, a, events[0].Fd)
	assert.NotZero(t, events[0].Ready&reactor.Readable)
}

func TestPollerModifyToWrite(t *testing.T) {
	p, err := reactor.NewPoller(16)
	require.NoError(t, err)
	defer p.Close()

	a, _ := socketPair(t)
	require.NoError(t, p.Add(a, reactor.InterestNone))
	require.NoError(t, p.Modify(a, reactor.InterestWrite))

	events := make([]reactor.Event, 16)
	n, err := p.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.NotZero(t, events[0].Ready&reactor.Writable)

	require.NoError(t, p.Remove(a))
	n, err = p.Wait(events, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPollerWakeInterruptsWait(t *testing.T) {
	p, err := reactor.NewPoller(16)
	require.NoError(t, err)
	defer p.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = p.Wake()
	}()

	start := time.Now()
	n, err := p.Wait(make([]reactor.Event, 4), 5*time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestPollerReportsPeerHangup(t *testing.T) {
	p, err := reactor.NewPoller(16)
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	require.NoError(t, p.Add(a, reactor.InterestRead))
	require.NoError(t, unix.Shutdown(b, unix.SHUT_WR))

	events := make([]reactor.Event, 16)
	n, err := p.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.NotZero(t, events[0].Ready&reactor.Readable)
}
