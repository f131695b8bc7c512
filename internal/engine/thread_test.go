//go:build unix

package engine

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBytesAfterLocalInboundEndAreLogged(t *testing.T) {
	var logs syncBuffer
	p := testPool(WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))
	srv, l := startListener(t, p, false)

	h, c := dial(t, p, srv.LocalAddr().String())
	var peer accepted
	select {
	case peer = <-l.accepted:
	case <-time.After(waitFor):
		t.Fatal("no connection accepted")
	}
	require.NoError(t, peer.conn.in.End())

	_, err := c.out.Write([]byte("late"))
	require.NoError(t, err)
	h.NotifyWritable()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "dropping received bytes")
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, peer.conn.in.Len())
	select {
	case err := <-peer.conn.closed:
		t.Fatalf("socket torn down: %v", err)
	default:
	}

	require.NoError(t, h.Terminate(nil))
	_ = peer.handle.Terminate(nil)
	require.NoError(t, srv.StopListening())
	waitClosed(t, c)
	waitClosed(t, peer.conn)
	requireDrained(t, p)
}
