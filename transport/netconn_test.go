//go:build unix

package transport

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/transport/tcp"
)

func muxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = nil
	cfg.Logger = log.New(io.Discard, "", log.LstdFlags)
	return cfg
}

func TestYamuxSessionOverReactor(t *testing.T) {
	p := tcp.NewPool(tcp.WithPollTimeout(10*time.Millisecond), tcp.WithPoolLogger(zerolog.Nop()))
	opts := []tcp.Option{tcp.WithPool(p), tcp.WithLogger(zerolog.Nop())}

	l := tcp.NewListener("127.0.0.1:0", opts...)
	ready := make(chan struct{})
	l.OnListening(func() { close(ready) })
	serverErr := make(chan error, 1)
	l.OnConnection(func(c *tcp.Connection) {
		go func() {
			sess, err := yamux.Server(NewNetConn(c), muxConfig())
			if err != nil {
				serverErr <- err
				return
			}
			defer sess.Close()
			st, err := sess.Accept()
			if err != nil {
				serverErr <- err
				return
			}
			_, err = io.Copy(st, st)
			st.Close()
			serverErr <- err
		}()
	})
	require.NoError(t, l.Start())
	<-ready

	c := tcp.NewConnection(opts...)
	opened := make(chan struct{})
	c.OnOpen(func() { close(opened) })
	require.NoError(t, c.Connect(l.Addr().String()))
	select {
	case <-opened:
	case <-time.After(3 * time.Second):
		t.Fatal("connect timed out")
	}

	nc := NewNetConn(c)
	assert.Equal(t, l.Addr().String(), nc.RemoteAddr().String())

	sess, err := yamux.Client(nc, muxConfig())
	require.NoError(t, err)
	st, err := sess.Open()
	require.NoError(t, err)

	_, err = st.Write([]byte("hello over yamux"))
	require.NoError(t, err)
	buf := make([]byte, len("hello over yamux"))
	_, err = io.ReadFull(st, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello over yamux", string(buf))

	require.NoError(t, st.Close())
	select {
	case err := <-serverErr:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server stream did not finish")
	}
	require.NoError(t, sess.Close())
	require.NoError(t, l.Stop())

	require.Eventually(t, func() bool {
		s := tcp.Stats(p)
		return s.Threads == 0 && s.Sockets == 0
	}, 5*time.Second, 5*time.Millisecond)
}
