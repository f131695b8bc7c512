package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/control"
)

func TestConfigNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{MaxSocketsPerThread: -1, ReadChunk: 4096}
	cfg.normalize()
	def := DefaultConfig()

	assert.Equal(t, def.MaxSocketsPerThread, cfg.MaxSocketsPerThread)
	assert.Equal(t, 4096, cfg.ReadChunk)
	assert.Equal(t, def.PollTimeout, cfg.PollTimeout)
	assert.Equal(t, def.ListenBacklog, cfg.ListenBacklog)
	require.NotNil(t, cfg.Logger)
}

func TestWatchConfigAppliesReloads(t *testing.T) {
	p := NewPool(WithLogger(zerolog.Nop()))
	cs := control.NewConfigStore()
	cs.SetConfigSync(map[string]any{control.KeyMaxSocketsPerThread: 3})

	p.WatchConfig(cs)
	assert.Equal(t, 3, p.MaxSocketsPerThread())

	cs.SetConfigSync(map[string]any{
		control.KeyMaxSocketsPerThread: 0,
		control.KeyPollTimeout:         "7ms",
		control.KeyIdleQuantum:         time.Millisecond,
	})
	assert.Equal(t, 3, p.MaxSocketsPerThread(), "non-positive caps are ignored")
	assert.Equal(t, 7*time.Millisecond, p.PollTimeout())
	assert.Equal(t, time.Millisecond, p.IdleQuantum())
}

func TestPoolPublishesMetricsAndProbes(t *testing.T) {
	reg := control.NewMetricsRegistry()
	dp := control.NewDebugProbes()
	p := NewPool(WithLogger(zerolog.Nop()), WithMetrics(reg), WithProbes(dp))

	assert.Equal(t, 0, reg.GetSnapshot()[control.MetricThreads])
	state := dp.DumpState()
	assert.Contains(t, state, "reactor.loads")
	assert.Contains(t, state, "platform.cpus")
	assert.Empty(t, p.Stats().Loads)
}

func TestDefaultPoolIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}
