// File: internal/engine/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor pool: the registry of live reactor threads and the least-loaded
// assignment policy. Threads are spawned on demand and leave the registry
// on their own once their socket set drains.

package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/internal/sockstate"
	"github.com/momentics/hioload-net/reactor"
)

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Threads   int
	Sockets   int
	Listeners int
	Clients   int
	// Loads lists per-thread assigned handle counts in registry order.
	Loads []int
}

// Pool owns the reactor threads.
type Pool struct {
	cfg Config
	log zerolog.Logger

	mu           sync.Mutex
	threads      []*Thread
	nextThreadID int

	maxPerThread atomic.Int64
	pollTimeout  atomic.Int64
	idleQuantum  atomic.Int64

	sockets   atomic.Int64
	listeners atomic.Int64
	clients   atomic.Int64
	accepted  atomic.Int64
	failures  atomic.Int64

	nextHandleID atomic.Uint64

	pubMu sync.Mutex
}

// NewPool creates an empty pool. No thread runs until the first socket is
// assigned.
func NewPool(opts ...Option) *Pool {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.normalize()

	p := &Pool{cfg: cfg, log: *cfg.Logger}
	p.maxPerThread.Store(int64(cfg.MaxSocketsPerThread))
	p.pollTimeout.Store(int64(cfg.PollTimeout))
	p.idleQuantum.Store(int64(cfg.IdleQuantum))

	if cfg.Probes != nil {
		control.RegisterPlatformProbes(cfg.Probes)
		cfg.Probes.RegisterProbe("reactor.loads", func() any { return p.Stats().Loads })
	}
	p.publish()
	return p
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// Default returns the process-wide pool, created on first use.
func Default() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool()
	})
	return defaultPool
}

// Logger returns the pool logger.
func (p *Pool) Logger() zerolog.Logger { return p.log }

// MaxSocketsPerThread returns the current per-thread cap.
func (p *Pool) MaxSocketsPerThread() int { return int(p.maxPerThread.Load()) }

// SetMaxSocketsPerThread changes the cap for future assignments.
func (p *Pool) SetMaxSocketsPerThread(n int) {
	if n > 0 {
		p.maxPerThread.Store(int64(n))
	}
}

// PollTimeout returns the bounded readiness wait.
func (p *Pool) PollTimeout() time.Duration { return time.Duration(p.pollTimeout.Load()) }

// IdleQuantum returns the sleep used when no socket needs readiness.
func (p *Pool) IdleQuantum() time.Duration { return time.Duration(p.idleQuantum.Load()) }

// WatchConfig applies reactor tunables from cs now and on every reload.
func (p *Pool) WatchConfig(cs *control.ConfigStore) {
	apply := func() {
		if n, ok := cs.GetInt(control.KeyMaxSocketsPerThread); ok {
			p.SetMaxSocketsPerThread(n)
		}
		if d, ok := cs.GetDuration(control.KeyPollTimeout); ok && d > 0 {
			p.pollTimeout.Store(int64(d))
		}
		if d, ok := cs.GetDuration(control.KeyIdleQuantum); ok && d > 0 {
			p.idleQuantum.Store(int64(d))
		}
		p.log.Debug().Int("max_per_thread", p.MaxSocketsPerThread()).Msg("[reactor] config applied")
	}
	cs.OnReload(apply)
	apply()
}

// AssignBest returns the least-loaded live thread still under the cap,
// spawning a new one when none qualifies. The returned thread's load already
// counts the caller's socket.
func (p *Pool) AssignBest() (*Thread, error) {
	p.mu.Lock()
	limit := int32(p.maxPerThread.Load())
	var best *Thread
	for _, t := range p.threads {
		if t.retired {
			continue
		}
		l := t.load.Load()
		if l >= limit {
			continue
		}
		if best == nil || l < best.load.Load() {
			best = t
		}
	}
	if best == nil {
		poller, err := reactor.NewPoller(p.cfg.MaxEvents)
		if err != nil {
			p.mu.Unlock()
			return nil, api.NewError(api.ErrCodeResourceExhausted, "spawn reactor thread").WithCause(err)
		}
		best = newThread(p, p.nextThreadID, poller)
		p.nextThreadID++
		p.threads = append(p.threads, best)
		go best.run()
		p.log.Debug().Int("thread", best.id).Int("threads", len(p.threads)).Msg("[reactor] thread spawned")
	}
	best.load.Add(1)
	p.mu.Unlock()
	p.publish()
	return best, nil
}

// Remove deregisters t. Its loop keeps running until its sockets are gone.
func (p *Pool) Remove(t *Thread) {
	p.mu.Lock()
	p.removeLocked(t)
	p.mu.Unlock()
	p.publish()
}

func (p *Pool) removeLocked(t *Thread) {
	t.retired = true
	for i, x := range p.threads {
		if x == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			return
		}
	}
}

// retire deregisters t if nothing is assigned to it anymore. After a
// successful retire the thread's command queue rejects new commands.
func (p *Pool) retire(t *Thread) bool {
	p.mu.Lock()
	if t.load.Load() != 0 {
		p.mu.Unlock()
		return false
	}
	p.removeLocked(t)
	t.cmds.Close()
	p.mu.Unlock()
	p.publish()
	return true
}

func (p *Pool) release(t *Thread) {
	t.load.Add(-1)
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	loads := make([]int, 0, len(p.threads))
	for _, t := range p.threads {
		loads = append(loads, t.Load())
	}
	p.mu.Unlock()
	return Stats{
		Threads:   len(loads),
		Sockets:   int(p.sockets.Load()),
		Listeners: int(p.listeners.Load()),
		Clients:   int(p.clients.Load()),
		Loads:     loads,
	}
}

// NewClient creates a client handle owned by owner on the least-loaded
// thread. setup runs before the handle is attached.
func (p *Pool) NewClient(owner ConnOwner, setup ...func(*Handle)) (*Handle, error) {
	return p.newClient(owner, -1, setup)
}

// Adopt wraps an accepted, connected descriptor into a client handle.
func (p *Pool) Adopt(fd int, owner ConnOwner, setup ...func(*Handle)) (*Handle, error) {
	return p.newClient(owner, fd, setup)
}

func (p *Pool) newClient(owner ConnOwner, fd int, setup []func(*Handle)) (*Handle, error) {
	t, err := p.AssignBest()
	if err != nil {
		return nil, err
	}
	h := newHandle(p, t)
	h.conn = owner
	for _, fn := range setup {
		fn(h)
	}
	if err := h.post(sockstate.OpAttachAsClient, Payload{FD: fd}); err != nil {
		p.release(t)
		return nil, err
	}
	return h, nil
}

// NewServer creates a listening-socket handle owned by owner.
func (p *Pool) NewServer(owner ListenOwner) (*Handle, error) {
	t, err := p.AssignBest()
	if err != nil {
		return nil, err
	}
	h := newHandle(p, t)
	h.listener = owner
	if err := h.post(sockstate.OpAttachAsServer, Payload{FD: -1}); err != nil {
		p.release(t)
		return nil, err
	}
	return h, nil
}

func (p *Pool) attached(h *Handle) {
	p.sockets.Add(1)
	if h.listener != nil {
		p.listeners.Add(1)
	} else {
		p.clients.Add(1)
	}
	p.publish()
}

func (p *Pool) detach(h *Handle) {
	p.sockets.Add(-1)
	if h.listener != nil {
		p.listeners.Add(-1)
	} else {
		p.clients.Add(-1)
	}
	p.publish()
}

func (p *Pool) countAccepted() {
	p.accepted.Add(1)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.Add(control.MetricAccepted, 1)
	}
}

func (p *Pool) countError() {
	p.failures.Add(1)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.Add(control.MetricErrors, 1)
	}
}

// publish mirrors the gauges into the metrics registry.
func (p *Pool) publish() {
	reg := p.cfg.Metrics
	if reg == nil {
		return
	}
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	p.mu.Lock()
	threads := len(p.threads)
	p.mu.Unlock()
	reg.Set(control.MetricThreads, threads)
	reg.Set(control.MetricSockets, int(p.sockets.Load()))
	reg.Set(control.MetricListeners, int(p.listeners.Load()))
	reg.Set(control.MetricClients, int(p.clients.Load()))
}
