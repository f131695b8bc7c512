//go:build unix && !linux

// File: reactor/reactor_poll.go
// Author: momentics <momentics@gmail.com>
//
// poll(2)-based poller for unix systems without epoll. The pollfd set is
// rebuilt from the registered interests on every Wait.

package reactor

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type pollPoller struct {
	mu        sync.Mutex
	interests map[int]Interest
	fds       []unix.PollFd
	pipe      [2]int
}

// NewPoller constructs the platform poller for non-Linux unix systems.
func NewPoller(maxEvents int) (Poller, error) {
	var pipe [2]int
	if err := unix.Pipe(pipe[:]); err != nil {
		return nil, fmt.Errorf("wakeup pipe: %w", err)
	}
	for _, fd := range pipe {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(pipe[0])
			unix.Close(pipe[1])
			return nil, fmt.Errorf("wakeup pipe nonblock: %w", err)
		}
		unix.CloseOnExec(fd)
	}
	return &pollPoller{
		interests: make(map[int]Interest),
		pipe:      pipe,
	}, nil
}

func (p *pollPoller) Add(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.interests[fd]; ok {
		return fmt.Errorf("poll add: fd %d already registered", fd)
	}
	p.interests[fd] = interest
	return nil
}

func (p *pollPoller) Modify(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.interests[fd]; !ok {
		return fmt.Errorf("poll modify: fd %d not registered", fd)
	}
	p.interests[fd] = interest
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.interests, fd)
	return nil
}

func (p *pollPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	p.mu.Lock()
	fds := append(p.fds[:0], unix.PollFd{Fd: int32(p.pipe[0]), Events: unix.POLLIN})
	for fd, interest := range p.interests {
		var mask int16
		if interest&InterestRead != 0 {
			mask |= unix.POLLIN
		}
		if interest&InterestWrite != 0 {
			mask |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: mask})
	}
	p.fds = fds
	p.mu.Unlock()

	n, err := unix.Poll(fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	count := 0
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == p.pipe[0] {
			p.drainWakeup()
			continue
		}
		if count == len(events) {
			break
		}
		var ready Readiness
		if pfd.Revents&unix.POLLIN != 0 {
			ready |= Readable
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			ready |= Writable
		}
		if pfd.Revents&unix.POLLHUP != 0 {
			ready |= Hangup
		}
		if pfd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			ready |= Failed
		}
		events[count] = Event{Fd: int(pfd.Fd), Ready: ready}
		count++
	}
	return count, nil
}

func (p *pollPoller) Wake() error {
	_, err := unix.Write(p.pipe[1], []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *pollPoller) drainWakeup() {
	var buf [64]byte
	for {
		if n, err := unix.Read(p.pipe[0], buf[:]); n <= 0 || err != nil {
			return
		}
	}
}

func (p *pollPoller) Close() error {
	unix.Close(p.pipe[1])
	return unix.Close(p.pipe[0])
}
