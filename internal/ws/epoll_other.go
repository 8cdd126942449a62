//go:build !linux

package ws

import (
	"errors"
	"net"
	"sync"
	"syscall"
)

// poller is the development fallback for platforms without epoll. Each
// socket gets a goroutine that hands it to the event loop once per Rearm, so
// a frame is never read by two workers. The worker then blocks in the frame
// read until input arrives or the read timeout fires.
type poller struct {
	mu      sync.Mutex
	armed   map[net.Conn]chan struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

func newPoller() (*poller, error) {
	return &poller{
		armed:   make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

func (p *poller) Add(conn net.Conn) error {
	arm := make(chan struct{}, 1)
	arm <- struct{}{}
	p.mu.Lock()
	p.armed[conn] = arm
	p.mu.Unlock()

	go func() {
		for {
			select {
			case _, ok := <-arm:
				if !ok {
					return
				}
			case <-p.done:
				return
			}
			select {
			case p.readyCh <- conn:
			case <-p.done:
				return
			}
		}
	}()
	return nil
}

func (p *poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	arm, ok := p.armed[conn]
	delete(p.armed, conn)
	p.mu.Unlock()
	if ok {
		close(arm)
	}
	return nil
}

// Rearm lets conn be reported again after its frame was handled.
func (p *poller) Rearm(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if arm, ok := p.armed[conn]; ok {
		select {
		case arm <- struct{}{}:
		default:
		}
	}
}

func (p *poller) Wait() ([]net.Conn, error) {
	select {
	case conn := <-p.readyCh:
		ready := []net.Conn{conn}
		for {
			select {
			case c := <-p.readyCh:
				ready = append(ready, c)
			default:
				return ready, nil
			}
		}
	case <-p.done:
		return nil, errors.New("ws: poller closed")
	}
}

func (p *poller) Close() error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return nil
}

func isEINTR(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
