//go:build linux

package session

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// epoll wraps Linux epoll syscalls for WebSocket I/O multiplexing: rather
// than spawning a goroutine per connection, file descriptors are registered
// with the kernel and the listener is woken only when data is ready.
type epoll struct {
	fd    int
	conns map[int]net.Conn
	mu    sync.RWMutex
	evs   []unix.EpollEvent
}

func newEpoll() (*epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &epoll{
		fd:    fd,
		conns: make(map[int]net.Conn),
		evs:   make([]unix.EpollEvent, 128),
	}, nil
}

// add registers conn for read-readiness notifications.
func (e *epoll) add(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.conns[fd] = conn
	e.mu.Unlock()
	return nil
}

// remove unregisters conn from epoll.
func (e *epoll) remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.conns, fd)
	e.mu.Unlock()
	return nil
}

// wait blocks until one or more registered connections are read-ready, and
// returns them. A connection removed between epoll_wait returning and the
// lookup below is silently skipped.
func (e *epoll) wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.evs, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	out := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.conns[int(e.evs[i].Fd)]; ok {
			out = append(out, conn)
		}
	}
	e.mu.RUnlock()
	return out, nil
}

func (e *epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns = nil
	return unix.Close(e.fd)
}

// socketFD extracts the underlying file descriptor from a net.Conn without
// duplicating it, so the original fd stays valid for epoll registration.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	_ = raw.Control(func(sfd uintptr) { fd = int(sfd) })
	return fd
}
