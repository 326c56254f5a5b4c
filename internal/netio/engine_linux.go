//go:build linux

package netio

import "golang.org/x/sys/unix"

// epollPoller is the Linux realization of poller, using epoll in
// level-triggered mode (spec §4.9's "edge-or-level-triggered
// readiness" — level-triggered keeps the direct-write fast path and
// the I/O thread from ever disagreeing about pending bytes).
type epollPoller struct {
	fd int
}

func newPoller() poller { return &epollPoller{} }

func (p *epollPoller) open(wake int) error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.fd = fd
	return p.watch(wake, true, false)
}

func (p *epollPoller) watch(fd int, wantRead, wantWrite bool) error {
	var events uint32
	if wantRead {
		events |= unix.EPOLLIN
	}
	if wantWrite {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	return nil
}

func (p *epollPoller) forget(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(cb func(fd int, readable, writable, errored bool)) error {
	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(p.fd, events, -1)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		e := events[i]
		readable := e.Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0
		writable := e.Events&unix.EPOLLOUT != 0
		errored := e.Events&unix.EPOLLERR != 0
		cb(int(e.Fd), readable, writable, errored)
	}
	return nil
}

func (p *epollPoller) close() error { return unix.Close(p.fd) }
