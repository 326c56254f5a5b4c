//go:build darwin || freebsd

package netio

import "golang.org/x/sys/unix"

// kqueuePoller is the BSD/Darwin realization of poller, satisfying
// spec §4.9's "edge-or-level-triggered readiness" requirement with
// kqueue's level-triggered default.
type kqueuePoller struct {
	fd int
}

func newPoller() poller { return &kqueuePoller{} }

func (p *kqueuePoller) open(wake int) error {
	fd, err := unix.Kqueue()
	if err != nil {
		return err
	}
	p.fd = fd
	return p.watch(wake, true, false)
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func (p *kqueuePoller) watch(fd int, wantRead, wantWrite bool) error {
	changes := make([]unix.Kevent_t, 0, 2)
	if wantRead {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE))
	} else {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if wantWrite {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE))
	} else {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	// EV_DELETE on a filter that was never registered returns ENOENT;
	// that's expected whenever a socket only ever wanted one direction.
	unix.Kevent(p.fd, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) forget(fd int) error {
	changes := []unix.Kevent_t{
		kevent(fd, unix.EVFILT_READ, unix.EV_DELETE),
		kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE),
	}
	unix.Kevent(p.fd, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) wait(cb func(fd int, readable, writable, errored bool)) error {
	events := make([]unix.Kevent_t, 64)
	n, err := unix.Kevent(p.fd, nil, events, nil)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		e := events[i]
		fd := int(e.Ident)
		readable := e.Filter == unix.EVFILT_READ
		writable := e.Filter == unix.EVFILT_WRITE
		errored := e.Flags&unix.EV_EOF != 0 && e.Fflags != 0
		cb(fd, readable, writable, errored)
	}
	return nil
}

func (p *kqueuePoller) close() error { return unix.Close(p.fd) }
