// File: reactor/reactor_linux.go
// Package reactor wraps the Linux edge-triggered readiness primitive. The
// dispatcher owns one Reactor; devices are registered with the interest set
// of their active directions and identified by fd in the returned events.
// License: Apache-2.0

//go:build linux

package reactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Reactor is an epoll instance.
type Reactor struct {
	epfd int
}

// New creates the epoll instance.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Reactor{epfd: epfd}, nil
}

// Add registers fd with the given interest set.
func (r *Reactor) Add(fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

// Modify replaces the interest set of a registered fd.
func (r *Reactor) Modify(fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// Delete removes fd from the interest list.
func (r *Reactor) Delete(fd int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Pwait blocks until events are available, with sigmask installed for the
// duration of the wait. The signal is unmasked atomically with entering the
// wait, which is what makes a wakeup signal race-free: either the sender
// interrupts the wait, or the wait had not started and the caller re-checks
// its stop condition first. x/sys exposes no epoll_pwait wrapper, so this
// goes through the raw syscall.
func (r *Reactor) Pwait(events []unix.EpollEvent, sigmask *unix.Sigset_t) (int, error) {
	var evp unsafe.Pointer
	if len(events) > 0 {
		evp = unsafe.Pointer(&events[0])
	}
	n, _, errno := unix.Syscall6(unix.SYS_EPOLL_PWAIT,
		uintptr(r.epfd),
		uintptr(evp),
		uintptr(len(events)),
		uintptr(^uintptr(0)), // no timeout
		uintptr(unsafe.Pointer(sigmask)),
		8) // kernel sigset size
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// Close releases the epoll instance.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
